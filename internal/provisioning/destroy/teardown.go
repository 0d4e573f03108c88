// Package destroy tears down session resources: the tracked teardown used
// by up and down, and the marker-based sweep for sessions whose tracking
// process is gone.
package destroy

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jcreedy/pvesandbox/internal/config"
	"github.com/jcreedy/pvesandbox/internal/platform/proxmox"
	"github.com/jcreedy/pvesandbox/internal/provisioning"
	"github.com/jcreedy/pvesandbox/internal/tracker"
	"github.com/jcreedy/pvesandbox/internal/util/naming"
	"github.com/jcreedy/pvesandbox/internal/util/tags"
)

// Failure is one resource that could not be removed.
type Failure struct {
	Resource tracker.Resource
	Err      error
}

// Report summarizes a teardown run: every resource confirmed removed (or
// already gone) and every one that could not be removed.
type Report struct {
	VMs       int // VMs removed
	Zones     int // zones removed, including their vnets and subnets
	Succeeded []tracker.Resource
	Failures  []Failure
}

// Err returns an aggregate error, or nil when everything was removed.
func (r *Report) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	parts := make([]string, len(r.Failures))
	for i, f := range r.Failures {
		parts[i] = fmt.Sprintf("%s %s: %v", f.Resource.Kind, f.Resource.ID, f.Err)
	}
	return fmt.Errorf("%d resource(s) not removed: %s", len(r.Failures), strings.Join(parts, "; "))
}

// Teardown removes everything the registry tracked. It drains the registry
// exactly once, so a second call is a no-op, and a failure on one resource
// never stops the others. VMs go first: a zone cannot be deleted while a VM
// still bridges one of its vnets.
func Teardown(
	ctx context.Context,
	api proxmox.API,
	reg *tracker.Registry,
	obs provisioning.Observer,
	timeouts *config.Timeouts,
) *Report {
	report := &Report{}

	var vms, zones []tracker.Resource
	for _, res := range reg.Drain() {
		switch res.Kind {
		case tracker.KindVM:
			vms = append(vms, res)
		case tracker.KindZone:
			zones = append(zones, res)
		}
	}

	for _, res := range vms {
		if err := deleteVM(ctx, api, res.ID, obs, timeouts); err != nil {
			report.Failures = append(report.Failures, Failure{Resource: res, Err: err})
			continue
		}
		report.VMs++
		report.Succeeded = append(report.Succeeded, res)
	}

	for _, res := range zones {
		if err := deleteZone(ctx, api, res.ID, obs); err != nil {
			report.Failures = append(report.Failures, Failure{Resource: res, Err: err})
			continue
		}
		report.Zones++
		report.Succeeded = append(report.Succeeded, res)
	}

	if len(zones) > 0 {
		if err := applySDN(ctx, api, timeouts); err != nil {
			obs.Printf("[destroy] applying network changes: %v", err)
		}
	}

	return report
}

// deleteVM stops and removes one VM. A VM that is already gone counts as
// removed: registration happens before the create call confirms, so the
// registry may name ids that never materialized.
func deleteVM(ctx context.Context, api proxmox.API, id string, obs provisioning.Observer, timeouts *config.Timeouts) error {
	vmid, err := strconv.Atoi(id)
	if err != nil {
		return fmt.Errorf("bad vm id %q: %w", id, err)
	}

	status, err := api.VMStatus(ctx, vmid)
	if err != nil {
		if proxmox.IsNotFound(err) {
			obs.Printf("[destroy] vm %d already gone", vmid)
			return nil
		}
		return fmt.Errorf("reading status: %w", err)
	}

	if status == "running" {
		upid, err := api.StopVM(ctx, vmid)
		if err != nil {
			return fmt.Errorf("stopping: %w", err)
		}
		if err := waitShort(ctx, api, upid, timeouts); err != nil {
			return fmt.Errorf("waiting for stop: %w", err)
		}
	}

	upid, err := api.DeleteVM(ctx, vmid)
	if err != nil {
		return fmt.Errorf("deleting: %w", err)
	}
	if err := waitShort(ctx, api, upid, timeouts); err != nil {
		return fmt.Errorf("waiting for delete: %w", err)
	}
	obs.Printf("[destroy] removed vm %d", vmid)
	return nil
}

// deleteZone removes a zone with all its vnets and subnets, innermost first.
func deleteZone(ctx context.Context, api proxmox.API, zoneID string, obs provisioning.Observer) error {
	vnets, err := api.ListVnets(ctx)
	if err != nil {
		return fmt.Errorf("listing vnets: %w", err)
	}

	for _, vnet := range vnets {
		if vnet.Zone != zoneID {
			continue
		}
		subnets, err := api.ListSubnets(ctx, vnet.Vnet)
		if err != nil {
			return fmt.Errorf("listing subnets of %s: %w", vnet.Vnet, err)
		}
		for _, subnet := range subnets {
			if err := api.DeleteSubnet(ctx, vnet.Vnet, subnet.ID); err != nil && !proxmox.IsNotFound(err) {
				return fmt.Errorf("deleting subnet %s: %w", subnet.ID, err)
			}
		}
		if err := api.DeleteVnet(ctx, vnet.Vnet); err != nil && !proxmox.IsNotFound(err) {
			return fmt.Errorf("deleting vnet %s: %w", vnet.Vnet, err)
		}
	}

	if err := api.DeleteZone(ctx, zoneID); err != nil && !proxmox.IsNotFound(err) {
		return fmt.Errorf("deleting zone: %w", err)
	}
	obs.Printf("[destroy] removed zone %s", zoneID)
	return nil
}

func applySDN(ctx context.Context, api proxmox.API, timeouts *config.Timeouts) error {
	upid, err := api.ApplySDN(ctx)
	if err != nil {
		return err
	}
	return waitShort(ctx, api, upid, timeouts)
}

func waitShort(ctx context.Context, api proxmox.API, upid proxmox.UPID, timeouts *config.Timeouts) error {
	return proxmox.WaitTask(ctx, api, upid, timeouts.TaskShort,
		proxmox.WithStatusRetries(timeouts.RetryMaxAttempts, timeouts.RetryInitialDelay))
}

// FindSession scans the platform for a session's resources and returns a
// registry ready for Teardown. This is how down recovers a session created
// by a process that no longer exists.
func FindSession(ctx context.Context, api proxmox.API, prefix string) (*tracker.Registry, error) {
	if !naming.IsSessionPrefix(prefix) {
		return nil, fmt.Errorf("%q is not a session prefix", prefix)
	}

	reg := tracker.New()

	vms, err := api.ListVMs(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing vms: %w", err)
	}
	for _, vm := range vms {
		if vm.Template {
			continue
		}
		if tags.Has(vm.Tags, tags.Marker) && tags.Has(vm.Tags, prefix) {
			reg.Register(tracker.KindVM, strconv.Itoa(vm.VMID))
		}
	}

	zones, err := api.ListZones(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing zones: %w", err)
	}
	zoneID := naming.Zone(prefix)
	for _, zone := range zones {
		if zone.Zone == zoneID {
			reg.Register(tracker.KindZone, zoneID)
		}
	}

	return reg, nil
}
