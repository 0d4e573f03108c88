package destroy

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jcreedy/pvesandbox/internal/config"
	"github.com/jcreedy/pvesandbox/internal/platform/proxmox"
	"github.com/jcreedy/pvesandbox/internal/provisioning"
	"github.com/jcreedy/pvesandbox/internal/tracker"
	"github.com/jcreedy/pvesandbox/internal/util/naming"
	"github.com/jcreedy/pvesandbox/internal/util/tags"
)

// Orphans are sandbox-owned resources found on the platform without
// consulting any local state. Templates are excluded: they are a shared
// cache, not session resources.
type Orphans struct {
	VMs   []proxmox.VM
	Zones []proxmox.ZoneInfo
}

// Empty reports whether nothing was found.
func (o Orphans) Empty() bool {
	return len(o.VMs) == 0 && len(o.Zones) == 0
}

// FindOrphans lists all sandbox resources left on the platform: marker-tagged
// non-template VMs and session-pattern zones. The reserved built-in zone
// never matches the session pattern, so it is never swept.
func FindOrphans(ctx context.Context, api proxmox.API) (Orphans, error) {
	var orphans Orphans

	vms, err := api.ListVMs(ctx)
	if err != nil {
		return Orphans{}, fmt.Errorf("listing vms: %w", err)
	}
	for _, vm := range vms {
		if !vm.Template && tags.Has(vm.Tags, tags.Marker) {
			orphans.VMs = append(orphans.VMs, vm)
		}
	}

	zones, err := api.ListZones(ctx)
	if err != nil {
		return Orphans{}, fmt.Errorf("listing zones: %w", err)
	}
	for _, zone := range zones {
		if naming.IsSessionZone(zone.Zone) {
			orphans.Zones = append(orphans.Zones, zone)
		}
	}

	return orphans, nil
}

// Purge removes the given orphans through the regular teardown path.
func Purge(
	ctx context.Context,
	api proxmox.API,
	orphans Orphans,
	obs provisioning.Observer,
	timeouts *config.Timeouts,
) *Report {
	reg := tracker.New()
	for _, vm := range orphans.VMs {
		reg.Register(tracker.KindVM, strconv.Itoa(vm.VMID))
	}
	for _, zone := range orphans.Zones {
		reg.Register(tracker.KindZone, zone.Zone)
	}
	return Teardown(ctx, api, reg, obs, timeouts)
}
