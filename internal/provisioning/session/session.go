// Package session orchestrates a full sandbox session: prefix selection,
// the provisioning pipeline, and the result handed back to the caller.
package session

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/jcreedy/pvesandbox/internal/config"
	"github.com/jcreedy/pvesandbox/internal/platform/proxmox"
	"github.com/jcreedy/pvesandbox/internal/provisioning"
	"github.com/jcreedy/pvesandbox/internal/provisioning/sdn"
	"github.com/jcreedy/pvesandbox/internal/provisioning/vm"
	"github.com/jcreedy/pvesandbox/internal/tracker"
	"github.com/jcreedy/pvesandbox/internal/util/naming"
)

// prefixAttempts bounds the search for an unused session prefix. Named
// sessions share their letter part, leaving 1000 digit combinations; random
// prefixes have 26^3 times that.
const prefixAttempts = 100

// Result is what a successful session hands back.
type Result struct {
	Prefix string                  `yaml:"prefix"`
	ZoneID string                  `yaml:"zone,omitempty"`
	VMs    []provisioning.VMResult `yaml:"vms"`
}

// Options tunes a session run. The zero value is usable.
type Options struct {
	Observer    provisioning.Observer
	FileStorage string
	DiskStorage string
	// Name seeds the letter part of the session prefix, so the session's
	// platform resources are recognizable. Empty picks random letters.
	Name string
	// Rand drives prefix selection; defaults to a time-seeded source.
	Rand *rand.Rand
}

// Provision creates a complete sandbox session. Everything it creates is
// registered in reg before the creating call is confirmed, so the caller
// can hand reg to destroy.Teardown on any failure or interrupt and get a
// clean platform back.
func Provision(
	ctx context.Context,
	cfg *config.SandboxConfig,
	api proxmox.API,
	reg *tracker.Registry,
	opts Options,
) (*Result, error) {
	rnd := opts.Rand
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	prefix, err := pickPrefix(ctx, api, rnd, opts.Name)
	if err != nil {
		return nil, err
	}

	pctx := provisioning.NewContext(ctx, cfg, api, reg)
	pctx.State.Prefix = prefix
	if opts.Observer != nil {
		pctx.Observer = opts.Observer
	}
	if opts.FileStorage != "" {
		pctx.FileStorage = opts.FileStorage
	}
	if opts.DiskStorage != "" {
		pctx.DiskStorage = opts.DiskStorage
	}

	pctx.Observer.Printf("[session] provisioning session %s", prefix)

	phases := []provisioning.Phase{
		sdn.NewProvisioner(),
		vm.NewProvisioner(),
	}
	if err := provisioning.RunPhases(pctx, phases); err != nil {
		return nil, err
	}

	return &Result{
		Prefix: prefix,
		ZoneID: pctx.State.ZoneID,
		VMs:    pctx.State.VMResults(),
	}, nil
}

// pickPrefix finds a session prefix whose derived zone id is not taken.
// Collisions with session zones of concurrent runs are possible between the
// check and the zone create; the create then fails and teardown cleans up.
func pickPrefix(ctx context.Context, api proxmox.API, rnd *rand.Rand, name string) (string, error) {
	zones, err := api.ListZones(ctx)
	if err != nil {
		return "", fmt.Errorf("listing zones: %w", err)
	}
	taken := make(map[string]bool, len(zones))
	for _, z := range zones {
		taken[z.Zone] = true
	}

	for i := 0; i < prefixAttempts; i++ {
		prefix := naming.NewSessionPrefix(rnd, name)
		if !taken[naming.Zone(prefix)] {
			return prefix, nil
		}
	}
	return "", fmt.Errorf("no free session prefix after %d attempts", prefixAttempts)
}
