// Package sdn provisions the software-defined networks of a sandbox
// session: one simple zone plus its VNets and subnets.
package sdn

import (
	"fmt"
	"math/rand"
	"net/netip"

	"github.com/jcreedy/pvesandbox/internal/config"
	"github.com/jcreedy/pvesandbox/internal/netutil"
	"github.com/jcreedy/pvesandbox/internal/platform/proxmox"
	"github.com/jcreedy/pvesandbox/internal/provisioning"
	"github.com/jcreedy/pvesandbox/internal/tracker"
	"github.com/jcreedy/pvesandbox/internal/util/naming"
)

// Provisioner handles session network creation.
type Provisioner struct {
	// rnd shuffles the automatic allocation pool so concurrent sessions
	// spread across it.
	rnd *rand.Rand
}

// NewProvisioner creates a new sdn provisioner.
func NewProvisioner() *Provisioner {
	return &Provisioner{rnd: rand.New(rand.NewSource(rand.Int63()))}
}

// Name implements provisioning.Phase.
func (p *Provisioner) Name() string {
	return "sdn"
}

// Provision creates the session's networks according to the SDN mode and
// records the alias resolution table in the shared state. Pre-existing
// VNets are always resolvable; session networks shadow them on alias
// collision.
func (p *Provisioner) Provision(ctx *provisioning.Context) error {
	if err := p.loadExisting(ctx); err != nil {
		return err
	}

	switch ctx.Config.SDN.Mode {
	case config.SDNNone:
		return nil
	case config.SDNAuto:
		return p.provisionAuto(ctx)
	case config.SDNCustom:
		return p.provisionCustom(ctx)
	default:
		return fmt.Errorf("unknown sdn mode %q", ctx.Config.SDN.Mode)
	}
}

// loadExisting maps every pre-existing VNet into the resolution table,
// by id and by alias.
func (p *Provisioner) loadExisting(ctx *provisioning.Context) error {
	vnets, err := ctx.API.ListVnets(ctx)
	if err != nil {
		return fmt.Errorf("listing vnets: %w", err)
	}
	for _, v := range vnets {
		ctx.State.VnetByAlias[v.Vnet] = v.Vnet
		if v.Alias != "" {
			ctx.State.VnetByAlias[v.Alias] = v.Vnet
		}
	}
	return nil
}

// existingPrefixes collects the subnets of every existing VNet. Allocation
// and overlap validation both compare against this set.
func (p *Provisioner) existingPrefixes(ctx *provisioning.Context) ([]netip.Prefix, error) {
	vnets, err := ctx.API.ListVnets(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing vnets: %w", err)
	}

	var prefixes []netip.Prefix
	for _, v := range vnets {
		subnets, err := ctx.API.ListSubnets(ctx, v.Vnet)
		if err != nil {
			return nil, fmt.Errorf("listing subnets of %s: %w", v.Vnet, err)
		}
		for _, s := range subnets {
			prefix, err := netip.ParsePrefix(s.CIDR)
			if err != nil {
				continue // foreign subnet with an unparsable cidr, not ours to judge
			}
			prefixes = append(prefixes, prefix)
		}
	}
	return prefixes, nil
}

// provisionAuto allocates a free /24 from the reserved pool and creates a
// single SNAT + DHCP network on it.
func (p *Provisioner) provisionAuto(ctx *provisioning.Context) error {
	existing, err := p.existingPrefixes(ctx)
	if err != nil {
		return err
	}

	var chosen netip.Prefix
	for _, candidate := range netutil.AutoCandidates(p.rnd) {
		if _, _, overlap := netutil.FindOverlap([]netip.Prefix{candidate}, existing); !overlap {
			chosen = candidate
			break
		}
	}
	if !chosen.IsValid() {
		return fmt.Errorf("automatic allocation pool exhausted: every candidate overlaps an existing subnet")
	}

	gateway := netutil.Gateway(chosen)
	dhcpStart, dhcpEnd := netutil.DHCPRange(chosen)

	ctx.Observer.Printf("[sdn] allocated %s", chosen)

	return p.createNetworks(ctx, []config.VnetConfig{{
		Subnets: []config.SubnetConfig{{
			CIDR:       chosen.String(),
			Gateway:    gateway.String(),
			SNAT:       true,
			DHCPRanges: []config.DHCPRange{{Start: dhcpStart.String(), End: dhcpEnd.String()}},
		}},
	}}, true)
}

// provisionCustom validates the declared subnets against existing ones and
// creates them.
func (p *Provisioner) provisionCustom(ctx *provisioning.Context) error {
	existing, err := p.existingPrefixes(ctx)
	if err != nil {
		return err
	}

	var requested []netip.Prefix
	for _, v := range ctx.Config.SDN.Vnets {
		for _, sub := range v.Subnets {
			// Parse errors were caught by config validation.
			requested = append(requested, netip.MustParsePrefix(sub.CIDR))
		}
	}
	if r, e, overlap := netutil.FindOverlap(requested, existing); overlap {
		return &provisioning.OverlappingSubnetError{Requested: r.String(), Existing: e.String()}
	}

	return p.createNetworks(ctx, ctx.Config.SDN.Vnets, ctx.Config.SDN.SharedDHCP())
}

// createNetworks creates the zone, its VNets and subnets, then applies the
// pending SDN change set and waits for the reload.
func (p *Provisioner) createNetworks(ctx *provisioning.Context, vnets []config.VnetConfig, sharedDHCP bool) error {
	zoneID := naming.Zone(ctx.State.Prefix)

	zone := proxmox.ZoneInfo{Zone: zoneID, Type: "simple", IPAM: "pve"}
	if sharedDHCP {
		zone.DHCP = "dnsmasq"
	}

	// Registered right after the call goes out, so an interrupt between
	// request and response still gets the zone swept.
	err := ctx.API.CreateZone(ctx, zone)
	ctx.Registry.Register(tracker.KindZone, zoneID)
	if err != nil {
		return fmt.Errorf("creating zone %s: %w", zoneID, err)
	}
	ctx.State.ZoneID = zoneID

	for i, v := range vnets {
		vnetID := naming.Vnet(ctx.State.Prefix, i)
		if err := ctx.API.CreateVnet(ctx, proxmox.VnetInfo{Vnet: vnetID, Zone: zoneID, Alias: v.Alias}); err != nil {
			return fmt.Errorf("creating vnet %s: %w", vnetID, err)
		}

		for _, sub := range v.Subnets {
			subnet := proxmox.SubnetInfo{
				CIDR:    sub.CIDR,
				Gateway: sub.Gateway,
				SNAT:    sub.SNAT,
			}
			for _, r := range sub.DHCPRanges {
				subnet.DHCPRanges = append(subnet.DHCPRanges, proxmox.DHCPRange{Start: r.Start, End: r.End})
			}
			if err := ctx.API.CreateSubnet(ctx, vnetID, subnet); err != nil {
				return fmt.Errorf("creating subnet %s on %s: %w", sub.CIDR, vnetID, err)
			}
		}

		ctx.State.VnetIDs = append(ctx.State.VnetIDs, vnetID)
		ctx.State.VnetByAlias[vnetID] = vnetID
		if v.Alias != "" {
			ctx.State.VnetByAlias[v.Alias] = vnetID
		}
	}

	upid, err := ctx.API.ApplySDN(ctx)
	if err != nil {
		return fmt.Errorf("applying sdn changes: %w", err)
	}
	if err := ctx.Wait(upid, ctx.Timeouts.TaskShort); err != nil {
		return fmt.Errorf("waiting for sdn reload: %w", err)
	}

	ctx.Observer.Printf("[sdn] zone %s ready with %d vnet(s)", zoneID, len(vnets))
	return nil
}
