package config

import (
	"fmt"
	"net/netip"

	"github.com/jcreedy/pvesandbox/internal/netutil"
	"github.com/jcreedy/pvesandbox/internal/util/naming"
)

// Validate checks the session request without touching the platform.
// Everything it rejects would otherwise fail mid-provisioning and leave
// partial resources behind.
func (c *SandboxConfig) Validate() error {
	if len(c.VMs) == 0 {
		return fmt.Errorf("at least one VM is required")
	}

	seen := map[string]int{}
	for i, vm := range c.VMs {
		if vm.Name != "" {
			if !naming.IsDNSLabel(vm.Name) {
				return fmt.Errorf("vm %d: name %q is not a valid DNS label", i, vm.Name)
			}
			if prev, dup := seen[vm.Name]; dup {
				return fmt.Errorf("vm %d: name %q already used by vm %d", i, vm.Name, prev)
			}
			seen[vm.Name] = i
		}

		if vm.Source.Kind() == SourceUnknown {
			return fmt.Errorf("vm %d: source must set exactly one of builtIn, ovaPath, existingTemplateTag, existingBackupName", i)
		}
		if vm.RAMMB < 16 {
			return fmt.Errorf("vm %d: ramMB %d is below the platform minimum", i, vm.RAMMB)
		}
		if vm.VCPUs < 1 {
			return fmt.Errorf("vm %d: vcpus must be at least 1", i)
		}
		switch vm.DiskController {
		case "", "scsi", "ide":
		default:
			return fmt.Errorf("vm %d: diskController must be scsi or ide, got %q", i, vm.DiskController)
		}
		// Disks of cloned templates and restored backups already sit on a
		// bus; the controller is only chosen when an OVA is imported.
		if vm.DiskController != "" && vm.Source.Kind() != SourceOVA {
			return fmt.Errorf("vm %d: diskController is only supported for ovaPath sources", i)
		}
		switch vm.NICController {
		case "", "virtio", "e1000":
		default:
			return fmt.Errorf("vm %d: nicController must be virtio or e1000, got %q", i, vm.NICController)
		}
		if vm.NICs != nil {
			for j, nic := range *vm.NICs {
				if nic.Vnet == "" {
					return fmt.Errorf("vm %d: nic %d: vnet must not be empty", i, j)
				}
			}
		}
	}

	return c.validateSDN()
}

func (c *SandboxConfig) validateSDN() error {
	switch c.SDN.Mode {
	case SDNNone, SDNAuto:
		if len(c.SDN.Vnets) > 0 {
			return fmt.Errorf("sdn: vnets may only be declared in custom mode")
		}
		return nil
	case SDNCustom:
	default:
		return fmt.Errorf("sdn: unknown mode %q", c.SDN.Mode)
	}

	if len(c.SDN.Vnets) == 0 {
		return fmt.Errorf("sdn: custom mode requires at least one vnet")
	}
	if len(c.SDN.Vnets) > MaxVnets {
		return fmt.Errorf("sdn: at most %d vnets per session, got %d", MaxVnets, len(c.SDN.Vnets))
	}

	var prefixes []netip.Prefix
	ranges := 0
	aliases := map[string]int{}
	for i, vnet := range c.SDN.Vnets {
		if vnet.Alias != "" {
			if prev, dup := aliases[vnet.Alias]; dup {
				return fmt.Errorf("sdn: vnet %d: alias %q already used by vnet %d", i, vnet.Alias, prev)
			}
			aliases[vnet.Alias] = i
		}

		for j, sub := range vnet.Subnets {
			p, err := netip.ParsePrefix(sub.CIDR)
			if err != nil {
				return fmt.Errorf("sdn: vnet %d: subnet %d: invalid cidr %q: %w", i, j, sub.CIDR, err)
			}
			prefixes = append(prefixes, p)

			if sub.Gateway != "" {
				gw, err := netip.ParseAddr(sub.Gateway)
				if err != nil {
					return fmt.Errorf("sdn: vnet %d: subnet %d: invalid gateway %q: %w", i, j, sub.Gateway, err)
				}
				if !p.Contains(gw) {
					return fmt.Errorf("sdn: vnet %d: subnet %d: gateway %s outside %s", i, j, gw, p)
				}
			}

			for k, r := range sub.DHCPRanges {
				start, err := netip.ParseAddr(r.Start)
				if err != nil {
					return fmt.Errorf("sdn: vnet %d: subnet %d: dhcp range %d: invalid start %q: %w", i, j, k, r.Start, err)
				}
				end, err := netip.ParseAddr(r.End)
				if err != nil {
					return fmt.Errorf("sdn: vnet %d: subnet %d: dhcp range %d: invalid end %q: %w", i, j, k, r.End, err)
				}
				if !p.Contains(start) || !p.Contains(end) {
					return fmt.Errorf("sdn: vnet %d: subnet %d: dhcp range %d: %s-%s outside %s", i, j, k, start, end, p)
				}
				if end.Less(start) {
					return fmt.Errorf("sdn: vnet %d: subnet %d: dhcp range %d: end %s before start %s", i, j, k, end, start)
				}
				ranges++
			}
		}
	}

	if a, b, overlap := netutil.FindSelfOverlap(prefixes); overlap {
		return fmt.Errorf("sdn: subnets %s and %s overlap", a, b)
	}

	// The platform's shared IPAM only functions with declared ranges, and
	// declared ranges without it would silently do nothing.
	if c.SDN.SharedDHCP() && ranges == 0 {
		return fmt.Errorf("sdn: useSharedDhcp requires at least one dhcp range")
	}
	if !c.SDN.SharedDHCP() && ranges > 0 {
		return fmt.Errorf("sdn: dhcp ranges declared but useSharedDhcp is false")
	}

	return nil
}
