// Package config defines the sandbox session request model, its YAML
// loading and validation, and the environment-derived connection and
// timeout settings.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SDN modes.
const (
	// SDNNone creates no networks; NIC references resolve against
	// pre-existing VNets only.
	SDNNone = "none"
	// SDNAuto allocates a private /24 with gateway, SNAT and DHCP.
	SDNAuto = "auto"
	// SDNCustom creates the networks declared under sdn.vnets.
	SDNCustom = "custom"
)

// MaxVnets bounds the number of VNets a single session may declare.
const MaxVnets = 10

// SourceKind discriminates the template source variants.
type SourceKind int

const (
	SourceUnknown SourceKind = iota
	SourceBuiltIn
	SourceOVA
	SourceExistingTemplate
	SourceExistingBackup
)

// TemplateSource selects where a VM's disk image comes from. Exactly one
// field must be set.
type TemplateSource struct {
	// BuiltIn names an entry of the built-in image catalog.
	BuiltIn string `yaml:"builtIn,omitempty"`
	// OVAPath is a local OVA file to upload and import.
	OVAPath string `yaml:"ovaPath,omitempty"`
	// ExistingTemplateTag selects a pre-existing template VM by tag.
	ExistingTemplateTag string `yaml:"existingTemplateTag,omitempty"`
	// ExistingBackupName selects a backup volume by file name.
	ExistingBackupName string `yaml:"existingBackupName,omitempty"`
}

// Kind returns which variant is set, or SourceUnknown when none or more
// than one is.
func (s TemplateSource) Kind() SourceKind {
	kind := SourceUnknown
	n := 0
	if s.BuiltIn != "" {
		kind = SourceBuiltIn
		n++
	}
	if s.OVAPath != "" {
		kind = SourceOVA
		n++
	}
	if s.ExistingTemplateTag != "" {
		kind = SourceExistingTemplate
		n++
	}
	if s.ExistingBackupName != "" {
		kind = SourceExistingBackup
		n++
	}
	if n != 1 {
		return SourceUnknown
	}
	return kind
}

// NicConfig declares one virtual NIC.
type NicConfig struct {
	// Vnet is a VNet id or an alias. Aliases resolve against the session's
	// own networks first, then against pre-existing VNets.
	Vnet  string `yaml:"vnet"`
	MAC   string `yaml:"mac,omitempty"`
	Model string `yaml:"model,omitempty"` // defaults to virtio
}

// VMConfig declares one sandbox VM.
type VMConfig struct {
	// Name must be a DNS label, unique within the session. Empty picks an
	// auto-generated name.
	Name   string         `yaml:"name,omitempty"`
	Source TemplateSource `yaml:"source"`
	RAMMB  int            `yaml:"ramMB,omitempty"`
	VCPUs  int            `yaml:"vcpus,omitempty"`
	UEFI   bool           `yaml:"uefi,omitempty"`
	// DiskController picks the disk bus when importing an OVA, "scsi" or
	// "ide". Only valid for ovaPath sources; default scsi.
	DiskController string `yaml:"diskController,omitempty"`
	// NICController is the default NIC model for this VM, "virtio" or
	// "e1000". A per-NIC model wins over it.
	NICController string `yaml:"nicController,omitempty"`
	// IsSandbox marks a VM whose guest agent should be awaited after start
	// (default true). A guest without a working agent still provisions; the
	// wait degrades to a log line.
	IsSandbox *bool `yaml:"isSandbox,omitempty"`
	// NICs is a three-state field: nil applies source-dependent defaults,
	// an empty list means no NICs, a non-empty list is taken literally.
	NICs *[]NicConfig `yaml:"nics,omitempty"`
}

// Sandbox returns the effective isSandbox flag (default true).
func (v VMConfig) Sandbox() bool {
	return v.IsSandbox == nil || *v.IsSandbox
}

// NICModel returns the effective default NIC model (default virtio).
func (v VMConfig) NICModel() string {
	if v.NICController != "" {
		return v.NICController
	}
	return "virtio"
}

// DHCPRange is one start/end pair of a subnet's DHCP pool.
type DHCPRange struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

// SubnetConfig declares one subnet of a session network.
type SubnetConfig struct {
	CIDR       string      `yaml:"cidr"`
	Gateway    string      `yaml:"gateway,omitempty"`
	SNAT       bool        `yaml:"snat,omitempty"`
	DHCPRanges []DHCPRange `yaml:"dhcpRanges,omitempty"`
}

// VnetConfig declares one session network. A VNet may carry several subnets
// or none at all; a subnet-less VNet is a plain bridge.
type VnetConfig struct {
	Alias   string         `yaml:"alias,omitempty"`
	Subnets []SubnetConfig `yaml:"subnets,omitempty"`
}

// SDNConfig declares the session's networking.
type SDNConfig struct {
	Mode string `yaml:"mode,omitempty"` // none, auto or custom; default auto
	// UseSharedDHCP enables the platform's shared IPAM/DHCP for the zone.
	// Requires at least one declared DHCP range when true and forbids them
	// when false. Only meaningful for custom mode.
	UseSharedDHCP *bool        `yaml:"useSharedDhcp,omitempty"`
	Vnets         []VnetConfig `yaml:"vnets,omitempty"`
}

// SharedDHCP returns the effective shared-DHCP flag (default true).
func (s SDNConfig) SharedDHCP() bool {
	return s.UseSharedDHCP == nil || *s.UseSharedDHCP
}

// SandboxConfig is the complete session request.
type SandboxConfig struct {
	SDN SDNConfig  `yaml:"sdn,omitempty"`
	VMs []VMConfig `yaml:"vms"`
}

// Load reads, defaults and validates a session config file.
func Load(path string) (*SandboxConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg SandboxConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills unset fields with their defaults.
func (c *SandboxConfig) ApplyDefaults() {
	if c.SDN.Mode == "" {
		c.SDN.Mode = SDNAuto
	}
	for i := range c.VMs {
		vm := &c.VMs[i]
		if vm.RAMMB == 0 {
			vm.RAMMB = 2048
		}
		if vm.VCPUs == 0 {
			vm.VCPUs = 2
		}
		if vm.NICs != nil {
			for j := range *vm.NICs {
				if (*vm.NICs)[j].Model == "" {
					(*vm.NICs)[j].Model = vm.NICModel()
				}
			}
		}
	}
}
