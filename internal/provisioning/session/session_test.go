package session

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcreedy/pvesandbox/internal/config"
	"github.com/jcreedy/pvesandbox/internal/platform/proxmox"
	"github.com/jcreedy/pvesandbox/internal/provisioning"
	"github.com/jcreedy/pvesandbox/internal/tracker"
	"github.com/jcreedy/pvesandbox/internal/util/naming"
)

func TestProvision_EndToEnd(t *testing.T) {
	t.Parallel()

	var (
		createdZone  proxmox.ZoneInfo
		createdVnets []proxmox.VnetInfo
	)
	api := &proxmox.MockAPI{
		NextIDFunc: func(context.Context) (int, error) { return 101, nil },
		ListVMsFunc: func(context.Context) ([]proxmox.VM, error) {
			return []proxmox.VM{{VMID: 900, Template: true, Tags: "golden"}}, nil
		},
		CreateZoneFunc: func(_ context.Context, zone proxmox.ZoneInfo) error {
			createdZone = zone
			return nil
		},
		CreateVnetFunc: func(_ context.Context, vnet proxmox.VnetInfo) error {
			createdVnets = append(createdVnets, vnet)
			return nil
		},
	}

	cfg := &config.SandboxConfig{
		SDN: config.SDNConfig{Mode: config.SDNAuto},
		VMs: []config.VMConfig{{Source: config.TemplateSource{ExistingTemplateTag: "golden"}}},
	}
	cfg.ApplyDefaults()

	reg := tracker.New()
	result, err := Provision(context.Background(), cfg, api, reg, Options{
		Observer: provisioning.NopObserver{},
		Rand:     rand.New(rand.NewSource(1)),
	})
	require.NoError(t, err)

	assert.True(t, naming.IsSessionPrefix(result.Prefix))
	assert.Equal(t, naming.Zone(result.Prefix), result.ZoneID)
	assert.Equal(t, result.ZoneID, createdZone.Zone)
	require.Len(t, createdVnets, 1)
	assert.Equal(t, naming.Vnet(result.Prefix, 0), createdVnets[0].Vnet)
	require.Len(t, result.VMs, 1)
	assert.Equal(t, 101, result.VMs[0].VMID)
	assert.Equal(t, naming.VM(result.Prefix, 0), result.VMs[0].Name)

	resources := reg.Drain()
	assert.ElementsMatch(t, []tracker.Resource{
		{Kind: tracker.KindZone, ID: result.ZoneID},
		{Kind: tracker.KindVM, ID: "101"},
	}, resources)
}

func TestProvision_AvoidsTakenPrefixes(t *testing.T) {
	t.Parallel()

	// Replay the seed to learn which prefix would come first, then mark its
	// zone as taken and check the session picks a different one.
	first := naming.NewSessionPrefix(rand.New(rand.NewSource(7)), "")

	api := &proxmox.MockAPI{
		ListZonesFunc: func(context.Context) ([]proxmox.ZoneInfo, error) {
			return []proxmox.ZoneInfo{{Zone: naming.Zone(first)}}, nil
		},
		ListVMsFunc: func(context.Context) ([]proxmox.VM, error) {
			return []proxmox.VM{{VMID: 900, Template: true, Tags: "golden"}}, nil
		},
	}

	cfg := &config.SandboxConfig{
		SDN: config.SDNConfig{Mode: config.SDNNone},
		VMs: []config.VMConfig{{Source: config.TemplateSource{ExistingTemplateTag: "golden"}}},
	}
	cfg.ApplyDefaults()

	result, err := Provision(context.Background(), cfg, api, tracker.New(), Options{
		Observer: provisioning.NopObserver{},
		Rand:     rand.New(rand.NewSource(7)),
	})
	require.NoError(t, err)
	assert.NotEqual(t, first, result.Prefix)
}

func TestProvision_NameSeedsPrefixLetters(t *testing.T) {
	t.Parallel()

	api := &proxmox.MockAPI{
		ListVMsFunc: func(context.Context) ([]proxmox.VM, error) {
			return []proxmox.VM{{VMID: 900, Template: true, Tags: "golden"}}, nil
		},
	}

	cfg := &config.SandboxConfig{
		SDN: config.SDNConfig{Mode: config.SDNNone},
		VMs: []config.VMConfig{{Source: config.TemplateSource{ExistingTemplateTag: "golden"}}},
	}
	cfg.ApplyDefaults()

	result, err := Provision(context.Background(), cfg, api, tracker.New(), Options{
		Observer: provisioning.NopObserver{},
		Name:     "demo-stack",
	})
	require.NoError(t, err)
	assert.Equal(t, "dem", result.Prefix[:3])
	assert.True(t, naming.IsSessionPrefix(result.Prefix))
}

func TestProvision_FailureLeavesRegistryForTeardown(t *testing.T) {
	t.Parallel()

	api := &proxmox.MockAPI{
		ListVMsFunc: func(context.Context) ([]proxmox.VM, error) {
			return []proxmox.VM{{VMID: 900, Template: true, Tags: "golden"}}, nil
		},
		CloneVMFunc: func(_ context.Context, _ int, _ proxmox.CloneOpts) (proxmox.UPID, error) {
			return "", assert.AnError
		},
	}

	cfg := &config.SandboxConfig{
		SDN: config.SDNConfig{Mode: config.SDNAuto},
		VMs: []config.VMConfig{{Source: config.TemplateSource{ExistingTemplateTag: "golden"}}},
	}
	cfg.ApplyDefaults()

	reg := tracker.New()
	_, err := Provision(context.Background(), cfg, api, reg, Options{Observer: provisioning.NopObserver{}})
	require.Error(t, err)

	assert.Equal(t, 2, reg.Len(), "zone and half-created vm stay registered")
}
