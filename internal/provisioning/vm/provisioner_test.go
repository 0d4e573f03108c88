package vm

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcreedy/pvesandbox/internal/config"
	"github.com/jcreedy/pvesandbox/internal/platform/proxmox"
	"github.com/jcreedy/pvesandbox/internal/provisioning"
	"github.com/jcreedy/pvesandbox/internal/tracker"
	"github.com/jcreedy/pvesandbox/internal/util/tags"
)

func newTestContext(t *testing.T, cfg *config.SandboxConfig, api proxmox.API) *provisioning.Context {
	t.Helper()
	cfg.ApplyDefaults()
	pctx := provisioning.NewContext(context.Background(), cfg, api, tracker.New())
	pctx.Observer = provisioning.NopObserver{}
	pctx.State.Prefix = "abc123"
	return pctx
}

// sequentialIDs returns a NextID stub handing out ids from start.
func sequentialIDs(start int) func(context.Context) (int, error) {
	var next atomic.Int64
	next.Store(int64(start - 1))
	return func(context.Context) (int, error) {
		return int(next.Add(1)), nil
	}
}

func goldenTemplate() func(context.Context) ([]proxmox.VM, error) {
	return func(context.Context) ([]proxmox.VM, error) {
		return []proxmox.VM{{VMID: 900, Template: true, Tags: "golden"}}, nil
	}
}

func TestProvision_CloneFromExistingTemplate(t *testing.T) {
	t.Parallel()

	var (
		mu       sync.Mutex
		cloneSrc int
		clone    proxmox.CloneOpts
		vmConfig map[string]string
		started  []int
	)
	api := &proxmox.MockAPI{
		NextIDFunc:  sequentialIDs(101),
		ListVMsFunc: goldenTemplate(),
		CloneVMFunc: func(_ context.Context, srcID int, opts proxmox.CloneOpts) (proxmox.UPID, error) {
			mu.Lock()
			defer mu.Unlock()
			cloneSrc = srcID
			clone = opts
			return "UPID:pve:1::::clone::root@pam:", nil
		},
		ConfigureVMFunc: func(_ context.Context, _ int, cfg map[string]string) error {
			mu.Lock()
			defer mu.Unlock()
			vmConfig = cfg
			return nil
		},
		StartVMFunc: func(_ context.Context, vmid int) (proxmox.UPID, error) {
			mu.Lock()
			defer mu.Unlock()
			started = append(started, vmid)
			return "UPID:pve:2::::start::root@pam:", nil
		},
	}

	cfg := &config.SandboxConfig{
		SDN: config.SDNConfig{Mode: config.SDNCustom},
		VMs: []config.VMConfig{{
			Name:   "web",
			Source: config.TemplateSource{ExistingTemplateTag: "golden"},
			RAMMB:  4096,
			VCPUs:  4,
			NICs:   &[]config.NicConfig{{Vnet: "lan", MAC: "DE:AD:BE:EF:00:01"}},
		}},
	}
	pctx := newTestContext(t, cfg, api)
	pctx.State.VnetIDs = []string{"abc123v0"}
	pctx.State.VnetByAlias["lan"] = "abc123v0"

	require.NoError(t, NewProvisioner().Provision(pctx))

	assert.Equal(t, 900, cloneSrc)
	assert.Equal(t, proxmox.CloneOpts{NewID: 101, Name: "web", Full: false}, clone)
	assert.Equal(t, "4096", vmConfig["memory"])
	assert.Equal(t, "4", vmConfig["cores"])
	assert.Equal(t, "virtio=DE:AD:BE:EF:00:01,bridge=abc123v0", vmConfig["net0"])
	assert.True(t, tags.Has(vmConfig["tags"], tags.Marker))
	assert.True(t, tags.Has(vmConfig["tags"], "abc123"))
	assert.Equal(t, []int{101}, started)

	results := pctx.State.VMResults()
	require.Len(t, results, 1)
	assert.Equal(t, 101, results[0].VMID)
	assert.Equal(t, "web", results[0].Name)
	assert.Equal(t, []string{"abc123v0"}, results[0].Vnets)

	resources := pctx.Registry.Drain()
	require.Len(t, resources, 1)
	assert.Equal(t, tracker.Resource{Kind: tracker.KindVM, ID: "101"}, resources[0])
}

func TestProvision_RestoreFromBackup(t *testing.T) {
	t.Parallel()

	var restore proxmox.RestoreOpts
	api := &proxmox.MockAPI{
		NextIDFunc: sequentialIDs(110),
		ListVolumesFunc: func(_ context.Context, content string) ([]proxmox.Volume, error) {
			require.Equal(t, "backup", content)
			return []proxmox.Volume{{VolID: "local:backup/vzdump-qemu-55.vma.zst"}}, nil
		},
		RestoreVMFunc: func(_ context.Context, opts proxmox.RestoreOpts) (proxmox.UPID, error) {
			restore = opts
			return "UPID:pve:1::::restore::root@pam:", nil
		},
		CloneVMFunc: func(_ context.Context, _ int, _ proxmox.CloneOpts) (proxmox.UPID, error) {
			t.Error("backup sources must restore, not clone")
			return "", nil
		},
	}

	cfg := &config.SandboxConfig{
		SDN: config.SDNConfig{Mode: config.SDNNone},
		VMs: []config.VMConfig{{
			Source: config.TemplateSource{ExistingBackupName: "vzdump-qemu-55.vma.zst"},
		}},
	}
	pctx := newTestContext(t, cfg, api)

	require.NoError(t, NewProvisioner().Provision(pctx))

	assert.Equal(t, proxmox.RestoreOpts{
		VMID:    110,
		Archive: "local:backup/vzdump-qemu-55.vma.zst",
		Name:    "abc123-vm0",
		Storage: "local-lvm",
	}, restore)
}

func TestProvision_SharedSourceResolvedOnce(t *testing.T) {
	t.Parallel()

	var lists atomic.Int32
	api := &proxmox.MockAPI{
		NextIDFunc: sequentialIDs(120),
		ListVMsFunc: func(context.Context) ([]proxmox.VM, error) {
			lists.Add(1)
			return []proxmox.VM{{VMID: 900, Template: true, Tags: "golden"}}, nil
		},
	}

	cfg := &config.SandboxConfig{
		SDN: config.SDNConfig{Mode: config.SDNNone},
		VMs: []config.VMConfig{
			{Source: config.TemplateSource{ExistingTemplateTag: "golden"}},
			{Source: config.TemplateSource{ExistingTemplateTag: "golden"}},
			{Source: config.TemplateSource{ExistingTemplateTag: "golden"}},
		},
	}
	pctx := newTestContext(t, cfg, api)

	require.NoError(t, NewProvisioner().Provision(pctx))

	assert.Equal(t, int32(1), lists.Load())
	assert.Len(t, pctx.State.VMResults(), 3)
}

func TestProvision_UnresolvableNicFailsBeforeAnyCreate(t *testing.T) {
	t.Parallel()

	var clones atomic.Int32
	api := &proxmox.MockAPI{
		ListVMsFunc: goldenTemplate(),
		CloneVMFunc: func(_ context.Context, _ int, _ proxmox.CloneOpts) (proxmox.UPID, error) {
			clones.Add(1)
			return "", nil
		},
	}

	cfg := &config.SandboxConfig{
		SDN: config.SDNConfig{Mode: config.SDNAuto},
		VMs: []config.VMConfig{
			{Source: config.TemplateSource{ExistingTemplateTag: "golden"}},
			{
				Name:   "db",
				Source: config.TemplateSource{ExistingTemplateTag: "golden"},
				NICs:   &[]config.NicConfig{{Vnet: "no-such-net"}},
			},
		},
	}
	pctx := newTestContext(t, cfg, api)

	err := NewProvisioner().Provision(pctx)
	var unresolved *provisioning.UnresolvedVnetAliasError
	require.ErrorAs(t, err, &unresolved)
	assert.Equal(t, "db", unresolved.VM)
	assert.Equal(t, "no-such-net", unresolved.Alias)

	assert.Equal(t, int32(0), clones.Load())
	assert.Equal(t, 0, pctx.Registry.Len())
}

func TestProvision_NoneModeMissIsAliasNotFound(t *testing.T) {
	t.Parallel()

	api := &proxmox.MockAPI{ListVMsFunc: goldenTemplate()}
	cfg := &config.SandboxConfig{
		SDN: config.SDNConfig{Mode: config.SDNNone},
		VMs: []config.VMConfig{{
			Source: config.TemplateSource{ExistingTemplateTag: "golden"},
			NICs:   &[]config.NicConfig{{Vnet: "corp-lan"}},
		}},
	}
	pctx := newTestContext(t, cfg, api)

	err := NewProvisioner().Provision(pctx)
	var notFound *provisioning.AliasNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "corp-lan", notFound.Alias)
}

func TestProvision_RegistersVMBeforeCloneOutcome(t *testing.T) {
	t.Parallel()

	api := &proxmox.MockAPI{
		NextIDFunc:  sequentialIDs(130),
		ListVMsFunc: goldenTemplate(),
		CloneVMFunc: func(_ context.Context, _ int, _ proxmox.CloneOpts) (proxmox.UPID, error) {
			return "", assert.AnError
		},
	}

	cfg := &config.SandboxConfig{
		SDN: config.SDNConfig{Mode: config.SDNNone},
		VMs: []config.VMConfig{{Source: config.TemplateSource{ExistingTemplateTag: "golden"}}},
	}
	pctx := newTestContext(t, cfg, api)

	require.Error(t, NewProvisioner().Provision(pctx))

	resources := pctx.Registry.Drain()
	require.Len(t, resources, 1)
	assert.Equal(t, tracker.Resource{Kind: tracker.KindVM, ID: "130"}, resources[0])
}

func TestProvision_OneFailureDoesNotStopSiblings(t *testing.T) {
	t.Parallel()

	api := &proxmox.MockAPI{
		NextIDFunc:  sequentialIDs(140),
		ListVMsFunc: goldenTemplate(),
		CloneVMFunc: func(_ context.Context, _ int, opts proxmox.CloneOpts) (proxmox.UPID, error) {
			if opts.Name == "bad" {
				return "", assert.AnError
			}
			return "UPID:pve:1::::clone::root@pam:", nil
		},
	}

	cfg := &config.SandboxConfig{
		SDN: config.SDNConfig{Mode: config.SDNNone},
		VMs: []config.VMConfig{
			{Name: "good-a", Source: config.TemplateSource{ExistingTemplateTag: "golden"}},
			{Name: "bad", Source: config.TemplateSource{ExistingTemplateTag: "golden"}},
			{Name: "good-b", Source: config.TemplateSource{ExistingTemplateTag: "golden"}},
		},
	}
	pctx := newTestContext(t, cfg, api)

	err := NewProvisioner().Provision(pctx)
	require.ErrorContains(t, err, "bad")

	results := pctx.State.VMResults()
	names := make([]string, len(results))
	for i, r := range results {
		names[i] = r.Name
	}
	sort.Strings(names)
	assert.Equal(t, []string{"good-a", "good-b"}, names)
	assert.Equal(t, 3, pctx.Registry.Len(), "failed vm stays registered for teardown")
}

func TestProvision_EmptyNicListStripsAllNICs(t *testing.T) {
	t.Parallel()

	var (
		mu        sync.Mutex
		unsetKeys []string
		vmConfig  map[string]string
	)
	api := &proxmox.MockAPI{
		ListVMsFunc: goldenTemplate(),
		UnsetVMConfigFunc: func(_ context.Context, _ int, keys []string) error {
			mu.Lock()
			defer mu.Unlock()
			unsetKeys = keys
			return nil
		},
		ConfigureVMFunc: func(_ context.Context, _ int, cfg map[string]string) error {
			mu.Lock()
			defer mu.Unlock()
			vmConfig = cfg
			return nil
		},
	}

	cfg := &config.SandboxConfig{
		SDN: config.SDNConfig{Mode: config.SDNNone},
		VMs: []config.VMConfig{{
			Source: config.TemplateSource{ExistingTemplateTag: "golden"},
			NICs:   &[]config.NicConfig{},
		}},
	}
	pctx := newTestContext(t, cfg, api)

	require.NoError(t, NewProvisioner().Provision(pctx))

	assert.Len(t, unsetKeys, maxNICs)
	assert.Contains(t, unsetKeys, "net0")
	assert.NotContains(t, vmConfig, "net0")

	results := pctx.State.VMResults()
	require.Len(t, results, 1)
	assert.Empty(t, results[0].Vnets)
}

func TestProvision_DefaultNicOnFirstSessionVnet(t *testing.T) {
	t.Parallel()

	ovaPath := filepath.Join(t.TempDir(), "appliance.ova")
	require.NoError(t, os.WriteFile(ovaPath, []byte("payload"), 0o600))
	tag := tags.ForOVA("appliance.ova", 7)

	var (
		mu       sync.Mutex
		vmConfig map[string]string
	)
	api := &proxmox.MockAPI{
		NextIDFunc: sequentialIDs(150),
		ListVMsFunc: func(context.Context) ([]proxmox.VM, error) {
			return []proxmox.VM{{VMID: 800, Template: true, Tags: "pvesbx;" + tag}}, nil
		},
		ConfigureVMFunc: func(_ context.Context, _ int, cfg map[string]string) error {
			mu.Lock()
			defer mu.Unlock()
			vmConfig = cfg
			return nil
		},
	}

	cfg := &config.SandboxConfig{
		SDN: config.SDNConfig{Mode: config.SDNAuto},
		VMs: []config.VMConfig{{Source: config.TemplateSource{OVAPath: ovaPath}}},
	}
	pctx := newTestContext(t, cfg, api)
	pctx.State.VnetIDs = []string{"abc123v0"}
	pctx.State.VnetByAlias["abc123v0"] = "abc123v0"

	require.NoError(t, NewProvisioner().Provision(pctx))

	assert.Equal(t, "virtio,bridge=abc123v0", vmConfig["net0"])
}

func TestProvision_WaitsForAgentByDefault(t *testing.T) {
	t.Parallel()

	var pings atomic.Int32
	api := &proxmox.MockAPI{
		ListVMsFunc: goldenTemplate(),
		AgentPingFunc: func(context.Context, int) error {
			pings.Add(1)
			return nil
		},
	}

	cfg := &config.SandboxConfig{
		SDN: config.SDNConfig{Mode: config.SDNNone},
		VMs: []config.VMConfig{{Source: config.TemplateSource{ExistingTemplateTag: "golden"}}},
	}
	pctx := newTestContext(t, cfg, api)

	require.NoError(t, NewProvisioner().Provision(pctx))
	assert.Positive(t, pings.Load(), "a sandbox vm must be pinged before it counts as up")
}

func TestProvision_NotSandboxSkipsAgentWait(t *testing.T) {
	t.Parallel()

	var pings atomic.Int32
	api := &proxmox.MockAPI{
		ListVMsFunc: goldenTemplate(),
		AgentPingFunc: func(context.Context, int) error {
			pings.Add(1)
			return nil
		},
	}

	off := false
	cfg := &config.SandboxConfig{
		SDN: config.SDNConfig{Mode: config.SDNNone},
		VMs: []config.VMConfig{{
			Source:    config.TemplateSource{ExistingTemplateTag: "golden"},
			IsSandbox: &off,
		}},
	}
	pctx := newTestContext(t, cfg, api)

	require.NoError(t, NewProvisioner().Provision(pctx))
	assert.Equal(t, int32(0), pings.Load())
}

func TestProvision_SilentAgentDegradesGracefully(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		execs [][]string
	)
	api := &proxmox.MockAPI{
		ListVMsFunc: goldenTemplate(),
		AgentPingFunc: func(context.Context, int) error {
			return assert.AnError
		},
		AgentExecFunc: func(_ context.Context, _ int, cmd []string) (int, error) {
			mu.Lock()
			defer mu.Unlock()
			execs = append(execs, cmd)
			return 1, nil
		},
	}

	cfg := &config.SandboxConfig{
		SDN: config.SDNConfig{Mode: config.SDNNone},
		VMs: []config.VMConfig{{Source: config.TemplateSource{ExistingTemplateTag: "golden"}}},
	}
	pctx := newTestContext(t, cfg, api)
	pctx.Timeouts.AgentWait = 10 * time.Millisecond

	require.NoError(t, NewProvisioner().Provision(pctx))

	// The agent service got one restart attempt through the agent channel.
	require.Len(t, execs, 1)
	assert.Equal(t, []string{"systemctl", "restart", "qemu-guest-agent"}, execs[0])

	results := pctx.State.VMResults()
	require.Len(t, results, 1, "a vm without a working agent still provisions")
}

func TestProvision_NICControllerIsDefaultModel(t *testing.T) {
	t.Parallel()

	var (
		mu       sync.Mutex
		vmConfig map[string]string
	)
	api := &proxmox.MockAPI{
		ListVMsFunc: goldenTemplate(),
		ConfigureVMFunc: func(_ context.Context, _ int, cfg map[string]string) error {
			mu.Lock()
			defer mu.Unlock()
			vmConfig = cfg
			return nil
		},
	}

	cfg := &config.SandboxConfig{
		SDN: config.SDNConfig{Mode: config.SDNNone},
		VMs: []config.VMConfig{{
			Source:        config.TemplateSource{ExistingTemplateTag: "golden"},
			NICController: "e1000",
			NICs: &[]config.NicConfig{
				{Vnet: "lan"},
				{Vnet: "lan", Model: "virtio"},
			},
		}},
	}
	pctx := newTestContext(t, cfg, api)
	pctx.State.VnetByAlias["lan"] = "extnet0"

	require.NoError(t, NewProvisioner().Provision(pctx))

	assert.Equal(t, "e1000,bridge=extnet0", vmConfig["net0"])
	assert.Equal(t, "virtio,bridge=extnet0", vmConfig["net1"], "a per-nic model wins over the vm default")
}

func TestProvision_TaskWaitsUseConfiguredRetries(t *testing.T) {
	t.Parallel()

	// Three transient status failures per task: recoverable with the
	// configured four attempts, fatal with fewer.
	fails := map[proxmox.UPID]*atomic.Int32{}
	var mu sync.Mutex
	api := &proxmox.MockAPI{
		ListVMsFunc: goldenTemplate(),
		TaskStatusFunc: func(_ context.Context, upid proxmox.UPID) (*proxmox.TaskStatus, error) {
			mu.Lock()
			n, ok := fails[upid]
			if !ok {
				n = &atomic.Int32{}
				fails[upid] = n
			}
			mu.Unlock()
			if n.Add(1) <= 3 {
				return nil, &proxmox.APIError{StatusCode: 500, Status: "500 Internal Server Error"}
			}
			return &proxmox.TaskStatus{UPID: upid, Status: "stopped", ExitStatus: "OK"}, nil
		},
	}

	cfg := &config.SandboxConfig{
		SDN: config.SDNConfig{Mode: config.SDNNone},
		VMs: []config.VMConfig{{Source: config.TemplateSource{ExistingTemplateTag: "golden"}}},
	}
	pctx := newTestContext(t, cfg, api)
	pctx.Timeouts.RetryMaxAttempts = 3
	pctx.Timeouts.RetryInitialDelay = time.Millisecond

	require.NoError(t, NewProvisioner().Provision(pctx))
	assert.Len(t, pctx.State.VMResults(), 1)
}

func TestProvision_UEFI(t *testing.T) {
	t.Parallel()

	var (
		mu       sync.Mutex
		vmConfig map[string]string
	)
	api := &proxmox.MockAPI{
		ListVMsFunc: goldenTemplate(),
		ConfigureVMFunc: func(_ context.Context, _ int, cfg map[string]string) error {
			mu.Lock()
			defer mu.Unlock()
			vmConfig = cfg
			return nil
		},
	}

	cfg := &config.SandboxConfig{
		SDN: config.SDNConfig{Mode: config.SDNNone},
		VMs: []config.VMConfig{{
			Source: config.TemplateSource{ExistingTemplateTag: "golden"},
			UEFI:   true,
		}},
	}
	pctx := newTestContext(t, cfg, api)

	require.NoError(t, NewProvisioner().Provision(pctx))

	assert.Equal(t, "ovmf", vmConfig["bios"])
	assert.Equal(t, "local-lvm:1,efitype=4m", vmConfig["efidisk0"])
}
