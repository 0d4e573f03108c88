// Package vm provisions the session's virtual machines from resolved
// template sources.
package vm

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jcreedy/pvesandbox/internal/config"
	"github.com/jcreedy/pvesandbox/internal/platform/proxmox"
	"github.com/jcreedy/pvesandbox/internal/provisioning"
	"github.com/jcreedy/pvesandbox/internal/provisioning/template"
	"github.com/jcreedy/pvesandbox/internal/tracker"
	"github.com/jcreedy/pvesandbox/internal/util/async"
	"github.com/jcreedy/pvesandbox/internal/util/naming"
	"github.com/jcreedy/pvesandbox/internal/util/tags"
)

// maxNICs bounds NICs per VM. net0..net7 are also the keys cleared when a
// VM declares an explicit empty NIC list.
const maxNICs = 8

// agentFirstTry bounds the initial ping window before an in-guest restart
// of the agent service is attempted.
const agentFirstTry = 30 * time.Second

// Provisioner creates the session VMs. Template resolution runs first and
// sequentially, so a shared source is built once; the per-VM clone, start
// and readiness wait then run in parallel.
type Provisioner struct{}

func NewProvisioner() *Provisioner {
	return &Provisioner{}
}

func (p *Provisioner) Name() string {
	return "vm"
}

func (p *Provisioner) Provision(ctx *provisioning.Context) error {
	resolved, err := p.resolveSources(ctx)
	if err != nil {
		return err
	}

	// Resolve every NIC reference before creating anything, so a bad
	// reference fails the session with zero resources to clean up.
	plans := make([]nicPlan, len(ctx.Config.VMs))
	for i, vmCfg := range ctx.Config.VMs {
		plan, err := planNICs(ctx, vmName(ctx, i, vmCfg), vmCfg, resolved[i].Kind)
		if err != nil {
			return err
		}
		plans[i] = plan
	}

	tasks := make([]async.Task, len(ctx.Config.VMs))
	for i, vmCfg := range ctx.Config.VMs {
		name := vmName(ctx, i, vmCfg)
		tasks[i] = async.Task{
			Name: name,
			Func: func(context.Context) error {
				return p.provisionOne(ctx, name, vmCfg, resolved[i], plans[i])
			},
		}
	}
	return async.RunParallel(ctx, tasks)
}

// resolveSources maps every VM's source to a template or archive. Identical
// sources resolve once, so several VMs off one built-in image trigger a
// single build.
func (p *Provisioner) resolveSources(ctx *provisioning.Context) ([]template.Resolved, error) {
	resolved := make([]template.Resolved, len(ctx.Config.VMs))
	memo := make(map[string]template.Resolved)
	for i, vmCfg := range ctx.Config.VMs {
		key := sourceKey(vmCfg)
		if r, ok := memo[key]; ok {
			resolved[i] = r
			continue
		}
		r, err := template.Resolve(ctx, vmCfg.Source, template.WithDiskController(vmCfg.DiskController))
		if err != nil {
			return nil, fmt.Errorf("resolving source for vm %q: %w", vmName(ctx, i, vmCfg), err)
		}
		memo[key] = r
		resolved[i] = r
	}
	return resolved, nil
}

func (p *Provisioner) provisionOne(
	ctx *provisioning.Context,
	name string,
	vmCfg config.VMConfig,
	src template.Resolved,
	plan nicPlan,
) error {
	vmid, err := ctx.API.NextID(ctx)
	if err != nil {
		return fmt.Errorf("allocating vm id: %w", err)
	}
	// Registered before the create call: if the process dies mid-clone the
	// half-created VM is still torn down.
	ctx.Registry.Register(tracker.KindVM, strconv.Itoa(vmid))

	var upid proxmox.UPID
	if src.Archive != "" {
		ctx.Observer.Printf("[vm] restoring %s (vm %d) from %s", name, vmid, src.Archive)
		upid, err = ctx.API.RestoreVM(ctx, proxmox.RestoreOpts{
			VMID:    vmid,
			Archive: src.Archive,
			Name:    name,
			Storage: ctx.DiskStorage,
		})
	} else {
		ctx.Observer.Printf("[vm] cloning %s (vm %d) from template %d", name, vmid, src.TemplateID)
		upid, err = ctx.API.CloneVM(ctx, src.TemplateID, proxmox.CloneOpts{
			NewID: vmid,
			Name:  name,
			Full:  false,
		})
	}
	if err != nil {
		return fmt.Errorf("creating vm %d: %w", vmid, err)
	}
	if err := ctx.Wait(upid, ctx.Timeouts.TaskLong); err != nil {
		return fmt.Errorf("waiting for vm %d: %w", vmid, err)
	}

	vnets, err := p.configure(ctx, vmid, vmCfg, plan)
	if err != nil {
		return err
	}

	upid, err = ctx.API.StartVM(ctx, vmid)
	if err != nil {
		return fmt.Errorf("starting vm %d: %w", vmid, err)
	}
	if err := ctx.Wait(upid, ctx.Timeouts.TaskShort); err != nil {
		return fmt.Errorf("waiting for vm %d to start: %w", vmid, err)
	}

	if vmCfg.Sandbox() {
		if err := p.awaitAgent(ctx, vmid); err != nil {
			return err
		}
	}

	ctx.State.AddVM(provisioning.VMResult{
		VMID:  vmid,
		Name:  name,
		Tags:  []string{tags.Marker, ctx.State.Prefix},
		Vnets: vnets,
	})
	ctx.Observer.Printf("[vm] %s (vm %d) is up", name, vmid)
	return nil
}

// awaitAgent waits for the guest agent to answer a ping. An agent that
// stays silent through the first window gets one restart attempt over the
// agent channel, then the full wait. A guest that still never answers is
// logged and skipped: the VM is running, only agent features are missing.
func (p *Provisioner) awaitAgent(ctx *provisioning.Context, vmid int) error {
	firstTry := agentFirstTry
	if ctx.Timeouts.AgentWait < firstTry {
		firstTry = ctx.Timeouts.AgentWait
	}
	if err := pingAgent(ctx, vmid, firstTry); err == nil {
		return nil
	} else if ctx.Err() != nil {
		return err
	}

	if _, err := ctx.API.AgentExec(ctx, vmid, []string{"systemctl", "restart", "qemu-guest-agent"}); err != nil {
		ctx.Observer.Printf("[vm] vm %d: agent restart attempt failed: %v", vmid, err)
	}

	if err := pingAgent(ctx, vmid, ctx.Timeouts.AgentWait); err != nil {
		if ctx.Err() != nil {
			return err
		}
		ctx.Observer.Printf("[vm] vm %d: guest agent never answered, continuing without it", vmid)
	}
	return nil
}

// pingAgent polls the agent until it answers or the window closes.
func pingAgent(ctx *provisioning.Context, vmid int, window time.Duration) error {
	interval := 2 * time.Second
	if window < interval {
		interval = window
	}
	deadline := time.Now().Add(window)
	for {
		if err := ctx.API.AgentPing(ctx, vmid); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("vm %d: guest agent did not answer within %v", vmid, window)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// configure applies the per-VM settings on top of the clone and returns the
// vnet id attached to each NIC.
func (p *Provisioner) configure(ctx *provisioning.Context, vmid int, vmCfg config.VMConfig, plan nicPlan) ([]string, error) {
	cfg := map[string]string{
		"memory": strconv.Itoa(vmCfg.RAMMB),
		"cores":  strconv.Itoa(vmCfg.VCPUs),
		"agent":  "1",
		"tags":   tags.Join([]string{tags.Marker, ctx.State.Prefix}),
	}
	if vmCfg.UEFI {
		cfg["bios"] = "ovmf"
		cfg["efidisk0"] = ctx.DiskStorage + ":1,efitype=4m"
	}

	var vnets []string
	if !plan.keep {
		keys := make([]string, maxNICs)
		for i := range keys {
			keys[i] = fmt.Sprintf("net%d", i)
		}
		if err := ctx.API.UnsetVMConfig(ctx, vmid, keys); err != nil {
			return nil, fmt.Errorf("clearing nics on vm %d: %w", vmid, err)
		}
		for i, nic := range plan.nics {
			value := nic.model
			if nic.mac != "" {
				value += "=" + nic.mac
			}
			cfg[fmt.Sprintf("net%d", i)] = value + ",bridge=" + nic.vnet
			vnets = append(vnets, nic.vnet)
		}
	}

	if err := ctx.API.ConfigureVM(ctx, vmid, cfg); err != nil {
		return nil, fmt.Errorf("configuring vm %d: %w", vmid, err)
	}
	return vnets, nil
}

// nicPlan is a VM's fully resolved NIC layout.
type nicPlan struct {
	// keep leaves whatever NICs the clone inherited untouched.
	keep bool
	nics []resolvedNIC
}

type resolvedNIC struct {
	vnet  string
	mac   string
	model string
}

// planNICs resolves a VM's NIC declaration against the session's networks
// and the pre-existing VNets.
//
// A nil declaration applies defaults: freshly built templates get one NIC on
// the session's first network, templates and backups that already existed
// keep their own. An empty declaration strips all NICs.
func planNICs(ctx *provisioning.Context, name string, vmCfg config.VMConfig, kind config.SourceKind) (nicPlan, error) {
	if vmCfg.NICs == nil {
		fresh := kind == config.SourceBuiltIn || kind == config.SourceOVA
		if fresh && len(ctx.State.VnetIDs) > 0 {
			return nicPlan{nics: []resolvedNIC{{vnet: ctx.State.VnetIDs[0], model: vmCfg.NICModel()}}}, nil
		}
		return nicPlan{keep: true}, nil
	}

	declared := *vmCfg.NICs
	if len(declared) > maxNICs {
		return nicPlan{}, fmt.Errorf("vm %q: %d nics declared, at most %d supported", name, len(declared), maxNICs)
	}

	plan := nicPlan{nics: make([]resolvedNIC, 0, len(declared))}
	for _, nic := range declared {
		vnet, ok := ctx.State.VnetByAlias[nic.Vnet]
		if !ok {
			if ctx.Config.SDN.Mode == config.SDNNone {
				return nicPlan{}, &provisioning.AliasNotFoundError{Alias: nic.Vnet}
			}
			return nicPlan{}, &provisioning.UnresolvedVnetAliasError{VM: name, Alias: nic.Vnet}
		}
		plan.nics = append(plan.nics, resolvedNIC{vnet: vnet, mac: nic.MAC, model: nic.Model})
	}
	return plan, nil
}

func vmName(ctx *provisioning.Context, i int, vmCfg config.VMConfig) string {
	if vmCfg.Name != "" {
		return vmCfg.Name
	}
	return naming.VM(ctx.State.Prefix, i)
}

// sourceKey is the memo key for source resolution. The disk controller is
// part of it because OVA imports on different buses are distinct templates.
func sourceKey(vmCfg config.VMConfig) string {
	src := vmCfg.Source
	return fmt.Sprintf("b=%s|o=%s|t=%s|a=%s|d=%s",
		src.BuiltIn, src.OVAPath, src.ExistingTemplateTag, src.ExistingBackupName, vmCfg.DiskController)
}
