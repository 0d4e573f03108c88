package template

import (
	"bytes"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/jcreedy/pvesandbox/internal/platform/proxmox"
	"github.com/jcreedy/pvesandbox/internal/provisioning"
	"github.com/jcreedy/pvesandbox/internal/util/naming"
	"github.com/jcreedy/pvesandbox/internal/util/tags"
)

// builtInVnet is the VNet inside the reserved built-in zone. First boots of
// catalog images attach here so cloud-init gets DHCP and outbound SNAT.
const builtInVnet = "sbxvmn"

// builtInCIDR sits below the automatic allocation pool, so session subnets
// can never collide with it.
const builtInCIDR = "192.168.1.0/24"

// ensureBuiltIn returns a cached template for the named catalog image,
// building it on first use.
func ensureBuiltIn(ctx *provisioning.Context, name string) (int, error) {
	def, ok := Catalog[name]
	if !ok {
		known := make([]string, 0, len(Catalog))
		for k := range Catalog {
			known = append(known, k)
		}
		return 0, fmt.Errorf("unknown built-in image %q (have: %s)", name, strings.Join(known, ", "))
	}

	tag := tags.ForBuiltIn(name)
	if found, err := findTemplatesByTag(ctx, tag); err != nil {
		return 0, err
	} else if len(found) > 0 {
		ctx.Observer.Printf("[template] reusing template %d for %s", found[0].VMID, tag)
		return found[0].VMID, nil
	}

	ctx.Observer.Printf("[template] building built-in image %s", name)

	if err := ensureBuiltInNetwork(ctx); err != nil {
		return 0, err
	}

	volid, err := fetchOVA(ctx, def.URL)
	if err != nil {
		return 0, err
	}

	templateName := naming.BuiltInTemplate(name)
	seedVolID, err := uploadSeedISO(ctx, templateName)
	if err != nil {
		return 0, err
	}

	return buildTemplate(ctx, buildOpts{
		name:      templateName,
		tag:       tag,
		volid:     volid,
		seeded:    true,
		seedVolID: seedVolID,
		vnet:      builtInVnet,
	})
}

// ensureBuiltInNetwork creates the reserved zone, VNet and subnet when they
// do not exist yet. The zone is static infrastructure: it is never
// registered for cleanup and never matched by sweeps.
func ensureBuiltInNetwork(ctx *provisioning.Context) error {
	zones, err := ctx.API.ListZones(ctx)
	if err != nil {
		return fmt.Errorf("listing zones: %w", err)
	}
	for _, z := range zones {
		if z.Zone == naming.BuiltInZone {
			return nil
		}
	}

	if err := ctx.API.CreateZone(ctx, proxmox.ZoneInfo{
		Zone: naming.BuiltInZone, Type: "simple", IPAM: "pve", DHCP: "dnsmasq",
	}); err != nil {
		return fmt.Errorf("creating built-in zone: %w", err)
	}
	if err := ctx.API.CreateVnet(ctx, proxmox.VnetInfo{Vnet: builtInVnet, Zone: naming.BuiltInZone}); err != nil {
		return fmt.Errorf("creating built-in vnet: %w", err)
	}
	if err := ctx.API.CreateSubnet(ctx, builtInVnet, proxmox.SubnetInfo{
		CIDR:       builtInCIDR,
		Gateway:    "192.168.1.1",
		SNAT:       true,
		DHCPRanges: []proxmox.DHCPRange{{Start: "192.168.1.50", End: "192.168.1.100"}},
	}); err != nil {
		return fmt.Errorf("creating built-in subnet: %w", err)
	}

	upid, err := ctx.API.ApplySDN(ctx)
	if err != nil {
		return fmt.Errorf("applying built-in network: %w", err)
	}
	return ctx.Wait(upid, ctx.Timeouts.TaskShort)
}

// fetchOVA has the node download the OVA into file storage, skipping the
// fetch when the file is already there.
func fetchOVA(ctx *provisioning.Context, rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parsing image url: %w", err)
	}
	filename := path.Base(parsed.Path)

	vols, err := ctx.API.ListVolumes(ctx, "import")
	if err != nil {
		return "", fmt.Errorf("listing import volumes: %w", err)
	}
	for _, v := range vols {
		if volumeFilename(v.VolID) == filename {
			ctx.Observer.Printf("[template] %s already in storage, skipping download", filename)
			return v.VolID, nil
		}
	}

	ctx.Observer.Printf("[template] downloading %s", rawURL)
	upid, err := ctx.API.DownloadURL(ctx, "import", filename, rawURL)
	if err != nil {
		return "", fmt.Errorf("downloading %s: %w", rawURL, err)
	}
	if err := ctx.Wait(upid, ctx.Timeouts.TaskLong); err != nil {
		return "", fmt.Errorf("waiting for download of %s: %w", filename, err)
	}

	return fmt.Sprintf("%s:import/%s", ctx.FileStorage, filename), nil
}

// uploadSeedISO builds and uploads the cloud-init seed for a first boot.
func uploadSeedISO(ctx *provisioning.Context, templateName string) (string, error) {
	hostname := sanitizeName(strings.ReplaceAll(templateName, ".", "-"))
	iso, err := BuildSeedISO(hostname)
	if err != nil {
		return "", err
	}

	isoName := templateName + "-seed.iso"
	upid, err := ctx.API.UploadFile(ctx, "iso", isoName, bytes.NewReader(iso), int64(len(iso)))
	if err != nil {
		return "", fmt.Errorf("uploading seed iso: %w", err)
	}
	if err := ctx.Wait(upid, ctx.Timeouts.TaskShort); err != nil {
		return "", fmt.Errorf("waiting for seed iso upload: %w", err)
	}

	return fmt.Sprintf("%s:iso/%s", ctx.FileStorage, isoName), nil
}

type buildOpts struct {
	name           string
	tag            string
	volid          string // OVA volume to import disks from
	diskController string // disk bus for the import, default scsi
	seeded         bool   // boot once with a cloud-init seed before converting
	seedVolID      string
	vnet           string // first-boot network, seeded builds only
}

// buildTemplate imports the OVA into a new VM, optionally boots it once for
// cloud-init, and converts it to a tagged template. A failed build deletes
// the partial VM best-effort; templates are shared across sessions and are
// never registered with the session tracker.
func buildTemplate(ctx *provisioning.Context, opts buildOpts) (vmid int, err error) {
	vmid, err = ctx.API.NextID(ctx)
	if err != nil {
		return 0, fmt.Errorf("allocating vm id: %w", err)
	}

	created := false
	defer func() {
		if err != nil && created {
			if _, derr := ctx.API.DeleteVM(ctx, vmid); derr != nil {
				ctx.Observer.Printf("[template] leaking partial build vm %d: %v", vmid, derr)
			}
		}
	}()

	cfg := map[string]string{
		"name":    opts.name,
		"memory":  "2048",
		"cores":   "2",
		"ostype":  "l26",
		"agent":   "1",
		"serial0": "socket",
		"vga":     "serial0",
		"tags":    tags.Join([]string{tags.Marker, opts.tag}),
	}
	diskPrefix := opts.diskController
	if diskPrefix == "" {
		diskPrefix = "scsi"
	}
	cfg[diskPrefix+"0"] = fmt.Sprintf("%s:0,import-from=%s", ctx.DiskStorage, opts.volid)
	if diskPrefix == "scsi" {
		cfg["scsihw"] = "virtio-scsi-single"
	}
	if opts.seeded {
		cfg["ide2"] = opts.seedVolID + ",media=cdrom"
		cfg["net0"] = "virtio,bridge=" + opts.vnet
	}

	upid, err := ctx.API.CreateVM(ctx, vmid, cfg)
	if err != nil {
		return 0, fmt.Errorf("creating template vm %d: %w", vmid, err)
	}
	created = true
	if err = ctx.Wait(upid, ctx.Timeouts.TaskLong); err != nil {
		return 0, fmt.Errorf("importing disks for vm %d: %w", vmid, err)
	}

	if opts.seeded {
		if err = firstBoot(ctx, vmid); err != nil {
			return 0, err
		}
		if err = ctx.API.UnsetVMConfig(ctx, vmid, []string{"ide2", "net0"}); err != nil {
			return 0, fmt.Errorf("detaching seed from vm %d: %w", vmid, err)
		}
	}

	if err = ctx.API.ConvertToTemplate(ctx, vmid); err != nil {
		return 0, fmt.Errorf("converting vm %d to template: %w", vmid, err)
	}

	ctx.Observer.Printf("[template] built template %d (%s)", vmid, opts.tag)
	return vmid, nil
}

// firstBoot starts the VM, waits for cloud-init to finish through the guest
// agent, and shuts it back down.
func firstBoot(ctx *provisioning.Context, vmid int) error {
	upid, err := ctx.API.StartVM(ctx, vmid)
	if err != nil {
		return fmt.Errorf("starting vm %d: %w", vmid, err)
	}
	if err := ctx.Wait(upid, ctx.Timeouts.TaskShort); err != nil {
		return fmt.Errorf("waiting for vm %d to start: %w", vmid, err)
	}

	if err := waitAgent(ctx, vmid); err != nil {
		return err
	}
	if err := waitCloudInit(ctx, vmid); err != nil {
		return err
	}

	upid, err = ctx.API.ShutdownVM(ctx, vmid)
	if err != nil {
		return fmt.Errorf("shutting down vm %d: %w", vmid, err)
	}
	if err := ctx.Wait(upid, ctx.Timeouts.TaskShort); err != nil {
		return fmt.Errorf("waiting for vm %d to shut down: %w", vmid, err)
	}
	return nil
}

// waitAgent polls the guest agent until it answers a ping. First boots need
// the agent to observe cloud-init, so an unreachable agent fails the build.
func waitAgent(ctx *provisioning.Context, vmid int) error {
	deadline := time.Now().Add(ctx.Timeouts.AgentWait)
	for {
		if err := ctx.API.AgentPing(ctx, vmid); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("vm %d: guest agent did not answer within %v", vmid, ctx.Timeouts.AgentWait)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

// waitCloudInit runs "cloud-init status --wait" in the guest and polls for
// its completion.
func waitCloudInit(ctx *provisioning.Context, vmid int) error {
	pid, err := ctx.API.AgentExec(ctx, vmid, []string{"cloud-init", "status", "--wait"})
	if err != nil {
		return fmt.Errorf("vm %d: starting cloud-init wait: %w", vmid, err)
	}

	deadline := time.Now().Add(ctx.Timeouts.CloudInitWait)
	for {
		st, err := ctx.API.AgentExecStatus(ctx, vmid, pid)
		if err != nil {
			return fmt.Errorf("vm %d: polling cloud-init wait: %w", vmid, err)
		}
		if st.Exited {
			if st.ExitCode != 0 {
				return fmt.Errorf("vm %d: cloud-init failed with exit code %d: %s", vmid, st.ExitCode, strings.TrimSpace(st.ErrData))
			}
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("vm %d: cloud-init did not finish within %v", vmid, ctx.Timeouts.CloudInitWait)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
		}
	}
}
