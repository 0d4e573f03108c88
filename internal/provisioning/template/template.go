// Package template resolves VM sources into clonable templates or backup
// archives, building and caching templates on the platform as needed.
//
// The cache key is a tag on the template VM: builtin-<name> for catalog
// images, ova-<basename>-<size> for local OVAs. Two processes ensuring the
// same uncached key may both build; each re-reads remote state immediately
// before building, and the loser's duplicate wastes space but nothing else.
// There is deliberately no cross-process lock.
package template

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jcreedy/pvesandbox/internal/config"
	"github.com/jcreedy/pvesandbox/internal/platform/proxmox"
	"github.com/jcreedy/pvesandbox/internal/provisioning"
	"github.com/jcreedy/pvesandbox/internal/util/tags"
)

// Resolved is a VM source mapped onto a concrete platform artifact.
type Resolved struct {
	Kind config.SourceKind
	// TemplateID is set for template-backed sources and is linked-clonable.
	TemplateID int
	// Archive is set for backup sources and must be restored instead.
	Archive string
}

// ResolveOption tunes how a source is materialized.
type ResolveOption func(*resolveOpts)

type resolveOpts struct {
	diskController string
}

// WithDiskController sets the disk bus used when importing an OVA, "scsi"
// (the default) or "ide". Other source kinds ignore it.
func WithDiskController(controller string) ResolveOption {
	return func(o *resolveOpts) {
		o.diskController = controller
	}
}

// Resolve maps a source onto a template VM id or a backup archive,
// building and caching a template when the source calls for one.
func Resolve(ctx *provisioning.Context, src config.TemplateSource, opts ...ResolveOption) (Resolved, error) {
	var ro resolveOpts
	for _, opt := range opts {
		opt(&ro)
	}

	switch src.Kind() {
	case config.SourceBuiltIn:
		id, err := ensureBuiltIn(ctx, src.BuiltIn)
		return Resolved{Kind: config.SourceBuiltIn, TemplateID: id}, err
	case config.SourceOVA:
		id, err := ensureOVA(ctx, src.OVAPath, ro.diskController)
		return Resolved{Kind: config.SourceOVA, TemplateID: id}, err
	case config.SourceExistingTemplate:
		id, err := findUniqueTemplate(ctx, src.ExistingTemplateTag)
		return Resolved{Kind: config.SourceExistingTemplate, TemplateID: id}, err
	case config.SourceExistingBackup:
		archive, err := findBackup(ctx, src.ExistingBackupName)
		return Resolved{Kind: config.SourceExistingBackup, Archive: archive}, err
	default:
		return Resolved{}, fmt.Errorf("source sets no variant")
	}
}

// findTemplatesByTag returns all template VMs carrying tag, lowest id first.
func findTemplatesByTag(ctx *provisioning.Context, tag string) ([]proxmox.VM, error) {
	vms, err := ctx.API.ListVMs(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing vms: %w", err)
	}
	var found []proxmox.VM
	for _, vm := range vms {
		if vm.Template && tags.Has(vm.Tags, tag) {
			found = append(found, vm)
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].VMID < found[j].VMID })
	return found, nil
}

// findUniqueTemplate resolves an existing-template tag. Zero matches is a
// NotFoundError; more than one is an error because the caller gave no way
// to pick.
func findUniqueTemplate(ctx *provisioning.Context, tag string) (int, error) {
	found, err := findTemplatesByTag(ctx, tag)
	if err != nil {
		return 0, err
	}
	switch len(found) {
	case 0:
		return 0, &proxmox.NotFoundError{Kind: "template", Name: tag}
	case 1:
		return found[0].VMID, nil
	default:
		ids := make([]string, len(found))
		for i, vm := range found {
			ids[i] = fmt.Sprintf("%d", vm.VMID)
		}
		return 0, fmt.Errorf("tag %q is ambiguous: matches templates %s", tag, strings.Join(ids, ", "))
	}
}

// findBackup resolves a backup volume by file name.
func findBackup(ctx *provisioning.Context, name string) (string, error) {
	vols, err := ctx.API.ListVolumes(ctx, "backup")
	if err != nil {
		return "", fmt.Errorf("listing backups: %w", err)
	}
	for _, v := range vols {
		if volumeFilename(v.VolID) == name {
			return v.VolID, nil
		}
	}
	return "", &proxmox.NotFoundError{Kind: "backup", Name: name}
}

// ensureOVA returns a template built from the OVA at path, reusing a cached
// one when its fingerprint tag already exists. Templates imported onto the
// non-default ide bus are cached separately.
func ensureOVA(ctx *provisioning.Context, path, diskController string) (int, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat ova: %w", err)
	}

	tag := tags.ForOVA(filepath.Base(path), fi.Size())
	if diskController == "ide" {
		tag += "-ide"
	}
	if found, err := findTemplatesByTag(ctx, tag); err != nil {
		return 0, err
	} else if len(found) > 0 {
		ctx.Observer.Printf("[template] reusing template %d for %s", found[0].VMID, tag)
		return found[0].VMID, nil
	}

	volid, err := uploadOVA(ctx, path, fi.Size())
	if err != nil {
		return 0, err
	}

	name := sanitizeName(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
	return buildTemplate(ctx, buildOpts{
		name:           name,
		tag:            tag,
		volid:          volid,
		diskController: diskController,
		seeded:         false,
	})
}

// uploadOVA puts the OVA into file storage, skipping the upload when a
// same-size copy is already there.
func uploadOVA(ctx *provisioning.Context, path string, size int64) (string, error) {
	filename := filepath.Base(path)

	vols, err := ctx.API.ListVolumes(ctx, "import")
	if err != nil {
		return "", fmt.Errorf("listing import volumes: %w", err)
	}
	for _, v := range vols {
		if volumeFilename(v.VolID) == filename && v.Size == size {
			ctx.Observer.Printf("[template] %s already uploaded, skipping", filename)
			return v.VolID, nil
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening ova: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	ctx.Observer.Printf("[template] uploading %s (%d bytes)", filename, size)
	upid, err := ctx.API.UploadFile(ctx, "import", filename, f, size)
	if err != nil {
		return "", fmt.Errorf("uploading %s: %w", filename, err)
	}
	if err := ctx.Wait(upid, ctx.Timeouts.TaskLong); err != nil {
		return "", fmt.Errorf("waiting for upload of %s: %w", filename, err)
	}

	return fmt.Sprintf("%s:import/%s", ctx.FileStorage, filename), nil
}

// volumeFilename extracts the file name from a volume id like
// "local:import/appliance.ova" or "local:backup/vzdump-qemu-101.vma.zst".
func volumeFilename(volid string) string {
	_, rest, ok := strings.Cut(volid, ":")
	if !ok {
		return volid
	}
	if i := strings.LastIndexByte(rest, '/'); i >= 0 {
		return rest[i+1:]
	}
	return rest
}

// sanitizeName maps s onto a valid VM name.
func sanitizeName(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-.")
}
