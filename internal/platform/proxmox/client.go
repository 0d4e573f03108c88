// Package proxmox provides a wrapper around the Proxmox VE HTTP API.
//
// The orchestration code depends only on the interfaces defined here; Client
// is the real implementation and MockAPI the test double.
package proxmox

import (
	"context"
	"io"
)

// VMManager defines the interface for managing virtual machines.
type VMManager interface {
	// NextID reserves nothing; it returns the cluster's next free VM id.
	// Callers must tolerate losing the race for it.
	NextID(ctx context.Context) (int, error)
	// ListVMs returns all VMs in the cluster, templates included.
	ListVMs(ctx context.Context) ([]VM, error)
	CloneVM(ctx context.Context, srcID int, opts CloneOpts) (UPID, error)
	RestoreVM(ctx context.Context, opts RestoreOpts) (UPID, error)
	// CreateVM creates an empty VM with the given config keys. Used for OVA
	// imports where disks arrive via import-from references.
	CreateVM(ctx context.Context, vmid int, config map[string]string) (UPID, error)
	// ConfigureVM applies config key changes to an existing VM.
	ConfigureVM(ctx context.Context, vmid int, config map[string]string) error
	// UnsetVMConfig removes config keys from a VM.
	UnsetVMConfig(ctx context.Context, vmid int, keys []string) error
	VMStatus(ctx context.Context, vmid int) (string, error)
	StartVM(ctx context.Context, vmid int) (UPID, error)
	StopVM(ctx context.Context, vmid int) (UPID, error)
	ShutdownVM(ctx context.Context, vmid int) (UPID, error)
	DeleteVM(ctx context.Context, vmid int) (UPID, error)
	ConvertToTemplate(ctx context.Context, vmid int) error
}

// SDNManager defines the interface for managing software-defined networks.
// Zone, VNet and subnet changes are staged; ApplySDN commits the pending
// change set and returns the reload task.
type SDNManager interface {
	ListZones(ctx context.Context) ([]ZoneInfo, error)
	CreateZone(ctx context.Context, zone ZoneInfo) error
	DeleteZone(ctx context.Context, id string) error
	ListVnets(ctx context.Context) ([]VnetInfo, error)
	CreateVnet(ctx context.Context, vnet VnetInfo) error
	DeleteVnet(ctx context.Context, id string) error
	ListSubnets(ctx context.Context, vnet string) ([]SubnetInfo, error)
	CreateSubnet(ctx context.Context, vnet string, subnet SubnetInfo) error
	DeleteSubnet(ctx context.Context, vnet, id string) error
	ApplySDN(ctx context.Context) (UPID, error)
}

// StorageManager defines the interface for the configured storage.
type StorageManager interface {
	// ListVolumes lists storage content filtered by content type
	// ("iso", "import", "backup").
	ListVolumes(ctx context.Context, content string) ([]Volume, error)
	UploadFile(ctx context.Context, content, filename string, r io.Reader, size int64) (UPID, error)
	// DownloadURL asks the node to fetch a remote file into storage.
	DownloadURL(ctx context.Context, content, filename, url string) (UPID, error)
	DeleteVolume(ctx context.Context, volid string) (UPID, error)
}

// TaskReader reads asynchronous task state.
type TaskReader interface {
	TaskStatus(ctx context.Context, upid UPID) (*TaskStatus, error)
}

// GuestAgent defines the interface for talking to the QEMU guest agent.
type GuestAgent interface {
	AgentPing(ctx context.Context, vmid int) error
	// AgentExec starts a command in the guest and returns its pid.
	AgentExec(ctx context.Context, vmid int, cmd []string) (int, error)
	AgentExecStatus(ctx context.Context, vmid int, pid int) (*ExecStatus, error)
}

// API combines all platform interfaces.
type API interface {
	VMManager
	SDNManager
	StorageManager
	TaskReader
	GuestAgent
}
