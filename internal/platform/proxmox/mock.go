package proxmox

import (
	"context"
	"io"
)

// MockAPI implements API for tests. Every method has a sensible default and
// an overridable Func field, so tests only stub what they care about.
type MockAPI struct {
	NextIDFunc            func(ctx context.Context) (int, error)
	ListVMsFunc           func(ctx context.Context) ([]VM, error)
	CloneVMFunc           func(ctx context.Context, srcID int, opts CloneOpts) (UPID, error)
	RestoreVMFunc         func(ctx context.Context, opts RestoreOpts) (UPID, error)
	CreateVMFunc          func(ctx context.Context, vmid int, config map[string]string) (UPID, error)
	ConfigureVMFunc       func(ctx context.Context, vmid int, config map[string]string) error
	UnsetVMConfigFunc     func(ctx context.Context, vmid int, keys []string) error
	VMStatusFunc          func(ctx context.Context, vmid int) (string, error)
	StartVMFunc           func(ctx context.Context, vmid int) (UPID, error)
	StopVMFunc            func(ctx context.Context, vmid int) (UPID, error)
	ShutdownVMFunc        func(ctx context.Context, vmid int) (UPID, error)
	DeleteVMFunc          func(ctx context.Context, vmid int) (UPID, error)
	ConvertToTemplateFunc func(ctx context.Context, vmid int) error

	ListZonesFunc    func(ctx context.Context) ([]ZoneInfo, error)
	CreateZoneFunc   func(ctx context.Context, zone ZoneInfo) error
	DeleteZoneFunc   func(ctx context.Context, id string) error
	ListVnetsFunc    func(ctx context.Context) ([]VnetInfo, error)
	CreateVnetFunc   func(ctx context.Context, vnet VnetInfo) error
	DeleteVnetFunc   func(ctx context.Context, id string) error
	ListSubnetsFunc  func(ctx context.Context, vnet string) ([]SubnetInfo, error)
	CreateSubnetFunc func(ctx context.Context, vnet string, subnet SubnetInfo) error
	DeleteSubnetFunc func(ctx context.Context, vnet, id string) error
	ApplySDNFunc     func(ctx context.Context) (UPID, error)

	ListVolumesFunc  func(ctx context.Context, content string) ([]Volume, error)
	UploadFileFunc   func(ctx context.Context, content, filename string, r io.Reader, size int64) (UPID, error)
	DownloadURLFunc  func(ctx context.Context, content, filename, url string) (UPID, error)
	DeleteVolumeFunc func(ctx context.Context, volid string) (UPID, error)

	TaskStatusFunc func(ctx context.Context, upid UPID) (*TaskStatus, error)

	AgentPingFunc       func(ctx context.Context, vmid int) error
	AgentExecFunc       func(ctx context.Context, vmid int, cmd []string) (int, error)
	AgentExecStatusFunc func(ctx context.Context, vmid, pid int) (*ExecStatus, error)
}

const mockUPID = UPID("UPID:mock:00000000:00000000:00000000:mock::root@pam:")

func (m *MockAPI) NextID(ctx context.Context) (int, error) {
	if m.NextIDFunc != nil {
		return m.NextIDFunc(ctx)
	}
	return 100, nil
}

func (m *MockAPI) ListVMs(ctx context.Context) ([]VM, error) {
	if m.ListVMsFunc != nil {
		return m.ListVMsFunc(ctx)
	}
	return nil, nil
}

func (m *MockAPI) CloneVM(ctx context.Context, srcID int, opts CloneOpts) (UPID, error) {
	if m.CloneVMFunc != nil {
		return m.CloneVMFunc(ctx, srcID, opts)
	}
	return mockUPID, nil
}

func (m *MockAPI) RestoreVM(ctx context.Context, opts RestoreOpts) (UPID, error) {
	if m.RestoreVMFunc != nil {
		return m.RestoreVMFunc(ctx, opts)
	}
	return mockUPID, nil
}

func (m *MockAPI) CreateVM(ctx context.Context, vmid int, config map[string]string) (UPID, error) {
	if m.CreateVMFunc != nil {
		return m.CreateVMFunc(ctx, vmid, config)
	}
	return mockUPID, nil
}

func (m *MockAPI) ConfigureVM(ctx context.Context, vmid int, config map[string]string) error {
	if m.ConfigureVMFunc != nil {
		return m.ConfigureVMFunc(ctx, vmid, config)
	}
	return nil
}

func (m *MockAPI) UnsetVMConfig(ctx context.Context, vmid int, keys []string) error {
	if m.UnsetVMConfigFunc != nil {
		return m.UnsetVMConfigFunc(ctx, vmid, keys)
	}
	return nil
}

func (m *MockAPI) VMStatus(ctx context.Context, vmid int) (string, error) {
	if m.VMStatusFunc != nil {
		return m.VMStatusFunc(ctx, vmid)
	}
	return "stopped", nil
}

func (m *MockAPI) StartVM(ctx context.Context, vmid int) (UPID, error) {
	if m.StartVMFunc != nil {
		return m.StartVMFunc(ctx, vmid)
	}
	return mockUPID, nil
}

func (m *MockAPI) StopVM(ctx context.Context, vmid int) (UPID, error) {
	if m.StopVMFunc != nil {
		return m.StopVMFunc(ctx, vmid)
	}
	return mockUPID, nil
}

func (m *MockAPI) ShutdownVM(ctx context.Context, vmid int) (UPID, error) {
	if m.ShutdownVMFunc != nil {
		return m.ShutdownVMFunc(ctx, vmid)
	}
	return mockUPID, nil
}

func (m *MockAPI) DeleteVM(ctx context.Context, vmid int) (UPID, error) {
	if m.DeleteVMFunc != nil {
		return m.DeleteVMFunc(ctx, vmid)
	}
	return mockUPID, nil
}

func (m *MockAPI) ConvertToTemplate(ctx context.Context, vmid int) error {
	if m.ConvertToTemplateFunc != nil {
		return m.ConvertToTemplateFunc(ctx, vmid)
	}
	return nil
}

func (m *MockAPI) ListZones(ctx context.Context) ([]ZoneInfo, error) {
	if m.ListZonesFunc != nil {
		return m.ListZonesFunc(ctx)
	}
	return nil, nil
}

func (m *MockAPI) CreateZone(ctx context.Context, zone ZoneInfo) error {
	if m.CreateZoneFunc != nil {
		return m.CreateZoneFunc(ctx, zone)
	}
	return nil
}

func (m *MockAPI) DeleteZone(ctx context.Context, id string) error {
	if m.DeleteZoneFunc != nil {
		return m.DeleteZoneFunc(ctx, id)
	}
	return nil
}

func (m *MockAPI) ListVnets(ctx context.Context) ([]VnetInfo, error) {
	if m.ListVnetsFunc != nil {
		return m.ListVnetsFunc(ctx)
	}
	return nil, nil
}

func (m *MockAPI) CreateVnet(ctx context.Context, vnet VnetInfo) error {
	if m.CreateVnetFunc != nil {
		return m.CreateVnetFunc(ctx, vnet)
	}
	return nil
}

func (m *MockAPI) DeleteVnet(ctx context.Context, id string) error {
	if m.DeleteVnetFunc != nil {
		return m.DeleteVnetFunc(ctx, id)
	}
	return nil
}

func (m *MockAPI) ListSubnets(ctx context.Context, vnet string) ([]SubnetInfo, error) {
	if m.ListSubnetsFunc != nil {
		return m.ListSubnetsFunc(ctx, vnet)
	}
	return nil, nil
}

func (m *MockAPI) CreateSubnet(ctx context.Context, vnet string, subnet SubnetInfo) error {
	if m.CreateSubnetFunc != nil {
		return m.CreateSubnetFunc(ctx, vnet, subnet)
	}
	return nil
}

func (m *MockAPI) DeleteSubnet(ctx context.Context, vnet, id string) error {
	if m.DeleteSubnetFunc != nil {
		return m.DeleteSubnetFunc(ctx, vnet, id)
	}
	return nil
}

func (m *MockAPI) ApplySDN(ctx context.Context) (UPID, error) {
	if m.ApplySDNFunc != nil {
		return m.ApplySDNFunc(ctx)
	}
	return mockUPID, nil
}

func (m *MockAPI) ListVolumes(ctx context.Context, content string) ([]Volume, error) {
	if m.ListVolumesFunc != nil {
		return m.ListVolumesFunc(ctx, content)
	}
	return nil, nil
}

func (m *MockAPI) UploadFile(ctx context.Context, content, filename string, r io.Reader, size int64) (UPID, error) {
	if m.UploadFileFunc != nil {
		return m.UploadFileFunc(ctx, content, filename, r, size)
	}
	return mockUPID, nil
}

func (m *MockAPI) DownloadURL(ctx context.Context, content, filename, url string) (UPID, error) {
	if m.DownloadURLFunc != nil {
		return m.DownloadURLFunc(ctx, content, filename, url)
	}
	return mockUPID, nil
}

func (m *MockAPI) DeleteVolume(ctx context.Context, volid string) (UPID, error) {
	if m.DeleteVolumeFunc != nil {
		return m.DeleteVolumeFunc(ctx, volid)
	}
	return mockUPID, nil
}

func (m *MockAPI) TaskStatus(ctx context.Context, upid UPID) (*TaskStatus, error) {
	if m.TaskStatusFunc != nil {
		return m.TaskStatusFunc(ctx, upid)
	}
	return &TaskStatus{UPID: upid, Status: "stopped", ExitStatus: "OK"}, nil
}

func (m *MockAPI) AgentPing(ctx context.Context, vmid int) error {
	if m.AgentPingFunc != nil {
		return m.AgentPingFunc(ctx, vmid)
	}
	return nil
}

func (m *MockAPI) AgentExec(ctx context.Context, vmid int, cmd []string) (int, error) {
	if m.AgentExecFunc != nil {
		return m.AgentExecFunc(ctx, vmid, cmd)
	}
	return 1, nil
}

func (m *MockAPI) AgentExecStatus(ctx context.Context, vmid, pid int) (*ExecStatus, error) {
	if m.AgentExecStatusFunc != nil {
		return m.AgentExecStatusFunc(ctx, vmid, pid)
	}
	return &ExecStatus{Exited: true, ExitCode: 0}, nil
}

var _ API = (*MockAPI)(nil)
