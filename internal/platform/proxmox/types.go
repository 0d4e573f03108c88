package proxmox

// UPID identifies an asynchronous task on the platform.
type UPID string

// TaskStatus is the polled state of an asynchronous task.
type TaskStatus struct {
	UPID       UPID   `json:"upid"`
	Status     string `json:"status"`     // "running" or "stopped"
	ExitStatus string `json:"exitstatus"` // set once stopped, "OK" on success
}

// Finished reports whether the task reached a terminal state.
func (t *TaskStatus) Finished() bool {
	return t.Status == "stopped"
}

// OK reports whether the task finished successfully.
func (t *TaskStatus) OK() bool {
	return t.Finished() && t.ExitStatus == "OK"
}

// VM is a cluster-wide view of a virtual machine.
type VM struct {
	VMID     int    `json:"vmid"`
	Name     string `json:"name"`
	Node     string `json:"node"`
	Status   string `json:"status"`
	Tags     string `json:"tags"` // ";"-separated
	Template bool   `json:"-"`
}

// CloneOpts holds parameters for cloning a VM.
type CloneOpts struct {
	NewID int
	Name  string
	// Full forces a full copy. False produces a linked clone, which is the
	// fast path for template-backed sandbox VMs.
	Full bool
}

// RestoreOpts holds parameters for restoring a VM from a backup archive.
type RestoreOpts struct {
	VMID    int
	Archive string // backup volume id
	Name    string
	Storage string // target storage for restored disks
}

// ZoneInfo describes an SDN zone.
type ZoneInfo struct {
	Zone string `json:"zone"`
	Type string `json:"type"`
	DHCP string `json:"dhcp,omitempty"`
	IPAM string `json:"ipam,omitempty"`
}

// VnetInfo describes an SDN virtual network.
type VnetInfo struct {
	Vnet  string `json:"vnet"`
	Zone  string `json:"zone"`
	Alias string `json:"alias,omitempty"`
}

// DHCPRange is one start/end address pair of a subnet's DHCP pool.
type DHCPRange struct {
	Start string
	End   string
}

// SubnetInfo describes an SDN subnet.
type SubnetInfo struct {
	ID         string `json:"subnet"` // platform id, e.g. "abc123z-192.168.7.0-24"
	Vnet       string `json:"vnet"`
	CIDR       string `json:"cidr"`
	Gateway    string `json:"gateway,omitempty"`
	SNAT       bool   `json:"-"`
	DHCPRanges []DHCPRange
}

// Volume is a storage content entry.
type Volume struct {
	VolID  string `json:"volid"`
	Size   int64  `json:"size"`
	Format string `json:"format"`
}

// ExecStatus is the polled state of a guest-agent command.
type ExecStatus struct {
	Exited   bool   `json:"-"`
	ExitCode int    `json:"exitcode"`
	OutData  string `json:"out-data"`
	ErrData  string `json:"err-data"`
}
