package provisioning

import "sync"

// VMResult describes one provisioned VM.
type VMResult struct {
	VMID  int
	Name  string
	Tags  []string
	Vnets []string // vnet id per NIC, in NIC order
}

// State holds the shared results of provisioning phases.
// It is progressively populated as each phase completes and is passed
// to subsequent phases that need earlier results.
type State struct {
	// Session identity (populated before any phase runs)
	Prefix string

	// SDN results (populated by the sdn provisioner)
	ZoneID      string
	VnetIDs     []string          // session vnet ids, declaration order
	VnetByAlias map[string]string // alias or id -> vnet id

	// VM results (populated concurrently by the vm provisioner)
	mu  sync.Mutex
	VMs []VMResult
}

// NewState creates an empty provisioning state.
func NewState() *State {
	return &State{
		VnetByAlias: make(map[string]string),
	}
}

// AddVM appends a VM result. Safe for concurrent use; VM provisioning
// runs in parallel.
func (s *State) AddVM(vm VMResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.VMs = append(s.VMs, vm)
}

// VMResults returns a copy of the recorded VM results.
func (s *State) VMResults() []VMResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]VMResult, len(s.VMs))
	copy(out, s.VMs)
	return out
}
