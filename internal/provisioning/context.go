package provisioning

import (
	"context"
	"time"

	"github.com/jcreedy/pvesandbox/internal/config"
	"github.com/jcreedy/pvesandbox/internal/platform/proxmox"
	"github.com/jcreedy/pvesandbox/internal/tracker"
)

// Context wraps all dependencies and state needed for a provisioning phase.
type Context struct {
	context.Context
	Config   *config.SandboxConfig
	State    *State
	API      proxmox.API
	Registry *tracker.Registry
	Observer Observer
	Timeouts *config.Timeouts

	// FileStorage holds uploaded artifacts (OVAs, ISOs); DiskStorage holds
	// VM disks created from them.
	FileStorage string
	DiskStorage string
}

// NewContext creates a new provisioning context.
func NewContext(
	ctx context.Context,
	cfg *config.SandboxConfig,
	api proxmox.API,
	reg *tracker.Registry,
) *Context {
	return &Context{
		Context:     ctx,
		Config:      cfg,
		State:       NewState(),
		API:         api,
		Registry:    reg,
		Observer:    NewConsoleObserver(),
		Timeouts:    config.LoadTimeouts(),
		FileStorage: "local",
		DiskStorage: "local-lvm",
	}
}

// Wait blocks until the task finishes, retrying status reads per the
// session's timeout settings.
func (c *Context) Wait(upid proxmox.UPID, timeout time.Duration) error {
	return proxmox.WaitTask(c, c.API, upid, timeout,
		proxmox.WithStatusRetries(c.Timeouts.RetryMaxAttempts, c.Timeouts.RetryInitialDelay))
}
