// Package provisioning provides shared types and interfaces for sandbox
// session provisioning.
//
// The provisioning domain is organized into focused subpackages:
//   - sdn/ — session zones, VNets and subnets
//   - template/ — template cache and built-in image builds
//   - vm/ — VM cloning, configuration and startup
//   - destroy/ — teardown and orphan sweeps
//
// This root package contains the phase pipeline, the shared context and
// state types, and the session-level error taxonomy.
package provisioning

// Phase defines the interface for a provisioning phase.
type Phase interface {
	// Name returns the human-readable name of this phase.
	Name() string

	// Provision executes the provisioning logic for this phase.
	Provision(ctx *Context) error
}
