// Package tracker provides the crash-safe registry of resources created for
// a sandbox session.
//
// Resources are registered eagerly, before the remote call that creates them
// is confirmed, so an interrupt between the call going out and the response
// coming back still leaves enough information behind to tear the resource
// down. Registries are plain values passed explicitly, never package state,
// so independent sessions and tests never share one.
package tracker

import "sync"

// Kind identifies the type of a tracked resource.
type Kind string

const (
	// KindVM tracks a virtual machine by its numeric id.
	KindVM Kind = "vm"
	// KindZone tracks an SDN zone by its id. Deleting a zone implies
	// deleting its VNets and subnets first.
	KindZone Kind = "zone"
)

// Resource is one tracked (kind, id) pair.
type Resource struct {
	Kind Kind
	ID   string
}

// Registry is a concurrency-safe append-only set of resources pending
// cleanup.
type Registry struct {
	mu    sync.Mutex
	items []Resource
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{}
}

// Register records a resource for later cleanup. Safe for concurrent use.
func (r *Registry) Register(kind Kind, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, Resource{Kind: kind, ID: id})
}

// Drain atomically takes ownership of the registered set and clears it.
// Exactly one caller observes each registered resource; a second Drain
// returns nothing, which is what makes teardown idempotent.
func (r *Registry) Drain() []Resource {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := r.items
	r.items = nil
	return items
}

// Len returns the number of currently registered resources.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}
