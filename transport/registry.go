package transport

import (
	mapset "github.com/deckarep/golang-set/v2"
)

// Registry is the process-local set of users with a running driver. One
// driver per uid across all connections; Claim is the atomic test-and-set
// that prevents a double spawn under concurrent register frames.
type Registry struct {
	active mapset.Set[string]
}

func NewRegistry() *Registry {
	return &Registry{active: mapset.NewSet[string]()}
}

// Claim marks uid as driven. Returns false when a driver already runs.
func (r *Registry) Claim(uid string) bool {
	return r.active.Add(uid)
}

// Release frees uid so a future channel may register it again.
func (r *Registry) Release(uid string) {
	r.active.Remove(uid)
}

// Active reports whether uid currently has a driver.
func (r *Registry) Active(uid string) bool {
	return r.active.Contains(uid)
}

// Count returns the number of running drivers.
func (r *Registry) Count() int {
	return r.active.Cardinality()
}
