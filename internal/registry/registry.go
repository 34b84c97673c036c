package registry

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ppiankov/gatewatch/internal/detector"
)

// ErrTierUnavailable is returned by Resolve when a tier has no active model.
// The router treats it as a skip, not an abort.
var ErrTierUnavailable = errors.New("no active model for tier")

// ModelHandle binds a tier name to one immutable model version. A handle
// owns no mutable state; swapping versions means swapping handles.
type ModelHandle struct {
	Tier     string
	Version  string
	Detector detector.Detector
}

// state is the immutable snapshot the read path sees. Activation replaces
// the whole snapshot; it never mutates a published map.
type state struct {
	handles map[string]*ModelHandle
	order   []string
}

// Registry maps tier names to their currently active ModelHandle. Reads go
// through an atomic pointer load; no locks on the request path. In-flight
// requests keep whatever handle they resolved at start, so an activation
// never switches models mid-request.
type Registry struct {
	current atomic.Pointer[state]
	mu      sync.Mutex // serializes activations only
}

// New creates an empty registry.
func New() *Registry {
	r := &Registry{}
	r.current.Store(&state{handles: map[string]*ModelHandle{}})
	return r
}

// Resolve returns the active handle for a tier.
func (r *Registry) Resolve(tier string) (*ModelHandle, error) {
	s := r.current.Load()
	h, ok := s.handles[tier]
	if !ok || h == nil {
		return nil, fmt.Errorf("%w: %s", ErrTierUnavailable, tier)
	}
	return h, nil
}

// Activate publishes a new handle for a tier via copy-on-write snapshot
// swap. Subsequent Resolve calls see the new handle; requests already
// holding the old one are unaffected. First activation of a tier fixes its
// registration order.
func (r *Registry) Activate(tier string, h *ModelHandle) error {
	if h == nil || h.Detector == nil {
		return fmt.Errorf("activate %s: nil handle", tier)
	}
	if h.Tier == "" {
		h.Tier = tier
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.current.Load()
	next := &state{
		handles: make(map[string]*ModelHandle, len(old.handles)+1),
		order:   old.order,
	}
	for k, v := range old.handles {
		next.handles[k] = v
	}
	if _, seen := next.handles[tier]; !seen {
		next.order = append(append([]string{}, old.order...), tier)
	}
	next.handles[tier] = h

	r.current.Store(next)
	return nil
}

// Deactivate removes a tier's active handle. Resolve fails with
// ErrTierUnavailable afterwards; registration order is retained.
func (r *Registry) Deactivate(tier string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.current.Load()
	if _, ok := old.handles[tier]; !ok {
		return
	}
	next := &state{
		handles: make(map[string]*ModelHandle, len(old.handles)),
		order:   old.order,
	}
	for k, v := range old.handles {
		if k != tier {
			next.handles[k] = v
		}
	}
	r.current.Store(next)
}

// Tiers returns tier names in registration order. The router uses this as
// the deterministic tie-break for equal priorities.
func (r *Registry) Tiers() []string {
	s := r.current.Load()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Versions returns the active tier→version mapping for introspection.
func (r *Registry) Versions() map[string]string {
	s := r.current.Load()
	out := make(map[string]string, len(s.handles))
	for tier, h := range s.handles {
		out[tier] = h.Version
	}
	return out
}
