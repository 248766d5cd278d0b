// Package registry provides the freeze-once component registry.
//
// A Registry is open while the application bootstraps: components are
// registered under their Identity and collisions are rejected. Freeze is a
// one-way transition to a read-only phase. After Freeze the entries are
// published as an immutable map behind an atomic pointer, so lookups take no
// lock and allocate nothing on a hit.
//
// The application owns one Registry per component kind; there are no
// package-level registries.
package registry

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/jackfruitco/simworks-sub000/internal/identity"
)

// Sentinel errors matched by the typed errors below via errors.Is.
var (
	ErrCollision = errors.New("identity already registered")
	ErrNotFound  = errors.New("identity not registered")
	ErrFrozen    = errors.New("registry is frozen")
)

// CollisionError is returned by Register when the identity is already bound
// and the registry does not allow overwrites.
type CollisionError struct {
	Kind string
	ID   identity.Identity
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("%s registry: %s already registered", e.Kind, e.ID)
}

func (e *CollisionError) Is(target error) bool { return target == ErrCollision }

// NotFoundError is returned by Get for an unbound identity.
type NotFoundError struct {
	Kind string
	ID   identity.Identity
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s registry: %s not registered", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// FrozenError is returned by Register after Freeze.
type FrozenError struct {
	Kind string
	ID   identity.Identity
}

func (e *FrozenError) Error() string {
	return fmt.Sprintf("%s registry: cannot register %s after freeze", e.Kind, e.ID)
}

func (e *FrozenError) Is(target error) bool { return target == ErrFrozen }

// Option configures a Registry.
type Option func(*options)

type options struct {
	allowOverwrite bool
}

// AllowOverwrite lets a later Register replace an existing binding instead of
// failing with CollisionError.
func AllowOverwrite() Option {
	return func(o *options) { o.allowOverwrite = true }
}

// Registry maps identities to components of type T.
type Registry[T any] struct {
	kind string
	opts options

	mu      sync.Mutex
	entries map[identity.Identity]T

	// frozen is nil while open. Once set it is never written again.
	frozen atomic.Pointer[map[identity.Identity]T]
}

// New creates an open registry. kind is used in error messages ("codec",
// "schema", ...).
func New[T any](kind string, opts ...Option) *Registry[T] {
	r := &Registry[T]{
		kind:    kind,
		entries: make(map[identity.Identity]T),
	}
	for _, opt := range opts {
		opt(&r.opts)
	}
	return r
}

// Kind returns the label this registry was created with.
func (r *Registry[T]) Kind() string {
	return r.kind
}

// Register binds id to component.
func (r *Registry[T]) Register(id identity.Identity, component T) error {
	if id.IsZero() {
		return fmt.Errorf("%s registry: cannot register zero identity", r.kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen.Load() != nil {
		return &FrozenError{Kind: r.kind, ID: id}
	}
	if _, exists := r.entries[id]; exists && !r.opts.allowOverwrite {
		return &CollisionError{Kind: r.kind, ID: id}
	}
	r.entries[id] = component
	return nil
}

// Get returns the component bound to id or a *NotFoundError.
func (r *Registry[T]) Get(id identity.Identity) (T, error) {
	if c, ok := r.Lookup(id); ok {
		return c, nil
	}
	var zero T
	return zero, &NotFoundError{Kind: r.kind, ID: id}
}

// Lookup returns the component bound to id and whether it was found.
func (r *Registry[T]) Lookup(id identity.Identity) (T, bool) {
	if m := r.frozen.Load(); m != nil {
		c, ok := (*m)[id]
		return c, ok
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.entries[id]
	return c, ok
}

// Freeze makes the registry read-only. Calling it again has no effect.
func (r *Registry[T]) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen.Load() != nil {
		return
	}
	snapshot := make(map[identity.Identity]T, len(r.entries))
	for id, c := range r.entries {
		snapshot[id] = c
	}
	r.frozen.Store(&snapshot)
	r.entries = nil
}

// Frozen reports whether Freeze has been called.
func (r *Registry[T]) Frozen() bool {
	return r.frozen.Load() != nil
}

// Len returns the number of registered components.
func (r *Registry[T]) Len() int {
	if m := r.frozen.Load(); m != nil {
		return len(*m)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Identities returns all registered identities in Compare order.
func (r *Registry[T]) Identities() []identity.Identity {
	var src map[identity.Identity]T
	if m := r.frozen.Load(); m != nil {
		src = *m
	} else {
		r.mu.Lock()
		defer r.mu.Unlock()
		src = r.entries
	}
	ids := make([]identity.Identity, 0, len(src))
	for id := range src {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, identity.Identity.Compare)
	return ids
}
