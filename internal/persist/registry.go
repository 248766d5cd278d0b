package persist

import (
	"sync"
	"sync/atomic"

	"github.com/jackfruitco/simworks-sub000/internal/identity"
	"github.com/jackfruitco/simworks-sub000/internal/registry"
)

// Registry maps (namespace, schema identity) to handlers.
type Registry struct {
	mu       sync.Mutex
	frozen   atomic.Bool
	exact    map[string]*registry.Registry[Handler]
	fallback *registry.Registry[Handler]
}

// NewRegistry creates an open handler registry.
func NewRegistry() *Registry {
	return &Registry{
		exact:    make(map[string]*registry.Registry[Handler]),
		fallback: registry.New[Handler](identity.DomainHandler + "/" + identity.CoreNamespace),
	}
}

// Register binds h to records of namespace whose schema is schemaID.
func (r *Registry) Register(namespace string, schemaID identity.Identity, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen.Load() {
		return &registry.FrozenError{Kind: identity.DomainHandler + "/" + namespace, ID: schemaID}
	}
	ns, ok := r.exact[namespace]
	if !ok {
		ns = registry.New[Handler](identity.DomainHandler + "/" + namespace)
		r.exact[namespace] = ns
	}
	return ns.Register(schemaID, h)
}

// RegisterFallback binds h to schemaID in every namespace without an exact
// handler.
func (r *Registry) RegisterFallback(schemaID identity.Identity, h Handler) error {
	return r.fallback.Register(schemaID, h)
}

// Resolve returns the handler for (namespace, schemaID), or nil when none is
// registered. A nil handler is not an error.
func (r *Registry) Resolve(namespace string, schemaID identity.Identity) Handler {
	if schemaID.IsZero() {
		return nil
	}
	if ns := r.namespace(namespace); ns != nil {
		if h, ok := ns.Lookup(schemaID); ok {
			return h
		}
	}
	if h, ok := r.fallback.Lookup(schemaID); ok {
		return h
	}
	return nil
}

func (r *Registry) namespace(namespace string) *registry.Registry[Handler] {
	if r.frozen.Load() {
		return r.exact[namespace]
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exact[namespace]
}

// Freeze makes the registry read-only. Idempotent.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ns := range r.exact {
		ns.Freeze()
	}
	r.fallback.Freeze()
	r.frozen.Store(true)
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool {
	return r.frozen.Load()
}

// Len returns the number of exact and fallback bindings.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.fallback.Len()
	for _, ns := range r.exact {
		n += ns.Len()
	}
	return n
}
