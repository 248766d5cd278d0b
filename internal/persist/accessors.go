package persist

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackfruitco/simworks-sub000/internal/outbox"
)

// Accessor loads the domain row a reference points at.
type Accessor func(ctx context.Context, rowID int64) (any, error)

// Accessors dereferences DomainRef values by table name. Each domain package
// registers one accessor per table it writes.
type Accessors struct {
	mu sync.RWMutex
	m  map[string]Accessor
}

func NewAccessors() *Accessors {
	return &Accessors{m: make(map[string]Accessor)}
}

// Register binds table to fn. A table can only be bound once.
func (a *Accessors) Register(table string, fn Accessor) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.m[table]; ok {
		return fmt.Errorf("accessor for table %q already registered", table)
	}
	a.m[table] = fn
	return nil
}

// Load dereferences ref.
func (a *Accessors) Load(ctx context.Context, ref outbox.DomainRef) (any, error) {
	if ref.IsZero() {
		return nil, fmt.Errorf("load: empty domain reference")
	}
	a.mu.RLock()
	fn, ok := a.m[ref.Table]
	a.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("load %s: no accessor for table %q", ref, ref.Table)
	}
	return fn(ctx, ref.RowID)
}

// Tables returns the number of registered tables.
func (a *Accessors) Tables() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.m)
}
