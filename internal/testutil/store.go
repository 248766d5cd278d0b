package testutil

import (
	"path/filepath"
	"testing"

	"github.com/jackfruitco/simworks-sub000/internal/store"
)

// NewStore opens a SQLite outbox store in a temp directory, closed on
// cleanup. Extra DDL is applied after the outbox schema.
func NewStore(t *testing.T, ddl ...string) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "outbox.db"), store.WithSchema(ddl...))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}
