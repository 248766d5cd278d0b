// Package persist turns recorded call results into domain objects.
//
// A Handler is resolved by (namespace, schema identity): an exact match
// first, then a core-level fallback keyed by schema identity alone, then
// nothing. Handlers create their objects through Once, which keys the work on
// the persisted chunk (correlation id, schema identity) so a handler invoked
// twice for the same record returns the first reference instead of creating
// a duplicate.
package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackfruitco/simworks-sub000/internal/identity"
	"github.com/jackfruitco/simworks-sub000/internal/outbox"
)

// Handler persists one call record's structured result.
type Handler interface {
	Identity() identity.Identity
	Persist(ctx context.Context, rec outbox.CallRecord) (outbox.DomainRef, error)
}

// Once returns the reference of the chunk for rec, creating the domain
// objects with create only when no chunk has been attached yet. created
// reports whether create ran.
func Once(ctx context.Context, chunks outbox.ChunkStore, rec outbox.CallRecord, handler identity.Identity, create outbox.CreateFunc) (ref outbox.DomainRef, created bool, err error) {
	key := outbox.ChunkKey{CorrelationID: rec.CorrelationID, Schema: rec.Schema}

	existing, err := chunks.GetChunk(ctx, key)
	switch {
	case err == nil && !existing.Ref.IsZero():
		return existing.Ref, false, nil
	case err != nil && !errors.Is(err, outbox.ErrNotFound):
		return outbox.DomainRef{}, false, fmt.Errorf("lookup chunk: %w", err)
	}

	return chunks.PersistOnce(ctx, outbox.PersistedChunk{
		Key:       key,
		Namespace: rec.Namespace,
		Handler:   handler,
	}, create)
}

// Typed is a Handler that decodes the result into T and creates domain
// objects once per record.
type Typed[T any] struct {
	ID     identity.Identity
	Chunks outbox.ChunkStore
	Create func(ctx context.Context, rec outbox.CallRecord, out T) (outbox.DomainRef, error)
}

func (h *Typed[T]) Identity() identity.Identity { return h.ID }

func (h *Typed[T]) Persist(ctx context.Context, rec outbox.CallRecord) (outbox.DomainRef, error) {
	if rec.Result == nil {
		return outbox.DomainRef{}, fmt.Errorf("%s: record %s has no result", h.ID, rec.CorrelationID)
	}
	var out T
	if err := json.Unmarshal(rec.Result, &out); err != nil {
		return outbox.DomainRef{}, fmt.Errorf("%s: decode result of %s: %w", h.ID, rec.CorrelationID, err)
	}
	ref, _, err := Once(ctx, h.Chunks, rec, h.ID, func(ctx context.Context) (outbox.DomainRef, error) {
		return h.Create(ctx, rec, out)
	})
	return ref, err
}
