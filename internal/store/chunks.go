package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackfruitco/simworks-sub000/internal/outbox"
	"github.com/jackfruitco/simworks-sub000/internal/platform/txctx"
)

const chunkColumns = `id, correlation_id, schema_identity, namespace, handler_identity, domain_table, domain_row_id, created_at`

// PersistOnce claims the chunk slot for chunk.Key via the unique constraint
// and, only if the slot was free, runs create in the same transaction and
// attaches the returned reference.
//
// If the insert conflicts, the existing row is authoritative: its reference
// is returned and create is not called. A conflicting row without a reference
// yields ErrChunkInProgress. create sees the transaction through txctx, so
// domain rows and the chunk commit or roll back together.
func (s *Store) PersistOnce(ctx context.Context, chunk outbox.PersistedChunk, create outbox.CreateFunc) (outbox.DomainRef, bool, error) {
	key := chunk.Key
	if key.CorrelationID == "" || key.Schema.IsZero() {
		return outbox.DomainRef{}, false, fmt.Errorf("persist once: chunk key is incomplete")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return outbox.DomainRef{}, false, fmt.Errorf("persist once %s: begin tx: %w", key.CorrelationID, err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx, s.d.Rebind(`
		INSERT INTO persisted_chunks
		(correlation_id, schema_identity, namespace, handler_identity, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (correlation_id, schema_identity) DO NOTHING
		RETURNING id
	`),
		key.CorrelationID,
		key.Schema.String(),
		chunk.Namespace,
		chunk.Handler.String(),
		timestamp(s.now()),
	).Scan(&id)

	if errors.Is(err, sql.ErrNoRows) {
		existing, err := s.getChunk(ctx, tx, key)
		if err != nil {
			return outbox.DomainRef{}, false, fmt.Errorf("persist once %s: select existing: %w", key.CorrelationID, err)
		}
		if err := tx.Commit(); err != nil {
			return outbox.DomainRef{}, false, fmt.Errorf("persist once %s: commit (existing): %w", key.CorrelationID, err)
		}
		if existing.Ref.IsZero() {
			return outbox.DomainRef{}, false, fmt.Errorf("persist once %s: %w", key.CorrelationID, outbox.ErrChunkInProgress)
		}
		return existing.Ref, false, nil
	}
	if err != nil {
		return outbox.DomainRef{}, false, fmt.Errorf("persist once %s: insert chunk: %w", key.CorrelationID, err)
	}

	ref, err := create(txctx.With(ctx, tx))
	if err != nil {
		return outbox.DomainRef{}, false, err
	}
	if ref.IsZero() {
		return outbox.DomainRef{}, false, fmt.Errorf("persist once %s: handler returned an empty domain reference", key.CorrelationID)
	}

	res, err := tx.ExecContext(ctx, s.d.Rebind(`
		UPDATE persisted_chunks SET domain_table = ?, domain_row_id = ?
		WHERE id = ? AND domain_table IS NULL
	`), ref.Table, ref.RowID, id)
	if err != nil {
		return outbox.DomainRef{}, false, fmt.Errorf("persist once %s: attach reference: %w", key.CorrelationID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n != 1 {
		return outbox.DomainRef{}, false, fmt.Errorf("persist once %s: reference already attached", key.CorrelationID)
	}

	if err := tx.Commit(); err != nil {
		return outbox.DomainRef{}, false, fmt.Errorf("persist once %s: commit: %w", key.CorrelationID, err)
	}
	return ref, true, nil
}

// GetChunk reads the chunk for key.
func (s *Store) GetChunk(ctx context.Context, key outbox.ChunkKey) (outbox.PersistedChunk, error) {
	c, err := s.getChunk(ctx, s.db, key)
	if err != nil {
		return outbox.PersistedChunk{}, fmt.Errorf("get chunk %s/%s: %w", key.CorrelationID, key.Schema, err)
	}
	return c, nil
}

// ListChunks returns all chunks created for a call record.
func (s *Store) ListChunks(ctx context.Context, correlationID string) ([]outbox.PersistedChunk, error) {
	rows, err := s.db.QueryContext(ctx, s.d.Rebind(`
		SELECT `+chunkColumns+` FROM persisted_chunks
		WHERE correlation_id = ? ORDER BY id ASC
	`), correlationID)
	if err != nil {
		return nil, fmt.Errorf("list chunks %s: %w", correlationID, err)
	}
	defer rows.Close()

	var out []outbox.PersistedChunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("list chunks %s: %w", correlationID, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) getChunk(ctx context.Context, q txctx.Execer, key outbox.ChunkKey) (outbox.PersistedChunk, error) {
	row := q.QueryRowContext(ctx, s.d.Rebind(`
		SELECT `+chunkColumns+` FROM persisted_chunks
		WHERE correlation_id = ? AND schema_identity = ?
	`), key.CorrelationID, key.Schema.String())
	c, err := scanChunk(row)
	if errors.Is(err, sql.ErrNoRows) {
		return outbox.PersistedChunk{}, outbox.ErrNotFound
	}
	return c, err
}

func scanChunk(sc scanner) (outbox.PersistedChunk, error) {
	var (
		c                 outbox.PersistedChunk
		schemaID, handler string
		table             sql.NullString
		rowID             sql.NullInt64
	)
	if err := sc.Scan(&c.ID, &c.Key.CorrelationID, &schemaID, &c.Namespace, &handler, &table, &rowID, &c.CreatedAt); err != nil {
		return outbox.PersistedChunk{}, err
	}
	var err error
	if c.Key.Schema, err = parseIdentity(schemaID); err != nil {
		return outbox.PersistedChunk{}, fmt.Errorf("schema identity: %w", err)
	}
	if c.Handler, err = parseIdentity(handler); err != nil {
		return outbox.PersistedChunk{}, fmt.Errorf("handler identity: %w", err)
	}
	if table.Valid && rowID.Valid {
		c.Ref = outbox.DomainRef{Table: table.String, RowID: rowID.Int64}
	}
	return c, nil
}
