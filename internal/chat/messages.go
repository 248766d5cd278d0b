package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackfruitco/simworks-sub000/internal/outbox"
	"github.com/jackfruitco/simworks-sub000/internal/platform/txctx"
	"github.com/jackfruitco/simworks-sub000/internal/store"
)

// Table is the table the handler writes and the accessor reads.
const Table = "chat_messages"

// SQLiteDDL creates the message table on SQLite.
const SQLiteDDL = `CREATE TABLE IF NOT EXISTS chat_messages (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	correlation_id TEXT NOT NULL,
	owner_ref      TEXT NOT NULL DEFAULT '',
	ordinal        INTEGER NOT NULL,
	text           TEXT NOT NULL,
	created_at     DATETIME NOT NULL,
	UNIQUE (correlation_id, ordinal)
)`

// PostgresDDL creates the message table on PostgreSQL.
const PostgresDDL = `CREATE TABLE IF NOT EXISTS chat_messages (
	id             BIGSERIAL PRIMARY KEY,
	correlation_id TEXT NOT NULL,
	owner_ref      TEXT NOT NULL DEFAULT '',
	ordinal        INTEGER NOT NULL,
	text           TEXT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	UNIQUE (correlation_id, ordinal)
)`

// DDL returns the table definition for d.
func DDL(d store.Dialect) string {
	if d.Name == store.Postgres.Name {
		return PostgresDDL
	}
	return SQLiteDDL
}

// Row is one stored message.
type Row struct {
	ID            int64
	CorrelationID string
	OwnerRef      string
	Ordinal       int
	Text          string
	CreatedAt     time.Time
}

// Messages reads and writes chat_messages. Writes join the transaction in
// the context when there is one.
type Messages struct {
	db  *sql.DB
	d   store.Dialect
	now func() time.Time
}

// NewMessages creates a message store over the outbox database.
func NewMessages(s *store.Store) *Messages {
	return &Messages{db: s.DB(), d: s.Dialect(), now: time.Now}
}

// Insert writes texts in order and returns their row ids.
func (m *Messages) Insert(ctx context.Context, correlationID, ownerRef string, texts []string) ([]int64, error) {
	q := txctx.Or(ctx, m.db)
	created := m.now().UTC()

	ids := make([]int64, 0, len(texts))
	for i, text := range texts {
		var id int64
		err := q.QueryRowContext(ctx, m.d.Rebind(`
			INSERT INTO chat_messages (correlation_id, owner_ref, ordinal, text, created_at)
			VALUES (?, ?, ?, ?, ?)
			RETURNING id
		`), correlationID, ownerRef, i, text, created).Scan(&id)
		if err != nil {
			return nil, fmt.Errorf("insert message %s/%d: %w", correlationID, i, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Get reads one message.
func (m *Messages) Get(ctx context.Context, id int64) (Row, error) {
	row := m.db.QueryRowContext(ctx, m.d.Rebind(`
		SELECT id, correlation_id, owner_ref, ordinal, text, created_at
		FROM chat_messages WHERE id = ?
	`), id)
	r, err := scanRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Row{}, fmt.Errorf("get message %d: %w", id, outbox.ErrNotFound)
	}
	if err != nil {
		return Row{}, fmt.Errorf("get message %d: %w", id, err)
	}
	return r, nil
}

// ListByCorrelation returns the messages created for one call, in order.
func (m *Messages) ListByCorrelation(ctx context.Context, correlationID string) ([]Row, error) {
	rows, err := m.db.QueryContext(ctx, m.d.Rebind(`
		SELECT id, correlation_id, owner_ref, ordinal, text, created_at
		FROM chat_messages WHERE correlation_id = ? ORDER BY ordinal ASC
	`), correlationID)
	if err != nil {
		return nil, fmt.Errorf("list messages %s: %w", correlationID, err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("list messages %s: %w", correlationID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Accessor adapts Get to persist.Accessor.
func (m *Messages) Accessor(ctx context.Context, rowID int64) (any, error) {
	return m.Get(ctx, rowID)
}

func scanRow(sc interface{ Scan(...any) error }) (Row, error) {
	var r Row
	err := sc.Scan(&r.ID, &r.CorrelationID, &r.OwnerRef, &r.Ordinal, &r.Text, &r.CreatedAt)
	return r, err
}

// PersistOutput writes out's messages for rec and returns a reference to the
// first one.
func (m *Messages) PersistOutput(ctx context.Context, rec outbox.CallRecord, out PatientInitialOutput) (outbox.DomainRef, error) {
	if len(out.Messages) == 0 {
		return outbox.DomainRef{}, fmt.Errorf("record %s: output has no messages", rec.CorrelationID)
	}
	texts := make([]string, len(out.Messages))
	for i, msg := range out.Messages {
		texts[i] = msg.Text
	}
	ids, err := m.Insert(ctx, rec.CorrelationID, rec.OwnerRef, texts)
	if err != nil {
		return outbox.DomainRef{}, err
	}
	return outbox.DomainRef{Table: Table, RowID: ids[0]}, nil
}
