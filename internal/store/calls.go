package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackfruitco/simworks-sub000/internal/identity"
	"github.com/jackfruitco/simworks-sub000/internal/outbox"
)

const callColumns = `correlation_id, service_identity, namespace, schema_identity, codec_identity,
	owner_ref, input, input_digest, status, result, result_digest, error,
	provider_response_id, provider_attempts, domain_persisted, domain_persist_attempts,
	domain_persist_outcome, domain_persist_error, claimed_until, created_at, finished_at`

// CreateCall inserts a pending call record. Correlation ids are unique; a
// duplicate is an error, not a silent no-op.
func (s *Store) CreateCall(ctx context.Context, rec *outbox.CallRecord) error {
	if rec.CorrelationID == "" {
		return fmt.Errorf("create call: correlation id is required")
	}
	if rec.Status == "" {
		rec.Status = outbox.StatusPending
	}
	if rec.Status.Terminal() {
		return fmt.Errorf("create call %s: initial status %s is terminal", rec.CorrelationID, rec.Status)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	input := rec.Input
	if input == nil {
		input = []byte("{}")
	}

	_, err := s.exec(ctx, `
		INSERT INTO call_records
		(correlation_id, service_identity, namespace, schema_identity, codec_identity,
		 owner_ref, input, input_digest, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.CorrelationID,
		rec.Service.String(),
		rec.Namespace,
		rec.Schema.String(),
		rec.Codec.String(),
		rec.OwnerRef,
		string(input),
		rec.InputDigest,
		string(rec.Status),
		timestamp(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("create call %s: %w", rec.CorrelationID, err)
	}
	return nil
}

// MarkRunning moves a pending record to running. A record that is already
// running is left alone.
func (s *Store) MarkRunning(ctx context.Context, correlationID string) error {
	res, err := s.exec(ctx, `
		UPDATE call_records SET status = ?
		WHERE correlation_id = ? AND status = ?
	`, string(outbox.StatusRunning), correlationID, string(outbox.StatusPending))
	if err != nil {
		return fmt.Errorf("mark running %s: %w", correlationID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("mark running %s: rows affected: %w", correlationID, err)
	} else if n > 0 {
		return nil
	}

	status, err := s.callStatus(ctx, correlationID)
	if err != nil {
		return fmt.Errorf("mark running %s: %w", correlationID, err)
	}
	if status.Terminal() {
		return fmt.Errorf("mark running %s: %w", correlationID, outbox.ErrAlreadyFinished)
	}
	return nil
}

// FinishCall writes the terminal status and result in one statement. It
// fails with ErrAlreadyFinished if the record is already terminal.
func (s *Store) FinishCall(ctx context.Context, correlationID string, out outbox.Outcome) error {
	if !out.Status.Terminal() {
		return fmt.Errorf("finish call %s: status %q is not terminal", correlationID, out.Status)
	}
	if out.Result != nil && out.Status != outbox.StatusSucceeded {
		return fmt.Errorf("finish call %s: result is only allowed on success", correlationID)
	}
	if out.FinishedAt.IsZero() {
		out.FinishedAt = s.now()
	}
	var result sql.NullString
	if out.Result != nil {
		result = sql.NullString{String: string(out.Result), Valid: true}
	}

	res, err := s.exec(ctx, `
		UPDATE call_records
		SET status = ?, result = ?, result_digest = ?, error = ?,
		    provider_response_id = ?, provider_attempts = ?, finished_at = ?
		WHERE correlation_id = ? AND status IN (?, ?)
	`,
		string(out.Status),
		result,
		out.ResultDigest,
		out.Error,
		out.ProviderResponseID,
		out.ProviderAttempts,
		timestamp(out.FinishedAt),
		correlationID,
		string(outbox.StatusPending),
		string(outbox.StatusRunning),
	)
	if err != nil {
		return fmt.Errorf("finish call %s: %w", correlationID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish call %s: rows affected: %w", correlationID, err)
	}
	if n == 1 {
		return nil
	}
	if _, err := s.callStatus(ctx, correlationID); err != nil {
		return fmt.Errorf("finish call %s: %w", correlationID, err)
	}
	return fmt.Errorf("finish call %s: %w", correlationID, outbox.ErrAlreadyFinished)
}

// GetCall reads one record.
func (s *Store) GetCall(ctx context.Context, correlationID string) (outbox.CallRecord, error) {
	row := s.db.QueryRowContext(ctx, s.d.Rebind(`SELECT `+callColumns+` FROM call_records WHERE correlation_id = ?`), correlationID)
	rec, err := scanCall(row)
	if errors.Is(err, sql.ErrNoRows) {
		return outbox.CallRecord{}, fmt.Errorf("get call %s: %w", correlationID, outbox.ErrNotFound)
	}
	if err != nil {
		return outbox.CallRecord{}, fmt.Errorf("get call %s: %w", correlationID, err)
	}
	return rec, nil
}

// ListCalls returns records matching f, oldest first.
func (s *Store) ListCalls(ctx context.Context, f outbox.ListFilter) ([]outbox.CallRecord, error) {
	var where []string
	var args []any
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Exhausted {
		where = append(where, "status = ?", "domain_persisted = ?", "domain_persist_attempts >= ?")
		args = append(args, string(outbox.StatusSucceeded), false, f.MaxAttempts)
	}
	query := `SELECT ` + callColumns + ` FROM call_records`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, correlation_id ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.d.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list calls: %w", err)
	}
	defer rows.Close()

	var out []outbox.CallRecord
	for rows.Next() {
		rec, err := scanCall(rows)
		if err != nil {
			return nil, fmt.Errorf("list calls: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) callStatus(ctx context.Context, correlationID string) (outbox.Status, error) {
	var status string
	err := s.db.QueryRowContext(ctx, s.d.Rebind(`SELECT status FROM call_records WHERE correlation_id = ?`), correlationID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", outbox.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return outbox.Status(status), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCall(sc scanner) (outbox.CallRecord, error) {
	var (
		rec                        outbox.CallRecord
		service, schemaID, codecID string
		input, status, outcome     string
		result                     sql.NullString
		claimedUntil, finishedAt   sql.NullTime
	)
	err := sc.Scan(
		&rec.CorrelationID,
		&service,
		&rec.Namespace,
		&schemaID,
		&codecID,
		&rec.OwnerRef,
		&input,
		&rec.InputDigest,
		&status,
		&result,
		&rec.ResultDigest,
		&rec.Error,
		&rec.ProviderResponseID,
		&rec.ProviderAttempts,
		&rec.DomainPersisted,
		&rec.DomainPersistAttempts,
		&outcome,
		&rec.DomainPersistError,
		&claimedUntil,
		&rec.CreatedAt,
		&finishedAt,
	)
	if err != nil {
		return outbox.CallRecord{}, err
	}

	if rec.Service, err = parseIdentity(service); err != nil {
		return outbox.CallRecord{}, fmt.Errorf("service identity: %w", err)
	}
	if rec.Schema, err = parseIdentity(schemaID); err != nil {
		return outbox.CallRecord{}, fmt.Errorf("schema identity: %w", err)
	}
	if rec.Codec, err = parseIdentity(codecID); err != nil {
		return outbox.CallRecord{}, fmt.Errorf("codec identity: %w", err)
	}
	rec.Input = []byte(input)
	rec.Status = outbox.Status(status)
	if result.Valid {
		rec.Result = []byte(result.String)
	}
	rec.DomainPersistOutcome = outbox.PersistOutcome(outcome)
	if claimedUntil.Valid {
		rec.ClaimedUntil = claimedUntil.Time
	}
	if finishedAt.Valid {
		rec.FinishedAt = finishedAt.Time
	}
	return rec, nil
}

func parseIdentity(s string) (identity.Identity, error) {
	if s == "" {
		return identity.Identity{}, nil
	}
	return identity.Parse(s)
}
