package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackfruitco/simworks-sub000/internal/outbox"
)

// ClaimUnpersisted claims up to limit succeeded, unpersisted records whose
// attempt counter is below maxAttempts and that no other worker holds,
// oldest completion first.
//
// Selection, the bulk attempt increment and the lease happen in one
// transaction that is committed before the records are returned. The claim is
// durable before any handler runs: a crash mid-handler still counts the
// attempt. The lease keeps the record out of every other claim until the
// worker marks it persisted, skipped or failed, or until lease passes, which
// is how records held by a crashed worker come back.
//
// On Postgres the SELECT uses FOR UPDATE SKIP LOCKED, so concurrent claimers
// take disjoint rows without waiting on each other. On SQLite the transaction
// is BEGIN IMMEDIATE: claimers serialize on the write lock, and each sees the
// leases of the one before it.
//
// Records marked skipped (no handler) are not claimed again until requeued.
func (s *Store) ClaimUnpersisted(ctx context.Context, limit, maxAttempts int, lease time.Duration) ([]outbox.CallRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	if lease <= 0 {
		return nil, fmt.Errorf("claim: lease must be positive, got %s", lease)
	}
	now := timestamp(s.now())
	until := now.Add(lease)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("claim: begin tx: %w", err)
	}
	defer tx.Rollback()

	query := `
		SELECT ` + callColumns + `
		FROM call_records
		WHERE status = ? AND domain_persisted = ? AND domain_persist_attempts < ?
		  AND domain_persist_outcome <> ?
		  AND (claimed_until IS NULL OR claimed_until <= ?)
		ORDER BY finished_at ASC, correlation_id ASC
		LIMIT ?
	` + s.d.claimLock

	rows, err := tx.QueryContext(ctx, s.d.Rebind(query),
		string(outbox.StatusSucceeded), false, maxAttempts, string(outbox.OutcomeSkipped), now, limit)
	if err != nil {
		return nil, fmt.Errorf("claim: select: %w", err)
	}
	var claimed []outbox.CallRecord
	for rows.Next() {
		rec, err := scanCall(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("claim: scan: %w", err)
		}
		claimed = append(claimed, rec)
	}
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("claim: close rows: %w", err)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim: rows: %w", err)
	}
	if len(claimed) == 0 {
		return nil, tx.Commit()
	}

	args := make([]any, 0, len(claimed)+1)
	args = append(args, until)
	for i := range claimed {
		args = append(args, claimed[i].CorrelationID)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(claimed)), ", ")
	update := `UPDATE call_records
		SET domain_persist_attempts = domain_persist_attempts + 1, claimed_until = ?
		WHERE correlation_id IN (` + placeholders + `)`
	res, err := tx.ExecContext(ctx, s.d.Rebind(update), args...)
	if err != nil {
		return nil, fmt.Errorf("claim: increment attempts: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && int(n) != len(claimed) {
		return nil, fmt.Errorf("claim: incremented %d of %d rows", n, len(claimed))
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("claim: commit: %w", err)
	}
	for i := range claimed {
		claimed[i].DomainPersistAttempts++
		claimed[i].ClaimedUntil = until
	}
	return claimed, nil
}

// MarkPersisted flips domain_persisted to true. Calling it again is a no-op;
// nothing ever sets it back.
func (s *Store) MarkPersisted(ctx context.Context, correlationID string) error {
	res, err := s.exec(ctx, `
		UPDATE call_records
		SET domain_persisted = ?, domain_persist_outcome = ?, domain_persist_error = '', claimed_until = NULL
		WHERE correlation_id = ? AND status = ?
	`, true, string(outbox.OutcomePersisted), correlationID, string(outbox.StatusSucceeded))
	if err != nil {
		return fmt.Errorf("mark persisted %s: %w", correlationID, err)
	}
	return s.requireOne(ctx, res, "mark persisted", correlationID)
}

// MarkSkipped records that no handler exists for the record, which removes
// it from future claims.
func (s *Store) MarkSkipped(ctx context.Context, correlationID, reason string) error {
	res, err := s.exec(ctx, `
		UPDATE call_records
		SET domain_persist_outcome = ?, domain_persist_error = ?, claimed_until = NULL
		WHERE correlation_id = ? AND domain_persisted = ?
	`, string(outbox.OutcomeSkipped), reason, correlationID, false)
	if err != nil {
		return fmt.Errorf("mark skipped %s: %w", correlationID, err)
	}
	return s.requireOne(ctx, res, "mark skipped", correlationID)
}

// RecordPersistFailure stores the last handler error for triage. The attempt
// counter was already incremented by the claim.
func (s *Store) RecordPersistFailure(ctx context.Context, correlationID, message string) error {
	res, err := s.exec(ctx, `
		UPDATE call_records
		SET domain_persist_outcome = ?, domain_persist_error = ?, claimed_until = NULL
		WHERE correlation_id = ? AND domain_persisted = ?
	`, string(outbox.OutcomeFailed), message, correlationID, false)
	if err != nil {
		return fmt.Errorf("record persist failure %s: %w", correlationID, err)
	}
	return s.requireOne(ctx, res, "record persist failure", correlationID)
}

// Requeue makes an unpersisted, succeeded record claimable again. It is the
// one write outside a claim that touches the attempt counter, and it also
// drops any lease, so requeueing a record a live worker holds lets a second
// worker claim it.
func (s *Store) Requeue(ctx context.Context, correlationID string) error {
	res, err := s.exec(ctx, `
		UPDATE call_records
		SET domain_persist_outcome = '', domain_persist_error = '', domain_persist_attempts = 0, claimed_until = NULL
		WHERE correlation_id = ? AND status = ? AND domain_persisted = ?
	`, correlationID, string(outbox.StatusSucceeded), false)
	if err != nil {
		return fmt.Errorf("requeue %s: %w", correlationID, err)
	}
	return s.requireOne(ctx, res, "requeue", correlationID)
}

type rowsAffecter interface {
	RowsAffected() (int64, error)
}

// requireOne maps an UPDATE that matched nothing to ErrNotFound, or to a
// descriptive error when the record exists but is not in an eligible state.
func (s *Store) requireOne(ctx context.Context, res rowsAffecter, op, correlationID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %s: rows affected: %w", op, correlationID, err)
	}
	if n > 0 {
		return nil
	}
	status, err := s.callStatus(ctx, correlationID)
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, correlationID, err)
	}
	return fmt.Errorf("%s %s: record not eligible (status %s)", op, correlationID, status)
}
