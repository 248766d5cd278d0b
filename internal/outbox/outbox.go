// Package outbox defines the durable records that decouple a provider call
// from the domain objects produced from its result.
//
// A CallRecord is written by the service engine: created when a call begins,
// finished exactly once with status and raw result. The drain worker later
// claims succeeded, unpersisted records and hands them to persistence
// handlers. A PersistedChunk, unique per (correlation id, schema identity),
// guarantees that a handler creates its domain objects at most once.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackfruitco/simworks-sub000/internal/identity"
)

// Sentinel errors returned by store implementations.
var (
	ErrNotFound        = errors.New("record not found")
	ErrAlreadyFinished = errors.New("call record already finished")
	ErrChunkInProgress = errors.New("persisted chunk exists without domain reference")
)

// Status of a call record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further status change is allowed.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusRunning, StatusSucceeded, StatusFailed:
		return st, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// PersistOutcome is the drain worker's last verdict on a record.
type PersistOutcome string

const (
	OutcomeNone      PersistOutcome = ""
	OutcomePersisted PersistOutcome = "persisted"
	OutcomeSkipped   PersistOutcome = "skipped"
	OutcomeFailed    PersistOutcome = "failed"
)

// CallRecord is one outbound provider call.
type CallRecord struct {
	CorrelationID string
	Service       identity.Identity
	Namespace     string
	Schema        identity.Identity
	Codec         identity.Identity
	OwnerRef      string

	// Input is the canonical JSON snapshot of what was sent.
	Input       []byte
	InputDigest string

	Status Status

	// Result is canonical JSON, set only when Status is succeeded and only
	// when a schema produced a structured result.
	Result       []byte
	ResultDigest string
	Error        string

	ProviderResponseID string
	ProviderAttempts   int

	DomainPersisted       bool
	DomainPersistAttempts int
	DomainPersistOutcome  PersistOutcome
	DomainPersistError    string

	// ClaimedUntil is set while a drain worker holds the record. Until it
	// passes, no other claim returns the record.
	ClaimedUntil time.Time

	CreatedAt  time.Time
	FinishedAt time.Time
}

// Exhausted reports whether the drain worker will no longer claim the record.
func (r CallRecord) Exhausted(maxAttempts int) bool {
	return r.Status == StatusSucceeded && !r.DomainPersisted && r.DomainPersistAttempts >= maxAttempts
}

// Outcome is the terminal write for a call record.
type Outcome struct {
	Status             Status
	Result             []byte
	ResultDigest       string
	Error              string
	ProviderResponseID string
	ProviderAttempts   int
	FinishedAt         time.Time
}

// DomainRef points at a domain row by table name and row id.
type DomainRef struct {
	Table string
	RowID int64
}

// IsZero reports whether the reference is unset.
func (r DomainRef) IsZero() bool {
	return r.Table == "" && r.RowID == 0
}

func (r DomainRef) String() string {
	if r.IsZero() {
		return ""
	}
	return fmt.Sprintf("%s:%d", r.Table, r.RowID)
}

// ChunkKey is the idempotency key of a persisted chunk.
type ChunkKey struct {
	CorrelationID string
	Schema        identity.Identity
}

// PersistedChunk tracks whether a call result has become domain objects.
type PersistedChunk struct {
	ID        int64
	Key       ChunkKey
	Namespace string
	Handler   identity.Identity
	Ref       DomainRef
	CreatedAt time.Time
}

// CreateFunc creates domain objects inside the chunk's transaction and
// returns a reference to the primary one.
type CreateFunc func(ctx context.Context) (DomainRef, error)

// ListFilter selects records for triage.
type ListFilter struct {
	Status Status

	// Exhausted selects succeeded, unpersisted records whose attempts have
	// reached MaxAttempts.
	Exhausted   bool
	MaxAttempts int

	Limit int
}

// CallWriter is what the service engine needs.
type CallWriter interface {
	CreateCall(ctx context.Context, rec *CallRecord) error
	MarkRunning(ctx context.Context, correlationID string) error
	FinishCall(ctx context.Context, correlationID string, out Outcome) error
}

// Claimer is what the drain worker needs.
type Claimer interface {
	// ClaimUnpersisted claims up to limit records for lease. Marking a
	// record persisted, skipped or failed releases the claim.
	ClaimUnpersisted(ctx context.Context, limit, maxAttempts int, lease time.Duration) ([]CallRecord, error)
	MarkPersisted(ctx context.Context, correlationID string) error
	MarkSkipped(ctx context.Context, correlationID, reason string) error
	RecordPersistFailure(ctx context.Context, correlationID, message string) error
}

// ChunkStore is what persistence handlers need.
type ChunkStore interface {
	// PersistOnce inserts chunk and runs create in one transaction. If a
	// chunk with the same key already has a domain reference, create is not
	// called and the existing reference is returned with created=false.
	PersistOnce(ctx context.Context, chunk PersistedChunk, create CreateFunc) (ref DomainRef, created bool, err error)
	GetChunk(ctx context.Context, key ChunkKey) (PersistedChunk, error)
}

// Reader serves inspection tooling.
type Reader interface {
	GetCall(ctx context.Context, correlationID string) (CallRecord, error)
	ListCalls(ctx context.Context, f ListFilter) ([]CallRecord, error)
	ListChunks(ctx context.Context, correlationID string) ([]PersistedChunk, error)
}

// Store is the full outbox surface.
type Store interface {
	CallWriter
	Claimer
	ChunkStore
	Reader

	// Requeue clears a skipped outcome and resets the attempt counter of an
	// unpersisted record so the drain worker picks it up again.
	Requeue(ctx context.Context, correlationID string) error

	Close() error
}
