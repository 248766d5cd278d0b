// Package store provides the SQL outbox: call records and persisted chunks.
//
// Two tables carry the pipeline's durable state:
//   - call_records: one row per provider call, written by the service engine
//     and claimed by drain workers
//   - persisted_chunks: idempotency rows, UNIQUE(correlation_id, schema_identity)
//
// # Invariants enforced in SQL
//
//   - result is non-NULL only when status = 'succeeded' (CHECK constraint)
//   - result is immutable once set, domain_persisted never reverts (triggers)
//   - FinishCall only updates pending/running rows, so the terminal write
//     happens at most once
//   - domain_persist_attempts changes only inside ClaimUnpersisted and Requeue
//   - claimed_until leases a record to one drain worker; marking it persisted,
//     skipped or failed releases the lease
//
// # Backends
//
// Open configures SQLite with WAL mode, synchronous=NORMAL, busy_timeout=5000,
// foreign keys and immediate transactions. The Postgres backend lives in
// store/postgres and shares this implementation through Dialect.
package store
