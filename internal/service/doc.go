// Package service implements the service execution engine.
//
// A call moves through a fixed state machine:
//
//	Created → Prepared → Sent → Decoded → Recorded → Done
//
// with Failed reachable from every non-terminal state. Prepare resolves the
// prompt, codec and schema by identity and writes a pending call record.
// Send dispatches the encoded request with bounded retry. Decode validates
// the structured output. Record writes status and result to the outbox in one
// statement; after that the caller's work is done and nothing downstream can
// fail the call. Done runs teardown hooks, whose errors are only logged.
//
// Thread-safety model:
//   - Engine is safe for concurrent use; each Execute is independent
//   - the registries it reads are frozen before the first call
package service
