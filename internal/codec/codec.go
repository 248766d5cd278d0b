// Package codec pairs a schema component with provider-specific request
// encoding and response decoding.
package codec

import (
	"errors"
	"fmt"

	"github.com/jackfruitco/simworks-sub000/internal/identity"
	"github.com/jackfruitco/simworks-sub000/internal/payload"
	"github.com/jackfruitco/simworks-sub000/internal/provider"
	"github.com/jackfruitco/simworks-sub000/internal/schema"
)

// Codec attaches schemas to requests and extracts structured results.
type Codec interface {
	Identity() identity.Identity

	// Encode attaches sc's cached envelope to req. A nil sc is a no-op.
	Encode(req *provider.Request, sc *schema.Component) error

	// Decode extracts and validates the structured result. With a nil sc it
	// returns (nil, nil).
	Decode(resp *provider.Response, sc *schema.Component) (*Result, error)
}

// Result is a decoded, schema-valid structured output.
type Result struct {
	// Value is the decoded object.
	Value payload.Object

	// Canonical is Value in canonical JSON.
	Canonical []byte

	// Source records where the payload was found: "structured" or "text".
	Source string
}

// DecodeKind classifies decode failures.
type DecodeKind string

const (
	// KindMismatch means the payload violated the schema. Not retriable.
	KindMismatch DecodeKind = "mismatch"

	// KindMalformed means the payload was truncated or not parseable.
	KindMalformed DecodeKind = "malformed"

	// KindMissing means the response had no structured candidate at all.
	KindMissing DecodeKind = "missing"
)

// DecodeError is returned by Decode.
type DecodeError struct {
	Kind   DecodeKind
	Schema identity.Identity
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s (%s): %v", e.Schema, e.Kind, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Retriable reports whether re-invoking the whole call might succeed.
// Schema mismatches are contract violations and never are.
func (e *DecodeError) Retriable() bool {
	return e.Kind != KindMismatch
}

// IsRetriableDecode reports whether err is a retriable *DecodeError.
func IsRetriableDecode(err error) bool {
	var de *DecodeError
	if errors.As(err, &de) {
		return de.Retriable()
	}
	return false
}
