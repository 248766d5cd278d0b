package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Envelope is the provider-specific wrapper around a validated schema:
//
//	{"format":{"type":"json_schema","name":N,"schema":S,"strict":B}}
type Envelope struct {
	raw    []byte
	format json.RawMessage
}

type formatSpec struct {
	Type   string          `json:"type"`
	Name   string          `json:"name"`
	Schema json.RawMessage `json:"schema"`
	Strict bool            `json:"strict"`
}

type envelopeDoc struct {
	Format formatSpec `json:"format"`
}

// Adapt wraps v in the provider envelope. The schema document is embedded
// as-is; v is not modified.
func Adapt(v *Validated) (Envelope, error) {
	if v == nil {
		return Envelope{}, fmt.Errorf("adapt: nil schema")
	}
	doc := envelopeDoc{Format: formatSpec{
		Type:   "json_schema",
		Name:   v.Source.Name,
		Schema: v.Source.Doc,
		Strict: v.Profile.Strict,
	}}

	raw, err := encodeNoEscape(doc)
	if err != nil {
		return Envelope{}, fmt.Errorf("adapt %s: %w", v.Source.Name, err)
	}
	format, err := encodeNoEscape(doc.Format)
	if err != nil {
		return Envelope{}, fmt.Errorf("adapt %s: %w", v.Source.Name, err)
	}
	return Envelope{raw: raw, format: format}, nil
}

// Bytes returns a copy of the encoded envelope.
func (e Envelope) Bytes() []byte {
	return bytes.Clone(e.raw)
}

// Format returns the inner "format" object, the value providers place under
// text.format.
func (e Envelope) Format() json.RawMessage {
	return e.format
}

// IsZero reports whether the envelope is empty.
func (e Envelope) IsZero() bool {
	return len(e.raw) == 0
}
