// Package schema validates structured-output contracts and adapts them into
// the envelope a provider expects.
//
// A contract starts as a Source: a name plus a JSON Schema document, written
// by hand, exported from the CUE catalog, or generated from a Go type. Validate
// applies the provider-neutral rules (root is an object, root is not a union,
// discriminated unions are well formed) and the rules of a provider Profile.
// Adapt wraps the validated document in the provider envelope without
// rewriting it: nested unions and their discriminator metadata reach the
// provider byte for byte.
//
// NewComponent does all of this once, at registration time, and caches the
// envelope and the compiled instance validator on the Component.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"

	jsgen "github.com/google/jsonschema-go/jsonschema"
)

// Source is an unvalidated schema document.
type Source struct {
	// Name is the contract name sent to the provider (e.g. "PatientInitialOutput").
	Name string

	// Doc is the compacted JSON Schema document, in authored key order.
	Doc json.RawMessage
}

// FromJSON builds a Source from a JSON document. Whitespace is compacted;
// key order and every other byte of the document are kept.
func FromJSON(name string, doc []byte) (Source, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, doc); err != nil {
		return Source{}, &ValidationError{Code: CodeMalformed, Message: fmt.Sprintf("schema %s is not valid JSON: %v", name, err)}
	}
	return Source{Name: name, Doc: buf.Bytes()}, nil
}

// FromType derives a Source from the Go type T. Every generated object is
// closed with "additionalProperties": false, which strict providers require.
func FromType[T any](name string) (Source, error) {
	s, err := jsgen.For[T](&jsgen.ForOptions{})
	if err != nil {
		return Source{}, fmt.Errorf("generate schema for %s: %w", name, err)
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return Source{}, fmt.Errorf("marshal schema for %s: %w", name, err)
	}

	var tree any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&tree); err != nil {
		return Source{}, fmt.Errorf("decode generated schema for %s: %w", name, err)
	}
	closeObjects(tree)

	closed, err := encodeNoEscape(tree)
	if err != nil {
		return Source{}, fmt.Errorf("encode schema for %s: %w", name, err)
	}
	return FromJSON(name, closed)
}

// MustFromType is like FromType but panics on error.
func MustFromType[T any](name string) Source {
	src, err := FromType[T](name)
	if err != nil {
		panic(err)
	}
	return src
}

func closeObjects(node any) {
	switch n := node.(type) {
	case map[string]any:
		if hasType(n, "object") {
			if _, ok := n["additionalProperties"]; !ok {
				n["additionalProperties"] = false
			}
		}
		for _, child := range n {
			closeObjects(child)
		}
	case []any:
		for _, child := range n {
			closeObjects(child)
		}
	}
}

func encodeNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
