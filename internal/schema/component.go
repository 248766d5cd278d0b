package schema

import (
	"bytes"
	"encoding/json"
	"fmt"

	jsval "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/jackfruitco/simworks-sub000/internal/identity"
)

// Component is a registered structured-output contract. Everything the codec
// needs per call is computed once by NewComponent.
type Component struct {
	id        identity.Identity
	validated *Validated
	envelope  Envelope
	compiled  *jsval.Schema
}

// NewComponent validates src under p, adapts it and compiles the instance
// validator. Any failure here is a registration-time failure.
func NewComponent(id identity.Identity, src Source, p Profile) (*Component, error) {
	validated, err := Validate(src, p)
	if err != nil {
		return nil, fmt.Errorf("schema %s: %w", id, err)
	}
	env, err := Adapt(validated)
	if err != nil {
		return nil, fmt.Errorf("schema %s: %w", id, err)
	}

	doc, err := jsval.UnmarshalJSON(bytes.NewReader(src.Doc))
	if err != nil {
		return nil, fmt.Errorf("schema %s: %w", id, err)
	}
	url := "https://schemas.simworks.invalid/" + id.String() + ".json"
	c := jsval.NewCompiler()
	c.DefaultDraft(jsval.Draft2020)
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("schema %s: add resource: %w", id, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("schema %s: compile: %w", id, err)
	}

	return &Component{id: id, validated: validated, envelope: env, compiled: compiled}, nil
}

// Identity returns the schema identity.
func (c *Component) Identity() identity.Identity { return c.id }

// Name returns the contract name sent to the provider.
func (c *Component) Name() string { return c.validated.Source.Name }

// Document returns the validated schema document.
func (c *Component) Document() json.RawMessage { return c.validated.Source.Doc }

// Profile returns the profile the schema was validated under.
func (c *Component) Profile() Profile { return c.validated.Profile }

// Envelope returns the cached provider envelope.
func (c *Component) Envelope() Envelope { return c.envelope }

// ValidateJSON parses data and validates it against the schema. It returns
// the parsed instance (numbers as json.Number). Syntax errors are returned
// unwrapped; schema violations are *ValidationError with CodeInstanceMismatch.
func (c *Component) ValidateJSON(data []byte) (any, error) {
	inst, err := jsval.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if err := c.compiled.Validate(inst); err != nil {
		return nil, &ValidationError{
			Code:    CodeInstanceMismatch,
			Message: fmt.Sprintf("output does not match %s: %v", c.Name(), err),
		}
	}
	return inst, nil
}
