package service

import (
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/jackfruitco/simworks-sub000/internal/identity"
	"github.com/jackfruitco/simworks-sub000/internal/provider"
)

// TeardownFunc runs after a call is recorded. Errors are logged.
type TeardownFunc func(ctx context.Context, out *Outcome) error

// Definition describes a service. It is registered in the services registry
// under Identity and never mutated after registration.
type Definition struct {
	Identity identity.Identity

	// Provider names the client the engine sends to ("openai").
	Provider string
	Model    string

	// DefaultCodec and DefaultSchema are class-level defaults. Zero means
	// fall through to the identity-matched registry entry.
	DefaultCodec  identity.Identity
	DefaultSchema identity.Identity

	// RequireSchema turns "no schema resolved" into a ConfigError.
	RequireSchema bool

	// OwnerKind documents what Invocation.Owner refers to ("simulation").
	OwnerKind string

	Teardown []TeardownFunc
}

// Prompt is a prompt component: instructions rendered with text/template
// against the invocation's variables.
type Prompt struct {
	Identity     identity.Identity
	Instructions string

	tmpl *template.Template
}

// NewPrompt parses instructions once. Missing variables are an error at
// render time.
func NewPrompt(id identity.Identity, instructions string) (*Prompt, error) {
	tmpl, err := template.New(id.String()).Option("missingkey=error").Parse(instructions)
	if err != nil {
		return nil, fmt.Errorf("prompt %s: %w", id, err)
	}
	return &Prompt{Identity: id, Instructions: instructions, tmpl: tmpl}, nil
}

// MustPrompt is like NewPrompt but panics on error.
func MustPrompt(id identity.Identity, instructions string) *Prompt {
	p, err := NewPrompt(id, instructions)
	if err != nil {
		panic(err)
	}
	return p
}

// Render executes the template with vars.
func (p *Prompt) Render(vars map[string]any) (string, error) {
	if p.tmpl == nil {
		return p.Instructions, nil
	}
	var b strings.Builder
	if err := p.tmpl.Execute(&b, vars); err != nil {
		return "", fmt.Errorf("render prompt %s: %w", p.Identity, err)
	}
	return b.String(), nil
}

// Overrides are per-call choices that win over every default.
type Overrides struct {
	// Prompt replaces the resolved instructions verbatim.
	Prompt string

	// Plan lists prompt components rendered in order and joined.
	Plan []identity.Identity

	Codec  identity.Identity
	Schema identity.Identity
}

// Invocation is one request to run a service.
type Invocation struct {
	Service  identity.Identity
	Messages []provider.Message
	Vars     map[string]any

	// Owner references the business entity the call belongs to, for example
	// "simulation:42".
	Owner string

	Overrides Overrides

	// Stream uses the provider's streaming interface when it has one.
	// OnDelta, when set, receives text deltas as they arrive.
	Stream  bool
	OnDelta func(delta string)

	Metadata map[string]string
}
