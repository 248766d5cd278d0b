package service

import (
	"strings"

	"github.com/jackfruitco/simworks-sub000/internal/codec"
	"github.com/jackfruitco/simworks-sub000/internal/identity"
	"github.com/jackfruitco/simworks-sub000/internal/registry"
	"github.com/jackfruitco/simworks-sub000/internal/schema"
)

// Registries are the component registries the engine resolves from. The
// application owns them and freezes them before the first call.
type Registries struct {
	Services *registry.Registry[*Definition]
	Prompts  *registry.Registry[*Prompt]
	Codecs   *registry.Registry[codec.Codec]
	Schemas  *registry.Registry[*schema.Component]
}

// NewRegistries creates empty registries.
func NewRegistries() Registries {
	return Registries{
		Services: registry.New[*Definition](identity.DomainService),
		Prompts:  registry.New[*Prompt](identity.DomainPrompt),
		Codecs:   registry.New[codec.Codec](identity.DomainCodec),
		Schemas:  registry.New[*schema.Component](identity.DomainSchema),
	}
}

// Freeze freezes every registry.
func (r Registries) Freeze() {
	r.Services.Freeze()
	r.Prompts.Freeze()
	r.Codecs.Freeze()
	r.Schemas.Freeze()
}

// Plan is a fully resolved call: everything needed to build the request.
type Plan struct {
	Definition   *Definition
	Instructions string
	Codec        codec.Codec
	Schema       *schema.Component

	// PromptSource records which rule supplied the instructions:
	// "override", "plan" or the prompt identity.
	PromptSource string
}

// Resolve prepares inv against the registries.
//
// Precedence:
//   - prompt: Overrides.Prompt, then Overrides.Plan, then prompts.<tail>
//   - codec: Overrides.Codec, then Definition.DefaultCodec, then
//     codecs.<tail>, then codecs.core.<provider>.default
//   - schema: Overrides.Schema, then Definition.DefaultSchema, then
//     schemas.<tail>, then none
//
// An identity named explicitly (override or class default) must be
// registered. Unresolved prompt or codec, or a missing schema on a
// RequireSchema service, is a *ConfigError.
func (r Registries) Resolve(inv Invocation) (*Plan, error) {
	def, err := r.Services.Get(inv.Service)
	if err != nil {
		return nil, &ConfigError{Service: inv.Service, Dependency: "service", Message: err.Error()}
	}
	p := &Plan{Definition: def}

	if err := r.resolvePrompt(def, inv, p); err != nil {
		return nil, err
	}
	if err := r.resolveCodec(def, inv, p); err != nil {
		return nil, err
	}
	if err := r.resolveSchema(def, inv, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (r Registries) resolvePrompt(def *Definition, inv Invocation, p *Plan) error {
	switch {
	case inv.Overrides.Prompt != "":
		p.Instructions, p.PromptSource = inv.Overrides.Prompt, "override"
		return nil

	case len(inv.Overrides.Plan) > 0:
		parts := make([]string, 0, len(inv.Overrides.Plan))
		for _, id := range inv.Overrides.Plan {
			prompt, err := r.Prompts.Get(id)
			if err != nil {
				return &ConfigError{Service: def.Identity, Dependency: "prompt", Message: err.Error()}
			}
			text, err := prompt.Render(inv.Vars)
			if err != nil {
				return &ConfigError{Service: def.Identity, Dependency: "prompt", Message: err.Error()}
			}
			parts = append(parts, text)
		}
		p.Instructions, p.PromptSource = strings.Join(parts, "\n\n"), "plan"
		return nil
	}

	id := def.Identity.In(identity.DomainPrompt)
	prompt, ok := r.Prompts.Lookup(id)
	if !ok {
		return &ConfigError{Service: def.Identity, Dependency: "prompt", Message: "no override, no plan and no prompt registered as " + id.String()}
	}
	text, err := prompt.Render(inv.Vars)
	if err != nil {
		return &ConfigError{Service: def.Identity, Dependency: "prompt", Message: err.Error()}
	}
	p.Instructions, p.PromptSource = text, id.String()
	return nil
}

func (r Registries) resolveCodec(def *Definition, inv Invocation, p *Plan) error {
	for _, explicit := range []identity.Identity{inv.Overrides.Codec, def.DefaultCodec} {
		if explicit.IsZero() {
			continue
		}
		c, err := r.Codecs.Get(explicit)
		if err != nil {
			return &ConfigError{Service: def.Identity, Dependency: "codec", Message: err.Error()}
		}
		p.Codec = c
		return nil
	}

	candidates := []identity.Identity{def.Identity.In(identity.DomainCodec)}
	if def.Provider != "" {
		candidates = append(candidates, codec.DefaultIdentity(def.Provider))
	}
	for _, id := range candidates {
		if c, ok := r.Codecs.Lookup(id); ok {
			p.Codec = c
			return nil
		}
	}
	return &ConfigError{Service: def.Identity, Dependency: "codec", Message: "no codec registered for " + joinIdentities(candidates)}
}

func (r Registries) resolveSchema(def *Definition, inv Invocation, p *Plan) error {
	for _, explicit := range []identity.Identity{inv.Overrides.Schema, def.DefaultSchema} {
		if explicit.IsZero() {
			continue
		}
		sc, err := r.Schemas.Get(explicit)
		if err != nil {
			return &ConfigError{Service: def.Identity, Dependency: "schema", Message: err.Error()}
		}
		p.Schema = sc
		return nil
	}

	if sc, ok := r.Schemas.Lookup(def.Identity.In(identity.DomainSchema)); ok {
		p.Schema = sc
		return nil
	}
	if def.RequireSchema {
		return &ConfigError{Service: def.Identity, Dependency: "schema", Message: "schema required but none resolved"}
	}
	return nil
}

func joinIdentities(ids []identity.Identity) string {
	s := make([]string, len(ids))
	for i, id := range ids {
		s[i] = id.String()
	}
	return strings.Join(s, ", ")
}
