package catalog

import (
	"fmt"

	"github.com/jackfruitco/simworks-sub000/internal/schema"
	"github.com/jackfruitco/simworks-sub000/internal/service"
)

// Defaults fill fields a service declaration leaves empty.
type Defaults struct {
	Provider string
	Model    string
}

// SchemaResult is the outcome of validating one declared schema.
type SchemaResult struct {
	Spec      SchemaSpec
	Component *schema.Component
	Err       error
}

// CompileSchemas validates and adapts every declared schema under profile.
// Results keep declaration order; each carries either a component or an
// error.
func (c *Catalog) CompileSchemas(profile schema.Profile) []SchemaResult {
	out := make([]SchemaResult, 0, len(c.Schemas))
	for _, spec := range c.Schemas {
		comp, err := schema.NewComponent(spec.ID, spec.Source, profile)
		if err != nil {
			err = fmt.Errorf("%s: %w", spec.ID, err)
		}
		out = append(out, SchemaResult{Spec: spec, Component: comp, Err: err})
	}
	return out
}

// Register adds every declared component to reg, compiling schemas under
// profile. The first failure aborts registration.
func (c *Catalog) Register(reg service.Registries, d Defaults, profile schema.Profile) error {
	for _, res := range c.CompileSchemas(profile) {
		if res.Err != nil {
			return res.Err
		}
		if err := reg.Schemas.Register(res.Spec.ID, res.Component); err != nil {
			return err
		}
	}
	for _, p := range c.Prompts {
		prompt, err := service.NewPrompt(p.ID, p.Instructions)
		if err != nil {
			return err
		}
		if err := reg.Prompts.Register(p.ID, prompt); err != nil {
			return err
		}
	}
	for _, s := range c.Services {
		if err := reg.Services.Register(s.ID, s.Definition(d)); err != nil {
			return err
		}
	}
	return nil
}

// Definition converts the declaration into a service definition.
func (s ServiceSpec) Definition(d Defaults) *service.Definition {
	def := &service.Definition{
		Identity:      s.ID,
		Provider:      s.Provider,
		Model:         s.Model,
		DefaultCodec:  s.Codec,
		DefaultSchema: s.Schema,
		RequireSchema: s.RequireSchema,
		OwnerKind:     s.OwnerKind,
	}
	if def.Provider == "" {
		def.Provider = d.Provider
	}
	if def.Model == "" {
		def.Model = d.Model
	}
	return def
}
