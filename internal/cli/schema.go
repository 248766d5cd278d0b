package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jackfruitco/simworks-sub000/internal/catalog"
	"github.com/jackfruitco/simworks-sub000/internal/chat"
	"github.com/jackfruitco/simworks-sub000/internal/identity"
	"github.com/jackfruitco/simworks-sub000/internal/schema"
)

// SchemaResult is the output of the schema command.
type SchemaResult struct {
	Identity string          `json:"identity"`
	Profile  string          `json:"profile"`
	Envelope json.RawMessage `json:"envelope"`
}

func (r SchemaResult) Text() string {
	return string(r.Envelope) + "\n"
}

// NewSchemaCommand creates the schema command.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	var provider string
	cmd := &cobra.Command{
		Use:   "schema <identity>",
		Short: "Print the provider envelope of a schema",
		Long: `Print the structured-output envelope exactly as it is sent to the provider.

The identity may be given in full (schemas.chat.patient.initial) or as its
namespace.group.name tail. Schemas come from the built-in chat domain and
from the catalog named by --catalog.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchema(rootOpts, provider, args[0], cmd)
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "", "provider profile (default: configured provider)")
	return cmd
}

func runSchema(opts *RootOptions, provider, arg string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	id, err := identity.ParseIn(identity.DomainSchema, arg)
	if err != nil {
		_ = f.Error(catalog.ErrCodeIdentity, err.Error(), nil)
		return WrapExitError(ExitCommandError, "schema", err)
	}
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if provider == "" {
		provider = cfg.Provider.Name
	}
	profile := schema.ProfileFor(provider)

	sources := map[identity.Identity]schema.Source{}
	src, err := chat.PatientInitialSource()
	if err != nil {
		return WrapExitError(ExitFailure, "schema", err)
	}
	sources[chat.PatientInitialSchema] = src

	if cfg.Catalog.Dir != "" {
		cat, errs := catalog.Load(cfg.Catalog.Dir, catalog.LoadModeCollectAll)
		if len(errs) > 0 {
			err := errors.Join(errs...)
			_ = f.Error(catalog.Code(errs[0]), err.Error(), nil)
			return WrapExitError(ExitCommandError, "load catalog", err)
		}
		for _, s := range cat.Schemas {
			sources[s.ID] = s.Source
		}
	}

	src, ok := sources[id]
	if !ok {
		msg := fmt.Sprintf("schema %s is not registered", id)
		_ = f.Error(catalog.ErrCodeNotFound, msg, nil)
		return NewExitError(ExitCommandError, msg)
	}
	comp, err := schema.NewComponent(id, src, profile)
	if err != nil {
		msg := err.Error()
		_ = f.Error(catalog.Code(err), msg, nil)
		return NewExitError(ExitFailure, msg)
	}
	return f.Success(SchemaResult{
		Identity: id.String(),
		Profile:  profile.Name,
		Envelope: comp.Envelope().Bytes(),
	})
}
