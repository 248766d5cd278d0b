// Package cli implements the simworks command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/jackfruitco/simworks-sub000/internal/app"
	"github.com/jackfruitco/simworks-sub000/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	Driver     string
	DSN        string
	CatalogDir string

	// AppOptions are passed to app.New by commands that bootstrap the
	// pipeline.
	AppOptions []app.Option

	// Environ replaces the process environment when loading configuration.
	Environ map[string]string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simworks",
		Short: "Structured AI calls with a durable outbox",
		Long: `simworks issues structured calls to a generative-AI provider, records
every raw result in an outbox, and drains recorded results into domain
objects exactly once.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output and debug logging")
	pf.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	pf.StringVar(&opts.ConfigPath, "config", "", "YAML configuration file")
	pf.StringVar(&opts.Driver, "driver", "", "database driver (sqlite3|postgres), overrides config")
	pf.StringVar(&opts.DSN, "db", "", "database DSN or SQLite path, overrides config")
	pf.StringVar(&opts.CatalogDir, "catalog", "", "CUE catalog directory, overrides config")

	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewSchemaCommand(opts))
	cmd.AddCommand(NewCallCommand(opts))
	cmd.AddCommand(NewDrainCommand(opts))
	cmd.AddCommand(NewRecordsCommand(opts))

	return cmd
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// logger writes text logs to w: debug under --verbose, warnings otherwise so
// that command output stays readable.
func (o *RootOptions) logger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if o.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// loadConfig applies file, environment and then flags.
func (o *RootOptions) loadConfig() (config.Config, error) {
	cfg, err := config.Load(o.ConfigPath, o.Environ)
	if err != nil {
		return cfg, WrapExitError(ExitCommandError, "load config", err)
	}
	if o.Driver != "" {
		cfg.Database.Driver = o.Driver
	}
	if o.DSN != "" {
		cfg.Database.DSN = o.DSN
	}
	if o.CatalogDir != "" {
		cfg.Catalog.Dir = o.CatalogDir
	}
	if err := cfg.Validate(); err != nil {
		return cfg, WrapExitError(ExitCommandError, "config", err)
	}
	return cfg, nil
}

// openApp bootstraps the pipeline for commands that need storage.
func (o *RootOptions) openApp(ctx context.Context, cmd *cobra.Command, mutate ...func(*config.Config)) (*app.App, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	for _, m := range mutate {
		m(&cfg)
	}
	opts := append([]app.Option{app.WithLogger(o.logger(cmd.ErrOrStderr()))}, o.AppOptions...)
	a, err := app.New(ctx, cfg, opts...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "bootstrap", err)
	}
	return a, nil
}
