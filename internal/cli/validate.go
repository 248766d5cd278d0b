package cli

import (
	"errors"
	"fmt"
	"strings"

	"cuelang.org/go/cue/token"
	"github.com/spf13/cobra"

	"github.com/jackfruitco/simworks-sub000/internal/catalog"
	"github.com/jackfruitco/simworks-sub000/internal/schema"
)

// ValidationIssue is one problem found in a catalog.
type ValidationIssue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
}

// ValidationResult is the report of the validate command.
type ValidationResult struct {
	Valid    bool              `json:"valid"`
	Profile  string            `json:"profile"`
	Files    int               `json:"files"`
	Services int               `json:"services"`
	Prompts  int               `json:"prompts"`
	Schemas  int               `json:"schemas"`
	Errors   []ValidationIssue `json:"errors,omitempty"`
}

func (r ValidationResult) Text() string {
	var b strings.Builder
	if r.Valid {
		fmt.Fprintf(&b, "✓ Catalog valid for %s: %d service(s), %d prompt(s), %d schema(s)\n", r.Profile, r.Services, r.Prompts, r.Schemas)
		return b.String()
	}
	b.WriteString("✗ Validation failed\n\n")
	for _, e := range r.Errors {
		if e.Line > 0 {
			fmt.Fprintf(&b, "%s:%d\n", e.File, e.Line)
		}
		fmt.Fprintf(&b, "  %s: %s\n\n", e.Code, e.Message)
	}
	return b.String()
}

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Provider string
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate [catalog-dir]",
		Short: "Validate a CUE catalog",
		Long: `Load a CUE catalog and validate every schema against the provider profile.

Reports malformed declarations, root unions, open objects and every other
rule a provider would reject, before any call is made.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := opts.CatalogDir
			if len(args) == 1 {
				dir = args[0]
			}
			return runValidate(opts, dir, cmd)
		},
	}
	cmd.Flags().StringVar(&opts.Provider, "provider", "", "provider profile to validate against (default: configured provider)")
	return cmd
}

func runValidate(opts *ValidateOptions, dir string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	provider := opts.Provider
	if provider == "" {
		cfg, err := opts.loadConfig()
		if err != nil {
			return err
		}
		provider = cfg.Provider.Name
		if dir == "" {
			dir = cfg.Catalog.Dir
		}
	}
	if dir == "" {
		_ = f.Error(catalog.ErrCodeNotFound, "no catalog directory given", nil)
		return NewExitError(ExitCommandError, "validate: no catalog directory given")
	}
	profile := schema.ProfileFor(provider)

	cat, loadErrs := catalog.Load(dir, catalog.LoadModeCollectAll)
	if cat == nil {
		code, msg := catalog.Code(loadErrs[0]), loadErrs[0].Error()
		_ = f.Error(code, msg, nil)
		return NewExitError(ExitCommandError, msg)
	}
	f.VerboseLog("Found %d CUE file(s) in %s", cat.FileCount, dir)

	result := ValidationResult{
		Profile:  profile.Name,
		Files:    cat.FileCount,
		Services: len(cat.Services),
		Prompts:  len(cat.Prompts),
		Schemas:  len(cat.Schemas),
	}
	for _, err := range loadErrs {
		result.Errors = append(result.Errors, issue(err, token.NoPos))
	}
	for _, res := range cat.CompileSchemas(profile) {
		f.VerboseLog("Validating schema: %s", res.Spec.ID)
		if res.Err != nil {
			result.Errors = append(result.Errors, issue(res.Err, res.Spec.Pos))
		}
	}

	if len(result.Errors) > 0 {
		first := result.Errors[0]
		return f.Failure(first.Code, fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)), result)
	}
	result.Valid = true
	return f.Success(result)
}

func issue(err error, fallback token.Pos) ValidationIssue {
	pos := fallback
	var le *catalog.LoadError
	if errors.As(err, &le) && le.Pos.IsValid() {
		pos = le.Pos
	}
	vi := ValidationIssue{Code: catalog.Code(err), Message: err.Error()}
	if le != nil {
		vi.Message = le.Message
	}
	if pos.IsValid() {
		vi.File = pos.Filename()
		vi.Line = pos.Line()
	}
	return vi
}
