package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackfruitco/simworks-sub000/internal/catalog"
	"github.com/jackfruitco/simworks-sub000/internal/identity"
	"github.com/jackfruitco/simworks-sub000/internal/provider"
	"github.com/jackfruitco/simworks-sub000/internal/service"
)

// CallOptions holds flags for the call command.
type CallOptions struct {
	*RootOptions
	Messages []string
	Vars     []string
	Owner    string
	Prompt   string
	Schema   string
	Codec    string
	Stream   bool
}

// CallResult is the output of the call command.
type CallResult struct {
	CorrelationID string          `json:"correlation_id"`
	Service       string          `json:"service"`
	Status        string          `json:"status"`
	State         string          `json:"state"`
	Attempts      int             `json:"attempts"`
	ResponseID    string          `json:"response_id,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
	Error         string          `json:"error,omitempty"`
}

func (r CallResult) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s (%s, %d attempt(s))\n", r.CorrelationID, r.Status, r.State, r.Attempts)
	if len(r.Result) > 0 {
		fmt.Fprintf(&b, "%s\n", r.Result)
	}
	if r.Error != "" {
		fmt.Fprintf(&b, "error: %s\n", r.Error)
	}
	return b.String()
}

// NewCallCommand creates the call command.
func NewCallCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CallOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "call <service>",
		Short: "Run a service call and record it in the outbox",
		Long: `Run one service call: resolve its prompt, codec and schema, send it to the
provider, and record the validated result. Use "simworks drain" to turn
recorded results into domain objects.

Example:
  simworks call chat.patient.initial --message "Begin." --owner simulation:42`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCall(opts, args[0], cmd)
		},
	}

	fl := cmd.Flags()
	fl.StringArrayVarP(&opts.Messages, "message", "m", nil, "user message (repeatable)")
	fl.StringArrayVar(&opts.Vars, "var", nil, "prompt variable key=value (repeatable)")
	fl.StringVar(&opts.Owner, "owner", "", "owner reference, e.g. simulation:42")
	fl.StringVar(&opts.Prompt, "prompt", "", "replace the resolved instructions")
	fl.StringVar(&opts.Schema, "schema", "", "schema identity override")
	fl.StringVar(&opts.Codec, "codec", "", "codec identity override")
	fl.BoolVar(&opts.Stream, "stream", false, "stream the response and print deltas to stderr")
	return cmd
}

func runCall(opts *CallOptions, arg string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	inv, err := opts.invocation(arg)
	if err != nil {
		_ = f.Error(catalog.ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitCommandError, "call", err)
	}
	if opts.Stream {
		w := cmd.ErrOrStderr()
		inv.Stream = true
		inv.OnDelta = func(delta string) { fmt.Fprint(w, delta) }
	}

	a, err := opts.openApp(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	out, err := a.Engine().Execute(cmd.Context(), inv)
	if service.IsConfigError(err) {
		_ = f.Error(ErrCodeConfig, err.Error(), nil)
		return WrapExitError(ExitCommandError, "call", err)
	}

	res := CallResult{
		CorrelationID: out.CorrelationID,
		Service:       out.Service.String(),
		Status:        string(out.Status),
		State:         out.State.String(),
		Attempts:      out.Attempts,
		ResponseID:    out.ResponseID,
		Error:         out.Error,
	}
	if out.Result != nil {
		res.Result = out.Result.Canonical
	}
	if err != nil {
		return f.Failure(ErrCodeCallFailed, err.Error(), res)
	}
	return f.Success(res)
}

func (o *CallOptions) invocation(arg string) (service.Invocation, error) {
	svc, err := identity.ParseIn(identity.DomainService, arg)
	if err != nil {
		return service.Invocation{}, err
	}
	inv := service.Invocation{Service: svc, Owner: o.Owner}
	for _, m := range o.Messages {
		inv.Messages = append(inv.Messages, provider.Message{Role: provider.RoleUser, Content: m})
	}
	if len(o.Vars) > 0 {
		inv.Vars = make(map[string]any, len(o.Vars))
		for _, kv := range o.Vars {
			k, v, ok := strings.Cut(kv, "=")
			if !ok || k == "" {
				return service.Invocation{}, fmt.Errorf("--var %q: want key=value", kv)
			}
			inv.Vars[k] = v
		}
	}
	inv.Overrides.Prompt = o.Prompt
	if o.Schema != "" {
		if inv.Overrides.Schema, err = identity.ParseIn(identity.DomainSchema, o.Schema); err != nil {
			return service.Invocation{}, fmt.Errorf("--schema: %w", err)
		}
	}
	if o.Codec != "" {
		if inv.Overrides.Codec, err = identity.ParseIn(identity.DomainCodec, o.Codec); err != nil {
			return service.Invocation{}, fmt.Errorf("--codec: %w", err)
		}
	}
	return inv, nil
}
