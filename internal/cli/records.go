package cli

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackfruitco/simworks-sub000/internal/outbox"
)

// RecordView is one call record as printed by the records commands.
type RecordView struct {
	CorrelationID    string     `json:"correlation_id"`
	Service          string     `json:"service"`
	Schema           string     `json:"schema,omitempty"`
	Owner            string     `json:"owner,omitempty"`
	Status           string     `json:"status"`
	Error            string     `json:"error,omitempty"`
	ProviderAttempts int        `json:"provider_attempts"`
	Persisted        bool       `json:"domain_persisted"`
	PersistAttempts  int        `json:"domain_persist_attempts"`
	PersistOutcome   string     `json:"domain_persist_outcome,omitempty"`
	PersistError     string     `json:"domain_persist_error,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
	Chunks           []string   `json:"chunks,omitempty"`
}

func viewOf(rec outbox.CallRecord) RecordView {
	v := RecordView{
		CorrelationID:    rec.CorrelationID,
		Service:          rec.Service.String(),
		Schema:           rec.Schema.String(),
		Owner:            rec.OwnerRef,
		Status:           string(rec.Status),
		Error:            rec.Error,
		ProviderAttempts: rec.ProviderAttempts,
		Persisted:        rec.DomainPersisted,
		PersistAttempts:  rec.DomainPersistAttempts,
		PersistOutcome:   string(rec.DomainPersistOutcome),
		PersistError:     rec.DomainPersistError,
		CreatedAt:        rec.CreatedAt,
	}
	if !rec.FinishedAt.IsZero() {
		t := rec.FinishedAt
		v.FinishedAt = &t
	}
	return v
}

// RecordList is the output of records.
type RecordList []RecordView

func (l RecordList) Text() string {
	if len(l) == 0 {
		return "no records\n"
	}
	var b strings.Builder
	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CORRELATION ID\tSERVICE\tSTATUS\tPERSISTED\tATTEMPTS\tOUTCOME")
	for _, v := range l {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%d\t%s\n", v.CorrelationID, v.Service, v.Status, v.Persisted, v.PersistAttempts, v.PersistOutcome)
	}
	tw.Flush()
	return b.String()
}

func (v RecordView) Text() string {
	var b strings.Builder
	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	row := func(k string, val any) { fmt.Fprintf(tw, "%s:\t%v\n", k, val) }
	row("correlation id", v.CorrelationID)
	row("service", v.Service)
	if v.Schema != "" {
		row("schema", v.Schema)
	}
	if v.Owner != "" {
		row("owner", v.Owner)
	}
	row("status", v.Status)
	if v.Error != "" {
		row("error", v.Error)
	}
	row("provider attempts", v.ProviderAttempts)
	row("persisted", v.Persisted)
	row("persist attempts", v.PersistAttempts)
	if v.PersistOutcome != "" {
		row("persist outcome", v.PersistOutcome)
	}
	if v.PersistError != "" {
		row("persist error", v.PersistError)
	}
	for _, c := range v.Chunks {
		row("chunk", c)
	}
	tw.Flush()
	return b.String()
}

// NewRecordsCommand creates the records command and its subcommands.
func NewRecordsCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		status    string
		exhausted bool
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "records",
		Short: "List and triage call records",
		Long: `List call records, oldest first.

--exhausted lists succeeded records the drain worker has given up on:
not persisted, with attempts at the configured maximum. Inspect one with
"records show" and make it claimable again with "records requeue".`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			filter := outbox.ListFilter{Exhausted: exhausted, Limit: limit}
			if status != "" {
				st, err := outbox.ParseStatus(status)
				if err != nil {
					_ = f.Error(ErrCodeRecordFailed, err.Error(), nil)
					return WrapExitError(ExitCommandError, "records", err)
				}
				filter.Status = st
			}

			a, err := rootOpts.openApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			filter.MaxAttempts = a.Config.Drain.MaxAttempts

			recs, err := a.Store.ListCalls(cmd.Context(), filter)
			if err != nil {
				_ = f.Error(ErrCodeRecordFailed, err.Error(), nil)
				return WrapExitError(ExitFailure, "records", err)
			}
			list := make(RecordList, 0, len(recs))
			for _, r := range recs {
				list = append(list, viewOf(r))
			}
			return f.Success(list)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status (pending|running|succeeded|failed)")
	cmd.Flags().BoolVar(&exhausted, "exhausted", false, "only records whose persistence attempts are exhausted")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of records")

	cmd.AddCommand(newRecordsShowCommand(rootOpts))
	cmd.AddCommand(newRecordsRequeueCommand(rootOpts))
	return cmd
}

func newRecordsShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show <correlation-id>",
		Short:         "Show one call record and its persisted chunks",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			a, err := rootOpts.openApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			rec, err := a.Store.GetCall(cmd.Context(), args[0])
			if err != nil {
				return recordError(f, err)
			}
			view := viewOf(rec)
			chunks, err := a.Store.ListChunks(cmd.Context(), rec.CorrelationID)
			if err != nil {
				return recordError(f, err)
			}
			for _, c := range chunks {
				view.Chunks = append(view.Chunks, fmt.Sprintf("%s -> %s", c.Key.Schema, c.Ref))
			}
			return f.Success(view)
		},
	}
}

func newRecordsRequeueCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "requeue <correlation-id>",
		Short: "Make an unpersisted record claimable again",
		Long: `Reset a succeeded, unpersisted record's persistence attempts and outcome so
the next drain cycle claims it. Use it after fixing the handler that failed
or registering the one that was missing.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			a, err := rootOpts.openApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Store.Requeue(cmd.Context(), args[0]); err != nil {
				return recordError(f, err)
			}
			rec, err := a.Store.GetCall(cmd.Context(), args[0])
			if err != nil {
				return recordError(f, err)
			}
			return f.Success(viewOf(rec))
		},
	}
}

func recordError(f *OutputFormatter, err error) error {
	_ = f.Error(ErrCodeRecordFailed, err.Error(), nil)
	if errors.Is(err, outbox.ErrNotFound) {
		return WrapExitError(ExitCommandError, "record not found", err)
	}
	return WrapExitError(ExitFailure, "record", err)
}
