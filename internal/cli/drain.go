package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jackfruitco/simworks-sub000/internal/app"
	"github.com/jackfruitco/simworks-sub000/internal/config"
	"github.com/jackfruitco/simworks-sub000/internal/drain"
)

// DrainOptions holds flags for the drain command.
type DrainOptions struct {
	*RootOptions
	Once        bool
	Workers     int
	BatchSize   int
	MaxAttempts int
	Interval    time.Duration
	Lease       time.Duration
	MetricsAddr string
}

// DrainResult is the output of drain --once.
type DrainResult struct {
	Workers   int `json:"workers"`
	Claimed   int `json:"claimed"`
	Persisted int `json:"persisted"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

func (r DrainResult) Text() string {
	return fmt.Sprintf("claimed %d: %d persisted, %d skipped, %d failed\n", r.Claimed, r.Persisted, r.Skipped, r.Failed)
}

// NewDrainCommand creates the drain command.
func NewDrainCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DrainOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Persist recorded call results into domain objects",
		Long: `Claim succeeded, unpersisted call records in batches and run their
persistence handlers. Each record is turned into domain objects at most
once, however many workers run.

With --once every worker runs a single cycle and the command exits.
Otherwise workers poll until interrupted.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDrain(opts, cmd)
		},
	}

	fl := cmd.Flags()
	fl.BoolVar(&opts.Once, "once", false, "run one cycle per worker and exit")
	fl.IntVar(&opts.Workers, "workers", 0, "concurrent workers (default from config)")
	fl.IntVar(&opts.BatchSize, "batch-size", 0, "records claimed per cycle (default from config)")
	fl.IntVar(&opts.MaxAttempts, "max-attempts", 0, "persistence attempts per record (default from config)")
	fl.DurationVar(&opts.Interval, "interval", 0, "poll interval (default from config)")
	fl.DurationVar(&opts.Lease, "lease", 0, "how long a claimed record is reserved for its worker (default from config)")
	fl.StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve /metrics and /healthz on this address")
	return cmd
}

func (o *DrainOptions) apply(cfg *config.Config) {
	if o.Workers > 0 {
		cfg.Drain.Workers = o.Workers
	}
	if o.BatchSize > 0 {
		cfg.Drain.BatchSize = o.BatchSize
	}
	if o.MaxAttempts > 0 {
		cfg.Drain.MaxAttempts = o.MaxAttempts
	}
	if o.Interval > 0 {
		cfg.Drain.Interval = o.Interval
	}
	if o.Lease > 0 {
		cfg.Drain.Lease = o.Lease
	}
	if o.MetricsAddr != "" {
		cfg.Metrics.Addr = o.MetricsAddr
	}
}

func runDrain(opts *DrainOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := opts.openApp(ctx, cmd, opts.apply)
	if err != nil {
		return err
	}
	defer a.Close()

	n := a.Config.Drain.Workers
	if opts.Once {
		rep, err := drainOnce(ctx, a, n)
		res := DrainResult{Workers: n, Claimed: rep.Claimed, Persisted: rep.Persisted, Skipped: rep.Skipped, Failed: rep.Failed}
		if err != nil {
			return f.Failure(ErrCodeDrainFailed, err.Error(), res)
		}
		return f.Success(res)
	}

	g, gctx := errgroup.WithContext(ctx)
	if addr := a.Config.Metrics.Addr; addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           metricsRouter(a.Prometheus),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
		f.VerboseLog("Serving metrics on %s", addr)
	}
	for i := 0; i < n; i++ {
		w := a.Worker()
		g.Go(func() error {
			if err := w.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "drain", err)
	}
	return nil
}

// drainOnce runs one cycle on each of n workers concurrently and sums the
// reports.
func drainOnce(ctx context.Context, a *app.App, n int) (drain.Report, error) {
	var (
		mu    sync.Mutex
		total drain.Report
	)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		w := a.Worker()
		g.Go(func() error {
			rep, err := w.RunOnce(ctx)
			mu.Lock()
			total.Add(rep)
			mu.Unlock()
			return err
		})
	}
	err := g.Wait()
	return total, err
}

// metricsRouter serves the Prometheus registry and a liveness probe.
func metricsRouter(reg *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return r
}
