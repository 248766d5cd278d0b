// Package app assembles the pipeline from configuration. It owns one
// registry per component kind, registers the core codec, the chat domain
// and the CUE catalog, and freezes everything before returning, so callers
// only ever see read-only registries.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/jackfruitco/simworks-sub000/internal/catalog"
	"github.com/jackfruitco/simworks-sub000/internal/chat"
	"github.com/jackfruitco/simworks-sub000/internal/codec"
	"github.com/jackfruitco/simworks-sub000/internal/config"
	"github.com/jackfruitco/simworks-sub000/internal/drain"
	"github.com/jackfruitco/simworks-sub000/internal/notify"
	"github.com/jackfruitco/simworks-sub000/internal/persist"
	"github.com/jackfruitco/simworks-sub000/internal/platform/metrics"
	"github.com/jackfruitco/simworks-sub000/internal/provider"
	"github.com/jackfruitco/simworks-sub000/internal/provider/openai"
	"github.com/jackfruitco/simworks-sub000/internal/schema"
	"github.com/jackfruitco/simworks-sub000/internal/service"
	"github.com/jackfruitco/simworks-sub000/internal/store"
	"github.com/jackfruitco/simworks-sub000/internal/store/postgres"
)

// App is a bootstrapped pipeline.
type App struct {
	Config     config.Config
	Logger     *slog.Logger
	Store      *store.Store
	Registries service.Registries
	Handlers   *persist.Registry
	Accessors  *persist.Accessors
	Messages   *chat.Messages
	Catalog    *catalog.Catalog
	Metrics    *metrics.Metrics
	Prometheus *prometheus.Registry
	Notifier   notify.Notifier

	provider provider.Client
	opts     options
	closers  []func() error
}

type options struct {
	logger   *slog.Logger
	provider provider.Client
	notifier notify.Notifier
	engine   []service.EngineOption
}

// Option configures New.
type Option func(*options)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithProvider replaces the configured provider client.
func WithProvider(c provider.Client) Option { return func(o *options) { o.provider = c } }

// WithNotifier adds a notifier next to the configured sinks.
func WithNotifier(n notify.Notifier) Option { return func(o *options) { o.notifier = n } }

// WithEngineOptions passes extra options to every engine the app builds.
func WithEngineOptions(opts ...service.EngineOption) Option {
	return func(o *options) { o.engine = append(o.engine, opts...) }
}

// New opens storage, registers every component and freezes the
// registries. On error everything opened so far is closed.
func New(ctx context.Context, cfg config.Config, opts ...Option) (_ *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{
		Config:     cfg,
		Logger:     o.logger,
		Registries: service.NewRegistries(),
		Handlers:   persist.NewRegistry(),
		Accessors:  persist.NewAccessors(),
		Prometheus: prometheus.NewRegistry(),
		opts:       o,
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.Prometheus.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.New(a.Prometheus)

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}
	if err := a.register(); err != nil {
		return nil, err
	}
	a.Registries.Freeze()
	a.Handlers.Freeze()

	if err := a.openProvider(); err != nil {
		return nil, err
	}
	if err := a.openNotifier(); err != nil {
		return nil, err
	}

	a.Logger.DebugContext(ctx, "app ready",
		"driver", cfg.Database.Driver,
		"services", a.Registries.Services.Len(),
		"schemas", a.Registries.Schemas.Len(),
		"handlers", a.Handlers.Len(),
	)
	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	db := a.Config.Database
	switch db.Driver {
	case config.DriverPostgres:
		s, err := postgres.Open(ctx, db.DSN, postgres.Options{Schema: []string{chat.PostgresDDL}})
		if err != nil {
			return err
		}
		a.Store = s
	default:
		s, err := store.Open(db.DSN, store.WithSchema(chat.SQLiteDDL))
		if err != nil {
			return err
		}
		a.Store = s
	}
	a.closers = append(a.closers, a.Store.Close)
	return nil
}

// register adds the core codec, the chat domain and the catalog.
func (a *App) register() error {
	p := a.Config.Provider
	profile := schema.ProfileFor(p.Name)

	core := codec.DefaultIdentity(p.Name)
	if err := a.Registries.Codecs.Register(core, codec.NewJSON(core)); err != nil {
		return err
	}

	msgs, err := chat.Install(chat.Deps{
		Registries: a.Registries,
		Handlers:   a.Handlers,
		Accessors:  a.Accessors,
		Store:      a.Store,
		Provider:   p.Name,
		Model:      p.Model,
		Profile:    profile,
	})
	if err != nil {
		return err
	}
	a.Messages = msgs

	if dir := a.Config.Catalog.Dir; dir != "" {
		cat, errs := catalog.Load(dir, catalog.LoadModeCollectAll)
		if len(errs) > 0 {
			return fmt.Errorf("load catalog %s: %w", dir, errors.Join(errs...))
		}
		if err := cat.Register(a.Registries, catalog.Defaults{Provider: p.Name, Model: p.Model}, profile); err != nil {
			return fmt.Errorf("register catalog %s: %w", dir, err)
		}
		a.Catalog = cat
	}
	return nil
}

// openProvider builds the provider client. Without an API key no client is
// configured and calls fail with a ConfigError; draining still works.
func (a *App) openProvider() error {
	if a.opts.provider != nil {
		a.provider = a.opts.provider
		return nil
	}
	p := a.Config.Provider
	if p.Name != openai.Name || p.APIKey == "" {
		a.Logger.Debug("no provider client configured", "provider", p.Name)
		return nil
	}
	c, err := openai.New(openai.Config{BaseURL: p.BaseURL, APIKey: p.APIKey, Timeout: p.Timeout})
	if err != nil {
		return err
	}
	a.provider = c
	return nil
}

func (a *App) openNotifier() error {
	n := a.Config.Notify
	sinks := notify.Multi{notify.Log{Logger: a.Logger, Level: slog.LevelDebug}}
	if n.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: n.RedisAddr})
		a.closers = append(a.closers, client.Close)
		sinks = append(sinks, notify.NewRedis(client, n.RedisChannel))
	}
	if len(n.KafkaBrokers) > 0 {
		k, err := notify.NewKafka(n.KafkaBrokers, n.KafkaTopic)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() error { k.Close(); return nil })
		sinks = append(sinks, k)
	}
	if a.opts.notifier != nil {
		sinks = append(sinks, a.opts.notifier)
	}
	a.Notifier = sinks
	return nil
}

// Engine builds a service engine over the app's registries and store.
func (a *App) Engine(opts ...service.EngineOption) *service.Engine {
	r := a.Config.Retry
	base := []service.EngineOption{
		service.WithNotifier(a.Notifier),
		service.WithLogger(a.Logger),
		service.WithMetrics(a.Metrics),
		service.WithRetry(service.RetryPolicy{
			MaxAttempts:     r.MaxAttempts,
			InitialInterval: r.InitialInterval,
			MaxInterval:     r.MaxInterval,
			RetryMalformed:  r.RetryMalformed,
		}),
	}
	if a.provider != nil {
		base = append(base, service.WithProvider(a.Config.Provider.Name, a.provider))
	}
	base = append(base, a.opts.engine...)
	return service.New(a.Registries, a.Store, append(base, opts...)...)
}

// Worker builds a drain worker.
func (a *App) Worker(opts ...drain.Option) *drain.Worker {
	d := a.Config.Drain
	base := []drain.Option{
		drain.WithNotifier(a.Notifier),
		drain.WithLogger(a.Logger),
		drain.WithMetrics(a.Metrics),
	}
	return drain.New(a.Store, a.Handlers, drain.Config{
		BatchSize:   d.BatchSize,
		MaxAttempts: d.MaxAttempts,
		Interval:    d.Interval,
		Lease:       d.Lease,
	}, append(base, opts...)...)
}

// Close releases everything New opened, in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
