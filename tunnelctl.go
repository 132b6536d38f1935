// Package tunnelctl embeds the tunnel supervisor daemon: profile storage, the
// connection supervisor, notifications, history, metrics and the HTTP API.
package tunnelctl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/tunnelctl/internal/clock"
	"github.com/loykin/tunnelctl/internal/config"
	"github.com/loykin/tunnelctl/internal/history"
	historyfactory "github.com/loykin/tunnelctl/internal/history/factory"
	"github.com/loykin/tunnelctl/internal/logger"
	"github.com/loykin/tunnelctl/internal/metrics"
	"github.com/loykin/tunnelctl/internal/notify"
	"github.com/loykin/tunnelctl/internal/process"
	"github.com/loykin/tunnelctl/internal/profile"
	"github.com/loykin/tunnelctl/internal/reconnect"
	"github.com/loykin/tunnelctl/internal/registry"
	"github.com/loykin/tunnelctl/internal/server"
	"github.com/loykin/tunnelctl/internal/status"
	"github.com/loykin/tunnelctl/internal/store"
	storefactory "github.com/loykin/tunnelctl/internal/store/factory"
	"github.com/loykin/tunnelctl/internal/supervisor"
	"github.com/loykin/tunnelctl/internal/watcher"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = config.Config

type Profile = profile.Profile

type Draft = profile.Draft

type Snapshot = status.Snapshot

type ProcessStats = process.Stats

type Spawner = process.Spawner

type Notifier = notify.Notifier

type Notification = notify.Notification

type Supervisor = supervisor.Supervisor

func LoadConfig(path string) (Config, error) { return config.Load(path) }

func DefaultConfig() Config { return config.Default() }

// Option customizes Open.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	spawner  process.Spawner
	clock    clock.Clock
	notifier notify.Notifier
}

// WithLogger sets the daemon logger. Without it Open builds one from cfg.Log.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithSpawner replaces the OS process spawner.
func WithSpawner(s Spawner) Option { return func(o *options) { o.spawner = s } }

// WithClock replaces the wall clock used for confirmation, backoff and polling.
func WithClock(c clock.Clock) Option { return func(o *options) { o.clock = c } }

// WithNotifier adds a notifier next to the configured ones.
func WithNotifier(n Notifier) Option { return func(o *options) { o.notifier = n } }

// Daemon is an assembled supervisor with its storage and sinks.
type Daemon struct {
	cfg    Config
	logger *slog.Logger

	store   store.Store
	sup     *supervisor.Supervisor
	history *history.Dispatcher
	async   *notify.Async
	watcher *watcher.Watcher
	closers []io.Closer
	cancel  context.CancelFunc
}

// Open builds a Daemon from cfg and loads the stored profiles. Nothing is spawned
// until Start.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Daemon, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	d := &Daemon{cfg: cfg, logger: o.logger}
	if d.logger == nil {
		l, closer, err := logger.New(cfg.Log)
		if err != nil {
			return nil, fmt.Errorf("logger: %w", err)
		}
		d.logger = l
		d.closers = append(d.closers, closer)
	}

	st, err := storefactory.NewFromDSN(cfg.Store.DSN)
	if err != nil {
		d.closeAll()
		return nil, fmt.Errorf("open store: %w", err)
	}
	d.store = st
	d.closers = append(d.closers, st)

	reg := registry.New(st, d.logger.With("component", "registry"))
	// Closed before the store so queued saves land first.
	d.closers = append(d.closers, reg)
	if err := reg.Load(ctx); err != nil {
		d.closeAll()
		return nil, fmt.Errorf("load profiles: %w", err)
	}

	var sinks []history.Sink
	for _, dsn := range cfg.History {
		s, err := historyfactory.NewSinkFromDSN(dsn)
		if err != nil {
			d.closeAll()
			return nil, fmt.Errorf("history sink: %w", err)
		}
		sinks = append(sinks, s)
	}
	if len(sinks) > 0 {
		d.history = history.NewDispatcher(d.logger.With("component", "history"), sinks...)
	}

	if cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			d.closeAll()
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	spawner := o.spawner
	if spawner == nil {
		env, err := cfg.Supervisor.ProcessEnv()
		if err != nil {
			d.closeAll()
			return nil, fmt.Errorf("process env: %w", err)
		}
		spawner = &process.ExecSpawner{
			Log:    logger.Config{Dir: cfg.Supervisor.ProcessLogDir},
			Env:    env,
			Grace:  cfg.Supervisor.TerminateGrace,
			Logger: d.logger.With("component", "process"),
		}
	}

	sopts := supervisor.Options{
		Spawner:      spawner,
		Clock:        o.clock,
		Notifier:     d.notifier(o.notifier),
		Logger:       d.logger.With("component", "supervisor"),
		ConfirmDelay: cfg.Supervisor.ConfirmDelay,
		Stagger:      cfg.Supervisor.Stagger,
		PollInterval: cfg.Supervisor.PollInterval,
		Backoff:      reconnect.Policy{Base: cfg.Supervisor.BackoffBase, Max: cfg.Supervisor.BackoffMax},
	}
	if d.history != nil {
		sopts.History = d.history
	}
	d.sup = supervisor.New(reg, sopts)
	return d, nil
}

func (d *Daemon) notifier(extra notify.Notifier) notify.Notifier {
	var m notify.Multi
	if d.cfg.Notify.Log {
		m = append(m, notify.Log{Logger: d.logger.With("component", "notify")})
	}
	if d.cfg.Notify.Desktop {
		m = append(m, notify.NewDesktop(d.cfg.Notify.Icon))
	}
	if d.cfg.Notify.WebhookURL != "" {
		d.async = notify.NewAsync(notify.NewWebhook(d.cfg.Notify.WebhookURL), 0, d.logger)
		m = append(m, d.async)
	}
	if extra != nil {
		m = append(m, extra)
	}
	return m
}

// Start auto-connects enabled profiles and, for file stores with watch enabled,
// follows external edits of the profile file.
func (d *Daemon) Start(ctx context.Context) error {
	if err := d.sup.Start(); err != nil {
		return err
	}
	w, ok := d.store.(store.Watchable)
	if !ok || !d.cfg.Store.Watch {
		return nil
	}
	fw, err := watcher.New(watcher.Config{Path: w.Path(), Logger: d.logger.With("component", "watcher")})
	if err != nil {
		return err
	}
	changes, err := fw.Start()
	if err != nil {
		_ = fw.Stop()
		return err
	}
	d.watcher = fw
	wctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	go watcher.Follow(wctx, changes, d.logger, d.Reload)
	d.logger.Info("watching profile file", "path", w.Path())
	return nil
}

// Reload re-reads the store and converges the supervisor to it. Content the
// daemon wrote itself is ignored. Profiles without an id get one, which is
// persisted on the next save.
func (d *Daemon) Reload(ctx context.Context) error {
	_, err := d.sup.SyncFrom(ctx, d.store.LoadProfiles)
	return err
}

// Supervisor exposes the running supervisor.
func (d *Daemon) Supervisor() *Supervisor { return d.sup }

// Logger returns the daemon logger.
func (d *Daemon) Logger() *slog.Logger { return d.logger }

// Handler returns the HTTP API rooted at cfg.Server.BasePath.
func (d *Daemon) Handler() http.Handler {
	opts := []server.Option{server.WithLogger(d.logger.With("component", "http"))}
	if d.cfg.Metrics.Enabled {
		opts = append(opts, server.WithMetrics(metrics.Handler()))
	}
	return server.NewRouter(d.sup, d.cfg.Server.BasePath, opts...).Handler()
}

// NewHTTPServer returns an http.Server for the API on cfg.Server.Listen.
func (d *Daemon) NewHTTPServer() *http.Server {
	srv := server.NewServer(d.cfg.Server.Listen, d.cfg.Server.BasePath, d.sup)
	srv.Handler = d.Handler()
	return srv
}

// Close disconnects every tunnel and releases sinks and storage.
func (d *Daemon) Close() error {
	if d.cancel != nil {
		d.cancel()
	}
	var errs []error
	if d.watcher != nil {
		errs = append(errs, d.watcher.Stop())
	}
	errs = append(errs, d.sup.Close())
	if d.async != nil {
		errs = append(errs, d.async.Close())
	}
	if d.history != nil {
		errs = append(errs, d.history.Close())
	}
	errs = append(errs, d.closeAll())
	return errors.Join(errs...)
}

func (d *Daemon) closeAll() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		errs = append(errs, d.closers[i].Close())
	}
	d.closers = nil
	return errors.Join(errs...)
}

// ServeMetrics serves /metrics from the default registry on addr until the
// listener fails. It registers the collectors if needed.
func ServeMetrics(addr string) error {
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
