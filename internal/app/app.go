// Package app wires the mockinterview subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates the circuit breaker,
// backend client, session store and session manager; Shutdown tears them
// down in order.
//
// For testing, inject doubles via functional options (WithBackend,
// WithStore, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/MrWong99/mockinterview/internal/backend"
	"github.com/MrWong99/mockinterview/internal/config"
	"github.com/MrWong99/mockinterview/internal/health"
	"github.com/MrWong99/mockinterview/internal/observe"
	"github.com/MrWong99/mockinterview/internal/resilience"
	"github.com/MrWong99/mockinterview/internal/speech"
	"github.com/MrWong99/mockinterview/internal/store"
)

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	registry *config.Registry
	metrics  *observe.Metrics
	baseCtx  context.Context

	// Subsystems, initialised in New and torn down in Shutdown.
	breaker  *resilience.CircuitBreaker
	backend  backend.Client
	store    store.Store
	speech   speech.Capability
	sessions *SessionManager

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithBackend injects a backend client instead of dialing cfg.Backend.BaseURL.
// No circuit breaker is created for an injected client.
func WithBackend(c backend.Client) Option {
	return func(a *App) { a.backend = c }
}

// WithStore injects a session store instead of creating one from config.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithSpeech hands a speech capability to every session. Console mode uses
// this; the HTTP service runs without speech.
func WithSpeech(s speech.Capability) Option {
	return func(a *App) { a.speech = s }
}

// WithMetrics overrides the global metrics instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithRegistry sets the registry used to build the store. Defaults to
// [DefaultRegistry] without a console speech source.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithBaseContext sets the context that background work such as forced
// MCQ submissions runs on. Defaults to the context passed to New.
func WithBaseContext(ctx context.Context) Option {
	return func(a *App) { a.baseCtx = ctx }
}

// New creates an App by wiring all subsystems together. cfg must already be
// validated; defaults are applied to a copy.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	c := *cfg
	c.ApplyDefaults()

	a := &App{cfg: &c}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.registry == nil {
		a.registry = DefaultRegistry(nil, io.Discard)
	}
	if a.baseCtx == nil {
		a.baseCtx = context.WithoutCancel(ctx)
	}

	if err := a.initBackend(); err != nil {
		return nil, fmt.Errorf("app: init backend: %w", err)
	}

	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	a.sessions = NewSessionManager(SessionManagerConfig{
		Backend:     a.backend,
		Store:       a.store,
		Settings:    a.cfg.Interview,
		Speech:      a.speech,
		Metrics:     a.metrics,
		BaseContext: a.baseCtx,
	})
	// Sessions close before the store they write to.
	a.closers = append([]func() error{func() error {
		a.sessions.Close(context.Background())
		return nil
	}}, a.closers...)

	return a, nil
}

// initBackend creates the circuit breaker and HTTP backend client unless a
// client was injected.
func (a *App) initBackend() error {
	if a.backend != nil {
		return nil
	}

	cb := a.cfg.Backend.CircuitBreaker
	a.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "backend",
		MaxFailures:  cb.MaxFailures,
		ResetTimeout: cb.ResetTimeout,
		HalfOpenMax:  cb.HalfOpenMax,
		IsFailure:    backend.IsBreakerFailure,
		OnStateChange: func(name string, from, to resilience.State) {
			a.metrics.RecordBreakerTransition(context.Background(), name, to.String())
			slog.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	client, err := backend.New(a.cfg.Backend.BaseURL,
		backend.WithTimeout(a.cfg.Backend.Timeout),
		backend.WithBreaker(a.breaker),
		backend.WithMetrics(a.metrics),
	)
	if err != nil {
		return err
	}
	a.backend = client
	slog.Info("backend client ready", "base_url", client.BaseURL(), "timeout", a.cfg.Backend.Timeout)
	return nil
}

// initStore builds the configured session store unless one was injected.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	s, err := a.registry.CreateStore(ctx, a.cfg.Store)
	if err != nil {
		return err
	}
	a.store = s
	a.closers = append(a.closers, s.Close)
	slog.Info("session store ready", "kind", a.cfg.Store.Kind)
	return nil
}

// Sessions returns the session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Breaker returns the backend circuit breaker, or nil when the backend client
// was injected.
func (a *App) Breaker() *resilience.CircuitBreaker { return a.breaker }

// Store returns the session store.
func (a *App) Store() store.Store { return a.store }

// Metrics returns the metrics instruments shared by all subsystems.
func (a *App) Metrics() *observe.Metrics { return a.metrics }

// Checkers returns the readiness checks for the app's dependencies.
func (a *App) Checkers() []health.Checker {
	checks := []health.Checker{health.StoreChecker("store", a.store)}
	if a.breaker != nil {
		checks = append(checks, health.BreakerChecker("backend", a.breaker))
	}
	return checks
}

// RunEviction drops HTTP sessions idle for longer than
// server.session_idle_timeout until ctx is done.
func (a *App) RunEviction(ctx context.Context) {
	a.sessions.RunEviction(ctx, a.cfg.Server.SessionIdleTimeout)
}

// ApplyDiff applies the hot-reloadable parts of a config change. The log
// level is owned by main and handled there.
func (a *App) ApplyDiff(d config.ConfigDiff) {
	if d.InterviewChanged {
		full := config.Config{Interview: d.NewInterview}
		full.ApplyDefaults()
		a.sessions.UpdateSettings(full.Interview)
		slog.Info("interview settings reloaded",
			"mcq_count", full.Interview.MCQ.Count,
			"mcq_countdown", full.Interview.MCQ.Countdown,
			"pass_threshold", full.Interview.Results.PassThreshold,
		)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config change requires a restart to take effect", "fields", d.RestartRequired)
	}
}

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// DefaultRegistry returns a registry with the built-in stores and the
// "console" speech capability. The console reads transcript lines from lines
// and writes spoken text to out.
func DefaultRegistry(lines <-chan string, out io.Writer) *config.Registry {
	r := config.NewRegistry()
	r.RegisterStore(config.StoreMemory, func(context.Context, config.StoreConfig) (store.Store, error) {
		return store.NewMemoryStore(), nil
	})
	r.RegisterStore(config.StoreFile, func(_ context.Context, cfg config.StoreConfig) (store.Store, error) {
		return store.OpenFileStore(cfg.Path)
	})
	r.RegisterStore(config.StorePostgres, func(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
		return store.OpenPostgres(ctx, cfg.PostgresDSN)
	})
	r.RegisterSpeech(config.DefaultSpeech, func(cfg config.SpeechConfig) (speech.Capability, error) {
		var opts []speech.ConsoleOption
		if p := config.OptString(cfg.Options, "speaker_prefix"); p != "" {
			opts = append(opts, speech.WithSpeakerPrefix(p))
		}
		return speech.NewConsole(lines, out, opts...), nil
	})
	return r
}
