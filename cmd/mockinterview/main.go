// Command mockinterview runs the mock interview service, either as an HTTP
// API hosting many sessions or as a single interactive terminal session.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/mockinterview/internal/api"
	"github.com/MrWong99/mockinterview/internal/app"
	"github.com/MrWong99/mockinterview/internal/config"
	"github.com/MrWong99/mockinterview/internal/console"
	"github.com/MrWong99/mockinterview/internal/health"
	"github.com/MrWong99/mockinterview/internal/observe"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	modeServe   = "serve"
	modeConsole = "console"

	shutdownTimeout = 15 * time.Second
	consoleKey      = "console"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout))
}

func run(args []string, stdin io.Reader, stdout io.Writer) int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	fs := flag.NewFlagSet("mockinterview", flag.ContinueOnError)
	configPath := fs.String("config", "config.yaml", "path to the YAML configuration file")
	envPath := fs.String("env", ".env", "optional dotenv file loaded before the configuration")
	watch := fs.Bool("watch", true, "reload log level and interview settings when the config file changes")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	mode := modeServe
	if fs.NArg() > 0 {
		mode = fs.Arg(0)
	}
	if mode != modeServe && mode != modeConsole {
		fmt.Fprintf(os.Stderr, "mockinterview: unknown mode %q (want %s or %s)\n", mode, modeServe, modeConsole)
		return 2
	}

	// ── Environment ───────────────────────────────────────────────────────────
	if err := godotenv.Load(*envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "mockinterview: load %s: %v\n", *envPath, err)
		return 1
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "mockinterview: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "mockinterview: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	setLevel := func(l config.LogLevel) { level.Set(modeLevel(mode, l)) }
	setLevel(cfg.Server.LogLevel)
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("mockinterview starting",
		"version", version,
		"mode", mode,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "mockinterview",
		ServiceVersion: version,
		Registerer:     promReg,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Application ───────────────────────────────────────────────────────────
	var opts []app.Option
	var lines <-chan string
	if mode == modeConsole {
		lines = readLines(ctx, stdin)
		reg := app.DefaultRegistry(lines, stdout)
		sp, err := reg.CreateSpeech(cfg.Speech)
		if err != nil {
			slog.Error("failed to create speech capability", "err", err)
			return 1
		}
		opts = append(opts, app.WithRegistry(reg), app.WithSpeech(sp))
	} else {
		printStartupSummary(stdout, cfg)
	}

	application, err := app.New(ctx, cfg, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	g, gctx := errgroup.WithContext(ctx)

	if *watch {
		w, err := config.NewWatcher(*configPath, func(_, _ *config.Config, d config.ConfigDiff) {
			if d.LogLevelChanged {
				setLevel(d.NewLogLevel)
				slog.Info("log level changed", "level", d.NewLogLevel)
			}
			application.ApplyDiff(d)
		})
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			hup := make(chan os.Signal, 1)
			signal.Notify(hup, syscall.SIGHUP)
			g.Go(func() error {
				defer signal.Stop(hup)
				defer w.Stop()
				for {
					select {
					case <-gctx.Done():
						return nil
					case <-hup:
						if _, err := w.Reload(); err != nil {
							slog.Warn("config reload failed", "err", err)
						}
					}
				}
			})
		}
	}

	switch mode {
	case modeConsole:
		g.Go(func() error {
			c, err := application.Sessions().Get(gctx, consoleKey)
			if err != nil {
				return fmt.Errorf("open console session: %w", err)
			}
			if err := console.New(c, lines, stdout).Run(gctx); err != nil {
				return err
			}
			// The candidate is done; unwind the rest of the group.
			stop()
			return nil
		})
	default:
		srv := newServer(cfg.Server.ListenAddr, application, promReg)
		g.Go(func() error {
			application.RunEviction(gctx)
			return nil
		})
		g.Go(func() error {
			ln, err := net.Listen("tcp", cfg.Server.ListenAddr)
			if err != nil {
				return fmt.Errorf("listen: %w", err)
			}
			slog.Info("server ready, press Ctrl+C to shut down", "addr", ln.Addr().String())
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	code := 0
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return code
}

// newServer mounts the session API, health endpoints and the Prometheus scrape
// endpoint on one mux.
func newServer(addr string, a *app.App, gatherer prometheus.Gatherer) *http.Server {
	mux := http.NewServeMux()
	api.New(a.Sessions(), api.WithMetrics(a.Metrics())).Register(mux)
	health.New(a.Checkers()...).Register(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(a.Metrics())(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// readLines forwards lines from r until it is exhausted or ctx is done. The
// returned channel is closed afterwards.
func readLines(ctx context.Context, r io.Reader) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for sc.Scan() {
			select {
			case out <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func printStartupSummary(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║     Mock interview, startup summary   ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	fmt.Fprintf(w, "║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	fmt.Fprintf(w, "║  Backend         : %-19s ║\n", truncate(cfg.Backend.BaseURL, 19))
	fmt.Fprintf(w, "║  Store           : %-19s ║\n", cfg.Store.Kind)
	fmt.Fprintf(w, "║  MCQ questions   : %-19d ║\n", cfg.Interview.MCQ.Count)
	fmt.Fprintf(w, "║  MCQ countdown   : %-19s ║\n", cfg.Interview.MCQ.Countdown)
	fmt.Fprintf(w, "║  Pass threshold  : %-19d ║\n", cfg.Interview.Results.PassThreshold)
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

// modeLevel is the effective log level of mode. Console mode never logs
// below warn, so only warnings interleave with the interview transcript.
func modeLevel(mode string, level config.LogLevel) slog.Level {
	lv := slogLevel(level)
	if mode == modeConsole {
		lv = max(lv, slog.LevelWarn)
	}
	return lv
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
