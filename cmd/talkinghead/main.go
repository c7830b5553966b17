// Command talkinghead is the session control plane. It serves the HTTP API
// that creates rooms, spawns one talkinghead-bot worker per session and
// reports worker status.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/talkinghead/internal/config"
	"github.com/MrWong99/talkinghead/internal/controlplane"
	"github.com/MrWong99/talkinghead/internal/health"
	"github.com/MrWong99/talkinghead/internal/observe"
	"github.com/MrWong99/talkinghead/internal/resilience"
	"github.com/MrWong99/talkinghead/internal/room/daily"
	"github.com/MrWong99/talkinghead/internal/supervisor"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	settingsPath := flag.String("settings", "", "path to the YAML settings file (optional)")
	envPath := flag.String("env", "", "path to a .env file (default: ./.env if present)")
	host := flag.String("host", "", "host to bind (overrides HOST)")
	port := flag.Int("port", 0, "port to listen on (overrides FAST_API_PORT)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	var envFiles []string
	if *envPath != "" {
		envFiles = append(envFiles, *envPath)
	}
	if err := config.LoadEnv(envFiles...); err != nil {
		fmt.Fprintf(os.Stderr, "talkinghead: %v\n", err)
		return 1
	}
	cfg, err := config.Load(*settingsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "talkinghead: %v\n", err)
		return 1
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level}))
	slog.SetDefault(logger)

	slog.Info("talkinghead starting",
		"settings", *settingsPath,
		"addr", cfg.Server.Addr(),
		"log_level", cfg.Server.LogLevel,
		"max_bots_per_room", cfg.ControlPlane.MaxBotsPerRoom,
		"worker", cfg.ControlPlane.WorkerCommand,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "talkinghead"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Room provider ─────────────────────────────────────────────────────────
	rooms, err := daily.New(cfg.Rooms.APIKey,
		daily.WithAPIURL(cfg.Rooms.APIURL),
		daily.WithRetry(resilience.RetryPolicy{
			MaxRetries: *cfg.Rooms.MaxRetries,
			BaseDelay:  200 * time.Millisecond,
			MaxDelay:   2 * time.Second,
		}),
	)
	if err != nil {
		slog.Error("failed to create room provider", "err", err)
		return 1
	}

	// ── Session service ───────────────────────────────────────────────────────
	workerArgs := append([]string(nil), cfg.ControlPlane.WorkerArgs...)
	if *settingsPath != "" {
		workerArgs = append(workerArgs, "--settings", *settingsPath)
	}
	spawner := &supervisor.ExecSpawner{
		Command: cfg.ControlPlane.WorkerCommand,
		Args:    workerArgs,
		Env:     cfg.ControlPlane.WorkerEnv,
		Logger:  logger,
	}
	svc := controlplane.NewService(rooms, spawner,
		controlplane.WithMaxBotsPerRoom(cfg.ControlPlane.MaxBotsPerRoom),
		controlplane.WithLogger(logger),
		controlplane.WithMetrics(metrics),
	)

	// ── Hot reload ────────────────────────────────────────────────────────────
	if *settingsPath != "" {
		watcher, err := config.NewWatcher(*settingsPath, func(old, updated *config.Config) {
			applyReload(config.Diff(old, updated), &level, svc)
		}, config.WithWatcherLogger(logger))
		if err != nil {
			slog.Error("failed to watch settings", "err", err)
			return 1
		}
		defer watcher.Stop()

		// SIGHUP reloads immediately instead of waiting for the next poll.
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-hup:
					if !watcher.Reload() {
						slog.Info("SIGHUP: settings unchanged")
					}
				}
			}
		}()
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	hc := health.New(
		health.Executable("worker", cfg.ControlPlane.WorkerCommand),
		health.Checker{Name: "rooms", Check: rooms.Ping},
	)
	router := controlplane.NewRouter(controlplane.NewHandler(svc), controlplane.RouterConfig{
		Metrics:      metrics,
		Health:       hc,
		ServeMetrics: cfg.Server.MetricsEnabled(),
	})
	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	exitCode := 0
	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, stopping…")
	case err := <-serveErr:
		slog.Error("http server failed", "err", err)
		exitCode = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	hc.SetDraining(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ControlPlane.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http server shutdown error", "err", err)
	}
	if err := svc.Shutdown(shutdownCtx); err != nil {
		slog.Error("worker shutdown error", "err", err)
		exitCode = 1
	}
	slog.Info("goodbye")
	return exitCode
}

// applyReload applies the hot-reloadable parts of a settings change.
func applyReload(d config.ConfigDiff, level *slog.LevelVar, svc *controlplane.Service) {
	if d.LogLevelChanged {
		level.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.MaxBotsPerRoomChanged {
		svc.SetMaxBotsPerRoom(d.NewMaxBotsPerRoom)
		slog.Info("max bots per room changed", "max_bots_per_room", d.NewMaxBotsPerRoom)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("settings changed that need a restart to take effect", "keys", d.RestartRequired)
	}
}

// ── Logger ─────────────────────────────────────────────────────────────────────

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
