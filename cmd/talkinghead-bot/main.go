// Command talkinghead-bot runs a single talking-head session. It is spawned
// by the talkinghead control plane with the room URL, the meeting token and
// the base64-encoded bot configuration, and exits when the session ends.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/MrWong99/talkinghead/internal/avatar"
	"github.com/MrWong99/talkinghead/internal/bot"
	"github.com/MrWong99/talkinghead/internal/botconfig"
	"github.com/MrWong99/talkinghead/internal/config"
	"github.com/MrWong99/talkinghead/internal/observe"
	"github.com/MrWong99/talkinghead/internal/resilience"
	"github.com/MrWong99/talkinghead/internal/transport"
	"github.com/MrWong99/talkinghead/internal/transport/wsroom"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	roomURL := flag.String("url", "", "room URL (required)")
	token := flag.String("token", "", "meeting token (required)")
	encoded := flag.String("config", "", "base64 encoded bot configuration (required)")
	settingsPath := flag.String("settings", "", "path to the YAML settings file (optional)")
	flag.Parse()

	if *roomURL == "" || *token == "" || *encoded == "" {
		fmt.Fprintln(os.Stderr, "talkinghead-bot: --url, --token and --config are required")
		flag.Usage()
		return 2
	}

	// ── Load configuration ────────────────────────────────────────────────────
	if err := config.LoadEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "talkinghead-bot: %v\n", err)
		return 1
	}
	cfg, err := config.Load(*settingsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "talkinghead-bot: %v\n", err)
		return 1
	}
	botCfg, err := botconfig.Decode(*encoded)
	if err != nil {
		fmt.Fprintf(os.Stderr, "talkinghead-bot: %v\n", err)
		return 2
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel).With("pid", os.Getpid())
	slog.SetDefault(logger)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceName: "talkinghead-bot",
		InstanceID:  strconv.Itoa(os.Getpid()),
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	bot.RegisterBuiltinProviders(reg)
	providers, err := bot.BuildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Avatar ────────────────────────────────────────────────────────────────
	assets, err := avatar.Load(cfg.Pipeline.AvatarDir, cfg.Pipeline.SpriteCount)
	if err != nil {
		slog.Error("failed to load avatar sprites", "dir", cfg.Pipeline.AvatarDir, "err", err)
		return 1
	}

	// ── Room transport ────────────────────────────────────────────────────────
	tr, err := wsroom.New(
		wsroom.WithParams(transport.Params{
			BotName:       cfg.Transport.BotName,
			CameraWidth:   cfg.Transport.CameraWidth,
			CameraHeight:  cfg.Transport.CameraHeight,
			AudioOut:      true,
			Transcription: true,
		}),
		wsroom.WithCodec(cfg.Transport.Codec),
		wsroom.WithInputSampleRate(cfg.Transport.InputSampleRate),
		wsroom.WithLogger(logger),
	)
	if err != nil {
		slog.Error("failed to create room transport", "err", err)
		return 1
	}

	// ── Session ───────────────────────────────────────────────────────────────
	worker, err := bot.New(bot.Config{
		RoomURL:            *roomURL,
		Token:              *token,
		Bot:                botCfg,
		Transport:          tr,
		LLM:                providers.LLM,
		TTS:                providers.TTS,
		VAD:                providers.VAD,
		VADConfig:          bot.DefaultVADConfig(cfg.Transport.InputSampleRate),
		Assets:             assets,
		AllowInterruptions: cfg.Pipeline.InterruptionsAllowed(),
		Temperature:        cfg.Pipeline.Temperature,
		MaxTokens:          cfg.Pipeline.MaxTokens,
		ContextMaxTokens:   cfg.Pipeline.ContextMaxTokens,
		Retry: resilience.RetryPolicy{
			MaxRetries: *cfg.Pipeline.MaxRetries,
			BaseDelay:  cfg.Pipeline.RetryBaseDelay,
			MaxDelay:   2 * time.Second,
		},
		Logger: logger,
	})
	if err != nil {
		slog.Error("failed to create session", "err", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("bot starting", "room_url", *roomURL, "voice_id", botCfg.VoiceID, "speed", botCfg.Speed)
	runErr := worker.Run(ctx)

	for i, text := range worker.Transcripts() {
		slog.Info("transcript", "index", i, "text", text)
	}

	switch {
	case runErr == nil:
		slog.Info("session finished")
		return 0
	case errors.Is(runErr, context.Canceled):
		slog.Info("session terminated by signal")
		return 0
	default:
		slog.Error("session failed", "err", runErr)
		return 1
	}
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
