// Package bot runs one talking-head session inside a worker process.
//
// # Architecture
//
// A [Worker] joins the room it was spawned for, shows the quiet avatar image
// and waits for the first participant. When that participant joins it asks
// the room to transcribe them and seeds the conversation with the system
// prompt from the bot configuration, which makes the bot greet them. From
// then on the stage pipeline (see package stage) answers every user turn.
//
// The session ends when the participant leaves, the room connection drops,
// the session time elapses, or the worker is told to stop. Transcripts of
// everything the participant said are available afterwards.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/talkinghead/internal/avatar"
	"github.com/MrWong99/talkinghead/internal/botconfig"
	"github.com/MrWong99/talkinghead/internal/conversation"
	"github.com/MrWong99/talkinghead/internal/frame"
	"github.com/MrWong99/talkinghead/internal/observe"
	"github.com/MrWong99/talkinghead/internal/pipeline"
	"github.com/MrWong99/talkinghead/internal/resilience"
	"github.com/MrWong99/talkinghead/internal/stage"
	"github.com/MrWong99/talkinghead/internal/transport"
	"github.com/MrWong99/talkinghead/pkg/provider/llm"
	"github.com/MrWong99/talkinghead/pkg/provider/tts"
	"github.com/MrWong99/talkinghead/pkg/provider/vad"
)

// DefaultVADConfig returns the turn detection settings used for participant
// audio at sampleRate.
func DefaultVADConfig(sampleRate int) vad.Config {
	return vad.Config{
		SampleRate:       sampleRate,
		FrameSizeMs:      20,
		SpeechThreshold:  0.5,
		SilenceThreshold: 0.35,
		HangoverMs:       800,
	}
}

// Config holds everything a [Worker] needs for one session.
type Config struct {
	// RoomURL and Token are the credentials issued by the control plane.
	RoomURL string
	Token   string

	// Bot is the decoded per-session configuration.
	Bot botconfig.Config

	Transport transport.Transport
	LLM       llm.Provider
	TTS       tts.Provider

	// VAD is optional. Without it, barge-in is not detected and every final
	// transcription is answered as soon as it arrives.
	VAD       vad.Engine
	VADConfig vad.Config

	Assets avatar.Assets

	AllowInterruptions bool
	Temperature        float64
	MaxTokens          int
	ContextMaxTokens   int
	Retry              resilience.RetryPolicy

	Logger  *slog.Logger
	Metrics *observe.Metrics
}

// Worker drives a single session. It runs once.
type Worker struct {
	cfg       Config
	logger    *slog.Logger
	runner    *pipeline.Runner
	pipe      *pipeline.Pipeline
	task      *pipeline.Task
	collector *stage.TranscriptCollector
	conv      *conversation.Context
}

// New validates cfg and assembles the session pipeline.
func New(cfg Config) (*Worker, error) {
	var errs []error
	if cfg.RoomURL == "" {
		errs = append(errs, errors.New("room url is required"))
	}
	if cfg.Transport == nil {
		errs = append(errs, errors.New("transport is required"))
	}
	if cfg.LLM == nil {
		errs = append(errs, errors.New("llm provider is required"))
	}
	if cfg.TTS == nil {
		errs = append(errs, errors.New("tts provider is required"))
	}
	if err := cfg.Bot.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := cfg.Assets.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("bot: invalid config: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("room_url", cfg.RoomURL)
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	if cfg.VAD != nil && cfg.VADConfig.SampleRate == 0 {
		cfg.VADConfig = DefaultVADConfig(16000)
	}

	w := &Worker{
		cfg:       cfg,
		logger:    logger,
		collector: stage.NewTranscriptCollector(),
		conv:      conversation.New(cfg.ContextMaxTokens),
	}

	p, err := pipeline.New(
		stage.NewInputTransport(cfg.Transport, stage.InputConfig{
			VAD:                cfg.VAD,
			VADConfig:          cfg.VADConfig,
			OnFirstParticipant: w.greet,
			Logger:             logger,
		}),
		stage.NewUserAggregator(w.conv),
		stage.NewLLM(stage.LLMConfig{
			Provider:    cfg.LLM,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Retry:       cfg.Retry,
			Metrics:     metrics,
			Logger:      logger,
		}),
		stage.NewTTS(stage.TTSConfig{
			Provider: cfg.TTS,
			Voice: tts.VoiceProfile{
				ID:      cfg.Bot.VoiceID,
				Speed:   cfg.Bot.Speed,
				Emotion: cfg.Bot.Emotion,
			},
			Retry:   cfg.Retry,
			Metrics: metrics,
			Logger:  logger,
		}),
		stage.NewAnimation(cfg.Assets),
		w.collector,
		stage.NewOutputTransport(cfg.Transport, logger, metrics),
		stage.NewAssistantAggregator(w.conv),
	)
	if err != nil {
		return nil, fmt.Errorf("bot: build pipeline: %w", err)
	}

	w.pipe = p
	w.task = pipeline.NewTask(p, pipeline.Params{AllowInterruptions: cfg.AllowInterruptions})
	w.runner = pipeline.NewRunner(pipeline.WithLogger(logger), pipeline.WithMetrics(metrics))
	return w, nil
}

// greet runs when the first participant joins.
func (w *Worker) greet(ctx context.Context, participant string) {
	if err := w.cfg.Transport.CaptureTranscription(ctx, participant); err != nil {
		w.logger.Warn("failed to capture participant transcription", "participant", participant, "err", err)
	}
	seed := frame.LLMContextUpdate{Messages: []llm.Message{{Role: llm.RoleSystem, Content: w.cfg.Bot.Prompt}}}
	if err := w.task.QueueFrame(seed); err != nil {
		w.logger.Debug("session already over, greeting dropped", "err", err)
	}
}

// Run joins the room and drives the session until it ends. It returns nil
// when the session ended normally (participant left, session time elapsed,
// [Worker.Stop]), the fatal pipeline error if a stage failed, or ctx's error
// if ctx ended first.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.task.QueueFrame(w.cfg.Assets.Quiet()); err != nil {
		return fmt.Errorf("bot: seed quiet image: %w", err)
	}

	if err := w.cfg.Transport.Join(ctx, w.cfg.RoomURL, w.cfg.Token); err != nil {
		return fmt.Errorf("bot: join room: %w", err)
	}
	defer func() {
		if err := w.cfg.Transport.Close(); err != nil {
			w.logger.Warn("failed to leave room", "err", err)
		}
	}()

	limit := w.cfg.Bot.SessionDuration()
	timer := time.AfterFunc(limit, func() {
		w.logger.Info("session time elapsed, stopping", "session_time", limit)
		_ = w.task.Stop()
	})
	defer timer.Stop()

	w.logger.Info("session started", "session_time", limit)
	err := w.runner.Run(ctx, w.task)
	w.logger.Info("session ended", "transcripts", len(w.collector.Transcripts()), "turns", w.conv.Len())
	if err != nil {
		return fmt.Errorf("bot: %w", err)
	}
	return nil
}

// Stop ends the session gracefully once everything already queued has been
// played. It returns [pipeline.ErrStopped] if the session is already over.
func (w *Worker) Stop() error {
	return w.task.Stop()
}

// Transcripts returns what the participant said, in order.
func (w *Worker) Transcripts() []string {
	return w.collector.Transcripts()
}
