package stage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/talkinghead/internal/frame"
	"github.com/MrWong99/talkinghead/internal/observe"
	"github.com/MrWong99/talkinghead/internal/pipeline"
	"github.com/MrWong99/talkinghead/internal/resilience"
	"github.com/MrWong99/talkinghead/pkg/audio"
	"github.com/MrWong99/talkinghead/pkg/provider/llm"
)

// LLMConfig configures an [LLM] stage.
type LLMConfig struct {
	Provider    llm.Provider
	Temperature float64
	MaxTokens   int

	// Retry applies to a generation that failed before it produced any
	// text. Failures after the first text fragment are fatal.
	Retry resilience.RetryPolicy

	Metrics *observe.Metrics
	Logger  *slog.Logger
}

// LLM streams a model reply for every [frame.LLMContextUpdate].
//
// A reply is bracketed by LLMResponseStart and LLMResponseEnd with LLMText
// fragments in between. Updates that arrive while a reply is streaming wait;
// only the newest waiting update is answered. An [frame.Interruption]
// abandons the reply and any waiting update.
type LLM struct {
	cfg     LLMConfig
	logger  *slog.Logger
	metrics *observe.Metrics

	mu         sync.Mutex
	gen        uint64
	running    bool
	cancel     context.CancelFunc
	pending    []llm.Message
	hasPending bool
	endPending bool
	wg         sync.WaitGroup
}

// NewLLM creates the language model stage.
func NewLLM(cfg LLMConfig) *LLM {
	s := &LLM{cfg: cfg, logger: cfg.Logger, metrics: cfg.Metrics}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Name implements pipeline.Processor.
func (s *LLM) Name() string { return "llm" }

// Process implements pipeline.Processor.
func (s *LLM) Process(ctx context.Context, f frame.Frame, dir frame.Direction, out pipeline.Pusher) error {
	switch f := f.(type) {
	case frame.LLMContextUpdate:
		if dir != frame.Downstream {
			break
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.running {
			s.pending, s.hasPending = f.Messages, true
			return nil
		}
		s.startLocked(ctx, f.Messages, out)
		return nil
	case frame.Interruption:
		s.mu.Lock()
		s.gen++
		if s.cancel != nil {
			s.cancel()
			s.cancel = nil
		}
		s.running = false
		s.pending, s.hasPending = nil, false
		if s.endPending {
			s.endPending = false
			out.Push(frame.End{}, frame.Downstream)
		}
		s.mu.Unlock()
	case frame.End:
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.running {
			s.endPending = true
			return nil
		}
	}
	out.Push(f, dir)
	return nil
}

// startLocked must be called with s.mu held.
func (s *LLM) startLocked(ctx context.Context, msgs []llm.Message, out pipeline.Pusher) {
	s.gen++
	id := s.gen
	genCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		s.generate(ctx, genCtx, id, msgs, out)
	}()
}

// push forwards f if generation id is still current.
func (s *LLM) push(id uint64, f frame.Frame, out pipeline.Pusher) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != id {
		return false
	}
	out.Push(f, frame.Downstream)
	return true
}

func (s *LLM) generate(stageCtx, ctx context.Context, id uint64, msgs []llm.Message, out pipeline.Pusher) {
	if !s.push(id, frame.LLMResponseStart{}, out) {
		return
	}
	req := llm.CompletionRequest{
		Messages:    msgs,
		Temperature: s.cfg.Temperature,
		MaxTokens:   s.cfg.MaxTokens,
	}

	ctx, span := observe.StartSpan(ctx, observe.SpanLLMGenerate,
		trace.WithAttributes(attribute.Int("llm.messages", len(msgs))))
	start := time.Now()
	emitted := false
	stale := false
	err := s.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		ch, err := s.cfg.Provider.StreamCompletion(ctx, req)
		if err != nil {
			s.metrics.RecordProviderError(ctx, "llm")
			return resilience.Retryable(err)
		}
		for c := range ch {
			if c.FinishReason == llm.FinishReasonError {
				audio.Drain(ch)
				s.metrics.RecordProviderError(ctx, "llm")
				err := fmt.Errorf("llm: stream failed: %s", c.Text)
				if emitted {
					return err
				}
				return resilience.Retryable(err)
			}
			if c.Text == "" {
				continue
			}
			if !emitted {
				emitted = true
				s.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
			}
			if !s.push(id, frame.LLMText{Text: c.Text}, out) {
				stale = true
				audio.Drain(ch)
				return nil
			}
		}
		return ctx.Err()
	})

	observe.EndSpan(span, err)
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.metrics.RecordProviderRequest(stageCtx, "llm", status)

	s.mu.Lock()
	defer s.mu.Unlock()
	if stale || s.gen != id || stageCtx.Err() != nil {
		return
	}
	s.running = false
	s.cancel = nil
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.logger.Error("llm generation failed", "err", err)
		out.Push(frame.Error{Err: &pipeline.StageError{Stage: s.Name(), Err: err, Fatal: true}, Fatal: true}, frame.Upstream)
		return
	}
	out.Push(frame.LLMResponseEnd{}, frame.Downstream)
	switch {
	case s.hasPending:
		msgs := s.pending
		s.pending, s.hasPending = nil, false
		s.startLocked(stageCtx, msgs, out)
	case s.endPending:
		s.endPending = false
		out.Push(frame.End{}, frame.Downstream)
	}
}

// Close abandons any running generation and waits for it to return.
func (s *LLM) Close() error {
	s.mu.Lock()
	s.gen++
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
	return nil
}

var _ pipeline.Closer = (*LLM)(nil)
