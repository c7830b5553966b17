package stage

import (
	"context"
	"errors"
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
	"github.com/MrWong99/talkinghead/pkg/provider/tts"
)

// TTSConfig configures a [TTS] stage.
type TTSConfig struct {
	Provider tts.Provider
	Voice    tts.VoiceProfile

	// Retry applies to a sentence whose synthesis failed before it produced
	// audio. Failures after the first audio chunk are fatal.
	Retry resilience.RetryPolicy

	Metrics *observe.Metrics
	Logger  *slog.Logger
}

type jobKind int

const (
	jobSentence jobKind = iota
	jobResponseEnd
	jobEnd
)

type job struct {
	kind jobKind
	gen  uint64
	text string
}

// TTS speaks model replies.
//
// Streamed LLMText is cut into sentences which a worker goroutine
// synthesises in order, so the first sentence plays while the model is still
// writing the rest. The audio of one reply is bracketed by SynthesisStarted
// and SynthesisStopped. LLM frames are forwarded unchanged for the assistant
// aggregator.
type TTS struct {
	cfg     TTSConfig
	logger  *slog.Logger
	metrics *observe.Metrics

	jobs *mailbox[job]
	wg   sync.WaitGroup

	// owned by the Process goroutine
	sentences sentenceBuffer
	dropping  bool

	mu          sync.Mutex
	gen         uint64
	started     bool
	cancelSynth context.CancelFunc
}

// NewTTS creates the synthesis stage.
func NewTTS(cfg TTSConfig) *TTS {
	s := &TTS{cfg: cfg, logger: cfg.Logger, metrics: cfg.Metrics, jobs: newMailbox[job]()}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Name implements pipeline.Processor.
func (s *TTS) Name() string { return "tts" }

// Process implements pipeline.Processor.
func (s *TTS) Process(ctx context.Context, f frame.Frame, dir frame.Direction, out pipeline.Pusher) error {
	switch f := f.(type) {
	case frame.Start:
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.work(ctx, out)
		}()
	case frame.LLMResponseStart:
		s.dropping = false
		s.sentences.reset()
	case frame.LLMText:
		if s.dropping {
			return nil
		}
		gen := s.currentGen()
		for _, sentence := range s.sentences.add(f.Text) {
			s.jobs.put(job{kind: jobSentence, gen: gen, text: sentence})
		}
	case frame.LLMResponseEnd:
		if s.dropping {
			return nil
		}
		gen := s.currentGen()
		if rest := s.sentences.flush(); rest != "" {
			s.jobs.put(job{kind: jobSentence, gen: gen, text: rest})
		}
		s.jobs.put(job{kind: jobResponseEnd, gen: gen})
	case frame.End:
		// The worker forwards End once everything before it was spoken.
		s.jobs.put(job{kind: jobEnd})
		return nil
	case frame.Interruption:
		s.interrupt(out)
	}
	out.Push(f, dir)
	return nil
}

func (s *TTS) currentGen() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// interrupt abandons queued and in-flight synthesis and reports it with a
// SynthesisStopped marked Interrupted.
func (s *TTS) interrupt(out pipeline.Pusher) {
	s.dropping = true
	s.sentences.reset()
	s.jobs.retain(func(j job) bool { return j.kind == jobEnd })

	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	if s.cancelSynth != nil {
		s.cancelSynth()
		s.cancelSynth = nil
	}
	s.started = false
	out.Push(frame.SynthesisStopped{Interrupted: true}, frame.Downstream)
}

func (s *TTS) work(ctx context.Context, out pipeline.Pusher) {
	for {
		j, ok := s.jobs.get(ctx)
		if !ok {
			return
		}
		switch j.kind {
		case jobEnd:
			out.Push(frame.End{}, frame.Downstream)
		case jobResponseEnd:
			s.mu.Lock()
			if j.gen == s.gen && s.started {
				s.started = false
				out.Push(frame.SynthesisStopped{}, frame.Downstream)
			}
			s.mu.Unlock()
		case jobSentence:
			if err := s.synthesize(ctx, j, out); err != nil {
				s.fail(j.gen, err, out)
			}
		}
	}
}

// synthesize speaks one sentence. A nil return covers success as well as an
// abandoned sentence.
func (s *TTS) synthesize(ctx context.Context, j job, out pipeline.Pusher) error {
	s.mu.Lock()
	if j.gen != s.gen {
		s.mu.Unlock()
		return nil
	}
	synthCtx, cancel := context.WithCancel(ctx)
	s.cancelSynth = cancel
	s.mu.Unlock()
	defer cancel()
	synthCtx, span := observe.StartSpan(synthCtx, observe.SpanTTSSentence,
		trace.WithAttributes(attribute.Int("tts.chars", len(j.text))))

	rate := s.cfg.Provider.SampleRate()
	start := time.Now()
	gotAudio := false
	err := s.cfg.Retry.Do(synthCtx, func(ctx context.Context) error {
		text := make(chan string, 1)
		text <- j.text
		close(text)
		ch, err := s.cfg.Provider.SynthesizeStream(ctx, text, s.cfg.Voice)
		if err != nil {
			s.metrics.RecordProviderError(ctx, "tts")
			return resilience.Retryable(err)
		}
		for c := range ch {
			if c.Err != nil {
				audio.Drain(ch)
				s.metrics.RecordProviderError(ctx, "tts")
				if gotAudio {
					return c.Err
				}
				return resilience.Retryable(c.Err)
			}
			if len(c.Audio) == 0 {
				continue
			}
			if !gotAudio {
				gotAudio = true
				s.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
			}
			if !s.emit(j.gen, c.Audio, rate, out) {
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
	s.metrics.RecordProviderRequest(ctx, "tts", status)

	s.mu.Lock()
	defer s.mu.Unlock()
	if j.gen != s.gen || ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return nil
	}
	s.cancelSynth = nil
	return err
}

// emit forwards one chunk of audio if gen is still current.
func (s *TTS) emit(gen uint64, pcm []byte, rate int, out pipeline.Pusher) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return false
	}
	if !s.started {
		s.started = true
		out.Push(frame.SynthesisStarted{}, frame.Downstream)
	}
	out.Push(frame.SynthesizedAudio{Audio: audio.AudioFrame{Data: pcm, SampleRate: rate, Channels: 1}}, frame.Downstream)
	return true
}

func (s *TTS) fail(gen uint64, err error, out pipeline.Pusher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	s.logger.Error("speech synthesis failed", "err", err)
	if s.started {
		s.started = false
		out.Push(frame.SynthesisStopped{}, frame.Downstream)
	}
	out.Push(frame.Error{Err: &pipeline.StageError{Stage: s.Name(), Err: err, Fatal: true}, Fatal: true}, frame.Upstream)
}

// Close cancels in-flight synthesis and waits for the worker.
func (s *TTS) Close() error {
	s.mu.Lock()
	s.gen++
	if s.cancelSynth != nil {
		s.cancelSynth()
	}
	s.mu.Unlock()
	s.wg.Wait()
	return nil
}

var _ pipeline.Closer = (*TTS)(nil)
