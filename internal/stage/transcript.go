package stage

import (
	"context"
	"sync"

	"github.com/MrWong99/talkinghead/internal/frame"
	"github.com/MrWong99/talkinghead/internal/pipeline"
)

// TranscriptCollector records the text of every finalized transcription
// that passes through it. Interim results are forwarded but not kept.
type TranscriptCollector struct {
	mu          sync.Mutex
	transcripts []string
}

// NewTranscriptCollector creates an empty collector.
func NewTranscriptCollector() *TranscriptCollector {
	return &TranscriptCollector{}
}

// Name implements pipeline.Processor.
func (s *TranscriptCollector) Name() string { return "transcript_collector" }

// Process implements pipeline.Processor.
func (s *TranscriptCollector) Process(_ context.Context, f frame.Frame, dir frame.Direction, out pipeline.Pusher) error {
	if t, ok := f.(frame.Transcription); ok && t.Final {
		s.mu.Lock()
		s.transcripts = append(s.transcripts, t.Text)
		s.mu.Unlock()
	}
	out.Push(f, dir)
	return nil
}

// Transcripts returns a copy of everything collected so far, in arrival
// order.
func (s *TranscriptCollector) Transcripts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.transcripts...)
}
