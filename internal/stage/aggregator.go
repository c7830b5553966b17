package stage

import (
	"context"
	"strings"

	"github.com/MrWong99/talkinghead/internal/conversation"
	"github.com/MrWong99/talkinghead/internal/frame"
	"github.com/MrWong99/talkinghead/internal/pipeline"
	"github.com/MrWong99/talkinghead/pkg/provider/llm"
)

// ─── User ─────────────────────────────────────────────────────────────────────

// UserAggregator turns final transcriptions into user turns.
//
// Text is collected while the participant speaks and committed when they
// stop; a transcription that arrives while nobody is speaking (VAD disabled
// or late transcripts) is committed immediately. Every commit sends an
// [frame.LLMContextUpdate] with a snapshot of the conversation.
//
// With interruptions disabled, commits are held back while the bot is
// speaking and released on [frame.BotStoppedSpeaking].
type UserAggregator struct {
	conv *conversation.Context

	allowInterruptions bool
	userSpeaking       bool
	botSpeaking        bool
	parts              []string
}

// NewUserAggregator creates a user aggregator writing to conv.
func NewUserAggregator(conv *conversation.Context) *UserAggregator {
	return &UserAggregator{conv: conv}
}

// Name implements pipeline.Processor.
func (s *UserAggregator) Name() string { return "user_aggregator" }

// Process implements pipeline.Processor.
func (s *UserAggregator) Process(_ context.Context, f frame.Frame, dir frame.Direction, out pipeline.Pusher) error {
	switch f := f.(type) {
	case frame.Start:
		s.allowInterruptions = f.AllowInterruptions
		out.Push(f, dir)
	case frame.LLMContextUpdate:
		// A seeded context replaces the history.
		s.conv.Set(f.Messages)
		out.Push(frame.LLMContextUpdate{Messages: s.conv.Messages()}, dir)
	case frame.UserStartedSpeaking:
		s.userSpeaking = true
		out.Push(f, dir)
	case frame.UserStoppedSpeaking:
		s.userSpeaking = false
		out.Push(f, dir)
		s.commit(out)
	case frame.Transcription:
		out.Push(f, dir)
		if !f.Final {
			return nil
		}
		if text := strings.TrimSpace(f.Text); text != "" {
			s.parts = append(s.parts, text)
		}
		s.commit(out)
	case frame.BotStartedSpeaking:
		s.botSpeaking = true
		out.Push(f, dir)
	case frame.BotStoppedSpeaking:
		s.botSpeaking = false
		out.Push(f, dir)
		s.commit(out)
	default:
		out.Push(f, dir)
	}
	return nil
}

func (s *UserAggregator) commit(out pipeline.Pusher) {
	if len(s.parts) == 0 || s.userSpeaking {
		return
	}
	if !s.allowInterruptions && s.botSpeaking {
		return
	}
	s.conv.Append(llm.Message{Role: llm.RoleUser, Content: strings.Join(s.parts, " ")})
	s.parts = nil
	out.Push(frame.LLMContextUpdate{Messages: s.conv.Messages()}, frame.Downstream)
}

// ─── Assistant ────────────────────────────────────────────────────────────────

// AssistantAggregator commits completed bot replies to the conversation. A
// reply abandoned after an interruption never sees its LLMResponseEnd and is
// discarded with the next LLMResponseStart.
type AssistantAggregator struct {
	conv *conversation.Context
	buf  strings.Builder
}

// NewAssistantAggregator creates an assistant aggregator writing to conv.
func NewAssistantAggregator(conv *conversation.Context) *AssistantAggregator {
	return &AssistantAggregator{conv: conv}
}

// Name implements pipeline.Processor.
func (s *AssistantAggregator) Name() string { return "assistant_aggregator" }

// Process implements pipeline.Processor.
func (s *AssistantAggregator) Process(_ context.Context, f frame.Frame, dir frame.Direction, out pipeline.Pusher) error {
	switch f := f.(type) {
	case frame.LLMResponseStart:
		s.buf.Reset()
	case frame.LLMText:
		s.buf.WriteString(f.Text)
	case frame.LLMResponseEnd:
		if text := strings.TrimSpace(s.buf.String()); text != "" {
			s.conv.Append(llm.Message{Role: llm.RoleAssistant, Content: text})
		}
		s.buf.Reset()
	}
	out.Push(f, dir)
	return nil
}
