// Package llm defines the Provider interface for Large Language Model backends.
//
// A provider turns an ordered list of role-tagged messages into a stream of
// text fragments. The pipeline's language-model stage only relies on this
// streaming contract; how a vendor produces the text stays behind the
// interface.
//
// Implementors must be safe for concurrent use. Channels returned by
// StreamCompletion must be closed by the implementation when the stream ends or
// when the supplied context is cancelled.
package llm

import "context"

// Message roles understood by every provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// FinishReasonError marks a Chunk that reports a failure after the stream
// started. The chunk's Text carries the error message.
const FinishReasonError = "error"

// Message is one entry of the conversation history sent to a model.
type Message struct {
	// Role is one of RoleSystem, RoleUser or RoleAssistant.
	Role string

	Content string

	// Name optionally identifies the participant, e.g. the room member who
	// spoke a user turn.
	Name string
}

// CompletionRequest is the input of a single generation. Messages must be
// non-empty.
type CompletionRequest struct {
	Messages []Message

	// Temperature in [0.0, 2.0]. Zero means provider default.
	Temperature float64

	// MaxTokens caps the completion length. Zero means provider default.
	MaxTokens int
}

// Chunk is a single fragment of a streaming completion.
type Chunk struct {
	// Text is the incremental text of this chunk. On an error chunk it holds
	// the error message instead.
	Text string

	// FinishReason is set on the final chunk, e.g. "stop" or "length", or
	// FinishReasonError when the stream broke after it was opened.
	FinishReason string
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// StreamCompletion sends req to the model and returns a channel that emits
	// Chunk values as they arrive. The channel is closed when generation
	// finishes or ctx is cancelled; callers must drain it.
	//
	// The error return is non-nil only for failures that prevent the stream
	// from starting (invalid credentials, malformed request). Later failures
	// arrive as a final Chunk with FinishReason == FinishReasonError.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)
}
