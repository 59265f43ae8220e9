package adapter

import (
	"context"
	"fmt"

	"github.com/answerline/answerline-relay/internal/openai"
)

// ChatAdapter sends a chat-completion request upstream and waits for the
// whole response.
type ChatAdapter interface {
	CreateCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// StreamingChatAdapter additionally supports incremental delivery. The
// returned channel is closed once the upstream stream terminates; a
// StreamEvent carries either a chunk or an error, never both.
type StreamingChatAdapter interface {
	ChatAdapter
	CreateCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (<-chan StreamEvent, error)
}

// StreamEvent is one element of a completion stream.
type StreamEvent struct {
	Chunk *openai.ChatCompletionChunk
	Err   error
}

// UpstreamError reports a non-success status from the provider. Handlers
// use errors.As to distinguish transport failures from other faults.
type UpstreamError struct {
	Provider string
	Status   int
	Message  string
}

func (e *UpstreamError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: upstream status %d", e.Provider, e.Status)
	}
	return fmt.Sprintf("%s: upstream status %d: %s", e.Provider, e.Status, e.Message)
}
