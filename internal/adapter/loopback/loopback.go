package loopback

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/answerline/answerline-relay/internal/adapter"
	"github.com/answerline/answerline-relay/internal/openai"
)

// Ensure LoopbackAdapter implements both adapter interfaces.
var _ adapter.ChatAdapter = (*LoopbackAdapter)(nil)
var _ adapter.StreamingChatAdapter = (*LoopbackAdapter)(nil)

// LoopbackAdapter echoes the last user message back to the caller. It lets
// the relay pipeline run end to end without an upstream credential.
type LoopbackAdapter struct{}

// New creates a LoopbackAdapter instance.
func New() *LoopbackAdapter {
	return &LoopbackAdapter{}
}

// CreateCompletion fabricates a deterministic completion.
func (a *LoopbackAdapter) CreateCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	reply, err := a.reply(req)
	if err != nil {
		return openai.ChatCompletionResponse{}, err
	}

	usage := openai.UsageBreakdown{
		PromptTokens:     len(req.Messages) * 10,
		CompletionTokens: len(reply) / 4,
		TotalTokens:      len(req.Messages)*10 + len(reply)/4,
	}
	return openai.ChatCompletionResponse{
		ID:      "cmpl-loopback",
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []openai.ChatCompletionChoice{{
			Index:        0,
			FinishReason: "stop",
			Message:      openai.ChatMessage{Role: openai.RoleAssistant, Content: reply},
		}},
		Usage: usage,
	}, nil
}

// CreateCompletionStream emits the echoed reply word by word.
func (a *LoopbackAdapter) CreateCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (<-chan adapter.StreamEvent, error) {
	reply, err := a.reply(req)
	if err != nil {
		return nil, err
	}

	words := strings.SplitAfter(reply, " ")
	ch := make(chan adapter.StreamEvent, len(words))
	go func() {
		defer close(ch)
		for _, word := range words {
			select {
			case <-ctx.Done():
				return
			default:
			}
			ch <- adapter.StreamEvent{Chunk: &openai.ChatCompletionChunk{
				ID:      "cmpl-loopback",
				Object:  "chat.completion.chunk",
				Created: time.Now().Unix(),
				Model:   req.Model,
				Choices: []openai.ChatCompletionChunkChoice{{
					Delta: openai.ChatMessageDelta{Content: word},
				}},
			}}
		}
	}()
	return ch, nil
}

func (a *LoopbackAdapter) reply(req openai.ChatCompletionRequest) (string, error) {
	if len(req.Messages) == 0 {
		return "", errors.New("loopback: no messages provided")
	}
	message := req.Messages[len(req.Messages)-1]
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if strings.EqualFold(req.Messages[i].Role, openai.RoleUser) {
			message = req.Messages[i]
			break
		}
	}
	return "[loopback] " + strings.TrimSpace(message.Content), nil
}
