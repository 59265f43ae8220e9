package relay

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/answerline/answerline-relay/internal/adapter"
	"github.com/answerline/answerline-relay/internal/openai"
)

// ErrEmptyCompletion reports an upstream success that carried no usable
// text, so callers can tell "provider unreachable" from "provider returned
// nothing useful".
var ErrEmptyCompletion = errors.New("upstream returned an empty completion")

// Relay forwards questions to the upstream chat adapter. Batches stream
// their answers through an EventSink; single-shot modes return the full
// reply at once.
type Relay struct {
	adapter adapter.ChatAdapter
	model   string
	prompts PromptSet
	logger  *log.Logger
}

// Turn is one prior exchange in a follow-up conversation.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// New constructs a Relay for the given adapter and model.
func New(chatAdapter adapter.ChatAdapter, model string, prompts PromptSet) *Relay {
	return &Relay{adapter: chatAdapter, model: model, prompts: prompts}
}

// SetLogger attaches an optional diagnostics logger.
func (r *Relay) SetLogger(logger *log.Logger) {
	r.logger = logger
}

// FilterQuestions drops blank and whitespace-only entries, preserving the
// order of the rest.
func FilterQuestions(questions []string) []string {
	var out []string
	for _, q := range questions {
		if trimmed := strings.TrimSpace(q); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// sinkError wraps a Send failure so the batch loop can tell a dead client
// apart from an upstream failure.
type sinkError struct {
	err error
}

func (e *sinkError) Error() string { return e.err.Error() }

func (e *sinkError) Unwrap() error { return e.err }

func send(sink EventSink, event any) error {
	if err := sink.Send(event); err != nil {
		return &sinkError{err: err}
	}
	return nil
}

// AnswerBatch answers every question in order, emitting the event sequence
// progress -> token* -> answer_done per question and a single complete
// event at the end. An upstream failure for one question is reported in its
// answer_done event and does not stop the remaining questions. Questions
// must already be filtered non-blank.
func (r *Relay) AnswerBatch(ctx context.Context, questions []string, sink EventSink) error {
	total := len(questions)
	if total == 0 {
		return errors.New("no questions to process")
	}

	for i, question := range questions {
		if err := send(sink, newProgressEvent(i, total, question)); err != nil {
			return err
		}

		answer, err := r.streamAnswer(ctx, i, question, sink)
		if err != nil {
			var se *sinkError
			if errors.As(err, &se) {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logf("relay.batch question=%d failed: %v", i, err)
			failure := "Failed to generate answer: " + err.Error()
			if serr := send(sink, newAnswerDoneEvent(i, question, failure, true)); serr != nil {
				return serr
			}
			continue
		}

		if err := send(sink, newAnswerDoneEvent(i, question, answer, false)); err != nil {
			return err
		}
	}

	return send(sink, newCompleteEvent(total))
}

// streamAnswer issues one upstream call for a question and forwards each
// delta to the sink as a token event while accumulating the full answer.
func (r *Relay) streamAnswer(ctx context.Context, index int, question string, sink EventSink) (string, error) {
	req := r.chatRequest(r.prompts.Concise, []openai.ChatMessage{
		{Role: openai.RoleSystem, Content: r.prompts.Concise.System},
		{Role: openai.RoleUser, Content: question},
	})

	streamer, ok := r.adapter.(adapter.StreamingChatAdapter)
	if !ok {
		// Non-streaming adapter: deliver the whole answer as one token.
		resp, err := r.adapter.CreateCompletion(ctx, req)
		if err != nil {
			return "", err
		}
		answer := resp.Text()
		if answer == "" {
			return "", ErrEmptyCompletion
		}
		if err := send(sink, newTokenEvent(index, answer)); err != nil {
			return "", err
		}
		return answer, nil
	}

	ch, err := streamer.CreateCompletionStream(ctx, req)
	if err != nil {
		return "", err
	}

	var answer strings.Builder
	for ev := range ch {
		if ev.Err != nil {
			return "", ev.Err
		}
		if ev.Chunk == nil {
			continue
		}
		delta := ev.Chunk.Delta().Content
		if delta == "" {
			continue
		}
		answer.WriteString(delta)
		if err := send(sink, newTokenEvent(index, delta)); err != nil {
			return "", err
		}
	}
	return answer.String(), nil
}

// FollowUp answers a new message in the context of an original question and
// answer plus the prior turns.
func (r *Relay) FollowUp(ctx context.Context, question, answer string, history []Turn, message string) (string, openai.UsageBreakdown, error) {
	system := fmt.Sprintf(r.prompts.FollowUp.System, question, answer)
	messages := make([]openai.ChatMessage, 0, len(history)+2)
	messages = append(messages, openai.ChatMessage{Role: openai.RoleSystem, Content: system})
	for _, turn := range history {
		role := strings.ToLower(strings.TrimSpace(turn.Role))
		if role != openai.RoleAssistant {
			role = openai.RoleUser
		}
		messages = append(messages, openai.ChatMessage{Role: role, Content: turn.Content})
	}
	messages = append(messages, openai.ChatMessage{Role: openai.RoleUser, Content: message})

	return r.complete(ctx, r.prompts.FollowUp, messages)
}

// Detailed produces an expanded answer for a question.
func (r *Relay) Detailed(ctx context.Context, question string) (string, openai.UsageBreakdown, error) {
	return r.complete(ctx, r.prompts.Detailed, []openai.ChatMessage{
		{Role: openai.RoleSystem, Content: r.prompts.Detailed.System},
		{Role: openai.RoleUser, Content: question},
	})
}

// Summarize condenses a question/answer pair.
func (r *Relay) Summarize(ctx context.Context, question, answer string) (string, openai.UsageBreakdown, error) {
	user := fmt.Sprintf("Question: %s\n\nAnswer: %s", question, answer)
	return r.complete(ctx, r.prompts.Summary, []openai.ChatMessage{
		{Role: openai.RoleSystem, Content: r.prompts.Summary.System},
		{Role: openai.RoleUser, Content: user},
	})
}

func (r *Relay) complete(ctx context.Context, mode ModeParams, messages []openai.ChatMessage) (string, openai.UsageBreakdown, error) {
	resp, err := r.adapter.CreateCompletion(ctx, r.chatRequest(mode, messages))
	if err != nil {
		return "", openai.UsageBreakdown{}, err
	}
	text := resp.Text()
	if text == "" {
		return "", resp.Usage, ErrEmptyCompletion
	}
	return text, resp.Usage, nil
}

func (r *Relay) chatRequest(mode ModeParams, messages []openai.ChatMessage) openai.ChatCompletionRequest {
	temp := mode.Temperature
	return openai.ChatCompletionRequest{
		Model:       r.model,
		Messages:    messages,
		MaxTokens:   mode.MaxTokens,
		Temperature: &temp,
	}
}

func (r *Relay) logf(format string, args ...any) {
	if r.logger != nil {
		r.logger.Printf(format, args...)
	}
}
