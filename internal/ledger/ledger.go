package ledger

import (
	"context"
	"time"
)

// Kind labels which relay surface produced a usage entry.
type Kind string

const (
	KindAskStream Kind = "ask_stream"
	KindChat      Kind = "chat"
	KindDetailed  Kind = "detailed"
	KindSummarize Kind = "summarize"
)

// Entry is one usage record written after an upstream call completes.
// Streamed batches record approximate counts; single-shot calls record the
// provider's own usage numbers.
type Entry struct {
	ID               int64     `json:"id"`
	RequestID        string    `json:"request_id"`
	Kind             Kind      `json:"kind"`
	Model            string    `json:"model"`
	PromptTokens     int64     `json:"prompt_tokens"`
	CompletionTokens int64     `json:"completion_tokens"`
	CreatedAt        time.Time `json:"created_at"`
}

// Summary aggregates recorded usage.
type Summary struct {
	Requests         int64 `json:"requests"`
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// Store defines persistence behaviour for the usage ledger.
type Store interface {
	Record(ctx context.Context, entry Entry) error
	Summary(ctx context.Context) (Summary, error)
	ListRecent(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}
