package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/answerline/answerline-relay/internal/adapter"
	openaitypes "github.com/answerline/answerline-relay/internal/openai"
	"github.com/answerline/answerline-relay/internal/testutil"
)

func testRequest() openaitypes.ChatCompletionRequest {
	return openaitypes.ChatCompletionRequest{
		Model: "gpt-4o-mini",
		Messages: []openaitypes.ChatMessage{
			{Role: openaitypes.RoleUser, Content: "Hello"},
		},
	}
}

func TestNewRequiresAPIKey(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error without api key")
	}
}

func TestCreateCompletion(t *testing.T) {
	server := testutil.NewIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("Authorization = %q", auth)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"cmpl-1","object":"chat.completion","model":"gpt-4o-mini",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"Hi there"}}],
			"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`)
	}))
	defer server.Close()

	adpt, err := New(Config{APIKey: "sk-test", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resp, err := adpt.CreateCompletion(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("CreateCompletion: %v", err)
	}
	if resp.Text() != "Hi there" {
		t.Fatalf("Text = %q", resp.Text())
	}
	if resp.Usage.TotalTokens != 7 {
		t.Fatalf("usage = %+v", resp.Usage)
	}
}

func TestCreateCompletionUpstreamError(t *testing.T) {
	server := testutil.NewIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"rate limited","type":"rate_limit"}}`)
	}))
	defer server.Close()

	adpt, _ := New(Config{APIKey: "sk-test", BaseURL: server.URL})
	_, err := adpt.CreateCompletion(context.Background(), testRequest())

	var upstream *adapter.UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("err = %v, want UpstreamError", err)
	}
	if upstream.Status != http.StatusTooManyRequests || upstream.Message != "rate limited" {
		t.Fatalf("upstream = %+v", upstream)
	}
}

func TestCreateCompletionStream(t *testing.T) {
	server := testutil.NewIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if accept := r.Header.Get("Accept"); accept != "text/event-stream" {
			t.Errorf("Accept = %q", accept)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		chunks := []string{
			`data: {"id":"c","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"role":"assistant","content":"Hel"},"finish_reason":null}]}`,
			`data: this is not json`,
			`data: {"id":"c","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"lo"},"finish_reason":null}]}`,
			`data: [DONE]`,
		}
		for _, chunk := range chunks {
			fmt.Fprintf(w, "%s\n\n", chunk)
			flusher.Flush()
		}
	}))
	defer server.Close()

	adpt, _ := New(Config{APIKey: "sk-test", BaseURL: server.URL})
	ch, err := adpt.CreateCompletionStream(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("CreateCompletionStream: %v", err)
	}

	var content string
	for ev := range ch {
		if ev.Err != nil {
			t.Fatalf("stream error: %v", ev.Err)
		}
		content += ev.Chunk.Delta().Content
	}
	// The malformed frame is skipped, not fatal.
	if content != "Hello" {
		t.Fatalf("content = %q", content)
	}
}

func TestCreateCompletionStreamUpstreamError(t *testing.T) {
	server := testutil.NewIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":{"message":"boom"}}`)
	}))
	defer server.Close()

	adpt, _ := New(Config{APIKey: "sk-test", BaseURL: server.URL})
	_, err := adpt.CreateCompletionStream(context.Background(), testRequest())

	var upstream *adapter.UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("err = %v, want UpstreamError", err)
	}
	if upstream.Status != http.StatusInternalServerError {
		t.Fatalf("status = %d", upstream.Status)
	}
}

func TestCreateCompletionStreamStopsOnFinishReason(t *testing.T) {
	server := testutil.NewIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"done\"},\"finish_reason\":\"stop\"}]}\n\n")
		flusher.Flush()
	}))
	defer server.Close()

	adpt, _ := New(Config{APIKey: "sk-test", BaseURL: server.URL})
	ch, err := adpt.CreateCompletionStream(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("CreateCompletionStream: %v", err)
	}

	var events int
	for ev := range ch {
		if ev.Err != nil {
			t.Fatalf("stream error: %v", ev.Err)
		}
		events++
	}
	if events != 1 {
		t.Fatalf("events = %d, want 1", events)
	}
}
