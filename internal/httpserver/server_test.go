package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/answerline/answerline-relay/internal/adapter"
	"github.com/answerline/answerline-relay/internal/ledger"
	"github.com/answerline/answerline-relay/internal/openai"
	"github.com/answerline/answerline-relay/internal/relay"
)

// stubAdapter scripts upstream behaviour and counts invocations so tests
// can assert that validation rejects before any upstream call.
type stubAdapter struct {
	calls   int
	content string
	err     error
	deltas  []string
}

var _ adapter.StreamingChatAdapter = (*stubAdapter)(nil)

func (a *stubAdapter) CreateCompletion(context.Context, openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	a.calls++
	if a.err != nil {
		return openai.ChatCompletionResponse{}, a.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			FinishReason: "stop",
			Message:      openai.ChatMessage{Role: openai.RoleAssistant, Content: a.content},
		}},
		Usage: openai.UsageBreakdown{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

func (a *stubAdapter) CreateCompletionStream(context.Context, openai.ChatCompletionRequest) (<-chan adapter.StreamEvent, error) {
	a.calls++
	if a.err != nil {
		return nil, a.err
	}
	ch := make(chan adapter.StreamEvent, len(a.deltas))
	for _, delta := range a.deltas {
		ch <- adapter.StreamEvent{Chunk: &openai.ChatCompletionChunk{
			Choices: []openai.ChatCompletionChunkChoice{{Delta: openai.ChatMessageDelta{Content: delta}}},
		}}
	}
	close(ch)
	return ch, nil
}

// memLedger collects entries in memory.
type memLedger struct {
	entries []ledger.Entry
}

func (m *memLedger) Record(_ context.Context, entry ledger.Entry) error {
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memLedger) Summary(context.Context) (ledger.Summary, error) {
	var s ledger.Summary
	for _, e := range m.entries {
		s.Requests++
		s.PromptTokens += e.PromptTokens
		s.CompletionTokens += e.CompletionTokens
	}
	s.TotalTokens = s.PromptTokens + s.CompletionTokens
	return s, nil
}

func (m *memLedger) ListRecent(context.Context, int) ([]ledger.Entry, error) {
	return m.entries, nil
}

func (m *memLedger) Close() error { return nil }

func newTestServer(a adapter.ChatAdapter, store ledger.Store) *Server {
	rel := relay.New(a, "test-model", relay.DefaultPrompts())
	return New(rel, store, "test-model")
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeErrorBody(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return payload["error"]
}

// parseSSE returns the decoded JSON objects of every data frame.
func parseSSE(t *testing.T, body string) []map[string]any {
	t.Helper()
	var events []map[string]any
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev map[string]any
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("bad event %q: %v", line, err)
		}
		events = append(events, ev)
	}
	return events
}

func TestHealth(t *testing.T) {
	srv := newTestServer(&stubAdapter{}, nil)
	rec := doJSON(t, srv.Router(), http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestNotFound(t *testing.T) {
	srv := newTestServer(&stubAdapter{}, nil)
	rec := doJSON(t, srv.Router(), http.MethodGet, "/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decodeErrorBody(t, rec); got != "not found" {
		t.Fatalf("error = %q", got)
	}
}

func TestAskRejectsEmptyBatch(t *testing.T) {
	for _, body := range []any{
		map[string]any{},
		map[string]any{"questions": []string{}},
		map[string]any{"questions": []string{"", "   "}},
	} {
		stub := &stubAdapter{}
		srv := newTestServer(stub, nil)
		rec := doJSON(t, srv.Router(), http.MethodPost, "/api/ask", body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d for body %v", rec.Code, body)
		}
		if stub.calls != 0 {
			t.Fatalf("upstream called %d times for invalid batch", stub.calls)
		}
		if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
			t.Fatalf("rejection opened a stream: content-type %q", ct)
		}
	}
}

func TestAskStreamsBatch(t *testing.T) {
	stub := &stubAdapter{deltas: []string{"Hel", "lo"}}
	store := &memLedger{}
	srv := newTestServer(stub, store)

	rec := doJSON(t, srv.Router(), http.MethodPost, "/api/ask", map[string]any{
		"questions": []string{"first", " ", "second"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content-type = %q", ct)
	}

	events := parseSSE(t, rec.Body.String())
	var types []string
	for _, ev := range events {
		types = append(types, ev["type"].(string))
	}
	want := []string{
		"progress", "token", "token", "answer_done",
		"progress", "token", "token", "answer_done",
		"complete",
	}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Fatalf("event types = %v", types)
	}

	last := events[len(events)-1]
	if last["totalQuestions"].(float64) != 2 {
		t.Fatalf("complete = %v", last)
	}
	for _, ev := range events {
		if ev["type"] == "answer_done" && ev["answer"] != "Hello" {
			t.Fatalf("answer = %v", ev["answer"])
		}
	}
	if len(store.entries) != 1 || store.entries[0].Kind != ledger.KindAskStream {
		t.Fatalf("ledger entries = %+v", store.entries)
	}
}

func TestAskIsolatesUpstreamFailure(t *testing.T) {
	// The stub fails every call, so each question should produce an
	// answer_done with error=true and the batch still completes.
	stub := &stubAdapter{err: errors.New("connection refused")}
	srv := newTestServer(stub, nil)

	rec := doJSON(t, srv.Router(), http.MethodPost, "/api/ask", map[string]any{
		"questions": []string{"a", "b"},
	})
	events := parseSSE(t, rec.Body.String())

	var failed, completes int
	for _, ev := range events {
		switch ev["type"] {
		case "answer_done":
			if ev["error"] != true {
				t.Fatalf("expected error flag on %v", ev)
			}
			failed++
		case "complete":
			completes++
		}
	}
	if failed != 2 || completes != 1 {
		t.Fatalf("failed=%d completes=%d", failed, completes)
	}
}

func TestChatValidatesBeforeUpstream(t *testing.T) {
	stub := &stubAdapter{content: "unused"}
	srv := newTestServer(stub, nil)

	rec := doJSON(t, srv.Router(), http.MethodPost, "/api/chat", map[string]any{
		"question": "q", "answer": "a", // message missing
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decodeErrorBody(t, rec); got != "message is required" {
		t.Fatalf("error = %q", got)
	}
	if stub.calls != 0 {
		t.Fatalf("upstream called %d times", stub.calls)
	}
}

func TestChatReturnsReply(t *testing.T) {
	stub := &stubAdapter{content: "the reply"}
	store := &memLedger{}
	srv := newTestServer(stub, store)

	rec := doJSON(t, srv.Router(), http.MethodPost, "/api/chat", map[string]any{
		"question": "q", "answer": "a", "message": "m",
		"history": []map[string]string{{"role": "user", "content": "earlier"}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["reply"] != "the reply" {
		t.Fatalf("reply = %q", payload["reply"])
	}
	if len(store.entries) != 1 || store.entries[0].Kind != ledger.KindChat || store.entries[0].CompletionTokens != 5 {
		t.Fatalf("ledger entries = %+v", store.entries)
	}
}

func TestChatDistinguishesEmptyFromTransportFailure(t *testing.T) {
	body := map[string]any{"question": "q", "answer": "a", "message": "m"}

	// Upstream success with no text.
	empty := &stubAdapter{content: ""}
	rec := doJSON(t, newTestServer(empty, nil).Router(), http.MethodPost, "/api/chat", body)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("empty-completion status = %d", rec.Code)
	}
	emptyMsg := decodeErrorBody(t, rec)
	if !strings.Contains(emptyMsg, "empty completion") {
		t.Fatalf("empty-completion error = %q", emptyMsg)
	}

	// Upstream transport failure.
	transport := &stubAdapter{err: &adapter.UpstreamError{Provider: "openai", Status: 503, Message: "unavailable"}}
	rec = doJSON(t, newTestServer(transport, nil).Router(), http.MethodPost, "/api/chat", body)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("transport status = %d", rec.Code)
	}
	transportMsg := decodeErrorBody(t, rec)
	if !strings.Contains(transportMsg, "upstream status 503") {
		t.Fatalf("transport error = %q", transportMsg)
	}
	if emptyMsg == transportMsg {
		t.Fatal("empty and transport failures are indistinguishable")
	}
}

func TestDetailedAndSummarizeValidation(t *testing.T) {
	cases := []struct {
		path string
		body map[string]any
	}{
		{"/api/answer/detailed", map[string]any{}},
		{"/api/summarize", map[string]any{"question": "q"}},
		{"/api/summarize", map[string]any{"answer": "a"}},
	}
	for _, tc := range cases {
		stub := &stubAdapter{content: "unused"}
		rec := doJSON(t, newTestServer(stub, nil).Router(), http.MethodPost, tc.path, tc.body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s status = %d", tc.path, rec.Code)
		}
		if stub.calls != 0 {
			t.Fatalf("%s: upstream called before validation", tc.path)
		}
	}
}

func TestDetailedReturnsAnswer(t *testing.T) {
	stub := &stubAdapter{content: "long form"}
	rec := doJSON(t, newTestServer(stub, nil).Router(), http.MethodPost, "/api/answer/detailed", map[string]any{"question": "q"})
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "long form") {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
}

func TestSummarizeReturnsSummary(t *testing.T) {
	stub := &stubAdapter{content: "tl;dr"}
	rec := doJSON(t, newTestServer(stub, nil).Router(), http.MethodPost, "/api/summarize", map[string]any{"question": "q", "answer": "a"})
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "tl;dr") {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
}

func TestUsageSummary(t *testing.T) {
	store := &memLedger{entries: []ledger.Entry{
		{RequestID: "r1", Kind: ledger.KindChat, PromptTokens: 10, CompletionTokens: 5},
	}}
	rec := doJSON(t, newTestServer(&stubAdapter{}, store).Router(), http.MethodGet, "/api/usage/summary", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var summary ledger.Summary
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if summary.Requests != 1 || summary.TotalTokens != 15 {
		t.Fatalf("summary = %+v", summary)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(&stubAdapter{}, nil)
	srv.SetAllowedOrigins([]string{"https://app.example.com"})

	req := httptest.NewRequest(http.MethodOptions, "/api/ask", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Fatalf("allow-origin = %q", got)
	}

	// Unlisted origins get no allow headers.
	req = httptest.NewRequest(http.MethodOptions, "/api/ask", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("allow-origin for unlisted origin = %q", got)
	}
}
