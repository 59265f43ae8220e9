package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/answerline/answerline-relay/internal/adapter"
	"github.com/answerline/answerline-relay/internal/ledger"
	"github.com/answerline/answerline-relay/internal/openai"
	"github.com/answerline/answerline-relay/internal/relay"
)

type askRequest struct {
	Questions []string `json:"questions"`
}

type chatRequest struct {
	Question string       `json:"question"`
	Answer   string       `json:"answer"`
	History  []relay.Turn `json:"history"`
	Message  string       `json:"message"`
}

type detailedRequest struct {
	Question string `json:"question"`
}

type summarizeRequest struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// handleAsk opens the batch event stream. Validation failures are reported
// with a plain client error before the stream is opened; afterwards all
// failures are in-band.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	reqStart := time.Now()

	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	questions := relay.FilterQuestions(req.Questions)
	if len(questions) == 0 {
		s.respondError(w, http.StatusBadRequest, errors.New("questions must contain at least one non-blank entry"))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	requestID := uuid.New().String()
	sink := newSSESink(w, flusher)

	// The stream is open from here on: a panic must surface as an in-band
	// error event instead of a half-written status response.
	defer func() {
		if rec := recover(); rec != nil {
			s.logf("ask.stream request_id=%s panic: %v", requestID, rec)
			_ = sink.Send(map[string]any{"type": "error", "message": "internal error"})
		}
	}()

	if err := s.relay.AnswerBatch(r.Context(), questions, sink); err != nil {
		// Client disconnects land here; the remaining work was abandoned.
		s.debugf("ask.stream request_id=%s aborted: %v", requestID, err)
	}

	s.recordUsage(ledger.Entry{
		RequestID:        requestID,
		Kind:             ledger.KindAskStream,
		Model:            s.model,
		PromptTokens:     approximateTokens(questions),
		CompletionTokens: int64(sink.tokenChars / 4),
	})

	s.logf("ask.stream request_id=%s questions=%d total_ms=%d", requestID, len(questions), time.Since(reqStart).Milliseconds())
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	reqStart := time.Now()

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	if err := requireFields(
		field{"question", req.Question},
		field{"answer", req.Answer},
		field{"message", req.Message},
	); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}

	reply, usage, err := s.relay.FollowUp(r.Context(), req.Question, req.Answer, req.History, req.Message)
	if err != nil {
		s.respondRelayError(w, err)
		return
	}

	s.recordSingleShot(ledger.KindChat, usage)
	s.respondJSON(w, http.StatusOK, map[string]any{"reply": reply})
	s.logf("chat total_ms=%d", time.Since(reqStart).Milliseconds())
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	reqStart := time.Now()

	var req detailedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	if err := requireFields(field{"question", req.Question}); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}

	answer, usage, err := s.relay.Detailed(r.Context(), req.Question)
	if err != nil {
		s.respondRelayError(w, err)
		return
	}

	s.recordSingleShot(ledger.KindDetailed, usage)
	s.respondJSON(w, http.StatusOK, map[string]any{"answer": answer})
	s.logf("answer.detailed total_ms=%d", time.Since(reqStart).Milliseconds())
}

func (s *Server) handleSummarize(w http.ResponseWriter, r *http.Request) {
	reqStart := time.Now()

	var req summarizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	if err := requireFields(
		field{"question", req.Question},
		field{"answer", req.Answer},
	); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}

	summary, usage, err := s.relay.Summarize(r.Context(), req.Question, req.Answer)
	if err != nil {
		s.respondRelayError(w, err)
		return
	}

	s.recordSingleShot(ledger.KindSummarize, usage)
	s.respondJSON(w, http.StatusOK, map[string]any{"summary": summary})
	s.logf("summarize total_ms=%d", time.Since(reqStart).Milliseconds())
}

func (s *Server) handleUsageSummary(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		s.respondError(w, http.StatusNotImplemented, errors.New("usage ledger disabled"))
		return
	}
	summary, err := s.ledger.Summary(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, errors.New("usage summary unavailable"))
		return
	}
	s.respondJSON(w, http.StatusOK, summary)
}

// respondRelayError maps relay failures onto the error taxonomy: empty
// completions and transport failures are reported distinctly, anything else
// is a generic server error without internal detail.
func (s *Server) respondRelayError(w http.ResponseWriter, err error) {
	var upstream *adapter.UpstreamError
	switch {
	case errors.Is(err, relay.ErrEmptyCompletion):
		s.respondError(w, http.StatusInternalServerError, relay.ErrEmptyCompletion)
	case errors.As(err, &upstream):
		s.respondError(w, http.StatusBadGateway, upstream)
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		s.respondError(w, http.StatusBadGateway, errors.New("upstream request timed out"))
	default:
		s.logf("relay error: %v", err)
		s.respondError(w, http.StatusBadGateway, errors.New("upstream request failed"))
	}
}

type field struct {
	name  string
	value string
}

func requireFields(fields ...field) error {
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return errors.New(f.name + " is required")
		}
	}
	return nil
}

func (s *Server) recordSingleShot(kind ledger.Kind, usage openai.UsageBreakdown) {
	s.recordUsage(ledger.Entry{
		RequestID:        uuid.New().String(),
		Kind:             kind,
		Model:            s.model,
		PromptTokens:     int64(usage.PromptTokens),
		CompletionTokens: int64(usage.CompletionTokens),
	})
}

// recordUsage writes with a fresh context so entries survive the request
// context being canceled at stream end.
func (s *Server) recordUsage(entry ledger.Entry) {
	if s.ledger == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.ledger.Record(ctx, entry); err != nil {
		s.logf("ledger record failed: %v", err)
	}
}

// approximateTokens estimates prompt tokens from the batch questions plus
// the fixed system prompt overhead (4 chars ~ 1 token).
func approximateTokens(questions []string) int64 {
	total := 0
	for _, q := range questions {
		total += len(q)
	}
	n := total/4 + len(questions)*2
	if n < 1 {
		n = 1
	}
	return int64(n)
}
