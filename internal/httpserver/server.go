package httpserver

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/answerline/answerline-relay/internal/ledger"
	"github.com/answerline/answerline-relay/internal/relay"
)

// Server exposes the relay over REST plus one server-sent-event stream.
type Server struct {
	relay          *relay.Relay
	ledger         ledger.Store
	model          string
	allowedOrigins []string
	logger         *log.Logger
	logLevel       string
}

// New constructs a Server with the required dependencies. The ledger store
// may be nil, in which case usage recording is skipped.
func New(rel *relay.Relay, store ledger.Store, model string) *Server {
	return &Server{
		relay:          rel,
		ledger:         store,
		model:          model,
		allowedOrigins: []string{"*"},
	}
}

// SetLogger attaches a logger and level ("debug" enables debugf output).
func (s *Server) SetLogger(level string, logger *log.Logger) {
	s.logLevel = strings.ToLower(strings.TrimSpace(level))
	s.logger = logger
}

// SetAllowedOrigins replaces the CORS origin allowlist.
func (s *Server) SetAllowedOrigins(origins []string) {
	if len(origins) > 0 {
		s.allowedOrigins = origins
	}
}

// Router returns a configured chi router for embedding in HTTP servers.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.corsMiddleware)

	r.Get("/health", s.HandleHealth)
	r.Route("/api", func(api chi.Router) {
		api.Post("/ask", s.handleAsk)
		api.Post("/chat", s.handleChat)
		api.Post("/answer/detailed", s.handleDetailed)
		api.Post("/summarize", s.handleSummarize)
		api.Get("/usage/summary", s.handleUsageSummary)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		s.respondError(w, http.StatusNotFound, errors.New("not found"))
	})
	return r
}

// corsMiddleware answers preflight requests and stamps allow headers on
// every response for origins on the allowlist.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			allowed := origin
			if len(s.allowedOrigins) == 1 && s.allowedOrigins[0] == "*" {
				allowed = "*"
			}
			w.Header().Set("Access-Control-Allow-Origin", allowed)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	if payload == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	s.respondJSON(w, status, map[string]any{"error": err.Error()})
}

func (s *Server) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

func (s *Server) debugf(format string, args ...any) {
	if s.logger != nil && s.logLevel == "debug" {
		s.logger.Printf(format, args...)
	}
}

// HandleHealth reports liveness.
func (s *Server) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
		"model":  s.model,
	})
}
