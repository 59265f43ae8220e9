package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/answerline/answerline-relay/internal/relay"
)

// sseSink writes relay events to the client as `data: <json>` frames,
// flushing after every event so tokens reach the browser as they arrive.
type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher

	tokenChars int
}

func newSSESink(w http.ResponseWriter, flusher http.Flusher) *sseSink {
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	return &sseSink{w: w, flusher: flusher}
}

// Send marshals one event and flushes it immediately.
func (s *sseSink) Send(event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flusher.Flush()

	if tok, ok := event.(relay.TokenEvent); ok {
		s.tokenChars += len(tok.Chunk)
	}
	return nil
}
