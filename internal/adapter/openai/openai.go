package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/answerline/answerline-relay/internal/adapter"
	"github.com/answerline/answerline-relay/internal/openai"
)

// Ensure OpenAIAdapter implements both adapter interfaces.
var _ adapter.ChatAdapter = (*OpenAIAdapter)(nil)
var _ adapter.StreamingChatAdapter = (*OpenAIAdapter)(nil)

// OpenAIAdapter sends requests to an OpenAI-compatible chat-completions API.
type OpenAIAdapter struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// Config holds configuration for the OpenAI adapter.
type Config struct {
	APIKey         string
	BaseURL        string // optional, defaults to https://api.openai.com/v1
	RequestTimeout time.Duration
}

// New creates an OpenAIAdapter instance.
func New(cfg Config) (*OpenAIAdapter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: api key required")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}

	return &OpenAIAdapter{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// CreateCompletion sends a non-streaming chat completion request.
func (a *OpenAIAdapter) CreateCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	if len(req.Messages) == 0 {
		return openai.ChatCompletionResponse{}, errors.New("openai: no messages provided")
	}

	req.Stream = false
	resp, err := a.send(ctx, req)
	if err != nil {
		return openai.ChatCompletionResponse{}, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return openai.ChatCompletionResponse{}, fmt.Errorf("openai: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return openai.ChatCompletionResponse{}, upstreamError(resp.StatusCode, respBody)
	}

	var completion openai.ChatCompletionResponse
	if err := json.Unmarshal(respBody, &completion); err != nil {
		return openai.ChatCompletionResponse{}, fmt.Errorf("openai: unmarshal response: %w", err)
	}
	return completion, nil
}

// CreateCompletionStream sends a streaming request and re-emits upstream
// frames as chunk events. Malformed frames are dropped; the channel closes
// on the [DONE] sentinel, a stop finish reason, or EOF.
func (a *OpenAIAdapter) CreateCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (<-chan adapter.StreamEvent, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("openai: no messages provided")
	}

	req.Stream = true
	resp, err := a.send(ctx, req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		return nil, upstreamError(resp.StatusCode, data)
	}

	ch := make(chan adapter.StreamEvent, 10)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		dec := NewFrameDecoder()
		buf := make([]byte, 8192)
		for {
			select {
			case <-ctx.Done():
				ch <- adapter.StreamEvent{Err: ctx.Err()}
				return
			default:
			}

			n, err := resp.Body.Read(buf)
			if n > 0 {
				for _, payload := range dec.Feed(string(buf[:n])) {
					if payload == doneSentinel {
						return
					}
					var chunk openai.ChatCompletionChunk
					if perr := json.Unmarshal([]byte(payload), &chunk); perr != nil {
						// Malformed frame: drop it and keep reading.
						continue
					}
					ch <- adapter.StreamEvent{Chunk: &chunk}
					if fr := chunk.FinishReason(); fr != nil && *fr == "stop" {
						return
					}
				}
			}
			if err != nil {
				if err == io.EOF {
					return
				}
				ch <- adapter.StreamEvent{Err: fmt.Errorf("openai: read stream: %w", err)}
				return
			}
		}
	}()
	return ch, nil
}

func (a *OpenAIAdapter) send(ctx context.Context, req openai.ChatCompletionRequest) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai: send request: %w", err)
	}
	return resp, nil
}

func upstreamError(status int, body []byte) error {
	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    string `json:"code"`
		} `json:"error"`
	}
	msg := ""
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		msg = errResp.Error.Message
	} else if len(body) > 0 {
		msg = preview(string(body), 256)
	}
	return &adapter.UpstreamError{Provider: "openai", Status: status, Message: msg}
}

func preview(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max]
}
