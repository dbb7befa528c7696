package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/flowchat/creditgate/internal/config"
	"github.com/tidwall/gjson"
)

// HTTPBackend streams chat completions from an OpenAI-compatible upstream.
type HTTPBackend struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

var _ Backend = (*HTTPBackend)(nil)

// NewHTTPBackend constructs an HTTPBackend from upstream config.
func NewHTTPBackend(cfg config.UpstreamConfig) *HTTPBackend {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &HTTPBackend{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// chatRequest is the upstream request payload.
type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StreamChat opens a streaming completion request against the upstream.
func (b *HTTPBackend) StreamChat(ctx context.Context, model, message string) (Stream, error) {
	payload, errMarshal := json.Marshal(chatRequest{
		Model:    model,
		Messages: []chatMessage{{Role: "user", Content: message}},
		Stream:   true,
	})
	if errMarshal != nil {
		return nil, fmt.Errorf("backend: marshal request: %w", errMarshal)
	}

	req, errReq := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if errReq != nil {
		return nil, fmt.Errorf("backend: build request: %w", errReq)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, errDo := b.client.Do(req)
	if errDo != nil {
		return nil, fmt.Errorf("backend: request: %w", errDo)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("backend: upstream status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return &sseStream{body: resp.Body, scanner: bufio.NewScanner(resp.Body)}, nil
}

// sseStream parses server-sent-event frames from the upstream response body.
type sseStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	done    bool
}

// Next returns the next content chunk. The upstream's "[DONE]" sentinel
// yields a terminal chunk; any usage object seen before it is attached there.
func (s *sseStream) Next() (Chunk, error) {
	if s.done {
		return Chunk{}, io.EOF
	}
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			s.done = true
			return Chunk{Done: true}, nil
		}

		chunk := Chunk{Content: gjson.Get(data, "choices.0.delta.content").String()}
		if usage := gjson.Get(data, "usage"); usage.Exists() && usage.IsObject() {
			chunk.Usage = &Usage{
				InputTokens:  usage.Get("prompt_tokens").Int(),
				OutputTokens: usage.Get("completion_tokens").Int(),
			}
		}
		if chunk.Content == "" && chunk.Usage == nil {
			continue
		}
		return chunk, nil
	}
	if errScan := s.scanner.Err(); errScan != nil {
		return Chunk{}, errScan
	}
	s.done = true
	return Chunk{}, io.EOF
}

// Close releases the underlying response body.
func (s *sseStream) Close() error {
	return s.body.Close()
}
