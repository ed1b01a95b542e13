// Package local implements BOLT's local inference backend: an Ollama-style
// server speaking newline-delimited JSON over /api/chat, /api/generate, and
// /api/ps (spec.md §4.1, §6).
package local

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	bolt "github.com/Jamescode-cpt/bolt"
)

// httpTimeout is the inference HTTP call timeout (spec.md §5).
const httpTimeout = 300 * time.Second

// chatMessage is the wire shape of one /api/chat message.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRequest is the /api/chat request body.
type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	Stream    bool          `json:"stream"`
	KeepAlive string        `json:"keep_alive,omitempty"`
}

// chatChunk is one newline-delimited JSON record from /api/chat.
type chatChunk struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

// generateRequest is the /api/generate request body, used for keep_alive
// pings and non-streaming prompts.
type generateRequest struct {
	Model     string `json:"model"`
	Prompt    string `json:"prompt"`
	Stream    bool   `json:"stream"`
	KeepAlive any    `json:"keep_alive,omitempty"`
}

// psResponse is the /api/ps response: currently loaded models.
type psResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// Client talks to a local Ollama-style inference server. Grounded on
// provider/openaicompat's Provider (HTTP client wrapper + httpErr pattern)
// and its stream.go's bufio.Scanner SSE loop, generalized from SSE to
// newline-delimited JSON.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	resolver   ModelResolver
}

// ModelResolver translates a logical model key (glossary: "router",
// "companion", "fast_code", ...) to the concrete model name the server
// should load (internal/config.Config.ModelName satisfies this directly).
type ModelResolver interface {
	ModelName(key string) string
}

type identityResolver struct{}

func (identityResolver) ModelName(key string) string { return key }

// Option configures a Client.
type Option func(*Client)

// WithLogger attaches a structured logger; a discard logger is used if unset.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithHTTPClient overrides the default *http.Client, mainly for tests.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithModelResolver attaches the logical-key-to-concrete-name resolver. If
// unset, Chat sends the logical key's string form as-is.
func WithModelResolver(r ModelResolver) Option {
	return func(c *Client) { c.resolver = r }
}

var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Client addressing baseURL (e.g. "http://127.0.0.1:11434").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: httpTimeout},
		logger:     nopLogger,
		resolver:   identityResolver{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Chat streams a chat completion for model. Implements bolt.InferenceClient.
func (c *Client) Chat(ctx context.Context, model bolt.ModelKey, messages []bolt.ChatMessage) <-chan bolt.StreamEvent {
	ch := make(chan bolt.StreamEvent, 16)
	go c.chat(ctx, c.resolver.ModelName(string(model)), messages, ch)
	return ch
}

// ClassifyChat implements bolt.Classifier: a single streaming Chat call,
// drained to completion, whose full text reply is returned.
func (c *Client) ClassifyChat(ctx context.Context, prompt string) (string, error) {
	events := c.Chat(ctx, bolt.ModelRouter, []bolt.ChatMessage{{Role: bolt.RoleUser, Content: prompt}})
	var text string
	for ev := range events {
		if ev.Kind == bolt.StreamText {
			text += ev.Text
		}
		if ev.Kind == bolt.StreamError && text == "" {
			return "", ev.Err
		}
	}
	return text, nil
}

func (c *Client) chat(ctx context.Context, model string, messages []bolt.ChatMessage, ch chan<- bolt.StreamEvent) {
	defer close(ch)

	normalized := bolt.NormalizeMessages(messages)
	if len(normalized) == 0 {
		ch <- bolt.ErrorEvent("[no content to send]", nil)
		return
	}

	ok := c.stream(ctx, model, normalized, ch)
	if ok {
		return
	}

	c.logger.Warn("local: retrying with reduced context", "model", model)
	reduced := bolt.ReducedContext(normalized)
	if len(reduced) == 0 {
		ch <- bolt.ErrorEvent("[local backend unavailable]", nil)
		return
	}
	if !c.stream(ctx, model, reduced, ch) {
		ch <- bolt.ErrorEvent("[local backend unavailable]", nil)
	}
}

// stream performs one streaming /api/chat attempt, writing text chunks to
// ch. It returns true on a clean HTTP 2xx response (regardless of whether
// any text was produced), false on transport failure or non-2xx — the
// caller decides whether to retry.
func (c *Client) stream(ctx context.Context, model string, messages []bolt.ChatMessage, ch chan<- bolt.StreamEvent) bool {
	wire := make([]chatMessage, len(messages))
	for i, m := range messages {
		wire[i] = chatMessage{Role: m.Role, Content: m.Content}
	}

	payload, err := json.Marshal(chatRequest{Model: model, Messages: wire, Stream: true})
	if err != nil {
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("local: request failed", "error", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("local: non-2xx response", "status", resp.StatusCode)
		return false
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var chunk chatChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			continue
		}
		if chunk.Message.Content != "" {
			select {
			case ch <- bolt.TextEvent(chunk.Message.Content):
			case <-ctx.Done():
				return true
			}
		}
		if chunk.Done {
			break
		}
	}
	return true
}

// Unload sets a model's keep_alive to 0, asking the server to evict it
// immediately (spec.md §4.9 load/unload discipline).
func (c *Client) Unload(ctx context.Context, model string) error {
	return c.pingGenerate(ctx, model, 0)
}

// Warm sends an empty prompt with keepAlive, loading model into residency
// (spec.md §4.9).
func (c *Client) Warm(ctx context.Context, model, keepAlive string) error {
	return c.pingGenerate(ctx, model, keepAlive)
}

// UnloadAllExcept lists currently loaded models via /api/ps and unloads
// every one except keepModel (spec.md §4.9).
func (c *Client) UnloadAllExcept(ctx context.Context, keepModel string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/ps", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var parsed psResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("decode /api/ps: %w", err)
	}
	for _, m := range parsed.Models {
		if m.Name == keepModel {
			continue
		}
		if err := c.Unload(ctx, m.Name); err != nil {
			c.logger.Warn("local: unload failed", "model", m.Name, "error", err)
		}
	}
	return nil
}

// pingGenerate hits /api/generate with an empty prompt and the given
// keep_alive value, used by both Unload/Warm and the Heartbeat worker.
func (c *Client) pingGenerate(ctx context.Context, model string, keepAlive any) error {
	payload, err := json.Marshal(generateRequest{Model: model, Prompt: "", Stream: false, KeepAlive: keepAlive})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("generate ping: http %d", resp.StatusCode)
	}
	return nil
}

var (
	_ bolt.InferenceClient = (*Client)(nil)
	_ bolt.Classifier      = (*Client)(nil)
)
