// Package remote implements BOLT's cloud fallback inference backend. The
// provider is auto-detected from the API key's prefix (spec.md §6) and
// speaks one of two streaming wire formats: Anthropic-style or
// OpenAI-compatible.
package remote

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	bolt "github.com/Jamescode-cpt/bolt"
)

// Format identifies which SSE wire format a cloud endpoint speaks.
type Format string

const (
	FormatAnthropic Format = "anthropic"
	FormatOpenAI    Format = "openai"
)

// availabilityTTL is how long a reachability probe is cached (spec.md §4.1).
const availabilityTTL = 60 * time.Second

// httpTimeout is the inference HTTP call timeout (spec.md §5).
const httpTimeout = 300 * time.Second

// route is one row of the auto-detection table (spec.md §6).
type route struct {
	prefix  string
	name    string
	baseURL string
	format  Format
}

// routes is scanned in order; the first matching prefix wins. "sk-" must be
// checked last among the "sk-" family since it is a prefix of the others.
var routes = []route{
	{prefix: "sk-ant-", name: "anthropic", baseURL: "https://api.anthropic.com/v1/messages", format: FormatAnthropic},
	{prefix: "sk-or-", name: "openrouter", baseURL: "https://openrouter.ai/api/v1/chat/completions", format: FormatOpenAI},
	{prefix: "gsk_", name: "groq", baseURL: "https://api.groq.com/openai/v1/chat/completions", format: FormatOpenAI},
	{prefix: "sk-", name: "openai", baseURL: "https://api.openai.com/v1/chat/completions", format: FormatOpenAI},
}

// detect resolves an API key (and optional URL/model overrides) to a route.
// A BaseURL override wins over the prefix-inferred endpoint; if it contains
// "anthropic" the format upgrades to anthropic, otherwise the prefix-inferred
// format is kept, falling back to openai when no prefix matched (spec.md §6).
func detect(apiKey, urlOverride string) route {
	var r route
	for _, candidate := range routes {
		if strings.HasPrefix(apiKey, candidate.prefix) {
			r = candidate
			break
		}
	}
	if urlOverride != "" {
		r.baseURL = urlOverride
		if strings.Contains(urlOverride, "anthropic") {
			r.format = FormatAnthropic
		} else if r.format == "" {
			r.format = FormatOpenAI
		}
	}
	return r
}

// Client is BOLT's cloud inference backend. Grounded on
// provider/openaicompat/stream.go's bufio.Scanner SSE loop, generalized to
// two wire formats and given a 60s availability cache per spec.md §4.1.
type Client struct {
	apiKey  string
	model   string
	baseURL string
	format  Format

	httpClient *http.Client

	mu          sync.Mutex
	lastProbe   time.Time
	lastReachable bool
}

// New creates a Client. model and baseURL override the prefix-inferred
// defaults when non-empty.
func New(apiKey, model, baseURL string) *Client {
	r := detect(apiKey, baseURL)
	m := model
	if m == "" {
		m = defaultModel(r.name)
	}
	return &Client{
		apiKey:     apiKey,
		model:      m,
		baseURL:    r.baseURL,
		format:     r.format,
		httpClient: &http.Client{Timeout: httpTimeout},
	}
}

func defaultModel(provider string) string {
	switch provider {
	case "anthropic":
		return "claude-sonnet-4-5"
	case "openrouter":
		return "openai/gpt-4o-mini"
	case "groq":
		return "llama-3.3-70b-versatile"
	default:
		return "gpt-4o-mini"
	}
}

// Available reports whether the cloud endpoint is reachable, probing at
// most once per availabilityTTL after a successful probe (any HTTP reply,
// including an error status, counts as reachable per spec.md §4.1). A failed
// probe is not cached: the next call probes again.
func (c *Client) Available(ctx context.Context) bool {
	c.mu.Lock()
	if time.Since(c.lastProbe) < availabilityTTL {
		reachable := c.lastReachable
		c.mu.Unlock()
		return reachable
	}
	c.mu.Unlock()

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, c.baseURL, nil)
	reachable := false
	if err == nil {
		resp, doErr := c.httpClient.Do(req)
		if doErr == nil {
			resp.Body.Close()
			reachable = true
		}
	}

	c.mu.Lock()
	if reachable {
		c.lastProbe = time.Now()
	} else {
		c.lastProbe = time.Time{}
	}
	c.lastReachable = reachable
	c.mu.Unlock()
	return reachable
}

// Chat streams a chat completion. Implements bolt.InferenceClient; model is
// ignored since the cloud backend always uses its configured model.
func (c *Client) Chat(ctx context.Context, model bolt.ModelKey, messages []bolt.ChatMessage) <-chan bolt.StreamEvent {
	ch := make(chan bolt.StreamEvent, 16)
	go c.chat(ctx, messages, ch)
	return ch
}

func (c *Client) chat(ctx context.Context, messages []bolt.ChatMessage, ch chan<- bolt.StreamEvent) {
	defer close(ch)

	normalized := bolt.NormalizeMessages(messages)
	if len(normalized) == 0 {
		ch <- bolt.ErrorEvent("[no content to send]", nil)
		return
	}

	if c.format == FormatAnthropic {
		c.streamAnthropic(ctx, normalized, ch)
		return
	}
	c.streamOpenAI(ctx, normalized, ch)
}

// --- Anthropic wire format ---

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	MaxTokens int                `json:"max_tokens"`
	Stream    bool               `json:"stream"`
}

type anthropicEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) streamAnthropic(ctx context.Context, messages []bolt.ChatMessage, ch chan<- bolt.StreamEvent) {
	system := bolt.ConcatSystem(messages)
	rest := bolt.DropSystem(messages)

	var wire []anthropicMessage
	if len(rest) == 0 || rest[0].Role != bolt.RoleUser {
		wire = append(wire, anthropicMessage{Role: bolt.RoleUser, Content: "(continuing conversation)"})
	}
	for _, m := range rest {
		wire = append(wire, anthropicMessage{Role: m.Role, Content: m.Content})
	}

	payload, err := json.Marshal(anthropicRequest{Model: c.model, System: system, Messages: wire, MaxTokens: 4096, Stream: true})
	if err != nil {
		ch <- bolt.ErrorEvent("[request encoding failed]", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		ch <- bolt.ErrorEvent("[request construction failed]", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		ch <- bolt.ErrorEvent("[connection lost]", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		ch <- bolt.ErrorEvent("[cloud backend error]", &bolt.ErrHTTP{Status: resp.StatusCode})
		return
	}

	var emitted bool
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		var ev anthropicEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}
		switch ev.Type {
		case "content_block_delta":
			if ev.Delta.Type == "text_delta" && ev.Delta.Text != "" {
				emitted = true
				select {
				case ch <- bolt.TextEvent(ev.Delta.Text):
				case <-ctx.Done():
					return
				}
			}
		case "message_stop":
			return
		case "error":
			ch <- bolt.ErrorEvent("[cloud error: "+ev.Error.Message+"]", nil)
			return
		}
	}
	if scanner.Err() != nil {
		if emitted {
			ch <- bolt.ErrorEvent("[connection lost]", scanner.Err())
		} else {
			ch <- bolt.ErrorEvent("[cloud backend unavailable]", scanner.Err())
		}
	}
}

// --- OpenAI-compatible wire format ---

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiRequest struct {
	Model    string          `json:"model"`
	Messages []openaiMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type openaiChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

func (c *Client) streamOpenAI(ctx context.Context, messages []bolt.ChatMessage, ch chan<- bolt.StreamEvent) {
	wire := make([]openaiMessage, len(messages))
	for i, m := range messages {
		wire[i] = openaiMessage{Role: m.Role, Content: m.Content}
	}

	payload, err := json.Marshal(openaiRequest{Model: c.model, Messages: wire, Stream: true})
	if err != nil {
		ch <- bolt.ErrorEvent("[request encoding failed]", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		ch <- bolt.ErrorEvent("[request construction failed]", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		ch <- bolt.ErrorEvent("[connection lost]", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		ch <- bolt.ErrorEvent("[cloud backend error]", &bolt.ErrHTTP{Status: resp.StatusCode})
		return
	}

	var emitted bool
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			return
		}

		var chunk openaiChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if content := chunk.Choices[0].Delta.Content; content != "" {
			emitted = true
			select {
			case ch <- bolt.TextEvent(content):
			case <-ctx.Done():
				return
			}
		}
		if chunk.Choices[0].FinishReason != nil {
			return
		}
	}
	if scanner.Err() != nil {
		if emitted {
			ch <- bolt.ErrorEvent("[connection lost]", scanner.Err())
		} else {
			ch <- bolt.ErrorEvent("[cloud backend unavailable]", scanner.Err())
		}
	}
}

var _ bolt.InferenceClient = (*Client)(nil)
