package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	bolt "github.com/Jamescode-cpt/bolt"
)

func TestDetectPicksAnthropicOverGeneric(t *testing.T) {
	r := detect("sk-ant-abc123", "")
	if r.format != FormatAnthropic {
		t.Errorf("expected anthropic format for sk-ant- prefix, got %s", r.format)
	}

	r = detect("sk-plainkey", "")
	if r.format != FormatOpenAI || r.name != "openai" {
		t.Errorf("expected openai for bare sk- prefix, got %s/%s", r.name, r.format)
	}

	r = detect("gsk_abc", "")
	if r.name != "groq" {
		t.Errorf("expected groq for gsk_ prefix, got %s", r.name)
	}
}

func TestDetectURLOverrideUpgradesFormat(t *testing.T) {
	r := detect("sk-something", "https://my-anthropic-proxy.internal/v1/messages")
	if r.format != FormatAnthropic {
		t.Errorf("expected URL override containing 'anthropic' to upgrade format, got %s", r.format)
	}
}

func collect(ch <-chan bolt.StreamEvent) (text string, errs int) {
	for ev := range ch {
		switch ev.Kind {
		case bolt.StreamText:
			text += ev.Text
		case bolt.StreamError:
			errs++
			text += ev.Text
		}
	}
	return text, errs
}

func TestStreamOpenAITextChunks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: "+`{"choices":[{"delta":{"content":"Hello"}}]}`+"\n\n")
		fmt.Fprint(w, "data: "+`{"choices":[{"delta":{"content":" world"},"finish_reason":"stop"}]}`+"\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := &Client{apiKey: "sk-test", model: "gpt-4o-mini", baseURL: srv.URL, format: FormatOpenAI, httpClient: srv.Client()}
	text, errs := collect(c.Chat(context.Background(), bolt.ModelCloud, []bolt.ChatMessage{{Role: bolt.RoleUser, Content: "hi"}}))
	if errs != 0 {
		t.Fatalf("unexpected error: %q", text)
	}
	if text != "Hello world" {
		t.Errorf("expected 'Hello world', got %q", text)
	}
}

func TestStreamAnthropicTextChunks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: "+`{"type":"content_block_delta","delta":{"type":"text_delta","text":"Hi"}}`+"\n\n")
		fmt.Fprint(w, "data: "+`{"type":"message_stop"}`+"\n\n")
	}))
	defer srv.Close()

	c := &Client{apiKey: "sk-ant-test", model: "claude-sonnet-4-5", baseURL: srv.URL, format: FormatAnthropic, httpClient: srv.Client()}
	text, errs := collect(c.Chat(context.Background(), bolt.ModelCloud, []bolt.ChatMessage{{Role: bolt.RoleUser, Content: "hi"}}))
	if errs != 0 {
		t.Fatalf("unexpected error: %q", text)
	}
	if text != "Hi" {
		t.Errorf("expected 'Hi', got %q", text)
	}
}

func TestStreamAnthropicErrorEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: "+`{"type":"error","error":{"message":"overloaded"}}`+"\n\n")
	}))
	defer srv.Close()

	c := &Client{apiKey: "sk-ant-test", model: "claude-sonnet-4-5", baseURL: srv.URL, format: FormatAnthropic, httpClient: srv.Client()}
	text, errs := collect(c.Chat(context.Background(), bolt.ModelCloud, []bolt.ChatMessage{{Role: bolt.RoleUser, Content: "hi"}}))
	if errs == 0 {
		t.Fatalf("expected an error event, got text %q", text)
	}
}

func TestAvailableCachesProbe(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	c := &Client{apiKey: "sk-test", baseURL: srv.URL, httpClient: srv.Client()}
	if !c.Available(context.Background()) {
		t.Fatal("expected reachable")
	}
	if !c.Available(context.Background()) {
		t.Fatal("expected reachable (cached)")
	}
	if calls != 1 {
		t.Errorf("expected exactly 1 probe due to caching, got %d", calls)
	}
}
