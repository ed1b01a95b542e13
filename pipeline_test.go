package bolt

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// scriptedInference replies with a fixed text for every Chat call,
// regardless of model, so each pipeline phase can be stubbed independently
// by feeding it canned JSON/code (spec.md §8 scenario S6).
type scriptedInference struct {
	mu      sync.Mutex
	byModel map[ModelKey]string
	calls   []ModelKey
}

func (s *scriptedInference) Chat(ctx context.Context, model ModelKey, messages []ChatMessage) <-chan StreamEvent {
	s.mu.Lock()
	s.calls = append(s.calls, model)
	reply := s.byModel[model]
	s.mu.Unlock()

	ch := make(chan StreamEvent, 1)
	ch <- TextEvent(reply)
	close(ch)
	return ch
}

type fakeResidency struct {
	mu       sync.Mutex
	warmed   []string
	unloaded []string
}

func (r *fakeResidency) Unload(ctx context.Context, model string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unloaded = append(r.unloaded, model)
	return nil
}

func (r *fakeResidency) Warm(ctx context.Context, model, keepAlive string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warmed = append(r.warmed, model)
	return nil
}

func (r *fakeResidency) UnloadAllExcept(ctx context.Context, keepModel string) error {
	return nil
}

type identityNamer struct{}

func (identityNamer) ModelName(key string) string { return key }

type fakePipelineStore struct{}

func (fakePipelineStore) RecentMessages(sessionID string, limit int) ([]Message, error) {
	return []Message{{ID: 1, Role: RoleUser, Content: "build me a hello world cli"}}, nil
}

func (fakePipelineStore) ProfileFacts() ([]ProfileFact, error) {
	return []ProfileFact{{Category: "pref", Key: "language", Value: "go"}}, nil
}

func newTestPipeline(t *testing.T, home string, scripted *scriptedInference) *Pipeline {
	t.Helper()
	sandbox := NewSandbox(home)
	mode := NewModeState()
	return NewPipeline(fakePipelineStore{}, scripted, &fakeResidency{}, identityNamer{}, sandbox, mode)
}

func TestPipelineHappyPath(t *testing.T) {
	home := t.TempDir()
	scripted := &scriptedInference{byModel: map[ModelKey]string{
		ModelFastCode: `{"project":"hello","description":"a cli","requirements":["print hello"],"files":["main.go"],"language":"go","output_dir":"out"}`,
		ModelBeast: `{"architecture":"single binary","worker_heavy":{"files":[]},"worker_light":{"files":[{"path":"main.go","description":"entry point","depends_on":[]}]},"integration_notes":"none"}`,
		ModelWorkerLight: "```go\npackage main\nfunc main() {}\n```",
		ModelWorkerHeavy: "",
	}}
	p := newTestPipeline(t, home, scripted)

	done := make(chan PipelineResult, 1)
	if !p.RunPipeline(context.Background(), "sess1", func(r PipelineResult) { done <- r }) {
		t.Fatal("expected RunPipeline to accept the run")
	}

	select {
	case r := <-done:
		if !r.Success {
			t.Fatalf("expected success, got failure: %s", r.Summary)
		}
		if len(r.Written) != 1 {
			t.Fatalf("expected 1 file written, got %d: %v", len(r.Written), r.Written)
		}
		data, err := os.ReadFile(filepath.Join(home, "out", "main.go"))
		if err != nil {
			t.Fatalf("expected file on disk: %v", err)
		}
		if !strings.Contains(string(data), "package main") {
			t.Errorf("expected stripped code on disk, got %q", string(data))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline did not complete in time")
	}

	if p.IsRunning() {
		t.Error("expected pipeline to report not running after completion")
	}
}

func TestPipelineRejectsConcurrentRun(t *testing.T) {
	home := t.TempDir()
	scripted := &scriptedInference{byModel: map[ModelKey]string{
		ModelFastCode: `{"project":"p","description":"d","requirements":[],"files":[],"language":"go","output_dir":"out"}`,
	}}
	p := newTestPipeline(t, home, scripted)
	p.mu.Lock()
	p.running = true
	p.mu.Unlock()

	if p.RunPipeline(context.Background(), "sess1", func(PipelineResult) {}) {
		t.Error("expected second RunPipeline to be rejected while one is in flight")
	}
}

func TestPipelinePathTraversalDeniedButOthersSucceed(t *testing.T) {
	home := t.TempDir()
	scripted := &scriptedInference{byModel: map[ModelKey]string{
		ModelFastCode: `{"project":"p","description":"d","requirements":[],"files":[],"language":"go","output_dir":"out"}`,
		ModelBeast: `{"architecture":"a","worker_heavy":{"files":[]},"worker_light":{"files":[{"path":"../../etc/evil","description":"bad","depends_on":[]},{"path":"good.txt","description":"fine","depends_on":[]}]},"integration_notes":""}`,
		ModelWorkerLight: "content",
		ModelWorkerHeavy: "",
	}}
	p := newTestPipeline(t, home, scripted)

	done := make(chan PipelineResult, 1)
	p.RunPipeline(context.Background(), "sess1", func(r PipelineResult) { done <- r })

	select {
	case r := <-done:
		if !r.Success {
			t.Fatalf("expected overall success despite one denied file: %s", r.Summary)
		}
		if len(r.Denied) != 1 {
			t.Fatalf("expected exactly 1 denied file, got %v", r.Denied)
		}
		if len(r.Written) != 1 {
			t.Fatalf("expected 1 successfully written file, got %v", r.Written)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline did not complete in time")
	}
}

func TestExtractJSONObjectHandlesFencesAndStringBraces(t *testing.T) {
	reply := "Here you go:\n```json\n{\"a\": \"value with { brace\", \"b\": 2}\n```\nThanks!"
	got := extractJSONObject(reply)
	if got == "" {
		t.Fatal("expected a non-empty extracted object")
	}
	if !strings.HasPrefix(got, "{") || !strings.HasSuffix(got, "}") {
		t.Errorf("expected a balanced object, got %q", got)
	}
}

func TestStripMarkdownFencesUnwrapsCode(t *testing.T) {
	wrapped := "```go\npackage main\n```"
	if got := stripMarkdownFences(wrapped); got != "package main" {
		t.Errorf("expected unwrapped code, got %q", got)
	}
}
