package bolt

import (
	"context"
	"strings"
	"testing"
)

type fakeAppStore struct {
	events     []TimelineEvent
	facts      []ProfileFact
	factsClear bool
	task       Task
	hasTask    bool
	summary    Summary
	hasSummary bool
	messages   []Message
	snapshots  []SessionSnapshot
}

func (s *fakeAppStore) RecentEvents(limit int) ([]TimelineEvent, error) { return s.events, nil }
func (s *fakeAppStore) ProfileFacts() ([]ProfileFact, error)            { return s.facts, nil }
func (s *fakeAppStore) ClearProfileFacts() error {
	s.factsClear = true
	s.facts = nil
	return nil
}
func (s *fakeAppStore) ActiveTask() (Task, bool, error) { return s.task, s.hasTask, nil }
func (s *fakeAppStore) LatestSummary(sessionID string) (Summary, bool, error) {
	return s.summary, s.hasSummary, nil
}
func (s *fakeAppStore) RecentMessages(sessionID string, limit int) ([]Message, error) {
	return s.messages, nil
}
func (s *fakeAppStore) SaveSessionSnapshot(snap SessionSnapshot) error {
	s.snapshots = append(s.snapshots, snap)
	return nil
}
func (s *fakeAppStore) LogEvent(eventName, details string) {
	s.events = append(s.events, TimelineEvent{EventName: eventName, Details: details})
}

func newTestCore(t *testing.T, store *fakeAppStore) *Core {
	t.Helper()
	mode := NewModeState()
	tools := NewToolRegistry()
	tools.Register("calc", "evaluate an expression", func(ctx context.Context, args string) (string, error) {
		return args, nil
	})
	pipeline := NewPipeline(fakePipelineStore{}, &scriptedInference{byModel: map[ModelKey]string{}}, &fakeResidency{}, identityNamer{}, NewSandbox(t.TempDir()), mode)
	return NewCore(store, mode, tools, pipeline, "sess1")
}

func TestCoreSetGetMode(t *testing.T) {
	c := newTestCore(t, &fakeAppStore{})
	c.SetMode(ModeBuild)
	if got := c.GetMode(); got != ModeBuild {
		t.Errorf("expected ModeBuild, got %s", got)
	}
}

func TestCoreGetProfileDisplayEmpty(t *testing.T) {
	c := newTestCore(t, &fakeAppStore{})
	display, err := c.GetProfileDisplay()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(display, "No profile facts") {
		t.Errorf("expected empty-profile message, got %q", display)
	}
}

func TestCoreClearProfile(t *testing.T) {
	store := &fakeAppStore{facts: []ProfileFact{{Category: "pref", Key: "lang", Value: "go"}}}
	c := newTestCore(t, store)
	if err := c.ClearProfile(); err != nil {
		t.Fatal(err)
	}
	if !store.factsClear {
		t.Error("expected ClearProfileFacts to be called")
	}
}

func TestCoreFormatTasksNoneActive(t *testing.T) {
	c := newTestCore(t, &fakeAppStore{})
	got, err := c.FormatTasks()
	if err != nil {
		t.Fatal(err)
	}
	if got != "No active task." {
		t.Errorf("expected no-active-task message, got %q", got)
	}
}

func TestCoreFormatTasksActive(t *testing.T) {
	store := &fakeAppStore{task: Task{Title: "write tests", Status: TaskActive}, hasTask: true}
	c := newTestCore(t, store)
	got, err := c.FormatTasks()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "write tests") || !strings.Contains(got, "active") {
		t.Errorf("unexpected task format: %q", got)
	}
}

func TestCoreListTools(t *testing.T) {
	c := newTestCore(t, &fakeAppStore{})
	names := c.ListTools()
	if len(names) != 1 || names[0] != "calc" {
		t.Errorf("expected [calc], got %v", names)
	}
}

func TestCoreNewSessionIDChangesSession(t *testing.T) {
	c := newTestCore(t, &fakeAppStore{})
	first := c.SessionID()
	second := c.NewSessionID()
	if second == first {
		t.Error("expected a new session id")
	}
	if c.SessionID() != second {
		t.Error("expected SessionID to reflect the new session")
	}
}

func TestCoreRunPipelineRejectsConcurrent(t *testing.T) {
	c := newTestCore(t, &fakeAppStore{})
	c.pipeline.mu.Lock()
	c.pipeline.running = true
	c.pipeline.mu.Unlock()

	if c.RunPipeline(context.Background()) {
		t.Error("expected RunPipeline to refuse while one is already running")
	}
}

func TestCoreSaveSessionSnapshot(t *testing.T) {
	store := &fakeAppStore{messages: []Message{{ID: 1, Content: "hi"}}}
	c := newTestCore(t, store)
	if err := c.SaveSessionSnapshot(); err != nil {
		t.Fatal(err)
	}
	if len(store.snapshots) != 1 {
		t.Fatalf("expected 1 snapshot saved, got %d", len(store.snapshots))
	}
	if store.snapshots[0].MessageCount != 1 {
		t.Errorf("expected message count 1, got %d", store.snapshots[0].MessageCount)
	}
}

func TestCoreFormatStatusIncludesSessionAndMode(t *testing.T) {
	c := newTestCore(t, &fakeAppStore{})
	status := c.FormatStatus()
	if !strings.Contains(status, c.SessionID()) {
		t.Errorf("expected status to include session id, got %q", status)
	}
	if !strings.Contains(status, string(ModeCompanion)) {
		t.Errorf("expected status to include mode, got %q", status)
	}
}
