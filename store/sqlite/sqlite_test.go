package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	bolt "github.com/Jamescode-cpt/bolt"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s := New(filepath.Join(t.TempDir(), "test.db"))
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return s
}

func TestInitIdempotent(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "init.db"))
	ctx := context.Background()
	if err := s.Init(ctx); err != nil {
		t.Fatalf("first Init: %v", err)
	}
	if err := s.Init(ctx); err != nil {
		t.Fatalf("second Init: %v", err)
	}
}

func TestSaveAndRecentMessages(t *testing.T) {
	s := testStore(t)

	msgs := []string{"Hello", "Hi!", "Bye"}
	for _, content := range msgs {
		if _, err := s.SaveMessage("session-1", bolt.RoleUser, content); err != nil {
			t.Fatalf("SaveMessage: %v", err)
		}
	}

	got, err := s.RecentMessages("session-1", 10)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3, got %d", len(got))
	}
	if got[0].Content != "Hello" || got[2].Content != "Bye" {
		t.Error("messages not in chronological order")
	}

	got2, _ := s.RecentMessages("session-1", 2)
	if len(got2) != 2 || got2[0].Content != "Hi!" {
		t.Errorf("limit 2: expected [Hi!, Bye], got %v", got2)
	}
}

func TestUnsummarizedMessages(t *testing.T) {
	s := testStore(t)

	var ids []int64
	for _, content := range []string{"a", "b", "c", "d"} {
		m, err := s.SaveMessage("session-1", bolt.RoleUser, content)
		if err != nil {
			t.Fatalf("SaveMessage: %v", err)
		}
		ids = append(ids, m.ID)
	}

	got, err := s.UnsummarizedMessages("session-1", ids[1])
	if err != nil {
		t.Fatalf("UnsummarizedMessages: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 messages after id %d, got %d", ids[1], len(got))
	}
	if got[0].Content != "c" || got[1].Content != "d" {
		t.Errorf("unexpected content order: %v", got)
	}
}

func TestSummaryCoverageMonotonic(t *testing.T) {
	s := testStore(t)

	if _, err := s.SaveSummary("session-1", "first chunk", 10); err != nil {
		t.Fatalf("SaveSummary: %v", err)
	}
	if _, err := s.SaveSummary("session-1", "second chunk", 20); err != nil {
		t.Fatalf("SaveSummary: %v", err)
	}

	latest, ok, err := s.LatestSummary("session-1")
	if err != nil || !ok {
		t.Fatalf("LatestSummary: ok=%v err=%v", ok, err)
	}
	if latest.Text != "second chunk" || latest.CoversUpToMessageID != 20 {
		t.Errorf("expected the higher-coverage summary, got %+v", latest)
	}
}

func TestActiveTaskSingleton(t *testing.T) {
	s := testStore(t)

	first, err := s.SetActiveTask("build a thing", `{"step":1}`)
	if err != nil {
		t.Fatalf("SetActiveTask: %v", err)
	}
	second, err := s.SetActiveTask("build another thing", `{"step":1}`)
	if err != nil {
		t.Fatalf("SetActiveTask: %v", err)
	}

	active, ok, err := s.ActiveTask()
	if err != nil || !ok {
		t.Fatalf("ActiveTask: ok=%v err=%v", ok, err)
	}
	if active.ID != second.ID || second.ID != first.ID || active.Title != "build another thing" {
		t.Errorf("expected the active task updated in place, got first=%d second=%d active=%+v", first.ID, second.ID, active)
	}

	if err := s.CompleteTask(first.ID, bolt.TaskDone); err != nil {
		t.Fatalf("CompleteTask: %v", err)
	}
	_, stillOk, err := s.ActiveTask()
	if err != nil {
		t.Fatalf("ActiveTask: %v", err)
	}
	if stillOk {
		t.Error("expected no active task after completing the single active row")
	}
}

func TestProfileFactConfidenceWins(t *testing.T) {
	s := testStore(t)

	if err := s.UpsertProfileFact(bolt.ProfileFact{Category: "preference", Key: "language", Value: "Go", Confidence: 0.9, Source: "profile_learner"}); err != nil {
		t.Fatalf("UpsertProfileFact: %v", err)
	}
	if err := s.UpsertProfileFact(bolt.ProfileFact{Category: "preference", Key: "language", Value: "maybe Go?", Confidence: 0.3, Source: "profile_learner"}); err != nil {
		t.Fatalf("UpsertProfileFact: %v", err)
	}

	facts, err := s.ProfileFacts()
	if err != nil {
		t.Fatalf("ProfileFacts: %v", err)
	}
	if len(facts) != 1 {
		t.Fatalf("expected 1 fact, got %d", len(facts))
	}
	if facts[0].Value != "Go" {
		t.Errorf("lower-confidence write should not overwrite, got %q", facts[0].Value)
	}

	if err := s.UpsertProfileFact(bolt.ProfileFact{Category: "preference", Key: "language", Value: "Rust", Confidence: 0.95, Source: "profile_learner"}); err != nil {
		t.Fatalf("UpsertProfileFact: %v", err)
	}
	facts, _ = s.ProfileFacts()
	if facts[0].Value != "Rust" {
		t.Errorf("higher-confidence write should overwrite, got %q", facts[0].Value)
	}
}

func TestHandoffLatestOnly(t *testing.T) {
	s := testStore(t)

	if err := s.SaveHandoff("session-1", "worker_heavy", "companion", "first handoff"); err != nil {
		t.Fatalf("SaveHandoff: %v", err)
	}
	if err := s.SaveHandoff("session-1", "worker_heavy", "companion", "second handoff"); err != nil {
		t.Fatalf("SaveHandoff: %v", err)
	}

	h, ok, err := s.LatestHandoff("session-1")
	if err != nil || !ok {
		t.Fatalf("LatestHandoff: ok=%v err=%v", ok, err)
	}
	if h.Text != "second handoff" {
		t.Errorf("expected the latest handoff text, got %q", h.Text)
	}
}

func TestKeyValueUpsert(t *testing.T) {
	s := testStore(t)

	if err := s.SetKeyValue("last_session", "session-1"); err != nil {
		t.Fatalf("SetKeyValue: %v", err)
	}
	if err := s.SetKeyValue("last_session", "session-2"); err != nil {
		t.Fatalf("SetKeyValue: %v", err)
	}
	v, ok, err := s.GetKeyValue("last_session")
	if err != nil || !ok {
		t.Fatalf("GetKeyValue: ok=%v err=%v", ok, err)
	}
	if v != "session-2" {
		t.Errorf("expected session-2, got %q", v)
	}
}

func TestLogEventAndRecentEvents(t *testing.T) {
	s := testStore(t)

	s.LogEvent("route", "companion -> companion")
	s.LogEvent("response", "model=companion len=42")

	events, err := s.RecentEvents(10)
	if err != nil {
		t.Fatalf("RecentEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].EventName != "response" {
		t.Errorf("expected newest event first, got %q", events[0].EventName)
	}
}
