package workers

import (
	"context"
	"testing"

	bolt "github.com/Jamescode-cpt/bolt"
)

type fakeChatter struct {
	reply string
	err   error
}

func (f *fakeChatter) Chat(ctx context.Context, model bolt.ModelKey, messages []bolt.ChatMessage) <-chan bolt.StreamEvent {
	ch := make(chan bolt.StreamEvent, 2)
	if f.err != nil {
		ch <- bolt.ErrorEvent("[fail]", f.err)
	} else {
		ch <- bolt.TextEvent(f.reply)
	}
	close(ch)
	return ch
}

type fakeSummarizerStore struct {
	pending  []bolt.Message
	summary  bolt.Summary
	hasSum   bool
	savedAt  int64
	savedTxt string
}

func (s *fakeSummarizerStore) UnsummarizedMessages(sessionID string, afterMessageID int64) ([]bolt.Message, error) {
	return s.pending, nil
}
func (s *fakeSummarizerStore) LatestSummary(sessionID string) (bolt.Summary, bool, error) {
	return s.summary, s.hasSum, nil
}
func (s *fakeSummarizerStore) SaveSummary(sessionID, text string, coversUpToMessageID int64) (bolt.Summary, error) {
	s.savedTxt = text
	s.savedAt = coversUpToMessageID
	return bolt.Summary{SessionID: sessionID, Text: text, CoversUpToMessageID: coversUpToMessageID}, nil
}

func TestSummarizerSkipsBelowThreshold(t *testing.T) {
	store := &fakeSummarizerStore{pending: make([]bolt.Message, 5)}
	s := NewSummarizer(store, &fakeChatter{reply: "summary"}, bolt.ModelFastCode, "sess1", WithSummarizerThreshold(20))
	if err := s.cycle(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.savedTxt != "" {
		t.Error("expected no summary to be saved below threshold")
	}
}

func TestSummarizerSavesAboveThreshold(t *testing.T) {
	pending := make([]bolt.Message, 20)
	for i := range pending {
		pending[i] = bolt.Message{ID: int64(i + 1), Role: bolt.RoleUser, Content: "hi"}
	}
	store := &fakeSummarizerStore{pending: pending}
	s := NewSummarizer(store, &fakeChatter{reply: "condensed summary"}, bolt.ModelFastCode, "sess1", WithSummarizerThreshold(20))
	if err := s.cycle(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.savedTxt != "condensed summary" {
		t.Errorf("expected saved summary text, got %q", store.savedTxt)
	}
	if store.savedAt != 20 {
		t.Errorf("expected covers_up_to=20, got %d", store.savedAt)
	}
}

func TestForceSummarizeRunsImmediately(t *testing.T) {
	pending := make([]bolt.Message, 20)
	for i := range pending {
		pending[i] = bolt.Message{ID: int64(i + 1)}
	}
	store := &fakeSummarizerStore{pending: pending}
	s := NewSummarizer(store, &fakeChatter{reply: "x"}, bolt.ModelFastCode, "sess1", WithSummarizerThreshold(20))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)
	defer s.Stop()

	if err := s.ForceSummarize(context.Background()); err != nil {
		t.Fatalf("ForceSummarize: %v", err)
	}
	if store.savedTxt != "x" {
		t.Errorf("expected forced summarize to save, got %q", store.savedTxt)
	}
}
