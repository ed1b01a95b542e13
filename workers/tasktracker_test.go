package workers

import (
	"context"
	"testing"

	bolt "github.com/Jamescode-cpt/bolt"
)

type fakeTaskStore struct {
	active       bolt.Task
	hasActive    bool
	setTitle     string
	completedID  int64
	completedSt  string
}

func (s *fakeTaskStore) ActiveTask() (bolt.Task, bool, error) { return s.active, s.hasActive, nil }
func (s *fakeTaskStore) SetActiveTask(title, contextJSON string) (bolt.Task, error) {
	s.setTitle = title
	s.hasActive = true
	s.active = bolt.Task{ID: 1, Title: title, Status: bolt.TaskActive}
	return s.active, nil
}
func (s *fakeTaskStore) CompleteTask(id int64, status string) error {
	s.completedID = id
	s.completedSt = status
	s.hasActive = false
	return nil
}

func TestTaskTrackerSetsActiveTask(t *testing.T) {
	store := &fakeTaskStore{}
	tr := NewTaskTracker(store, &fakeChatter{reply: "TASK: fix the bug\nSTATUS: active"}, bolt.ModelFastCode)
	if err := tr.Observe(context.Background(), "help me fix this", "sure, let's look"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.setTitle != "fix the bug" {
		t.Errorf("expected task title to be set, got %q", store.setTitle)
	}
}

func TestTaskTrackerCompletesActiveTask(t *testing.T) {
	store := &fakeTaskStore{active: bolt.Task{ID: 7, Title: "fix the bug"}, hasActive: true}
	tr := NewTaskTracker(store, &fakeChatter{reply: "TASK: NONE\nSTATUS: done"}, bolt.ModelFastCode)
	if err := tr.Observe(context.Background(), "it works now", "great!"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.completedID != 7 || store.completedSt != bolt.TaskDone {
		t.Errorf("expected task 7 completed, got id=%d status=%q", store.completedID, store.completedSt)
	}
}

func TestTaskTrackerNoneIsNoop(t *testing.T) {
	store := &fakeTaskStore{}
	tr := NewTaskTracker(store, &fakeChatter{reply: "TASK: NONE\nSTATUS: none"}, bolt.ModelFastCode)
	if err := tr.Observe(context.Background(), "hey", "hi there"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.setTitle != "" || store.completedID != 0 {
		t.Error("expected no store mutation for none/none reply")
	}
}

func TestTaskTrackerInferenceFailureIsReported(t *testing.T) {
	store := &fakeTaskStore{}
	tr := NewTaskTracker(store, &fakeChatter{err: context.DeadlineExceeded}, bolt.ModelFastCode)
	if err := tr.Observe(context.Background(), "hey", "hi"); err == nil {
		t.Error("expected inference failure to be reported")
	}
}
