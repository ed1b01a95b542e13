package workers

import (
	"context"
	"fmt"
	"strings"

	bolt "github.com/Jamescode-cpt/bolt"
)

// taskTrackerPrompt asks the small model to report the task state implied
// by the latest turn (spec.md §4.8's two-line protocol).
const taskTrackerPrompt = `Based on this conversation turn, is the user working on a concrete task?

User: %s
Assistant: %s

Reply with exactly two lines:
TASK: <short title, or NONE>
STATUS: active|done|none`

// TaskTrackerStore is the subset of the persistence layer TaskTracker needs.
type TaskTrackerStore interface {
	ActiveTask() (bolt.Task, bool, error)
	SetActiveTask(title, contextJSON string) (bolt.Task, error)
	CompleteTask(id int64, status string) error
}

// TaskTracker is invoked synchronously after each user turn; it infers
// whether the turn started, continued, or completed a task and updates the
// singleton active-task record accordingly.
type TaskTracker struct {
	store   TaskTrackerStore
	chatter Chatter
	model   bolt.ModelKey
}

// NewTaskTracker creates a TaskTracker asking model for each turn.
func NewTaskTracker(store TaskTrackerStore, chatter Chatter, model bolt.ModelKey) *TaskTracker {
	return &TaskTracker{store: store, chatter: chatter, model: model}
}

// Observe runs the tracking prompt for one completed turn and applies the
// resulting state transition. It never returns an error that should abort
// the turn — inference failures are reported but otherwise swallowed by
// the caller per spec.md §4.8 ("invoked synchronously"; tracking is best
// effort and must not fail the turn it piggybacks on).
func (t *TaskTracker) Observe(ctx context.Context, userText, assistantText string) error {
	reply, err := AskOnce(ctx, t.chatter, t.model, fmt.Sprintf(taskTrackerPrompt, userText, assistantText))
	if err != nil {
		return fmt.Errorf("task tracker inference: %w", err)
	}

	title, status, ok := parseTaskReply(reply)
	if !ok {
		return nil
	}

	switch status {
	case "active":
		if title == "" {
			return nil
		}
		_, err := t.store.SetActiveTask(title, "")
		return err
	case "done":
		active, exists, err := t.store.ActiveTask()
		if err != nil {
			return err
		}
		if !exists {
			return nil
		}
		return t.store.CompleteTask(active.ID, bolt.TaskDone)
	default:
		return nil
	}
}

// parseTaskReply extracts the TASK/STATUS lines from the model's reply.
// ok is false if neither line could be found.
func parseTaskReply(reply string) (title, status string, ok bool) {
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(strings.ToUpper(line), "TASK:"):
			v := strings.TrimSpace(line[len("TASK:"):])
			if !strings.EqualFold(v, "NONE") {
				title = v
			}
			ok = true
		case strings.HasPrefix(strings.ToUpper(line), "STATUS:"):
			status = strings.ToLower(strings.TrimSpace(line[len("STATUS:"):]))
			ok = true
		}
	}
	return title, status, ok
}
