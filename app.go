package bolt

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// AppStore is the persistence surface the Core facade reads and writes
// directly, beyond what the Turn Executor / Context Assembler / Pipeline
// already own (spec.md §6's CLI surface: format_status, format_timeline,
// format_memory, format_tasks, get_profile_display, clear_profile,
// save_session_snapshot all read or mutate rows the turn/pipeline path
// never touches).
type AppStore interface {
	RecentEvents(limit int) ([]TimelineEvent, error)
	ProfileFacts() ([]ProfileFact, error)
	ClearProfileFacts() error
	ActiveTask() (Task, bool, error)
	LatestSummary(sessionID string) (Summary, bool, error)
	RecentMessages(sessionID string, limit int) ([]Message, error)
	SaveSessionSnapshot(snap SessionSnapshot) error
	LogEvent(eventName, details string)
}

// DefaultTimelineWindow bounds format_timeline's default output size.
const DefaultTimelineWindow = 20

// Core is the single entry point external collaborators (a terminal REPL,
// a future web frontend) talk to. It is the "core" spec.md §6 refers to:
// slash commands are delegated here as plain operations. Core owns nothing
// the Turn Executor, Pipeline, or background workers already own — it only
// adds the small glue operations a driving surface needs (mode toggling,
// human-readable renders, session lifecycle, pipeline kickoff).
type Core struct {
	store    AppStore
	mode     *ModeState
	tools    *ToolRegistry
	pipeline *Pipeline

	mu          sync.Mutex
	sessionID   string
	lastPipeline *PipelineResult
}

// NewCore wires a Core from its collaborators and the session id to start
// on (use NewID() for a fresh one).
func NewCore(store AppStore, mode *ModeState, tools *ToolRegistry, pipeline *Pipeline, sessionID string) *Core {
	return &Core{store: store, mode: mode, tools: tools, pipeline: pipeline, sessionID: sessionID}
}

// SessionID returns the active session id.
func (c *Core) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// NewSessionID starts a fresh session (core op `new_session_id`) and
// returns its id. Callers that key per-session workers (Summarizer,
// TaskTracker, ProfileLearner) off the session id must restart them
// against the returned id.
func (c *Core) NewSessionID() string {
	id := NewID()
	c.mu.Lock()
	c.sessionID = id
	c.mu.Unlock()
	c.store.LogEvent("session_start", id)
	return id
}

// SetMode implements core op `set_mode`.
func (c *Core) SetMode(m Mode) {
	c.mode.Set(m)
	c.store.LogEvent("mode", string(m))
}

// GetMode implements core op `get_mode`.
func (c *Core) GetMode() Mode {
	return c.mode.Get()
}

// GetProfileDisplay implements core op `get_profile_display`: a
// human-readable rendering of every learned profile fact, grouped by
// category.
func (c *Core) GetProfileDisplay() (string, error) {
	facts, err := c.store.ProfileFacts()
	if err != nil {
		return "", fmt.Errorf("profile display: %w", err)
	}
	if len(facts) == 0 {
		return "No profile facts learned yet.", nil
	}
	var b strings.Builder
	for _, f := range facts {
		fmt.Fprintf(&b, "%s.%s = %s (confidence %.2f)\n", f.Category, f.Key, f.Value, f.Confidence)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// ClearProfile implements core op `clear_profile`.
func (c *Core) ClearProfile() error {
	if err := c.store.ClearProfileFacts(); err != nil {
		return err
	}
	c.store.LogEvent("profile_cleared", "")
	return nil
}

// FormatStatus implements core op `format_status`: current mode, session
// id, and whether a build pipeline is running.
func (c *Core) FormatStatus() string {
	var b strings.Builder
	fmt.Fprintf(&b, "session: %s\n", c.SessionID())
	fmt.Fprintf(&b, "mode: %s\n", c.GetMode())
	fmt.Fprintf(&b, "pipeline running: %v\n", c.IsPipelineRunning())
	if r := c.LastPipelineResult(); r != nil {
		fmt.Fprintf(&b, "last pipeline: success=%v output_dir=%s\n", r.Success, r.OutputDir)
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatTimeline implements core op `format_timeline`: the most recent
// timeline events, newest first. limit<=0 uses DefaultTimelineWindow.
func (c *Core) FormatTimeline(limit int) (string, error) {
	if limit <= 0 {
		limit = DefaultTimelineWindow
	}
	events, err := c.store.RecentEvents(limit)
	if err != nil {
		return "", fmt.Errorf("format timeline: %w", err)
	}
	if len(events) == 0 {
		return "No timeline events yet.", nil
	}
	var b strings.Builder
	for _, e := range events {
		fmt.Fprintf(&b, "[%d] %s: %s\n", e.Timestamp, e.EventName, e.Details)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// FormatMemory implements core op `format_memory`: the active session's
// latest summary plus the learned profile, the two long-term memory
// surfaces a user can inspect.
func (c *Core) FormatMemory() (string, error) {
	var b strings.Builder

	summary, ok, err := c.store.LatestSummary(c.SessionID())
	if err != nil {
		return "", fmt.Errorf("format memory: %w", err)
	}
	if ok {
		fmt.Fprintf(&b, "Summary (covers up to message %d):\n%s\n\n", summary.CoversUpToMessageID, summary.Text)
	} else {
		b.WriteString("No conversation summary yet.\n\n")
	}

	profile, err := c.GetProfileDisplay()
	if err != nil {
		return "", err
	}
	b.WriteString("Profile:\n")
	b.WriteString(profile)
	return b.String(), nil
}

// FormatTasks implements core op `format_tasks`: the singleton active task,
// if any (spec.md §3: at most one task with status=active globally).
func (c *Core) FormatTasks() (string, error) {
	task, ok, err := c.store.ActiveTask()
	if err != nil {
		return "", fmt.Errorf("format tasks: %w", err)
	}
	if !ok {
		return "No active task.", nil
	}
	return fmt.Sprintf("%s (status: %s)", task.Title, task.Status), nil
}

// ListTools implements core op `list_tools`.
func (c *Core) ListTools() []string {
	return c.tools.Names()
}

// IsPipelineRunning implements core op `is_pipeline_running`.
func (c *Core) IsPipelineRunning() bool {
	return c.pipeline.IsRunning()
}

// LastPipelineResult returns the most recently completed run's result, or
// nil if none has completed yet.
func (c *Core) LastPipelineResult() *PipelineResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPipeline
}

// RunPipeline implements core op `run_pipeline`: kicks off a build from the
// active session's recent conversation. Returns false immediately (without
// scheduling) if a pipeline is already in flight.
func (c *Core) RunPipeline(ctx context.Context) bool {
	sessionID := c.SessionID()
	c.store.LogEvent("pipeline_start", sessionID)
	return c.pipeline.RunPipeline(ctx, sessionID, func(result PipelineResult) {
		c.mu.Lock()
		c.lastPipeline = &result
		c.mu.Unlock()
		c.store.LogEvent("pipeline_done", fmt.Sprintf("success=%v output_dir=%s", result.Success, result.OutputDir))
	})
}

// SaveSessionSnapshot implements core op `save_session_snapshot` (spec.md
// §3: written on clean shutdown or /clear).
func (c *Core) SaveSessionSnapshot() error {
	sessionID := c.SessionID()
	messages, err := c.store.RecentMessages(sessionID, DefaultRecentWindow)
	if err != nil {
		return fmt.Errorf("save session snapshot: %w", err)
	}
	summaryText := ""
	if s, ok, err := c.store.LatestSummary(sessionID); err == nil && ok {
		summaryText = s.Text
	}
	snap := SessionSnapshot{
		SessionID:    sessionID,
		StartedAt:    NowUnix(),
		EndedAt:      NowUnix(),
		MessageCount: len(messages),
		Summary:      summaryText,
	}
	return c.store.SaveSessionSnapshot(snap)
}
