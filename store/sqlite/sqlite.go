// Package sqlite implements BOLT's persistence layer using pure-Go SQLite.
// Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	bolt "github.com/Jamescode-cpt/bolt"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store. When set, the store
// emits debug logs when it is opened, around Init (with timing), and for
// SaveMessage, plus error logs from SaveMessage and LogEvent; the other
// operations log nothing. If not set, no logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements BOLT's persistence surface (messages, summaries, tasks,
// timeline events, key-value state, session snapshots, profile facts, and
// context handoffs) backed by a single local SQLite file.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var (
	_ bolt.ContextStore = (*Store)(nil)
	_ bolt.HandoffStore = (*Store)(nil)
	_ bolt.TurnStore    = (*Store)(nil)
)

// nopLogger is a logger that discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Store using a local SQLite file at dbPath. It opens a single
// connection pool with SetMaxOpenConns(1) so that all goroutines (the Turn
// Executor, each background worker, the Pipeline) serialize through one
// connection, eliminating SQLITE_BUSY errors from concurrent writers.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// DB exposes the underlying connection pool, e.g. for a future collaborator
// that needs to share it.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the underlying connection.
func (s *Store) Close() error { return s.db.Close() }

// Init creates all required tables and indexes.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	s.logger.Debug("sqlite: init started")

	if _, err := s.db.ExecContext(ctx, `PRAGMA journal_mode=WAL`); err != nil {
		return fmt.Errorf("enable WAL: %w", err)
	}

	tables := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			token_estimate INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS summaries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			text TEXT NOT NULL,
			covers_up_to_message_id INTEGER NOT NULL,
			token_estimate INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			title TEXT NOT NULL,
			status TEXT NOT NULL,
			context_json TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS timeline_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp INTEGER NOT NULL,
			event_name TEXT NOT NULL,
			details TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS key_values (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS session_snapshots (
			session_id TEXT PRIMARY KEY,
			started_at INTEGER NOT NULL,
			ended_at INTEGER NOT NULL,
			message_count INTEGER NOT NULL,
			summary TEXT NOT NULL DEFAULT '',
			compressed_context TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS profile_facts (
			category TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			confidence REAL NOT NULL DEFAULT 0,
			source TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (category, key)
		)`,
		`CREATE TABLE IF NOT EXISTS context_handoffs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp INTEGER NOT NULL,
			from_model TEXT NOT NULL,
			to_model TEXT NOT NULL,
			text TEXT NOT NULL,
			session_id TEXT NOT NULL
		)`,
	}
	for _, ddl := range tables {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, id)`,
		`CREATE INDEX IF NOT EXISTS idx_summaries_session ON summaries(session_id, covers_up_to_message_id)`,
		`CREATE INDEX IF NOT EXISTS idx_handoffs_session ON context_handoffs(session_id, id)`,
	}
	for _, ddl := range indexes {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}

	s.logger.Info("sqlite: init completed", "duration", time.Since(start))
	return nil
}

// SaveMessage persists one conversation event and returns it with its
// assigned id and token estimate (spec.md §3, §4.7).
func (s *Store) SaveMessage(sessionID, role, content string) (bolt.Message, error) {
	start := time.Now()
	msg := bolt.Message{
		SessionID:     sessionID,
		Timestamp:     bolt.NowUnix(),
		Role:          role,
		Content:       content,
		TokenEstimate: bolt.EstimateTokens(content),
	}
	res, err := s.db.Exec(
		`INSERT INTO messages (session_id, timestamp, role, content, token_estimate) VALUES (?, ?, ?, ?, ?)`,
		msg.SessionID, msg.Timestamp, msg.Role, msg.Content, msg.TokenEstimate,
	)
	if err != nil {
		s.logger.Error("sqlite: save message failed", "session_id", sessionID, "error", err, "duration", time.Since(start))
		return bolt.Message{}, fmt.Errorf("save message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return bolt.Message{}, fmt.Errorf("save message: last insert id: %w", err)
	}
	msg.ID = id
	s.logger.Debug("sqlite: save message ok", "id", id, "session_id", sessionID, "role", role, "duration", time.Since(start))
	return msg, nil
}

// RecentMessages returns the most recent messages for a session, ordered
// chronologically (oldest first), at most limit of them.
func (s *Store) RecentMessages(sessionID string, limit int) ([]bolt.Message, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, timestamp, role, content, token_estimate
		 FROM messages WHERE session_id = ? ORDER BY id DESC LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	defer rows.Close()

	var messages []bolt.Message
	for rows.Next() {
		var m bolt.Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Timestamp, &m.Role, &m.Content, &m.TokenEstimate); err != nil {
			return nil, fmt.Errorf("recent messages: scan: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recent messages: iterate: %w", err)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// UnsummarizedMessages returns messages for sessionID with id greater than
// afterMessageID, chronological order. Used by the Summarizer worker.
func (s *Store) UnsummarizedMessages(sessionID string, afterMessageID int64) ([]bolt.Message, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, timestamp, role, content, token_estimate
		 FROM messages WHERE session_id = ? AND id > ? ORDER BY id ASC`,
		sessionID, afterMessageID,
	)
	if err != nil {
		return nil, fmt.Errorf("unsummarized messages: %w", err)
	}
	defer rows.Close()

	var messages []bolt.Message
	for rows.Next() {
		var m bolt.Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Timestamp, &m.Role, &m.Content, &m.TokenEstimate); err != nil {
			return nil, fmt.Errorf("unsummarized messages: scan: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// LatestSummary returns a session's most recent summary, if any.
func (s *Store) LatestSummary(sessionID string) (bolt.Summary, bool, error) {
	row := s.db.QueryRow(
		`SELECT id, session_id, timestamp, text, covers_up_to_message_id, token_estimate
		 FROM summaries WHERE session_id = ? ORDER BY covers_up_to_message_id DESC LIMIT 1`,
		sessionID,
	)
	var sm bolt.Summary
	err := row.Scan(&sm.ID, &sm.SessionID, &sm.Timestamp, &sm.Text, &sm.CoversUpToMessageID, &sm.TokenEstimate)
	if err == sql.ErrNoRows {
		return bolt.Summary{}, false, nil
	}
	if err != nil {
		return bolt.Summary{}, false, fmt.Errorf("latest summary: %w", err)
	}
	return sm, true, nil
}

// SaveSummary inserts a new summary. CoversUpToMessageID must strictly
// exceed every prior summary's for the session (spec.md §3); the caller
// (Summarizer worker) is responsible for that invariant.
func (s *Store) SaveSummary(sessionID, text string, coversUpToMessageID int64) (bolt.Summary, error) {
	sm := bolt.Summary{
		SessionID:           sessionID,
		Timestamp:           bolt.NowUnix(),
		Text:                text,
		CoversUpToMessageID: coversUpToMessageID,
		TokenEstimate:       bolt.EstimateTokens(text),
	}
	res, err := s.db.Exec(
		`INSERT INTO summaries (session_id, timestamp, text, covers_up_to_message_id, token_estimate) VALUES (?, ?, ?, ?, ?)`,
		sm.SessionID, sm.Timestamp, sm.Text, sm.CoversUpToMessageID, sm.TokenEstimate,
	)
	if err != nil {
		return bolt.Summary{}, fmt.Errorf("save summary: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return bolt.Summary{}, fmt.Errorf("save summary: last insert id: %w", err)
	}
	sm.ID = id
	return sm, nil
}

// ActiveTask returns the single globally-active task, if any.
func (s *Store) ActiveTask() (bolt.Task, bool, error) {
	row := s.db.QueryRow(
		`SELECT id, created_at, updated_at, title, status, context_json
		 FROM tasks WHERE status = ? ORDER BY updated_at DESC LIMIT 1`,
		bolt.TaskActive,
	)
	var t bolt.Task
	err := row.Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt, &t.Title, &t.Status, &t.ContextJSON)
	if err == sql.ErrNoRows {
		return bolt.Task{}, false, nil
	}
	if err != nil {
		return bolt.Task{}, false, fmt.Errorf("active task: %w", err)
	}
	return t, true, nil
}

// SetActiveTask upserts the singleton active task: if a task is already
// active its title and context are updated in place (keeping its id and
// created_at), otherwise a new active task is inserted, keeping the "at
// most one active task" invariant (spec.md §3).
func (s *Store) SetActiveTask(title, contextJSON string) (bolt.Task, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return bolt.Task{}, fmt.Errorf("set active task: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := bolt.NowUnix()
	var activeID, createdAt int64
	err = tx.QueryRow(`SELECT id, created_at FROM tasks WHERE status = ? LIMIT 1`, bolt.TaskActive).Scan(&activeID, &createdAt)
	if err == nil {
		if _, err := tx.Exec(`UPDATE tasks SET title = ?, context_json = ?, updated_at = ? WHERE id = ?`, title, contextJSON, now, activeID); err != nil {
			return bolt.Task{}, fmt.Errorf("set active task: update: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return bolt.Task{}, fmt.Errorf("set active task: commit: %w", err)
		}
		return bolt.Task{ID: activeID, CreatedAt: createdAt, UpdatedAt: now, Title: title, Status: bolt.TaskActive, ContextJSON: contextJSON}, nil
	} else if err != sql.ErrNoRows {
		return bolt.Task{}, fmt.Errorf("set active task: find active: %w", err)
	}

	res, err := tx.Exec(
		`INSERT INTO tasks (created_at, updated_at, title, status, context_json) VALUES (?, ?, ?, ?, ?)`,
		now, now, title, bolt.TaskActive, contextJSON,
	)
	if err != nil {
		return bolt.Task{}, fmt.Errorf("set active task: insert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return bolt.Task{}, fmt.Errorf("set active task: last insert id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return bolt.Task{}, fmt.Errorf("set active task: commit: %w", err)
	}
	return bolt.Task{ID: id, CreatedAt: now, UpdatedAt: now, Title: title, Status: bolt.TaskActive, ContextJSON: contextJSON}, nil
}

// CompleteTask marks id's status (done or failed) and bumps updated_at.
func (s *Store) CompleteTask(id int64, status string) error {
	_, err := s.db.Exec(`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`, status, bolt.NowUnix(), id)
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	return nil
}

// LogEvent appends a timeline event. Failures are logged, never returned:
// the timeline is diagnostic, not load-bearing (spec.md §4.8).
func (s *Store) LogEvent(eventName, details string) {
	_, err := s.db.Exec(
		`INSERT INTO timeline_events (timestamp, event_name, details) VALUES (?, ?, ?)`,
		bolt.NowUnix(), eventName, details,
	)
	if err != nil {
		s.logger.Error("sqlite: log event failed", "event", eventName, "error", err)
	}
}

// RecentEvents returns the most recent timeline events, newest first.
func (s *Store) RecentEvents(limit int) ([]bolt.TimelineEvent, error) {
	rows, err := s.db.Query(
		`SELECT id, timestamp, event_name, details FROM timeline_events ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}
	defer rows.Close()

	var events []bolt.TimelineEvent
	for rows.Next() {
		var e bolt.TimelineEvent
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.EventName, &e.Details); err != nil {
			return nil, fmt.Errorf("recent events: scan: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetKeyValue reads a small process-wide state value.
func (s *Store) GetKeyValue(key string) (string, bool, error) {
	row := s.db.QueryRow(`SELECT value FROM key_values WHERE key = ?`, key)
	var v string
	err := row.Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get key value: %w", err)
	}
	return v, true, nil
}

// SetKeyValue upserts a small process-wide state value.
func (s *Store) SetKeyValue(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO key_values (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, bolt.NowUnix(),
	)
	if err != nil {
		return fmt.Errorf("set key value: %w", err)
	}
	return nil
}

// SaveSessionSnapshot upserts the snapshot written on clean shutdown or /clear.
func (s *Store) SaveSessionSnapshot(snap bolt.SessionSnapshot) error {
	_, err := s.db.Exec(
		`INSERT INTO session_snapshots (session_id, started_at, ended_at, message_count, summary, compressed_context)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
			ended_at = excluded.ended_at,
			message_count = excluded.message_count,
			summary = excluded.summary,
			compressed_context = excluded.compressed_context`,
		snap.SessionID, snap.StartedAt, snap.EndedAt, snap.MessageCount, snap.Summary, snap.CompressedContext,
	)
	if err != nil {
		return fmt.Errorf("save session snapshot: %w", err)
	}
	return nil
}

// UpsertProfileFact writes a learned fact. Per spec.md §3, the incoming
// write wins when its confidence is >= the existing one (freshness breaks
// ties).
func (s *Store) UpsertProfileFact(fact bolt.ProfileFact) error {
	row := s.db.QueryRow(`SELECT confidence FROM profile_facts WHERE category = ? AND key = ?`, fact.Category, fact.Key)
	var existing float64
	err := row.Scan(&existing)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("upsert profile fact: check existing: %w", err)
	}
	if err == nil && existing > fact.Confidence {
		return nil
	}

	now := bolt.NowUnix()
	if fact.CreatedAt == 0 {
		fact.CreatedAt = now
	}
	_, err = s.db.Exec(
		`INSERT INTO profile_facts (category, key, value, confidence, source, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(category, key) DO UPDATE SET
			value = excluded.value,
			confidence = excluded.confidence,
			source = excluded.source,
			updated_at = excluded.updated_at`,
		fact.Category, fact.Key, fact.Value, fact.Confidence, fact.Source, fact.CreatedAt, now,
	)
	if err != nil {
		return fmt.Errorf("upsert profile fact: %w", err)
	}
	return nil
}

// ProfileFacts returns every learned fact, in no particular order; callers
// render them into the profile snapshot text fed to the Identity Builder.
func (s *Store) ProfileFacts() ([]bolt.ProfileFact, error) {
	rows, err := s.db.Query(`SELECT category, key, value, confidence, source, created_at, updated_at FROM profile_facts`)
	if err != nil {
		return nil, fmt.Errorf("profile facts: %w", err)
	}
	defer rows.Close()

	var facts []bolt.ProfileFact
	for rows.Next() {
		var f bolt.ProfileFact
		if err := rows.Scan(&f.Category, &f.Key, &f.Value, &f.Confidence, &f.Source, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("profile facts: scan: %w", err)
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

// ClearProfileFacts deletes every learned fact (core op `clear_profile`).
func (s *Store) ClearProfileFacts() error {
	if _, err := s.db.Exec(`DELETE FROM profile_facts`); err != nil {
		return fmt.Errorf("clear profile facts: %w", err)
	}
	return nil
}

// SaveHandoff appends a context handoff (append-only; spec.md §3).
func (s *Store) SaveHandoff(sessionID, fromModel, toModel, text string) error {
	_, err := s.db.Exec(
		`INSERT INTO context_handoffs (timestamp, from_model, to_model, text, session_id) VALUES (?, ?, ?, ?, ?)`,
		bolt.NowUnix(), fromModel, toModel, text, sessionID,
	)
	if err != nil {
		return fmt.Errorf("save handoff: %w", err)
	}
	return nil
}

// LatestHandoff returns the most recent handoff for a session, if any.
func (s *Store) LatestHandoff(sessionID string) (bolt.ContextHandoff, bool, error) {
	row := s.db.QueryRow(
		`SELECT id, timestamp, from_model, to_model, text, session_id
		 FROM context_handoffs WHERE session_id = ? ORDER BY id DESC LIMIT 1`,
		sessionID,
	)
	var h bolt.ContextHandoff
	err := row.Scan(&h.ID, &h.Timestamp, &h.FromModel, &h.ToModel, &h.Text, &h.SessionID)
	if err == sql.ErrNoRows {
		return bolt.ContextHandoff{}, false, nil
	}
	if err != nil {
		return bolt.ContextHandoff{}, false, fmt.Errorf("latest handoff: %w", err)
	}
	return h, true, nil
}
