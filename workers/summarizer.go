package workers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	bolt "github.com/Jamescode-cpt/bolt"
)

// DefaultSummarizerInterval is the polling cadence (spec.md §4.8).
const DefaultSummarizerInterval = 15 * time.Second

// DefaultSummarizerThreshold is the minimum unsummarized-message count that
// triggers a new summary.
const DefaultSummarizerThreshold = 20

// summarizePrompt renders the unsummarized transcript for the small model.
const summarizePrompt = `Summarize this conversation excerpt in a few sentences, preserving names, facts, and decisions the assistant should remember.

%s`

// SummarizerStore is the subset of the persistence layer Summarizer needs.
type SummarizerStore interface {
	UnsummarizedMessages(sessionID string, afterMessageID int64) ([]bolt.Message, error)
	LatestSummary(sessionID string) (bolt.Summary, bool, error)
	SaveSummary(sessionID, text string, coversUpToMessageID int64) (bolt.Summary, error)
}

// Summarizer periodically condenses a session's unsummarized tail into a
// new Summary row once the backlog crosses a threshold.
type Summarizer struct {
	store     SummarizerStore
	chatter   Chatter
	model     bolt.ModelKey
	sessionID string
	interval  time.Duration
	threshold int
	logger    *slog.Logger

	force chan chan error
	stop  chan struct{}
	done  chan struct{}
}

// SummarizerOption configures a Summarizer.
type SummarizerOption func(*Summarizer)

// WithSummarizerInterval overrides DefaultSummarizerInterval.
func WithSummarizerInterval(d time.Duration) SummarizerOption {
	return func(s *Summarizer) { s.interval = d }
}

// WithSummarizerThreshold overrides DefaultSummarizerThreshold.
func WithSummarizerThreshold(n int) SummarizerOption {
	return func(s *Summarizer) { s.threshold = n }
}

// WithSummarizerLogger overrides the default discard logger.
func WithSummarizerLogger(l *slog.Logger) SummarizerOption {
	return func(s *Summarizer) { s.logger = l }
}

// NewSummarizer creates a Summarizer for sessionID, asking model for each
// condensation.
func NewSummarizer(store SummarizerStore, chatter Chatter, model bolt.ModelKey, sessionID string, opts ...SummarizerOption) *Summarizer {
	s := &Summarizer{
		store:     store,
		chatter:   chatter,
		model:     model,
		sessionID: sessionID,
		interval:  DefaultSummarizerInterval,
		threshold: DefaultSummarizerThreshold,
		logger:    nopLogger(),
		force:     make(chan chan error),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run blocks, polling every interval until ctx is cancelled or Stop is
// called.
func (s *Summarizer) Run(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case reply := <-s.force:
			reply <- s.cycle(ctx)
		case <-ticker.C:
			if err := s.cycle(ctx); err != nil {
				s.logger.Warn("summarizer cycle failed", "session", s.sessionID, "error", err)
			}
		}
	}
}

// Stop signals Run to exit and waits for it to return.
func (s *Summarizer) Stop() {
	close(s.stop)
	<-s.done
}

// ForceSummarize runs one cycle immediately and waits for it to complete,
// for use at shutdown (spec.md §4.8's "exposes force_summarize()").
func (s *Summarizer) ForceSummarize(ctx context.Context) error {
	reply := make(chan error, 1)
	select {
	case s.force <- reply:
		return <-reply
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return fmt.Errorf("summarizer already stopped")
	}
}

func (s *Summarizer) cycle(ctx context.Context) error {
	var afterID int64
	if latest, ok, err := s.store.LatestSummary(s.sessionID); err != nil {
		return err
	} else if ok {
		afterID = latest.CoversUpToMessageID
	}

	pending, err := s.store.UnsummarizedMessages(s.sessionID, afterID)
	if err != nil {
		return err
	}
	if len(pending) < s.threshold {
		return nil
	}

	transcript := renderTranscript(pending)
	text, err := AskOnce(ctx, s.chatter, s.model, fmt.Sprintf(summarizePrompt, transcript))
	if err != nil {
		return fmt.Errorf("summarize: %w", err)
	}

	coversUpTo := pending[len(pending)-1].ID
	if _, err := s.store.SaveSummary(s.sessionID, strings.TrimSpace(text), coversUpTo); err != nil {
		return fmt.Errorf("save summary: %w", err)
	}
	s.logger.Info("summarized", "session", s.sessionID, "covers_up_to", coversUpTo, "messages", len(pending))
	return nil
}

func renderTranscript(messages []bolt.Message) string {
	var b strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	return b.String()
}
