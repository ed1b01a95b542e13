package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	bolt "github.com/Jamescode-cpt/bolt"
)

// DefaultProfileLearnerEveryNTurns is how often (in user turns) the learner
// fires (spec.md §4.8).
const DefaultProfileLearnerEveryNTurns = 5

// profileLearnerPrompt asks the small model for newly-learned facts as a
// JSON array, given the existing facts and the latest turn.
const profileLearnerPrompt = `Existing known facts about the user:
%s

Latest conversation turn:
User: %s
Assistant: %s

List any NEW facts learned about the user as a JSON array of objects with
keys "category", "key", "value", "confidence" (0.0-1.0). If nothing new was
learned, reply with an empty array: []`

// ProfileLearnerStore is the subset of the persistence layer ProfileLearner
// needs.
type ProfileLearnerStore interface {
	ProfileFacts() ([]bolt.ProfileFact, error)
	UpsertProfileFact(fact bolt.ProfileFact) error
}

// ProfileLearner spawns a detached inference call every Nth turn to extract
// new profile facts from the conversation so far.
type ProfileLearner struct {
	store      ProfileLearnerStore
	chatter    Chatter
	model      bolt.ModelKey
	everyNTurn int
	turnCount  int
}

// NewProfileLearner creates a ProfileLearner firing every everyNTurns user
// turns (0 or negative falls back to DefaultProfileLearnerEveryNTurns).
func NewProfileLearner(store ProfileLearnerStore, chatter Chatter, model bolt.ModelKey, everyNTurns int) *ProfileLearner {
	if everyNTurns <= 0 {
		everyNTurns = DefaultProfileLearnerEveryNTurns
	}
	return &ProfileLearner{store: store, chatter: chatter, model: model, everyNTurn: everyNTurns}
}

// OnTurn advances the turn counter and, if it crosses the configured
// multiple, spawns a detached goroutine to learn new facts. Returns
// immediately; the goroutine logs nothing by itself — callers that want
// observability should wrap Chatter.
func (p *ProfileLearner) OnTurn(ctx context.Context, userText, assistantText string) {
	p.turnCount++
	if p.turnCount%p.everyNTurn != 0 {
		return
	}
	detached := context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(detached, 60*time.Second)
		defer cancel()
		_ = p.learn(ctx, userText, assistantText)
	}()
}

func (p *ProfileLearner) learn(ctx context.Context, userText, assistantText string) error {
	existing, err := p.store.ProfileFacts()
	if err != nil {
		return err
	}

	reply, err := AskOnce(ctx, p.chatter, p.model, fmt.Sprintf(profileLearnerPrompt, renderFacts(existing), userText, assistantText))
	if err != nil {
		return fmt.Errorf("profile learner inference: %w", err)
	}

	facts, err := parseLearnedFacts(reply)
	if err != nil {
		return fmt.Errorf("parse learned facts: %w", err)
	}

	now := time.Now().Unix()
	for _, f := range facts {
		if f.Category == "" || f.Key == "" {
			continue
		}
		f.CreatedAt = now
		f.UpdatedAt = now
		f.Source = "profile_learner"
		if err := p.store.UpsertProfileFact(f); err != nil {
			return err
		}
	}
	return nil
}

func renderFacts(facts []bolt.ProfileFact) string {
	if len(facts) == 0 {
		return "(none yet)"
	}
	var b strings.Builder
	for _, f := range facts {
		fmt.Fprintf(&b, "- %s.%s = %s (confidence %.2f)\n", f.Category, f.Key, f.Value, f.Confidence)
	}
	return b.String()
}

// learnedFact is the wire shape of one element in the model's JSON array
// reply.
type learnedFact struct {
	Category   string  `json:"category"`
	Key        string  `json:"key"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// parseLearnedFacts extracts the first `[`...`]` span from reply (tolerating
// markdown code fences around it) and parses it as a JSON array.
func parseLearnedFacts(reply string) ([]bolt.ProfileFact, error) {
	start := strings.Index(reply, "[")
	end := strings.LastIndex(reply, "]")
	if start == -1 || end == -1 || end < start {
		return nil, fmt.Errorf("no JSON array found in reply")
	}
	raw := reply[start : end+1]

	var parsed []learnedFact
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, err
	}

	facts := make([]bolt.ProfileFact, len(parsed))
	for i, f := range parsed {
		facts[i] = bolt.ProfileFact{
			Category:   f.Category,
			Key:        f.Key,
			Value:      f.Value,
			Confidence: f.Confidence,
		}
	}
	return facts, nil
}
