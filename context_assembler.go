package bolt

// DefaultMaxContextTokens is the default token budget for an assembled
// message list (spec.md §4.4). 1 token ≈ 4 chars.
const DefaultMaxContextTokens = 2000

// DefaultRecentWindow is the default number of recent messages fetched
// before budget-based trimming.
const DefaultRecentWindow = 50

// ContextStore is the subset of the persistence layer the ContextAssembler
// needs.
type ContextStore interface {
	LatestSummary(sessionID string) (Summary, bool, error)
	ActiveTask() (Task, bool, error)
	RecentMessages(sessionID string, limit int) ([]Message, error)
}

// ContextAssembler produces a token-budgeted message list for a turn,
// combining the identity briefing, latest summary, active task, and a
// recency window of messages (spec.md §4.4). Grounded on the oasis loop's
// rune/token accounting style (loop.go's messageRuneCount bookkeeping),
// adapted to the spec's fixed five-step algorithm.
type ContextAssembler struct {
	store            ContextStore
	identity         *IdentityBuilder
	maxContextTokens int
	recentWindow     int
}

// AssemblerOption configures a ContextAssembler.
type AssemblerOption func(*ContextAssembler)

// WithMaxContextTokens overrides DefaultMaxContextTokens.
func WithMaxContextTokens(n int) AssemblerOption {
	return func(a *ContextAssembler) { a.maxContextTokens = n }
}

// WithRecentWindow overrides DefaultRecentWindow.
func WithRecentWindow(n int) AssemblerOption {
	return func(a *ContextAssembler) { a.recentWindow = n }
}

// NewContextAssembler creates a ContextAssembler backed by store and identity.
func NewContextAssembler(store ContextStore, identity *IdentityBuilder, opts ...AssemblerOption) *ContextAssembler {
	a := &ContextAssembler{
		store:            store,
		identity:         identity,
		maxContextTokens: DefaultMaxContextTokens,
		recentWindow:     DefaultRecentWindow,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Assemble builds the ordered ChatMessage list for a turn. profile is the
// user-profile snapshot text to interpolate (already sanitized inside
// IdentityBuilder.Build).
//
// Algorithm (spec.md §4.4):
//  1. identity briefing as system; subtract its estimate from budget.
//  2. latest summary as system (if it fits).
//  3. active task as system (if it fits).
//  4. recent-message window, newest-first, prepended while it fits; stop at
//     first message that doesn't fit. Reversed back to chronological order.
//  5. tool/tool_result roles remapped to system; unknown roles to user.
func (a *ContextAssembler) Assemble(sessionID string, mode Mode, profile string) ([]ChatMessage, error) {
	identityText := a.identity.Build(mode, sessionID, profile)
	identityMsg := ChatMessage{Role: RoleSystem, Content: identityText}
	budget := a.maxContextTokens - EstimateTokens(identityText)

	out := []ChatMessage{identityMsg}

	if summary, ok, err := a.store.LatestSummary(sessionID); err != nil {
		return nil, err
	} else if ok {
		text := "[Conversation summary so far]: " + summary.Text
		if est := EstimateTokens(text); est <= budget {
			out = append(out, ChatMessage{Role: RoleSystem, Content: text})
			budget -= est
		}
	}

	if task, ok, err := a.store.ActiveTask(); err != nil {
		return nil, err
	} else if ok {
		text := "[Current task]: " + task.Title + " (status: " + task.Status + ")"
		if est := EstimateTokens(text); est <= budget {
			out = append(out, ChatMessage{Role: RoleSystem, Content: text})
			budget -= est
		}
	}

	recent, err := a.store.RecentMessages(sessionID, a.recentWindow)
	if err != nil {
		return nil, err
	}

	var selected []ChatMessage
	for i := len(recent) - 1; i >= 0; i-- {
		m := recent[i]
		role := remapRole(m.Role)
		est := m.TokenEstimate
		if est <= 0 {
			est = EstimateTokens(m.Content)
		}
		if est > budget {
			break
		}
		selected = append(selected, ChatMessage{Role: role, Content: m.Content})
		budget -= est
	}
	// selected was built newest-first; reverse to chronological order.
	for i, j := 0, len(selected)-1; i < j; i, j = i+1, j-1 {
		selected[i], selected[j] = selected[j], selected[i]
	}

	return append(out, selected...), nil
}

// remapRole maps persisted/internal roles onto the wire role whitelist
// {system, user, assistant} per spec.md §4.4 step 5.
func remapRole(role string) string {
	switch role {
	case RoleTool, RoleToolResult:
		return RoleSystem
	case RoleUser, RoleAssistant, RoleSystem:
		return role
	default:
		return RoleUser
	}
}

// TotalEstimate sums the token estimate of an assembled message list, for
// checking budget safety (spec.md §8 property 4). Nothing in this module
// calls it.
func TotalEstimate(messages []ChatMessage) int {
	var n int
	for _, m := range messages {
		n += EstimateTokens(m.Content)
	}
	return n
}
