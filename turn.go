package bolt

import (
	"context"
	"fmt"
	"strings"
)

// MaxToolLoops bounds the Turn Executor's tool-calling loop (spec.md §4.7,
// §8 property 7).
const MaxToolLoops = 25

// toolResultMessageCap is how much of a tool result is persisted verbatim
// in the tool_result message (spec.md §4.7 step 5c).
const toolResultMessageCap = 500

// InferenceClient streams a chat completion for a logical model key.
// Implementations (provider/local, provider/remote) normalize messages,
// merge consecutive same-role turns, and translate backend failures into
// StreamEvent{Kind: StreamError} rather than raising (spec.md §4.1).
type InferenceClient interface {
	Chat(ctx context.Context, model ModelKey, messages []ChatMessage) <-chan StreamEvent
}

// TurnStore is the persistence surface the Turn Executor writes through.
type TurnStore interface {
	SaveMessage(sessionID, role, content string) (Message, error)
	LogEvent(eventName, details string)
}

// StreamSink receives text chunks from the first streamed inference call of
// a turn (spec.md §4.7 step 5a; the Open Question in spec.md §9 permits
// accumulating silently on later iterations, which is what this executor
// does).
type StreamSink func(chunk string)

// TurnExecutor orchestrates classify → assemble → stream → tool-loop →
// persist for one user turn (spec.md §4.7). Grounded on loop.go's runLoop:
// bounded iteration count, sequential tool dispatch within an iteration,
// usage/text accumulation, and a persist-on-every-exit-path discipline.
type TurnExecutor struct {
	store      TurnStore
	router     *Router
	assembler  *ContextAssembler
	tools      *ToolRegistry
	inference  InferenceClient
	mode       *ModeState
	maxLoops   int
}

// NewTurnExecutor wires the five collaborators a turn needs.
func NewTurnExecutor(store TurnStore, router *Router, assembler *ContextAssembler, tools *ToolRegistry, inference InferenceClient, mode *ModeState) *TurnExecutor {
	return &TurnExecutor{
		store:     store,
		router:    router,
		assembler: assembler,
		tools:     tools,
		inference: inference,
		mode:      mode,
		maxLoops:  MaxToolLoops,
	}
}

// ProcessMessage runs one full turn and returns the assistant's final text.
func (t *TurnExecutor) ProcessMessage(ctx context.Context, sessionID, userText string, sink StreamSink) (string, error) {
	if _, err := t.store.SaveMessage(sessionID, RoleUser, userText); err != nil {
		return "", fmt.Errorf("persist user message: %w", err)
	}

	category := t.router.Classify(ctx, userText)
	t.store.LogEvent("route", fmt.Sprintf("%s -> %s", category, pickedModelLabel(category, t.mode.Get(), cloudAvailableFromCtx(ctx))))

	model := PickModel(category, t.mode.Get(), cloudAvailableFromCtx(ctx))
	effectiveMode := EffectiveMode(category)

	profile := profileFromContext(ctx)
	messages, err := t.assembler.Assemble(sessionID, effectiveMode, profile)
	if err != nil {
		return "", fmt.Errorf("assemble context: %w", err)
	}

	var accumulated strings.Builder
	maxLoops := t.maxLoops
	if maxLoops <= 0 {
		maxLoops = MaxToolLoops
	}

	for iter := 0; iter < maxLoops; iter++ {
		var sb strings.Builder
		var streamErr error
		streamTo := sink
		if iter > 0 {
			streamTo = nil // only the first iteration streams to the caller
		}
		for ev := range t.inference.Chat(ctx, model, messages) {
			switch ev.Kind {
			case StreamText:
				sb.WriteString(ev.Text)
				if streamTo != nil {
					streamTo(ev.Text)
				}
			case StreamError:
				sb.WriteString(ev.Text)
				streamErr = ev.Err
			}
		}
		_ = streamErr // inference errors surface as bracketed text, never raised (spec.md §4.7)

		reply := sb.String()
		calls, stripped := ParseToolCalls(reply)
		if len(calls) == 0 {
			accumulated.WriteString(stripped)
			break
		}

		messages = append(messages, ChatMessage{Role: RoleAssistant, Content: reply})

		var results []ToolExecution
		for _, call := range calls {
			res := t.tools.Execute(ctx, call)
			results = append(results, res)
			if _, err := t.store.SaveMessage(sessionID, RoleTool, "Called "+call.Name); err != nil {
				t.store.LogEvent("error", "persist tool message: "+err.Error())
			}
			resultText := res.Content
			if len(resultText) > toolResultMessageCap {
				resultText = resultText[:toolResultMessageCap]
			}
			if _, err := t.store.SaveMessage(sessionID, RoleToolResult, resultText); err != nil {
				t.store.LogEvent("error", "persist tool_result message: "+err.Error())
			}
		}

		var formatted strings.Builder
		for _, r := range results {
			formatted.WriteString(FormatResult(r))
			formatted.WriteString("\n")
		}
		messages = append(messages, ChatMessage{Role: RoleUser, Content: "Tool results:\n" + formatted.String()})

		accumulated.WriteString(stripped)
	}

	final := accumulated.String()
	if _, err := t.store.SaveMessage(sessionID, RoleAssistant, final); err != nil {
		return final, fmt.Errorf("persist assistant message: %w", err)
	}
	t.store.LogEvent("response", fmt.Sprintf("model=%s len=%d", model, len(final)))

	return final, nil
}

func pickedModelLabel(category Category, mode Mode, cloudAvailable bool) ModelKey {
	return PickModel(category, mode, cloudAvailable)
}

// ModeState is the process-wide chat mode, a typed state object with
// get/set (spec.md §9 redesign flag: replaces a mutable module-global).
// Safe for concurrent use.
type ModeState struct {
	ch chan Mode
	cur Mode
}

// NewModeState creates a ModeState starting in ModeCompanion.
func NewModeState() *ModeState {
	m := &ModeState{ch: make(chan Mode, 1)}
	m.ch <- ModeCompanion
	return m
}

// Get returns the current mode.
func (m *ModeState) Get() Mode {
	mode := <-m.ch
	m.ch <- mode
	return mode
}

// Set updates the current mode and returns the previous one (so callers —
// notably the Pipeline — can restore it on completion).
func (m *ModeState) Set(mode Mode) Mode {
	prev := <-m.ch
	m.ch <- mode
	return prev
}

// contextKey is an unexported type for context values this package defines,
// avoiding collisions with other packages' context keys.
type contextKey int

const (
	cloudAvailableKey contextKey = iota
	profileKey
)

// WithCloudAvailable attaches the current cloud-reachability flag to ctx.
func WithCloudAvailable(ctx context.Context, available bool) context.Context {
	return context.WithValue(ctx, cloudAvailableKey, available)
}

func cloudAvailableFromCtx(ctx context.Context) bool {
	v, _ := ctx.Value(cloudAvailableKey).(bool)
	return v
}

// WithProfile attaches a rendered user-profile snapshot to ctx for the
// Identity Builder to interpolate (already unsanitized; IdentityBuilder.Build
// sanitizes it before use).
func WithProfile(ctx context.Context, profile string) context.Context {
	return context.WithValue(ctx, profileKey, profile)
}

func profileFromContext(ctx context.Context) string {
	v, _ := ctx.Value(profileKey).(string)
	return v
}
