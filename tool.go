package bolt

import (
	"context"
	"fmt"
)

// maxToolResultLen is the truncation length for a tool result fed back to
// the model (spec.md §4.2).
const maxToolResultLen = 8000

// ToolHandler is a tool implementation: argument text in, result text out.
// Handlers may block (process spawn, file IO); Execute passes the caller's
// Context through unchanged, so each handler applies its own timeout.
type ToolHandler func(ctx context.Context, args string) (string, error)

// toolEntry pairs a handler with its human-readable description.
type toolEntry struct {
	handler     ToolHandler
	description string
}

// ToolRegistry maps name -> {handler, description} and dispatches parsed
// tool calls. Grounded on the teacher's name-keyed tool-registration idiom
// (tools/shell and tools/file each expose a Definitions()/Execute() pair
// registered by name), generalized into the spec's single flat registry.
type ToolRegistry struct {
	entries map[string]toolEntry
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{entries: make(map[string]toolEntry)}
}

// Register adds or replaces a named tool.
func (r *ToolRegistry) Register(name, description string, handler ToolHandler) {
	r.entries[name] = toolEntry{handler: handler, description: description}
}

// Names returns the registered tool names, for list_tools.
func (r *ToolRegistry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	return names
}

// Description returns a tool's description and whether it is registered.
func (r *ToolRegistry) Description(name string) (string, bool) {
	e, ok := r.entries[name]
	return e.description, ok
}

// Execute dispatches one parsed call. Lookup failure and handler panics/
// errors both convert to an (ok=false, message) pair; Execute never raises
// across its boundary (spec.md §4.2).
func (r *ToolRegistry) Execute(ctx context.Context, call ToolCall) ToolExecution {
	e, ok := r.entries[call.Name]
	if !ok {
		return ToolExecution{Name: call.Name, OK: false, Content: "Unknown tool: " + call.Name}
	}

	content, err := r.safeInvoke(ctx, e.handler, call.Args)
	if err != nil {
		return ToolExecution{Name: call.Name, OK: false, Content: "Tool error: " + err.Error()}
	}
	return ToolExecution{Name: call.Name, OK: true, Content: truncateResult(content)}
}

// safeInvoke recovers a panicking handler and converts it to an error,
// since handlers are third-party/plugin code the registry must not trust.
func (r *ToolRegistry) safeInvoke(ctx context.Context, h ToolHandler, args string) (result string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return h(ctx, args)
}

// truncateResult applies the spec's 8,000-character result cap with a
// visible marker (spec.md §4.2, §7 Capacity error kind).
func truncateResult(s string) string {
	if len(s) <= maxToolResultLen {
		return s
	}
	return s[:maxToolResultLen] + "\n(truncated)"
}

// FormatResult wraps a tool's result in <tool_result> markup for re-feeding
// to the model (spec.md §6).
func FormatResult(e ToolExecution) string {
	return fmt.Sprintf(`<tool_result name="%s">%s</tool_result>`, e.Name, e.Content)
}
