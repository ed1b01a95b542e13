package bolt

import "regexp"

// toolCallPattern matches `<tool name="X">ARGS</tool>` with ARGS spanning
// newlines (DOTALL), per spec.md §4.2/§6.
var toolCallPattern = regexp.MustCompile(`(?s)<tool name="([^"]+)">(.*?)</tool>`)

// ParseToolCalls extracts tool calls from model output in call order and
// returns the text with all call markup stripped.
func ParseToolCalls(text string) ([]ToolCall, string) {
	matches := toolCallPattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return nil, text
	}

	calls := make([]ToolCall, 0, len(matches))
	var stripped []byte
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		nameStart, nameEnd := m[2], m[3]
		argsStart, argsEnd := m[4], m[5]
		stripped = append(stripped, text[last:start]...)
		calls = append(calls, ToolCall{Name: text[nameStart:nameEnd], Args: text[argsStart:argsEnd]})
		last = end
	}
	stripped = append(stripped, text[last:]...)

	return calls, string(stripped)
}
