package bolt

import "strings"

// NormalizeMessages applies the Inference Client's shared normalization
// rules (spec.md §4.1): roles outside {system, user, assistant} are remapped
// to user, empty-content messages are dropped, and consecutive same-role
// non-system messages are merged with a newline separator.
func NormalizeMessages(messages []ChatMessage) []ChatMessage {
	var out []ChatMessage
	for _, m := range messages {
		role := m.Role
		switch role {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			role = RoleUser
		}
		if m.Content == "" {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == role && role != RoleSystem {
			out[n-1].Content = out[n-1].Content + "\n" + m.Content
			continue
		}
		out = append(out, ChatMessage{Role: role, Content: m.Content})
	}
	return out
}

// ReducedContext keeps only the first system message and the last user
// message, the fallback context sent on a local-backend retry (spec.md
// §4.1).
func ReducedContext(messages []ChatMessage) []ChatMessage {
	var reduced []ChatMessage
	for _, m := range messages {
		if m.Role == RoleSystem {
			reduced = append(reduced, m)
			break
		}
	}
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			reduced = append(reduced, messages[i])
			break
		}
	}
	return reduced
}

// ConcatSystem joins every system message's content with a blank line, for
// backends (Anthropic) that carry system content in a separate field rather
// than in-list.
func ConcatSystem(messages []ChatMessage) string {
	var parts []string
	for _, m := range messages {
		if m.Role == RoleSystem {
			parts = append(parts, m.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}

// DropSystem returns messages with system-role entries removed.
func DropSystem(messages []ChatMessage) []ChatMessage {
	var out []ChatMessage
	for _, m := range messages {
		if m.Role != RoleSystem {
			out = append(out, m)
		}
	}
	return out
}
