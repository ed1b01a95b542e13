package bolt

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// maxSanitizedLen is the mandatory truncation length for user-derived
// strings interpolated into the identity briefing (spec.md §4.5).
const maxSanitizedLen = 2000

// sanitize strips template re-injection and stored tool-call markup from a
// user-derived string, then truncates it. Grounded on guardrail.go's
// InjectionGuard pre-pass (zero-width strip + NFKC normalize) generalized
// into the mandatory identity-briefing sanitizer: (a) strip '{'/'}' so the
// value cannot re-open a template placeholder, (b) neutralize '<tool'/
// '</tool' openings so stored text cannot replay as a tool call, (c)
// truncate to maxSanitizedLen runes. Every string interpolated into the
// identity template MUST pass through this function.
func sanitize(s string) string {
	cleaned := zeroWidth.Replace(s)
	cleaned = norm.NFKC.String(cleaned)

	var b strings.Builder
	for _, r := range cleaned {
		if r == '{' || r == '}' {
			continue
		}
		b.WriteRune(r)
	}
	cleaned = b.String()

	cleaned = strings.ReplaceAll(cleaned, "<tool", "&lt;tool")
	cleaned = strings.ReplaceAll(cleaned, "</tool", "&lt;/tool")

	return truncateRunes(cleaned, maxSanitizedLen)
}

// zeroWidth strips Unicode zero-width/invisible characters used for
// sanitizer-evasion obfuscation, grounded on guardrail.go's
// zeroWidthChars replacer.
var zeroWidth = strings.NewReplacer(
	"​", "",
	"‌", "",
	"‍", "",
	"﻿", "",
	"⁠", "",
	"᠎", "",
	"­", "",
)

func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// selfDescription is BOLT's static capability/tool-vocabulary template.
const selfDescription = `You are BOLT, a local multi-model AI companion running on the user's own machine.
You route between several language models depending on the task, remember who the user
is across conversations, and can act on the user's behalf using a small set of sandboxed
tools (shell, read_file, write_file, edit_file, list_files, python_exec, and any tools
loaded from the plugin directory). Tool calls are emitted inline as
<tool name="NAME">ARGS</tool>; results come back wrapped in <tool_result name="NAME">.`

// IdentityBuilder composes the system briefing fed to every turn. Inputs:
// mode, optional session id, user profile snapshot, and the latest handoff
// for the session (if any). Grounded on the functional-composition style of
// agent.go's option builders, adapted into a typed builder per spec.md §9's
// redesign flag (no template placeholders evaluated against user strings).
type IdentityBuilder struct {
	store HandoffStore
}

// HandoffStore is the subset of the persistence layer the IdentityBuilder
// needs to fetch the latest context handoff for a session.
type HandoffStore interface {
	LatestHandoff(sessionID string) (ContextHandoff, bool, error)
}

// NewIdentityBuilder creates an IdentityBuilder backed by store.
func NewIdentityBuilder(store HandoffStore) *IdentityBuilder {
	return &IdentityBuilder{store: store}
}

// modeSuffix returns the mode-specific suffix fragment for the briefing.
func modeSuffix(mode Mode) string {
	switch mode {
	case ModeCode:
		return "You are in code mode: prefer using read_file/write_file/edit_file/shell tools over describing changes in prose, and verify your edits when possible."
	case ModeBuild:
		return "You are in build mode: a background pipeline is constructing a project from the recent conversation. Acknowledge progress briefly; do not attempt to write the project files yourself."
	default:
		return "You are in companion mode: a warm, attentive conversational partner. Use tools only when the user's request clearly calls for one."
	}
}

// Build assembles the system briefing as a single string. profile is the
// caller-supplied user-profile snapshot (already rendered to text by the
// Identity & memory relay); both profile and any stored handoff text are
// sanitized before interpolation — this is mandatory, never skip it.
func (b *IdentityBuilder) Build(mode Mode, sessionID, profile string) string {
	var sb strings.Builder
	sb.WriteString(selfDescription)
	sb.WriteString("\n\n")

	if profile != "" {
		sb.WriteString("What you know about the user:\n")
		sb.WriteString(sanitize(profile))
		sb.WriteString("\n\n")
	}

	sb.WriteString(modeSuffix(mode))

	if b.store != nil && sessionID != "" {
		if h, ok, err := b.store.LatestHandoff(sessionID); err == nil && ok {
			fmt.Fprintf(&sb, "\n\n[Handoff from previous brain region (%s)]: %s", h.FromModel, sanitize(h.Text))
		}
	}

	return sb.String()
}
