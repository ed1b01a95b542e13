// Package shell implements the sandboxed "shell" built-in tool: run a
// command under the sandbox's home confinement and blocklist, and feed
// stdout+stderr back to the model.
package shell

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	bolt "github.com/Jamescode-cpt/bolt"
)

// DefaultTimeout is the tool's execution timeout (spec.md §5, tools default
// to 120s). Every call uses it; Tool has no way to change it.
const DefaultTimeout = 120 * time.Second

// maxOutputLen truncates combined stdout/stderr before it is returned to
// the model (the Tool Registry applies its own 8,000-char cap on top).
const maxOutputLen = 4000

// Tool runs shell commands inside a Sandbox's confined home directory.
// Grounded on tools/shell_old/shell.go's exec.CommandContext/stdout+stderr
// capture/truncate shape, with the inline blocklist replaced by the shared
// Sandbox policy.
type Tool struct {
	sandbox *bolt.Sandbox
	timeout time.Duration
}

// New creates a Tool confined by sandbox.
func New(sandbox *bolt.Sandbox) *Tool {
	return &Tool{sandbox: sandbox, timeout: DefaultTimeout}
}

// Description is the tool's registry description.
const Description = "Execute a shell command in the user's home directory (sandboxed). Returns combined stdout and stderr."

// Handler returns a bolt.ToolHandler backed by t, for registration with a
// bolt.ToolRegistry.
func (t *Tool) Handler() bolt.ToolHandler {
	return func(ctx context.Context, args string) (string, error) {
		command := args
		if command == "" {
			return "", fmt.Errorf("command is required")
		}
		if err := t.sandbox.CheckShellCommand(command); err != nil {
			return "", err
		}

		cmdCtx, cancel := context.WithTimeout(ctx, t.timeout)
		defer cancel()

		cmd := exec.CommandContext(cmdCtx, "sh", "-c", command)
		cmd.Dir = t.sandbox.Home()

		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		err := cmd.Run()

		output := stdout.String()
		if stderr.Len() > 0 {
			if output != "" {
				output += "\n--- stderr ---\n"
			}
			output += stderr.String()
		}
		if len(output) > maxOutputLen {
			output = output[:maxOutputLen] + "\n... (truncated)"
		}

		if cmdCtx.Err() == context.DeadlineExceeded {
			return output, fmt.Errorf("command timed out after %s", t.timeout)
		}
		if err != nil {
			if output == "" {
				output = err.Error()
			}
			return output, fmt.Errorf("exit: %w", err)
		}
		if output == "" {
			output = "(no output)"
		}
		return output, nil
	}
}
