// Package pyexec implements BOLT's python_exec built-in: run a snippet of
// Python in a subprocess confined to the sandbox home, with captured
// stdout/stderr fed back as the tool result.
package pyexec

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	bolt "github.com/Jamescode-cpt/bolt"
)

// DefaultTimeout bounds a single python_exec call.
const DefaultTimeout = 120 * time.Second

const maxOutputLen = 4000

// Tool runs Python source via a configured interpreter binary. Grounded on
// code/subprocess.go's temp-script/exec.CommandContext/stdout+stderr
// capture shape; the teacher's JSON-line tool-call dispatch bridge is
// dropped since python_exec here is a plain sandboxed script runner, not a
// code-driven sub-agent that calls back into the tool registry.
type Tool struct {
	pythonBin string
	sandbox   *bolt.Sandbox
	timeout   time.Duration
}

// New creates a Tool that runs pythonBin (e.g. "python3") inside sandbox's
// home directory.
func New(pythonBin string, sandbox *bolt.Sandbox) *Tool {
	return &Tool{pythonBin: pythonBin, sandbox: sandbox, timeout: DefaultTimeout}
}

// Description is the tool's registry description.
const Description = "Execute a Python snippet (sandboxed, no network assumptions). Returns combined stdout and stderr."

// Handler returns a bolt.ToolHandler backed by t.
func (t *Tool) Handler() bolt.ToolHandler {
	return func(ctx context.Context, args string) (string, error) {
		if args == "" {
			return "", fmt.Errorf("code is required")
		}

		tmp, err := os.CreateTemp("", "bolt-pyexec-*.py")
		if err != nil {
			return "", fmt.Errorf("create temp script: %w", err)
		}
		defer os.Remove(tmp.Name())
		if _, err := tmp.WriteString(args); err != nil {
			tmp.Close()
			return "", fmt.Errorf("write temp script: %w", err)
		}
		tmp.Close()

		cmdCtx, cancel := context.WithTimeout(ctx, t.timeout)
		defer cancel()

		cmd := exec.CommandContext(cmdCtx, t.pythonBin, tmp.Name())
		cmd.Dir = t.sandbox.Home()
		cmd.Env = []string{
			"PATH=" + os.Getenv("PATH"),
			"HOME=" + t.sandbox.Home(),
			"LANG=en_US.UTF-8",
		}

		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		err = cmd.Run()

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
			return output, fmt.Errorf("execution timed out after %s", t.timeout)
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
