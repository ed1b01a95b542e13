// Package files implements BOLT's sandboxed file built-ins: read_file,
// write_file, edit_file, list_files.
package files

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	bolt "github.com/Jamescode-cpt/bolt"
)

const maxReadLen = 8000

// Tool resolves paths through a Sandbox before touching the filesystem.
// Grounded on tools/files_old/file.go's resolve-then-dispatch shape, with
// path resolution delegated to bolt.Sandbox instead of an inline check.
type Tool struct {
	sandbox *bolt.Sandbox
}

// New creates a Tool confined by sandbox.
func New(sandbox *bolt.Sandbox) *Tool {
	return &Tool{sandbox: sandbox}
}

// Register adds all four file built-ins to reg.
func (t *Tool) Register(reg *bolt.ToolRegistry) {
	reg.Register("read_file", "Read a file's contents. Args: the file path.", t.read)
	reg.Register("write_file", "Write a file. Args: first line is the path, remaining lines are the content.", t.write)
	reg.Register("edit_file", "Find/replace within a file. Args: first line is the path, then the text to find, then a line containing only '---', then the replacement text.", t.edit)
	reg.Register("list_files", "List files in a directory. Args: the directory path (defaults to home).", t.list)
}

func (t *Tool) read(ctx context.Context, args string) (string, error) {
	path := strings.TrimSpace(args)
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	resolved, err := t.sandbox.ResolveRead(path)
	if err != nil {
		return "Access denied: " + err.Error(), nil
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	content := string(data)
	if len(content) > maxReadLen {
		content = content[:maxReadLen] + "\n(truncated)"
	}
	return content, nil
}

func (t *Tool) write(ctx context.Context, args string) (string, error) {
	path, content, ok := splitFirstLine(args)
	if !ok {
		return "", fmt.Errorf("path is required")
	}
	resolved, err := t.sandbox.ResolveWrite(path)
	if err != nil {
		return "Access denied: " + err.Error(), nil
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return fmt.Sprintf("Wrote %d bytes to %s", len(content), path), nil
}

func (t *Tool) edit(ctx context.Context, args string) (string, error) {
	path, rest, ok := splitFirstLine(args)
	if !ok {
		return "", fmt.Errorf("path is required")
	}
	oldText, newText, ok := strings.Cut(rest, "\n---\n")
	if !ok {
		return "", fmt.Errorf("missing '---' separator between find and replace text")
	}

	resolved, err := t.sandbox.ResolveWrite(path)
	if err != nil {
		return "Access denied: " + err.Error(), nil
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	content := string(data)
	if !strings.Contains(content, oldText) {
		return "", fmt.Errorf("text to replace not found in %s", path)
	}
	updated := strings.Replace(content, oldText, newText, 1)
	if err := os.WriteFile(resolved, []byte(updated), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return fmt.Sprintf("Edited %s", path), nil
}

func (t *Tool) list(ctx context.Context, args string) (string, error) {
	path := strings.TrimSpace(args)
	if path == "" {
		path = t.sandbox.Home()
	}
	resolved, err := t.sandbox.ResolveRead(path)
	if err != nil {
		return "Access denied: " + err.Error(), nil
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return "", fmt.Errorf("list %s: %w", path, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		kind := "file"
		if e.IsDir() {
			kind = "dir"
		}
		names = append(names, kind+"\t"+e.Name())
	}
	sort.Strings(names)
	if len(names) == 0 {
		return "(empty directory)", nil
	}
	return strings.Join(names, "\n"), nil
}

// splitFirstLine splits s into its first line and the remainder (without
// the separating newline). ok is false if s has no content at all.
func splitFirstLine(s string) (first, rest string, ok bool) {
	first, rest, found := strings.Cut(s, "\n")
	first = strings.TrimSpace(first)
	if first == "" {
		return "", "", false
	}
	if !found {
		rest = ""
	}
	return first, rest, true
}
