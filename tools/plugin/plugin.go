// Package plugin loads BOLT's filesystem tool plugins: each plugin is a Go
// plugin object exporting ToolName, ToolDesc, and a Run function.
package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"plugin"
	"strings"

	bolt "github.com/Jamescode-cpt/bolt"
)

// descriptor names the three symbols every plugin must export. The
// spec names these TOOL_NAME/TOOL_DESC/run(args); Go plugin symbols must be
// exported (uppercase) to be resolved via plugin.Lookup, so the loader
// looks for the capitalized equivalents instead while keeping the same
// three-symbol contract.
const (
	symbolName = "ToolName"
	symbolDesc = "ToolDesc"
	symbolRun  = "Run"
)

// nopLogger discards all output, used when no logger is supplied.
func nopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// Loader scans a directory for compiled Go plugin objects (.so files) and
// registers each one that satisfies the contract. Grounded on
// haasonsaas-nexus/internal/plugins/runtime_loader.go's
// plugin.Open+symbol-lookup+path-validation pattern; a bad individual
// plugin is logged and skipped rather than aborting the scan (spec.md §9's
// "catches and reports plugin faults without aborting startup").
type Loader struct {
	dir    string
	logger *slog.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger overrides the loader's logger.
func WithLogger(l *slog.Logger) Option {
	return func(ld *Loader) { ld.logger = l }
}

// NewLoader creates a Loader scanning dir.
func NewLoader(dir string, opts ...Option) *Loader {
	ld := &Loader{dir: dir, logger: nopLogger()}
	for _, o := range opts {
		o(ld)
	}
	return ld
}

// LoadAll scans the plugin directory and registers every valid plugin
// found into reg. It never returns an error for individual plugin
// failures — each is logged and skipped — but returns the count loaded.
func (l *Loader) LoadAll(reg *bolt.ToolRegistry) int {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		l.logger.Debug("plugin directory not readable, skipping", "dir", l.dir, "error", err)
		return 0
	}

	loaded := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".so") {
			continue
		}
		path, err := validatePath(filepath.Join(l.dir, e.Name()))
		if err != nil {
			l.logger.Warn("plugin path rejected", "file", e.Name(), "error", err)
			continue
		}
		name, desc, handler, err := l.open(path)
		if err != nil {
			l.logger.Warn("plugin load failed, skipping", "file", e.Name(), "error", err)
			continue
		}
		reg.Register(name, desc, handler)
		l.logger.Info("plugin loaded", "name", name, "file", e.Name())
		loaded++
	}
	return loaded
}

func (l *Loader) open(path string) (name, desc string, handler bolt.ToolHandler, err error) {
	p, err := plugin.Open(path)
	if err != nil {
		return "", "", nil, fmt.Errorf("open: %w", err)
	}

	nameSym, err := p.Lookup(symbolName)
	if err != nil {
		return "", "", nil, fmt.Errorf("missing %s: %w", symbolName, err)
	}
	namePtr, ok := nameSym.(*string)
	if !ok {
		return "", "", nil, fmt.Errorf("%s is not a string", symbolName)
	}

	descSym, err := p.Lookup(symbolDesc)
	if err != nil {
		return "", "", nil, fmt.Errorf("missing %s: %w", symbolDesc, err)
	}
	descPtr, ok := descSym.(*string)
	if !ok {
		return "", "", nil, fmt.Errorf("%s is not a string", symbolDesc)
	}

	runSym, err := p.Lookup(symbolRun)
	if err != nil {
		return "", "", nil, fmt.Errorf("missing %s: %w", symbolRun, err)
	}
	runFn, ok := runSym.(func(string) string)
	if !ok {
		return "", "", nil, fmt.Errorf("%s has unexpected signature", symbolRun)
	}

	return *namePtr, *descPtr, wrapRun(runFn), nil
}

// wrapRun adapts the plugin's synchronous string->string contract to
// bolt.ToolHandler, recovering a panicking plugin body the same way the
// registry recovers a panicking built-in.
func wrapRun(fn func(string) string) bolt.ToolHandler {
	return func(ctx context.Context, args string) (result string, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("plugin panic: %v", r)
			}
		}()
		return fn(args), nil
	}
}

func validatePath(path string) (string, error) {
	cleaned := filepath.Clean(path)
	for _, seg := range strings.Split(cleaned, string(filepath.Separator)) {
		if seg == ".." {
			return "", fmt.Errorf("path traversal in plugin path: %s", path)
		}
	}
	abs, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path: %w", err)
	}
	return abs, nil
}
