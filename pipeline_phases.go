package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"
)

// specPromptTemplate is the fixed prompt for the Spec phase (spec.md §4.9
// phase 1).
const specPromptTemplate = `You are planning a small software project from this conversation.

Conversation:
%s

Respond with a single JSON object (and nothing else) of the form:
{"project": "...", "description": "...", "requirements": ["..."], "files": ["..."], "language": "...", "output_dir": "relative/or/absolute/dir"}`

// architectPromptTemplate is the fixed prompt for the Architect phase
// (spec.md §4.9 phase 2).
const architectPromptTemplate = `Design the build plan for this project.

Spec:
%s

What is known about the user (for context, may be empty):
%s

Respond with a single JSON object (and nothing else) of the form:
{"architecture": "...", "worker_heavy": {"files": [{"path": "...", "description": "...", "depends_on": ["..."]}]}, "worker_light": {"files": [{"path": "...", "description": "...", "depends_on": ["..."]}]}, "integration_notes": "..."}`

// workerPromptTemplate is the per-file prompt issued during the Build
// phase (spec.md §4.9 phase 3).
const workerPromptTemplate = `Project: %s
%s

Write the complete contents of %s.
%s
Integration notes: %s

Respond with only the file's code (markdown fences are fine and will be stripped).`

// reviewPromptTemplate is the fixed prompt for the Review phase (spec.md
// §4.9 phase 4).
const reviewPromptTemplate = `Review this generated project.

Plan:
%s

Files (truncated):
%s

Respond with a single JSON object (and nothing else) of the form:
{"verdict": "pass"|"fix_needed", "issues": ["..."], "summary": "..."}`

// --- Phase 1: Spec ---

func (p *Pipeline) phaseSpec(ctx context.Context, sessionID string) (SpecArtifact, error) {
	name := p.loadModel(ctx, ModelFastCode)
	defer p.unloadModel(ctx, name)

	recent, err := p.store.RecentMessages(sessionID, specContextMessages)
	if err != nil {
		return SpecArtifact{}, err
	}
	transcript := renderTranscriptForPrompt(recent)

	reply, err := p.askModel(ctx, ModelFastCode, fmt.Sprintf(specPromptTemplate, transcript))
	if err != nil {
		return SpecArtifact{}, err
	}

	raw := extractJSONObject(reply)
	if raw == "" {
		return SpecArtifact{}, fmt.Errorf("no JSON object in spec reply")
	}
	var spec SpecArtifact
	if err := json.Unmarshal([]byte(raw), &spec); err != nil {
		return SpecArtifact{}, fmt.Errorf("parse spec JSON: %w", err)
	}
	if spec.Project == "" || spec.OutputDir == "" {
		return SpecArtifact{}, fmt.Errorf("spec artifact missing project or output_dir")
	}
	return spec, nil
}

// --- Phase 2: Architect ---

func (p *Pipeline) phaseArchitect(ctx context.Context, spec SpecArtifact, profile string) (ArchitectArtifact, error) {
	name := p.loadModel(ctx, ModelBeast)
	defer p.unloadModel(ctx, name)

	reply, err := p.askModel(ctx, ModelBeast, fmt.Sprintf(architectPromptTemplate, marshalIndent(spec), profile))
	if err != nil {
		return ArchitectArtifact{}, err
	}

	raw := extractJSONObject(reply)
	if raw == "" {
		return ArchitectArtifact{}, fmt.Errorf("no JSON object in architect reply")
	}
	var arch ArchitectArtifact
	if err := json.Unmarshal([]byte(raw), &arch); err != nil {
		return ArchitectArtifact{}, fmt.Errorf("parse architect JSON: %w", err)
	}
	if len(arch.WorkerHeavy.Files) == 0 && len(arch.WorkerLight.Files) == 0 {
		return ArchitectArtifact{}, fmt.Errorf("architect artifact has no files to build")
	}
	return arch, nil
}

// --- Phase 3: Build ---

// phaseBuild warms both worker models in parallel, runs each worker's file
// list sequentially within its own goroutine, and joins before unloading
// both (spec.md §4.9 phase 3). Grounded on golang.org/x/sync/errgroup,
// which the teacher's go.mod already carries.
func (p *Pipeline) phaseBuild(ctx context.Context, spec SpecArtifact, arch ArchitectArtifact) (map[string]string, error) {
	var warm errgroup.Group
	var heavyName, lightName string
	warm.Go(func() error { heavyName = p.loadModel(ctx, ModelWorkerHeavy); return nil })
	warm.Go(func() error { lightName = p.loadModel(ctx, ModelWorkerLight); return nil })
	_ = warm.Wait()
	defer p.unloadModel(ctx, heavyName)
	defer p.unloadModel(ctx, lightName)

	var g errgroup.Group
	heavyFiles := make(map[string]string)
	lightFiles := make(map[string]string)

	g.Go(func() error {
		files, err := p.runWorker(ctx, ModelWorkerHeavy, spec, arch, arch.WorkerHeavy.Files)
		heavyFiles = files
		return err
	})
	g.Go(func() error {
		files, err := p.runWorker(ctx, ModelWorkerLight, spec, arch, arch.WorkerLight.Files)
		lightFiles = files
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	combined := make(map[string]string, len(heavyFiles)+len(lightFiles))
	for k, v := range heavyFiles {
		combined[k] = v
	}
	for k, v := range lightFiles {
		combined[k] = v
	}
	return combined, nil
}

func (p *Pipeline) runWorker(ctx context.Context, model ModelKey, spec SpecArtifact, arch ArchitectArtifact, plan []FileSpec) (map[string]string, error) {
	out := make(map[string]string, len(plan))
	for _, f := range plan {
		deps := "No dependencies."
		if len(f.DependsOn) > 0 {
			deps = "Depends on: " + strings.Join(f.DependsOn, ", ")
		}
		prompt := fmt.Sprintf(workerPromptTemplate, spec.Project, f.Description, f.Path, deps, arch.IntegrationNotes)
		reply, err := p.askModel(ctx, model, prompt)
		if err != nil {
			return out, fmt.Errorf("worker %s file %s: %w", model, f.Path, err)
		}
		out[f.Path] = stripMarkdownFences(reply)
	}
	return out, nil
}

// --- Phase 4: Review ---

func (p *Pipeline) phaseReview(ctx context.Context, arch ArchitectArtifact, files map[string]string) (ReviewArtifact, error) {
	name := p.loadModel(ctx, ModelBeast)
	defer p.unloadModel(ctx, name)

	reply, err := p.askModel(ctx, ModelBeast, fmt.Sprintf(reviewPromptTemplate, marshalIndent(arch), renderFilesForReview(files)))
	if err != nil {
		return ReviewArtifact{}, err
	}

	raw := extractJSONObject(reply)
	if raw == "" {
		return ReviewArtifact{}, fmt.Errorf("no JSON object in review reply")
	}
	var review ReviewArtifact
	if err := json.Unmarshal([]byte(raw), &review); err != nil {
		return ReviewArtifact{}, fmt.Errorf("parse review JSON: %w", err)
	}
	return review, nil
}

func renderFilesForReview(files map[string]string) string {
	var b strings.Builder
	for path, content := range files {
		if len(content) > reviewFileCap {
			content = content[:reviewFileCap] + "\n...(truncated)"
		}
		fmt.Fprintf(&b, "--- %s ---\n%s\n\n", path, content)
		if b.Len() >= reviewInputCap {
			break
		}
	}
	out := b.String()
	if len(out) > reviewInputCap {
		out = out[:reviewInputCap]
	}
	return out
}

// --- Phase 5: Write ---

// phaseWrite resolves output_dir and every file path under $HOME via the
// Sandbox, writing what it can and recording denials for traversal
// attempts rather than failing the whole run (spec.md §8 scenario S7).
func (p *Pipeline) phaseWrite(ctx context.Context, spec SpecArtifact, files map[string]string) (written, denied []string, err error) {
	outDir, err := p.sandbox.ResolveWrite(spec.OutputDir)
	if err != nil {
		return nil, nil, fmt.Errorf("output_dir rejected: %w", err)
	}

	for path, content := range files {
		full, rerr := p.sandbox.ResolveWrite(filepath.Join(spec.OutputDir, path))
		if rerr != nil {
			denied = append(denied, path)
			p.logger.Warn("pipeline write denied", "path", path, "reason", rerr)
			continue
		}
		if werr := writeFileWithParents(full, content); werr != nil {
			denied = append(denied, path)
			p.logger.Warn("pipeline write failed", "path", path, "error", werr)
			continue
		}
		written = append(written, filepath.Join(outDir, path))
	}
	return written, denied, nil
}

// extractJSONObject finds the first balanced `{...}` span in text, first
// stripping any wrapping markdown fence, and skipping braces that occur
// inside quoted string literals so an embedded `{` in a JSON string value
// can't desynchronize the brace count (spec.md §4.9: "brace counting,
// respecting markdown fences").
func extractJSONObject(text string) string {
	text = stripMarkdownFences(text)

	start := strings.IndexByte(text, '{')
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// stripMarkdownFences removes a single wrapping ```lang / ``` code fence
// pair if the text is entirely (aside from surrounding whitespace) wrapped
// in one.
func stripMarkdownFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return text
	}
	lines := strings.SplitN(trimmed, "\n", 2)
	if len(lines) < 2 {
		return text
	}
	body := lines[1]
	if idx := strings.LastIndex(body, "```"); idx != -1 {
		body = body[:idx]
	}
	return strings.TrimSpace(body)
}

func renderTranscriptForPrompt(messages []Message) string {
	var b strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	return b.String()
}

func writeFileWithParents(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
