package bolt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// pipelineLoadKeepAlive is the keep_alive hint used while a phase model is
// actively in use.
const pipelineLoadKeepAlive = "5m"

// reviewInputCap and reviewFileCap bound the Review phase's prompt size
// (spec.md §4.9 phase 4: "each file truncated to ~2,000 chars, overall
// input ≤ ~6,000 chars").
const (
	reviewFileCap  = 2000
	reviewInputCap = 6000
)

// specContextMessages is how many recent messages feed the Spec phase
// (spec.md §4.9 phase 1: "the last ~30 conversation messages").
const specContextMessages = 30

// PipelineStore is the persistence surface the Pipeline reads from.
type PipelineStore interface {
	RecentMessages(sessionID string, limit int) ([]Message, error)
	ProfileFacts() ([]ProfileFact, error)
}

// ModelNamer resolves a logical model key to the concrete model name the
// inference backend expects (internal/config.Config.ModelName), without
// pulling the config package into this package's dependency surface.
type ModelNamer interface {
	ModelName(key string) string
}

// ModelResidency is the subset of the local inference backend the Pipeline
// uses to manage RAM budget across phases (spec.md §4.9's load/unload
// discipline).
type ModelResidency interface {
	Unload(ctx context.Context, model string) error
	Warm(ctx context.Context, model, keepAlive string) error
	UnloadAllExcept(ctx context.Context, keepModel string) error
}

// PipelineCompletion is fired once per run with the final outcome.
type PipelineCompletion func(PipelineResult)

// Pipeline runs the five-phase build state machine
// (idle→spec→architect→build→review→write→idle). Grounded on
// workflow_exec.go's single-slot mutex-guarded execution-state pattern and
// completion-callback shape, simplified from a generic step DAG to a fixed
// five-phase linear machine (spec.md §4.9 describes a state machine, not
// an arbitrary step graph).
type Pipeline struct {
	store     PipelineStore
	inference InferenceClient
	residency ModelResidency
	namer     ModelNamer
	sandbox   *Sandbox
	mode      *ModeState
	logger    *slog.Logger

	mu      sync.Mutex
	running bool
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithPipelineLogger overrides the default discard logger.
func WithPipelineLogger(l *slog.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = l }
}

// NewPipeline creates a Pipeline. mode is mutated to ModeBuild for the
// run's duration and restored on completion (spec.md §5: "a build pipeline
// mutates mode to build and restores it on completion").
func NewPipeline(store PipelineStore, inference InferenceClient, residency ModelResidency, namer ModelNamer, sandbox *Sandbox, mode *ModeState, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		store:     store,
		inference: inference,
		residency: residency,
		namer:     namer,
		sandbox:   sandbox,
		mode:      mode,
		logger:    nopPipelineLogger(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func nopPipelineLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardPipelineWriter{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

type discardPipelineWriter struct{}

func (discardPipelineWriter) Write(p []byte) (int, error) { return len(p), nil }

// IsRunning reports whether a pipeline run is currently in flight
// (spec.md §8 property 8; linearizable with RunPipeline).
func (p *Pipeline) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// RunPipeline attempts to start a run for sessionID, returning false
// immediately (without mutating any state) if one is already in flight.
// On success it returns true and runs the five phases in a detached
// goroutine, invoking onFinish exactly once when the run ends.
func (p *Pipeline) RunPipeline(ctx context.Context, sessionID string, onFinish PipelineCompletion) bool {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return false
	}
	p.running = true
	p.mu.Unlock()

	go func() {
		result := p.run(context.WithoutCancel(ctx), sessionID)
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
		if onFinish != nil {
			onFinish(result)
		}
	}()

	return true
}

// run executes all five phases in order, never raising across its
// boundary (spec.md §7: "Pipeline ... never raise across their public
// boundary").
func (p *Pipeline) run(ctx context.Context, sessionID string) PipelineResult {
	prevMode := p.mode.Set(ModeBuild)
	defer p.mode.Set(prevMode)
	defer p.restoreResidency(ctx)

	spec, err := p.phaseSpec(ctx, sessionID)
	if err != nil {
		return p.fail("spec: " + err.Error())
	}

	profile := renderProfileForArchitect(p.mustProfileFacts())

	architect, err := p.phaseArchitect(ctx, spec, profile)
	if err != nil {
		return p.fail("architect: " + err.Error())
	}

	files, err := p.phaseBuild(ctx, spec, architect)
	if err != nil {
		return p.fail("build: " + err.Error())
	}

	review, err := p.phaseReview(ctx, architect, files)
	if err != nil {
		p.logger.Warn("review phase unparseable, treating as pass", "error", err)
		review = ReviewArtifact{Verdict: "pass"}
	}

	written, denied, err := p.phaseWrite(ctx, spec, files)
	if err != nil {
		return p.fail("write: " + err.Error())
	}

	summary := review.Summary
	if summary == "" {
		summary = fmt.Sprintf("Built %d files in %s", len(written), spec.OutputDir)
	}

	return PipelineResult{
		Success:   true,
		OutputDir: spec.OutputDir,
		Summary:   summary,
		Written:   written,
		Denied:    denied,
	}
}

func (p *Pipeline) fail(reason string) PipelineResult {
	p.logger.Warn("pipeline failed", "reason", reason)
	return PipelineResult{Success: false, Summary: reason}
}

func (p *Pipeline) mustProfileFacts() []ProfileFact {
	facts, err := p.store.ProfileFacts()
	if err != nil {
		return nil
	}
	return facts
}

func renderProfileForArchitect(facts []ProfileFact) string {
	if len(facts) == 0 {
		return ""
	}
	var b strings.Builder
	for _, f := range facts {
		fmt.Fprintf(&b, "%s.%s = %s\n", f.Category, f.Key, f.Value)
	}
	return b.String()
}

// restoreResidency re-establishes the chat-time model residency: unload
// whatever workers might still be resident and warm the companion model,
// keeping the router resident throughout (spec.md §4.9 phase 5).
func (p *Pipeline) restoreResidency(ctx context.Context) {
	companion := p.namer.ModelName(string(ModelCompanion))
	if err := p.residency.UnloadAllExcept(ctx, p.namer.ModelName(string(ModelRouter))); err != nil {
		p.logger.Warn("restore residency: unload all except router failed", "error", err)
	}
	if err := p.residency.Warm(ctx, companion, pipelineLoadKeepAlive); err != nil {
		p.logger.Warn("restore residency: warm companion failed", "error", err)
	}
}

// loadModel warms model with the active-use keep_alive hint.
func (p *Pipeline) loadModel(ctx context.Context, key ModelKey) string {
	name := p.namer.ModelName(string(key))
	if err := p.residency.Warm(ctx, name, pipelineLoadKeepAlive); err != nil {
		p.logger.Warn("load model failed", "model", name, "error", err)
	}
	return name
}

func (p *Pipeline) unloadModel(ctx context.Context, name string) {
	if err := p.residency.Unload(ctx, name); err != nil {
		p.logger.Warn("unload model failed", "model", name, "error", err)
	}
}

// askModel sends a single-user-message prompt to model and returns its full
// text reply.
func (p *Pipeline) askModel(ctx context.Context, model ModelKey, prompt string) (string, error) {
	events := p.inference.Chat(ctx, model, []ChatMessage{{Role: RoleUser, Content: prompt}})
	var text string
	var err error
	for ev := range events {
		switch ev.Kind {
		case StreamText:
			text += ev.Text
		case StreamError:
			if text == "" {
				err = ev.Err
				if err == nil {
					err = fmt.Errorf("inference failed")
				}
			}
		}
	}
	return text, err
}
