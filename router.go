package bolt

import (
	"context"
	"fmt"
	"strings"
)

// classifyPrompt is the fixed classification prompt sent to the smallest
// (router) model. The model's reply is lowercased and the first matching
// category token wins; unrecognized output defaults to "companion"
// (spec.md §4.6).
const classifyPrompt = `Classify the user's message into exactly one category: companion, code_simple, code_complex, code_beast, or cloud.
Respond with only the category word.

Message: %s`

// categoryTokens lists recognized category tokens in scan order. The first
// one found in the (lowercased) classifier reply wins.
var categoryTokens = []Category{
	CategoryCodeBeast,   // checked before code_complex/code_simple: shares "code_" prefix but is a distinct, more specific token
	CategoryCodeComplex,
	CategoryCodeSimple,
	CategoryCloud,
	CategoryCompanion,
}

// Classifier is the one-shot inference call used to classify a turn.
type Classifier interface {
	ClassifyChat(ctx context.Context, prompt string) (string, error)
}

// Router classifies a user turn and picks the model to serve it
// (spec.md §4.6).
type Router struct {
	classifier Classifier
}

// NewRouter creates a Router backed by classifier (typically the smallest
// resident model).
func NewRouter(classifier Classifier) *Router {
	return &Router{classifier: classifier}
}

// Classify sends message to the router model and parses the category from
// its reply. Any inference failure (or unrecognized reply) defaults to
// CategoryCompanion — the router never fails a turn.
func (r *Router) Classify(ctx context.Context, message string) Category {
	reply, err := r.classifier.ClassifyChat(ctx, fmt.Sprintf(classifyPrompt, message))
	if err != nil {
		return CategoryCompanion
	}
	lower := strings.ToLower(reply)
	for _, tok := range categoryTokens {
		if strings.Contains(lower, string(tok)) {
			return tok
		}
	}
	return CategoryCompanion
}

// PickModel maps a category + current mode + cloud availability to a model
// key (spec.md §4.6 rule table).
func PickModel(category Category, currentMode Mode, cloudAvailable bool) ModelKey {
	if currentMode == ModeCompanion && category == CategoryCompanion {
		return ModelCompanion
	}
	if category == CategoryCloud || category == CategoryCodeBeast {
		if cloudAvailable {
			return ModelCloud
		}
		if category == CategoryCodeBeast {
			return ModelBeast
		}
		return ModelWorkerHeavy
	}
	switch category {
	case CategoryCompanion:
		return ModelCompanion
	case CategoryCodeSimple:
		return ModelFastCode
	case CategoryCodeComplex:
		return ModelWorkerHeavy
	default:
		return ModelCompanion
	}
}

// EffectiveMode derives the mode a turn should run under: companion if the
// category is companion, code otherwise (spec.md §4.7 step 3).
func EffectiveMode(category Category) Mode {
	if category == CategoryCompanion {
		return ModeCompanion
	}
	return ModeCode
}
