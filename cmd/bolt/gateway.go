package main

import (
	"context"

	bolt "github.com/Jamescode-cpt/bolt"
	"github.com/Jamescode-cpt/bolt/internal/config"
	"github.com/Jamescode-cpt/bolt/provider/local"
	"github.com/Jamescode-cpt/bolt/provider/remote"
)

// gateway is the single collaborator the core wires as its
// InferenceClient, Classifier, ModelResidency, and ModelNamer: it routes a
// chat call to the cloud backend when the picked model is `cloud` and a
// key is configured, and to the local backend otherwise, and resolves
// logical model keys to concrete names via cfg for residency calls.
type gateway struct {
	cfg    config.Config
	local  *local.Client
	remote *remote.Client // nil if BOLT_CLOUD_KEY is unset
}

func newGateway(cfg config.Config, localClient *local.Client, remoteClient *remote.Client) *gateway {
	return &gateway{cfg: cfg, local: localClient, remote: remoteClient}
}

// Chat implements bolt.InferenceClient.
func (g *gateway) Chat(ctx context.Context, model bolt.ModelKey, messages []bolt.ChatMessage) <-chan bolt.StreamEvent {
	if model == bolt.ModelCloud && g.remote != nil {
		return g.remote.Chat(ctx, model, messages)
	}
	return g.local.Chat(ctx, model, messages)
}

// ClassifyChat implements bolt.Classifier: classification always runs
// against the local router model.
func (g *gateway) ClassifyChat(ctx context.Context, prompt string) (string, error) {
	return g.local.ClassifyChat(ctx, prompt)
}

// CloudAvailable reports whether the cloud backend is reachable, feeding
// bolt.WithCloudAvailable ahead of a turn.
func (g *gateway) CloudAvailable(ctx context.Context) bool {
	if g.remote == nil {
		return false
	}
	return g.remote.Available(ctx)
}

// Unload, Warm, and UnloadAllExcept implement bolt.ModelResidency and
// workers.Warmer: residency is a local-backend-only concern, the cloud
// provider has no notion of keep_alive.
func (g *gateway) Unload(ctx context.Context, model string) error {
	return g.local.Unload(ctx, model)
}

func (g *gateway) Warm(ctx context.Context, model, keepAlive string) error {
	return g.local.Warm(ctx, model, keepAlive)
}

func (g *gateway) UnloadAllExcept(ctx context.Context, keepModel string) error {
	return g.local.UnloadAllExcept(ctx, keepModel)
}

// ModelName implements bolt.ModelNamer.
func (g *gateway) ModelName(key string) string {
	return g.cfg.ModelName(key)
}
