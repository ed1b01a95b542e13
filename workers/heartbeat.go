package workers

import (
	"context"
	"log/slog"
	"time"
)

// DefaultHeartbeatInterval is the ping cadence (spec.md §4.8).
const DefaultHeartbeatInterval = 270 * time.Second

// heartbeatKeepAlive is the keep_alive duration passed with each ping,
// preventing the router/companion models from being evicted.
const heartbeatKeepAlive = "10m"

// Warmer is the subset of the local inference backend Heartbeat needs.
type Warmer interface {
	Warm(ctx context.Context, model, keepAlive string) error
}

// Heartbeat periodically pings the local inference server to keep the
// router and companion models resident, process-wide (spec.md §4.8).
type Heartbeat struct {
	warmer   Warmer
	models   []string
	interval time.Duration
	logger   *slog.Logger
}

// HeartbeatOption configures a Heartbeat.
type HeartbeatOption func(*Heartbeat)

// WithHeartbeatInterval overrides DefaultHeartbeatInterval.
func WithHeartbeatInterval(d time.Duration) HeartbeatOption {
	return func(h *Heartbeat) { h.interval = d }
}

// WithHeartbeatLogger overrides the default discard logger.
func WithHeartbeatLogger(l *slog.Logger) HeartbeatOption {
	return func(h *Heartbeat) { h.logger = l }
}

// NewHeartbeat creates a Heartbeat that keeps models warm (typically the
// resolved router and companion model names).
func NewHeartbeat(warmer Warmer, models []string, opts ...HeartbeatOption) *Heartbeat {
	h := &Heartbeat{
		warmer:   warmer,
		models:   models,
		interval: DefaultHeartbeatInterval,
		logger:   nopLogger(),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Run blocks, pinging every interval until ctx is cancelled.
func (h *Heartbeat) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.pingAll(ctx)
		}
	}
}

func (h *Heartbeat) pingAll(ctx context.Context) {
	for _, model := range h.models {
		if err := h.warmer.Warm(ctx, model, heartbeatKeepAlive); err != nil {
			h.logger.Warn("heartbeat ping failed", "model", model, "error", err)
		}
	}
}
