package workers

import (
	"context"
	"testing"
	"time"
)

type fakeWarmer struct {
	pinged []string
}

func (w *fakeWarmer) Warm(ctx context.Context, model, keepAlive string) error {
	w.pinged = append(w.pinged, model)
	return nil
}

func TestHeartbeatPingsAllModels(t *testing.T) {
	w := &fakeWarmer{}
	h := NewHeartbeat(w, []string{"router-model", "companion-model"}, WithHeartbeatInterval(5*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	h.Run(ctx)

	if len(w.pinged) == 0 {
		t.Fatal("expected at least one heartbeat cycle")
	}
	for _, m := range w.pinged {
		if m != "router-model" && m != "companion-model" {
			t.Errorf("unexpected model pinged: %s", m)
		}
	}
}
