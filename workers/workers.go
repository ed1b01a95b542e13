// Package workers implements BOLT's four background actors: Summarizer,
// TaskTracker, ProfileLearner, and Heartbeat (spec.md §4.8). Summarizer and
// Heartbeat run their own ticker loops until their context ends (Summarizer
// also has Stop), grounded on oasis's scheduler.go ticker/ctx.Done() loop
// shape; TaskTracker and ProfileLearner have no loop and are driven per turn.
package workers

import (
	"context"
	"log/slog"

	bolt "github.com/Jamescode-cpt/bolt"
)

// Chatter is the streaming inference call workers issue to a small model.
// AskOnce drains the stream into a single reply (the same pattern as
// provider/local.Client.ClassifyChat).
type Chatter interface {
	Chat(ctx context.Context, model bolt.ModelKey, messages []bolt.ChatMessage) <-chan bolt.StreamEvent
}

// AskOnce sends a single-user-message prompt to model and returns its full
// text reply, draining the stream to completion. An error chunk with no
// preceding text is returned as an error; one received after some text has
// already arrived is ignored and the partial text is returned instead.
func AskOnce(ctx context.Context, chatter Chatter, model bolt.ModelKey, prompt string) (string, error) {
	events := chatter.Chat(ctx, model, []bolt.ChatMessage{{Role: bolt.RoleUser, Content: prompt}})
	var text string
	var err error
	for ev := range events {
		switch ev.Kind {
		case bolt.StreamText:
			text += ev.Text
		case bolt.StreamError:
			if text == "" {
				err = ev.Err
				if err == nil {
					err = context.DeadlineExceeded
				}
			}
		}
	}
	return text, err
}

// nopLogger discards all output, the fallback when no logger is supplied.
func nopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
