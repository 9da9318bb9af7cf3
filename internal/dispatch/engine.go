package dispatch

import (
	"context"

	"github.com/nextlevelbuilder/botgate/internal/bus"
)

// EchoEngine is the built-in engine: it streams the inbound content
// straight back. It exists so a freshly onboarded connector can verify
// the full gateway → queue → pacer → send path before a real engine is
// plugged in.
type EchoEngine struct{}

func (EchoEngine) Generate(ctx context.Context, ev bus.Event, onPartial func(string)) (string, error) {
	reply := ev.Content
	if reply == "" {
		reply = "(empty message received)"
	}
	if onPartial != nil {
		onPartial(reply)
	}
	return reply, nil
}
