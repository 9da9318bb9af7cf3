// Package dispatch consumes normalized inbound events and turns engine
// output into outbound messages: streamed chunk-by-chunk where the
// surface supports it, single passive replies elsewhere, and proactive
// sends when the passive reply quota is gone.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/botgate/internal/bus"
	"github.com/nextlevelbuilder/botgate/internal/msgapi"
	"github.com/nextlevelbuilder/botgate/internal/ratelimit"
	"github.com/nextlevelbuilder/botgate/internal/stream"
)

// degradedNotice is sent when generation exceeds the per-turn deadline
// before producing any content.
const degradedNotice = "Sorry, this reply took too long to generate. Please try again."

// DefaultGenerateTimeout bounds one generation turn.
const DefaultGenerateTimeout = 2 * time.Minute

// Engine produces a reply for one inbound event. onPartial, when
// non-nil, receives cumulative text for the current output segment as
// generation progresses. Generate returns the final full text.
type Engine interface {
	Generate(ctx context.Context, ev bus.Event, onPartial func(string)) (string, error)
}

// Sender is the outbound surface of the messaging API client.
type Sender interface {
	SendPassive(ctx context.Context, t msgapi.Target, replyTo, content string, seq int) (string, error)
	SendProactive(ctx context.Context, t msgapi.Target, content string) (string, error)
	ChunkSender(t msgapi.Target, replyTo string) stream.ChunkSender
}

// Config tunes one dispatcher.
type Config struct {
	GenerateTimeout time.Duration // 0 means DefaultGenerateTimeout
	Stream          stream.Config
}

// Dispatcher is the single consumer of the inbound queue.
type Dispatcher struct {
	engine  Engine
	sender  Sender
	limiter *ratelimit.ReplyLimiter
	cfg     Config
	clock   stream.Clock
	tracer  trace.Tracer
}

// New wires a dispatcher. A nil clock selects the system clock.
func New(engine Engine, sender Sender, limiter *ratelimit.ReplyLimiter, cfg Config, clock stream.Clock) *Dispatcher {
	if cfg.GenerateTimeout <= 0 {
		cfg.GenerateTimeout = DefaultGenerateTimeout
	}
	if clock == nil {
		clock = stream.SystemClock
	}
	return &Dispatcher{
		engine:  engine,
		sender:  sender,
		limiter: limiter,
		cfg:     cfg,
		clock:   clock,
		tracer:  otel.Tracer("botgate/dispatch"),
	}
}

// Run consumes the queue until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context, queue *bus.Queue) {
	queue.Consume(ctx, d.Handle)
}

// Handle processes one inbound event end to end. The turn inherits
// ctx, so cancelling the consumer's context aborts in-flight
// generation and stops the pacer's timer-driven sends.
func (d *Dispatcher) Handle(ctx context.Context, ev bus.Event) error {
	ctx, span := d.tracer.Start(ctx, "dispatch.handle",
		trace.WithAttributes(
			attribute.String("event.kind", string(ev.Kind)),
			attribute.String("event.id", ev.EventID),
			attribute.String("turn.id", uuid.NewString()),
		))
	defer span.End()

	target, err := targetFor(ev)
	if err != nil {
		return err
	}

	gctx, cancel := context.WithTimeout(ctx, d.cfg.GenerateTimeout)
	defer cancel()

	if streamingCapable(ev.Kind) {
		return d.handleStreaming(gctx, ev, target)
	}
	return d.handlePlain(gctx, ev, target)
}

// targetFor maps an event's surface to an outbound conversation address.
func targetFor(ev bus.Event) (msgapi.Target, error) {
	switch ev.Kind {
	case bus.KindC2C:
		return msgapi.Target{Kind: msgapi.TargetC2C, ID: ev.SenderID}, nil
	case bus.KindGroup:
		return msgapi.Target{Kind: msgapi.TargetGroup, ID: ev.GroupID}, nil
	case bus.KindChannel, bus.KindDirect:
		// Guild DMs post into their dedicated DM channel.
		return msgapi.Target{Kind: msgapi.TargetChannel, ID: ev.ChannelID}, nil
	default:
		return msgapi.Target{}, fmt.Errorf("dispatch: no target for event kind %q", ev.Kind)
	}
}

// streamingCapable reports whether the platform accepts stream payloads
// on this surface. Guild channels render streamed chunks as separate
// messages, so those get a single full reply instead.
func streamingCapable(kind bus.EventKind) bool {
	return kind == bus.KindC2C || kind == bus.KindGroup
}

// handlePlain generates the full reply and delivers it in one message.
func (d *Dispatcher) handlePlain(ctx context.Context, ev bus.Event, target msgapi.Target) error {
	final, err := d.engine.Generate(ctx, ev, nil)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			slog.Warn("dispatch generation timed out", "event_id", ev.EventID)
			return d.deliver(context.WithoutCancel(ctx), ev, target, degradedNotice)
		}
		return fmt.Errorf("dispatch: generate: %w", err)
	}
	if final == "" {
		slog.Debug("dispatch empty reply, nothing to send", "event_id", ev.EventID)
		return nil
	}
	return d.deliver(ctx, ev, target, final)
}

// handleStreaming routes engine partials through a pacer. The pacer is
// finalized exactly once on every path.
func (d *Dispatcher) handleStreaming(ctx context.Context, ev bus.Event, target msgapi.Target) error {
	dec := d.limiter.Check(ev.EventID)
	if !dec.Allowed {
		// No passive budget means no stream bound to the inbound id:
		// generate fully, then send proactively.
		slog.Info("dispatch passive quota denied, streaming disabled",
			"event_id", ev.EventID, "reason", dec.Reason)
		final, err := d.engine.Generate(ctx, ev, nil)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				final = degradedNotice
			} else {
				return fmt.Errorf("dispatch: generate: %w", err)
			}
		}
		if final == "" {
			return nil
		}
		_, err = d.sender.SendProactive(context.WithoutCancel(ctx), target, final)
		return err
	}

	pacer := stream.NewPacer(ctx, d.sender.ChunkSender(target, ev.EventID), d.cfg.Stream, d.clock)
	return d.finishStreaming(ctx, ev, target, pacer)
}

func (d *Dispatcher) finishStreaming(ctx context.Context, ev bus.Event, target msgapi.Target, pacer *stream.Pacer) error {
	partials := 0
	_, genErr := d.engine.Generate(ctx, ev, func(seg string) {
		partials++
		if err := pacer.Push(seg); err != nil && !errors.Is(err, stream.ErrStreamEnded) {
			slog.Warn("dispatch stream push failed", "event_id", ev.EventID, "error", err)
		}
	})

	if genErr != nil {
		if partials == 0 {
			// Nothing streamed: there is no open stream to annotate.
			_ = pacer.End()
			if errors.Is(genErr, context.DeadlineExceeded) {
				slog.Warn("dispatch generation timed out before first chunk", "event_id", ev.EventID)
				return d.deliver(context.WithoutCancel(ctx), ev, target, degradedNotice)
			}
			return fmt.Errorf("dispatch: generate: %w", genErr)
		}
		cause := genErr
		if errors.Is(genErr, context.DeadlineExceeded) {
			cause = errors.New("reply took too long and was cut short")
		}
		if err := pacer.Fail(cause); err != nil && !errors.Is(err, stream.ErrStreamEnded) {
			slog.Warn("dispatch stream fail-finalize failed", "event_id", ev.EventID, "error", err)
		}
		d.limiter.Record(ev.EventID)
		if errors.Is(genErr, context.DeadlineExceeded) {
			return nil
		}
		return fmt.Errorf("dispatch: generate: %w", genErr)
	}

	if err := pacer.End(); err != nil && !errors.Is(err, stream.ErrStreamEnded) {
		return fmt.Errorf("dispatch: finalize stream: %w", err)
	}
	if partials > 0 {
		d.limiter.Record(ev.EventID)
	}
	return nil
}

// deliver sends one full reply: passively against the inbound id while
// quota allows, falling back to a proactive send otherwise. Quota
// denials are never surfaced to the user.
func (d *Dispatcher) deliver(ctx context.Context, ev bus.Event, target msgapi.Target, content string) error {
	dec := d.limiter.Check(ev.EventID)
	if dec.Allowed {
		// The seq dedupes repeat passive sends against one inbound id,
		// so each reply in the quota needs its own value.
		if _, err := d.sender.SendPassive(ctx, target, ev.EventID, content, dec.Used+1); err == nil {
			d.limiter.Record(ev.EventID)
			return nil
		} else {
			slog.Warn("dispatch passive send failed, trying proactive",
				"event_id", ev.EventID, "error", err)
		}
	} else {
		slog.Info("dispatch passive quota denied, sending proactively",
			"event_id", ev.EventID, "reason", dec.Reason)
	}
	if _, err := d.sender.SendProactive(ctx, target, content); err != nil {
		return fmt.Errorf("dispatch: proactive send: %w", err)
	}
	return nil
}
