// Package stream paces a single-shot "send chunk" network primitive into
// a live-feeling multi-chunk reply. The generator feeds it cumulative
// text per logical segment; the pacer detects segment restarts, rations
// sends to a minimum interval, keeps the stream alive during silences,
// and enforces a hard overall duration cap.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// ErrStreamEnded is returned by every operation after the pacer has
// terminated. Ending twice is an error result, never a duplicate send.
var ErrStreamEnded = errors.New("stream: already ended")

// segResetPrefixLen is how many leading characters of the already-sent
// text a notification must share to count as the same segment.
const segResetPrefixLen = 10

// terminalMarker closes the visible stream for the reader.
const terminalMarker = "​" // zero-width space; platform renders stream as finished

// Chunk is one outbound streaming send. Index increases monotonically
// per pacer; StreamID is empty on the first call and the server-assigned
// identifier afterwards.
type Chunk struct {
	Content  string
	Index    int
	StreamID string
	Final    bool
}

// ChunkSender is the external single-shot send primitive: one network
// call per invocation, returning the server-assigned stream identifier
// on the first call.
type ChunkSender interface {
	SendChunk(ctx context.Context, c Chunk) (streamID string, err error)
}

// Config holds the pacing constants.
type Config struct {
	MinSendInterval time.Duration // spacing between content chunk sends
	KeepaliveDelay  time.Duration // silence before the first keepalive
	KeepaliveGap    time.Duration // spacing between consecutive keepalives
	MaxKeepalives   int           // consecutive keepalives since last content chunk
	MaxDuration     time.Duration // hard cap on the whole stream
}

// DefaultConfig returns the production pacing constants.
func DefaultConfig() Config {
	return Config{
		MinSendInterval: time.Second,
		KeepaliveDelay:  5 * time.Second,
		KeepaliveGap:    15 * time.Second,
		MaxKeepalives:   4,
		MaxDuration:     3 * time.Minute,
	}
}

// Context is a snapshot of the pacer's stream state.
type Context struct {
	Index    int
	StreamID string
	Ended    bool
}

type chunkKind int

const (
	kindContent chunkKind = iota
	kindKeepalive
	kindFinal
)

// Pacer emulates a live stream over a non-streaming transport for one
// conversation turn. At most one network call is in flight at any time;
// a push arriving mid-flight is coalesced into a single pending slot.
type Pacer struct {
	sender ChunkSender
	clock  Clock
	cfg    Config
	ctx    context.Context // turn-scoped, used by timer-driven sends

	mu   sync.Mutex
	cond *sync.Cond // signalled when an in-flight send completes

	completed strings.Builder // transcript of frozen segments
	seg       string          // cumulative text of the live segment
	sentOff   int             // bytes of seg already sent

	index      int
	streamID   string
	started    bool
	ended      bool
	inFlight   bool
	pending    bool // coalesced flush request
	lastSend   time.Time
	keepalives int

	kaTimer    Timer
	flushTimer Timer
	capTimer   Timer
}

// NewPacer creates a pacer for one conversation turn. ctx scopes
// timer-driven sends and should be the turn's context.
func NewPacer(ctx context.Context, sender ChunkSender, cfg Config, clock Clock) *Pacer {
	if clock == nil {
		clock = SystemClock
	}
	p := &Pacer{sender: sender, clock: clock, cfg: cfg, ctx: ctx}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Context returns the current stream state snapshot.
func (p *Pacer) Context() Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Context{Index: p.index, StreamID: p.streamID, Ended: p.ended}
}

// Transcript returns the logical transcript: all frozen segments plus
// the live one.
func (p *Pacer) Transcript() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.completed.String() + p.seg
}

// Push feeds the cumulative text of the current logical segment. The
// first push ever sends immediately; later pushes are rationed to the
// minimum send interval, buffering the increment in the pending slot.
func (p *Pacer) Push(text string) error {
	p.mu.Lock()
	if p.ended {
		p.mu.Unlock()
		return ErrStreamEnded
	}
	p.absorbLocked(text)

	if !p.started {
		p.started = true
		if p.cfg.MaxDuration > 0 {
			p.capTimer = p.clock.AfterFunc(p.cfg.MaxDuration, p.onCapTimer)
		}
		return p.transmitLocked(p.ctx, kindContent, p.takeDeltaLocked())
	}
	if p.inFlight {
		p.pending = true
		p.mu.Unlock()
		return nil
	}
	if wait := p.cfg.MinSendInterval - p.clock.Now().Sub(p.lastSend); wait > 0 {
		p.pending = true
		p.armFlushLocked(wait)
		p.mu.Unlock()
		return nil
	}
	return p.transmitLocked(p.ctx, kindContent, p.takeDeltaLocked())
}

// End flushes the unsent remainder of the current segment plus the
// terminal marker. After End the pacer rejects every further operation
// with ErrStreamEnded.
func (p *Pacer) End() error {
	return p.finish("")
}

// Fail ends the stream after appending an inline error annotation to the
// transcript, so the reader sees why the reply stopped.
func (p *Pacer) Fail(cause error) error {
	return p.finish(fmt.Sprintf("\n[reply interrupted: %v]", cause))
}

func (p *Pacer) finish(annotation string) error {
	p.mu.Lock()
	if p.ended {
		p.mu.Unlock()
		return ErrStreamEnded
	}
	for p.inFlight {
		p.cond.Wait()
	}
	if p.ended { // a cap-timer end may have won while waiting
		p.mu.Unlock()
		return ErrStreamEnded
	}
	p.ended = true
	p.pending = false
	p.stopTimersLocked()

	remainder := p.takeDeltaLocked()
	if annotation != "" {
		p.seg += annotation
		p.sentOff = len(p.seg)
	}
	if !p.started {
		// Nothing was ever streamed; there is no server-side stream to close.
		p.mu.Unlock()
		return nil
	}
	return p.transmitLocked(p.ctx, kindFinal, remainder+annotation+terminalMarker)
}

// --- segment handling ---

// absorbLocked merges a cumulative notification into the live segment,
// detecting segment restarts. On a restart the prior segment is frozen
// at its send offset and a paragraph separator joins the transcript.
func (p *Pacer) absorbLocked(text string) {
	if p.sentOff > 0 && p.isSegmentReset(text) {
		frozen := p.seg[:p.sentOff]
		p.completed.WriteString(frozen)
		if !strings.HasSuffix(frozen, "\n\n") {
			p.completed.WriteString("\n\n")
		}
		p.seg = text
		p.sentOff = 0
		return
	}
	p.seg = text
}

// isSegmentReset applies the documented heuristic: previously-sent text
// is non-empty AND (the new text is shorter than the sent length OR it
// does not share the first min(10, sent) characters). Best effort, not
// strengthened beyond this rule.
func (p *Pacer) isSegmentReset(text string) bool {
	if len(text) < p.sentOff {
		return true
	}
	n := segResetPrefixLen
	if p.sentOff < n {
		n = p.sentOff
	}
	return text[:n] != p.seg[:n]
}

// takeDeltaLocked returns the unsent tail of the live segment and marks
// it sent.
func (p *Pacer) takeDeltaLocked() string {
	delta := p.seg[p.sentOff:]
	p.sentOff = len(p.seg)
	return delta
}

// --- send path ---

// transmitLocked performs one network send. The lock must be held on
// entry; it is released around the call and the method returns unlocked.
func (p *Pacer) transmitLocked(ctx context.Context, kind chunkKind, content string) error {
	if kind == kindContent {
		p.pending = false
		if content == "" {
			p.mu.Unlock()
			return nil
		}
	}

	p.index++
	chunk := Chunk{
		Content:  content,
		Index:    p.index,
		StreamID: p.streamID,
		Final:    kind == kindFinal,
	}
	p.inFlight = true
	p.lastSend = p.clock.Now()
	switch kind {
	case kindKeepalive:
		p.keepalives++
	default:
		p.keepalives = 0
	}
	p.mu.Unlock()

	id, err := p.sender.SendChunk(ctx, chunk)

	p.mu.Lock()
	p.inFlight = false
	p.cond.Broadcast()
	if err != nil {
		slog.Warn("stream chunk send failed", "index", chunk.Index, "error", err)
	} else if p.streamID == "" {
		p.streamID = id
	}
	if p.ended || kind == kindFinal {
		p.mu.Unlock()
		return err
	}

	// Rearm keepalives: content restarts the silence window, a keepalive
	// chains at the longer gap until the consecutive cap is hit.
	if kind == kindKeepalive {
		if p.keepalives < p.cfg.MaxKeepalives {
			p.armKeepaliveLocked(p.cfg.KeepaliveGap)
		}
	} else {
		p.armKeepaliveLocked(p.cfg.KeepaliveDelay)
	}

	// Flush the coalesced pending increment once the interval allows.
	if p.pending {
		if wait := p.cfg.MinSendInterval - p.clock.Now().Sub(p.lastSend); wait > 0 {
			p.armFlushLocked(wait)
		} else {
			return p.transmitLocked(ctx, kindContent, p.takeDeltaLocked())
		}
	}
	p.mu.Unlock()
	return err
}

// --- timers ---

func (p *Pacer) armFlushLocked(d time.Duration) {
	if p.flushTimer != nil {
		return
	}
	p.flushTimer = p.clock.AfterFunc(d, p.onFlushTimer)
}

func (p *Pacer) armKeepaliveLocked(d time.Duration) {
	if p.kaTimer != nil {
		p.kaTimer.Stop()
	}
	p.kaTimer = p.clock.AfterFunc(d, p.onKeepaliveTimer)
}

func (p *Pacer) stopTimersLocked() {
	if p.kaTimer != nil {
		p.kaTimer.Stop()
		p.kaTimer = nil
	}
	if p.flushTimer != nil {
		p.flushTimer.Stop()
		p.flushTimer = nil
	}
	if p.capTimer != nil {
		p.capTimer.Stop()
		p.capTimer = nil
	}
}

func (p *Pacer) onFlushTimer() {
	p.mu.Lock()
	p.flushTimer = nil
	if p.ended || p.ctx.Err() != nil || p.inFlight || !p.pending {
		p.mu.Unlock()
		return
	}
	_ = p.transmitLocked(p.ctx, kindContent, p.takeDeltaLocked())
}

func (p *Pacer) onKeepaliveTimer() {
	p.mu.Lock()
	p.kaTimer = nil
	if p.ended || p.ctx.Err() != nil || p.keepalives >= p.cfg.MaxKeepalives {
		p.mu.Unlock()
		return
	}
	if p.inFlight || p.pending {
		// Content is about to go out; its completion rearms the timer.
		p.mu.Unlock()
		return
	}
	_ = p.transmitLocked(p.ctx, kindKeepalive, "")
}

// onCapTimer enforces the hard duration cap: an end-marker send and no
// further keepalives, regardless of pending state.
func (p *Pacer) onCapTimer() {
	if err := p.finish(""); err == nil {
		slog.Warn("stream hit hard duration cap, forced end")
	}
}
