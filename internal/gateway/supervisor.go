// Package gateway owns the socket to the remote messaging gateway: the
// handshake/resume state machine, capability negotiation, heartbeats,
// and failure-classified reconnection. Inbound message events are
// normalized and handed to the inbound queue without ever blocking the
// read loop.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/botgate/internal/bus"
	"github.com/nextlevelbuilder/botgate/internal/msgapi"
	"github.com/nextlevelbuilder/botgate/internal/store"
)

// State is the supervisor's connection lifecycle position.
type State string

const (
	StateDisconnected       State = "disconnected"
	StateConnecting         State = "connecting"
	StateAwaitingHello      State = "awaiting_hello"
	StateIdentifying        State = "identifying"
	StateResuming           State = "resuming"
	StateReady              State = "ready"
	StateReconnectScheduled State = "reconnect_scheduled"
	StateStopped            State = "stopped"
)

// Credentials supplies the bot token and the gateway URL. Implemented
// by msgapi.Client.
type Credentials interface {
	AccessToken(ctx context.Context) (string, error)
	Gateway(ctx context.Context) (string, error)
	InvalidateToken()
}

// Config tunes one supervisor instance.
type Config struct {
	AccountID         string
	MaxAttempts       int           // reconnect budget (DefaultMaxAttempts if 0)
	HeartbeatFallback time.Duration // used when HELLO omits the interval
	SaveInterval      time.Duration // throttle for seq persistence (store default if 0)
	ShardID           int
	ShardCount        int
}

// Supervisor drives exactly one socket for one bot account.
type Supervisor struct {
	cfg   Config
	creds Credentials
	store store.SessionStore
	saver *store.ThrottledSaver
	queue *bus.Queue

	mu        sync.Mutex
	state     State
	client    *wsClient
	sessionID string
	lastSeq   int64
	intentIdx int
	recon     reconnectState
	hbCancel  context.CancelFunc
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// dropReason describes why a connection round ended.
type dropReason struct {
	ci         closeInfo
	fixedDelay time.Duration // overrides the backoff table when > 0
	connected  bool          // a socket was established this round
}

// NewSupervisor wires a supervisor to its collaborators.
func NewSupervisor(cfg Config, creds Credentials, st store.SessionStore, queue *bus.Queue) *Supervisor {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.HeartbeatFallback == 0 {
		cfg.HeartbeatFallback = 45 * time.Second
	}
	if cfg.ShardCount == 0 {
		cfg.ShardCount = 1
	}
	return &Supervisor{
		cfg:   cfg,
		creds: creds,
		store: st,
		saver: store.NewThrottledSaver(st, cfg.SaveInterval, nil),
		queue: queue,
		state: StateDisconnected,
	}
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CapabilityLevel returns the currently negotiated level.
func (s *Supervisor) CapabilityLevel() CapabilityLevel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return capabilityLevels[s.intentIdx]
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Start seeds continuity state from the session store and launches the
// connection loop.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return errors.New("gateway: supervisor already started")
	}

	rec, err := s.store.Load(s.cfg.AccountID)
	switch {
	case err == nil:
		s.intentIdx = clampLevel(rec.IntentLevelIndex)
		if rec.Resumable(s.cfg.AccountID) {
			s.sessionID = rec.SessionID
			s.lastSeq = rec.LastSeq
			slog.Info("gateway session record loaded",
				"session_id", rec.SessionID, "last_seq", rec.LastSeq,
				"capability", capabilityLevels[s.intentIdx].Name)
		}
	case errors.Is(err, store.ErrNotFound):
		// fresh account, widest level
	default:
		slog.Warn("gateway session record unreadable, starting fresh", "error", err)
	}

	sctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(sctx)
	return nil
}

// Stop cancels pending reconnect timers, closes the socket, waits for
// the loops to exit, and flushes deferred session writes.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	client := s.client
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if client != nil {
		client.close(CloseNormal, "shutdown")
	}
	s.wg.Wait()
	if err := s.saver.Flush(); err != nil {
		slog.Warn("gateway session flush failed", "error", err)
	}
}

// run is the reconnect loop: each iteration makes one connection round
// and then classifies the drop to decide the next move.
func (s *Supervisor) run(ctx context.Context) {
	defer s.wg.Done()
	for {
		if ctx.Err() != nil {
			s.setState(StateStopped)
			return
		}
		drop := s.connectAndServe(ctx)
		s.stopHeartbeat()
		if ctx.Err() != nil {
			s.setState(StateStopped)
			return
		}

		delay, retry := s.evaluateDrop(drop)
		if !retry {
			s.setState(StateStopped)
			return
		}
		s.setState(StateReconnectScheduled)
		slog.Info("gateway reconnect scheduled",
			"delay", delay, "close_code", drop.ci.code, "reason", drop.ci.reason,
			"attempt", s.recon.attempts)
		select {
		case <-ctx.Done():
			s.setState(StateStopped)
			return
		case <-time.After(delay):
		}
	}
}

// evaluateDrop applies close-code classification, the quick-disconnect
// guard, and the attempt budget.
func (s *Supervisor) evaluateDrop(drop dropReason) (time.Duration, bool) {
	quick := false
	if drop.connected {
		quick = s.recon.onDisconnect(time.Now())
	}

	switch classifyClose(drop.ci.code) {
	case actionStop:
		if fatalClose(drop.ci.code) {
			slog.Error("gateway account unusable, stopping permanently",
				"close_code", drop.ci.code, "reason", drop.ci.reason)
		} else {
			slog.Info("gateway closed normally, not reconnecting")
		}
		return 0, false
	case actionResume:
		// session left intact: next handshake resumes
	case actionIdentify:
		s.invalidateSession("server-side internal error")
	case actionBackoff:
		// resume if the record is still valid, otherwise identify
	}

	if s.recon.exhausted(s.cfg.MaxAttempts) {
		slog.Error("gateway reconnect budget exhausted", "attempts", s.recon.attempts)
		return 0, false
	}
	if drop.fixedDelay > 0 {
		s.recon.attempts++
		return drop.fixedDelay, true
	}
	if quick {
		slog.Warn("gateway quick-disconnect guard tripped, backing off hard",
			"delay", rateLimitDelay)
		s.recon.attempts++
		return rateLimitDelay, true
	}
	return s.recon.nextDelay(), true
}

// connectAndServe performs one full connection round: credential fetch,
// gateway discovery, dial, handshake, then the read loop until the
// socket drops.
func (s *Supervisor) connectAndServe(ctx context.Context) dropReason {
	s.setState(StateConnecting)

	if s.recon.refreshToken {
		slog.Info("gateway forcing credential refresh before connect")
		s.creds.InvalidateToken()
	}
	token, err := s.creds.AccessToken(ctx)
	if err != nil {
		return dropFromErr("token exchange", err)
	}
	wsURL, err := s.creds.Gateway(ctx)
	if err != nil {
		return dropFromErr("gateway discovery", err)
	}

	client, err := dialWS(ctx, wsURL)
	if err != nil {
		return dropReason{ci: closeInfo{code: 1006, reason: err.Error()}}
	}
	s.mu.Lock()
	s.client = client
	s.mu.Unlock()
	s.recon.onConnect(time.Now())

	s.setState(StateAwaitingHello)
	frame, err := client.readFrame(ctx)
	if err != nil {
		return dropReason{ci: parseCloseInfo(err), connected: true}
	}
	if frame.Op != OpHello {
		client.close(CloseNormal, "protocol error")
		return dropReason{
			ci:        closeInfo{code: 1006, reason: "expected HELLO as first frame"},
			connected: true,
		}
	}
	var hello helloData
	_ = json.Unmarshal(frame.D, &hello)
	interval := time.Duration(hello.HeartbeatInterval) * time.Millisecond
	if interval <= 0 {
		interval = s.cfg.HeartbeatFallback
	}

	if err := s.handshake(ctx, client, token); err != nil {
		return dropReason{ci: closeInfo{code: 1006, reason: err.Error()}, connected: true}
	}
	s.startHeartbeat(ctx, client, interval)

	for {
		frame, err := client.readFrame(ctx)
		if err != nil {
			return dropReason{ci: parseCloseInfo(err), connected: true}
		}
		if drop, done := s.handleFrame(ctx, client, frame); done {
			return drop
		}
	}
}

func dropFromErr(what string, err error) dropReason {
	drop := dropReason{ci: closeInfo{code: 1006, reason: what + ": " + err.Error()}}
	var apiErr *msgapi.APIError
	if errors.As(err, &apiErr) && apiErr.RateLimited() {
		drop.fixedDelay = rateLimitDelay
	}
	return drop
}

// handshake sends RESUME when a valid continuity record exists,
// otherwise IDENTIFY at the current capability level.
func (s *Supervisor) handshake(ctx context.Context, client *wsClient, token string) error {
	s.mu.Lock()
	sessionID, lastSeq, intentIdx := s.sessionID, s.lastSeq, s.intentIdx
	s.mu.Unlock()

	if sessionID != "" && lastSeq > 0 {
		s.setState(StateResuming)
		d, _ := json.Marshal(resumeData{Token: token, SessionID: sessionID, Seq: lastSeq})
		slog.Info("gateway resuming session", "session_id", sessionID, "seq", lastSeq)
		return client.writeFrame(ctx, &Frame{Op: OpResume, D: d})
	}

	s.setState(StateIdentifying)
	level := capabilityLevels[intentIdx]
	d, _ := json.Marshal(identifyData{
		Token:   token,
		Intents: level.Bits,
		Shard:   [2]int{s.cfg.ShardID, s.cfg.ShardCount},
	})
	slog.Info("gateway identifying", "capability", level.Name)
	return client.writeFrame(ctx, &Frame{Op: OpIdentify, D: d})
}

// handleFrame processes one inbound frame. done=true terminates the
// read loop with the given drop reason.
func (s *Supervisor) handleFrame(ctx context.Context, client *wsClient, frame *Frame) (dropReason, bool) {
	if frame.Seq != nil {
		s.applySeq(*frame.Seq)
	}

	switch frame.Op {
	case OpDispatch:
		s.handleDispatch(frame)

	case OpHeartbeatACK:
		slog.Debug("gateway heartbeat acked")

	case OpHello:
		// Interval change mid-connection: replace the timer atomically.
		var hello helloData
		_ = json.Unmarshal(frame.D, &hello)
		if hello.HeartbeatInterval > 0 {
			s.startHeartbeat(ctx, client, time.Duration(hello.HeartbeatInterval)*time.Millisecond)
		}

	case OpReconnect:
		client.close(CloseResumable, "server requested reconnect")
		return dropReason{
			ci:        closeInfo{code: CloseResumable, reason: "server requested reconnect"},
			connected: true,
		}, true

	case OpInvalidSession:
		return s.handleInvalidSession(client, frame), true
	}
	return dropReason{}, false
}

func (s *Supervisor) handleInvalidSession(client *wsClient, frame *Frame) dropReason {
	var resumable bool
	_ = json.Unmarshal(frame.D, &resumable)
	client.close(CloseNormal, "invalid session")

	if resumable {
		slog.Warn("gateway invalid session (resumable), retrying shortly")
		return dropReason{
			ci:         closeInfo{code: CloseResumable, reason: "invalid session (resumable)"},
			fixedDelay: invalidSessionDelay,
			connected:  true,
		}
	}

	s.invalidateSession("unrecoverable invalid session")
	s.mu.Lock()
	idx, narrowed := narrowLevel(s.intentIdx)
	if narrowed {
		s.intentIdx = idx
		slog.Warn("gateway narrowing capability level",
			"capability", capabilityLevels[idx].Name)
	} else {
		// Already at the narrowest level: force a credential refresh and
		// keep retrying there.
		s.recon.refreshToken = true
		slog.Warn("gateway at narrowest capability, forcing credential refresh")
	}
	s.mu.Unlock()

	return dropReason{
		ci:         closeInfo{code: 1006, reason: "invalid session (not resumable)"},
		fixedDelay: invalidSessionDelay,
		connected:  true,
	}
}

func (s *Supervisor) handleDispatch(frame *Frame) {
	switch frame.EventType {
	case eventReady:
		var ready readyData
		if err := json.Unmarshal(frame.D, &ready); err != nil {
			slog.Error("gateway READY parse failed", "error", err)
			return
		}
		s.mu.Lock()
		s.sessionID = ready.SessionID
		s.state = StateReady
		s.recon.onHandshake()
		rec := s.snapshotLocked()
		s.mu.Unlock()
		// Session-identity transition: persist immediately.
		if err := s.saver.SaveNow(rec); err != nil {
			slog.Warn("gateway session persist failed", "error", err)
		}
		slog.Info("gateway ready",
			"session_id", ready.SessionID, "bot", ready.User.Username)

	case eventResumed:
		s.mu.Lock()
		s.state = StateReady
		s.recon.onHandshake()
		rec := s.snapshotLocked()
		s.mu.Unlock()
		if err := s.saver.SaveNow(rec); err != nil {
			slog.Warn("gateway session persist failed", "error", err)
		}
		slog.Info("gateway session resumed", "last_seq", rec.LastSeq)

	case eventC2CMessage, eventGroupAtMessage, eventChannelAt, eventDirectMessage:
		ev, err := normalizeEvent(frame.EventType, frame.D)
		if err != nil {
			slog.Error("gateway event normalize failed",
				"event_type", frame.EventType, "error", err)
			return
		}
		// Never blocks: the queue drops its oldest entry on overflow.
		s.queue.Enqueue(ev)

	default:
		slog.Debug("gateway dispatch ignored", "event_type", frame.EventType)
	}
}

// applySeq records a received sequence number with throttled
// persistence.
func (s *Supervisor) applySeq(seq int64) {
	s.mu.Lock()
	if seq <= s.lastSeq {
		s.mu.Unlock()
		return
	}
	s.lastSeq = seq
	rec := s.snapshotLocked()
	s.mu.Unlock()
	if err := s.saver.Save(rec); err != nil {
		slog.Warn("gateway seq persist failed", "error", err)
	}
}

// snapshotLocked builds the persistable record. Lock must be held.
func (s *Supervisor) snapshotLocked() *store.SessionRecord {
	now := time.Now()
	return &store.SessionRecord{
		AccountID:        s.cfg.AccountID,
		SessionID:        s.sessionID,
		LastSeq:          s.lastSeq,
		LastConnectedAt:  now,
		IntentLevelIndex: s.intentIdx,
		SavedAt:          now,
	}
}

// invalidateSession clears the continuity record so the next handshake
// identifies from scratch.
func (s *Supervisor) invalidateSession(why string) {
	s.mu.Lock()
	s.sessionID = ""
	s.lastSeq = 0
	s.mu.Unlock()
	if err := s.store.Clear(s.cfg.AccountID); err != nil {
		slog.Warn("gateway session clear failed", "error", err)
	}
	slog.Info("gateway session invalidated", "why", why)
}

// --- heartbeat ---

// startHeartbeat replaces any running heartbeat with a new periodic
// timer; there is never more than one per supervisor.
func (s *Supervisor) startHeartbeat(ctx context.Context, client *wsClient, interval time.Duration) {
	s.stopHeartbeat()
	hctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.hbCancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-hctx.Done():
				return
			case <-ticker.C:
				s.sendHeartbeat(hctx, client)
			}
		}
	}()
}

func (s *Supervisor) stopHeartbeat() {
	s.mu.Lock()
	cancel := s.hbCancel
	s.hbCancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Supervisor) sendHeartbeat(ctx context.Context, client *wsClient) {
	s.mu.Lock()
	seq := s.lastSeq
	s.mu.Unlock()

	d := json.RawMessage("null")
	if seq > 0 {
		d, _ = json.Marshal(seq)
	}
	if err := client.writeFrame(ctx, &Frame{Op: OpHeartbeat, D: d}); err != nil {
		slog.Debug("gateway heartbeat send failed", "error", err)
	}
}
