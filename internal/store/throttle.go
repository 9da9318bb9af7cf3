package store

import (
	"sync"
	"time"
)

// DefaultSaveInterval bounds how often sequence-number advances hit disk.
const DefaultSaveInterval = 10 * time.Second

// ThrottledSaver wraps a SessionStore so that high-frequency writes
// (every received sequence number) are coalesced, while session-identity
// transitions persist immediately via SaveNow.
type ThrottledSaver struct {
	store    SessionStore
	interval time.Duration
	now      func() time.Time

	mu       sync.Mutex
	pending  *SessionRecord
	lastSave time.Time
}

// NewThrottledSaver creates a saver. interval <= 0 falls back to
// DefaultSaveInterval; now overrides the clock for tests (nil = time.Now).
func NewThrottledSaver(s SessionStore, interval time.Duration, now func() time.Time) *ThrottledSaver {
	if interval <= 0 {
		interval = DefaultSaveInterval
	}
	if now == nil {
		now = time.Now
	}
	return &ThrottledSaver{store: s, interval: interval, now: now}
}

// Save persists rec if enough time has passed since the last write;
// otherwise the record is held as pending and written by a later Save,
// SaveNow, or Flush. The latest record always supersedes older pending
// ones.
func (t *ThrottledSaver) Save(rec *SessionRecord) error {
	t.mu.Lock()
	now := t.now()
	if !t.lastSave.IsZero() && now.Sub(t.lastSave) < t.interval {
		cp := *rec
		t.pending = &cp
		t.mu.Unlock()
		return nil
	}
	t.lastSave = now
	t.pending = nil
	t.mu.Unlock()
	return t.store.Save(rec)
}

// SaveNow persists rec immediately, bypassing throttling. Used for
// session-identity transitions (new, resumed, invalidated).
func (t *ThrottledSaver) SaveNow(rec *SessionRecord) error {
	t.mu.Lock()
	t.lastSave = t.now()
	t.pending = nil
	t.mu.Unlock()
	return t.store.Save(rec)
}

// Flush writes any pending record. Called on shutdown.
func (t *ThrottledSaver) Flush() error {
	t.mu.Lock()
	rec := t.pending
	t.pending = nil
	if rec != nil {
		t.lastSave = t.now()
	}
	t.mu.Unlock()
	if rec == nil {
		return nil
	}
	return t.store.Save(rec)
}
