// Package ratelimit enforces the passive-reply quota: a bounded number of
// replies to a given inbound message id inside a fixed window starting at
// the first reply. Exhaustion is not an error; callers switch to the
// proactive send path using the returned reason.
package ratelimit

import (
	"sync"
	"time"
)

const (
	// DefaultMaxReplies is the passive-reply quota per inbound message id.
	DefaultMaxReplies = 5

	// DefaultWindow is how long the passive channel stays open after the
	// first reply. Once elapsed the channel is closed for good; it never
	// resets to a fresh window on Check.
	DefaultWindow = 5 * time.Minute

	// sweepHighWater caps tracked ids before expired records are purged.
	sweepHighWater = 1024
)

// Fallback reasons reported on a denied check.
const (
	ReasonLimitExceeded = "limit_exceeded"
	ReasonExpired       = "expired"
)

// Decision is the outcome of a quota check. Used doubles as the dedupe
// seq base for the next passive send against the same inbound id.
type Decision struct {
	Allowed   bool
	Used      int
	Remaining int
	Reason    string // set only when denied
}

type quotaRecord struct {
	count        int
	firstReplyAt time.Time
}

// ReplyLimiter tracks passive-reply quota per inbound message id.
// Safe for concurrent use.
type ReplyLimiter struct {
	mu      sync.Mutex
	records map[string]*quotaRecord
	max     int
	window  time.Duration
	now     func() time.Time
}

// NewReplyLimiter creates a limiter. max <= 0 or window <= 0 fall back to
// the defaults. now overrides the clock for tests (nil = time.Now).
func NewReplyLimiter(max int, window time.Duration, now func() time.Time) *ReplyLimiter {
	if max <= 0 {
		max = DefaultMaxReplies
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if now == nil {
		now = time.Now
	}
	return &ReplyLimiter{
		records: make(map[string]*quotaRecord),
		max:     max,
		window:  window,
		now:     now,
	}
}

// Check reports whether another passive reply to messageID is allowed.
// An elapsed window denies with ReasonExpired: the passive channel for
// that id is permanently closed, not reset.
func (r *ReplyLimiter) Check(messageID string) Decision {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[messageID]
	if !ok {
		return Decision{Allowed: true, Remaining: r.max}
	}
	if r.now().Sub(rec.firstReplyAt) >= r.window {
		return Decision{Reason: ReasonExpired}
	}
	if rec.count >= r.max {
		return Decision{Used: rec.count, Reason: ReasonLimitExceeded}
	}
	return Decision{Allowed: true, Used: rec.count, Remaining: r.max - rec.count}
}

// Record counts one passive reply to messageID. An expired record is
// restarted. Record is only reached through the proactive path once the
// passive window has closed, so a restart here begins a fresh window.
func (r *ReplyLimiter) Record(messageID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	rec, ok := r.records[messageID]
	if !ok || now.Sub(rec.firstReplyAt) >= r.window {
		if len(r.records) >= sweepHighWater {
			r.sweepLocked(now)
		}
		r.records[messageID] = &quotaRecord{count: 1, firstReplyAt: now}
		return
	}
	rec.count++
}

// Tracked returns the number of message ids currently held.
func (r *ReplyLimiter) Tracked() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

func (r *ReplyLimiter) sweepLocked(now time.Time) {
	for id, rec := range r.records {
		if now.Sub(rec.firstReplyAt) >= r.window {
			delete(r.records, id)
		}
	}
}
