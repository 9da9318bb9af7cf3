package gateway

import "time"

// reconnectDelays is indexed by consecutive attempt count and capped at
// the last entry.
var reconnectDelays = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	5 * time.Second,
	10 * time.Second,
	30 * time.Second,
	60 * time.Second,
}

const (
	// DefaultMaxAttempts is the overall reconnect budget before the
	// supervisor gives up permanently.
	DefaultMaxAttempts = 120

	// rateLimitDelay replaces the table when the server signals a
	// throttle, and when the quick-disconnect guard trips.
	rateLimitDelay = 5 * time.Minute

	// invalidSessionDelay is the short fixed wait before retrying the
	// handshake after an INVALID_SESSION.
	invalidSessionDelay = 5 * time.Second

	// quickDisconnectThreshold marks a connection lifetime as suspect.
	quickDisconnectThreshold = 10 * time.Second

	// quickDisconnectCap is the run length of suspect lifetimes that
	// trips the guard.
	quickDisconnectCap = 3
)

// reconnectState tracks the backoff position between connection
// attempts. In-memory only, reset on a successful handshake.
type reconnectState struct {
	attempts         int
	lastConnectAt    time.Time
	quickDisconnects int
	refreshToken     bool // force a credential refresh before the next dial
}

// nextDelay returns the table delay for the upcoming attempt and counts
// it against the budget.
func (r *reconnectState) nextDelay() time.Duration {
	idx := r.attempts
	if idx >= len(reconnectDelays) {
		idx = len(reconnectDelays) - 1
	}
	r.attempts++
	return reconnectDelays[idx]
}

// exhausted reports whether the attempt budget is spent.
func (r *reconnectState) exhausted(maxAttempts int) bool {
	return maxAttempts > 0 && r.attempts >= maxAttempts
}

// onConnect records the dial time for lifetime measurement.
func (r *reconnectState) onConnect(now time.Time) {
	r.lastConnectAt = now
}

// onHandshake resets the backoff position after READY or RESUMED.
func (r *reconnectState) onHandshake() {
	r.attempts = 0
	r.refreshToken = false
}

// onDisconnect measures the connection lifetime. It returns true when a
// run of quick disconnects reaches the cap: the caller applies the long
// rate-limit delay exactly once and the counter starts over. This keeps
// a rejected or misconfigured credential from hot-looping the dialer.
func (r *reconnectState) onDisconnect(now time.Time) bool {
	if r.lastConnectAt.IsZero() {
		return false
	}
	if now.Sub(r.lastConnectAt) < quickDisconnectThreshold {
		r.quickDisconnects++
		if r.quickDisconnects >= quickDisconnectCap {
			r.quickDisconnects = 0
			return true
		}
		return false
	}
	r.quickDisconnects = 0
	return false
}
