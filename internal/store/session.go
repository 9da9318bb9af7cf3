// Package store persists one gateway continuity record per bot account,
// durable across process restarts. Backends implement SessionStore; the
// file backend is the default, sqlite is available for deployments that
// prefer a single database file.
package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when no record exists for the account.
var ErrNotFound = errors.New("store: session record not found")

// SessionRecord is the continuity state needed to resume a gateway
// session: the server-assigned session id, the last applied sequence
// number, and the last capability level that completed a handshake.
type SessionRecord struct {
	AccountID        string    `json:"account_id"`
	SessionID        string    `json:"session_id"`
	LastSeq          int64     `json:"last_seq"`
	LastConnectedAt  time.Time `json:"last_connected_at"`
	IntentLevelIndex int       `json:"intent_level_index"`
	SavedAt          time.Time `json:"saved_at"`
}

// Resumable reports whether the record can seed a RESUME handshake for
// the given account. Records saved under a different account are never
// reused.
func (r *SessionRecord) Resumable(accountID string) bool {
	return r != nil && r.AccountID == accountID && r.SessionID != "" && r.LastSeq > 0
}

// SessionStore loads, saves, and clears the per-account record.
type SessionStore interface {
	Load(accountID string) (*SessionRecord, error)
	Save(rec *SessionRecord) error
	Clear(accountID string) error
}
