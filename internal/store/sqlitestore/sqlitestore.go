// Package sqlitestore persists session records in a single sqlite
// database file, for deployments that prefer one datastore over a
// directory of JSON files.
package sqlitestore

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/botgate/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS session_records (
	account_id         TEXT PRIMARY KEY,
	session_id         TEXT NOT NULL,
	last_seq           INTEGER NOT NULL,
	last_connected_at  INTEGER NOT NULL,
	intent_level_index INTEGER NOT NULL,
	saved_at           INTEGER NOT NULL
);`

// Store is a sqlite-backed SessionStore.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open %s: %w", path, err)
	}
	// One writer at a time keeps modernc's file locking happy.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: init schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Load reads the record for accountID, or store.ErrNotFound.
func (s *Store) Load(accountID string) (*store.SessionRecord, error) {
	row := s.db.QueryRow(`
		SELECT session_id, last_seq, last_connected_at, intent_level_index, saved_at
		FROM session_records WHERE account_id = ?`, accountID)

	var rec store.SessionRecord
	var connectedAt, savedAt int64
	err := row.Scan(&rec.SessionID, &rec.LastSeq, &connectedAt, &rec.IntentLevelIndex, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: load record: %w", err)
	}
	rec.AccountID = accountID
	rec.LastConnectedAt = time.UnixMilli(connectedAt)
	rec.SavedAt = time.UnixMilli(savedAt)
	return &rec, nil
}

// Save upserts the record.
func (s *Store) Save(rec *store.SessionRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO session_records
			(account_id, session_id, last_seq, last_connected_at, intent_level_index, saved_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			session_id = excluded.session_id,
			last_seq = excluded.last_seq,
			last_connected_at = excluded.last_connected_at,
			intent_level_index = excluded.intent_level_index,
			saved_at = excluded.saved_at`,
		rec.AccountID, rec.SessionID, rec.LastSeq,
		rec.LastConnectedAt.UnixMilli(), rec.IntentLevelIndex, rec.SavedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("sqlitestore: save record: %w", err)
	}
	return nil
}

// Clear removes the record; clearing a missing record is not an error.
func (s *Store) Clear(accountID string) error {
	if _, err := s.db.Exec(`DELETE FROM session_records WHERE account_id = ?`, accountID); err != nil {
		return fmt.Errorf("sqlitestore: clear record: %w", err)
	}
	return nil
}
