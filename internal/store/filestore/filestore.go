// Package filestore persists session records as one JSON file per
// account under a storage directory.
package filestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nextlevelbuilder/botgate/internal/store"
)

// Store writes one <account>.json file per account. Writes go through a
// temp file and rename so a crash never leaves a torn record.
type Store struct {
	dir string
}

// New creates the storage directory if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("filestore: create storage dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(accountID string) string {
	// Account ids are numeric in practice; sanitize anyway.
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, accountID)
	return filepath.Join(s.dir, safe+".json")
}

// Load reads the record for accountID, or store.ErrNotFound.
func (s *Store) Load(accountID string) (*store.SessionRecord, error) {
	data, err := os.ReadFile(s.path(accountID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("filestore: read record: %w", err)
	}
	var rec store.SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("filestore: parse record: %w", err)
	}
	if rec.AccountID != accountID {
		return nil, store.ErrNotFound
	}
	return &rec, nil
}

// Save writes the record atomically.
func (s *Store) Save(rec *store.SessionRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("filestore: marshal record: %w", err)
	}
	path := s.path(rec.AccountID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("filestore: write record: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("filestore: commit record: %w", err)
	}
	return nil
}

// Clear removes the record; clearing a missing record is not an error.
func (s *Store) Clear(accountID string) error {
	if err := os.Remove(s.path(accountID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("filestore: clear record: %w", err)
	}
	return nil
}
