package sqlitestore

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nextlevelbuilder/botgate/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "botgate.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_RoundTrip(t *testing.T) {
	s := openTestStore(t)

	rec := &store.SessionRecord{
		AccountID:        "10001",
		SessionID:        "sess-abc",
		LastSeq:          7,
		LastConnectedAt:  time.UnixMilli(1_700_000_000_000),
		IntentLevelIndex: 2,
		SavedAt:          time.UnixMilli(1_700_000_100_000),
	}
	if err := s.Save(rec); err != nil {
		t.Fatal(err)
	}
	got, err := s.Load("10001")
	if err != nil {
		t.Fatal(err)
	}
	if got.SessionID != "sess-abc" || got.LastSeq != 7 || got.IntentLevelIndex != 2 {
		t.Errorf("loaded record = %+v", got)
	}
	if got.LastConnectedAt.UnixMilli() != 1_700_000_000_000 {
		t.Errorf("LastConnectedAt = %v", got.LastConnectedAt)
	}
}

func TestStore_UpsertReplaces(t *testing.T) {
	s := openTestStore(t)

	s.Save(&store.SessionRecord{AccountID: "10001", SessionID: "old", LastSeq: 1})
	if err := s.Save(&store.SessionRecord{AccountID: "10001", SessionID: "new", LastSeq: 9}); err != nil {
		t.Fatal(err)
	}
	got, err := s.Load("10001")
	if err != nil {
		t.Fatal(err)
	}
	if got.SessionID != "new" || got.LastSeq != 9 {
		t.Errorf("record = %+v, want upserted values", got)
	}
}

func TestStore_LoadMissingAndClear(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.Load("missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	s.Save(&store.SessionRecord{AccountID: "10001", SessionID: "s"})
	if err := s.Clear("10001"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Load("10001"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err after clear = %v, want ErrNotFound", err)
	}
}
