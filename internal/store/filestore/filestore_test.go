package filestore

import (
	"errors"
	"testing"
	"time"

	"github.com/nextlevelbuilder/botgate/internal/store"
)

func TestStore_RoundTrip(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	rec := &store.SessionRecord{
		AccountID:        "10001",
		SessionID:        "sess-abc",
		LastSeq:          42,
		LastConnectedAt:  time.Unix(1_700_000_000, 0).UTC(),
		IntentLevelIndex: 1,
		SavedAt:          time.Unix(1_700_000_100, 0).UTC(),
	}
	if err := s.Save(rec); err != nil {
		t.Fatal(err)
	}

	got, err := s.Load("10001")
	if err != nil {
		t.Fatal(err)
	}
	if got.SessionID != "sess-abc" || got.LastSeq != 42 || got.IntentLevelIndex != 1 {
		t.Errorf("loaded record = %+v", got)
	}
	if !got.LastConnectedAt.Equal(rec.LastConnectedAt) {
		t.Errorf("LastConnectedAt = %v, want %v", got.LastConnectedAt, rec.LastConnectedAt)
	}
}

func TestStore_LoadMissing(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Load("nope"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestStore_Clear(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Save(&store.SessionRecord{AccountID: "10001", SessionID: "s"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Clear("10001"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Load("10001"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err after clear = %v, want ErrNotFound", err)
	}
	// Clearing again is fine.
	if err := s.Clear("10001"); err != nil {
		t.Errorf("second clear: %v", err)
	}
}

func TestStore_RejectsCrossAccountRecord(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}
	// A record saved under one account must never resume another, even if
	// the file were copied into place by hand.
	if err := s.Save(&store.SessionRecord{AccountID: "20002", SessionID: "s"}); err != nil {
		t.Fatal(err)
	}
	rec, err := s.Load("20002")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Resumable("10001") {
		t.Error("record for 20002 reported resumable for 10001")
	}
}
