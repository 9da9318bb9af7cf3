package store

import (
	"sync"
	"testing"
	"time"
)

type memStore struct {
	mu    sync.Mutex
	recs  map[string]SessionRecord
	saves int
}

func newMemStore() *memStore {
	return &memStore{recs: make(map[string]SessionRecord)}
}

func (m *memStore) Load(accountID string) (*SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[accountID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := rec
	return &cp, nil
}

func (m *memStore) Save(rec *SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[rec.AccountID] = *rec
	m.saves++
	return nil
}

func (m *memStore) Clear(accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.recs, accountID)
	return nil
}

func (m *memStore) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func TestThrottledSaver_CoalescesRapidSaves(t *testing.T) {
	mem := newMemStore()
	now := time.Unix(1_700_000_000, 0)
	saver := NewThrottledSaver(mem, 10*time.Second, func() time.Time { return now })

	for seq := int64(1); seq <= 100; seq++ {
		if err := saver.Save(&SessionRecord{AccountID: "acct", LastSeq: seq}); err != nil {
			t.Fatal(err)
		}
	}

	if got := mem.saveCount(); got != 1 {
		t.Errorf("saves = %d, want 1 (first write only)", got)
	}

	// Flush writes the newest pending record, not an intermediate one.
	if err := saver.Flush(); err != nil {
		t.Fatal(err)
	}
	rec, err := mem.Load("acct")
	if err != nil {
		t.Fatal(err)
	}
	if rec.LastSeq != 100 {
		t.Errorf("flushed seq = %d, want 100", rec.LastSeq)
	}
}

func TestThrottledSaver_SaveNowBypassesThrottle(t *testing.T) {
	mem := newMemStore()
	now := time.Unix(1_700_000_000, 0)
	saver := NewThrottledSaver(mem, time.Hour, func() time.Time { return now })

	saver.Save(&SessionRecord{AccountID: "acct", LastSeq: 1})
	saver.Save(&SessionRecord{AccountID: "acct", LastSeq: 2}) // throttled

	if err := saver.SaveNow(&SessionRecord{AccountID: "acct", SessionID: "s-new", LastSeq: 3}); err != nil {
		t.Fatal(err)
	}
	rec, err := mem.Load("acct")
	if err != nil {
		t.Fatal(err)
	}
	if rec.SessionID != "s-new" || rec.LastSeq != 3 {
		t.Errorf("record = %+v, want immediate identity write", rec)
	}

	// SaveNow also discards the stale pending record.
	if err := saver.Flush(); err != nil {
		t.Fatal(err)
	}
	rec, _ = mem.Load("acct")
	if rec.LastSeq != 3 {
		t.Errorf("seq after flush = %d, want 3 (pending discarded)", rec.LastSeq)
	}
}

func TestThrottledSaver_SavesAgainAfterInterval(t *testing.T) {
	mem := newMemStore()
	now := time.Unix(1_700_000_000, 0)
	saver := NewThrottledSaver(mem, 10*time.Second, func() time.Time { return now })

	saver.Save(&SessionRecord{AccountID: "acct", LastSeq: 1})
	now = now.Add(11 * time.Second)
	saver.Save(&SessionRecord{AccountID: "acct", LastSeq: 2})

	if got := mem.saveCount(); got != 2 {
		t.Errorf("saves = %d, want 2", got)
	}
}

func TestSessionRecord_Resumable(t *testing.T) {
	tests := []struct {
		name string
		rec  *SessionRecord
		acct string
		want bool
	}{
		{"nil record", nil, "a", false},
		{"valid", &SessionRecord{AccountID: "a", SessionID: "s", LastSeq: 5}, "a", true},
		{"wrong account", &SessionRecord{AccountID: "b", SessionID: "s", LastSeq: 5}, "a", false},
		{"no session id", &SessionRecord{AccountID: "a", LastSeq: 5}, "a", false},
		{"no sequence", &SessionRecord{AccountID: "a", SessionID: "s"}, "a", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rec.Resumable(tt.acct); got != tt.want {
				t.Errorf("Resumable() = %v, want %v", got, tt.want)
			}
		})
	}
}
