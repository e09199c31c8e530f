package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"sync"
	"time"
)

// MemoryStore is an in-process refresh-record store. A single mutex serializes
// every operation, which gives Rotate the same compare-and-swap semantics as the
// Redis script.
type MemoryStore struct {
	mu      sync.Mutex
	records map[int64]Record
	replays map[int64]int64
	now     func() time.Time
}

// NewMemoryStore returns an empty store. A nil now uses time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		records: make(map[int64]Record),
		replays: make(map[int64]int64),
		now:     now,
	}
}

func (m *MemoryStore) Put(_ context.Context, rec Record) error {
	if rec.UserID <= 0 {
		return errors.New("invalid record user id")
	}
	if rec.ttl() <= 0 {
		return errors.New("refresh record already expired")
	}

	m.mu.Lock()
	m.records[rec.UserID] = rec
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, userID int64) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.lookupLocked(userID)
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (m *MemoryStore) Matches(_ context.Context, userID int64, presented [32]byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.lookupLocked(userID)
	if !ok {
		return false, nil
	}
	return subtle.ConstantTimeCompare(rec.Hash[:], presented[:]) == 1, nil
}

func (m *MemoryStore) Revoke(_ context.Context, userID int64) error {
	m.mu.Lock()
	delete(m.records, userID)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Rotate(_ context.Context, userID int64, presented [32]byte, next Record) error {
	if next.UserID != userID {
		return errors.New("rotation record belongs to another user")
	}
	if next.ttl() <= 0 {
		return errors.New("refresh record already expired")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[userID]
	if !ok {
		return ErrNotFound
	}
	if rec.ExpiresAt <= next.IssuedAt {
		delete(m.records, userID)
		return errors.Join(ErrNotFound, ErrRecordExpired)
	}
	if subtle.ConstantTimeCompare(rec.Hash[:], presented[:]) != 1 {
		delete(m.records, userID)
		return ErrHashMismatch
	}

	m.records[userID] = next
	return nil
}

func (m *MemoryStore) TrackReplayAnomaly(_ context.Context, userID int64, _ time.Duration) error {
	m.mu.Lock()
	m.replays[userID]++
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) ReplayCount(_ context.Context, userID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.replays[userID], nil
}

func (m *MemoryStore) Ping(context.Context) (time.Duration, error) {
	return 0, nil
}

func (m *MemoryStore) lookupLocked(userID int64) (Record, bool) {
	rec, ok := m.records[userID]
	if !ok {
		return Record{}, false
	}
	if rec.ExpiredAt(m.now()) {
		delete(m.records, userID)
		return Record{}, false
	}
	return rec, true
}
