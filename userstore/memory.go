package userstore

import (
	"context"
	"sync"

	"github.com/statlane/authsession"
)

// MemoryRepository is a map-backed lookup for tests and local runs.
type MemoryRepository struct {
	mu    sync.RWMutex
	users map[int64]authsession.User
}

var _ authsession.UserLookup = (*MemoryRepository)(nil)

func NewMemoryRepository(users ...authsession.User) *MemoryRepository {
	m := &MemoryRepository{users: make(map[int64]authsession.User, len(users))}
	for _, u := range users {
		m.users[u.ID] = u
	}
	return m
}

func (m *MemoryRepository) UserByID(_ context.Context, id int64) (*authsession.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, authsession.ErrUserNotFound
	}
	return &u, nil
}

func (m *MemoryRepository) Put(u authsession.User) {
	m.mu.Lock()
	m.users[u.ID] = u
	m.mu.Unlock()
}

func (m *MemoryRepository) Delete(id int64) {
	m.mu.Lock()
	delete(m.users, id)
	m.mu.Unlock()
}
