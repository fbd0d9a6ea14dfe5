package repository

import (
	"context"
	"sync"
	"time"

	"github.com/studysync/studysync-go/internal/model"
)

// MemoryUserStore keeps users in process memory. Data is lost on restart.
type MemoryUserStore struct {
	mu      sync.RWMutex
	byID    map[string]*model.User
	byEmail map[string]string
}

// NewMemoryUserStore creates an empty in-memory user store.
func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{
		byID:    make(map[string]*model.User),
		byEmail: make(map[string]string),
	}
}

func (s *MemoryUserStore) Name() string { return "memory" }

func (s *MemoryUserStore) Ping(context.Context) error { return nil }

func (s *MemoryUserStore) InsertIfAbsent(_ context.Context, u *model.User) error {
	email := NormalizeEmail(u.Email)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byEmail[email]; taken {
		return ErrDuplicateEmail
	}
	if u.ID == "" {
		u.ID = NewID()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	u.Email = email

	stored := *u
	s.byID[u.ID] = &stored
	s.byEmail[email] = u.ID
	return nil
}

func (s *MemoryUserStore) FindByEmail(_ context.Context, email string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[NormalizeEmail(email)]
	if !ok {
		return nil, ErrUserNotFound
	}
	u := *s.byID[id]
	return &u, nil
}

func (s *MemoryUserStore) FindByID(_ context.Context, id string) (*model.User, error) {
	if !validID(id) {
		return nil, ErrUserNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byID[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryUserStore) UpdateStats(_ context.Context, id string, delta map[string]int) error {
	delta = knownStats(delta)

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return ErrUserNotFound
	}
	for name, n := range delta {
		u.Stats.Add(name, n)
	}
	return nil
}

func (s *MemoryUserStore) UpdateVerification(_ context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[NormalizeEmail(email)]
	if !ok {
		return ErrUserNotFound
	}
	s.byID[id].IsVerified = true
	return nil
}

func (s *MemoryUserStore) UpdateLastLogin(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return ErrUserNotFound
	}
	u.LastLogin = time.Now().UTC()
	return nil
}
