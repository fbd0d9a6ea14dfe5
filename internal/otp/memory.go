package otp

import (
	"context"
	"crypto/subtle"
	"sync"
	"time"

	"github.com/studysync/studysync-go/internal/model"
)

// MemoryStore keeps challenges in process memory.
type MemoryStore struct {
	mu          sync.Mutex
	entries     map[string]model.Challenge
	maxAttempts int
	retention   time.Duration
	now         func() time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock overrides the time source.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// WithRetention sets how long an expired challenge is kept before
// SweepExpired removes it.
func WithRetention(d time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		if d >= 0 {
			s.retention = d
		}
	}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(maxAttempts int, opts ...MemoryOption) *MemoryStore {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	s := &MemoryStore{
		entries:     make(map[string]model.Challenge),
		maxAttempts: maxAttempts,
		retention:   DefaultRetention,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Put(_ context.Context, c model.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[c.Email] = c
	return nil
}

func (s *MemoryStore) Get(_ context.Context, email string) (*model.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.entries[email]
	if !ok {
		return nil, ErrChallengeNotFound
	}
	if c.Expired(s.now()) {
		delete(s.entries, email)
		return nil, ErrChallengeNotFound
	}
	return &c, nil
}

func (s *MemoryStore) Verify(_ context.Context, email, code string, purpose model.Purpose) (*model.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.entries[email]
	if !ok {
		return nil, ErrChallengeNotFound
	}
	if c.Purpose != purpose {
		return nil, ErrPurposeMismatch
	}
	if c.Expired(s.now()) {
		delete(s.entries, email)
		return nil, ErrChallengeExpired
	}
	if c.Attempts >= s.maxAttempts {
		delete(s.entries, email)
		return nil, ErrAttemptsExceeded
	}
	if subtle.ConstantTimeCompare([]byte(c.Code), []byte(code)) != 1 {
		c.Attempts++
		s.entries[email] = c
		return nil, &InvalidCodeError{Remaining: s.maxAttempts - c.Attempts}
	}

	delete(s.entries, email)
	return &c, nil
}

func (s *MemoryStore) Delete(_ context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, email)
	return nil
}

func (s *MemoryStore) SweepExpired(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.retention)
	removed := 0
	for email, c := range s.entries {
		if c.Expired(cutoff) {
			delete(s.entries, email)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored challenges, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
