package oauth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const stateCacheSize = 10000

// StateStore holds the anti-forgery state values of sign-ins in progress.
// Each value is accepted once and only until it expires.
type StateStore struct {
	items *expirable.LRU[string, string]
}

// NewStateStore returns a store whose states live for ttl.
func NewStateStore(ttl time.Duration) *StateStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &StateStore{items: expirable.NewLRU[string, string](stateCacheSize, nil, ttl)}
}

// Create issues a new state bound to provider.
func (s *StateStore) Create(provider string) (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating oauth state: %w", err)
	}
	state := hex.EncodeToString(buf)
	s.items.Add(state, provider)
	return state, nil
}

// Consume reports whether state was issued for provider, and forgets it.
func (s *StateStore) Consume(state, provider string) bool {
	if state == "" {
		return false
	}
	got, ok := s.items.Get(state)
	if !ok {
		return false
	}
	s.items.Remove(state)
	return got == provider
}
