package repository

import (
	"context"
	"errors"
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/studysync/studysync-go/internal/model"
)

var (
	ErrUserNotFound   = errors.New("user not found")
	ErrDuplicateEmail = errors.New("email already exists")
)

// UserStore persists user accounts.
type UserStore interface {
	// InsertIfAbsent stores u unless its email is taken, in which case it
	// returns ErrDuplicateEmail. u.ID and u.CreatedAt are filled in when empty.
	InsertIfAbsent(ctx context.Context, u *model.User) error
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	FindByID(ctx context.Context, id string) (*model.User, error)
	// UpdateStats adds delta to the named counters. Unknown names are ignored.
	UpdateStats(ctx context.Context, id string, delta map[string]int) error
	UpdateVerification(ctx context.Context, email string) error
	UpdateLastLogin(ctx context.Context, id string) error
	Ping(ctx context.Context) error
	Name() string
}

// NormalizeEmail trims and lower-cases an address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NewID returns a fresh 24 hex character identifier.
func NewID() string {
	return primitive.NewObjectID().Hex()
}

func validID(id string) bool {
	_, err := primitive.ObjectIDFromHex(id)
	return err == nil
}

// knownStats drops unknown and zero counters from delta.
func knownStats(delta map[string]int) map[string]int {
	out := make(map[string]int, len(delta))
	for name, n := range delta {
		if n != 0 && model.IsStatName(name) {
			out[name] = n
		}
	}
	return out
}
