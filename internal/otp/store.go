// Package otp keeps the single live one-time passcode challenge per email
// address and enforces its expiry, attempt limit and purpose.
package otp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/studysync/studysync-go/internal/model"
)

// DefaultMaxAttempts is the number of wrong codes tolerated before a
// challenge is discarded.
const DefaultMaxAttempts = 3

// DefaultRetention is how long an expired challenge is kept so that a late
// submission is answered with ErrChallengeExpired rather than not found.
const DefaultRetention = 10 * time.Minute

var (
	ErrChallengeNotFound = errors.New("no verification code found for this email")
	ErrChallengeExpired  = errors.New("verification code has expired")
	ErrAttemptsExceeded  = errors.New("too many failed attempts")
	ErrInvalidCode       = errors.New("invalid verification code")
	ErrPurposeMismatch   = errors.New("verification code was issued for a different action")
)

// InvalidCodeError is returned for a wrong code while attempts remain.
type InvalidCodeError struct {
	Remaining int
}

func (e *InvalidCodeError) Error() string {
	return fmt.Sprintf("%s: %d attempts remaining", ErrInvalidCode, e.Remaining)
}

func (e *InvalidCodeError) Unwrap() error { return ErrInvalidCode }

// Store holds at most one challenge per email.
type Store interface {
	// Put replaces any challenge stored for c.Email.
	Put(ctx context.Context, c model.Challenge) error
	// Get returns the live challenge for email. Expired entries are evicted.
	Get(ctx context.Context, email string) (*model.Challenge, error)
	// Verify checks code against the stored challenge and consumes it on
	// success.
	Verify(ctx context.Context, email, code string, purpose model.Purpose) (*model.Challenge, error)
	Delete(ctx context.Context, email string) error
	// SweepExpired removes every expired challenge and returns how many were
	// removed.
	SweepExpired(ctx context.Context) (int, error)
}

// NewChallenge builds a challenge for email valid for ttl from now.
func NewChallenge(email, code string, purpose model.Purpose, pending model.PendingUser, now time.Time, ttl time.Duration) model.Challenge {
	now = now.UTC().Truncate(time.Millisecond)
	return model.Challenge{
		Email:     email,
		Code:      code,
		Purpose:   purpose,
		Pending:   pending,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}
