package model

import "time"

// Purpose scopes what an OTP challenge proves and what its pending data means.
type Purpose string

const (
	PurposeRegister Purpose = "register"
	PurposeLogin    Purpose = "login"
)

// Valid reports whether p is a supported purpose.
func (p Purpose) Valid() bool {
	return p == PurposeRegister || p == PurposeLogin
}

// PendingUser is the data needed to finish a flow once the code is verified:
// name and password hash for a registration, the user id for a login.
type PendingUser struct {
	Name         string `bson:"name,omitempty"`
	PasswordHash string `bson:"passwordHash,omitempty"`
	UserID       string `bson:"userId,omitempty"`
}

// Challenge is the single live OTP entry for an email.
type Challenge struct {
	Email     string      `bson:"_id"`
	Code      string      `bson:"code"`
	Purpose   Purpose     `bson:"purpose"`
	Pending   PendingUser `bson:"pending"`
	Attempts  int         `bson:"attempts"`
	CreatedAt time.Time   `bson:"createdAt"`
	ExpiresAt time.Time   `bson:"expiresAt"`
}

// Expired reports whether the challenge is past its expiry at now.
func (c *Challenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
