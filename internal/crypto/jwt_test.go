package crypto

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUser = SessionUser{ID: "64b7f0c2a1e4d3b2c1a09f8e", Email: "a@x.com", Name: "A"}

func TestGenerateAndValidateToken(t *testing.T) {
	token, exp, err := GenerateToken(testUser, "test-secret", 7*24*time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(7*24*time.Hour), exp, 5*time.Second)

	claims, err := ValidateToken(token, "test-secret")
	require.NoError(t, err)
	assert.Equal(t, testUser, claims.Session())
	assert.Equal(t, "studysync", claims.Issuer)
}

func TestValidateTokenExpired(t *testing.T) {
	token, _, err := GenerateToken(testUser, "test-secret", -time.Minute)
	require.NoError(t, err)

	_, err = ValidateToken(token, "test-secret")
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestValidateTokenWrongSecret(t *testing.T) {
	token, _, err := GenerateToken(testUser, "correct-secret", time.Hour)
	require.NoError(t, err)

	_, err = ValidateToken(token, "wrong-secret")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateTokenMalformed(t *testing.T) {
	_, err := ValidateToken("not-a-valid-token", "test-secret")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateTokenRejectsForeignClaims(t *testing.T) {
	sign := func(c Claims) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte("test-secret"))
		require.NoError(t, err)
		return s
	}
	future := jwt.NewNumericDate(time.Now().Add(time.Hour))

	tests := map[string]Claims{
		"wrong issuer": {
			RegisteredClaims: jwt.RegisteredClaims{Issuer: "someone-else", ExpiresAt: future},
			UserID:           testUser.ID,
		},
		"no expiry": {
			RegisteredClaims: jwt.RegisteredClaims{Issuer: "studysync"},
			UserID:           testUser.ID,
		},
		"no user id": {
			RegisteredClaims: jwt.RegisteredClaims{Issuer: "studysync", ExpiresAt: future},
		},
	}
	for name, c := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ValidateToken(sign(c), "test-secret")
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestValidateTokenRejectsNoneAlg(t *testing.T) {
	c := Claims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "studysync", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		UserID:           testUser.ID,
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodNone, c).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = ValidateToken(s, "test-secret")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
