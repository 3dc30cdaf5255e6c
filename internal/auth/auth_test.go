package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/xtrntr/energy-market/internal/models"
)

func TestPasswords(t *testing.T) {
	p, err := NewPasswords(bcrypt.MinCost)
	require.NoError(t, err)

	hash, err := p.Hash("password123")
	require.NoError(t, err)
	assert.NotEqual(t, "password123", hash)

	tests := []struct {
		name     string
		hash     string
		password string
		expect   bool
	}{
		{name: "Match", hash: hash, password: "password123", expect: true},
		{name: "WrongPassword", hash: hash, password: "wrongpass", expect: false},
		{name: "CaseSensitive", hash: hash, password: "Password123", expect: false},
		{name: "UnknownUser", hash: "", password: "password123", expect: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, p.Compare(tt.hash, tt.password))
		})
	}
}

func TestPasswords_TooLong(t *testing.T) {
	p, err := NewPasswords(bcrypt.MinCost)
	require.NoError(t, err)

	_, err = p.Hash(strings.Repeat("p", 100))
	assert.Error(t, err)
}

func TestNewPasswords_BadCost(t *testing.T) {
	_, err := NewPasswords(bcrypt.MaxCost + 1)
	assert.Error(t, err)
}

func TestTokenService(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s := NewTokenService([]byte("my-secret-key"), time.Hour)
	s.now = func() time.Time { return now }

	alice := models.Participant{ID: "p-1", Username: "alice"}
	token, expiresAt, err := s.Issue("s-1", alice)
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour), expiresAt)

	other := NewTokenService([]byte("wrong-key"), time.Hour)
	other.now = s.now
	invalidToken, _, err := other.Issue("s-1", alice)
	require.NoError(t, err)

	noneToken, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sid":            "s-1",
		"participant_id": "p-1",
		"exp":            now.Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	missingSID, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"participant_id": "p-1",
		"exp":            now.Add(time.Hour).Unix(),
	}).SignedString([]byte("my-secret-key"))
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sid":            "s-1",
		"participant_id": "p-1",
	}).SignedString([]byte("my-secret-key"))
	require.NoError(t, err)

	tests := []struct {
		name        string
		token       string
		expectError bool
	}{
		{name: "Success", token: token},
		{name: "InvalidSignature", token: invalidToken, expectError: true},
		{name: "NoneAlgorithm", token: noneToken, expectError: true},
		{name: "MissingSessionID", token: missingSID, expectError: true},
		{name: "MissingExpiry", token: noExpiry, expectError: true},
		{name: "EmptyToken", token: "", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := s.Parse(tt.token)
			if tt.expectError {
				assert.ErrorIs(t, err, ErrInvalidToken)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "s-1", claims.SessionID)
			assert.Equal(t, "p-1", claims.ParticipantID)
			assert.Equal(t, "alice", claims.Username)
			assert.True(t, expiresAt.Equal(claims.ExpiresAt))
		})
	}
}

func TestTokenService_Expired(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s := NewTokenService([]byte("my-secret-key"), time.Minute)
	s.now = func() time.Time { return now }

	token, _, err := s.Issue("s-1", models.Participant{ID: "p-1", Username: "alice"})
	require.NoError(t, err)

	s.now = func() time.Time { return now.Add(2 * time.Minute) }
	_, err = s.Parse(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
