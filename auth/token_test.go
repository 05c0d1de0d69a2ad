package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"marketplace-inbox/errors"
)

const secret = "a-test-secret-that-is-long-enough!!"

func TestTokenIssuer_RoundTrip(t *testing.T) {
	req := require.New(t)
	issuer, err := NewTokenIssuer(secret, time.Hour)
	req.NoError(err)

	token, err := issuer.GenerateToken("alice", "user")
	req.NoError(err)

	claims, err := issuer.ValidateToken(token)
	req.NoError(err)
	req.Equal("alice", claims.UserID)
	req.Equal([]string{"user"}, claims.Roles)
}

func TestTokenIssuer_Rejections(t *testing.T) {
	req := require.New(t)
	issuer, err := NewTokenIssuer(secret, time.Minute)
	req.NoError(err)
	token, err := issuer.GenerateToken("alice")
	req.NoError(err)

	// Signed with another key
	other, err := NewTokenIssuer(strings.Repeat("x", 40), time.Minute)
	req.NoError(err)
	_, err = other.ValidateToken(token)
	req.ErrorIs(err, errors.ErrUnauthorized)

	// Expired
	later := issuer
	later.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = later.ValidateToken(token)
	req.ErrorIs(err, errors.ErrUnauthorized)

	// Garbage
	_, err = issuer.ValidateToken("not.a.jwt")
	req.ErrorIs(err, errors.ErrUnauthorized)

	_, err = NewTokenIssuer("short", time.Minute)
	req.Error(err)
}

func TestBearerToken(t *testing.T) {
	req := require.New(t)

	token, err := BearerToken("Bearer abc.def")
	req.NoError(err)
	req.Equal("abc.def", token)

	token, err = BearerToken("bearer   xyz ")
	req.NoError(err)
	req.Equal("xyz", token)

	for _, header := range []string{"", "Bearer", "Basic abc", "Bearer   "} {
		_, err = BearerToken(header)
		req.ErrorIs(err, errors.ErrUnauthorized, "header=%q", header)
	}
}

func TestUserIDContext(t *testing.T) {
	req := require.New(t)
	_, ok := UserIDFrom(context.Background())
	req.False(ok)

	userID, ok := UserIDFrom(WithUserID(context.Background(), "bob"))
	req.True(ok)
	req.Equal("bob", userID)
}

func TestValidateRequest(t *testing.T) {
	req := require.New(t)
	type payload struct {
		TargetUserID string `validate:"required"`
		Limit        int    `validate:"gte=0,lte=200"`
	}

	req.NoError(ValidateRequest(payload{TargetUserID: "bob", Limit: 10}))

	err := ValidateRequest(payload{Limit: 500})
	req.ErrorIs(err, errors.ErrValidation)
	req.Contains(err.Error(), "TargetUserID failed required")
	req.Contains(err.Error(), "Limit failed lte")
}
