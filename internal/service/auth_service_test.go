package service_test

import (
	"testing"
	"time"

	"github.com/evetabi/snipe/internal/domain"
	"github.com/evetabi/snipe/internal/service"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestAuthService_IssueAndParse(t *testing.T) {
	auth := service.NewAuthService("s3cret", time.Hour)
	require.True(t, auth.Enabled())

	tok, expires, err := auth.IssueToken(" alice ")
	require.NoError(t, err)
	require.WithinDuration(t, time.Now().Add(time.Hour), expires, time.Minute)

	claims, err := auth.ParseAccessToken(tok)
	require.NoError(t, err)
	require.Equal(t, "alice", claims.Subject)
	require.NotEmpty(t, claims.ID)
}

func TestAuthService_Rejects(t *testing.T) {
	auth := service.NewAuthService("s3cret", time.Hour)
	other := service.NewAuthService("different", time.Hour)

	foreign, _, err := other.IssueToken("bob")
	require.NoError(t, err)
	_, err = auth.ParseAccessToken(foreign)
	require.ErrorIs(t, err, domain.ErrTokenInvalid)

	_, err = auth.ParseAccessToken("not-a-jwt")
	require.ErrorIs(t, err, domain.ErrTokenInvalid)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, service.AppClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "bob",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
		TokenType: "access",
	})
	signed, err := expired.SignedString([]byte("s3cret"))
	require.NoError(t, err)
	_, err = auth.ParseAccessToken(signed)
	require.ErrorIs(t, err, domain.ErrTokenInvalid)

	refresh := jwt.NewWithClaims(jwt.SigningMethodHS256, service.AppClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "bob"},
		TokenType:        "refresh",
	})
	signed, err = refresh.SignedString([]byte("s3cret"))
	require.NoError(t, err)
	_, err = auth.ParseAccessToken(signed)
	require.ErrorIs(t, err, domain.ErrTokenInvalid)

	_, _, err = auth.IssueToken("  ")
	require.Error(t, err)
}

func TestAuthService_Disabled(t *testing.T) {
	auth := service.NewAuthService("", 0)
	require.False(t, auth.Enabled())
	_, _, err := auth.IssueToken("alice")
	require.Error(t, err)
	_, err = auth.ParseAccessToken("x")
	require.ErrorIs(t, err, domain.ErrTokenInvalid)
}
