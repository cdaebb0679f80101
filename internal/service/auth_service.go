package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/evetabi/snipe/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ──────────────────────────────────────────────────────────────────────────────
// JWT claims
// ──────────────────────────────────────────────────────────────────────────────

// AppClaims extends jwt.RegisteredClaims with the token type.
type AppClaims struct {
	jwt.RegisteredClaims
	TokenType string `json:"type"`
}

const tokenTypeAccess = "access"

// ──────────────────────────────────────────────────────────────────────────────
// AuthService
// ──────────────────────────────────────────────────────────────────────────────

// AuthService issues and verifies operator tokens for the HTTP API and the
// WebSocket feed. There are no user accounts: whoever holds the signing
// secret (snipectl token) can mint a token for any operator name.
//
// An AuthService built with an empty secret is disabled; the API then runs
// unauthenticated.
type AuthService struct {
	secret []byte
	ttl    time.Duration
}

// NewAuthService creates an AuthService. ttl <= 0 defaults to 24h.
func NewAuthService(secret string, ttl time.Duration) *AuthService {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &AuthService{secret: []byte(secret), ttl: ttl}
}

// Enabled reports whether a signing secret is configured.
func (s *AuthService) Enabled() bool { return len(s.secret) > 0 }

// IssueToken signs an access token for operator.
func (s *AuthService) IssueToken(operator string) (string, time.Time, error) {
	if !s.Enabled() {
		return "", time.Time{}, fmt.Errorf("auth_service.IssueToken: no signing secret configured")
	}
	operator = strings.TrimSpace(operator)
	if operator == "" {
		return "", time.Time{}, fmt.Errorf("auth_service.IssueToken: operator name required")
	}

	now := time.Now().UTC()
	expires := now.Add(s.ttl)
	claims := AppClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   operator,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		TokenType: tokenTypeAccess,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth_service.IssueToken: sign: %w", err)
	}
	return signed, expires, nil
}

// ParseAccessToken validates the signature, algorithm, expiry and type of a
// token and returns its claims.
func (s *AuthService) ParseAccessToken(tokenString string) (*AppClaims, error) {
	if !s.Enabled() {
		return nil, domain.ErrTokenInvalid
	}
	tok, err := jwt.ParseWithClaims(tokenString, &AppClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !tok.Valid {
		return nil, domain.ErrTokenInvalid
	}
	claims, ok := tok.Claims.(*AppClaims)
	if !ok || claims.TokenType != tokenTypeAccess || claims.Subject == "" {
		return nil, domain.ErrTokenInvalid
	}
	return claims, nil
}
