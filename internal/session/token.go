// Package session supplies bearer tokens from the identity provider. Tokens
// rotate outside this process, so callers ask for one before every
// registration or poll instead of caching.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/joseph-ayodele/podcast-tracker/internal/common"
)

// TokenSource hands out a currently valid bearer token.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenFunc adapts a function to TokenSource.
type TokenFunc func(ctx context.Context) (string, error)

func (f TokenFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// StaticToken always returns the same token.
type StaticToken string

func (s StaticToken) Token(context.Context) (string, error) {
	return checked(string(s))
}

// EnvToken reads the named environment variable on every call.
type EnvToken string

func (e EnvToken) Token(ctx context.Context) (string, error) {
	return checked(os.Getenv(string(e)))
}

// FileToken re-reads a token file on every call so a sidecar can rotate it.
type FileToken string

func (f FileToken) Token(context.Context) (string, error) {
	b, err := os.ReadFile(string(f))
	if err != nil {
		return "", common.NewAppError(common.CodeUnauthorized, "Could not read session token", err)
	}
	return checked(string(b))
}

// FromConfig picks the token source configured for the process: a token file
// wins over an inline token.
func FromConfig(cfg common.AuthConfig) TokenSource {
	if cfg.TokenFile != "" {
		return FileToken(cfg.TokenFile)
	}
	return TokenFunc(func(context.Context) (string, error) { return checked(cfg.Token) })
}

func checked(raw string) (string, error) {
	tok := strings.TrimSpace(raw)
	if tok == "" {
		return "", common.NewAppError(common.CodeUnauthorized, "Session expired, please sign in again", common.ErrUnauthorized)
	}
	if err := CheckExpiry(tok, time.Now()); err != nil {
		return "", err
	}
	return tok, nil
}

var errExpired = errors.New("token expired")

// CheckExpiry rejects JWTs whose exp claim is already in the past. Signatures
// are the provider's concern; opaque (non-JWT) tokens pass through unchanged.
func CheckExpiry(token string, now time.Time) error {
	if strings.Count(token, ".") != 2 {
		return nil
	}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return nil
	}
	if claims.ExpiresAt != nil && !now.Before(claims.ExpiresAt.Time) {
		return common.NewAppError(common.CodeUnauthorized, "Session expired, please sign in again",
			fmt.Errorf("%w at %s", errExpired, claims.ExpiresAt.Time.UTC().Format(time.RFC3339)))
	}
	return nil
}

// Subject returns the sub claim of a JWT without verifying it, or "".
func Subject(token string) string {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return ""
	}
	return claims.Subject
}
