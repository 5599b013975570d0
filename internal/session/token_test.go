package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/joseph-ayodele/podcast-tracker/internal/common"
)

func signed(t *testing.T, sub string, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   sub,
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	s, err := tok.SignedString([]byte("k"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestCheckExpiry(t *testing.T) {
	now := time.Now()
	if err := CheckExpiry(signed(t, "u", now.Add(time.Hour)), now); err != nil {
		t.Fatalf("valid token rejected: %v", err)
	}
	err := CheckExpiry(signed(t, "u", now.Add(-time.Minute)), now)
	if !errors.Is(err, common.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := CheckExpiry("opaque-token", now); err != nil {
		t.Fatalf("opaque token rejected: %v", err)
	}
}

func TestFileTokenPicksUpRotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	src := FileToken(path)

	if err := os.WriteFile(path, []byte("first\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := src.Token(context.Background())
	if err != nil || got != "first" {
		t.Fatalf("got %q, %v", got, err)
	}

	if err := os.WriteFile(path, []byte("second"), 0o600); err != nil {
		t.Fatal(err)
	}
	got, err = src.Token(context.Background())
	if err != nil || got != "second" {
		t.Fatalf("got %q, %v", got, err)
	}
}

func TestEmptyTokenIsUnauthorized(t *testing.T) {
	if _, err := StaticToken(" ").Token(context.Background()); !errors.Is(err, common.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	t.Setenv("PT_TEST_TOKEN", "")
	if _, err := EnvToken("PT_TEST_TOKEN").Token(context.Background()); !errors.Is(err, common.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if _, err := FileToken(filepath.Join(t.TempDir(), "missing")).Token(context.Background()); !errors.Is(err, common.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestFromConfigAndSubject(t *testing.T) {
	tok := signed(t, "user-1", time.Now().Add(time.Hour))
	src := FromConfig(common.AuthConfig{Token: tok})
	got, err := src.Token(context.Background())
	if err != nil || got != tok {
		t.Fatalf("got %q, %v", got, err)
	}
	if Subject(got) != "user-1" {
		t.Fatalf("subject = %q", Subject(got))
	}
}
