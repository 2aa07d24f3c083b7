package auth

import (
	"context"
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

func TestIdentityFromClaims_EmailFallback(t *testing.T) {
	t.Parallel()

	claims := &tokenClaims{
		Name:              "Ada",
		PreferredUsername: "ada@example.com",
		RegisteredClaims:  jwt.RegisteredClaims{Subject: "user-1"},
	}
	id := identityFromClaims(claims)
	if id.Subject != "user-1" || id.Name != "Ada" {
		t.Fatalf("unexpected identity: %+v", id)
	}
	if id.Email != "ada@example.com" {
		t.Errorf("expected preferred_username fallback, got %q", id.Email)
	}

	claims.Email = "primary@example.com"
	if got := identityFromClaims(claims).Email; got != "primary@example.com" {
		t.Errorf("explicit email claim must win, got %q", got)
	}
}

func TestDevVerifier(t *testing.T) {
	t.Parallel()

	id, err := (&DevVerifier{}).Verify(context.Background(), "anything")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if id.Subject != "dev-user" {
		t.Errorf("expected default subject dev-user, got %q", id.Subject)
	}

	id, err = (&DevVerifier{Subject: "tester"}).Verify(context.Background(), "")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if id.Subject != "tester" {
		t.Errorf("expected configured subject, got %q", id.Subject)
	}
}

func TestNewJWKSVerifier_RequiresURL(t *testing.T) {
	t.Parallel()

	if _, err := NewJWKSVerifier(context.Background(), JWKSConfig{}); err == nil {
		t.Fatal("expected an error without a JWKS URL")
	}
}
