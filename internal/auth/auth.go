// Package auth verifies bearer tokens and resolves them to a caller
// identity. Production deployments verify RS256 tokens against a JWKS
// endpoint; local development can bypass verification entirely.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned for tokens that fail verification.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrExpiredToken is returned for well-formed but expired tokens.
	ErrExpiredToken = errors.New("auth: token expired")
)

// Identity is the verified caller.
type Identity struct {
	// Subject is the stable caller id, used as the default document owner.
	Subject string `json:"sub"`
	// Name is the display name claim, when present.
	Name string `json:"name,omitempty"`
	// Email is the email claim, when present.
	Email string `json:"email,omitempty"`
}

// Verifier resolves a bearer token to an identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// tokenClaims adds the identity claims the service reads on top of the
// registered set.
type tokenClaims struct {
	Name              string `json:"name"`
	Email             string `json:"email"`
	PreferredUsername string `json:"preferred_username"`
	jwt.RegisteredClaims
}

// JWKSVerifier verifies RS256 tokens against a JWKS endpoint. Key material
// is fetched on construction and refreshed in the background.
type JWKSVerifier struct {
	keys     keyfunc.Keyfunc
	audience string
	issuer   string
}

// JWKSConfig configures a JWKSVerifier. Audience and Issuer are enforced
// when set.
type JWKSConfig struct {
	// JWKSURL is the signing-key discovery endpoint.
	JWKSURL string
	// Audience is the required token audience.
	Audience string
	// Issuer is the required token issuer.
	Issuer string
}

// NewJWKSVerifier fetches the signing keys and returns a ready verifier.
// The given context bounds the initial fetch and the refresh goroutine.
func NewJWKSVerifier(ctx context.Context, cfg JWKSConfig) (*JWKSVerifier, error) {
	if cfg.JWKSURL == "" {
		return nil, fmt.Errorf("auth: AUTH_JWKS_URL is required")
	}
	keys, err := keyfunc.NewDefaultCtx(ctx, []string{cfg.JWKSURL})
	if err != nil {
		return nil, fmt.Errorf("auth: fetch JWKS from %s: %w", cfg.JWKSURL, err)
	}
	return &JWKSVerifier{keys: keys, audience: cfg.Audience, issuer: cfg.Issuer}, nil
}

// Verify parses and validates token, returning the caller identity.
func (v *JWKSVerifier) Verify(_ context.Context, token string) (*Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256"}),
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &tokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, v.keys.Keyfunc, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	return identityFromClaims(claims), nil
}

// identityFromClaims maps token claims to an Identity. The email falls back
// to preferred_username, which Azure AD populates when no email claim is
// issued.
func identityFromClaims(claims *tokenClaims) *Identity {
	email := claims.Email
	if email == "" {
		email = claims.PreferredUsername
	}
	return &Identity{
		Subject: claims.Subject,
		Name:    claims.Name,
		Email:   email,
	}
}

// DevVerifier accepts every request with a fixed synthetic identity. Only
// for local development; the server logs loudly when it is active.
type DevVerifier struct {
	// Subject is the synthetic caller id. Defaults to "dev-user".
	Subject string
}

// Verify returns the synthetic identity regardless of the token.
func (v *DevVerifier) Verify(context.Context, string) (*Identity, error) {
	subject := v.Subject
	if subject == "" {
		subject = "dev-user"
	}
	return &Identity{Subject: subject, Name: "Development User"}, nil
}
