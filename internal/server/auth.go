package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/docq-ai/docq-go/internal/auth"
	"github.com/docq-ai/docq-go/internal/logging"
)

// identityKey is the context key under which the verified caller is stored.
type identityKey struct{}

// identityFrom returns the verified caller identity from the request context,
// or nil when authentication is disabled.
func identityFrom(ctx context.Context) *auth.Identity {
	id, _ := ctx.Value(identityKey{}).(*auth.Identity)
	return id
}

// authMiddleware verifies the bearer token on protected routes and stores the
// resulting identity in the request context. With no verifier configured the
// middleware passes requests through unauthenticated; the server logs a
// warning at startup, not per request.
//
// Requests missing or presenting an invalid token receive 401 Unauthorized
// with a WWW-Authenticate: Bearer challenge. Token values are never logged.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	if s.cfg.Verifier == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := logging.FromContext(r.Context())

		token := bearerToken(r)
		if token == "" {
			log.Warn("auth: missing Authorization header",
				slog.String("path", r.URL.Path),
			)
			w.Header().Set("WWW-Authenticate", `Bearer realm="docq"`)
			writeError(w, http.StatusUnauthorized, "authorization required")
			return
		}

		identity, err := s.cfg.Verifier.Verify(r.Context(), token)
		if err != nil {
			log.Warn("auth: token rejected",
				slog.String("path", r.URL.Path),
				slog.Any("error", err),
			)
			w.Header().Set("WWW-Authenticate", `Bearer realm="docq" error="invalid_token"`)
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), identityKey{}, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// handleAuthVerify handles POST /api/auth/verify. A token supplied in the
// request body is verified on its own; without one the identity the
// middleware already established for the Authorization header is reported.
func (s *Server) handleAuthVerify(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Verifier == nil {
		writeError(w, http.StatusNotImplemented, "authentication is not configured")
		return
	}

	var req verifyRequest
	// The body is optional; a missing or non-JSON body means header-only.
	_ = json.NewDecoder(r.Body).Decode(&req)

	if req.Token == "" {
		identity := identityFrom(r.Context())
		if identity == nil {
			writeError(w, http.StatusUnauthorized, "no token to verify")
			return
		}
		writeJSON(w, http.StatusOK, verifyResponse{Valid: true, User: identity})
		return
	}

	identity, err := s.cfg.Verifier.Verify(r.Context(), req.Token)
	if err != nil {
		logging.FromContext(r.Context()).Warn("auth: verify rejected token", slog.Any("error", err))
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	writeJSON(w, http.StatusOK, verifyResponse{Valid: true, User: identity})
}

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header. Returns an empty string if the header is absent or malformed.
func bearerToken(r *http.Request) string {
	hdr := r.Header.Get("Authorization")
	if hdr == "" {
		return ""
	}
	parts := strings.SplitN(hdr, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
