package server

import (
	"context"
	"net/http"

	autherrors "github.com/jrsteele09/go-auth-gate/internal/errors"
	"github.com/jrsteele09/go-auth-gate/principal"
	"github.com/rs/zerolog"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

// ContextKeyPrincipal stores the authenticated principal
const ContextKeyPrincipal ContextKey = "principal"

// PrincipalFromContext returns the principal RequireAuth attached, if any.
func PrincipalFromContext(ctx context.Context) (principal.Principal, bool) {
	p, ok := ctx.Value(ContextKeyPrincipal).(principal.Principal)
	return p, ok
}

// RequireAuth admits requests whose session holds a valid principal,
// refreshing expired provider tokens on the way. Anything else is 401.
func (s *Server) RequireAuth() func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			sessionID, _ := s.sessionID(r)

			p, err := s.auth.Authenticate(r.Context(), sessionID)
			if autherrors.Is(err, autherrors.ErrSession) {
				zerolog.Ctx(r.Context()).Err(err).Msg("session store unavailable")
				writeMessage(w, http.StatusInternalServerError, messageAuthError)
				return
			}
			if err != nil {
				writeMessage(w, http.StatusUnauthorized, messageUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyPrincipal, p)
			next(w, r.WithContext(ctx))
		}
	}
}

// RequireRealPrincipal rejects the demo identity with 403. Chain it after
// RequireAuth on routes that perform privileged actions.
func (s *Server) RequireRealPrincipal() func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				writeMessage(w, http.StatusUnauthorized, messageUnauthorized)
				return
			}
			if principal.IsDemo(p) {
				writeMessage(w, http.StatusForbidden, messageForbidden)
				return
			}
			next(w, r)
		}
	}
}
