package server

import (
	"net/http"

	"github.com/jrsteele09/go-auth-gate/auth"
	autherrors "github.com/jrsteele09/go-auth-gate/internal/errors"
	"github.com/jrsteele09/go-auth-gate/principal"
	"github.com/rs/zerolog"
)

// LoginHandler starts a provider login, or lands the browser in a demo
// session when that is not possible.
func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := zerolog.Ctx(r.Context())

		// A new login never inherits an existing session.
		if old, ok := s.sessionID(r); ok {
			if err := s.auth.DestroySession(r.Context(), old); err != nil {
				logger.Warn().Err(err).Str("session", auth.SessionTag(old)).Msg("login: failed to drop previous session")
			}
		}

		outcome, err := s.auth.Login(r.Context(), s.requestHost(r), r.URL.Query().Get("returnTo"))
		if err != nil {
			logger.Err(err).Msg("login: unable to establish session")
			writeMessage(w, http.StatusInternalServerError, messageAuthError)
			return
		}

		if outcome.Demo {
			if err := s.SetSessionCookie(w, outcome.SessionID); err != nil {
				logger.Err(err).Msg("login: unable to sign session cookie")
				writeMessage(w, http.StatusInternalServerError, messageAuthError)
				return
			}
			http.Redirect(w, r, outcome.RedirectURL, http.StatusFound)
			return
		}

		s.SetAuthStateCookie(w, outcome.State)
		http.Redirect(w, r, outcome.RedirectURL, http.StatusFound)
	}
}

// CallbackHandler completes the provider login. Every failure other than a
// session store outage sends the browser back to the login route.
func (s *Server) CallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := zerolog.Ctx(r.Context())
		q := r.URL.Query()
		s.clearAuthStateCookie(w)

		outcome, err := s.auth.Callback(r.Context(), auth.CallbackRequest{
			Host:          s.requestHost(r),
			State:         q.Get("state"),
			CookieState:   authState(r),
			Code:          q.Get("code"),
			ProviderError: q.Get("error"),
		})
		if autherrors.Is(err, autherrors.ErrSession) {
			logger.Err(err).Msg("callback: unable to store session")
			writeMessage(w, http.StatusInternalServerError, messageAuthError)
			return
		}
		if err != nil {
			logger.Warn().Err(err).Msg("callback failed, restarting login")
			http.Redirect(w, r, RouteLogin, http.StatusFound)
			return
		}

		if old, ok := s.sessionID(r); ok && old != outcome.SessionID {
			if err := s.auth.DestroySession(r.Context(), old); err != nil {
				logger.Warn().Err(err).Str("session", auth.SessionTag(old)).Msg("callback: failed to drop previous session")
			}
		}

		if err := s.SetSessionCookie(w, outcome.SessionID); err != nil {
			logger.Err(err).Msg("callback: unable to sign session cookie")
			writeMessage(w, http.StatusInternalServerError, messageAuthError)
			return
		}
		http.Redirect(w, r, outcome.RedirectURL, http.StatusFound)
	}
}

// LogoutHandler always ends the local session, then redirects to the
// provider's end-session endpoint or the app root.
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID, _ := s.sessionID(r)
		target := s.auth.Logout(r.Context(), sessionID, s.origin(r))

		s.ClearSessionCookie(w)
		http.Redirect(w, r, target, http.StatusFound)
	}
}

// AuthUserHandler returns the caller's public profile. Tokens never leave
// the server.
func (s *Server) AuthUserHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFromContext(r.Context())
		if !ok {
			writeMessage(w, http.StatusUnauthorized, messageUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, p.Profile())
	}
}

type adminCheckResponse struct {
	Subject string         `json:"sub"`
	Kind    principal.Kind `json:"kind"`
	Allowed bool           `json:"allowed"`
}

// AdminCheckHandler sits behind RequireRealPrincipal; reaching it means the
// caller holds a provider-issued identity.
func (s *Server) AdminCheckHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFromContext(r.Context())
		if !ok {
			writeMessage(w, http.StatusUnauthorized, messageUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, adminCheckResponse{Subject: p.Subject(), Kind: p.Kind(), Allowed: true})
	}
}

func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReadyHandler reports whether the session store answers.
func (s *Server) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.auth.Ready(r.Context()); err != nil {
			zerolog.Ctx(r.Context()).Warn().Err(err).Msg("readiness check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
