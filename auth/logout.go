package auth

import (
	"context"

	"github.com/rs/zerolog/log"
)

const rootRoute = "/"

// Logout destroys the session and returns where to send the browser: the
// provider's end-session URL when one can be built, otherwise the app root.
// origin is the post-logout redirect, scheme://host of the request.
func (s *Service) Logout(ctx context.Context, sessionID, origin string) string {
	if err := s.DestroySession(ctx, sessionID); err != nil {
		log.Err(err).Str("session", SessionTag(sessionID)).Msg("logout: failed to delete session")
	}

	if !s.Configured() {
		return rootRoute
	}

	cfg, err := s.provider.Discover(ctx)
	if err != nil {
		log.Err(err).Msg("logout: discovery failed, redirecting to root")
		return rootRoute
	}
	u, err := s.provider.LogoutURL(cfg, origin)
	if err != nil {
		log.Err(err).Msg("logout: no end-session URL, redirecting to root")
		return rootRoute
	}
	return u
}

// DestroySession removes a session from the store. An empty id is a no-op.
func (s *Service) DestroySession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if err := s.repos.Sessions.Delete(ctx, sessionID); err != nil {
		return wrapSessionErr("[auth DestroySession]", err)
	}
	return nil
}
