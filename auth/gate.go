package auth

import (
	"context"
	"fmt"

	autherrors "github.com/jrsteele09/go-auth-gate/internal/errors"
	"github.com/jrsteele09/go-auth-gate/principal"
	"github.com/jrsteele09/go-auth-gate/sessions"
	"github.com/rs/zerolog/log"
)

// Authenticate returns the principal for sessionID, refreshing its tokens
// when they have expired. Errors wrapping ErrUnauthenticated mean 401;
// errors wrapping ErrSession mean the store failed.
func (s *Service) Authenticate(ctx context.Context, sessionID string) (principal.Principal, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("[auth Authenticate] %w: no session", autherrors.ErrUnauthenticated)
	}

	sess, err := s.repos.Sessions.Get(ctx, sessionID)
	if autherrors.Is(err, autherrors.ErrSessionNotFound) {
		return nil, fmt.Errorf("[auth Authenticate] %w: %w", autherrors.ErrUnauthenticated, err)
	}
	if err != nil {
		return nil, wrapSessionErr("[auth Authenticate]", err)
	}

	switch p := sess.Principal.(type) {
	case *principal.Demo:
		return p, nil
	case *principal.OIDC:
		if !p.HasExpiry() {
			return nil, fmt.Errorf("[auth Authenticate] %w: principal has no expiry", autherrors.ErrUnauthenticated)
		}
		if !p.Expired(s.nowTime()) {
			return p, nil
		}
		if !p.CanRefresh() {
			return nil, fmt.Errorf("[auth Authenticate] %w: token expired and no refresh token", autherrors.ErrUnauthenticated)
		}
		return s.refresh(ctx, sessionID)
	default:
		return nil, fmt.Errorf("[auth Authenticate] %w: no principal", autherrors.ErrUnauthenticated)
	}
}

// refresh runs at most one refresh per session id in this process; the
// store's Update serializes across processes.
func (s *Service) refresh(ctx context.Context, sessionID string) (principal.Principal, error) {
	ch := s.refreshes.DoChan(sessionID, func() (interface{}, error) {
		return s.refreshSession(context.WithoutCancel(ctx), sessionID)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*principal.OIDC).Clone(), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("[auth refresh] %w: %w", autherrors.ErrUnauthenticated, ctx.Err())
	}
}

func (s *Service) refreshSession(ctx context.Context, sessionID string) (*principal.OIDC, error) {
	if !s.Configured() {
		return nil, fmt.Errorf("[auth refresh] %w: %w: provider not configured",
			autherrors.ErrUnauthenticated, autherrors.ErrTokenRefresh)
	}

	sess, err := s.repos.Sessions.Update(ctx, sessionID, func(sess *sessions.Session) error {
		p, ok := sess.Principal.(*principal.OIDC)
		if !ok {
			return fmt.Errorf("%w: session no longer holds a provider principal", autherrors.ErrUnauthenticated)
		}
		if p.HasExpiry() && !p.Expired(s.nowTime()) {
			// Refreshed by someone else while we waited for the lock.
			s.metrics.observeRefresh(refreshSkipped)
			return sessions.ErrUnchanged
		}
		if !p.CanRefresh() {
			return fmt.Errorf("%w: no refresh token", autherrors.ErrUnauthenticated)
		}

		cfg, err := s.provider.Discover(ctx)
		if err != nil {
			s.metrics.observeRefresh(refreshFailure)
			return fmt.Errorf("%w: %w: %w", autherrors.ErrUnauthenticated, autherrors.ErrTokenRefresh, err)
		}
		tokens, err := s.provider.Refresh(ctx, cfg, p.RefreshToken)
		if err != nil {
			s.metrics.observeRefresh(refreshFailure)
			return fmt.Errorf("%w: %w", autherrors.ErrUnauthenticated, err)
		}
		// Without a later expiry every following request would refresh again.
		if tokens.ExpiresAt.IsZero() || tokens.ExpiresAt.Unix() <= p.ExpiresAt {
			s.metrics.observeRefresh(refreshFailure)
			return fmt.Errorf("%w: %w: refreshed token has no later expiry",
				autherrors.ErrUnauthenticated, autherrors.ErrTokenRefresh)
		}
		tokens.ApplyTo(p)
		s.metrics.observeRefresh(refreshSuccess)
		return nil
	})
	if err != nil {
		switch {
		case autherrors.Is(err, autherrors.ErrUnauthenticated):
			log.Info().Err(err).Str("session", SessionTag(sessionID)).Msg("token refresh rejected")
			return nil, fmt.Errorf("[auth refresh] %w", err)
		case autherrors.Is(err, autherrors.ErrSessionNotFound):
			return nil, fmt.Errorf("[auth refresh] %w: %w", autherrors.ErrUnauthenticated, err)
		default:
			return nil, wrapSessionErr("[auth refresh]", err)
		}
	}

	p, ok := sess.Principal.(*principal.OIDC)
	if !ok {
		return nil, fmt.Errorf("[auth refresh] %w: no principal", autherrors.ErrUnauthenticated)
	}
	log.Debug().Str("session", SessionTag(sessionID)).Int64("expires_at", p.ExpiresAt).Msg("token refreshed")
	return p, nil
}
