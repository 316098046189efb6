package auth

import (
	"context"
	"crypto/subtle"
	"fmt"

	autherrors "github.com/jrsteele09/go-auth-gate/internal/errors"
	"github.com/jrsteele09/go-auth-gate/strategy"
	"github.com/jrsteele09/go-auth-gate/users"
	"github.com/rs/zerolog/log"
)

// CallbackRequest is what the provider redirect and the browser bring back.
type CallbackRequest struct {
	Host          string
	State         string
	CookieState   string
	Code          string
	ProviderError string
}

type CallbackOutcome struct {
	SessionID   string
	RedirectURL string
}

// Callback completes a provider login. Any error means no session was
// created; errors wrapping ErrSession are store failures, everything else
// should send the browser back to the login route.
func (s *Service) Callback(ctx context.Context, req CallbackRequest) (*CallbackOutcome, error) {
	if !s.Configured() {
		return nil, fmt.Errorf("[auth Callback] %w", autherrors.ErrConfigurationAbsent)
	}

	// Consume first so a state is never usable twice, even after a failure.
	flow, flowErr := s.repos.Flows.Consume(ctx, req.State)
	if req.ProviderError != "" {
		return nil, fmt.Errorf("[auth Callback] %w: provider returned %q", autherrors.ErrProviderExchange, req.ProviderError)
	}
	if req.State == "" || subtle.ConstantTimeCompare([]byte(req.State), []byte(req.CookieState)) != 1 {
		return nil, fmt.Errorf("[auth Callback] %w: state does not match cookie", autherrors.ErrFlowState)
	}
	if flowErr != nil {
		return nil, fmt.Errorf("[auth Callback] %w", flowErr)
	}
	if req.Code == "" {
		return nil, fmt.Errorf("[auth Callback] %w: missing code", autherrors.ErrProviderExchange)
	}

	strat, err := s.registry.Resolve(req.Host)
	if err != nil {
		return nil, fmt.Errorf("[auth Callback] %w", err)
	}
	if string(strat.Domain()) != flow.Domain {
		return nil, fmt.Errorf("[auth Callback] %w: flow started on %s, returned on %s", autherrors.ErrFlowState, flow.Domain, strat.Domain())
	}

	cfg, err := s.provider.Discover(ctx)
	if err != nil {
		return nil, fmt.Errorf("[auth Callback] %w", err)
	}

	tokens, err := s.provider.Exchange(ctx, cfg, strat, req.Code, flow.CodeVerifier, flow.Nonce)
	if err != nil {
		return nil, err
	}
	p := tokens.Principal()

	if err := s.repos.Users.Upsert(ctx, users.FromPrincipal(p, s.nowTime())); err != nil {
		return nil, fmt.Errorf("[auth Callback] upsert user: %w", err)
	}

	id, err := s.newSession(ctx, p)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("sub", p.Sub).
		Str("domain", string(strategy.NormalizeDomain(req.Host))).
		Str("session", SessionTag(id)).
		Msg("login completed")

	redirect := flow.ReturnURL
	if redirect == "" {
		redirect = s.cfg.GetLandingRoute()
	}
	return &CallbackOutcome{SessionID: id, RedirectURL: redirect}, nil
}
