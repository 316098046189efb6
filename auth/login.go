package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	autherrors "github.com/jrsteele09/go-auth-gate/internal/errors"
	"github.com/jrsteele09/go-auth-gate/principal"
	"github.com/jrsteele09/go-auth-gate/server/authflowrepo"
	"github.com/jrsteele09/go-auth-gate/strategy"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

const stateLength = 32

// LoginOutcome is where the browser goes next. A provider login carries the
// OAuth state to pin in a cookie; a demo login carries the new session id.
type LoginOutcome struct {
	RedirectURL string
	State       string
	SessionID   string
	Demo        bool
	Reason      FallbackReason
}

// Login starts a provider login for host. Every failure to do so (missing
// configuration, unknown host, provider unreachable, a panic) degrades to a
// demo session. The only error returned is a failure to store that session.
func (s *Service) Login(ctx context.Context, host, returnURL string) (*LoginOutcome, error) {
	outcome, err := s.beginLogin(ctx, host, returnURL)
	if err == nil {
		return outcome, nil
	}
	return s.degradeToDemo(ctx, host, err)
}

func (s *Service) beginLogin(ctx context.Context, host, returnURL string) (outcome *LoginOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome = nil
			err = fmt.Errorf("[auth beginLogin] panic: %v", r)
		}
	}()

	if !s.Configured() {
		return nil, fmt.Errorf("[auth beginLogin] %w", autherrors.ErrConfigurationAbsent)
	}

	strat, err := s.registry.Resolve(host)
	if err != nil {
		return nil, err
	}

	cfg, err := s.provider.Discover(ctx)
	if err != nil {
		return nil, err
	}

	state, err := randomString(stateLength)
	if err != nil {
		return nil, fmt.Errorf("[auth beginLogin] state: %w", err)
	}
	nonce, err := randomString(stateLength)
	if err != nil {
		return nil, fmt.Errorf("[auth beginLogin] nonce: %w", err)
	}
	verifier := oauth2.GenerateVerifier()

	err = s.repos.Flows.Upsert(ctx, state, &authflowrepo.AuthFlowState{
		Domain:       string(strat.Domain()),
		CodeVerifier: verifier,
		Nonce:        nonce,
		ReturnURL:    safeReturnURL(returnURL),
		CreatedAt:    s.nowTime(),
	})
	if err != nil {
		return nil, fmt.Errorf("[auth beginLogin] %w: %w", autherrors.ErrFlowState, err)
	}

	return &LoginOutcome{
		RedirectURL: s.provider.AuthCodeURL(cfg, strat, state, nonce, verifier),
		State:       state,
	}, nil
}

func (s *Service) degradeToDemo(ctx context.Context, host string, cause error) (*LoginOutcome, error) {
	reason := fallbackReason(cause)

	event := log.Warn().Err(cause).Str("reason", string(reason)).Str("domain", string(strategy.NormalizeDomain(host)))
	if reason == ReasonStrategyNotFound && s.registry != nil {
		event = event.Strs("available_strategies", s.registry.Domains())
	}
	event.Msg("login falling back to demo identity")
	s.metrics.observeFallback(reason)

	id, err := s.newSession(ctx, principal.NewDemo(s.nowTime()))
	if err != nil {
		return nil, err
	}
	return &LoginOutcome{
		RedirectURL: s.cfg.GetLandingRoute(),
		SessionID:   id,
		Demo:        true,
		Reason:      reason,
	}, nil
}

// safeReturnURL keeps only same-origin absolute paths.
func safeReturnURL(u string) string {
	if !strings.HasPrefix(u, "/") || strings.HasPrefix(u, "//") || strings.HasPrefix(u, "/\\") {
		return ""
	}
	return u
}

func randomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
