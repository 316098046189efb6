// Package auth owns the session lifecycle: starting a provider login (or
// degrading to the demo identity), completing the callback, logging out and
// gating requests on a valid, refreshed principal.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/jrsteele09/go-auth-gate/identity"
	"github.com/jrsteele09/go-auth-gate/internal/config"
	"github.com/jrsteele09/go-auth-gate/principal"
	"github.com/jrsteele09/go-auth-gate/server/authflowrepo"
	"github.com/jrsteele09/go-auth-gate/sessions"
	"github.com/jrsteele09/go-auth-gate/strategy"
	"github.com/jrsteele09/go-auth-gate/users"
	"golang.org/x/sync/singleflight"
)

// IdentityProvider is the slice of the identity package the service drives.
type IdentityProvider interface {
	Discover(ctx context.Context) (*identity.Config, error)
	AuthCodeURL(cfg *identity.Config, s *strategy.Strategy, state, nonce, verifier string) string
	Exchange(ctx context.Context, cfg *identity.Config, s *strategy.Strategy, code, verifier, nonce string) (*identity.TokenSet, error)
	Refresh(ctx context.Context, cfg *identity.Config, refreshToken string) (*identity.TokenSet, error)
	LogoutURL(cfg *identity.Config, postLogoutRedirect string) (string, error)
}

// OIDCProvider joins a shared Discovery with a Client into an IdentityProvider.
type OIDCProvider struct {
	*identity.Discovery
	*identity.Client
}

func NewOIDCProvider(d *identity.Discovery, c *identity.Client) *OIDCProvider {
	return &OIDCProvider{Discovery: d, Client: c}
}

// Repos holds all repository dependencies for the Service
type Repos struct {
	Sessions sessions.Repo
	Users    users.Repo
	Flows    authflowrepo.Repo
}

type Service struct {
	cfg       config.AuthConfig
	registry  *strategy.Registry
	provider  IdentityProvider
	repos     Repos
	metrics   *Metrics
	refreshes singleflight.Group
	nowTime   func() time.Time
}

// ServiceOption defines a function type to modify the Service instance.
type ServiceOption func(*Service)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) ServiceOption {
	return func(s *Service) { s.nowTime = nowFunc }
}

func WithMetrics(m *Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// NewService wires the service. registry and provider may be nil when the
// provider is not configured; every login then takes the demo path.
func NewService(cfg config.AuthConfig, registry *strategy.Registry, provider IdentityProvider, repos Repos, options ...ServiceOption) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("[NewService] config is required")
	}
	if repos.Sessions == nil {
		return nil, errors.New("[NewService] Sessions repo is required")
	}
	if repos.Users == nil {
		return nil, errors.New("[NewService] Users repo is required")
	}
	if repos.Flows == nil {
		return nil, errors.New("[NewService] Flows repo is required")
	}

	s := &Service{
		cfg:      cfg,
		registry: registry,
		provider: provider,
		repos:    repos,
		nowTime:  time.Now,
	}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// Configured reports whether logins can reach the identity provider at all.
func (s *Service) Configured() bool {
	return s.cfg.IsOIDCConfigured() && s.provider != nil && s.registry != nil
}

// Ready checks the session store.
func (s *Service) Ready(ctx context.Context) error {
	return s.repos.Sessions.Ping(ctx)
}

// SessionTag is a short, non-reversible label for a session id, safe to log.
func SessionTag(id string) string {
	if id == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:4])
}

func (s *Service) newSession(ctx context.Context, p principal.Principal) (string, error) {
	id, err := sessions.NewID()
	if err != nil {
		return "", err
	}
	now := s.nowTime()
	sess := &sessions.Session{
		ID:        id,
		Principal: p,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repos.Sessions.Set(ctx, id, sess, s.cfg.GetSessionTTL()); err != nil {
		return "", wrapSessionErr("[auth newSession]", err)
	}
	return id, nil
}
