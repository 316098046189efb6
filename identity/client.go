package identity

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	autherrors "github.com/jrsteele09/go-auth-gate/internal/errors"
	"github.com/jrsteele09/go-auth-gate/principal"
	"github.com/jrsteele09/go-auth-gate/strategy"
	"golang.org/x/oauth2"
)

// Client drives the authorization code flow against a discovered provider.
type Client struct {
	clientID     string
	clientSecret string
	timeout      time.Duration
	httpClient   *http.Client
	nowTime      func() time.Time
}

type ClientOption func(*Client)

func WithClientSecret(secret string) ClientOption {
	return func(c *Client) { c.clientSecret = secret }
}

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.timeout = timeout }
}

// WithNowTime sets the clock used for id_token verification (primarily for testing)
func WithNowTime(nowFunc func() time.Time) ClientOption {
	return func(c *Client) { c.nowTime = nowFunc }
}

func NewClient(clientID string, options ...ClientOption) *Client {
	c := &Client{
		clientID: clientID,
		timeout:  DefaultProviderTimeout,
		nowTime:  time.Now,
	}
	for _, opt := range options {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout}
	}
	return c
}

func (c *Client) ClientID() string {
	return c.clientID
}

// AuthCodeURL builds the provider redirect for a login on the strategy's
// domain. Consent is always forced so that the provider reissues a refresh
// token on every login.
func (c *Client) AuthCodeURL(cfg *Config, s *strategy.Strategy, state, nonce, verifier string) string {
	return c.oauth2Config(cfg, s).AuthCodeURL(state,
		oidc.Nonce(nonce),
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("prompt", "login consent"),
	)
}

// Exchange trades an authorization code for a verified token set. Every
// failure is reported as ErrProviderExchange.
func (c *Client) Exchange(ctx context.Context, cfg *Config, s *strategy.Strategy, code, verifier, nonce string) (*TokenSet, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	tok, err := c.oauth2Config(cfg, s).Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("[identity Exchange] %w: %w", autherrors.ErrProviderExchange, err)
	}

	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, fmt.Errorf("[identity Exchange] %w: no id_token in response", autherrors.ErrProviderExchange)
	}

	idToken, err := c.verifier(cfg).Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("[identity Exchange] %w: %w", autherrors.ErrProviderExchange, err)
	}
	if idToken.Nonce != nonce {
		return nil, fmt.Errorf("[identity Exchange] %w: nonce mismatch", autherrors.ErrProviderExchange)
	}

	ts, err := newTokenSet(tok, rawIDToken, idToken)
	if err != nil {
		return nil, fmt.Errorf("[identity Exchange] %w: %w", autherrors.ErrProviderExchange, err)
	}
	if ts.Subject == "" || ts.Subject == principal.DemoSubject {
		return nil, fmt.Errorf("[identity Exchange] %w: unusable subject %q", autherrors.ErrProviderExchange, ts.Subject)
	}
	return ts, nil
}

// Refresh exchanges a refresh token for a new access token. Every failure,
// including a timeout, is reported as ErrTokenRefresh and must not be retried
// with the same token.
func (c *Client) Refresh(ctx context.Context, cfg *Config, refreshToken string) (*TokenSet, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("[identity Refresh] %w: no refresh token", autherrors.ErrTokenRefresh)
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	tok, err := c.oauth2Config(cfg, nil).TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("[identity Refresh] %w: %w", autherrors.ErrTokenRefresh, err)
	}

	var idToken *oidc.IDToken
	rawIDToken, _ := tok.Extra("id_token").(string)
	if rawIDToken != "" {
		idToken, err = c.verifier(cfg).Verify(ctx, rawIDToken)
		if err != nil {
			return nil, fmt.Errorf("[identity Refresh] %w: %w", autherrors.ErrTokenRefresh, err)
		}
	}

	ts, err := newTokenSet(tok, rawIDToken, idToken)
	if err != nil {
		return nil, fmt.Errorf("[identity Refresh] %w: %w", autherrors.ErrTokenRefresh, err)
	}
	return ts, nil
}

// LogoutURL is BuildLogoutURL for this client's id.
func (c *Client) LogoutURL(cfg *Config, postLogoutRedirect string) (string, error) {
	u, err := BuildLogoutURL(cfg, c.clientID, postLogoutRedirect)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func (c *Client) oauth2Config(cfg *Config, s *strategy.Strategy) *oauth2.Config {
	endpoint := cfg.Endpoint
	if c.clientSecret == "" {
		// Public client: the id goes in the form body, there is no secret to put in a header.
		endpoint.AuthStyle = oauth2.AuthStyleInParams
	}
	oc := &oauth2.Config{
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		Endpoint:     endpoint,
		Scopes:       strategy.Scopes,
	}
	if s != nil {
		oc.RedirectURL = s.CallbackURL
		oc.Scopes = s.Scopes
	}
	return oc
}

func (c *Client) verifier(cfg *Config) *oidc.IDTokenVerifier {
	return cfg.Provider.Verifier(&oidc.Config{
		ClientID: c.clientID,
		Now:      c.nowTime,
	})
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	return oidc.ClientContext(ctx, c.httpClient), cancel
}
