// Package identity talks to the upstream OpenID Connect provider: discovery,
// authorization redirects, code exchange, refresh and end-session URLs.
package identity

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	autherrors "github.com/jrsteele09/go-auth-gate/internal/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultDiscoveryTTL    = time.Hour
	DefaultProviderTimeout = 10 * time.Second

	discoveryFlightKey = "discovery"
)

// Config is the provider metadata from the discovery document. A Config is
// never modified after it is built; a refresh replaces it.
type Config struct {
	Issuer             string
	Provider           *oidc.Provider
	Endpoint           oauth2.Endpoint
	EndSessionEndpoint string
	ScopesSupported    []string
	FetchedAt          time.Time
}

// Discovery fetches and memoizes the provider configuration. There is one
// provider per process, so the cache has a single slot.
type Discovery struct {
	issuerURL  string
	ttl        time.Duration
	timeout    time.Duration
	httpClient *http.Client
	metrics    *Metrics
	nowTime    func() time.Time

	group  singleflight.Group
	mu     sync.RWMutex
	cached *Config
}

type DiscoveryOption func(*Discovery)

func WithDiscoveryHTTPClient(c *http.Client) DiscoveryOption {
	return func(d *Discovery) { d.httpClient = c }
}

func WithDiscoveryTimeout(timeout time.Duration) DiscoveryOption {
	return func(d *Discovery) { d.timeout = timeout }
}

func WithDiscoveryMetrics(m *Metrics) DiscoveryOption {
	return func(d *Discovery) { d.metrics = m }
}

// WithDiscoveryNowTime sets the clock used for TTL checks (primarily for testing)
func WithDiscoveryNowTime(nowFunc func() time.Time) DiscoveryOption {
	return func(d *Discovery) { d.nowTime = nowFunc }
}

func NewDiscovery(issuerURL string, ttl time.Duration, options ...DiscoveryOption) *Discovery {
	if ttl <= 0 {
		ttl = DefaultDiscoveryTTL
	}
	d := &Discovery{
		issuerURL: issuerURL,
		ttl:       ttl,
		timeout:   DefaultProviderTimeout,
		nowTime:   time.Now,
	}
	for _, opt := range options {
		opt(d)
	}
	if d.httpClient == nil {
		d.httpClient = &http.Client{Timeout: d.timeout}
	}
	return d
}

// Discover returns the cached configuration, fetching it when the cache is
// empty or older than the TTL. Concurrent callers during a miss share a
// single fetch. A caller whose context ends stops waiting, but the fetch
// carries on for the others.
func (d *Discovery) Discover(ctx context.Context) (*Config, error) {
	if cfg := d.fresh(); cfg != nil {
		return cfg, nil
	}

	ch := d.group.DoChan(discoveryFlightKey, func() (interface{}, error) {
		// Another flight may have filled the cache while we queued.
		if cfg := d.fresh(); cfg != nil {
			return cfg, nil
		}
		cfg, err := d.fetch(context.WithoutCancel(ctx))
		if err != nil {
			d.metrics.observeDiscovery(resultFailure)
			return nil, err
		}
		d.metrics.observeDiscovery(resultSuccess)

		d.mu.Lock()
		d.cached = cfg
		d.mu.Unlock()
		return cfg, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Config), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("[identity Discover] %w: %w", autherrors.ErrDiscovery, ctx.Err())
	}
}

func (d *Discovery) fresh() *Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.cached == nil {
		return nil
	}
	if d.nowTime().Sub(d.cached.FetchedAt) >= d.ttl {
		return nil
	}
	return d.cached
}

func (d *Discovery) fetch(ctx context.Context) (*Config, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	ctx = oidc.ClientContext(ctx, d.httpClient)

	provider, err := oidc.NewProvider(ctx, d.issuerURL)
	if err != nil {
		return nil, fmt.Errorf("[identity Discover] %s: %w: %w", d.issuerURL, autherrors.ErrDiscovery, err)
	}

	var extra struct {
		EndSessionEndpoint string   `json:"end_session_endpoint"`
		ScopesSupported    []string `json:"scopes_supported"`
	}
	if err := provider.Claims(&extra); err != nil {
		return nil, fmt.Errorf("[identity Discover] decode metadata: %w: %w", autherrors.ErrDiscovery, err)
	}

	log.Info().Str("issuer", d.issuerURL).Msg("identity provider discovered")

	return &Config{
		Issuer:             d.issuerURL,
		Provider:           provider,
		Endpoint:           provider.Endpoint(),
		EndSessionEndpoint: extra.EndSessionEndpoint,
		ScopesSupported:    extra.ScopesSupported,
		FetchedAt:          d.nowTime(),
	}, nil
}
