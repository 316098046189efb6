// Package strategy maps request hosts onto per-domain login strategies.
package strategy

import (
	"fmt"
	"net"
	"sort"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	autherrors "github.com/jrsteele09/go-auth-gate/internal/errors"
)

// DefaultProvider names the upstream provider in strategy keys.
const DefaultProvider = "replitauth"

// CallbackPath is where the provider sends the browser back to.
const CallbackPath = "/api/callback"

// Scopes requested on every login. offline_access is what gets us a refresh token.
var Scopes = []string{oidc.ScopeOpenID, "email", "profile", oidc.ScopeOfflineAccess}

// Domain is a normalized host name: lower case, no port.
type Domain string

// NormalizeDomain lower-cases host and strips any port.
func NormalizeDomain(host string) Domain {
	host = strings.TrimSpace(host)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return Domain(strings.TrimSuffix(strings.ToLower(host), "."))
}

// Key identifies a strategy.
type Key struct {
	Provider string
	Domain   Domain
}

func (k Key) String() string {
	return k.Provider + ":" + string(k.Domain)
}

// Strategy binds a trusted domain to its callback URL.
type Strategy struct {
	Key         Key
	CallbackURL string
	Scopes      []string
}

func (s *Strategy) Domain() Domain {
	return s.Key.Domain
}

// Registry is built once at startup and never modified, so lookups need no locking.
type Registry struct {
	provider   string
	strategies map[Domain]*Strategy
}

// NewRegistry creates one strategy per trusted domain. Blank entries are
// skipped and duplicates collapse into one strategy.
func NewRegistry(provider string, domains []string) (*Registry, error) {
	if provider == "" {
		provider = DefaultProvider
	}
	r := &Registry{
		provider:   provider,
		strategies: make(map[Domain]*Strategy, len(domains)),
	}
	for _, raw := range domains {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.ContainsAny(raw, "/?#@ ") {
			return nil, fmt.Errorf("[strategy NewRegistry] invalid domain %q", raw)
		}
		d := NormalizeDomain(raw)
		if _, exists := r.strategies[d]; exists {
			continue
		}
		r.strategies[d] = &Strategy{
			Key:         Key{Provider: provider, Domain: d},
			CallbackURL: "https://" + string(d) + CallbackPath,
			Scopes:      append([]string(nil), Scopes...),
		}
	}
	return r, nil
}

// Resolve finds the strategy for a request host. A miss returns
// ErrStrategyNotFound; callers fall back to the demo identity.
func (r *Registry) Resolve(host string) (*Strategy, error) {
	d := NormalizeDomain(host)
	if s, ok := r.strategies[d]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("[strategy Resolve] %s: %w", Key{Provider: r.provider, Domain: d}, autherrors.ErrStrategyNotFound)
}

// Domains lists the registered domains in sorted order.
func (r *Registry) Domains() []string {
	out := make([]string, 0, len(r.strategies))
	for d := range r.strategies {
		out = append(out, string(d))
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Len() int {
	return len(r.strategies)
}
