package identity

import (
	"fmt"
	"net/url"

	autherrors "github.com/jrsteele09/go-auth-gate/internal/errors"
)

// BuildLogoutURL returns the provider's end-session URL carrying client_id and
// post_logout_redirect_uri. It makes no network calls.
func BuildLogoutURL(cfg *Config, clientID, postLogoutRedirect string) (*url.URL, error) {
	if cfg == nil || cfg.EndSessionEndpoint == "" {
		return nil, fmt.Errorf("[identity BuildLogoutURL] %w", autherrors.ErrNoEndSession)
	}
	u, err := url.Parse(cfg.EndSessionEndpoint)
	if err != nil {
		return nil, fmt.Errorf("[identity BuildLogoutURL] parse %q: %w", cfg.EndSessionEndpoint, err)
	}
	q := u.Query()
	q.Set("client_id", clientID)
	q.Set("post_logout_redirect_uri", postLogoutRedirect)
	u.RawQuery = q.Encode()
	return u, nil
}
