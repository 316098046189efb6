package identity

import (
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-auth-gate/principal"
	"golang.org/x/oauth2"
)

// TokenSet is what the provider handed back from a code exchange or refresh.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	ExpiresAt    time.Time
	Subject      string
	// Claims from a verified id_token; nil when the response had none.
	Claims map[string]any
}

func newTokenSet(tok *oauth2.Token, rawIDToken string, idToken *oidc.IDToken) (*TokenSet, error) {
	ts := &TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		IDToken:      rawIDToken,
	}
	if idToken != nil {
		claims := map[string]any{}
		if err := idToken.Claims(&claims); err != nil {
			return nil, fmt.Errorf("decode id_token claims: %w", err)
		}
		ts.Claims = claims
		ts.Subject = idToken.Subject
	}
	ts.ExpiresAt = resolveExpiry(tok, idToken)
	return ts, nil
}

// resolveExpiry prefers the id_token exp claim, then the token endpoint's
// expires_in, then the exp claim of a JWT access token.
func resolveExpiry(tok *oauth2.Token, idToken *oidc.IDToken) time.Time {
	if idToken != nil && !idToken.Expiry.IsZero() {
		return idToken.Expiry
	}
	if !tok.Expiry.IsZero() {
		return tok.Expiry
	}
	return accessTokenExpiry(tok.AccessToken)
}

// accessTokenExpiry reads exp from a JWT access token without checking its
// signature. The provider already vouched for the token over TLS; we only
// want to know when to refresh.
func accessTokenExpiry(accessToken string) time.Time {
	if strings.Count(accessToken, ".") != 2 {
		return time.Time{}
	}
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, &claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

// Principal builds a new session principal from a code exchange.
func (t *TokenSet) Principal() *principal.OIDC {
	p := &principal.OIDC{Sub: t.Subject}
	t.ApplyTo(p)
	return p
}

// ApplyTo copies fresh tokens onto p. A refresh response that omits the
// refresh token or the id_token leaves the previous values in place.
func (t *TokenSet) ApplyTo(p *principal.OIDC) {
	p.AccessToken = t.AccessToken
	if t.RefreshToken != "" {
		p.RefreshToken = t.RefreshToken
	}
	if !t.ExpiresAt.IsZero() {
		p.ExpiresAt = t.ExpiresAt.Unix()
	}
	if t.Claims == nil {
		return
	}
	p.Claims = t.Claims
	p.Email = claimString(t.Claims, "email")
	p.FirstName = claimString(t.Claims, "first_name")
	p.LastName = claimString(t.Claims, "last_name")
	p.ProfileImageURL = claimString(t.Claims, "profile_image_url")
	p.DisplayName = displayName(t.Claims)
}

func displayName(claims map[string]any) string {
	if name := claimString(claims, "name"); name != "" {
		return name
	}
	full := strings.TrimSpace(claimString(claims, "first_name") + " " + claimString(claims, "last_name"))
	if full != "" {
		return full
	}
	return claimString(claims, "username")
}

func claimString(claims map[string]any, key string) string {
	s, _ := claims[key].(string)
	return s
}
