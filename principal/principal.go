// Package principal models the identity attached to a session. A principal is
// either an identity issued by the OIDC provider or the synthetic demo
// identity; the two are distinct types so callers switch on the type rather
// than comparing subject strings.
package principal

import (
	"time"
)

type Kind string

const (
	KindOIDC Kind = "oidc"
	KindDemo Kind = "demo"
)

// Principal is implemented by *OIDC and *Demo only.
type Principal interface {
	Subject() string
	Kind() Kind
	Profile() Profile
	isPrincipal()
}

// Profile is the public view of a principal. It never carries tokens.
type Profile struct {
	ID              string `json:"id"`
	Email           string `json:"email,omitempty"`
	FirstName       string `json:"firstName,omitempty"`
	LastName        string `json:"lastName,omitempty"`
	DisplayName     string `json:"displayName,omitempty"`
	ProfileImageURL string `json:"profileImageUrl,omitempty"`
	Demo            bool   `json:"demo"`
}

// OIDC is an identity established through the provider's code flow.
type OIDC struct {
	Sub             string         `json:"sub"`
	Email           string         `json:"email,omitempty"`
	FirstName       string         `json:"first_name,omitempty"`
	LastName        string         `json:"last_name,omitempty"`
	DisplayName     string         `json:"display_name,omitempty"`
	ProfileImageURL string         `json:"profile_image_url,omitempty"`
	AccessToken     string         `json:"access_token"`
	RefreshToken    string         `json:"refresh_token,omitempty"`
	ExpiresAt       int64          `json:"expires_at"` // epoch seconds
	Claims          map[string]any `json:"claims,omitempty"`
}

var _ Principal = (*OIDC)(nil)

func (p *OIDC) Subject() string { return p.Sub }
func (p *OIDC) Kind() Kind      { return KindOIDC }
func (p *OIDC) isPrincipal()    {}

func (p *OIDC) Profile() Profile {
	return Profile{
		ID:              p.Sub,
		Email:           p.Email,
		FirstName:       p.FirstName,
		LastName:        p.LastName,
		DisplayName:     p.DisplayName,
		ProfileImageURL: p.ProfileImageURL,
	}
}

// HasExpiry is false when the provider never told us when the access token expires.
func (p *OIDC) HasExpiry() bool {
	return p.ExpiresAt != 0
}

// Expired reports now > expires_at, at second granularity.
func (p *OIDC) Expired(now time.Time) bool {
	return now.Unix() > p.ExpiresAt
}

func (p *OIDC) CanRefresh() bool {
	return p.RefreshToken != ""
}

// Clone returns a deep enough copy that mutating the result leaves p untouched.
func (p *OIDC) Clone() *OIDC {
	cp := *p
	if p.Claims != nil {
		cp.Claims = make(map[string]any, len(p.Claims))
		for k, v := range p.Claims {
			cp.Claims[k] = v
		}
	}
	return &cp
}
