package users

import (
	"time"

	"github.com/jrsteele09/go-auth-gate/principal"
)

// User is the profile record kept for every subject that completes a
// provider login. Demo sessions never produce a User.
type User struct {
	ID              string    `json:"id"`                          // Provider subject
	Email           string    `json:"email,omitempty"`             // Email claim
	FirstName       string    `json:"first_name,omitempty"`        // given_name / first_name claim
	LastName        string    `json:"last_name,omitempty"`         // family_name / last_name claim
	ProfileImageURL string    `json:"profile_image_url,omitempty"` // picture / profile_image_url claim
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// FromPrincipal builds the user record for an authenticated principal.
func FromPrincipal(p *principal.OIDC, now time.Time) *User {
	return &User{
		ID:              p.Sub,
		Email:           p.Email,
		FirstName:       p.FirstName,
		LastName:        p.LastName,
		ProfileImageURL: p.ProfileImageURL,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}
