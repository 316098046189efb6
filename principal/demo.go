package principal

import "time"

const (
	// DemoSubject is reserved for the demo identity. The provider path refuses
	// any real identity carrying it.
	DemoSubject = "demo-user-id"

	DemoEmail     = "demo@example.com"
	DemoFirstName = "Demo"
	DemoLastName  = "User"
	DemoLifetime  = time.Hour
)

// Demo is the synthetic identity handed out when no provider flow is available.
// It holds no tokens and is never refreshed.
type Demo struct {
	Sub         string         `json:"sub"`
	Email       string         `json:"email"`
	DisplayName string         `json:"display_name"`
	FirstName   string         `json:"first_name"`
	LastName    string         `json:"last_name"`
	IssuedAt    int64          `json:"issued_at"`
	ExpiresAt   int64          `json:"expires_at"`
	Claims      map[string]any `json:"claims"`
}

var _ Principal = (*Demo)(nil)

// NewDemo issues the demo principal, valid for one hour from now.
func NewDemo(now time.Time) *Demo {
	issued := now.Unix()
	return &Demo{
		Sub:         DemoSubject,
		Email:       DemoEmail,
		DisplayName: DemoFirstName + " " + DemoLastName,
		FirstName:   DemoFirstName,
		LastName:    DemoLastName,
		IssuedAt:    issued,
		ExpiresAt:   issued + int64(DemoLifetime/time.Second),
		Claims: map[string]any{
			"sub":        DemoSubject,
			"email":      DemoEmail,
			"first_name": DemoFirstName,
			"last_name":  DemoLastName,
		},
	}
}

func (d *Demo) Subject() string { return d.Sub }
func (d *Demo) Kind() Kind      { return KindDemo }
func (d *Demo) isPrincipal()    {}

func (d *Demo) Profile() Profile {
	return Profile{
		ID:          d.Sub,
		Email:       d.Email,
		FirstName:   d.FirstName,
		LastName:    d.LastName,
		DisplayName: d.DisplayName,
		Demo:        true,
	}
}

// IsDemo reports whether p is the demo identity.
func IsDemo(p Principal) bool {
	_, ok := p.(*Demo)
	return ok
}
