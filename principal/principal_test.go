package principal_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-gate/principal"
	"github.com/stretchr/testify/require"
)

func TestNewDemo(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	d := principal.NewDemo(now)

	require.Equal(t, principal.DemoSubject, d.Subject())
	require.Equal(t, principal.KindDemo, d.Kind())
	require.Equal(t, now.Unix()+3600, d.ExpiresAt)
	require.Equal(t, principal.DemoSubject, d.Claims["sub"])
	require.True(t, principal.IsDemo(d))
	require.True(t, d.Profile().Demo)
}

func TestOIDCExpiry(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	p := &principal.OIDC{Sub: "user-1", ExpiresAt: now.Unix()}

	require.False(t, p.Expired(now), "now == expires_at is still valid")
	require.True(t, p.Expired(now.Add(time.Second)))
	require.True(t, p.HasExpiry())
	require.False(t, p.CanRefresh())
	require.False(t, principal.IsDemo(p))
}

func TestCloneDoesNotShareClaims(t *testing.T) {
	p := &principal.OIDC{Sub: "user-1", Claims: map[string]any{"email": "a@example.com"}}
	cp := p.Clone()
	cp.Claims["email"] = "b@example.com"
	cp.AccessToken = "changed"

	require.Equal(t, "a@example.com", p.Claims["email"])
	require.Empty(t, p.AccessToken)
}

func TestEncodeDecode(t *testing.T) {
	t.Run("oidc", func(t *testing.T) {
		in := &principal.OIDC{
			Sub:          "user-1",
			Email:        "john@example.com",
			AccessToken:  "at",
			RefreshToken: "rt",
			ExpiresAt:    42,
		}
		raw, err := principal.Encode(in)
		require.NoError(t, err)

		out, err := principal.Decode(raw)
		require.NoError(t, err)
		require.IsType(t, &principal.OIDC{}, out)
		require.Equal(t, "rt", out.(*principal.OIDC).RefreshToken)
	})

	t.Run("demo", func(t *testing.T) {
		raw, err := principal.Encode(principal.NewDemo(time.Now()))
		require.NoError(t, err)

		out, err := principal.Decode(raw)
		require.NoError(t, err)
		require.True(t, principal.IsDemo(out))
	})
}

func TestDecodeRejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"unknown kind", `{"kind":"saml","data":{}}`},
		{"oidc with demo subject", `{"kind":"oidc","data":{"sub":"demo-user-id"}}`},
		{"oidc without subject", `{"kind":"oidc","data":{}}`},
		{"demo with other subject", `{"kind":"demo","data":{"sub":"user-1"}}`},
		{"not json", `nope`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := principal.Decode(json.RawMessage(tt.raw))
			require.Error(t, err)
		})
	}
}
