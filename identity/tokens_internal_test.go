package identity

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestResolveExpiry(t *testing.T) {
	exp := time.Unix(1_800_000_000, 0)

	t.Run("token endpoint expiry", func(t *testing.T) {
		got := resolveExpiry(&oauth2.Token{AccessToken: "opaque", Expiry: exp}, nil)
		require.True(t, exp.Equal(got))
	})

	t.Run("jwt access token exp", func(t *testing.T) {
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
		}).SignedString([]byte("irrelevant"))
		require.NoError(t, err)

		got := resolveExpiry(&oauth2.Token{AccessToken: signed}, nil)
		require.True(t, exp.Equal(got))
	})

	t.Run("opaque token without expiry", func(t *testing.T) {
		got := resolveExpiry(&oauth2.Token{AccessToken: "opaque"}, nil)
		require.True(t, got.IsZero())
	})
}

func TestDisplayName(t *testing.T) {
	require.Equal(t, "Jane", displayName(map[string]any{"name": "Jane", "first_name": "J"}))
	require.Equal(t, "John Doe", displayName(map[string]any{"first_name": "John", "last_name": "Doe"}))
	require.Equal(t, "jd", displayName(map[string]any{"username": "jd"}))
	require.Empty(t, displayName(map[string]any{}))
}
