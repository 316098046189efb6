package auth_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-gate/auth"
	autherrors "github.com/jrsteele09/go-auth-gate/internal/errors"
	"github.com/jrsteele09/go-auth-gate/principal"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func expiredPrincipal(f *fixture) *principal.OIDC {
	return &principal.OIDC{
		Sub:          testUser.Subject,
		Email:        testUser.Email,
		AccessToken:  "stale-access",
		RefreshToken: f.provider.IssueRefreshToken(testUser),
		ExpiresAt:    time.Now().Add(-time.Minute).Unix(),
	}
}

func TestAuthenticateUnauthenticated(t *testing.T) {
	f := setup(t, fixtureOptions{})

	_, err := f.service.Authenticate(context.Background(), "")
	require.ErrorIs(t, err, autherrors.ErrUnauthenticated)

	_, err = f.service.Authenticate(context.Background(), "no-such-session")
	require.ErrorIs(t, err, autherrors.ErrUnauthenticated)
}

func TestAuthenticateDemoSkipsExpiry(t *testing.T) {
	f := setup(t, fixtureOptions{unconfigured: true})
	out, err := f.service.Login(context.Background(), testDomain, "")
	require.NoError(t, err)

	p, err := f.service.Authenticate(context.Background(), out.SessionID)
	require.NoError(t, err)
	require.True(t, principal.IsDemo(p))
}

func TestAuthenticateFreshTokenDoesNotRefresh(t *testing.T) {
	f := setup(t, fixtureOptions{})
	p := expiredPrincipal(f)
	p.ExpiresAt = time.Now().Add(time.Hour).Unix()
	id := f.seedSession(t, p)

	got, err := f.service.Authenticate(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, "stale-access", got.(*principal.OIDC).AccessToken)
	require.EqualValues(t, 0, f.provider.RefreshCalls.Load())
}

func TestAuthenticateExpiresAtBoundary(t *testing.T) {
	f := setup(t, fixtureOptions{})
	p := expiredPrincipal(f)
	p.ExpiresAt = time.Now().Add(2 * time.Second).Unix()
	id := f.seedSession(t, p)

	_, err := f.service.Authenticate(context.Background(), id)
	require.NoError(t, err)
	require.EqualValues(t, 0, f.provider.RefreshCalls.Load(), "now <= expires_at proceeds")
}

func TestAuthenticateWithoutExpiryIsRejected(t *testing.T) {
	f := setup(t, fixtureOptions{})
	p := expiredPrincipal(f)
	p.ExpiresAt = 0
	id := f.seedSession(t, p)

	_, err := f.service.Authenticate(context.Background(), id)
	require.ErrorIs(t, err, autherrors.ErrUnauthenticated)
	require.EqualValues(t, 0, f.provider.RefreshCalls.Load())
}

func TestAuthenticateExpiredWithoutRefreshToken(t *testing.T) {
	f := setup(t, fixtureOptions{})
	p := expiredPrincipal(f)
	p.RefreshToken = ""
	id := f.seedSession(t, p)

	_, err := f.service.Authenticate(context.Background(), id)
	require.ErrorIs(t, err, autherrors.ErrUnauthenticated)
	require.EqualValues(t, 0, f.provider.RefreshCalls.Load())
}

func TestAuthenticateRefreshesExpiredToken(t *testing.T) {
	f := setup(t, fixtureOptions{})
	before := expiredPrincipal(f)
	id := f.seedSession(t, before)

	got, err := f.service.Authenticate(context.Background(), id)
	require.NoError(t, err)
	refreshed := got.(*principal.OIDC)
	require.NotEqual(t, "stale-access", refreshed.AccessToken)
	require.NotEqual(t, before.RefreshToken, refreshed.RefreshToken, "rotated refresh token is kept")
	require.Greater(t, refreshed.ExpiresAt, before.ExpiresAt)
	require.Equal(t, testUser.Email, refreshed.Email, "claims survive a refresh without id_token")

	sess, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, refreshed, sess.Principal, "refresh is written back to the session")
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.TokenRefresh().WithLabelValues("success")))

	// The next request sees a fresh token and does not refresh again.
	_, err = f.service.Authenticate(context.Background(), id)
	require.NoError(t, err)
	require.EqualValues(t, 1, f.provider.RefreshCalls.Load())
}

func TestAuthenticateRefreshFailureLeavesSessionUntouched(t *testing.T) {
	f := setup(t, fixtureOptions{})
	before := expiredPrincipal(f)
	f.provider.RevokeRefreshToken(before.RefreshToken)
	id := f.seedSession(t, before)

	_, err := f.service.Authenticate(context.Background(), id)
	require.ErrorIs(t, err, autherrors.ErrUnauthenticated)
	require.ErrorIs(t, err, autherrors.ErrTokenRefresh)

	sess, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, before, sess.Principal)
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.TokenRefresh().WithLabelValues("failure")))
}

func TestAuthenticateRefreshWithoutExpiryIsRejected(t *testing.T) {
	f := setup(t, fixtureOptions{})
	f.provider.AccessTokenTTL = 0
	before := expiredPrincipal(f)
	id := f.seedSession(t, before)

	_, err := f.service.Authenticate(context.Background(), id)
	require.ErrorIs(t, err, autherrors.ErrUnauthenticated)
	require.ErrorIs(t, err, autherrors.ErrTokenRefresh)

	sess, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, before, sess.Principal, "nothing is written without a later expiry")
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.TokenRefresh().WithLabelValues("failure")))
	require.Zero(t, testutil.ToFloat64(f.metrics.TokenRefresh().WithLabelValues("success")))
}

func TestAuthenticateRefreshTimeoutIsUnauthenticated(t *testing.T) {
	f := setup(t, fixtureOptions{})
	f.provider.RefreshDelay = 3 * time.Second
	id := f.seedSession(t, expiredPrincipal(f))

	_, err := f.service.Authenticate(context.Background(), id)
	require.ErrorIs(t, err, autherrors.ErrUnauthenticated)
}

func TestAuthenticateConcurrentRefreshCallsProviderOnce(t *testing.T) {
	f := setup(t, fixtureOptions{})
	f.provider.RefreshDelay = 100 * time.Millisecond
	before := expiredPrincipal(f)
	id := f.seedSession(t, before)

	const requests = 25
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		tokens  = map[string]int{}
		expires []int64
	)
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := f.service.Authenticate(context.Background(), id)
			if !assert.NoError(t, err) {
				return
			}
			o := p.(*principal.OIDC)
			mu.Lock()
			tokens[o.AccessToken]++
			expires = append(expires, o.ExpiresAt)
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, f.provider.RefreshCalls.Load())
	require.Equal(t, 1, f.provider.RefreshTokenUses(before.RefreshToken), "single-use refresh token presented once")
	require.Len(t, tokens, 1, "every request sees the same refreshed token")
	for _, exp := range expires {
		require.Greater(t, exp, before.ExpiresAt)
	}
}

func TestAuthenticateRefreshSerializedAcrossInstances(t *testing.T) {
	f := setup(t, fixtureOptions{})
	f.provider.RefreshDelay = 100 * time.Millisecond
	before := expiredPrincipal(f)
	id := f.seedSession(t, before)

	other := f.replica(t, f.flows)

	var wg sync.WaitGroup
	for _, svc := range []*auth.Service{f.service, other} {
		wg.Add(1)
		go func(svc *auth.Service) {
			defer wg.Done()
			_, err := svc.Authenticate(context.Background(), id)
			assert.NoError(t, err)
		}(svc)
	}
	wg.Wait()

	require.EqualValues(t, 1, f.provider.RefreshCalls.Load())
}

func TestAuthenticateStoreFailure(t *testing.T) {
	f := setup(t, fixtureOptions{sessions: failingStore{}})

	_, err := f.service.Authenticate(context.Background(), "sid")
	require.ErrorIs(t, err, autherrors.ErrSession)
	require.NotErrorIs(t, err, autherrors.ErrUnauthenticated)
}

func TestAuthenticateCallerCancelled(t *testing.T) {
	f := setup(t, fixtureOptions{})
	f.provider.RefreshDelay = 500 * time.Millisecond
	id := f.seedSession(t, expiredPrincipal(f))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := f.service.Authenticate(ctx, id)
	require.ErrorIs(t, err, autherrors.ErrUnauthenticated)

	// The refresh carried on and was written back for the next request.
	require.Eventually(t, func() bool {
		sess, err := f.store.Get(context.Background(), id)
		return err == nil && sess.Principal.(*principal.OIDC).AccessToken != "stale-access"
	}, 2*time.Second, 20*time.Millisecond)
}
