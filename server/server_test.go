package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-gate/auth"
	"github.com/jrsteele09/go-auth-gate/identity"
	"github.com/jrsteele09/go-auth-gate/internal/config"
	"github.com/jrsteele09/go-auth-gate/internal/oidctest"
	"github.com/jrsteele09/go-auth-gate/principal"
	"github.com/jrsteele09/go-auth-gate/server"
	"github.com/jrsteele09/go-auth-gate/server/authflowrepo"
	"github.com/jrsteele09/go-auth-gate/sessions"
	"github.com/jrsteele09/go-auth-gate/sessions/memstore"
	"github.com/jrsteele09/go-auth-gate/strategy"
	"github.com/jrsteele09/go-auth-gate/users/repofake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

const (
	testClientID = "test-repl-id"
	testHost     = "app.example.com"
	cookieName   = "connect.sid"
)

var testUser = oidctest.User{Subject: "user-1", Email: "john.doe@example.com", FirstName: "John", LastName: "Doe"}

type testServer struct {
	srv      *server.Server
	provider *oidctest.Provider
	store    sessions.Repo
	registry *prometheus.Registry
}

type serverOptions struct {
	unconfigured bool
	store        sessions.Repo
}

func newTestServer(t *testing.T, opts serverOptions) *testServer {
	t.Helper()

	p := oidctest.New(t, testClientID)
	if opts.unconfigured {
		t.Setenv("REPLIT_DOMAINS", "")
		t.Setenv("REPL_ID", "")
	} else {
		t.Setenv("REPLIT_DOMAINS", testHost)
		t.Setenv("REPL_ID", testClientID)
	}
	t.Setenv("ISSUER_URL", p.Issuer())
	t.Setenv("SESSION_SECRET", "test-session-secret")
	t.Setenv("TRUST_PROXY", "true")
	t.Setenv("ENV", "TEST")
	cfg := config.New()

	store := opts.store
	if store == nil {
		store = memstore.New()
	}
	reg := prometheus.NewRegistry()

	var (
		registry *strategy.Registry
		idp      auth.IdentityProvider
	)
	if cfg.IsOIDCConfigured() {
		var err error
		registry, err = strategy.NewRegistry(strategy.DefaultProvider, cfg.GetTrustedDomains())
		require.NoError(t, err)
		idp = auth.NewOIDCProvider(
			identity.NewDiscovery(cfg.GetIssuerURL(), cfg.GetDiscoveryTTL(), identity.WithDiscoveryMetrics(identity.NewMetrics(reg))),
			identity.NewClient(cfg.GetClientID(), identity.WithTimeout(2*time.Second)),
		)
	}

	svc, err := auth.NewService(cfg, registry, idp, auth.Repos{
		Sessions: store,
		Users:    repofake.NewFakeUserRepo(),
		Flows:    authflowrepo.NewInMemoryRepo(),
	}, auth.WithMetrics(auth.NewMetrics(reg)))
	require.NoError(t, err)

	srv, err := server.New(cfg, svc, server.WithGatherer(reg))
	require.NoError(t, err)

	return &testServer{srv: srv, provider: p, store: store, registry: reg}
}

func (ts *testServer) get(t *testing.T, target string, cookies ...*http.Cookie) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "http://"+testHost+target, nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	ts.srv.ServeHTTP(rec, req)
	return rec.Result()
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

// providerLogin walks login and callback and returns the session cookie.
func (ts *testServer) providerLogin(t *testing.T) *http.Cookie {
	t.Helper()
	resp := ts.get(t, server.RouteLogin)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	stateCookie := findCookie(resp, "auth_state")
	require.NotNil(t, stateCookie)

	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	code := ts.provider.IssueCode(testUser, loc.Query().Get("nonce"))

	resp = ts.get(t, server.RouteCallback+"?code="+url.QueryEscape(code)+"&state="+url.QueryEscape(stateCookie.Value), stateCookie)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Equal(t, "/dashboard", resp.Header.Get("Location"))

	sessionCookie := findCookie(resp, cookieName)
	require.NotNil(t, sessionCookie)
	return sessionCookie
}

func TestDemoLoginWhenUnconfigured(t *testing.T) {
	ts := newTestServer(t, serverOptions{unconfigured: true})

	resp := ts.get(t, server.RouteLogin)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Equal(t, "/dashboard", resp.Header.Get("Location"))

	c := findCookie(resp, cookieName)
	require.NotNil(t, c)
	require.True(t, c.HttpOnly)
	require.True(t, c.Secure)
	require.Equal(t, http.SameSiteLaxMode, c.SameSite)
	require.Equal(t, 7*24*60*60, c.MaxAge)
	require.Equal(t, "/", c.Path)

	resp = ts.get(t, server.RouteAuthUser, c)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	require.Equal(t, principal.DemoSubject, body["id"])
	require.Equal(t, true, body["demo"])
	require.EqualValues(t, 0, ts.provider.DiscoveryHits.Load())
}

func TestDemoLoginForUnknownHost(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	req := httptest.NewRequest(http.MethodGet, "http://unlisted.example.net"+server.RouteLogin, nil)
	rec := httptest.NewRecorder()
	ts.srv.ServeHTTP(rec, req)

	resp := rec.Result()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Equal(t, "/dashboard", resp.Header.Get("Location"))
	require.NotNil(t, findCookie(resp, cookieName))
}

func TestLoginRedirectsToProvider(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	resp := ts.get(t, server.RouteLogin)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.True(t, strings.HasPrefix(resp.Header.Get("Location"), ts.provider.Issuer()+"/auth?"))
	require.Nil(t, findCookie(resp, cookieName), "no session until the callback")

	state := findCookie(resp, "auth_state")
	require.NotNil(t, state)
	require.True(t, state.HttpOnly)
	require.Equal(t, 600, state.MaxAge)
}

func TestLoginHonoursForwardedHost(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	req := httptest.NewRequest(http.MethodGet, "http://10.0.0.5:8080"+server.RouteLogin, nil)
	req.Header.Set("X-Forwarded-Host", testHost)
	rec := httptest.NewRecorder()
	ts.srv.ServeHTTP(rec, req)

	loc, err := url.Parse(rec.Result().Header.Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "https://"+testHost+server.RouteCallback, loc.Query().Get("redirect_uri"))
}

func TestProviderLoginFlow(t *testing.T) {
	ts := newTestServer(t, serverOptions{})
	session := ts.providerLogin(t)

	resp := ts.get(t, server.RouteAuthUser, session)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	require.Equal(t, "user-1", body["id"])
	require.Equal(t, "john.doe@example.com", body["email"])
	require.Equal(t, false, body["demo"])
	require.NotContains(t, body, "accessToken")

	resp = ts.get(t, server.RouteAdminCheck, session)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCallbackFailureRedirectsToLogin(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	resp := ts.get(t, server.RouteLogin)
	state := findCookie(resp, "auth_state")
	require.NotNil(t, state)

	resp = ts.get(t, server.RouteCallback+"?code=bogus&state="+url.QueryEscape(state.Value), state)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Equal(t, server.RouteLogin, resp.Header.Get("Location"))
	require.Nil(t, findCookie(resp, cookieName))
}

func TestCallbackWithoutStateCookie(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	resp := ts.get(t, server.RouteLogin)
	state := findCookie(resp, "auth_state")
	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	code := ts.provider.IssueCode(testUser, loc.Query().Get("nonce"))

	resp = ts.get(t, server.RouteCallback+"?code="+code+"&state="+url.QueryEscape(state.Value))
	require.Equal(t, server.RouteLogin, resp.Header.Get("Location"))
	require.Nil(t, findCookie(resp, cookieName))
}

func TestCallbackUnconfigured(t *testing.T) {
	ts := newTestServer(t, serverOptions{unconfigured: true})

	resp := ts.get(t, server.RouteCallback+"?code=x&state=y")
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Equal(t, server.RouteLogin, resp.Header.Get("Location"))
}

func TestGateRejects(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	resp := ts.get(t, server.RouteAuthUser)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, map[string]any{"message": "Unauthorized"}, decodeBody(t, resp))

	resp = ts.get(t, server.RouteAuthUser, &http.Cookie{Name: cookieName, Value: "forged.c2lnbmF0dXJl"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGateRejectsTamperedCookie(t *testing.T) {
	ts := newTestServer(t, serverOptions{unconfigured: true})
	c := findCookie(ts.get(t, server.RouteLogin), cookieName)
	require.NotNil(t, c)

	resp := ts.get(t, server.RouteAuthUser, c)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	tampered := []byte(c.Value)
	tampered[len(tampered)/2] ^= 1
	resp = ts.get(t, server.RouteAuthUser, &http.Cookie{Name: cookieName, Value: string(tampered)})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = ts.get(t, server.RouteAuthUser, &http.Cookie{Name: cookieName, Value: c.Value + "AAAA"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGateExpiredTokenWithoutRefresh(t *testing.T) {
	ts := newTestServer(t, serverOptions{})
	session := ts.providerLogin(t)

	// Strip the refresh token and expire the access token.
	id, ok := ts.srv.VerifySessionCookie(session.Value)
	require.True(t, ok)
	_, err := ts.store.Update(context.Background(), id, func(s *sessions.Session) error {
		p := s.Principal.(*principal.OIDC)
		p.RefreshToken = ""
		p.ExpiresAt = time.Now().Add(-time.Minute).Unix()
		return nil
	})
	require.NoError(t, err)

	resp := ts.get(t, server.RouteAuthUser, session)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGateRefreshesExpiredToken(t *testing.T) {
	ts := newTestServer(t, serverOptions{})
	session := ts.providerLogin(t)

	id, ok := ts.srv.VerifySessionCookie(session.Value)
	require.True(t, ok)
	_, err := ts.store.Update(context.Background(), id, func(s *sessions.Session) error {
		s.Principal.(*principal.OIDC).ExpiresAt = time.Now().Add(-time.Minute).Unix()
		return nil
	})
	require.NoError(t, err)

	resp := ts.get(t, server.RouteAuthUser, session)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 1, ts.provider.RefreshCalls.Load())
}

func TestDemoPrincipalForbiddenOnPrivilegedRoute(t *testing.T) {
	ts := newTestServer(t, serverOptions{unconfigured: true})
	c := findCookie(ts.get(t, server.RouteLogin), cookieName)

	resp := ts.get(t, server.RouteAdminCheck, c)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Equal(t, map[string]any{"message": "Forbidden"}, decodeBody(t, resp))
}

func TestLogoutUnconfigured(t *testing.T) {
	ts := newTestServer(t, serverOptions{unconfigured: true})
	c := findCookie(ts.get(t, server.RouteLogin), cookieName)

	resp := ts.get(t, server.RouteLogout, c)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Equal(t, "/", resp.Header.Get("Location"))
	cleared := findCookie(resp, cookieName)
	require.NotNil(t, cleared)
	require.Negative(t, cleared.MaxAge)

	resp = ts.get(t, server.RouteAuthUser, c)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode, "session is destroyed server-side")
}

func TestLogoutConfigured(t *testing.T) {
	ts := newTestServer(t, serverOptions{})
	session := ts.providerLogin(t)

	resp := ts.get(t, server.RouteLogout, session)
	require.Equal(t, http.StatusFound, resp.StatusCode)

	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	require.Equal(t, ts.provider.EndSessionEndpoint(), loc.Scheme+"://"+loc.Host+loc.Path)
	require.Equal(t, testClientID, loc.Query().Get("client_id"))
	require.Equal(t, "https://"+testHost, loc.Query().Get("post_logout_redirect_uri"))

	resp = ts.get(t, server.RouteAuthUser, session)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLoginDropsPreviousSession(t *testing.T) {
	ts := newTestServer(t, serverOptions{unconfigured: true})
	first := findCookie(ts.get(t, server.RouteLogin), cookieName)

	second := findCookie(ts.get(t, server.RouteLogin, first), cookieName)
	require.NotEqual(t, first.Value, second.Value)

	require.Equal(t, http.StatusUnauthorized, ts.get(t, server.RouteAuthUser, first).StatusCode)
	require.Equal(t, http.StatusOK, ts.get(t, server.RouteAuthUser, second).StatusCode)
}

type brokenStore struct{ sessions.Repo }

func (brokenStore) Get(context.Context, string) (*sessions.Session, error) {
	return nil, errors.New("connection refused")
}
func (brokenStore) Set(context.Context, string, *sessions.Session, time.Duration) error {
	return errors.New("connection refused")
}
func (brokenStore) Ping(context.Context) error { return errors.New("connection refused") }

func TestSessionStoreFailures(t *testing.T) {
	ts := newTestServer(t, serverOptions{unconfigured: true, store: brokenStore{}})

	resp := ts.get(t, server.RouteLogin)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.Equal(t, map[string]any{"message": "Authentication error"}, decodeBody(t, resp))

	signed := findCookie(newTestServer(t, serverOptions{unconfigured: true}).get(t, server.RouteLogin), cookieName)
	resp = ts.get(t, server.RouteAuthUser, signed)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	resp = ts.get(t, server.RouteReady)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHealthReadyMetrics(t *testing.T) {
	ts := newTestServer(t, serverOptions{unconfigured: true})

	require.Equal(t, http.StatusOK, ts.get(t, server.RouteHealth).StatusCode)
	require.Equal(t, http.StatusOK, ts.get(t, server.RouteReady).StatusCode)

	ts.get(t, server.RouteLogin)
	resp := ts.get(t, server.RouteMetrics)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	buf := new(strings.Builder)
	_, err := io.Copy(buf, resp.Body)
	require.NoError(t, err)
	require.Contains(t, buf.String(), `authgate_demo_fallbacks_total{reason="configuration_absent"} 1`)
}

func TestRequestIDHeader(t *testing.T) {
	ts := newTestServer(t, serverOptions{unconfigured: true})
	resp := ts.get(t, server.RouteLogin)
	require.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestCorsPreflight(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	req := httptest.NewRequest(http.MethodOptions, "http://"+testHost+server.RouteAuthUser, nil)
	req.Header.Set("Origin", "capacitor://localhost")
	rec := httptest.NewRecorder()
	ts.srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "capacitor://localhost", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodOptions, "http://"+testHost+server.RouteAuthUser, nil)
	req.Header.Set("Origin", "https://evil.example.net")
	rec = httptest.NewRecorder()
	ts.srv.ServeHTTP(rec, req)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
