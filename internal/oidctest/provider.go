// Package oidctest runs a small in-process OpenID Connect provider for tests.
// It serves discovery, JWKS and the token endpoint, signs RS256 id tokens and
// tracks how often each refresh token was presented.
package oidctest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const keyID = "oidctest-key"

// User is the identity behind an issued code or refresh token.
type User struct {
	Subject   string
	Email     string
	FirstName string
	LastName  string
}

type codeGrant struct {
	user  User
	nonce string
}

type Provider struct {
	Server   *httptest.Server
	ClientID string

	// DiscoveryDelay holds the discovery response, to widen race windows.
	DiscoveryDelay time.Duration
	// RefreshDelay holds refresh responses.
	RefreshDelay time.Duration
	// AccessTokenTTL is reported as expires_in.
	AccessTokenTTL time.Duration
	// IncludeIDTokenOnRefresh adds a fresh id_token to refresh responses.
	IncludeIDTokenOnRefresh bool

	DiscoveryHits atomic.Int64
	RefreshCalls  atomic.Int64

	key *rsa.PrivateKey

	mu            sync.Mutex
	codes         map[string]codeGrant
	refreshTokens map[string]User
	refreshUses   map[string]int
	counter       int
	failDiscovery bool
}

// New starts a provider and closes it when the test ends.
func New(t testing.TB, clientID string) *Provider {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("oidctest: generate key: %v", err)
	}

	p := &Provider{
		ClientID:       clientID,
		AccessTokenTTL: time.Hour,
		key:            key,
		codes:          map[string]codeGrant{},
		refreshTokens:  map[string]User{},
		refreshUses:    map[string]int{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/openid-configuration", p.discovery)
	mux.HandleFunc("GET /jwks", p.jwks)
	mux.HandleFunc("POST /token", p.token)
	p.Server = httptest.NewServer(mux)
	t.Cleanup(p.Server.Close)
	return p
}

func (p *Provider) Issuer() string {
	return p.Server.URL
}

func (p *Provider) EndSessionEndpoint() string {
	return p.Server.URL + "/session/end"
}

// FailDiscovery makes the discovery endpoint answer 500.
func (p *Provider) FailDiscovery(fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failDiscovery = fail
}

// IssueCode registers a single-use authorization code for user. The nonce
// is echoed into the id_token.
func (p *Provider) IssueCode(user User, nonce string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counter++
	code := "code-" + strconv.Itoa(p.counter)
	p.codes[code] = codeGrant{user: user, nonce: nonce}
	return code
}

// IssueRefreshToken registers a refresh token for user.
func (p *Provider) IssueRefreshToken(user User) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.newRefreshTokenLocked(user)
}

// RevokeRefreshToken makes the provider reject rt.
func (p *Provider) RevokeRefreshToken(rt string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.refreshTokens, rt)
}

// RefreshTokenUses counts how many refresh requests presented rt.
func (p *Provider) RefreshTokenUses(rt string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshUses[rt]
}

// SignIDToken signs arbitrary claims with the provider key.
func (p *Provider) SignIDToken(claims jwt.MapClaims) string {
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = keyID
	signed, err := tok.SignedString(p.key)
	if err != nil {
		panic(err)
	}
	return signed
}

func (p *Provider) discovery(w http.ResponseWriter, _ *http.Request) {
	p.DiscoveryHits.Add(1)
	if p.DiscoveryDelay > 0 {
		time.Sleep(p.DiscoveryDelay)
	}
	p.mu.Lock()
	fail := p.failDiscovery
	p.mu.Unlock()
	if fail {
		http.Error(w, "unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                                p.Issuer(),
		"authorization_endpoint":                p.Issuer() + "/auth",
		"token_endpoint":                        p.Issuer() + "/token",
		"jwks_uri":                              p.Issuer() + "/jwks",
		"end_session_endpoint":                  p.EndSessionEndpoint(),
		"response_types_supported":              []string{"code"},
		"subject_types_supported":               []string{"public"},
		"id_token_signing_alg_values_supported": []string{"RS256"},
		"scopes_supported":                      []string{"openid", "email", "profile", "offline_access"},
	})
}

func (p *Provider) jwks(w http.ResponseWriter, _ *http.Request) {
	pub := p.key.PublicKey
	writeJSON(w, http.StatusOK, map[string]any{
		"keys": []map[string]string{{
			"kty": "RSA",
			"kid": keyID,
			"use": "sig",
			"alg": "RS256",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	})
}

func (p *Provider) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		oauthError(w, "invalid_request")
		return
	}
	if r.PostForm.Get("client_id") != p.ClientID {
		oauthError(w, "invalid_client")
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		p.codeGrant(w, r)
	case "refresh_token":
		p.refreshGrant(w, r)
	default:
		oauthError(w, "unsupported_grant_type")
	}
}

func (p *Provider) codeGrant(w http.ResponseWriter, r *http.Request) {
	code := r.PostForm.Get("code")
	if r.PostForm.Get("code_verifier") == "" {
		oauthError(w, "invalid_grant")
		return
	}

	p.mu.Lock()
	grant, ok := p.codes[code]
	delete(p.codes, code)
	var rt string
	if ok {
		rt = p.newRefreshTokenLocked(grant.user)
	}
	p.mu.Unlock()

	if !ok {
		oauthError(w, "invalid_grant")
		return
	}
	p.writeTokens(w, grant.user, grant.nonce, rt, true)
}

func (p *Provider) refreshGrant(w http.ResponseWriter, r *http.Request) {
	p.RefreshCalls.Add(1)
	if p.RefreshDelay > 0 {
		time.Sleep(p.RefreshDelay)
	}
	presented := r.PostForm.Get("refresh_token")

	p.mu.Lock()
	p.refreshUses[presented]++
	user, ok := p.refreshTokens[presented]
	var rt string
	if ok {
		// Rotate: the presented token is single use.
		delete(p.refreshTokens, presented)
		rt = p.newRefreshTokenLocked(user)
	}
	p.mu.Unlock()

	if !ok {
		oauthError(w, "invalid_grant")
		return
	}
	p.writeTokens(w, user, "", rt, p.IncludeIDTokenOnRefresh)
}

func (p *Provider) writeTokens(w http.ResponseWriter, user User, nonce, refreshToken string, withIDToken bool) {
	now := time.Now()
	p.mu.Lock()
	p.counter++
	accessToken := "access-" + strconv.Itoa(p.counter)
	p.mu.Unlock()

	body := map[string]any{
		"access_token":  accessToken,
		"token_type":    "Bearer",
		"refresh_token": refreshToken,
		"expires_in":    int(p.AccessTokenTTL / time.Second),
	}
	if withIDToken {
		claims := jwt.MapClaims{
			"iss":        p.Issuer(),
			"sub":        user.Subject,
			"aud":        p.ClientID,
			"iat":        now.Unix(),
			"exp":        now.Add(p.AccessTokenTTL).Unix(),
			"email":      user.Email,
			"first_name": user.FirstName,
			"last_name":  user.LastName,
		}
		if nonce != "" {
			claims["nonce"] = nonce
		}
		body["id_token"] = p.SignIDToken(claims)
	}
	writeJSON(w, http.StatusOK, body)
}

func (p *Provider) newRefreshTokenLocked(user User) string {
	p.counter++
	rt := "refresh-" + strconv.Itoa(p.counter)
	p.refreshTokens[rt] = user
	return rt
}

func oauthError(w http.ResponseWriter, code string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
