package server

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
	"golang.org/x/crypto/hkdf"
)

const (
	// authStateCookieName pins the OAuth state to the browser that started the login.
	authStateCookieName = "auth_state"

	cookieKeyInfo = "authgate session cookie v1"
)

// cookieSigner signs session ids with securecookie under a key derived from
// the session secret. The cookie name is part of the MAC and the embedded
// timestamp is rejected once older than maxAge.
type cookieSigner struct {
	name  string
	codec *securecookie.SecureCookie
}

func newCookieSigner(secret []byte, name string, maxAge time.Duration) (*cookieSigner, error) {
	if len(secret) == 0 {
		return nil, errors.New("[newCookieSigner] session secret is empty")
	}
	key := make([]byte, sha256.Size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(cookieKeyInfo)), key); err != nil {
		return nil, fmt.Errorf("[newCookieSigner] derive key: %w", err)
	}

	codec := securecookie.New(key, nil)
	codec.SetSerializer(securecookie.NopEncoder{})
	codec.MaxAge(int(maxAge / time.Second))
	return &cookieSigner{name: name, codec: codec}, nil
}

func (c *cookieSigner) Sign(value string) (string, error) {
	signed, err := c.codec.Encode(c.name, []byte(value))
	if err != nil {
		return "", fmt.Errorf("[cookieSigner Sign] %w", err)
	}
	return signed, nil
}

// Verify returns the signed value, or false for a missing, forged or
// expired cookie.
func (c *cookieSigner) Verify(signed string) (string, bool) {
	var value []byte
	if err := c.codec.Decode(c.name, signed, &value); err != nil {
		return "", false
	}
	return string(value), true
}

// sessionID reads and verifies the session cookie.
func (s *Server) sessionID(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(s.config.GetSessionCookieName())
	if err != nil || cookie.Value == "" {
		return "", false
	}
	return s.cookies.Verify(cookie.Value)
}

func (s *Server) SetSessionCookie(w http.ResponseWriter, sessionID string) error {
	signed, err := s.cookies.Sign(sessionID)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.config.GetSessionCookieName(),
		Value:    signed,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(s.config.GetSessionTTL().Seconds()),
	})
	return nil
}

func (s *Server) ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.config.GetSessionCookieName(),
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

// SetAuthStateCookie lives as long as the flow state it points at.
func (s *Server) SetAuthStateCookie(w http.ResponseWriter, state string) {
	http.SetCookie(w, &http.Cookie{
		Name:     authStateCookieName,
		Value:    state,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(s.config.GetFlowStateTTL().Seconds()),
	})
}

func (s *Server) clearAuthStateCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     authStateCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

func authState(r *http.Request) string {
	cookie, err := r.Cookie(authStateCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}
