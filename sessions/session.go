// Package sessions defines the server-side session record and the store
// contract every backend implements.
package sessions

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jrsteele09/go-auth-gate/principal"
)

// DefaultTTL is how long a session lives in the store.
const DefaultTTL = 7 * 24 * time.Hour

// idLength is the number of random bytes in a session id.
const idLength = 32

// ErrUnchanged can be returned from an UpdateFunc to skip the write.
var ErrUnchanged = errors.New("session unchanged")

// Session is the stored state behind a session cookie.
type Session struct {
	ID        string
	Principal principal.Principal
	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt time.Time
}

// UpdateFunc mutates a session in place during Repo.Update.
type UpdateFunc func(s *Session) error

// Repo is the session store. Implementations own expiry: Get never returns a
// session whose ExpiresAt has passed.
type Repo interface {
	// Get returns ErrSessionNotFound for missing or expired sessions.
	Get(ctx context.Context, id string) (*Session, error)

	// Set writes the session, replacing any existing one, to expire after ttl.
	Set(ctx context.Context, id string, s *Session, ttl time.Duration) error

	// Delete removes the session. Deleting a missing session is not an error.
	Delete(ctx context.Context, id string) error

	// Update loads the session, applies fn and writes the result back as one
	// atomic step with respect to other Updates on the same id. If fn returns
	// an error nothing is written; ErrUnchanged is swallowed and the loaded
	// session returned. The session's expiry is preserved.
	Update(ctx context.Context, id string, fn UpdateFunc) (*Session, error)

	Ping(ctx context.Context) error
}

// NewID returns a random URL-safe session id.
func NewID() (string, error) {
	b := make([]byte, idLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("[sessions NewID] %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// record is the serialized form shared by all backends.
type record struct {
	Principal json.RawMessage `json:"principal"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Marshal encodes a session for storage. The id is the storage key and is not
// part of the payload.
func Marshal(s *Session) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("[sessions Marshal] nil session")
	}
	p, err := principal.Encode(s.Principal)
	if err != nil {
		return nil, fmt.Errorf("[sessions Marshal] %w", err)
	}
	return json.Marshal(record{
		Principal: p,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
		ExpiresAt: s.ExpiresAt,
	})
}

// Unmarshal decodes a stored session.
func Unmarshal(id string, data []byte) (*Session, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("[sessions Unmarshal] %w", err)
	}
	p, err := principal.Decode(rec.Principal)
	if err != nil {
		return nil, fmt.Errorf("[sessions Unmarshal] %w", err)
	}
	return &Session{
		ID:        id,
		Principal: p,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
		ExpiresAt: rec.ExpiresAt,
	}, nil
}
