// Package memstore is an in-process session store for development and tests.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	autherrors "github.com/jrsteele09/go-auth-gate/internal/errors"
	"github.com/jrsteele09/go-auth-gate/sessions"
)

var _ sessions.Repo = (*Store)(nil)

type entry struct {
	data      []byte
	expiresAt time.Time
}

// Store keeps encoded sessions in a map. Values are stored serialized so that
// callers never share a principal with the store.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]entry
	locks    *keyedMutex
	nowTime  func() time.Time
}

type Option func(*Store)

// WithNowTime sets the clock used for expiry (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(s *Store) { s.nowTime = nowFunc }
}

func New(options ...Option) *Store {
	s := &Store{
		sessions: make(map[string]entry),
		locks:    newKeyedMutex(),
		nowTime:  time.Now,
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

func (s *Store) Get(_ context.Context, id string) (*sessions.Session, error) {
	if id == "" {
		return nil, autherrors.ErrSessionNotFound
	}
	s.mu.RLock()
	e, ok := s.sessions[id]
	s.mu.RUnlock()

	if !ok {
		return nil, autherrors.ErrSessionNotFound
	}
	if !s.nowTime().Before(e.expiresAt) {
		s.mu.Lock()
		if cur, ok := s.sessions[id]; ok && !s.nowTime().Before(cur.expiresAt) {
			delete(s.sessions, id)
		}
		s.mu.Unlock()
		return nil, autherrors.ErrSessionNotFound
	}
	return sessions.Unmarshal(id, e.data)
}

func (s *Store) Set(_ context.Context, id string, sess *sessions.Session, ttl time.Duration) error {
	if id == "" {
		return fmt.Errorf("[memstore Set] session id is required")
	}
	if ttl <= 0 {
		ttl = sessions.DefaultTTL
	}
	expiresAt := s.nowTime().Add(ttl)
	cp := *sess
	cp.ExpiresAt = expiresAt

	data, err := sessions.Marshal(&cp)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = entry{data: data, expiresAt: expiresAt}
	return nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func (s *Store) Update(ctx context.Context, id string, fn sessions.UpdateFunc) (*sessions.Session, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := fn(sess); err != nil {
		if autherrors.Is(err, sessions.ErrUnchanged) {
			return sess, nil
		}
		return nil, err
	}
	sess.UpdatedAt = s.nowTime()

	data, err := sessions.Marshal(sess)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		// Deleted (logout) while fn ran; do not resurrect it.
		return nil, autherrors.ErrSessionNotFound
	}
	s.sessions[id] = entry{data: data, expiresAt: sess.ExpiresAt}
	return sess, nil
}

func (s *Store) Ping(context.Context) error {
	return nil
}

// Len reports the number of stored sessions, expired ones included.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
