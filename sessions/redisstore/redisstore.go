// Package redisstore stores sessions in Redis. Keys expire with the session;
// Update serializes writers on a per-session lock key.
package redisstore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	autherrors "github.com/jrsteele09/go-auth-gate/internal/errors"
	"github.com/jrsteele09/go-auth-gate/sessions"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	DefaultPrefix = "sess:"

	// DefaultLockTTL covers an update that runs discovery and a token
	// refresh, each bounded by the provider timeout.
	DefaultLockTTL = 30 * time.Second
	// DefaultLockWait exceeds DefaultLockTTL, so a waiter gets the lock
	// even when the holder never releases it.
	DefaultLockWait = 35 * time.Second

	defaultLockRetry = 20 * time.Millisecond
)

// releaseScript deletes the lock only if we still own it.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

var _ sessions.Repo = (*Store)(nil)

type Store struct {
	client    redis.UniversalClient
	prefix    string
	lockTTL   time.Duration
	lockWait  time.Duration
	lockRetry time.Duration
	nowTime   func() time.Time
}

type Option func(*Store)

func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// WithLock sets how long an update lock lives and how long Update waits to
// acquire it.
func WithLock(ttl, wait time.Duration) Option {
	return func(s *Store) {
		s.lockTTL = ttl
		s.lockWait = wait
	}
}

// WithNowTime sets the clock stamped on sessions (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(s *Store) { s.nowTime = nowFunc }
}

func New(client redis.UniversalClient, options ...Option) *Store {
	s := &Store{
		client:    client,
		prefix:    DefaultPrefix,
		lockTTL:   DefaultLockTTL,
		lockWait:  DefaultLockWait,
		lockRetry: defaultLockRetry,
		nowTime:   time.Now,
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// NewFromURL parses a redis:// URL and returns a store over a new client.
func NewFromURL(redisURL string, options ...Option) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, autherrors.Wrapf(autherrors.ErrSession, "[redisstore NewFromURL] %v", err)
	}
	return New(redis.NewClient(opts), options...), nil
}

func (s *Store) key(id string) string     { return s.prefix + id }
func (s *Store) lockKey(id string) string { return s.prefix + "lock:" + id }

func (s *Store) Get(ctx context.Context, id string) (*sessions.Session, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if autherrors.Is(err, redis.Nil) {
		return nil, autherrors.ErrSessionNotFound
	}
	if err != nil {
		return nil, autherrors.Wrapf(autherrors.ErrSession, "[redisstore Get] %v", err)
	}
	return sessions.Unmarshal(id, data)
}

func (s *Store) Set(ctx context.Context, id string, sess *sessions.Session, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = sessions.DefaultTTL
	}
	cp := *sess
	cp.ExpiresAt = s.nowTime().Add(ttl)

	data, err := sessions.Marshal(&cp)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(id), data, ttl).Err(); err != nil {
		return autherrors.Wrapf(autherrors.ErrSession, "[redisstore Set] %v", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return autherrors.Wrapf(autherrors.ErrSession, "[redisstore Delete] %v", err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, id string, fn sessions.UpdateFunc) (*sessions.Session, error) {
	release, err := s.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

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
	// XX: only rewrite a key that still exists, so a concurrent logout wins.
	ok, err := s.client.SetArgs(ctx, s.key(id), data, redis.SetArgs{Mode: "XX", KeepTTL: true}).Result()
	if autherrors.Is(err, redis.Nil) {
		return nil, autherrors.ErrSessionNotFound
	}
	if err != nil {
		return nil, autherrors.Wrapf(autherrors.ErrSession, "[redisstore Update] %v", err)
	}
	if ok != "OK" {
		return nil, autherrors.ErrSessionNotFound
	}
	return sess, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return autherrors.Wrapf(autherrors.ErrSession, "[redisstore Ping] %v", err)
	}
	return nil
}

// Client is the underlying connection, for other state that should live
// next to the sessions.
func (s *Store) Client() redis.UniversalClient {
	return s.client
}

func (s *Store) Close() error {
	return s.client.Close()
}

// lock spins on SETNX until the lock is ours, the wait elapses or ctx ends.
func (s *Store) lock(ctx context.Context, id string) (func(), error) {
	key := s.lockKey(id)
	token, err := newLockToken()
	if err != nil {
		return nil, err
	}

	deadline := time.NewTimer(s.lockWait)
	defer deadline.Stop()
	retry := time.NewTicker(s.lockRetry)
	defer retry.Stop()

	for {
		acquired, err := s.client.SetNX(ctx, key, token, s.lockTTL).Result()
		if err != nil {
			return nil, autherrors.Wrapf(autherrors.ErrSession, "[redisstore lock] %v", err)
		}
		if acquired {
			return func() {
				// The caller's ctx may already be cancelled; always release.
				if err := releaseScript.Run(context.WithoutCancel(ctx), s.client, []string{key}, token).Err(); err != nil {
					log.Warn().Err(err).Str("key", key).Msg("redisstore: failed to release lock")
				}
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, autherrors.Wrapf(autherrors.ErrSession, "[redisstore lock] %v", ctx.Err())
		case <-deadline.C:
			return nil, autherrors.Wrapf(autherrors.ErrSession, "[redisstore lock] timed out waiting for %s", key)
		case <-retry.C:
		}
	}
}

func newLockToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", autherrors.Wrapf(autherrors.ErrSession, "[redisstore lock] %v", err)
	}
	return hex.EncodeToString(b), nil
}
