// Package pgstore stores sessions in Postgres using the connect-pg-simple
// table layout:
//
//	CREATE TABLE sessions (
//	    sid    text PRIMARY KEY,
//	    sess   jsonb NOT NULL,
//	    expire timestamptz NOT NULL
//	);
//
// The table is expected to exist; the store never creates it.
package pgstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	autherrors "github.com/jrsteele09/go-auth-gate/internal/errors"
	"github.com/jrsteele09/go-auth-gate/sessions"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// DefaultTable is the connect-pg-simple default table name.
const DefaultTable = "sessions"

// DefaultUpdateTimeout bounds an Update transaction. It is above the two
// provider calls (discovery and refresh) a token refresh makes inside it.
const DefaultUpdateTimeout = 30 * time.Second

var _ sessions.Repo = (*Store)(nil)

type Store struct {
	db            *sql.DB
	nowTime       func() time.Time
	updateTimeout time.Duration

	getQuery    string
	upsertQuery string
	deleteQuery string
	lockQuery   string
	updateQuery string
	pruneQuery  string
}

type Option func(*Store)

func WithUpdateTimeout(d time.Duration) Option {
	return func(s *Store) { s.updateTimeout = d }
}

// WithNowTime sets the clock used for expiry (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(s *Store) { s.nowTime = nowFunc }
}

// New returns a store over db using the given table name, or DefaultTable
// when table is empty.
func New(db *sql.DB, table string, options ...Option) *Store {
	if table == "" {
		table = DefaultTable
	}
	t := pq.QuoteIdentifier(table)
	s := &Store{
		db:            db,
		nowTime:       time.Now,
		updateTimeout: DefaultUpdateTimeout,
		getQuery:    "SELECT sess FROM " + t + " WHERE sid = $1 AND expire > $2",
		upsertQuery: "INSERT INTO " + t + " (sid, sess, expire) VALUES ($1, $2, $3) ON CONFLICT (sid) DO UPDATE SET sess = EXCLUDED.sess, expire = EXCLUDED.expire",
		deleteQuery: "DELETE FROM " + t + " WHERE sid = $1",
		lockQuery:   "SELECT sess FROM " + t + " WHERE sid = $1 AND expire > $2 FOR UPDATE",
		updateQuery: "UPDATE " + t + " SET sess = $2 WHERE sid = $1",
		pruneQuery:  "DELETE FROM " + t + " WHERE expire <= $1",
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

func (s *Store) Get(ctx context.Context, id string) (*sessions.Session, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, s.getQuery, id, s.nowTime()).Scan(&data)
	if autherrors.Is(err, sql.ErrNoRows) {
		return nil, autherrors.ErrSessionNotFound
	}
	if err != nil {
		return nil, autherrors.Wrapf(autherrors.ErrSession, "[pgstore Get] %v", err)
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
	if _, err := s.db.ExecContext(ctx, s.upsertQuery, id, data, cp.ExpiresAt); err != nil {
		return autherrors.Wrapf(autherrors.ErrSession, "[pgstore Set] %v", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, s.deleteQuery, id); err != nil {
		return autherrors.Wrapf(autherrors.ErrSession, "[pgstore Delete] %v", err)
	}
	return nil
}

// Update locks the row with SELECT ... FOR UPDATE for the duration of fn.
// The row lock and one pooled connection are held until fn returns, for at
// most the update timeout; past it the transaction is rolled back and the
// update fails. Concurrent refreshes of different sessions therefore each
// take a connection from the pool (database.DefaultPoolConfig: 10).
func (s *Store) Update(ctx context.Context, id string, fn sessions.UpdateFunc) (_ *sessions.Session, err error) {
	ctx, cancel := context.WithTimeout(ctx, s.updateTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, autherrors.Wrapf(autherrors.ErrSession, "[pgstore Update] begin: %v", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !autherrors.Is(rbErr, sql.ErrTxDone) {
				log.Warn().Err(rbErr).Msg("pgstore: rollback failed")
			}
		}
	}()

	var data []byte
	err = tx.QueryRowContext(ctx, s.lockQuery, id, s.nowTime()).Scan(&data)
	if autherrors.Is(err, sql.ErrNoRows) {
		return nil, autherrors.ErrSessionNotFound
	}
	if err != nil {
		return nil, autherrors.Wrapf(autherrors.ErrSession, "[pgstore Update] select: %v", err)
	}

	sess, err := sessions.Unmarshal(id, data)
	if err != nil {
		return nil, err
	}

	if err = fn(sess); err != nil {
		if autherrors.Is(err, sessions.ErrUnchanged) {
			err = nil
			if cErr := tx.Commit(); cErr != nil {
				log.Warn().Err(cErr).Msg("pgstore: commit of read-only update failed")
			}
			return sess, nil
		}
		return nil, err
	}
	sess.UpdatedAt = s.nowTime()

	data, err = sessions.Marshal(sess)
	if err != nil {
		return nil, err
	}
	if _, err = tx.ExecContext(ctx, s.updateQuery, id, data); err != nil {
		return nil, autherrors.Wrapf(autherrors.ErrSession, "[pgstore Update] write: %v", err)
	}
	if err = tx.Commit(); err != nil {
		return nil, autherrors.Wrapf(autherrors.ErrSession, "[pgstore Update] commit: %v", err)
	}
	return sess, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return autherrors.Wrapf(autherrors.ErrSession, "[pgstore Ping] %v", err)
	}
	return nil
}

// Prune deletes expired rows and returns how many were removed.
func (s *Store) Prune(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.pruneQuery, s.nowTime())
	if err != nil {
		return 0, fmt.Errorf("[pgstore Prune] %w", err)
	}
	return res.RowsAffected()
}

// StartPruning runs Prune every interval until ctx is done.
func (s *Store) StartPruning(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := s.Prune(ctx)
				if err != nil {
					log.Err(err).Msg("pgstore: prune failed")
					continue
				}
				if n > 0 {
					log.Debug().Int64("removed", n).Msg("pgstore: pruned expired sessions")
				}
			}
		}
	}()
}
