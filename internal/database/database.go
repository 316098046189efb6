// Package database opens the Postgres pool shared by the session store and
// the user repository.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"
)

// PoolConfig sizes the connection pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration
	MaxConnectTries uint
}

// DefaultPoolConfig matches the pool the application has always run with:
// ten connections, thirty second idle timeout, ten second connect timeout.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    10,
		ConnMaxIdleTime: 30 * time.Second,
		ConnectTimeout:  10 * time.Second,
		MaxConnectTries: 5,
	}
}

// Open creates the pool and waits for the database to answer a ping,
// retrying with exponential backoff.
func Open(ctx context.Context, dsn string, cfg PoolConfig) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("[database Open] DATABASE_URL must be set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("[database Open] failed to open database: %w", err)
	}
	Configure(db, cfg)

	if err := Ping(ctx, db, cfg); err != nil {
		_ = db.Close()
		return nil, err
	}

	log.Info().Int("max_open_conns", cfg.MaxOpenConns).Msg("database connection established")
	return db, nil
}

// Configure applies the pool limits to db.
func Configure(db *sql.DB, cfg PoolConfig) {
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
}

// Ping retries db.PingContext until it succeeds or the attempts run out.
func Ping(ctx context.Context, db *sql.DB, cfg PoolConfig) error {
	tries := cfg.MaxConnectTries
	if tries == 0 {
		tries = 1
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 250 * time.Millisecond
	expBackoff.MaxInterval = 5 * time.Second

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
		return struct{}{}, db.PingContext(pingCtx)
	},
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(tries),
		backoff.WithNotify(func(err error, wait time.Duration) {
			log.Warn().Err(err).Dur("retry_in", wait).Msg("database not ready")
		}),
	)
	if err != nil {
		return fmt.Errorf("[database Ping] failed to ping database: %w", err)
	}
	return nil
}
