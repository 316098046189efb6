package authflowrepo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	autherrors "github.com/jrsteele09/go-auth-gate/internal/errors"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// DefaultPostgresTable holds flow state next to the sessions table:
//
//	CREATE TABLE auth_flows (
//	    state  text PRIMARY KEY,
//	    flow   jsonb NOT NULL,
//	    expire timestamptz NOT NULL
//	);
//
// Like the sessions table it is expected to exist.
const DefaultPostgresTable = "auth_flows"

var _ Repo = (*PostgresRepo)(nil)

type PostgresRepo struct {
	options
	db *sql.DB

	upsertQuery  string
	consumeQuery string
	deleteQuery  string
	sweepQuery   string
}

func NewPostgresRepo(db *sql.DB, table string, opts ...Option) *PostgresRepo {
	if table == "" {
		table = DefaultPostgresTable
	}
	t := pq.QuoteIdentifier(table)
	return &PostgresRepo{
		options:      newOptions(opts),
		db:           db,
		upsertQuery:  "INSERT INTO " + t + " (state, flow, expire) VALUES ($1, $2, $3) ON CONFLICT (state) DO UPDATE SET flow = EXCLUDED.flow, expire = EXCLUDED.expire",
		consumeQuery: "DELETE FROM " + t + " WHERE state = $1 RETURNING flow, expire",
		deleteQuery:  "DELETE FROM " + t + " WHERE state = $1",
		sweepQuery:   "DELETE FROM " + t + " WHERE expire <= $1",
	}
}

// Upsert writes the state and sweeps expired rows. A failed sweep is only
// logged.
func (r *PostgresRepo) Upsert(ctx context.Context, state string, authState *AuthFlowState) error {
	if err := validate(state, authState); err != nil {
		return err
	}
	s := r.stamped(authState)
	data, err := encode(s)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, r.upsertQuery, state, data, r.expiresAt(&s)); err != nil {
		return fmt.Errorf("[authflowrepo PostgresRepo.Upsert] %w", err)
	}
	if _, err := r.db.ExecContext(ctx, r.sweepQuery, r.nowTime()); err != nil {
		log.Warn().Err(err).Msg("authflowrepo: sweep of expired flow state failed")
	}
	return nil
}

// Consume deletes the row and returns what it held in one statement, so two
// callbacks racing on the same state cannot both win.
func (r *PostgresRepo) Consume(ctx context.Context, state string) (*AuthFlowState, error) {
	if state == "" {
		return nil, autherrors.Wrapf(autherrors.ErrFlowState, "[authflowrepo Consume] state cannot be empty")
	}

	var (
		data   []byte
		expire time.Time
	)
	err := r.db.QueryRowContext(ctx, r.consumeQuery, state).Scan(&data, &expire)
	if autherrors.Is(err, sql.ErrNoRows) {
		return nil, autherrors.Wrapf(autherrors.ErrFlowState, "[authflowrepo Consume] state not found")
	}
	if err != nil {
		return nil, fmt.Errorf("[authflowrepo PostgresRepo.Consume] %w", err)
	}
	if !r.nowTime().Before(expire) {
		return nil, autherrors.Wrapf(autherrors.ErrFlowState, "[authflowrepo Consume] state expired")
	}
	return decode(data)
}

func (r *PostgresRepo) Delete(ctx context.Context, state string) error {
	if _, err := r.db.ExecContext(ctx, r.deleteQuery, state); err != nil {
		return fmt.Errorf("[authflowrepo PostgresRepo.Delete] %w", err)
	}
	return nil
}
