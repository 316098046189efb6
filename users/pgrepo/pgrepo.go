// Package pgrepo persists users in Postgres:
//
//	CREATE TABLE users (
//	    id                text PRIMARY KEY,
//	    email             text,
//	    first_name        text,
//	    last_name         text,
//	    profile_image_url text,
//	    created_at        timestamptz NOT NULL DEFAULT now(),
//	    updated_at        timestamptz NOT NULL DEFAULT now()
//	);
package pgrepo

import (
	"context"
	"database/sql"

	autherrors "github.com/jrsteele09/go-auth-gate/internal/errors"
	"github.com/jrsteele09/go-auth-gate/users"
)

const (
	upsertQuery = `INSERT INTO users (id, email, first_name, last_name, profile_image_url, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE SET
	email = EXCLUDED.email,
	first_name = EXCLUDED.first_name,
	last_name = EXCLUDED.last_name,
	profile_image_url = EXCLUDED.profile_image_url,
	updated_at = EXCLUDED.updated_at`

	getQuery = `SELECT id, email, first_name, last_name, profile_image_url, created_at, updated_at
FROM users WHERE id = $1`
)

var _ users.Repo = (*Repo)(nil)

type Repo struct {
	db *sql.DB
}

func New(db *sql.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) Upsert(ctx context.Context, u *users.User) error {
	_, err := r.db.ExecContext(ctx, upsertQuery,
		u.ID, nullString(u.Email), nullString(u.FirstName), nullString(u.LastName), nullString(u.ProfileImageURL),
		u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return autherrors.Wrapf(err, "[pgrepo Upsert] user %s", u.ID)
	}
	return nil
}

func (r *Repo) Get(ctx context.Context, id string) (*users.User, error) {
	var (
		u                                users.User
		email, first, last, profileImage sql.NullString
	)
	err := r.db.QueryRowContext(ctx, getQuery, id).Scan(
		&u.ID, &email, &first, &last, &profileImage, &u.CreatedAt, &u.UpdatedAt)
	if autherrors.Is(err, sql.ErrNoRows) {
		return nil, autherrors.ErrUserNotFound
	}
	if err != nil {
		return nil, autherrors.Wrapf(err, "[pgrepo Get] user %s", id)
	}
	u.Email = email.String
	u.FirstName = first.String
	u.LastName = last.String
	u.ProfileImageURL = profileImage.String
	return &u, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
