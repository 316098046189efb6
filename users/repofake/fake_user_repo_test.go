package repofake_test

import (
	"context"
	"testing"
	"time"

	autherrors "github.com/jrsteele09/go-auth-gate/internal/errors"
	"github.com/jrsteele09/go-auth-gate/users"
	"github.com/jrsteele09/go-auth-gate/users/repofake"
	"github.com/stretchr/testify/require"
)

func TestUpsertIsIdempotentByID(t *testing.T) {
	ctx := context.Background()
	repo := repofake.NewFakeUserRepo()
	first := time.Unix(1_700_000_000, 0)
	later := first.Add(time.Hour)

	require.NoError(t, repo.Upsert(ctx, &users.User{ID: "u1", Email: "a@example.com", CreatedAt: first, UpdatedAt: first}))
	require.NoError(t, repo.Upsert(ctx, &users.User{ID: "u1", Email: "b@example.com", CreatedAt: later, UpdatedAt: later}))

	u, err := repo.Get(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "b@example.com", u.Email)
	require.Equal(t, first, u.CreatedAt)
	require.Equal(t, later, u.UpdatedAt)
	require.Len(t, repo.List(), 1)
}

func TestGetMissing(t *testing.T) {
	_, err := repofake.NewFakeUserRepo().Get(context.Background(), "nope")
	require.ErrorIs(t, err, autherrors.ErrUserNotFound)
}

func TestUpsertRequiresID(t *testing.T) {
	require.Error(t, repofake.NewFakeUserRepo().Upsert(context.Background(), &users.User{}))
}
