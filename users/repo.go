package users

import "context"

type Repo interface {
	// Upsert inserts the user or updates the profile fields of an existing
	// user with the same ID. CreatedAt of an existing user is preserved.
	Upsert(ctx context.Context, user *User) error
	Get(ctx context.Context, id string) (*User, error)
}
