package repofake

import (
	"context"
	"errors"
	"sort"
	"sync"

	autherrors "github.com/jrsteele09/go-auth-gate/internal/errors"
	"github.com/jrsteele09/go-auth-gate/users"
)

var _ users.Repo = (*FakeUserRepo)(nil)

type FakeUserRepo struct {
	users map[string]users.User
	lock  sync.RWMutex
}

func NewFakeUserRepo() *FakeUserRepo {
	return &FakeUserRepo{
		users: make(map[string]users.User),
	}
}

func (ur *FakeUserRepo) Upsert(_ context.Context, user *users.User) error {
	if user == nil || user.ID == "" {
		return errors.New("[FakeUserRepo Upsert] user id is required")
	}
	ur.lock.Lock()
	defer ur.lock.Unlock()

	u := *user
	if existing, ok := ur.users[u.ID]; ok {
		u.CreatedAt = existing.CreatedAt
	}
	ur.users[u.ID] = u
	return nil
}

func (ur *FakeUserRepo) Get(_ context.Context, id string) (*users.User, error) {
	ur.lock.RLock()
	defer ur.lock.RUnlock()

	u, ok := ur.users[id]
	if !ok {
		return nil, autherrors.ErrUserNotFound
	}
	return &u, nil
}

// List returns every user ordered by ID.
func (ur *FakeUserRepo) List() []*users.User {
	ur.lock.RLock()
	defer ur.lock.RUnlock()

	list := make([]*users.User, 0, len(ur.users))
	for _, u := range ur.users {
		u := u
		list = append(list, &u)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}
