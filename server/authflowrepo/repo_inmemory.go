package authflowrepo

import (
	"context"
	"sync"

	autherrors "github.com/jrsteele09/go-auth-gate/internal/errors"
)

var _ Repo = (*InMemoryRepo)(nil)

// InMemoryRepo keeps flow state in this process only. A callback must reach
// the instance that served the login.
type InMemoryRepo struct {
	options
	mu     sync.Mutex
	states map[string]AuthFlowState
}

// NewInMemoryRepo creates a new in-memory auth flow state repository
func NewInMemoryRepo(opts ...Option) *InMemoryRepo {
	return &InMemoryRepo{
		options: newOptions(opts),
		states:  make(map[string]AuthFlowState),
	}
}

// Upsert stores or updates an auth flow state. Expired states are swept on
// every write.
func (r *InMemoryRepo) Upsert(_ context.Context, state string, authState *AuthFlowState) error {
	if err := validate(state, authState); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.sweep()
	r.states[state] = r.stamped(authState)
	return nil
}

func (r *InMemoryRepo) Consume(_ context.Context, state string) (*AuthFlowState, error) {
	if state == "" {
		return nil, autherrors.Wrapf(autherrors.ErrFlowState, "[authflowrepo Consume] state cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	authState, exists := r.states[state]
	if !exists {
		return nil, autherrors.Wrapf(autherrors.ErrFlowState, "[authflowrepo Consume] state not found")
	}
	delete(r.states, state)

	if r.expired(&authState) {
		return nil, autherrors.Wrapf(autherrors.ErrFlowState, "[authflowrepo Consume] state expired")
	}
	return &authState, nil
}

// Delete removes an auth flow state
func (r *InMemoryRepo) Delete(_ context.Context, state string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.states, state)
	return nil
}

// Len reports the number of stored states, expired ones included.
func (r *InMemoryRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}

func (r *InMemoryRepo) sweep() {
	for k, s := range r.states {
		if r.expired(&s) {
			delete(r.states, k)
		}
	}
}

func validate(state string, authState *AuthFlowState) error {
	if state == "" {
		return autherrors.Wrapf(autherrors.ErrFlowState, "[authflowrepo Upsert] state cannot be empty")
	}
	if authState == nil {
		return autherrors.Wrapf(autherrors.ErrFlowState, "[authflowrepo Upsert] authState cannot be nil")
	}
	return nil
}
