package authflowrepo

import (
	"context"
	"fmt"

	autherrors "github.com/jrsteele09/go-auth-gate/internal/errors"
	"github.com/redis/go-redis/v9"
)

const DefaultRedisPrefix = "authflow:"

var _ Repo = (*RedisRepo)(nil)

// RedisRepo keeps each flow under its own key, expiring with the flow.
type RedisRepo struct {
	options
	client redis.UniversalClient
	prefix string
}

func NewRedisRepo(client redis.UniversalClient, opts ...Option) *RedisRepo {
	return &RedisRepo{
		options: newOptions(opts),
		client:  client,
		prefix:  DefaultRedisPrefix,
	}
}

func (r *RedisRepo) key(state string) string { return r.prefix + state }

func (r *RedisRepo) Upsert(ctx context.Context, state string, authState *AuthFlowState) error {
	if err := validate(state, authState); err != nil {
		return err
	}
	s := r.stamped(authState)
	ttl := r.expiresAt(&s).Sub(r.nowTime())
	if ttl <= 0 {
		return autherrors.Wrapf(autherrors.ErrFlowState, "[authflowrepo Upsert] state already expired")
	}
	data, err := encode(s)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key(state), data, ttl).Err(); err != nil {
		return fmt.Errorf("[authflowrepo RedisRepo.Upsert] %w", err)
	}
	return nil
}

// Consume uses GETDEL so a state is handed to one caller only.
func (r *RedisRepo) Consume(ctx context.Context, state string) (*AuthFlowState, error) {
	if state == "" {
		return nil, autherrors.Wrapf(autherrors.ErrFlowState, "[authflowrepo Consume] state cannot be empty")
	}
	data, err := r.client.GetDel(ctx, r.key(state)).Bytes()
	if autherrors.Is(err, redis.Nil) {
		return nil, autherrors.Wrapf(autherrors.ErrFlowState, "[authflowrepo Consume] state not found")
	}
	if err != nil {
		return nil, fmt.Errorf("[authflowrepo RedisRepo.Consume] %w", err)
	}
	s, err := decode(data)
	if err != nil {
		return nil, err
	}
	if r.expired(s) {
		return nil, autherrors.Wrapf(autherrors.ErrFlowState, "[authflowrepo Consume] state expired")
	}
	return s, nil
}

func (r *RedisRepo) Delete(ctx context.Context, state string) error {
	if err := r.client.Del(ctx, r.key(state)).Err(); err != nil {
		return fmt.Errorf("[authflowrepo RedisRepo.Delete] %w", err)
	}
	return nil
}
