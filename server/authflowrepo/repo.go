package authflowrepo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// DefaultTTL bounds how long a user may take between /api/login and the
// provider redirect back to /api/callback.
const DefaultTTL = 10 * time.Minute

// AuthFlowState is what the login handler remembers about an in-flight
// authorization request, keyed by its OAuth state value.
type AuthFlowState struct {
	Domain       string    `json:"domain"`
	CodeVerifier string    `json:"code_verifier"`
	Nonce        string    `json:"nonce"`
	ReturnURL    string    `json:"return_url,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Repo stores flow state between login and callback. Backends shared by
// several instances let a callback land on any of them.
type Repo interface {
	Upsert(ctx context.Context, state string, authState *AuthFlowState) error
	// Consume returns the state and removes it. A state can be consumed once.
	Consume(ctx context.Context, state string) (*AuthFlowState, error)
	Delete(ctx context.Context, state string) error
}

type options struct {
	ttl     time.Duration
	nowTime func() time.Time
}

type Option func(*options)

func WithTTL(ttl time.Duration) Option {
	return func(o *options) { o.ttl = ttl }
}

// WithNowTime sets the clock used for expiry (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(o *options) { o.nowTime = nowFunc }
}

func newOptions(opts []Option) options {
	o := options{ttl: DefaultTTL, nowTime: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) expiresAt(s *AuthFlowState) time.Time {
	return s.CreatedAt.Add(o.ttl)
}

func (o options) expired(s *AuthFlowState) bool {
	return !o.nowTime().Before(o.expiresAt(s))
}

// stamped copies authState and fills in CreatedAt when the caller left it zero.
func (o options) stamped(authState *AuthFlowState) AuthFlowState {
	cp := *authState
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = o.nowTime()
	}
	return cp
}

func encode(s AuthFlowState) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("[authflowrepo encode] %w", err)
	}
	return data, nil
}

func decode(data []byte) (*AuthFlowState, error) {
	var s AuthFlowState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("[authflowrepo decode] %w", err)
	}
	return &s, nil
}
