package auth

import (
	"fmt"

	autherrors "github.com/jrsteele09/go-auth-gate/internal/errors"
)

// FallbackReason labels why a login took the demo path.
type FallbackReason string

const (
	ReasonConfigurationAbsent FallbackReason = "configuration_absent"
	ReasonStrategyNotFound    FallbackReason = "strategy_not_found"
	ReasonDiscoveryFailed     FallbackReason = "discovery_failed"
	ReasonFlowStateFailed     FallbackReason = "flow_state_failed"
	ReasonUnexpected          FallbackReason = "unexpected"
)

func fallbackReason(err error) FallbackReason {
	switch {
	case autherrors.Is(err, autherrors.ErrConfigurationAbsent):
		return ReasonConfigurationAbsent
	case autherrors.Is(err, autherrors.ErrStrategyNotFound):
		return ReasonStrategyNotFound
	case autherrors.Is(err, autherrors.ErrDiscovery):
		return ReasonDiscoveryFailed
	case autherrors.Is(err, autherrors.ErrFlowState):
		return ReasonFlowStateFailed
	default:
		return ReasonUnexpected
	}
}

// wrapSessionErr marks a store failure as ErrSession so handlers answer 500.
func wrapSessionErr(prefix string, err error) error {
	if autherrors.Is(err, autherrors.ErrSession) {
		return fmt.Errorf("%s %w", prefix, err)
	}
	return fmt.Errorf("%s %w: %w", prefix, autherrors.ErrSession, err)
}
