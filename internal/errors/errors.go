package errors

import (
	"errors"
	"fmt"
)

// Error taxonomy for the authentication gate
var (
	// Identity provider configuration
	ErrConfigurationAbsent = errors.New("identity provider not configured")
	ErrDiscovery           = errors.New("identity provider discovery failed")
	ErrStrategyNotFound    = errors.New("no strategy registered for host")

	// Provider exchanges
	ErrProviderExchange = errors.New("provider code exchange failed")
	ErrTokenRefresh     = errors.New("token refresh rejected")
	ErrNoEndSession     = errors.New("provider has no end_session_endpoint")

	// Login flow state
	ErrFlowState = errors.New("invalid login flow state")

	// Sessions
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrSession         = errors.New("session store failure")
	ErrSessionNotFound = errors.New("session not found")

	// Users
	ErrUserNotFound = errors.New("user not found")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
