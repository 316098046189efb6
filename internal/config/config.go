package config

import "time"

// Config is the full set of settings the gate reads from its environment.
type Config interface {
	EnvConfig
	CorsConfig
	OIDCConfig
	SessionConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetEnv() string
	GetTrustProxy() bool
	GetDatabaseURL() string
	GetRedisURL() string
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() string
	GetAllowedHeaders() string
}

// OIDCConfig describes the upstream identity provider. When either the trusted
// domain list or the client id is missing the gate runs in demo-only mode.
type OIDCConfig interface {
	GetTrustedDomains() []string
	GetClientID() string
	GetClientSecret() string
	GetIssuerURL() string
	GetDiscoveryTTL() time.Duration
	GetProviderTimeout() time.Duration
	IsOIDCConfigured() bool
}

type SessionConfig interface {
	GetSessionSecret() []byte
	GetSessionTTL() time.Duration
	GetSessionCookieName() string
	GetSessionStore() string
	GetFlowStateTTL() time.Duration
	GetLandingRoute() string
}

// AuthConfig is the subset consumed by the auth service.
type AuthConfig interface {
	OIDCConfig
	SessionConfig
}

type mainConfig struct {
	EnvVars
	Cors
	OIDC
	Session
}

func New() Config {
	return mainConfig{}
}
