package config

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	sessionSecretEnvVar = "SESSION_SECRET"
	sessionStoreEnvVar  = "SESSION_STORE"
	landingRouteEnvVar  = "LANDING_ROUTE"

	SessionStoreMemory   = "memory"
	SessionStorePostgres = "postgres"
	SessionStoreRedis    = "redis"
)

type Session struct{}

var _ SessionConfig = Session{}

var (
	ephemeralSecret     []byte
	ephemeralSecretOnce sync.Once
)

// GetSessionSecret returns SESSION_SECRET, or a random secret generated once
// per process when it is unset. Cookies signed with the random secret do not
// survive a restart.
func (Session) GetSessionSecret() []byte {
	if secret := GetEnv(sessionSecretEnvVar, ""); secret != "" {
		return []byte(secret)
	}
	ephemeralSecretOnce.Do(func() {
		ephemeralSecret = make([]byte, 32)
		if _, err := rand.Read(ephemeralSecret); err != nil {
			panic("config: unable to generate session secret: " + err.Error())
		}
		log.Warn().Msg("SESSION_SECRET not set - using a random per-process secret")
	})
	return ephemeralSecret
}

func (Session) GetSessionTTL() time.Duration {
	return 7 * 24 * time.Hour
}

func (Session) GetSessionCookieName() string {
	return "connect.sid"
}

// GetSessionStore picks the backend: SESSION_STORE if set, postgres when a
// DATABASE_URL is present, otherwise memory.
func (Session) GetSessionStore() string {
	if store := GetEnv(sessionStoreEnvVar, ""); store != "" {
		return store
	}
	if (EnvVars{}).GetDatabaseURL() != "" {
		return SessionStorePostgres
	}
	return SessionStoreMemory
}

func (Session) GetFlowStateTTL() time.Duration {
	return 10 * time.Minute
}

func (Session) GetLandingRoute() string {
	return GetEnv(landingRouteEnvVar, "/dashboard")
}
