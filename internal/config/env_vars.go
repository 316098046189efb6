package config

import (
	"os"
	"strings"
)

const (
	portEnvVar        = "PORT"
	appNameVar        = "APP_NAME"
	trustProxyEnvVar  = "TRUST_PROXY"
	databaseURLEnvVar = "DATABASE_URL"
	redisURLEnvVar    = "REDIS_URL"
)

type EnvVars struct{}

var _ EnvConfig = EnvVars{}

func (EnvVars) GetPort() string {
	port := GetEnv(portEnvVar, "8080")
	if !strings.HasPrefix(port, ":") {
		port = ":" + port
	}
	return port
}

func (EnvVars) GetAppName() string {
	return GetEnv(appNameVar, "Auth Gate")
}

func (EnvVars) GetEnv() string {
	env := os.Getenv("ENV")
	if env == "" {
		return "DEV"
	}
	return env
}

// GetTrustProxy reports whether X-Forwarded-Host and X-Forwarded-Proto are
// honoured when working out the request's host and scheme.
func (EnvVars) GetTrustProxy() bool {
	return GetBoolEnv(trustProxyEnvVar, true)
}

func (EnvVars) GetDatabaseURL() string {
	return GetEnv(databaseURLEnvVar, "")
}

func (EnvVars) GetRedisURL() string {
	return GetEnv(redisURLEnvVar, "")
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}

func GetBoolEnv(envVar string, defaultValue bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(envVar))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return defaultValue
	}
}
