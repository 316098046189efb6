package config

import (
	"strings"
	"time"
)

const (
	trustedDomainsEnvVar = "REPLIT_DOMAINS"
	clientIDEnvVar       = "REPL_ID"
	clientSecretEnvVar   = "CLIENT_SECRET"
	issuerURLEnvVar      = "ISSUER_URL"

	DefaultIssuerURL = "https://replit.com/oidc"
)

type OIDC struct{}

var _ OIDCConfig = OIDC{}

func (OIDC) GetTrustedDomains() []string {
	var domains []string
	for _, d := range splitList(GetEnv(trustedDomainsEnvVar, "")) {
		domains = append(domains, strings.ToLower(d))
	}
	return domains
}

func (OIDC) GetClientID() string {
	return strings.TrimSpace(GetEnv(clientIDEnvVar, ""))
}

// GetClientSecret is empty for public clients.
func (OIDC) GetClientSecret() string {
	return GetEnv(clientSecretEnvVar, "")
}

func (OIDC) GetIssuerURL() string {
	return GetEnv(issuerURLEnvVar, DefaultIssuerURL)
}

func (OIDC) GetDiscoveryTTL() time.Duration {
	return 1 * time.Hour
}

func (OIDC) GetProviderTimeout() time.Duration {
	return 10 * time.Second
}

func (o OIDC) IsOIDCConfigured() bool {
	return len(o.GetTrustedDomains()) > 0 && o.GetClientID() != ""
}
