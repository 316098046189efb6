package config

import (
	"sort"
	"strings"
)

type Cors struct{}

var _ CorsConfig = Cors{}

type AllowedOrigins map[string]struct{}
type nullValue = struct{}

func (a AllowedOrigins) IsAllowedOrigin(origin string) bool {
	_, ok := a[origin]
	return ok
}

func (a AllowedOrigins) String() string {
	var origins []string
	for k := range a {
		origins = append(origins, k)
	}
	sort.Strings(origins)
	return strings.Join(origins, ", ")
}

const allowedOriginsEnvVar = "CORS_ALLOWED_ORIGINS"

// Origins used by the native shell's web view (Android serves the bundle from
// https://localhost, iOS from capacitor://localhost).
var mobileShellOrigins = []string{"https://localhost", "capacitor://localhost"}

// GetAllowedOrigins returns the mobile shell origins, every trusted domain
// over https, and anything listed in CORS_ALLOWED_ORIGINS.
func (Cors) GetAllowedOrigins() AllowedOrigins {
	origins := AllowedOrigins{}
	for _, o := range mobileShellOrigins {
		origins[o] = nullValue{}
	}
	for _, d := range (OIDC{}).GetTrustedDomains() {
		origins["https://"+d] = nullValue{}
	}
	for _, o := range splitList(GetEnv(allowedOriginsEnvVar, "")) {
		origins[o] = nullValue{}
	}
	return origins
}

func (Cors) GetAllowedMethods() string {
	return "GET, POST, PUT, PATCH, DELETE"
}

func (Cors) GetAllowedHeaders() string {
	return "Content-Type, Authorization"
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
