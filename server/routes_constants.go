package server

// Route path constants
const (
	RouteLogin    = "/api/login"
	RouteCallback = "/api/callback"
	RouteLogout   = "/api/logout"

	// Gated API routes
	RouteAuthUser   = "/api/auth/user"
	RouteAdminCheck = "/api/auth/admin-check"

	RouteHealth  = "/healthz"
	RouteReady   = "/readyz"
	RouteMetrics = "/metrics"
)
