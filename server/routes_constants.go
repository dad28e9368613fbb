package server

// Route path constants
// The login and logout routes are relative to the configured route prefix;
// the provider callbacks come from configuration.
const (
	// Auth Routes - Login & Logout
	RouteLogin  = "/login"
	RouteLogout = "/logout"

	// Pages
	RouteHome    = "/"
	RouteProfile = "/profile"

	// Operations
	RouteHealth  = "/healthz"
	RouteMetrics = "/metrics"

	// Static Asset Routes (patterns)
	RouteStaticCSS = "/css/{file}"
)

// Query parameters understood by the login route.
const (
	paramReturnURL = "returnUrl"
	paramPrompt    = "prompt"
)
