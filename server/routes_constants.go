package server

// Route path constants
const (
	RoutePortalLookup = "/api/portal/{code}"
	RouteHealth       = "/healthz"
)
