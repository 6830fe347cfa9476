package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4" // import the Echo web framework to handle routing
	"github.com/redis/go-redis/v9"

	"github.com/openmetro/parcelview/internal/config"
	"github.com/openmetro/parcelview/internal/handler"    // import the handlers that implement business logic
	"github.com/openmetro/parcelview/internal/middleware" // import middleware for session auth, limits and caching
)

// RegisterRoutes registers routes that do not require authentication on the
// provided Echo instance. Currently it exposes only a health check, used by
// load balancers and monitoring systems.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterAuth registers all authentication-related routes and applies the
// necessary middleware. Unauthenticated operations live under /v1/auth,
// while bearer-protected endpoints share the session-checking gate.
//
// Register and login carry separate per-IP token buckets; login's is the
// stricter of the two since it is the credential-stuffing target.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, sessions middleware.SessionChecker, rdb *redis.Client) {
	g := e.Group("/v1/auth")
	g.POST("/register", a.Register, middleware.IPRateLimit(config.LoadRegisterRateLimit(), rdb))
	g.POST("/login", a.Login, middleware.IPRateLimit(config.LoadLoginRateLimit(), rdb))
	// Refresh authenticates by the refresh token itself, not a bearer.
	g.POST("/refresh", a.Refresh)

	// Everything below requires a valid access token bound to a live
	// session. The middleware injects user_id/session_id/username into the
	// request context for the handlers.
	auth := middleware.RequireSession(a.Cfg.JWTSecret, sessions)
	g.POST("/logout", a.Logout, auth)
	g.POST("/logout-all", a.LogoutAll, auth)
	g.GET("/me", a.Me, auth)
}

// RegisterProperties registers the bearer-protected search and lookup
// endpoints. Search responses flow through the Redis response cache; with
// no Redis client both limiter and cache degrade to pass-throughs.
func RegisterProperties(e *echo.Echo, p *handler.PropertyHandler, jwtSecret string, sessions middleware.SessionChecker, rdb *redis.Client) {
	g := e.Group("/v1/properties")
	g.Use(middleware.RequireSession(jwtSecret, sessions))
	g.Use(middleware.SearchCache(config.LoadCacheConfig(), rdb))

	g.GET("/search", p.Search)
	g.GET("/by-coordinates", p.ByCoordinates)
	g.GET("/by-parcel-key/:parcelKey", p.ByParcelKey)
}
