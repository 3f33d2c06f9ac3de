// Package middleware provides the HTTP guards in front of the API:
// bearer authentication, permission and role gates, and fixed-window rate
// limiting.
//
// # Authentication
//
//	authn := middleware.NewAuthenticator(authService, metrics)
//	protected := router.PathPrefix("/api").Subrouter()
//	protected.Use(authn.Handler)
//
// # Authorization
//
// The Gate reads the identity attached by the Authenticator. A missing
// identity is a 401; a missing permission or role is a 403 naming what was
// required.
//
//	gate := middleware.NewGate(metrics)
//	protected.Handle("/roles", gate.Authorize("roles", rbac.ActionCreate)(h)).Methods("POST")
//	protected.Handle("/audit/stats", gate.CheckRole("Admin", "Super Admin")(h))
//
// # Rate Limiting
//
// Budgets are counted per client IP in fixed windows. Counters live in a
// process-local LRU or, when Redis is configured, in Redis so every
// instance shares them. Store failures allow the request.
//
//	limits := middleware.LimitsFromConfig(cfg.RateLimit)
//	login := middleware.NewRateLimiter(limits.Login, middleware.NewRedisStore(client, ""), metrics)
//	router.Handle("/api/auth/login", login.Handler(h))
package middleware
