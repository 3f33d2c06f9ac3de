// Package api provides the HTTP REST API of the gatekeeper service.
//
// # Overview
//
// The API exposes authentication, session management, role and permission
// administration, user administration and the read side of the audit
// trail. Every route lives under /api and is served by a gorilla/mux router.
//
// # Route Groups
//
//   - /api/auth: register, login, refresh, password reset, email
//     verification, profile and session management
//   - /api/roles, /api/permissions: the role catalogue, guarded by the roles
//     and permissions resources; role mutations are audited through
//     audit.Audited
//   - /api/users: user administration and role assignment
//   - /api/audit-logs: filtered listing, statistics and NDJSON/CSV export
//
// # Middleware
//
// Requests pass through panic recovery, request logging, Prometheus
// metrics, body size limiting and the general per-IP rate limit. Protected
// routes add bearer authentication and a permission gate:
//
//	server := api.NewServer(api.Dependencies{
//		Auth:        authService,
//		Credentials: credentials,
//		Roles:       roleStore,
//		Users:       userService,
//		Recorder:    recorder,
//		AuditReader: reader,
//		Exporter:    exporter,
//		Limits:      middleware.LimitsFromConfig(cfg.RateLimit),
//		LimitStore:  middleware.NewMemoryStore(cfg.RateLimit.LRUSize, time.Hour),
//		Logger:      logger,
//		Metrics:     metrics,
//	})
//	http.ListenAndServe(":8080", server)
//
// # Errors
//
// Errors are JSON objects of the form {"error": "...", "details": [...]}.
// Permission failures add requiredPermission, role failures add
// requiredRoles and logins blocked on email verification add
// requiresVerification.
package api
