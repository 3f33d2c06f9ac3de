package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/auth"
	"github.com/platinummonkey/gatekeeper/pkg/httputil"
	"github.com/platinummonkey/gatekeeper/pkg/middleware"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/rbac"
	"github.com/platinummonkey/gatekeeper/pkg/users"
)

// Resources guarded by the permission catalogue
const (
	ResourceUsers       = "users"
	ResourceRoles       = "roles"
	ResourcePermissions = "permissions"
	ResourceAuditLogs   = "audit_logs"
)

// Dependencies are the services the API is built from
type Dependencies struct {
	Auth        *auth.Service
	Credentials *auth.Credentials
	Roles       *rbac.Store
	Users       *users.Service
	Recorder    *audit.Recorder
	AuditReader *audit.Reader
	Exporter    *audit.Exporter

	Limits     middleware.Limits
	LimitStore middleware.CounterStore

	Logger         *observability.Logger
	Metrics        *observability.Metrics
	AllowedOrigins []string
	MaxBodyBytes   int64
	// ServiceName enables otelhttp tracing when set
	ServiceName string
}

// Server represents the API server
type Server struct {
	router  *mux.Router
	handler http.Handler
	deps    Dependencies

	authn *middleware.Authenticator
	gate  *middleware.Gate

	authHandlers  *AuthHandlers
	roleHandlers  *RoleHandlers
	userHandlers  *UserHandlers
	auditHandlers *AuditHandlers
}

// NewServer creates a new API server with all routes registered
func NewServer(deps Dependencies) *Server {
	if deps.Metrics == nil {
		deps.Metrics = observability.NewNopMetrics()
	}
	if deps.MaxBodyBytes <= 0 {
		deps.MaxBodyBytes = 1 << 20
	}

	s := &Server{
		router: mux.NewRouter(),
		deps:   deps,
		authn:  middleware.NewAuthenticator(deps.Auth, deps.Metrics),
		gate:   middleware.NewGate(deps.Metrics),
	}

	s.authHandlers = NewAuthHandlers(deps.Auth, deps.Credentials)
	s.roleHandlers = NewRoleHandlers(deps.Roles, deps.Recorder)
	s.userHandlers = NewUserHandlers(deps.Users)
	s.auditHandlers = NewAuditHandlers(deps.AuditReader, deps.Exporter)

	s.setupRoutes()
	s.handler = httputil.CORSMiddleware(deps.AllowedOrigins)(s.router)
	return s
}

func (s *Server) limiter(cfg middleware.RateLimitConfig) func(http.Handler) http.Handler {
	return middleware.NewRateLimiter(cfg, s.deps.LimitStore, s.deps.Metrics).Handler
}

// authed requires a valid bearer token
func (s *Server) authed(h http.HandlerFunc) http.Handler {
	return s.authn.Handler(h)
}

// allowed requires a valid bearer token holding (resource, action)
func (s *Server) allowed(resource string, action rbac.Action, h http.Handler) http.Handler {
	return s.authn.Handler(s.gate.Authorize(resource, action)(h))
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	var outer []mux.MiddlewareFunc
	if s.deps.ServiceName != "" {
		outer = append(outer, mux.MiddlewareFunc(observability.TracingMiddleware(s.deps.ServiceName)))
	}
	if s.deps.Logger != nil {
		outer = append(outer,
			mux.MiddlewareFunc(observability.RecoveryMiddleware(s.deps.Logger)),
			mux.MiddlewareFunc(observability.RequestLogger(s.deps.Logger)),
		)
	}
	outer = append(outer,
		observability.HTTPMetricsMiddleware(s.deps.Metrics),
		mux.MiddlewareFunc(httputil.MaxBytesMiddleware(s.deps.MaxBodyBytes)),
		httputil.ContentTypeMiddleware,
	)
	s.router.Use(outer...)

	api := s.router.PathPrefix("/api").Subrouter()
	if s.deps.LimitStore != nil {
		api.Use(mux.MiddlewareFunc(s.limiter(s.deps.Limits.API)))
	}

	s.authHandlers.RegisterRoutes(api, s)
	s.roleHandlers.RegisterRoutes(api, s)
	s.userHandlers.RegisterRoutes(api, s)
	s.auditHandlers.RegisterRoutes(api, s)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorMessage(w, http.StatusNotFound, "route not found")
	})
}

// limited wraps h with the rate limiter for cfg when a counter store is configured
func (s *Server) limited(cfg middleware.RateLimitConfig, h http.Handler) http.Handler {
	if s.deps.LimitStore == nil {
		return h
	}
	return s.limiter(cfg)(h)
}

// Router returns the underlying router
func (s *Server) Router() *mux.Router {
	return s.router
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// RouteRegistrar is an interface for handler groups that register routes
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router, s *Server)
}

func identity(r *http.Request) *auth.Identity {
	return auth.IdentityFromContext(r.Context())
}
