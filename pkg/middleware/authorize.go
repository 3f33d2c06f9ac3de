package middleware

import (
	"net/http"

	"github.com/platinummonkey/gatekeeper/pkg/auth"
	"github.com/platinummonkey/gatekeeper/pkg/httputil"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/rbac"
)

const (
	msgLoginRequired    = "login required"
	msgPermissionDenied = "you do not have permission to access this resource"
	msgRoleDenied       = "you do not have the required role"
)

// PermissionDenied is the 403 body of a failed permission check
type PermissionDenied struct {
	Error              string          `json:"error"`
	RequiredPermission rbac.Permission `json:"requiredPermission"`
}

// RoleDenied is the 403 body of a failed role check
type RoleDenied struct {
	Error         string   `json:"error"`
	RequiredRoles []string `json:"requiredRoles"`
}

// Gate guards routes by permission or role. It must run after the Authenticator.
type Gate struct {
	metrics *observability.Metrics
}

// NewGate creates a new authorization gate
func NewGate(metrics *observability.Metrics) *Gate {
	if metrics == nil {
		metrics = observability.NewNopMetrics()
	}
	return &Gate{metrics: metrics}
}

// Authorize requires the exact (resource, action) permission
func (g *Gate) Authorize(resource string, action rbac.Action) func(http.Handler) http.Handler {
	required := rbac.Permission{Resource: resource, Action: action}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := auth.IdentityFromContext(r.Context())
			if identity == nil {
				g.metrics.AuthorizationDecisionsTotal.WithLabelValues("permission", "unauthenticated").Inc()
				httputil.WriteUnauthorized(w, msgLoginRequired)
				return
			}

			if !identity.Can(resource, action) {
				g.metrics.AuthorizationDecisionsTotal.WithLabelValues("permission", "deny").Inc()
				observability.FromContext(r.Context()).
					WithField("permission", required.String()).
					Debug("permission denied")
				httputil.WriteJSON(w, http.StatusForbidden, PermissionDenied{
					Error:              msgPermissionDenied,
					RequiredPermission: required,
				})
				return
			}

			g.metrics.AuthorizationDecisionsTotal.WithLabelValues("permission", "allow").Inc()
			next.ServeHTTP(w, r)
		})
	}
}

// CheckRole requires any one of the named roles
func (g *Gate) CheckRole(names ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := auth.IdentityFromContext(r.Context())
			if identity == nil {
				g.metrics.AuthorizationDecisionsTotal.WithLabelValues("role", "unauthenticated").Inc()
				httputil.WriteUnauthorized(w, msgLoginRequired)
				return
			}

			if !identity.HasRole(names...) {
				g.metrics.AuthorizationDecisionsTotal.WithLabelValues("role", "deny").Inc()
				httputil.WriteJSON(w, http.StatusForbidden, RoleDenied{
					Error:         msgRoleDenied,
					RequiredRoles: names,
				})
				return
			}

			g.metrics.AuthorizationDecisionsTotal.WithLabelValues("role", "allow").Inc()
			next.ServeHTTP(w, r)
		})
	}
}
