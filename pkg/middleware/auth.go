package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/platinummonkey/gatekeeper/pkg/apperr"
	"github.com/platinummonkey/gatekeeper/pkg/auth"
	"github.com/platinummonkey/gatekeeper/pkg/contextkeys"
	"github.com/platinummonkey/gatekeeper/pkg/httputil"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
)

const (
	msgTokenMissing = "authentication token required"
	msgTokenInvalid = "invalid authentication token"
)

// TokenAuthenticator resolves a bearer token into an identity
type TokenAuthenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*auth.Identity, error)
}

// Authenticator attaches the caller's identity to authenticated requests
type Authenticator struct {
	service TokenAuthenticator
	metrics *observability.Metrics
}

// NewAuthenticator creates a new authentication middleware
func NewAuthenticator(service TokenAuthenticator, metrics *observability.Metrics) *Authenticator {
	if metrics == nil {
		metrics = observability.NewNopMetrics()
	}
	return &Authenticator{service: service, metrics: metrics}
}

// Handler rejects requests without a valid bearer token with 401
func (a *Authenticator) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := BearerToken(r)
		if token == "" {
			a.metrics.AuthenticationsTotal.WithLabelValues("missing").Inc()
			httputil.WriteUnauthorized(w, msgTokenMissing)
			return
		}

		identity, err := a.service.Authenticate(r.Context(), token)
		if err != nil {
			appErr, ok := apperr.As(err)
			if !ok || appErr.Kind == apperr.KindInternal {
				a.metrics.AuthenticationsTotal.WithLabelValues("error").Inc()
				httputil.WriteServiceError(w, r, err)
				return
			}
			message := msgTokenInvalid
			if appErr.Kind == apperr.KindUnauthenticated {
				message = appErr.Message
			}
			a.metrics.AuthenticationsTotal.WithLabelValues("rejected").Inc()
			httputil.WriteUnauthorized(w, message)
			return
		}

		a.metrics.AuthenticationsTotal.WithLabelValues("success").Inc()
		ctx := auth.WithIdentity(r.Context(), identity)
		ctx = contextkeys.WithAccessToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// BearerToken extracts the token from "Authorization: Bearer <token>"
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// AccessToken returns the bearer token the Authenticator accepted
func AccessToken(r *http.Request) string {
	return contextkeys.GetAccessToken(r.Context())
}
