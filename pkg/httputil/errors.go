package httputil

import (
	"net/http"
	"sync/atomic"

	"github.com/platinummonkey/gatekeeper/pkg/apperr"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
)

const genericInternalMessage = "internal server error"

var exposeInternalErrors atomic.Bool

// SetExposeInternalErrors controls whether internal error detail reaches
// clients. Enabled only in the development environment.
func SetExposeInternalErrors(expose bool) {
	exposeInternalErrors.Store(expose)
}

// WriteServiceError maps a service error onto its HTTP status and body.
// Unclassified errors are logged and surfaced with a generic message.
func WriteServiceError(w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := apperr.As(err)
	if !ok || appErr.Kind == apperr.KindInternal {
		observability.FromContext(r.Context()).
			WithError(err).
			WithFields(map[string]interface{}{"method": r.Method, "path": r.URL.Path}).
			Error("request failed")

		resp := ErrorResponse{Error: genericInternalMessage}
		if exposeInternalErrors.Load() {
			resp.Message = err.Error()
		}
		WriteErrorResponse(w, http.StatusInternalServerError, resp)
		return
	}

	WriteErrorResponse(w, appErr.Kind.HTTPStatus(), ErrorResponse{
		Error:   appErr.Message,
		Details: appErr.Fields,
	})
}
