// Package httputil holds the JSON plumbing shared by the gatekeeper handlers.
//
// Every error body has the shape {"error": "...", "details": [...]}. Domain
// errors carry an apperr kind, and WriteServiceError turns that kind into a
// status code, hiding internal detail outside development:
//
//	role, err := store.GetRole(ctx, id)
//	if err != nil {
//		httputil.WriteServiceError(w, r, err)
//		return
//	}
//	httputil.WriteSuccess(w, role)
//
// Audit filters accept either RFC 3339 timestamps or bare dates:
//
//	start, err := httputil.ParseQueryTime(r, "startDate")
//
// ClientIP is the key of every per-IP rate limit. It is the socket address
// unless SetTrustedProxies names the peer as a reverse proxy.
package httputil
