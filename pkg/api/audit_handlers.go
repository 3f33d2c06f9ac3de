package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/httputil"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/rbac"
)

// AuditHandlers serves the read side of the audit trail
type AuditHandlers struct {
	reader   *audit.Reader
	exporter *audit.Exporter
	now      func() time.Time
}

// NewAuditHandlers creates a new audit handlers instance
func NewAuditHandlers(reader *audit.Reader, exporter *audit.Exporter) *AuditHandlers {
	return &AuditHandlers{reader: reader, exporter: exporter, now: time.Now}
}

// RegisterRoutes registers audit log routes
func (h *AuditHandlers) RegisterRoutes(router *mux.Router, s *Server) {
	read := func(fn http.HandlerFunc) http.Handler {
		return s.allowed(ResourceAuditLogs, rbac.ActionRead, fn)
	}

	router.Handle("/audit-logs", read(h.list)).Methods("GET")
	router.Handle("/audit-logs/stats", read(h.stats)).Methods("GET")
	router.Handle("/audit-logs/export", read(h.export)).Methods("GET")
	router.Handle("/audit-logs/{id}", read(h.get)).Methods("GET")
}

// parseFilter reads userId, resource, action, startDate, endDate, page and
// limit. action accepts a comma-separated list; a date-only endDate covers
// the whole day.
func parseFilter(r *http.Request) (audit.Filter, error) {
	f := audit.Filter{
		UserID:   httputil.ParseQueryString(r, "userId", ""),
		Resource: httputil.ParseQueryString(r, "resource", ""),
	}

	for _, a := range strings.Split(httputil.ParseQueryString(r, "action", ""), ",") {
		if a = strings.TrimSpace(a); a != "" {
			f.Actions = append(f.Actions, audit.Action(a))
		}
	}

	var err error
	if f.Start, err = httputil.ParseQueryTime(r, "startDate"); err != nil {
		return f, err
	}
	if f.End, err = httputil.ParseQueryTime(r, "endDate"); err != nil {
		return f, err
	}
	if end := r.URL.Query().Get("endDate"); len(end) == len(time.DateOnly) {
		f.End = f.End.Add(24*time.Hour - time.Nanosecond)
	}

	if f.Page, err = httputil.ParseQueryInt(r, "page", 1); err != nil {
		return f, err
	}
	if f.Limit, err = httputil.ParseQueryInt(r, "limit", audit.DefaultLimit); err != nil {
		return f, err
	}
	return f, nil
}

// list handles GET /api/audit-logs
func (h *AuditHandlers) list(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}

	page, err := h.reader.List(r.Context(), f)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, page)
}

// get handles GET /api/audit-logs/{id}
func (h *AuditHandlers) get(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.PathVar(r, "id")
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}

	record, err := h.reader.Get(r.Context(), id)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, record)
}

// stats handles GET /api/audit-logs/stats
func (h *AuditHandlers) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.reader.Stats(r.Context())
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, stats)
}

// export handles GET /api/audit-logs/export?format=ndjson|csv
func (h *AuditHandlers) export(w http.ResponseWriter, r *http.Request) {
	format, err := audit.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	f, err := parseFilter(r)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}

	filename := format.Filename("audit-logs-" + h.now().UTC().Format("20060102-150405"))
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	count, err := h.exporter.Export(r.Context(), w, f, format)
	if err != nil {
		// Headers and part of the body may already be sent
		observability.FromContext(r.Context()).WithError(err).
			WithField("exported", count).
			Error("audit export failed")
		return
	}
	observability.FromContext(r.Context()).WithField("exported", count).Debug("audit export complete")
}
