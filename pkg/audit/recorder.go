package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/gatekeeper/pkg/httputil"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
)

// writeTimeout bounds an audit insert once it is detached from the request
const writeTimeout = 5 * time.Second

// Recorder appends entries to the audit_logs table
type Recorder struct {
	db      *sql.DB
	logger  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewRecorder creates a new audit recorder
func NewRecorder(db *sql.DB, logger *observability.Logger, metrics *observability.Metrics) *Recorder {
	if metrics == nil {
		metrics = observability.NewNopMetrics()
	}
	return &Recorder{
		db:      db,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// MetaFromRequest extracts the client address and user agent
func MetaFromRequest(r *http.Request) Meta {
	return Meta{
		IPAddress: httputil.ClientIP(r),
		UserAgent: r.UserAgent(),
	}
}

// Record appends one entry. It never fails the caller: write errors are
// logged and counted. The insert survives cancellation of ctx, so a client
// that disconnects mid-request still leaves its entry behind.
func (rec *Recorder) Record(ctx context.Context, e Entry) {
	logger := observability.FromContext(ctx).WithFields(map[string]interface{}{
		"audit_action":   string(e.Action),
		"audit_resource": e.Resource,
	})

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	_, err := rec.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, user_id, action, resource, resource_id,
			old_values, new_values, ip_address, user_agent, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		uuid.NewString(),
		nullString(e.UserID),
		string(e.Action),
		e.Resource,
		nullString(e.ResourceID),
		marshalValues(logger, e.OldValues),
		marshalValues(logger, e.NewValues),
		nullString(e.IPAddress),
		nullString(e.UserAgent),
		rec.now().UTC(),
	)
	if err != nil {
		rec.metrics.AuditWriteFailuresTotal.Inc()
		logger.WithError(err).Error("Failed to write audit log")
		return
	}

	rec.metrics.AuditEventsTotal.WithLabelValues(string(e.Action)).Inc()
}

// marshalValues renders v as JSON text. JSON is passed as a string so the
// PostgreSQL driver sends it as text for the JSONB column.
func marshalValues(logger *observability.Logger, v interface{}) sql.NullString {
	switch val := v.(type) {
	case nil:
		return sql.NullString{}
	case json.RawMessage:
		if len(val) == 0 {
			return sql.NullString{}
		}
		return sql.NullString{String: string(val), Valid: true}
	}

	data, err := json.Marshal(v)
	if err != nil {
		logger.WithError(err).Warn("Audit values are not JSON serialisable")
		return sql.NullString{}
	}
	if string(data) == "null" {
		return sql.NullString{}
	}
	return sql.NullString{String: string(data), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
