// Package audit records and queries the append-only audit trail.
//
// Handlers append entries explicitly through Recorder.Record or wrap a
// ResultHandler with Audited, which records the returned value for
// successful responses to authenticated callers:
//
//	router.Handle("/api/users", audit.Audited(recorder, "users", audit.ActionCreate, h.createUser))
//
// Record never returns an error. A failed write is logged and counted in
// gatekeeper_audit_write_failures_total so that auditing cannot break the
// request it describes.
//
// Reader pages, fetches and summarises records; Exporter streams them as
// NDJSON or CSV; Archiver uploads each day's NDJSON export to S3. None of
// them modify rows.
package audit
