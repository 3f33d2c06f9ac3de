package audit

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/gatekeeper/pkg/observability"
)

// Uploader stores archive objects. Satisfied by postgres.S3Client.
type Uploader interface {
	Key(name string) string
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
}

// Archiver uploads daily NDJSON exports of the audit trail
type Archiver struct {
	exporter *Exporter
	uploader Uploader
	logger   *observability.Logger
	now      func() time.Time
}

// NewArchiver creates a new archiver
func NewArchiver(exporter *Exporter, uploader Uploader, logger *observability.Logger) *Archiver {
	return &Archiver{
		exporter: exporter,
		uploader: uploader,
		logger:   logger,
		now:      time.Now,
	}
}

// ArchiveKey returns the object name for the given UTC day
func ArchiveKey(day time.Time) string {
	day = day.UTC()
	return fmt.Sprintf("%s/audit-logs-%s.ndjson", day.Format("2006/01/02"), day.Format(time.DateOnly))
}

// ArchiveDay exports the records created on the given UTC day and uploads
// them. Days without records are skipped and return an empty key.
func (a *Archiver) ArchiveDay(ctx context.Context, day time.Time) (string, int, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24*time.Hour - time.Nanosecond)

	var buf bytes.Buffer
	count, err := a.exporter.Export(ctx, &buf, Filter{Start: start, End: end}, FormatNDJSON)
	if err != nil {
		return "", 0, fmt.Errorf("failed to export audit logs: %w", err)
	}
	if count == 0 {
		a.logger.WithField("day", start.Format(time.DateOnly)).Info("No audit logs to archive")
		return "", 0, nil
	}

	key := a.uploader.Key(ArchiveKey(start))
	if err := a.uploader.PutObject(ctx, key, buf.Bytes(), FormatNDJSON.ContentType()); err != nil {
		return "", 0, fmt.Errorf("failed to upload audit archive: %w", err)
	}

	a.logger.WithFields(map[string]interface{}{
		"key":     key,
		"records": count,
	}).Info("Archived audit logs")
	return key, count, nil
}

// ArchivePreviousDay archives yesterday's records
func (a *Archiver) ArchivePreviousDay(ctx context.Context) error {
	_, _, err := a.ArchiveDay(ctx, a.now().UTC().AddDate(0, 0, -1))
	return err
}
