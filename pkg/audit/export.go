package audit

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/platinummonkey/gatekeeper/pkg/apperr"
)

// Format is an export encoding
type Format string

const (
	FormatNDJSON Format = "ndjson"
	FormatCSV    Format = "csv"
)

// ParseFormat parses an export format name, defaulting to NDJSON
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatNDJSON:
		return FormatNDJSON, nil
	case FormatCSV:
		return FormatCSV, nil
	default:
		return "", apperr.Validation("format must be ndjson or csv")
	}
}

// ContentType returns the MIME type of the format
func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv"
	}
	return "application/x-ndjson"
}

// Filename returns the attachment name for an export of the format
func (f Format) Filename(base string) string {
	return base + "." + string(f)
}

var csvHeader = []string{
	"id", "timestamp", "user_id", "username", "action", "resource", "resource_id",
	"ip_address", "user_agent", "old_values", "new_values",
}

// Exporter streams filtered audit records. Exports never modify rows.
type Exporter struct {
	reader *Reader
}

// NewExporter creates a new exporter
func NewExporter(reader *Reader) *Exporter {
	return &Exporter{reader: reader}
}

// Export writes every record matching f to w in the given format and
// returns the number of records written.
func (e *Exporter) Export(ctx context.Context, w io.Writer, f Filter, format Format) (int, error) {
	switch format {
	case FormatCSV:
		return e.exportCSV(ctx, w, f)
	case FormatNDJSON:
		return e.exportNDJSON(ctx, w, f)
	default:
		return 0, apperr.Validation("format must be ndjson or csv")
	}
}

func (e *Exporter) exportNDJSON(ctx context.Context, w io.Writer, f Filter) (int, error) {
	encoder := json.NewEncoder(w)
	count := 0
	err := e.reader.Each(ctx, f, func(rec Record) error {
		if err := encoder.Encode(rec); err != nil {
			return fmt.Errorf("failed to encode audit log: %w", err)
		}
		count++
		return nil
	})
	return count, err
}

func (e *Exporter) exportCSV(ctx context.Context, w io.Writer, f Filter) (int, error) {
	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader); err != nil {
		return 0, fmt.Errorf("failed to write CSV header: %w", err)
	}

	count := 0
	err := e.reader.Each(ctx, f, func(rec Record) error {
		username := ""
		if rec.User != nil {
			username = rec.User.Username
		}
		row := []string{
			rec.ID,
			rec.Timestamp.UTC().Format(time.RFC3339),
			deref(rec.UserID),
			username,
			string(rec.Action),
			rec.Resource,
			deref(rec.ResourceID),
			deref(rec.IPAddress),
			deref(rec.UserAgent),
			string(rec.OldValues),
			string(rec.NewValues),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
		count++
		return nil
	})
	if err != nil {
		return count, err
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return count, fmt.Errorf("CSV writer error: %w", err)
	}
	return count, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
