package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/gatekeeper/pkg/apperr"
)

// ErrRecordNotFound is returned when an audit record does not exist
var ErrRecordNotFound = apperr.NotFound("audit log")

// Reader queries the audit trail. It never modifies rows, so it can be
// backed by a read replica.
type Reader struct {
	db *sql.DB
}

// NewReader creates a new audit reader
func NewReader(db *sql.DB) *Reader {
	return &Reader{db: db}
}

const recordQuery = `
	SELECT a.id, a.user_id, a.action, a.resource, a.resource_id,
		a.old_values, a.new_values, a.ip_address, a.user_agent, a.created_at,
		u.id, u.username, u.email, u.first_name, u.last_name
	FROM audit_logs a
	LEFT JOIN users u ON u.id = a.user_id
`

// whereClause builds the WHERE clause for f with placeholders starting at $1
func whereClause(f Filter) (string, []interface{}) {
	var conds []string
	var args []interface{}

	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, strings.Replace(cond, "?", "$"+strconv.Itoa(len(args)), 1))
	}

	if f.UserID != "" {
		add("a.user_id = ?", f.UserID)
	}
	if f.Resource != "" {
		add("a.resource = ?", f.Resource)
	}
	switch len(f.Actions) {
	case 0:
	case 1:
		add("a.action = ?", string(f.Actions[0]))
	default:
		actions := make([]string, len(f.Actions))
		for i, a := range f.Actions {
			actions[i] = string(a)
		}
		add("a.action = ANY(?)", pq.Array(actions))
	}
	if !f.Start.IsZero() {
		add("a.created_at >= ?", f.Start.UTC())
	}
	if !f.End.IsZero() {
		add("a.created_at <= ?", f.End.UTC())
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// List returns one page of records matching f, newest first
func (r *Reader) List(ctx context.Context, f Filter) (*Page, error) {
	f = f.normalized()
	where, args := whereClause(f)

	page := &Page{
		Logs:       []Record{},
		Pagination: Pagination{Page: f.Page, Limit: f.Limit},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := r.db.QueryRowContext(gctx,
			"SELECT COUNT(*) FROM audit_logs a"+where, args...,
		).Scan(&page.Pagination.Total); err != nil {
			return fmt.Errorf("failed to count audit logs: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		n := len(args)
		query := recordQuery + where +
			fmt.Sprintf(" ORDER BY a.created_at DESC, a.id LIMIT $%d OFFSET $%d", n+1, n+2)
		pageArgs := append(append([]interface{}{}, args...), f.Limit, (f.Page-1)*f.Limit)

		logs, err := r.query(gctx, query, pageArgs...)
		if err != nil {
			return err
		}
		page.Logs = logs
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	limit := int64(f.Limit)
	page.Pagination.TotalPages = (page.Pagination.Total + limit - 1) / limit
	return page, nil
}

// Get returns a single record
func (r *Reader) Get(ctx context.Context, id string) (*Record, error) {
	logs, err := r.query(ctx, recordQuery+" WHERE a.id = $1", id)
	if err != nil {
		return nil, err
	}
	if len(logs) == 0 {
		return nil, ErrRecordNotFound
	}
	return &logs[0], nil
}

// Each calls fn for every record matching f in chronological order,
// ignoring paging.
func (r *Reader) Each(ctx context.Context, f Filter, fn func(Record) error) error {
	where, args := whereClause(f)
	rows, err := r.db.QueryContext(ctx, recordQuery+where+" ORDER BY a.created_at, a.id", args...)
	if err != nil {
		return fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Stats returns totals by action and resource plus the ten newest records.
// The four queries run concurrently.
func (r *Reader) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := r.db.QueryRowContext(gctx, "SELECT COUNT(*) FROM audit_logs").Scan(&stats.TotalLogs); err != nil {
			return fmt.Errorf("failed to count audit logs: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		counts, err := r.countBy(gctx, "action")
		stats.ByAction = counts
		return err
	})
	g.Go(func() error {
		counts, err := r.countBy(gctx, "resource")
		stats.ByResource = counts
		return err
	})
	g.Go(func() error {
		recent, err := r.query(gctx, recordQuery+" ORDER BY a.created_at DESC, a.id LIMIT 10")
		stats.RecentLogs = recent
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return stats, nil
}

// countBy groups the trail by a fixed column name
func (r *Reader) countBy(ctx context.Context, column string) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+column+", COUNT(*) FROM audit_logs GROUP BY "+column)
	if err != nil {
		return nil, fmt.Errorf("failed to count audit logs by %s: %w", column, err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return nil, fmt.Errorf("failed to scan %s count: %w", column, err)
		}
		counts[key] = n
	}
	return counts, rows.Err()
}

func (r *Reader) query(ctx context.Context, query string, args ...interface{}) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	logs := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit logs: %w", err)
	}
	return logs, nil
}

func scanRecord(rows *sql.Rows) (Record, error) {
	var rec Record
	var userID, resourceID, oldValues, newValues, ip, ua sql.NullString
	var uID, uName, uEmail, uFirst, uLast sql.NullString

	if err := rows.Scan(
		&rec.ID, &userID, &rec.Action, &rec.Resource, &resourceID,
		&oldValues, &newValues, &ip, &ua, &rec.Timestamp,
		&uID, &uName, &uEmail, &uFirst, &uLast,
	); err != nil {
		return rec, fmt.Errorf("failed to scan audit log: %w", err)
	}

	rec.UserID = nullableString(userID)
	rec.ResourceID = nullableString(resourceID)
	rec.IPAddress = nullableString(ip)
	rec.UserAgent = nullableString(ua)
	if oldValues.Valid {
		rec.OldValues = []byte(oldValues.String)
	}
	if newValues.Valid {
		rec.NewValues = []byte(newValues.String)
	}
	if uID.Valid {
		rec.User = &UserSummary{
			ID:        uID.String,
			Username:  uName.String,
			Email:     uEmail.String,
			FirstName: uFirst.String,
			LastName:  uLast.String,
		}
	}
	return rec, nil
}

func nullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
