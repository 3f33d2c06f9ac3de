package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/gatekeeper/pkg/storage/postgres"
)

// UserStore handles user persistence
type UserStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewUserStore creates a new user store
func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db, now: time.Now}
}

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

const userColumns = `id, email, username, password_hash, first_name, last_name,
	status, email_verified, last_login_at, created_at, updated_at`

func scanUser(scan func(dest ...interface{}) error) (*User, error) {
	var u User
	var lastLogin sql.NullTime
	if err := scan(&u.ID, &u.Email, &u.Username, &u.PasswordHash, &u.FirstName, &u.LastName,
		&u.Status, &u.EmailVerified, &lastLogin, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLoginAt = &t
	}
	return &u, nil
}

// Create inserts a new user. Duplicate emails and usernames are reported as
// ErrEmailTaken and ErrUsernameTaken.
func (s *UserStore) Create(ctx context.Context, u *User) error {
	if err := s.checkUnique(ctx, u.Email, u.Username, ""); err != nil {
		return err
	}

	now := s.now().UTC()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Status == "" {
		u.Status = StatusActive
	}
	u.CreatedAt = now
	u.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (
			id, email, username, password_hash, first_name, last_name,
			status, email_verified, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, u.ID, u.Email, u.Username, u.PasswordHash, u.FirstName, u.LastName,
		string(u.Status), u.EmailVerified, u.CreatedAt, u.UpdatedAt)
	if postgres.IsUniqueViolation(err) {
		return ErrEmailTaken
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// checkUnique reports which of email or username is already used by a user
// other than excludeID.
func (s *UserStore) checkUnique(ctx context.Context, email, username, excludeID string) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT email, username FROM users
		WHERE (email = $1 OR username = $2) AND id <> $3
	`, email, username, excludeID)
	if err != nil {
		return fmt.Errorf("failed to check user uniqueness: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e, n string
		if err := rows.Scan(&e, &n); err != nil {
			return fmt.Errorf("failed to scan user: %w", err)
		}
		if strings.EqualFold(e, email) {
			return ErrEmailTaken
		}
		if n == username {
			return ErrUsernameTaken
		}
	}
	return rows.Err()
}

// GetByID retrieves a user by ID
func (s *UserStore) GetByID(ctx context.Context, id string) (*User, error) {
	return s.getOne(ctx, s.db, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// GetByEmail retrieves a user by email
func (s *UserStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	return s.getOne(ctx, s.db, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

func (s *UserStore) getOne(ctx context.Context, q querier, query string, args ...interface{}) (*User, error) {
	u, err := scanUser(q.QueryRowContext(ctx, query, args...).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// UserFilter narrows a user listing
type UserFilter struct {
	Status Status
	Search string
	Page   int
	Limit  int
}

// DefaultUserLimit and MaxUserLimit bound a user listing page
const (
	DefaultUserLimit = 50
	MaxUserLimit     = 200
)

func (f *UserFilter) normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = DefaultUserLimit
	}
	if f.Limit > MaxUserLimit {
		f.Limit = MaxUserLimit
	}
}

// List returns users newest first and the total number matching the filter
func (s *UserStore) List(ctx context.Context, f UserFilter) ([]User, int64, error) {
	f.normalize()

	var conds []string
	var args []interface{}
	if f.Status != "" {
		args = append(args, string(f.Status))
		conds = append(conds, "status = $"+strconv.Itoa(len(args)))
	}
	if f.Search != "" {
		args = append(args, "%"+strings.ToLower(f.Search)+"%")
		n := strconv.Itoa(len(args))
		conds = append(conds, "(LOWER(email) LIKE $"+n+" OR LOWER(username) LIKE $"+n+")")
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count users: %w", err)
	}

	args = append(args, f.Limit, (f.Page-1)*f.Limit)
	query := `SELECT ` + userColumns + ` FROM users` + where +
		` ORDER BY created_at DESC, id LIMIT $` + strconv.Itoa(len(args)-1) +
		` OFFSET $` + strconv.Itoa(len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		u, err := scanUser(rows.Scan)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, *u)
	}
	return users, total, rows.Err()
}

// UserUpdate holds the fields an administrator may change. Nil fields are
// left untouched.
type UserUpdate struct {
	Email     *string `json:"email,omitempty"`
	Username  *string `json:"username,omitempty"`
	FirstName *string `json:"firstName,omitempty"`
	LastName  *string `json:"lastName,omitempty"`
	Status    *Status `json:"status,omitempty"`
}

// Validate checks every provided field
func (in UserUpdate) Validate() error {
	var errs []error
	if in.Email != nil {
		errs = append(errs, ValidateEmail(*in.Email))
	}
	if in.Username != nil {
		errs = append(errs, ValidateUsername(*in.Username))
	}
	if in.FirstName != nil {
		errs = append(errs, validateName("firstName", *in.FirstName))
	}
	if in.LastName != nil {
		errs = append(errs, validateName("lastName", *in.LastName))
	}
	if in.Status != nil && !in.Status.Valid() {
		errs = append(errs, fmt.Errorf("status must be one of active, inactive, suspended"))
	}
	return collect(errs...)
}

// Update applies an allow-listed update and returns the user before and after
func (s *UserStore) Update(ctx context.Context, id string, in UserUpdate) (before, after *User, err error) {
	before, err = s.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	next := *before
	if in.Email != nil {
		next.Email = strings.TrimSpace(*in.Email)
	}
	if in.Username != nil {
		next.Username = strings.TrimSpace(*in.Username)
	}
	if in.FirstName != nil {
		next.FirstName = *in.FirstName
	}
	if in.LastName != nil {
		next.LastName = *in.LastName
	}
	if in.Status != nil {
		next.Status = *in.Status
	}

	if next.Email != before.Email || next.Username != before.Username {
		if err := s.checkUnique(ctx, next.Email, next.Username, id); err != nil {
			return nil, nil, err
		}
	}

	next.UpdatedAt = s.now().UTC()
	_, err = s.db.ExecContext(ctx, `
		UPDATE users
		SET email = $1, username = $2, first_name = $3, last_name = $4, status = $5, updated_at = $6
		WHERE id = $7
	`, next.Email, next.Username, next.FirstName, next.LastName, string(next.Status), next.UpdatedAt, id)
	if postgres.IsUniqueViolation(err) {
		return nil, nil, ErrEmailTaken
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to update user: %w", err)
	}
	return before, &next, nil
}

// UpdateProfile changes the caller-editable name fields
func (s *UserStore) UpdateProfile(ctx context.Context, id string, in ProfileInput) (before, after *User, err error) {
	return s.Update(ctx, id, UserUpdate{FirstName: in.FirstName, LastName: in.LastName})
}

func updatePassword(ctx context.Context, q querier, id, hash string, now time.Time) error {
	result, err := q.ExecContext(ctx,
		`UPDATE users SET password_hash = $1, updated_at = $2 WHERE id = $3`, hash, now, id)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// TouchLastLogin records a successful login
func (s *UserStore) TouchLastLogin(ctx context.Context, id string) (time.Time, error) {
	now := s.now().UTC()
	_, err := s.db.ExecContext(ctx, `UPDATE users SET last_login_at = $1 WHERE id = $2`, now, id)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to update last login: %w", err)
	}
	return now, nil
}

// MarkVerified sets the email verified flag
func (s *UserStore) MarkVerified(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET email_verified = $1, updated_at = $2 WHERE id = $3`, true, s.now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark email verified: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// Delete removes a user together with their sessions, reset tokens and role
// assignments. Users referenced by the audit trail are never removed.
func (s *UserStore) Delete(ctx context.Context, id string) (*User, error) {
	user, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	var refs int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_logs WHERE user_id = $1`, id).Scan(&refs); err != nil {
		return nil, fmt.Errorf("failed to count audit references: %w", err)
	}
	if refs > 0 {
		return nil, ErrUserHasHistory
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM sessions WHERE user_id = $1`,
		`DELETE FROM password_resets WHERE user_id = $1`,
		`DELETE FROM user_roles WHERE user_id = $1`,
		`DELETE FROM users WHERE id = $1`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return nil, fmt.Errorf("failed to delete user: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit user deletion: %w", err)
	}
	return user, nil
}
