package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Sessions is the registry of active logins
type Sessions struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

// NewSessions creates a session registry whose sessions live for ttl
func NewSessions(db *sql.DB, ttl time.Duration) *Sessions {
	return &Sessions{db: db, ttl: ttl, now: time.Now}
}

const sessionColumns = `id, user_id, token, refresh_token, device_info, ip_address, user_agent, created_at, expires_at`

func scanSession(scan func(dest ...interface{}) error) (*Session, error) {
	var s Session
	if err := scan(&s.ID, &s.UserID, &s.Token, &s.RefreshToken, &s.DeviceInfo,
		&s.IPAddress, &s.UserAgent, &s.CreatedAt, &s.ExpiresAt); err != nil {
		return nil, err
	}
	return &s, nil
}

// Create records a new login
func (s *Sessions) Create(ctx context.Context, userID string, pair TokenPair, deviceInfo, ip, userAgent string) (*Session, error) {
	now := s.now().UTC()
	session := &Session{
		ID:           uuid.NewString(),
		UserID:       userID,
		Token:        pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		DeviceInfo:   deviceInfo,
		IPAddress:    ip,
		UserAgent:    userAgent,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.ttl),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, session.ID, session.UserID, session.Token, session.RefreshToken, session.DeviceInfo,
		session.IPAddress, session.UserAgent, session.CreatedAt, session.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

// Lookup returns the live session bound to an access token
func (s *Sessions) Lookup(ctx context.Context, accessToken string) (*Session, error) {
	return s.live(ctx, `token = $1`, accessToken)
}

// FindByRefresh returns the live session of a user bound to a refresh token
func (s *Sessions) FindByRefresh(ctx context.Context, userID, refreshToken string) (*Session, error) {
	return s.live(ctx, `refresh_token = $1 AND user_id = $2`, refreshToken, userID)
}

func (s *Sessions) live(ctx context.Context, cond string, args ...interface{}) (*Session, error) {
	args = append(args, s.now().UTC())
	query := fmt.Sprintf(`SELECT %s FROM sessions WHERE %s AND expires_at > $%d`, sessionColumns, cond, len(args))

	session, err := scanSession(s.db.QueryRowContext(ctx, query, args...).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up session: %w", err)
	}
	return session, nil
}

// Rotate replaces the tokens of a session, provided its refresh token is
// still oldRefresh. Of several concurrent rotations of the same token only
// one succeeds; the rest get ErrSessionNotFound.
func (s *Sessions) Rotate(ctx context.Context, sessionID, oldRefresh string, pair TokenPair) (time.Time, error) {
	expiresAt := s.now().UTC().Add(s.ttl)
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET token = $1, refresh_token = $2, expires_at = $3
		WHERE id = $4 AND refresh_token = $5
	`, pair.AccessToken, pair.RefreshToken, expiresAt, sessionID, oldRefresh)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to rotate session: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to rotate session: %w", err)
	}
	if n == 0 {
		return time.Time{}, ErrSessionNotFound
	}
	return expiresAt, nil
}

// Revoke deletes the session bound to an access token
func (s *Sessions) Revoke(ctx context.Context, accessToken string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = $1`, accessToken); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}

// RevokeByID deletes one of the user's sessions
func (s *Sessions) RevokeByID(ctx context.Context, userID, sessionID string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE id = $1 AND user_id = $2`, sessionID, userID)
	if err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrSessionRecordNotFound
	}
	return nil
}

// RevokeAll deletes every session of the user and returns how many there were
func (s *Sessions) RevokeAll(ctx context.Context, userID string) (int64, error) {
	return revokeAll(ctx, s.db, userID)
}

func revokeAll(ctx context.Context, q querier, userID string) (int64, error) {
	result, err := q.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke sessions: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// RevokeAllExcept deletes every session of the user but the one bound to
// accessToken.
func (s *Sessions) RevokeAllExcept(ctx context.Context, userID, accessToken string) (int64, error) {
	return revokeAllExcept(ctx, s.db, userID, accessToken)
}

func revokeAllExcept(ctx context.Context, q querier, userID, accessToken string) (int64, error) {
	result, err := q.ExecContext(ctx,
		`DELETE FROM sessions WHERE user_id = $1 AND token <> $2`, userID, accessToken)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke other sessions: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// List returns the user's unexpired sessions, newest first, without tokens.
// The session bound to currentToken is flagged.
func (s *Sessions) List(ctx context.Context, userID, currentToken string) ([]SessionInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, token, device_info, ip_address, user_agent, created_at, expires_at
		FROM sessions
		WHERE user_id = $1 AND expires_at > $2
		ORDER BY created_at DESC, id
	`, userID, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []SessionInfo{}
	for rows.Next() {
		var info SessionInfo
		var token string
		if err := rows.Scan(&info.ID, &token, &info.DeviceInfo, &info.IPAddress,
			&info.UserAgent, &info.CreatedAt, &info.ExpiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		info.Current = currentToken != "" && token == currentToken
		sessions = append(sessions, info)
	}
	return sessions, rows.Err()
}

// SweepExpired deletes every expired session
func (s *Sessions) SweepExpired(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < $1`, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired sessions: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}
