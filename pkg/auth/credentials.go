package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/gatekeeper/pkg/apperr"
	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/mail"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
)

// ResourceAuth is the audit resource of authentication events
const ResourceAuth = "auth"

// ResetRequestedMessage is returned for every reset request, whether or not
// the email belongs to an account.
const ResetRequestedMessage = "If the email is registered, a reset link has been sent"

// CredentialOptions configures password reset delivery
type CredentialOptions struct {
	FrontendOrigin string
	ResetTTL       time.Duration
	// ExposeResetLinks returns the reset link in the response. Development only.
	ExposeResetLinks bool
}

// Credentials implements password change and password reset
type Credentials struct {
	db       *sql.DB
	users    *UserStore
	sessions *Sessions
	recorder *audit.Recorder
	sender   mail.Sender
	metrics  *observability.Metrics
	opts     CredentialOptions
	now      func() time.Time
}

// NewCredentials creates the credential service
func NewCredentials(db *sql.DB, users *UserStore, sessions *Sessions, recorder *audit.Recorder,
	sender mail.Sender, metrics *observability.Metrics, opts CredentialOptions) *Credentials {
	if metrics == nil {
		metrics = observability.NewNopMetrics()
	}
	if opts.ResetTTL <= 0 {
		opts.ResetTTL = time.Hour
	}
	return &Credentials{
		db:       db,
		users:    users,
		sessions: sessions,
		recorder: recorder,
		sender:   sender,
		metrics:  metrics,
		opts:     opts,
		now:      time.Now,
	}
}

// ResetRequestResult is the public outcome of a reset request
type ResetRequestResult struct {
	Message   string `json:"message"`
	ResetLink string `json:"resetLink,omitempty"`
}

// RequestReset issues a reset token for the account with the given email and
// mails the link. Unknown emails get the same result as known ones.
func (c *Credentials) RequestReset(ctx context.Context, email string, meta audit.Meta) (*ResetRequestResult, error) {
	email = strings.TrimSpace(email)
	if err := ValidateEmail(email); err != nil {
		return nil, apperr.Validation(err.Error())
	}

	result := &ResetRequestResult{Message: ResetRequestedMessage}

	user, err := c.users.GetByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		c.metrics.PasswordResetsTotal.WithLabelValues("request", "unknown_email").Inc()
		return result, nil
	}
	if err != nil {
		return nil, err
	}

	token, digest, err := GenerateResetToken()
	if err != nil {
		return nil, err
	}
	if err := c.storeReset(ctx, user.ID, digest); err != nil {
		return nil, err
	}

	link := mail.ResetLink(c.opts.FrontendOrigin, token)
	if err := c.sender.Send(ctx, mail.PasswordResetMessage(user.Email, user.DisplayName(), link)); err != nil {
		// The token stays valid; the user can request another link.
		observability.FromContext(ctx).WithError(err).WithField("user_id", user.ID).
			Error("Failed to send password reset email")
	}

	c.recorder.Record(ctx, audit.Entry{
		UserID:   user.ID,
		Action:   audit.ActionPasswordResetRequested,
		Resource: ResourceAuth,
		Meta:     meta,
	})
	c.metrics.PasswordResetsTotal.WithLabelValues("request", "issued").Inc()

	if c.opts.ExposeResetLinks {
		result.ResetLink = link
	}
	return result, nil
}

// storeReset replaces the user's reset tokens with a new one
func (c *Credentials) storeReset(ctx context.Context, userID, digest string) error {
	now := c.now().UTC()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM password_resets WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to supersede reset tokens: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO password_resets (id, user_id, token_digest, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.NewString(), userID, digest, now.Add(c.opts.ResetTTL), now); err != nil {
		return fmt.Errorf("failed to store reset token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit reset token: %w", err)
	}
	return nil
}

// ResetInput is the body of a password reset
type ResetInput struct {
	Token           string `json:"token"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

// ConsumeReset sets a new password using a reset token. The token is spent,
// and every session of the account is revoked.
func (c *Credentials) ConsumeReset(ctx context.Context, in ResetInput, meta audit.Meta) error {
	var missing error
	if in.Token == "" {
		missing = errors.New("token is required")
	}
	if err := collect(missing, ValidatePassword(in.Password)); err != nil {
		return err
	}
	if in.ConfirmPassword != "" && in.ConfirmPassword != in.Password {
		return ErrPasswordMismatch
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return err
	}

	userID, err := c.consume(ctx, DigestToken(in.Token), hash)
	if err != nil {
		if errors.Is(err, ErrInvalidOrExpiredToken) {
			c.metrics.PasswordResetsTotal.WithLabelValues("consume", "invalid_token").Inc()
		}
		return err
	}

	c.recorder.Record(ctx, audit.Entry{
		UserID:   userID,
		Action:   audit.ActionPasswordReset,
		Resource: ResourceAuth,
		Meta:     meta,
	})
	c.metrics.PasswordResetsTotal.WithLabelValues("consume", "success").Inc()
	return nil
}

func (c *Credentials) consume(ctx context.Context, digest, hash string) (string, error) {
	now := c.now().UTC()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	var resetID, userID string
	err = tx.QueryRowContext(ctx, `
		SELECT id, user_id FROM password_resets
		WHERE token_digest = $1 AND used_at IS NULL AND expires_at > $2
	`, digest, now).Scan(&resetID, &userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrInvalidOrExpiredToken
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up reset token: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE password_resets SET used_at = $1 WHERE id = $2 AND used_at IS NULL`, now, resetID)
	if err != nil {
		return "", fmt.Errorf("failed to mark reset token used: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return "", ErrInvalidOrExpiredToken
	}

	if err := updatePassword(ctx, tx, userID, hash, now); err != nil {
		return "", err
	}
	if _, err := revokeAll(ctx, tx, userID); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit password reset: %w", err)
	}
	return userID, nil
}

// PurgeResets deletes spent and expired reset tokens
func (c *Credentials) PurgeResets(ctx context.Context) (int64, error) {
	result, err := c.db.ExecContext(ctx,
		`DELETE FROM password_resets WHERE used_at IS NOT NULL OR expires_at < $1`, c.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge reset tokens: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// ChangePasswordInput is the body of a password change
type ChangePasswordInput struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword"`
}

// ChangePassword replaces the caller's password. Every session other than
// the one bound to currentToken is revoked.
func (c *Credentials) ChangePassword(ctx context.Context, identity *Identity, currentToken string, in ChangePasswordInput, meta audit.Meta) error {
	var missing error
	if in.CurrentPassword == "" {
		missing = errors.New("currentPassword is required")
	}
	if err := collect(missing, ValidatePassword(in.NewPassword)); err != nil {
		return err
	}
	if in.ConfirmPassword != "" && in.ConfirmPassword != in.NewPassword {
		return ErrPasswordMismatch
	}

	user, err := c.users.GetByID(ctx, identity.ID)
	if err != nil {
		return err
	}

	if !CheckPassword(in.CurrentPassword, user.PasswordHash) {
		c.recorder.Record(ctx, audit.Entry{
			UserID:    user.ID,
			Action:    audit.ActionPasswordChangeFailed,
			Resource:  ResourceAuth,
			NewValues: map[string]string{"reason": "invalid current password"},
			Meta:      meta,
		})
		return ErrInvalidCredential
	}
	if CheckPassword(in.NewPassword, user.PasswordHash) {
		return ErrSamePassword
	}

	hash, err := HashPassword(in.NewPassword)
	if err != nil {
		return err
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if err := updatePassword(ctx, tx, user.ID, hash, c.now().UTC()); err != nil {
		return err
	}
	revoked, err := revokeAllExcept(ctx, tx, user.ID, currentToken)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit password change: %w", err)
	}

	c.recorder.Record(ctx, audit.Entry{
		UserID:    user.ID,
		Action:    audit.ActionPasswordChanged,
		Resource:  ResourceAuth,
		NewValues: map[string]int64{"revokedSessions": revoked},
		Meta:      meta,
	})
	return nil
}
