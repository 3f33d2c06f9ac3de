package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatekeeper/pkg/apperr"
	"github.com/platinummonkey/gatekeeper/pkg/audit"
)

func (f *fixture) requestResetToken(t *testing.T, email string) string {
	t.Helper()
	_, err := f.credentials.RequestReset(context.Background(), email, testMeta)
	require.NoError(t, err)
	match := resetTokenPattern.FindStringSubmatch(f.mail.last().Text)
	require.Len(t, match, 2)
	return match[1]
}

func TestCredentials_ChangePasswordKeepsCurrentSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.createUser(t, "ada")

	current := f.login(t, user)
	other := f.login(t, user)
	identity, err := f.service.Authenticate(ctx, current.Token)
	require.NoError(t, err)

	err = f.credentials.ChangePassword(ctx, identity, current.Token, ChangePasswordInput{
		CurrentPassword: testPassword,
		NewPassword:     "a brand new password",
		ConfirmPassword: "a brand new password",
	}, testMeta)
	require.NoError(t, err)

	_, err = f.service.Authenticate(ctx, current.Token)
	assert.NoError(t, err)
	_, err = f.service.Authenticate(ctx, other.Token)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = f.service.Login(ctx, LoginInput{Email: user.Email, Password: testPassword}, testMeta)
	assert.ErrorIs(t, err, ErrLoginFailed)
	_, err = f.service.Login(ctx, LoginInput{Email: user.Email, Password: "a brand new password"}, testMeta)
	assert.NoError(t, err)

	assert.Equal(t, 1, f.auditCount(t, audit.ActionPasswordChanged))
}

func TestCredentials_ChangePasswordErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.createUser(t, "ada")
	login := f.login(t, user)
	identity, err := f.service.Authenticate(ctx, login.Token)
	require.NoError(t, err)

	t.Run("wrong current password", func(t *testing.T) {
		err := f.credentials.ChangePassword(ctx, identity, login.Token, ChangePasswordInput{
			CurrentPassword: "not my password",
			NewPassword:     "a brand new password",
		}, testMeta)
		assert.ErrorIs(t, err, ErrInvalidCredential)
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
		assert.Equal(t, 1, f.auditCount(t, audit.ActionPasswordChangeFailed))
	})

	t.Run("same password", func(t *testing.T) {
		err := f.credentials.ChangePassword(ctx, identity, login.Token, ChangePasswordInput{
			CurrentPassword: testPassword,
			NewPassword:     testPassword,
		}, testMeta)
		assert.ErrorIs(t, err, ErrSamePassword)
	})

	t.Run("confirmation mismatch", func(t *testing.T) {
		err := f.credentials.ChangePassword(ctx, identity, login.Token, ChangePasswordInput{
			CurrentPassword: testPassword,
			NewPassword:     "a brand new password",
			ConfirmPassword: "something else",
		}, testMeta)
		assert.ErrorIs(t, err, ErrPasswordMismatch)
	})

	t.Run("too short", func(t *testing.T) {
		err := f.credentials.ChangePassword(ctx, identity, login.Token, ChangePasswordInput{
			CurrentPassword: testPassword,
			NewPassword:     "short",
		}, testMeta)
		assert.ErrorIs(t, err, apperr.ErrValidation)
	})
}

func TestCredentials_RequestResetIsIndistinguishable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.createUser(t, "ada")

	known, err := f.credentials.RequestReset(ctx, user.Email, testMeta)
	require.NoError(t, err)
	unknown, err := f.credentials.RequestReset(ctx, "ghost@example.com", testMeta)
	require.NoError(t, err)

	assert.Equal(t, known, unknown)
	assert.Equal(t, ResetRequestedMessage, known.Message)
	assert.Empty(t, known.ResetLink)

	assert.Equal(t, 1, f.mail.count())
	assert.Equal(t, user.Email, f.mail.last().To)
	assert.Contains(t, f.mail.last().Text, "http://app.test/auth/reset-password?token=")
	assert.Equal(t, 1, f.auditCount(t, audit.ActionPasswordResetRequested))

	_, err = f.credentials.RequestReset(ctx, "not an email", testMeta)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestCredentials_OnlyDigestIsStored(t *testing.T) {
	f := newFixture(t)
	user := f.createUser(t, "ada")
	token := f.requestResetToken(t, user.Email)

	var stored string
	require.NoError(t, f.db.QueryRow(`SELECT token_digest FROM password_resets WHERE user_id = $1`, user.ID).Scan(&stored))
	assert.Equal(t, DigestToken(token), stored)
	assert.NotEqual(t, token, stored)
}

func TestCredentials_ConsumeResetRevokesAllSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.createUser(t, "ada")

	first := f.login(t, user)
	second := f.login(t, user)
	token := f.requestResetToken(t, user.Email)

	require.NoError(t, f.credentials.ConsumeReset(ctx, ResetInput{
		Token:           token,
		Password:        "reset password 1",
		ConfirmPassword: "reset password 1",
	}, testMeta))

	for _, access := range []string{first.Token, second.Token} {
		_, err := f.service.Authenticate(ctx, access)
		assert.ErrorIs(t, err, ErrSessionNotFound)
	}
	_, err := f.service.Login(ctx, LoginInput{Email: user.Email, Password: "reset password 1"}, testMeta)
	assert.NoError(t, err)
	assert.Equal(t, 1, f.auditCount(t, audit.ActionPasswordReset))
}

func TestCredentials_ResetTokenSingleUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.createUser(t, "ada")
	token := f.requestResetToken(t, user.Email)

	require.NoError(t, f.credentials.ConsumeReset(ctx, ResetInput{Token: token, Password: "reset password 1"}, testMeta))

	err := f.credentials.ConsumeReset(ctx, ResetInput{Token: token, Password: "reset password 2"}, testMeta)
	assert.ErrorIs(t, err, ErrInvalidOrExpiredToken)
	assert.Equal(t, apperr.KindInvalidToken, apperr.KindOf(err))

	_, err = f.service.Login(ctx, LoginInput{Email: user.Email, Password: "reset password 1"}, testMeta)
	assert.NoError(t, err)
}

func TestCredentials_ResetTokenSuperseded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.createUser(t, "ada")

	old := f.requestResetToken(t, user.Email)
	fresh := f.requestResetToken(t, user.Email)
	require.NotEqual(t, old, fresh)

	var rows int
	require.NoError(t, f.db.QueryRow(`SELECT COUNT(*) FROM password_resets WHERE user_id = $1`, user.ID).Scan(&rows))
	assert.Equal(t, 1, rows)

	err := f.credentials.ConsumeReset(ctx, ResetInput{Token: old, Password: "reset password 1"}, testMeta)
	assert.ErrorIs(t, err, ErrInvalidOrExpiredToken)
	assert.NoError(t, f.credentials.ConsumeReset(ctx, ResetInput{Token: fresh, Password: "reset password 1"}, testMeta))
}

func TestCredentials_ResetTokenExpires(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.createUser(t, "ada")

	f.credentials.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token := f.requestResetToken(t, user.Email)
	f.credentials.now = time.Now

	err := f.credentials.ConsumeReset(ctx, ResetInput{Token: token, Password: "reset password 1"}, testMeta)
	assert.ErrorIs(t, err, ErrInvalidOrExpiredToken)

	err = f.credentials.ConsumeReset(ctx, ResetInput{Token: "deadbeef", Password: "reset password 1"}, testMeta)
	assert.ErrorIs(t, err, ErrInvalidOrExpiredToken)

	n, err := f.credentials.PurgeResets(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestCredentials_ExposeResetLinks(t *testing.T) {
	f := newFixture(t)
	f.credentials.opts.ExposeResetLinks = true
	user := f.createUser(t, "ada")

	result, err := f.credentials.RequestReset(context.Background(), user.Email, testMeta)
	require.NoError(t, err)
	assert.Contains(t, result.ResetLink, "/auth/reset-password?token=")
}
