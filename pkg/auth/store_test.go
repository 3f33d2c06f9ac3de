package auth

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatekeeper/pkg/apperr"
	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/rbac"
)

func strPtr(s string) *string { return &s }

func TestUserStore_GetAndList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ada := f.createUser(t, "ada")
	f.createUser(t, "bob")
	carol := f.createUser(t, "carol")

	status := StatusSuspended
	_, _, err := f.users.Update(ctx, carol.ID, UserUpdate{Status: &status})
	require.NoError(t, err)

	got, err := f.users.GetByID(ctx, ada.ID)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", got.Email)
	assert.Nil(t, got.LastLoginAt)

	_, err = f.users.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	users, total, err := f.users.List(ctx, UserFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, users, 3)

	users, total, err = f.users.List(ctx, UserFilter{Status: StatusSuspended})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, "carol", users[0].Username)

	users, total, err = f.users.List(ctx, UserFilter{Search: "BO"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, "bob", users[0].Username)

	users, total, err = f.users.List(ctx, UserFilter{Page: 2, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, users, 1)
}

func TestUserStore_Update(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ada := f.createUser(t, "ada")
	f.createUser(t, "bob")

	before, after, err := f.users.Update(ctx, ada.ID, UserUpdate{
		Email:     strPtr("ada@lovelace.dev"),
		FirstName: strPtr("Augusta"),
	})
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", before.Email)
	assert.Equal(t, "ada@lovelace.dev", after.Email)
	assert.Equal(t, "Augusta", after.FirstName)
	assert.Equal(t, "ada", after.Username)

	_, _, err = f.users.Update(ctx, ada.ID, UserUpdate{Email: strPtr("bob@example.com")})
	assert.ErrorIs(t, err, ErrEmailTaken)

	_, _, err = f.users.Update(ctx, ada.ID, UserUpdate{Username: strPtr("bob")})
	assert.ErrorIs(t, err, ErrUsernameTaken)

	_, _, err = f.users.Update(ctx, "missing", UserUpdate{})
	assert.ErrorIs(t, err, ErrUserNotFound)

	bad := Status("deleted")
	assert.ErrorIs(t, UserUpdate{Status: &bad}.Validate(), apperr.ErrValidation)
	assert.NoError(t, UserUpdate{FirstName: strPtr("Ada")}.Validate())
}

func TestUserStore_Delete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	quiet := f.createUser(t, "quiet", rbac.RoleViewer)
	f.login(t, quiet)
	f.requestResetToken(t, quiet.Email)

	// Logging in and requesting a reset left audit history
	_, err := f.users.Delete(ctx, quiet.ID)
	assert.ErrorIs(t, err, ErrUserHasHistory)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	fresh := f.createUser(t, "fresh", rbac.RoleViewer)
	_, err = f.sessions.Create(ctx, fresh.ID, TokenPair{AccessToken: "a", RefreshToken: "r"}, "", "", "")
	require.NoError(t, err)

	deleted, err := f.users.Delete(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, "fresh", deleted.Username)

	_, err = f.users.GetByID(ctx, fresh.ID)
	assert.ErrorIs(t, err, ErrUserNotFound)

	var orphans int
	require.NoError(t, f.db.QueryRow(
		`SELECT (SELECT COUNT(*) FROM sessions WHERE user_id = $1) + (SELECT COUNT(*) FROM user_roles WHERE user_id = $1)`,
		fresh.ID,
	).Scan(&orphans))
	assert.Zero(t, orphans)

	_, err = f.users.Delete(ctx, "missing")
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.Equal(t, 1, f.auditCount(t, audit.ActionLogin))
}

func TestUserStore_CreateFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT email, username FROM users`)).
		WillReturnRows(sqlmock.NewRows([]string{"email", "username"}))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO users`)).
		WillReturnError(assert.AnError)

	store := NewUserStore(db)
	err = store.Create(context.Background(), &User{Email: "ada@example.com", Username: "ada", PasswordHash: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessions_SweepExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.createUser(t, "ada")

	f.sessions.ttl = -time.Hour
	_, err := f.sessions.Create(ctx, user.ID, TokenPair{AccessToken: "old", RefreshToken: "old-r"}, "", "", "")
	require.NoError(t, err)
	f.sessions.ttl = 7 * 24 * time.Hour
	_, err = f.sessions.Create(ctx, user.ID, TokenPair{AccessToken: "new", RefreshToken: "new-r"}, "", "", "")
	require.NoError(t, err)

	_, err = f.sessions.Lookup(ctx, "old")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	n, err := f.sessions.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	live, err := f.sessions.Lookup(ctx, "new")
	require.NoError(t, err)
	assert.Equal(t, user.ID, live.UserID)
}

func TestSessions_RevokeAllExcept(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.createUser(t, "ada")
	other := f.createUser(t, "bob")

	for _, tok := range []string{"a", "b", "c"} {
		_, err := f.sessions.Create(ctx, user.ID, TokenPair{AccessToken: tok, RefreshToken: tok + "-r"}, "", "", "")
		require.NoError(t, err)
	}
	_, err := f.sessions.Create(ctx, other.ID, TokenPair{AccessToken: "z", RefreshToken: "z-r"}, "", "", "")
	require.NoError(t, err)

	n, err := f.sessions.RevokeAllExcept(ctx, user.ID, "b")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = f.sessions.Lookup(ctx, "b")
	assert.NoError(t, err)
	_, err = f.sessions.Lookup(ctx, "a")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = f.sessions.Lookup(ctx, "z")
	assert.NoError(t, err, "other users keep their sessions")
}
