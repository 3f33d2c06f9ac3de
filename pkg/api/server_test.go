package api

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/auth"
	"github.com/platinummonkey/gatekeeper/pkg/middleware"
	"github.com/platinummonkey/gatekeeper/pkg/rbac"
	"github.com/platinummonkey/gatekeeper/pkg/users"
)

func TestServer_UnknownRoute(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"route not found"}`, rec.Body.String())
}

func TestServer_ProtectedRoutesRequireToken(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{"/api/auth/me", "/api/roles", "/api/users", "/api/audit-logs"} {
		rec := f.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}

	rec := f.do(t, http.MethodGet, "/api/auth/me", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServer_LoginAndMe(t *testing.T) {
	f := newFixture(t)
	user := f.createUser(t, "alice", "Accountant")
	token := f.login(t, user)

	rec := f.do(t, http.MethodGet, "/api/auth/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var profile auth.Profile
	decode(t, rec, &profile)
	assert.Equal(t, user.ID, profile.ID)
	require.Len(t, profile.Roles, 1)
	assert.Equal(t, "Accountant", profile.Roles[0].Name)
	assert.NotEmpty(t, profile.Permissions)
	assert.NotNil(t, profile.LastLoginAt)
}

func TestServer_LoginFailures(t *testing.T) {
	f := newFixture(t)
	user := f.createUser(t, "bob", "Viewer")

	rec := f.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": user.Email, "password": "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	wrongPassword := rec.Body.String()

	rec = f.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "ghost@example.com", "password": "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, wrongPassword, rec.Body.String(), "unknown email is indistinguishable")

	rec = f.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_LoginRateLimitSkipsSuccess(t *testing.T) {
	f := newFixture(t)
	user := f.createUser(t, "carol", "Viewer")

	for i := 0; i < 5; i++ {
		f.login(t, user)
	}

	bad := map[string]string{"email": user.Email, "password": "wrong-password"}
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodPost, "/api/auth/login", "", bad).Code)
	}

	rec := f.do(t, http.MethodPost, "/api/auth/login", "", bad)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	var body middleware.TooManyRequests
	decode(t, rec, &body)
	assert.Positive(t, body.RetryAfter)
}

func TestServer_RegisterVerifyLogin(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/auth/register", "", auth.RegisterInput{
		Email:    "dave@example.com",
		Username: "dave",
		Password: testPassword,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var registered RegisterResponse
	decode(t, rec, &registered)
	assert.NotEmpty(t, registered.Message)
	assert.Equal(t, "dave", registered.User.Username)
	assert.NotContains(t, rec.Body.String(), "password")

	creds := map[string]string{"email": "dave@example.com", "password": testPassword}
	rec = f.do(t, http.MethodPost, "/api/auth/login", "", creds)
	require.Equal(t, http.StatusForbidden, rec.Code)
	var blocked VerificationRequired
	decode(t, rec, &blocked)
	assert.True(t, blocked.RequiresVerification)

	match := verifyTokenPattern.FindStringSubmatch(f.mail.last().Text)
	require.Len(t, match, 2)

	rec = f.do(t, http.MethodPost, "/api/auth/verify-email", "", VerifyEmailRequest{Token: "garbage"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/auth/verify-email", "", VerifyEmailRequest{Token: match[1]})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/auth/login", "", creds)
	require.Equal(t, http.StatusOK, rec.Code)
	var result auth.LoginResult
	decode(t, rec, &result)
	require.Len(t, result.User.Roles, 1)
	assert.Equal(t, "Viewer", result.User.Roles[0].Name)

	rec = f.do(t, http.MethodPost, "/api/auth/register", "", auth.RegisterInput{
		Email:    "dave@example.com",
		Username: "dave2",
		Password: testPassword,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "duplicate email")
}

func TestServer_RefreshRotates(t *testing.T) {
	f := newFixture(t)
	user := f.createUser(t, "erin", "Viewer")

	rec := f.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": user.Email, "password": testPassword})
	require.Equal(t, http.StatusOK, rec.Code)
	var first auth.LoginResult
	decode(t, rec, &first)

	rec = f.do(t, http.MethodPost, "/api/auth/refresh", "", RefreshRequest{RefreshToken: first.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var second auth.LoginResult
	decode(t, rec, &second)
	assert.NotEqual(t, first.Token, second.Token)

	rec = f.do(t, http.MethodPost, "/api/auth/refresh", "", RefreshRequest{RefreshToken: first.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "a rotated refresh token is spent")

	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/api/auth/me", first.Token, nil).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/auth/me", second.Token, nil).Code)

	rec = f.do(t, http.MethodPost, "/api/auth/refresh", "", RefreshRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_LogoutRevokesSession(t *testing.T) {
	f := newFixture(t)
	user := f.createUser(t, "frank", "Viewer")
	token := f.login(t, user)
	other := f.login(t, user)

	rec := f.do(t, http.MethodGet, "/api/auth/sessions", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var sessions SessionsResponse
	decode(t, rec, &sessions)
	require.Len(t, sessions.Sessions, 2)
	assert.NotContains(t, rec.Body.String(), token)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/auth/logout", token, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/api/auth/me", token, nil).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/auth/me", other, nil).Code)

	rec = f.do(t, http.MethodPost, "/api/auth/logout-all", other, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var all LogoutAllResponse
	decode(t, rec, &all)
	assert.Equal(t, int64(1), all.RevokedSessions)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/api/auth/me", other, nil).Code)
}

func TestServer_ChangePasswordKeepsCurrentSession(t *testing.T) {
	f := newFixture(t)
	user := f.createUser(t, "gina", "Viewer")
	current := f.login(t, user)
	other := f.login(t, user)

	rec := f.do(t, http.MethodPut, "/api/auth/password", current, auth.ChangePasswordInput{
		CurrentPassword: "wrong-password",
		NewPassword:     "another good password",
		ConfirmPassword: "another good password",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/auth/password", current, auth.ChangePasswordInput{
		CurrentPassword: testPassword,
		NewPassword:     "another good password",
		ConfirmPassword: "another good password",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/auth/me", current, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/api/auth/me", other, nil).Code)
}

func TestServer_ForgotPasswordIsIndistinguishable(t *testing.T) {
	f := newFixture(t)
	user := f.createUser(t, "hank", "Viewer")

	known := f.do(t, http.MethodPost, "/api/auth/forgot-password", "", ForgotPasswordRequest{Email: user.Email})
	unknown := f.do(t, http.MethodPost, "/api/auth/forgot-password", "", ForgotPasswordRequest{Email: "ghost@example.com"})

	assert.Equal(t, http.StatusOK, known.Code)
	assert.Equal(t, known.Code, unknown.Code)
	assert.JSONEq(t, known.Body.String(), unknown.Body.String())

	rec := f.do(t, http.MethodPost, "/api/auth/reset-password", "", auth.ResetInput{
		Token:           strings.Repeat("ab", 32),
		Password:        "another good password",
		ConfirmPassword: "another good password",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_PermissionGate(t *testing.T) {
	f := newFixture(t)
	accountant := f.createUser(t, "ivan", "Accountant")
	token := f.login(t, accountant)

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	f.server.Router().Handle("/api/salaries/{id}", f.server.allowed("salaries", rbac.ActionDelete, ok)).Methods("DELETE")
	f.server.Router().Handle("/api/salaries/{id}", f.server.allowed("salaries", rbac.ActionUpdate, ok)).Methods("PUT")

	rec := f.do(t, http.MethodDelete, "/api/salaries/1", token, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	var denied middleware.PermissionDenied
	decode(t, rec, &denied)
	assert.Equal(t, rbac.Permission{Resource: "salaries", Action: rbac.ActionDelete}, denied.RequiredPermission)

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodPut, "/api/salaries/1", token, map[string]int{}).Code)

	rec = f.do(t, http.MethodGet, "/api/roles", token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestServer_RoleRevocationTakesEffectImmediately(t *testing.T) {
	f := newFixture(t)
	admin := f.createUser(t, "judy", "Admin")
	manager := f.createUser(t, "ken", "Manager")
	adminToken := f.login(t, admin)
	managerToken := f.login(t, manager)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/users", managerToken, nil).Code)

	role, err := f.roles.GetRoleByName(t.Context(), "Manager")
	require.NoError(t, err)
	rec := f.do(t, http.MethodPost, "/api/users/revoke-role", adminToken, users.AssignmentInput{UserID: manager.ID, RoleID: role.ID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodGet, "/api/users", managerToken, nil).Code)

	rec = f.do(t, http.MethodPost, "/api/users/revoke-role", adminToken, users.AssignmentInput{UserID: manager.ID, RoleID: role.ID})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_RoleLifecycleIsAudited(t *testing.T) {
	f := newFixture(t)
	admin := f.createUser(t, "leo", "Admin")
	token := f.login(t, admin)

	name := "Auditor"
	rec := f.do(t, http.MethodPost, "/api/roles", token, rbac.RoleInput{Name: &name})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var role rbac.Role
	decode(t, rec, &role)
	assert.Equal(t, 1, f.auditCount(t, audit.ActionCreate, ResourceRoles))

	rec = f.do(t, http.MethodGet, "/api/permissions", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var perms PermissionsResponse
	decode(t, rec, &perms)
	require.NotEmpty(t, perms.Permissions)
	var auditRead string
	for _, p := range perms.Permissions {
		if p.Resource == "audit_logs" && p.Action == rbac.ActionRead {
			auditRead = p.ID
		}
	}
	require.NotEmpty(t, auditRead)
	assert.Len(t, perms.Grouped, 8)

	rec = f.do(t, http.MethodPut, "/api/roles/"+role.ID+"/permissions", token, PermissionIDsRequest{PermissionIDs: []string{auditRead}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decode(t, rec, &role)
	require.Len(t, role.Permissions, 1)
	assert.Equal(t, 1, f.auditCount(t, audit.ActionUpdate, ResourceRoles))
	granted := f.oldRoles(t, audit.ActionUpdate)
	require.Len(t, granted, 1)
	assert.Equal(t, "Auditor", granted[0].Name)
	assert.Empty(t, granted[0].Permissions)

	renamed := "Reviewer"
	rec = f.do(t, http.MethodPut, "/api/roles/"+role.ID, token, rbac.RoleInput{Name: &renamed})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 2, f.auditCount(t, audit.ActionUpdate, ResourceRoles))
	var renameOld *rbac.Role
	for _, r := range f.oldRoles(t, audit.ActionUpdate) {
		if len(r.Permissions) == 1 {
			renameOld = &r
		}
	}
	require.NotNil(t, renameOld)
	assert.Equal(t, "Auditor", renameOld.Name)

	rec = f.do(t, http.MethodPost, "/api/users/assign-role", token, users.AssignmentInput{UserID: admin.ID, RoleID: role.ID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodDelete, "/api/roles/"+role.ID, token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "role in use")

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/users/revoke-role", token,
		users.AssignmentInput{UserID: admin.ID, RoleID: role.ID}).Code)
	rec = f.do(t, http.MethodDelete, "/api/roles/"+role.ID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, f.auditCount(t, audit.ActionDelete, ResourceRoles))

	var resourceID string
	require.NoError(t, f.db.QueryRow(
		`SELECT resource_id FROM audit_logs WHERE action = $1 AND resource = $2`, string(audit.ActionDelete), ResourceRoles).Scan(&resourceID))
	assert.Equal(t, role.ID, resourceID)
	deleted := f.oldRoles(t, audit.ActionDelete)
	require.Len(t, deleted, 1)
	assert.Equal(t, "Reviewer", deleted[0].Name)
	require.Len(t, deleted[0].Permissions, 1)
	assert.Equal(t, auditRead, deleted[0].Permissions[0].ID)

	admins, err := f.roles.GetRoleByName(t.Context(), "Admin")
	require.NoError(t, err)
	rec = f.do(t, http.MethodDelete, "/api/roles/"+admins.ID, token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "system role")
}

func TestServer_UserAdministration(t *testing.T) {
	f := newFixture(t)
	admin := f.createUser(t, "mona", "Admin")
	token := f.login(t, admin)

	viewer, err := f.roles.GetRoleByName(t.Context(), "Viewer")
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/api/users", token, users.CreateInput{
		Email:    "ned@example.com",
		Username: "ned",
		Password: testPassword,
		RoleIDs:  []string{viewer.ID},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created auth.User
	decode(t, rec, &created)

	rec = f.do(t, http.MethodGet, "/api/users?search=ned", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page users.Page
	decode(t, rec, &page)
	require.Len(t, page.Users, 1)
	assert.Equal(t, "Viewer", page.Users[0].Roles[0].Name)

	suspended := auth.StatusSuspended
	rec = f.do(t, http.MethodPut, "/api/users/"+created.ID, token, auth.UserUpdate{Status: &suspended})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "ned@example.com", "password": testPassword})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/users/"+admin.ID, token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "self delete")

	rec = f.do(t, http.MethodGet, "/api/users/does-not-exist", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_AuditLogs(t *testing.T) {
	f := newFixture(t)
	admin := f.createUser(t, "olga", "Admin")
	token := f.login(t, admin)

	rec := f.do(t, http.MethodGet, "/api/audit-logs?action=LOGIN", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var page audit.Page
	decode(t, rec, &page)
	require.Len(t, page.Logs, 1)
	assert.Equal(t, audit.ActionLogin, page.Logs[0].Action)

	rec = f.do(t, http.MethodGet, "/api/audit-logs/"+page.Logs[0].ID, token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/audit-logs/stats", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats audit.Stats
	decode(t, rec, &stats)
	assert.Equal(t, int64(1), stats.ByAction["LOGIN"])

	rec = f.do(t, http.MethodGet, "/api/audit-logs/export?format=csv", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), ".csv")
	assert.True(t, strings.HasPrefix(rec.Body.String(), "id,timestamp,"))

	rec = f.do(t, http.MethodGet, "/api/audit-logs/export?format=xml", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/audit-logs?startDate=yesterday", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	viewer := f.createUser(t, "pete", "Viewer")
	rec = f.do(t, http.MethodGet, "/api/audit-logs", f.login(t, viewer), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
