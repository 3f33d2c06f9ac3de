package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/auth"
	"github.com/platinummonkey/gatekeeper/pkg/mail"
	"github.com/platinummonkey/gatekeeper/pkg/middleware"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/rbac"
	"github.com/platinummonkey/gatekeeper/pkg/storage/postgres/testdb"
	"github.com/platinummonkey/gatekeeper/pkg/users"
)

const testPassword = "correct horse battery"

var verifyTokenPattern = regexp.MustCompile(`verify-email\?token=([A-Za-z0-9._-]+)`)

type captureSender struct {
	mu   sync.Mutex
	msgs []mail.Message
}

func (c *captureSender) Send(_ context.Context, msg mail.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *captureSender) last() mail.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.msgs) == 0 {
		return mail.Message{}
	}
	return c.msgs[len(c.msgs)-1]
}

type fixture struct {
	db      *sql.DB
	roles   *rbac.Store
	users   *auth.UserStore
	server  *Server
	mail    *captureSender
	metrics *observability.Metrics
}

func testLimits() middleware.Limits {
	return middleware.Limits{
		API:          middleware.RateLimitConfig{Name: "api", Requests: 1000, Window: time.Minute},
		Login:        middleware.RateLimitConfig{Name: "login", Requests: 3, Window: 15 * time.Minute, SkipSuccessful: true},
		Reset:        middleware.RateLimitConfig{Name: "password_reset", Requests: 3, Window: time.Hour},
		Verification: middleware.RateLimitConfig{Name: "verification", Requests: 2, Window: time.Hour},
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db := testdb.New(t)

	roles := rbac.NewStore(db)
	catalogue, err := rbac.DefaultCatalogue()
	require.NoError(t, err)
	_, err = rbac.Seed(ctx, roles, catalogue)
	require.NoError(t, err)

	tokens, err := auth.NewTokenIssuer("access-secret-for-tests", "refresh-secret-for-tests", 24*time.Hour, 7*24*time.Hour)
	require.NoError(t, err)

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	metrics := observability.NewNopMetrics()
	recorder := audit.NewRecorder(db, logger, metrics)
	sender := &captureSender{}

	userStore := auth.NewUserStore(db)
	sessions := auth.NewSessions(db, tokens.RefreshTTL())
	reader := audit.NewReader(db)

	server := NewServer(Dependencies{
		Auth: auth.NewService(userStore, sessions, tokens, roles, recorder, sender, metrics, auth.Options{
			RequireEmailVerification: true,
			FrontendOrigin:           "http://app.test",
		}),
		Credentials: auth.NewCredentials(db, userStore, sessions, recorder, sender, metrics, auth.CredentialOptions{
			FrontendOrigin: "http://app.test",
			ResetTTL:       time.Hour,
		}),
		Roles:       roles,
		Users:       users.NewService(userStore, roles, recorder),
		Recorder:    recorder,
		AuditReader: reader,
		Exporter:    audit.NewExporter(reader),
		Limits:      testLimits(),
		LimitStore:  middleware.NewMemoryStore(100, time.Hour),
		Logger:      logger,
		Metrics:     metrics,
	})

	return &fixture{db: db, roles: roles, users: userStore, server: server, mail: sender, metrics: metrics}
}

// createUser stores a verified, active user holding the named roles
func (f *fixture) createUser(t *testing.T, username string, roleNames ...string) *auth.User {
	t.Helper()
	ctx := context.Background()

	hash, err := auth.HashPassword(testPassword)
	require.NoError(t, err)
	user := &auth.User{
		Email:         username + "@example.com",
		Username:      username,
		PasswordHash:  hash,
		EmailVerified: true,
	}
	require.NoError(t, f.users.Create(ctx, user))

	for _, name := range roleNames {
		role, err := f.roles.GetRoleByName(ctx, name)
		require.NoError(t, err)
		_, err = f.roles.AssignRole(ctx, user.ID, role.ID, "")
		require.NoError(t, err)
	}
	return user
}

func (f *fixture) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "10.0.0.1:5555"
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

// login returns an access token for user
func (f *fixture) login(t *testing.T, user *auth.User) string {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email":    user.Email,
		"password": testPassword,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result auth.LoginResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	return result.Token
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func (f *fixture) auditCount(t *testing.T, action audit.Action, resource string) int {
	t.Helper()
	var n int
	require.NoError(t, f.db.QueryRow(
		`SELECT COUNT(*) FROM audit_logs WHERE action = $1 AND resource = $2`, string(action), resource).Scan(&n))
	return n
}

// oldRoles decodes the old values of every role entry with the given action
func (f *fixture) oldRoles(t *testing.T, action audit.Action) []rbac.Role {
	t.Helper()
	rows, err := f.db.Query(
		`SELECT old_values FROM audit_logs WHERE action = $1 AND resource = $2 AND old_values IS NOT NULL`,
		string(action), ResourceRoles)
	require.NoError(t, err)
	defer rows.Close()

	var roles []rbac.Role
	for rows.Next() {
		var raw string
		require.NoError(t, rows.Scan(&raw))
		var role rbac.Role
		require.NoError(t, json.Unmarshal([]byte(raw), &role))
		roles = append(roles, role)
	}
	require.NoError(t, rows.Err())
	return roles
}
