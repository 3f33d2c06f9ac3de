package auth

import (
	"context"
	"database/sql"
	"io"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/mail"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/rbac"
	"github.com/platinummonkey/gatekeeper/pkg/storage/postgres/testdb"
)

const (
	testAccessSecret  = "access-secret-for-tests"
	testRefreshSecret = "refresh-secret-for-tests"
	testPassword      = "correct horse battery"
)

var testMeta = audit.Meta{IPAddress: "10.0.0.1", UserAgent: "go-test"}

// captureSender records messages instead of delivering them
type captureSender struct {
	mu   sync.Mutex
	msgs []mail.Message
}

func (c *captureSender) Send(ctx context.Context, msg mail.Message) error {
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

func (c *captureSender) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

var (
	resetTokenPattern  = regexp.MustCompile(`token=([0-9a-f]{64})`)
	verifyTokenPattern = regexp.MustCompile(`verify-email\?token=([A-Za-z0-9._-]+)`)
)

type fixture struct {
	db          *sql.DB
	users       *UserStore
	sessions    *Sessions
	tokens      *TokenIssuer
	roles       *rbac.Store
	service     *Service
	credentials *Credentials
	mail        *captureSender
	metrics     *observability.Metrics
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

	tokens, err := NewTokenIssuer(testAccessSecret, testRefreshSecret, 24*time.Hour, 7*24*time.Hour)
	require.NoError(t, err)

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	metrics := observability.NewNopMetrics()
	recorder := audit.NewRecorder(db, logger, metrics)
	sender := &captureSender{}

	users := NewUserStore(db)
	sessions := NewSessions(db, tokens.RefreshTTL())

	return &fixture{
		db:       db,
		users:    users,
		sessions: sessions,
		tokens:   tokens,
		roles:    roles,
		service: NewService(users, sessions, tokens, roles, recorder, sender, metrics, Options{
			RequireEmailVerification: true,
			FrontendOrigin:           "http://app.test",
		}),
		credentials: NewCredentials(db, users, sessions, recorder, sender, metrics, CredentialOptions{
			FrontendOrigin: "http://app.test",
			ResetTTL:       time.Hour,
		}),
		mail:    sender,
		metrics: metrics,
	}
}

// createUser stores a verified, active user holding the named roles
func (f *fixture) createUser(t *testing.T, username string, roleNames ...string) *User {
	t.Helper()
	ctx := context.Background()

	hash, err := HashPassword(testPassword)
	require.NoError(t, err)
	user := &User{
		Email:         username + "@example.com",
		Username:      username,
		PasswordHash:  hash,
		FirstName:     "Test",
		LastName:      username,
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

func (f *fixture) login(t *testing.T, user *User) *LoginResult {
	t.Helper()
	result, err := f.service.Login(context.Background(), LoginInput{Email: user.Email, Password: testPassword}, testMeta)
	require.NoError(t, err)
	return result
}

func (f *fixture) auditCount(t *testing.T, action audit.Action) int {
	t.Helper()
	var n int
	require.NoError(t, f.db.QueryRow(`SELECT COUNT(*) FROM audit_logs WHERE action = $1`, string(action)).Scan(&n))
	return n
}
