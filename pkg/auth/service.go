package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/platinummonkey/gatekeeper/pkg/apperr"
	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/mail"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/rbac"
)

// ResourceUsers is the audit resource of account records
const ResourceUsers = "users"

// Options configures the authentication service
type Options struct {
	RequireEmailVerification bool
	FrontendOrigin           string
	// DefaultRole is assigned to self-registered users when it exists
	DefaultRole string
}

// Service implements registration, login, token refresh, logout and the
// caller's own profile and sessions.
type Service struct {
	users    *UserStore
	sessions *Sessions
	tokens   *TokenIssuer
	roles    *rbac.Store
	checker  *rbac.Checker
	recorder *audit.Recorder
	sender   mail.Sender
	metrics  *observability.Metrics
	opts     Options
}

// NewService creates the authentication service
func NewService(users *UserStore, sessions *Sessions, tokens *TokenIssuer, roles *rbac.Store,
	recorder *audit.Recorder, sender mail.Sender, metrics *observability.Metrics, opts Options) *Service {
	if metrics == nil {
		metrics = observability.NewNopMetrics()
	}
	if opts.DefaultRole == "" {
		opts.DefaultRole = rbac.RoleViewer
	}
	return &Service{
		users:    users,
		sessions: sessions,
		tokens:   tokens,
		roles:    roles,
		checker:  rbac.NewChecker(roles),
		recorder: recorder,
		sender:   sender,
		metrics:  metrics,
		opts:     opts,
	}
}

// Register creates a self-service account with the default role
func (s *Service) Register(ctx context.Context, in RegisterInput, meta audit.Meta) (*User, error) {
	in.Email = strings.TrimSpace(in.Email)
	in.Username = strings.TrimSpace(in.Username)
	if err := collect(
		ValidateEmail(in.Email),
		ValidateUsername(in.Username),
		ValidatePassword(in.Password),
		validateName("firstName", in.FirstName),
		validateName("lastName", in.LastName),
	); err != nil {
		return nil, err
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	user := &User{
		Email:        in.Email,
		Username:     in.Username,
		PasswordHash: hash,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Status:       StatusActive,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	logger := observability.FromContext(ctx).WithField("new_user_id", user.ID)

	role, err := s.roles.GetRoleByName(ctx, s.opts.DefaultRole)
	switch {
	case errors.Is(err, rbac.ErrRoleNotFound):
		logger.WithField("role", s.opts.DefaultRole).Warn("Default role missing, user registered without roles")
	case err != nil:
		return nil, err
	default:
		if _, err := s.roles.AssignRole(ctx, user.ID, role.ID, ""); err != nil {
			return nil, err
		}
	}

	s.recorder.Record(ctx, audit.Entry{
		UserID:     user.ID,
		Action:     audit.ActionRegistered,
		Resource:   ResourceUsers,
		ResourceID: user.ID,
		NewValues: map[string]string{
			"email":     user.Email,
			"username":  user.Username,
			"firstName": user.FirstName,
			"lastName":  user.LastName,
		},
		Meta: meta,
	})

	if err := s.sendVerification(ctx, user); err != nil {
		logger.WithError(err).Error("Failed to send verification email")
	}
	return user, nil
}

func (s *Service) sendVerification(ctx context.Context, user *User) error {
	token, err := s.tokens.IssueVerification(user.ID)
	if err != nil {
		return err
	}
	link := mail.VerificationLink(s.opts.FrontendOrigin, token)
	return s.sender.Send(ctx, mail.VerificationMessage(user.Email, user.DisplayName(), link))
}

// LoginInput carries login credentials
type LoginInput struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	DeviceInfo string `json:"deviceInfo"`
}

// Login checks credentials and opens a new session. Unknown emails and wrong
// passwords fail with the same ErrLoginFailed and are audited as LOGIN_FAILED.
func (s *Service) Login(ctx context.Context, in LoginInput, meta audit.Meta) (*LoginResult, error) {
	in.Email = strings.TrimSpace(in.Email)
	var fields []string
	if in.Email == "" {
		fields = append(fields, "email is required")
	}
	if in.Password == "" {
		fields = append(fields, "password is required")
	}
	if len(fields) > 0 {
		return nil, apperr.Validation(fields...)
	}

	user, err := s.users.GetByEmail(ctx, in.Email)
	if errors.Is(err, ErrUserNotFound) {
		s.loginFailed(ctx, "", in.Email, "user not found", meta)
		return nil, ErrLoginFailed
	}
	if err != nil {
		s.metrics.LoginAttemptsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	switch user.Status {
	case StatusSuspended:
		s.metrics.LoginAttemptsTotal.WithLabelValues("suspended").Inc()
		return nil, ErrAccountSuspended
	case StatusInactive:
		s.metrics.LoginAttemptsTotal.WithLabelValues("inactive").Inc()
		return nil, ErrAccountInactive
	}

	if !CheckPassword(in.Password, user.PasswordHash) {
		s.loginFailed(ctx, user.ID, in.Email, "invalid password", meta)
		return nil, ErrLoginFailed
	}

	if s.opts.RequireEmailVerification && !user.EmailVerified {
		s.metrics.LoginAttemptsTotal.WithLabelValues("unverified").Inc()
		return nil, ErrEmailNotVerified
	}

	pair, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, err
	}
	deviceInfo := in.DeviceInfo
	if deviceInfo == "" {
		deviceInfo = meta.UserAgent
	}
	if _, err := s.sessions.Create(ctx, user.ID, pair, deviceInfo, meta.IPAddress, meta.UserAgent); err != nil {
		return nil, err
	}

	lastLogin, err := s.users.TouchLastLogin(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	user.LastLoginAt = &lastLogin

	profile, err := s.profile(ctx, user)
	if err != nil {
		return nil, err
	}

	s.recorder.Record(ctx, audit.Entry{
		UserID:    user.ID,
		Action:    audit.ActionLogin,
		Resource:  ResourceAuth,
		NewValues: map[string]string{"email": user.Email, "deviceInfo": deviceInfo},
		Meta:      meta,
	})
	s.metrics.LoginAttemptsTotal.WithLabelValues("success").Inc()

	s.sweep(ctx)

	return &LoginResult{Token: pair.AccessToken, RefreshToken: pair.RefreshToken, User: profile}, nil
}

func (s *Service) loginFailed(ctx context.Context, userID, email, reason string, meta audit.Meta) {
	s.recorder.Record(ctx, audit.Entry{
		UserID:    userID,
		Action:    audit.ActionLoginFailed,
		Resource:  ResourceAuth,
		NewValues: map[string]string{"email": email, "reason": reason},
		Meta:      meta,
	})
	s.metrics.LoginAttemptsTotal.WithLabelValues("failed").Inc()
}

// sweep removes expired sessions; failures only get logged
func (s *Service) sweep(ctx context.Context) {
	n, err := s.sessions.SweepExpired(ctx)
	if err != nil {
		observability.FromContext(ctx).WithError(err).Warn("Failed to sweep expired sessions")
		return
	}
	s.metrics.SessionsSweptTotal.Add(float64(n))
}

// Refresh exchanges a refresh token for a new token pair and rotates the
// session. A refresh token can be exchanged once.
func (s *Service) Refresh(ctx context.Context, refreshToken string, meta audit.Meta) (*LoginResult, error) {
	if refreshToken == "" {
		return nil, apperr.Validation("refreshToken is required")
	}

	result, err := s.refresh(ctx, refreshToken, meta)
	outcome := "success"
	if err != nil {
		outcome = "rejected"
	}
	s.metrics.TokenRefreshesTotal.WithLabelValues(outcome).Inc()
	return result, err
}

func (s *Service) refresh(ctx context.Context, refreshToken string, meta audit.Meta) (*LoginResult, error) {
	claims, err := s.tokens.Verify(refreshToken, TokenTypeRefresh)
	if err != nil {
		return nil, err
	}

	session, err := s.sessions.FindByRefresh(ctx, claims.UserID, refreshToken)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrUserInactive
	}
	if err != nil {
		return nil, err
	}
	if user.Status != StatusActive {
		return nil, ErrUserInactive
	}

	pair, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, err
	}
	if _, err := s.sessions.Rotate(ctx, session.ID, refreshToken, pair); err != nil {
		return nil, err
	}

	profile, err := s.profile(ctx, user)
	if err != nil {
		return nil, err
	}

	s.recorder.Record(ctx, audit.Entry{
		UserID:     user.ID,
		Action:     audit.ActionTokenRefreshed,
		Resource:   ResourceAuth,
		ResourceID: session.ID,
		Meta:       meta,
	})

	return &LoginResult{Token: pair.AccessToken, RefreshToken: pair.RefreshToken, User: profile}, nil
}

// Authenticate resolves an access token into an identity. The token must
// verify, be bound to a live session and belong to an active user.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (*Identity, error) {
	claims, err := s.tokens.Verify(accessToken, TokenTypeAccess)
	if err != nil {
		return nil, err
	}

	session, err := s.sessions.Lookup(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	if session.UserID != claims.UserID {
		return nil, ErrInvalidToken
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrUserInactive
	}
	if err != nil {
		return nil, err
	}
	if user.Status != StatusActive {
		return nil, ErrUserInactive
	}

	grants, err := s.checker.Resolve(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	return &Identity{
		ID:          user.ID,
		Email:       user.Email,
		Username:    user.Username,
		Roles:       grants.Roles,
		Permissions: grants.Permissions,
	}, nil
}

// Logout revokes the session bound to the caller's access token
func (s *Service) Logout(ctx context.Context, identity *Identity, accessToken string, meta audit.Meta) error {
	if err := s.sessions.Revoke(ctx, accessToken); err != nil {
		return err
	}
	s.recorder.Record(ctx, audit.Entry{
		UserID:   identity.ID,
		Action:   audit.ActionLogout,
		Resource: ResourceAuth,
		Meta:     meta,
	})
	return nil
}

// LogoutAll revokes every session of the caller
func (s *Service) LogoutAll(ctx context.Context, identity *Identity, meta audit.Meta) (int64, error) {
	n, err := s.sessions.RevokeAll(ctx, identity.ID)
	if err != nil {
		return 0, err
	}
	s.recorder.Record(ctx, audit.Entry{
		UserID:    identity.ID,
		Action:    audit.ActionLogoutAll,
		Resource:  ResourceAuth,
		NewValues: map[string]int64{"revokedSessions": n},
		Meta:      meta,
	})
	return n, nil
}

// VerifyEmail marks the account named by a verification token as verified
func (s *Service) VerifyEmail(ctx context.Context, token string, meta audit.Meta) error {
	if token == "" {
		return apperr.Validation("token is required")
	}
	claims, err := s.tokens.Verify(token, TokenTypeVerify)
	if err != nil {
		return ErrInvalidVerification
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if errors.Is(err, ErrUserNotFound) {
		return ErrInvalidVerification
	}
	if err != nil {
		return err
	}
	if user.EmailVerified {
		return ErrAlreadyVerified
	}

	if err := s.users.MarkVerified(ctx, user.ID); err != nil {
		return err
	}
	s.recorder.Record(ctx, audit.Entry{
		UserID:   user.ID,
		Action:   audit.ActionEmailVerified,
		Resource: ResourceAuth,
		Meta:     meta,
	})
	return nil
}

// ResendVerification mails a fresh verification link to the caller
func (s *Service) ResendVerification(ctx context.Context, identity *Identity, meta audit.Meta) error {
	user, err := s.users.GetByID(ctx, identity.ID)
	if err != nil {
		return err
	}
	if user.EmailVerified {
		return ErrAlreadyVerified
	}

	if err := s.sendVerification(ctx, user); err != nil {
		return err
	}
	s.recorder.Record(ctx, audit.Entry{
		UserID:   user.ID,
		Action:   audit.ActionVerificationEmailResent,
		Resource: ResourceAuth,
		Meta:     meta,
	})
	return nil
}

// Me returns the caller's profile with roles and effective permissions
func (s *Service) Me(ctx context.Context, identity *Identity) (*Profile, error) {
	user, err := s.users.GetByID(ctx, identity.ID)
	if err != nil {
		return nil, err
	}
	return s.profile(ctx, user)
}

// UpdateProfile changes the caller's first and last name
func (s *Service) UpdateProfile(ctx context.Context, identity *Identity, in ProfileInput, meta audit.Meta) (*Profile, error) {
	var errs []error
	if in.FirstName != nil {
		errs = append(errs, validateName("firstName", *in.FirstName))
	}
	if in.LastName != nil {
		errs = append(errs, validateName("lastName", *in.LastName))
	}
	if err := collect(errs...); err != nil {
		return nil, err
	}

	before, after, err := s.users.UpdateProfile(ctx, identity.ID, in)
	if err != nil {
		return nil, err
	}

	s.recorder.Record(ctx, audit.Entry{
		UserID:     identity.ID,
		Action:     audit.ActionProfileUpdated,
		Resource:   ResourceUsers,
		ResourceID: identity.ID,
		OldValues:  map[string]string{"firstName": before.FirstName, "lastName": before.LastName},
		NewValues:  map[string]string{"firstName": after.FirstName, "lastName": after.LastName},
		Meta:       meta,
	})
	return s.profile(ctx, after)
}

// ListSessions returns the caller's live sessions
func (s *Service) ListSessions(ctx context.Context, identity *Identity, currentToken string) ([]SessionInfo, error) {
	return s.sessions.List(ctx, identity.ID, currentToken)
}

// RevokeSession ends one of the caller's sessions
func (s *Service) RevokeSession(ctx context.Context, identity *Identity, sessionID string, meta audit.Meta) error {
	if err := s.sessions.RevokeByID(ctx, identity.ID, sessionID); err != nil {
		return err
	}
	s.recorder.Record(ctx, audit.Entry{
		UserID:    identity.ID,
		Action:    audit.ActionSessionRevoked,
		Resource:  ResourceAuth,
		NewValues: map[string]string{"sessionId": sessionID},
		Meta:      meta,
	})
	return nil
}

func (s *Service) profile(ctx context.Context, user *User) (*Profile, error) {
	roles, err := s.roles.UserRoles(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	perms, err := s.roles.EffectivePermissions(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if perms == nil {
		perms = []rbac.Permission{}
	}
	return &Profile{
		ID:            user.ID,
		Email:         user.Email,
		Username:      user.Username,
		FirstName:     user.FirstName,
		LastName:      user.LastName,
		Status:        user.Status,
		EmailVerified: user.EmailVerified,
		LastLoginAt:   user.LastLoginAt,
		CreatedAt:     user.CreatedAt,
		Roles:         roles,
		Permissions:   perms,
	}, nil
}
