package users

import (
	"context"
	"errors"
	"strings"

	"github.com/platinummonkey/gatekeeper/pkg/apperr"
	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/auth"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/rbac"
)

// ResourceUserRoles is the audit resource of role assignments
const ResourceUserRoles = "user_roles"

// Summary is a user in a listing
type Summary struct {
	auth.User
	Roles []rbac.RoleSummary `json:"roles"`
}

// Detail is a single user with role assignment details
type Detail struct {
	auth.User
	Roles []rbac.Assignment `json:"roles"`
}

// Pagination describes a page of users
type Pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int64 `json:"totalPages"`
}

// Page is a page of users
type Page struct {
	Users      []Summary  `json:"users"`
	Pagination Pagination `json:"pagination"`
}

// CreateInput carries the fields of an administrator-created account
type CreateInput struct {
	Email     string   `json:"email"`
	Username  string   `json:"username"`
	Password  string   `json:"password"`
	FirstName string   `json:"firstName"`
	LastName  string   `json:"lastName"`
	RoleIDs   []string `json:"roleIds"`
}

// AssignmentInput names a user and a role
type AssignmentInput struct {
	UserID string `json:"userId"`
	RoleID string `json:"roleId"`
}

func (in AssignmentInput) validate() error {
	var fields []string
	if in.UserID == "" {
		fields = append(fields, "userId is required")
	}
	if in.RoleID == "" {
		fields = append(fields, "roleId is required")
	}
	if len(fields) > 0 {
		return apperr.Validation(fields...)
	}
	return nil
}

// Service administers user accounts
type Service struct {
	users    *auth.UserStore
	roles    *rbac.Store
	recorder *audit.Recorder
}

// NewService creates the user administration service
func NewService(users *auth.UserStore, roles *rbac.Store, recorder *audit.Recorder) *Service {
	return &Service{users: users, roles: roles, recorder: recorder}
}

// List returns a page of users with their role names
func (s *Service) List(ctx context.Context, f auth.UserFilter) (*Page, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, apperr.Validation("status must be one of active, inactive, suspended")
	}

	list, total, err := s.users.List(ctx, f)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(list))
	for i, u := range list {
		ids[i] = u.ID
	}
	roles, err := s.roles.RolesForUsers(ctx, ids)
	if err != nil {
		return nil, err
	}

	page := &Page{Users: make([]Summary, 0, len(list))}
	for _, u := range list {
		r := roles[u.ID]
		if r == nil {
			r = []rbac.RoleSummary{}
		}
		page.Users = append(page.Users, Summary{User: u, Roles: r})
	}

	limit := f.Limit
	if limit <= 0 {
		limit = auth.DefaultUserLimit
	}
	if limit > auth.MaxUserLimit {
		limit = auth.MaxUserLimit
	}
	pageNum := f.Page
	if pageNum < 1 {
		pageNum = 1
	}
	page.Pagination = Pagination{
		Page:       pageNum,
		Limit:      limit,
		Total:      total,
		TotalPages: (total + int64(limit) - 1) / int64(limit),
	}
	return page, nil
}

// Get returns a user with role assignment details
func (s *Service) Get(ctx context.Context, id string) (*Detail, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	assignments, err := s.roles.Assignments(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Detail{User: *user, Roles: assignments}, nil
}

// Create adds an account on behalf of an administrator and grants the
// requested roles. Administrator-created accounts start verified.
func (s *Service) Create(ctx context.Context, actor *auth.Identity, in CreateInput, meta audit.Meta) (*auth.User, error) {
	in.Email = strings.TrimSpace(in.Email)
	in.Username = strings.TrimSpace(in.Username)

	var fields []string
	for _, err := range []error{
		auth.ValidateEmail(in.Email),
		auth.ValidateUsername(in.Username),
		auth.ValidatePassword(in.Password),
	} {
		if err != nil {
			fields = append(fields, err.Error())
		}
	}
	if len(fields) > 0 {
		return nil, apperr.Validation(fields...)
	}

	for _, roleID := range in.RoleIDs {
		if _, err := s.roles.GetRole(ctx, roleID); err != nil {
			return nil, err
		}
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	user := &auth.User{
		Email:         in.Email,
		Username:      in.Username,
		PasswordHash:  hash,
		FirstName:     in.FirstName,
		LastName:      in.LastName,
		Status:        auth.StatusActive,
		EmailVerified: true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	for _, roleID := range in.RoleIDs {
		if _, err := s.roles.AssignRole(ctx, user.ID, roleID, actor.ID); err != nil && !errors.Is(err, rbac.ErrAlreadyAssigned) {
			// The account is removed again so a failed create leaves nothing behind
			if _, derr := s.users.Delete(context.WithoutCancel(ctx), user.ID); derr != nil {
				observability.FromContext(ctx).WithError(derr).
					WithField("user_id", user.ID).
					Error("Failed to remove partially created user")
			}
			return nil, err
		}
	}

	roleIDs := in.RoleIDs
	if roleIDs == nil {
		roleIDs = []string{}
	}
	s.recorder.Record(ctx, audit.Entry{
		UserID:     actor.ID,
		Action:     audit.ActionCreated,
		Resource:   auth.ResourceUsers,
		ResourceID: user.ID,
		NewValues: map[string]interface{}{
			"email":     user.Email,
			"username":  user.Username,
			"firstName": user.FirstName,
			"lastName":  user.LastName,
			"roleIds":   roleIDs,
		},
		Meta: meta,
	})
	return user, nil
}

// Update applies an allow-listed change to a user
func (s *Service) Update(ctx context.Context, actor *auth.Identity, id string, in auth.UserUpdate, meta audit.Meta) (*auth.User, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	before, after, err := s.users.Update(ctx, id, in)
	if err != nil {
		return nil, err
	}

	s.recorder.Record(ctx, audit.Entry{
		UserID:     actor.ID,
		Action:     audit.ActionUpdated,
		Resource:   auth.ResourceUsers,
		ResourceID: id,
		OldValues:  before,
		NewValues:  in,
		Meta:       meta,
	})
	return after, nil
}

// Delete removes a user. Callers cannot delete themselves.
func (s *Service) Delete(ctx context.Context, actor *auth.Identity, id string, meta audit.Meta) error {
	if id == actor.ID {
		return auth.ErrSelfDelete
	}

	user, err := s.users.Delete(ctx, id)
	if err != nil {
		return err
	}

	s.recorder.Record(ctx, audit.Entry{
		UserID:     actor.ID,
		Action:     audit.ActionDeleted,
		Resource:   auth.ResourceUsers,
		ResourceID: id,
		OldValues:  user,
		Meta:       meta,
	})
	return nil
}

// AssignRole grants a role to a user
func (s *Service) AssignRole(ctx context.Context, actor *auth.Identity, in AssignmentInput, meta audit.Meta) (*rbac.UserRole, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	ur, err := s.roles.AssignRole(ctx, in.UserID, in.RoleID, actor.ID)
	if err != nil {
		return nil, err
	}

	s.recorder.Record(ctx, audit.Entry{
		UserID:     actor.ID,
		Action:     audit.ActionAssignedRole,
		Resource:   ResourceUserRoles,
		ResourceID: ur.ID,
		NewValues:  in,
		Meta:       meta,
	})
	return ur, nil
}

// RevokeRole removes a role from a user
func (s *Service) RevokeRole(ctx context.Context, actor *auth.Identity, in AssignmentInput, meta audit.Meta) error {
	if err := in.validate(); err != nil {
		return err
	}

	ur, err := s.roles.RevokeRole(ctx, in.UserID, in.RoleID)
	if err != nil {
		return err
	}

	s.recorder.Record(ctx, audit.Entry{
		UserID:     actor.ID,
		Action:     audit.ActionRevokedRole,
		Resource:   ResourceUserRoles,
		ResourceID: ur.ID,
		OldValues:  in,
		Meta:       meta,
	})
	return nil
}
