package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/auth"
	"github.com/platinummonkey/gatekeeper/pkg/httputil"
	"github.com/platinummonkey/gatekeeper/pkg/rbac"
	"github.com/platinummonkey/gatekeeper/pkg/users"
)

// UserHandlers handles user administration HTTP requests
type UserHandlers struct {
	users *users.Service
}

// NewUserHandlers creates a new user handlers instance
func NewUserHandlers(svc *users.Service) *UserHandlers {
	return &UserHandlers{users: svc}
}

// RegisterRoutes registers user administration routes
func (h *UserHandlers) RegisterRoutes(router *mux.Router, s *Server) {
	router.Handle("/users/assign-role", s.allowed(ResourceUsers, rbac.ActionUpdate,
		http.HandlerFunc(h.assignRole))).Methods("POST")
	router.Handle("/users/revoke-role", s.allowed(ResourceUsers, rbac.ActionUpdate,
		http.HandlerFunc(h.revokeRole))).Methods("POST")

	router.Handle("/users", s.allowed(ResourceUsers, rbac.ActionRead,
		http.HandlerFunc(h.listUsers))).Methods("GET")
	router.Handle("/users", s.allowed(ResourceUsers, rbac.ActionCreate,
		http.HandlerFunc(h.createUser))).Methods("POST")
	router.Handle("/users/{id}", s.allowed(ResourceUsers, rbac.ActionRead,
		http.HandlerFunc(h.getUser))).Methods("GET")
	router.Handle("/users/{id}", s.allowed(ResourceUsers, rbac.ActionUpdate,
		http.HandlerFunc(h.updateUser))).Methods("PUT")
	router.Handle("/users/{id}", s.allowed(ResourceUsers, rbac.ActionDelete,
		http.HandlerFunc(h.deleteUser))).Methods("DELETE")
}

// listUsers handles GET /api/users?page=&limit=&status=&search=
func (h *UserHandlers) listUsers(w http.ResponseWriter, r *http.Request) {
	page, err := httputil.ParseQueryInt(r, "page", 1)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	limit, err := httputil.ParseQueryInt(r, "limit", auth.DefaultUserLimit)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}

	result, err := h.users.List(r.Context(), auth.UserFilter{
		Status: auth.Status(httputil.ParseQueryString(r, "status", "")),
		Search: httputil.ParseQueryString(r, "search", ""),
		Page:   page,
		Limit:  limit,
	})
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, result)
}

// getUser handles GET /api/users/{id}
func (h *UserHandlers) getUser(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.PathVar(r, "id")
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}

	user, err := h.users.Get(r.Context(), id)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, user)
}

// createUser handles POST /api/users
func (h *UserHandlers) createUser(w http.ResponseWriter, r *http.Request) {
	var req users.CreateInput
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	user, err := h.users.Create(r.Context(), identity(r), req, audit.MetaFromRequest(r))
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteCreated(w, user)
}

// updateUser handles PUT /api/users/{id}
func (h *UserHandlers) updateUser(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.PathVar(r, "id")
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}

	var req auth.UserUpdate
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	user, err := h.users.Update(r.Context(), identity(r), id, req, audit.MetaFromRequest(r))
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, user)
}

// deleteUser handles DELETE /api/users/{id}
func (h *UserHandlers) deleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.PathVar(r, "id")
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}

	if err := h.users.Delete(r.Context(), identity(r), id, audit.MetaFromRequest(r)); err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, DeletedResponse{Message: "user deleted", ID: id})
}

// assignRole handles POST /api/users/assign-role
func (h *UserHandlers) assignRole(w http.ResponseWriter, r *http.Request) {
	var req users.AssignmentInput
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	assignment, err := h.users.AssignRole(r.Context(), identity(r), req, audit.MetaFromRequest(r))
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteCreated(w, assignment)
}

// revokeRole handles POST /api/users/revoke-role
func (h *UserHandlers) revokeRole(w http.ResponseWriter, r *http.Request) {
	var req users.AssignmentInput
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := h.users.RevokeRole(r.Context(), identity(r), req, audit.MetaFromRequest(r)); err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteMessage(w, "role revoked")
}
