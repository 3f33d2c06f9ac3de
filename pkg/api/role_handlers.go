package api

import (
	"net/http"
	"sort"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/httputil"
	"github.com/platinummonkey/gatekeeper/pkg/rbac"
)

// RoleHandlers handles role and permission catalogue HTTP requests
type RoleHandlers struct {
	roles    *rbac.Store
	recorder *audit.Recorder
}

// NewRoleHandlers creates a new role handlers instance
func NewRoleHandlers(roles *rbac.Store, recorder *audit.Recorder) *RoleHandlers {
	return &RoleHandlers{roles: roles, recorder: recorder}
}

// RegisterRoutes registers role and permission routes
func (h *RoleHandlers) RegisterRoutes(router *mux.Router, s *Server) {
	router.Handle("/roles", s.allowed(ResourceRoles, rbac.ActionRead,
		http.HandlerFunc(h.listRoles))).Methods("GET")
	router.Handle("/roles", s.allowed(ResourceRoles, rbac.ActionCreate,
		audit.Audited(h.recorder, ResourceRoles, audit.ActionCreate, h.createRole))).Methods("POST")
	router.Handle("/roles/{id}", s.allowed(ResourceRoles, rbac.ActionRead,
		http.HandlerFunc(h.getRole))).Methods("GET")
	router.Handle("/roles/{id}", s.allowed(ResourceRoles, rbac.ActionUpdate,
		audit.Audited(h.recorder, ResourceRoles, audit.ActionUpdate, h.updateRole))).Methods("PUT")
	router.Handle("/roles/{id}", s.allowed(ResourceRoles, rbac.ActionDelete,
		audit.Audited(h.recorder, ResourceRoles, audit.ActionDelete, h.deleteRole))).Methods("DELETE")
	router.Handle("/roles/{id}/permissions", s.allowed(ResourceRoles, rbac.ActionUpdate,
		audit.Audited(h.recorder, ResourceRoles, audit.ActionUpdate, h.setPermissions))).Methods("PUT")

	router.Handle("/permissions", s.allowed(ResourcePermissions, rbac.ActionRead,
		http.HandlerFunc(h.listPermissions))).Methods("GET")
	router.Handle("/permissions/{id}", s.allowed(ResourcePermissions, rbac.ActionRead,
		http.HandlerFunc(h.getPermission))).Methods("GET")
}

// RolesResponse lists every role
type RolesResponse struct {
	Roles []rbac.Role `json:"roles"`
}

// listRoles handles GET /api/roles
func (h *RoleHandlers) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.roles.ListRoles(r.Context())
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, RolesResponse{Roles: roles})
}

// getRole handles GET /api/roles/{id}
func (h *RoleHandlers) getRole(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.PathVar(r, "id")
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}

	role, err := h.roles.GetRole(r.Context(), id)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, role)
}

// createRole handles POST /api/roles
func (h *RoleHandlers) createRole(r *http.Request) (int, interface{}, error) {
	var req rbac.RoleInput
	if err := httputil.ParseJSON(r, &req); err != nil {
		return 0, nil, err
	}

	role, err := h.roles.CreateRole(r.Context(), req)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, role, nil
}

// updateRole handles PUT /api/roles/{id}
func (h *RoleHandlers) updateRole(r *http.Request) (int, interface{}, error) {
	id, err := httputil.PathVar(r, "id")
	if err != nil {
		return 0, nil, err
	}

	var req rbac.RoleInput
	if err := httputil.ParseJSON(r, &req); err != nil {
		return 0, nil, err
	}

	before, role, err := h.roles.UpdateRole(r.Context(), id, req)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, audit.Change{Old: before, New: role}, nil
}

// PermissionIDsRequest replaces a role's grants
type PermissionIDsRequest struct {
	PermissionIDs []string `json:"permissionIds"`
}

// setPermissions handles PUT /api/roles/{id}/permissions
func (h *RoleHandlers) setPermissions(r *http.Request) (int, interface{}, error) {
	id, err := httputil.PathVar(r, "id")
	if err != nil {
		return 0, nil, err
	}

	var req PermissionIDsRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		return 0, nil, err
	}
	if req.PermissionIDs == nil {
		req.PermissionIDs = []string{}
	}

	before, role, err := h.roles.SetPermissions(r.Context(), id, req.PermissionIDs)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, audit.Change{Old: before, New: role}, nil
}

// DeletedResponse confirms a deletion
type DeletedResponse struct {
	Message string `json:"message"`
	ID      string `json:"id"`
}

// deleteRole handles DELETE /api/roles/{id}
func (h *RoleHandlers) deleteRole(r *http.Request) (int, interface{}, error) {
	id, err := httputil.PathVar(r, "id")
	if err != nil {
		return 0, nil, err
	}

	role, err := h.roles.DeleteRole(r.Context(), id)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, audit.Change{
		Old: role,
		New: DeletedResponse{Message: "role " + role.Name + " deleted", ID: role.ID},
	}, nil
}

// PermissionGroup is the permissions of one resource
type PermissionGroup struct {
	Resource    string                  `json:"resource"`
	Permissions []rbac.PermissionRecord `json:"permissions"`
}

// PermissionsResponse lists the permission catalogue, flat and by resource
type PermissionsResponse struct {
	Permissions []rbac.PermissionRecord `json:"permissions"`
	Grouped     []PermissionGroup       `json:"grouped"`
}

// groupByResource groups records by resource, ordered by resource name
func groupByResource(records []rbac.PermissionRecord) []PermissionGroup {
	index := make(map[string]int)
	var groups []PermissionGroup
	for _, p := range records {
		i, ok := index[p.Resource]
		if !ok {
			i = len(groups)
			index[p.Resource] = i
			groups = append(groups, PermissionGroup{Resource: p.Resource})
		}
		groups[i].Permissions = append(groups[i].Permissions, p)
	}
	sort.Slice(groups, func(a, b int) bool { return groups[a].Resource < groups[b].Resource })
	return groups
}

// listPermissions handles GET /api/permissions
func (h *RoleHandlers) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.roles.ListPermissions(r.Context())
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, PermissionsResponse{Permissions: perms, Grouped: groupByResource(perms)})
}

// getPermission handles GET /api/permissions/{id}
func (h *RoleHandlers) getPermission(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.PathVar(r, "id")
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}

	perm, err := h.roles.GetPermission(r.Context(), id)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, perm)
}
