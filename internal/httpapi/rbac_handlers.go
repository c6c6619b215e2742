package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"vendra.io/internal/activity"
	"vendra.io/internal/rbac"
)

type assignRoleRequest struct {
	Role string `json:"role"`
}

type roleActiveRequest struct {
	Active *bool `json:"active"`
}

// handleRoles serves GET /v1/roles. The role:read guard sits in the route
// table.
func (a *API) handleRoles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	roles, err := a.auth.ListRoles(r.Context())
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondData(w, http.StatusOK, map[string]any{"roles": roles})
}

// handlePermissions serves GET /v1/permissions.
func (a *API) handlePermissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	permissions, err := a.auth.ListPermissions(r.Context())
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondData(w, http.StatusOK, map[string]any{"permissions": permissions})
}

// handleRoleResource serves PATCH /v1/roles/{name}/active. Deactivation takes
// effect on the holders' next request because every request re-resolves roles.
func (a *API) handleRoleResource(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/roles/"), "/")
	name, found := strings.CutSuffix(rest, "/active")
	if !found || name == "" || strings.Contains(name, "/") {
		respondError(w, r, http.StatusNotFound, "resource not found", nil)
		return
	}
	if r.Method != http.MethodPatch {
		methodNotAllowed(w, r, http.MethodPatch)
		return
	}
	principal, ok := requireGuard(w, r, rbac.ResourceRole, rbac.ActionUpdate)
	if !ok {
		return
	}
	var req roleActiveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if req.Active == nil {
		respondError(w, r, http.StatusBadRequest, "active is required", nil)
		return
	}
	role, err := a.auth.SetRoleActive(r.Context(), name, *req.Active)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	state := "deactivated"
	if role.Active {
		state = "activated"
	}
	a.recorder.RecordRBAC(r.Context(), activity.Event{
		Actor:       principal.User.ID,
		Action:      activity.ActionUpdate,
		ResourceID:  role.ID,
		Description: "role " + role.Name + " " + state,
		Origin:      origin(r),
		After:       mustJSON(map[string]any{"role": role.Name, "active": role.Active}),
	})
	respondData(w, http.StatusOK, role)
}

// handleUserResource serves role membership:
//
//	GET    /v1/users/{id}/roles
//	POST   /v1/users/{id}/roles
//	DELETE /v1/users/{id}/roles/{name}
func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/users/"), "/")
	parts := strings.Split(rest, "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] != "roles" {
		respondError(w, r, http.StatusNotFound, "resource not found", nil)
		return
	}
	userID := parts[0]

	switch {
	case len(parts) == 2 && r.Method == http.MethodGet:
		a.listUserRoles(w, r, userID)
	case len(parts) == 2 && r.Method == http.MethodPost:
		a.assignUserRole(w, r, userID)
	case len(parts) == 3 && parts[2] != "" && r.Method == http.MethodDelete:
		a.revokeUserRole(w, r, userID, parts[2])
	case len(parts) == 2:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	case len(parts) == 3:
		methodNotAllowed(w, r, http.MethodDelete)
	default:
		respondError(w, r, http.StatusNotFound, "resource not found", nil)
	}
}

func (a *API) listUserRoles(w http.ResponseWriter, r *http.Request, userID string) {
	if _, ok := requireGuard(w, r, rbac.ResourceRole, rbac.ActionRead); !ok {
		return
	}
	principal, err := a.auth.Principal(r.Context(), userID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondData(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"roles":   principal.Roles,
	})
}

func (a *API) assignUserRole(w http.ResponseWriter, r *http.Request, userID string) {
	principal, ok := requireGuard(w, r, rbac.ResourceRole, rbac.ActionUpdate)
	if !ok {
		return
	}
	var req assignRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error(), nil)
		return
	}
	role, err := a.auth.AssignRoleByName(r.Context(), userID, req.Role)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	a.recorder.RecordRBAC(r.Context(), activity.Event{
		Actor:       principal.User.ID,
		Action:      activity.ActionAssignRole,
		ResourceID:  userID,
		Description: "role " + role.Name + " assigned to user " + userID,
		Origin:      origin(r),
		After:       mustJSON(map[string]any{"user_id": userID, "role": role.Name}),
	})
	respondData(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"role":    role,
	})
}

func (a *API) revokeUserRole(w http.ResponseWriter, r *http.Request, userID, roleName string) {
	principal, ok := requireGuard(w, r, rbac.ResourceRole, rbac.ActionUpdate)
	if !ok {
		return
	}
	role, err := a.auth.RevokeRoleByName(r.Context(), userID, roleName)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	a.recorder.RecordRBAC(r.Context(), activity.Event{
		Actor:       principal.User.ID,
		Action:      activity.ActionRevokeRole,
		ResourceID:  userID,
		Description: "role " + role.Name + " revoked from user " + userID,
		Origin:      origin(r),
		Before:      mustJSON(map[string]any{"user_id": userID, "role": role.Name}),
	})
	respondData(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"role":    role,
	})
}

func mustJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}
