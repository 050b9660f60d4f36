package httpapi

import (
	"net/http"
	"strings"

	"lernia.org/internal/access"
	"lernia.org/internal/audit"
	"lernia.org/internal/auth"
	"lernia.org/internal/obs"
)

type createRightRequest struct {
	Name                string `json:"name"`
	Description         string `json:"description"`
	Sensitive           bool   `json:"sensitive"`
	SensitivityCategory string `json:"sensitivity_category"`
}

type createRoleRequest struct {
	Name         string   `json:"name"`
	DisplayName  string   `json:"display_name"`
	Description  string   `json:"description"`
	UserType     string   `json:"user_type"`
	AccessRights []string `json:"access_rights"`
	Level        int      `json:"level"`
}

type updateRoleRequest struct {
	DisplayName *string `json:"display_name"`
	Description *string `json:"description"`
	Level       *int    `json:"level"`
}

type replaceRightsRequest struct {
	AccessRights []string `json:"access_rights"`
}

type membershipRequest struct {
	UserID       string   `json:"user_id"`
	UserType     string   `json:"user_type"`
	DepartmentID string   `json:"department_id"`
	Roles        []string `json:"roles,omitempty"`
}

func (a *API) handleRightsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listRights(w, r)
	case http.MethodPost:
		a.requireAdminSession(w, r, a.createRight)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleRightResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/access-rights/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if domain, ok := strings.CutPrefix(path, "domain/"); ok {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.getRightsByDomain(w, r, domain)
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.getRight(w, r, path)
	case http.MethodDelete:
		a.requireAdminSession(w, r, func(w http.ResponseWriter, r *http.Request) {
			a.deactivateRight(w, r, path)
		})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}

func (a *API) listRights(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parsePositiveInt(q.Get("limit"), 50, 1, 500)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "limit must be between 1 and 500")
		return
	}
	offset, err := parsePositiveInt(q.Get("offset"), 0, 0, 1<<30)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "offset must be >= 0")
		return
	}
	sensitive, err := parseBoolParam(q.Get("sensitive"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "sensitive must be true or false")
		return
	}
	includeInactive, err := parseBoolParam(q.Get("include_inactive"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "include_inactive must be true or false")
		return
	}

	filter := access.RightFilter{
		Sensitive: sensitive,
		Limit:     limit,
		Offset:    offset,
	}
	if includeInactive != nil {
		filter.IncludeInactive = *includeInactive
	}
	if raw := strings.TrimSpace(q.Get("domain")); raw != "" {
		domain, err := access.ParseDomain(raw)
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		filter.Domain = domain
	}

	page, err := a.catalog.List(r.Context(), filter)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (a *API) createRight(w http.ResponseWriter, r *http.Request) {
	var req createRightRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	right, err := a.catalog.CreateRight(r.Context(), access.AccessRight{
		Name:                req.Name,
		Description:         req.Description,
		Sensitive:           req.Sensitive,
		SensitivityCategory: req.SensitivityCategory,
	})
	if err != nil {
		handleAccessError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "access.right.create", map[string]any{
		"name":      right.Name,
		"domain":    string(right.Domain),
		"sensitive": right.Sensitive,
	})
	w.Header().Set("Location", "/v1/access-rights/"+right.Name)
	writeJSON(w, http.StatusCreated, right)
}

func (a *API) getRight(w http.ResponseWriter, r *http.Request, name string) {
	right, err := a.catalog.Get(r.Context(), name)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, right)
}

func (a *API) getRightsByDomain(w http.ResponseWriter, r *http.Request, domain string) {
	rights, err := a.catalog.GetByDomain(r.Context(), domain)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"domain": domain,
		"rights": rights,
	})
}

func (a *API) deactivateRight(w http.ResponseWriter, r *http.Request, name string) {
	if err := a.catalog.Deactivate(r.Context(), name); err != nil {
		handleAccessError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "access.right.deactivate", map[string]any{"name": name})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRolesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listRoles(w, r)
	case http.MethodPost:
		a.requireAdminSession(w, r, a.createRole)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleRoleResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/roles/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if name, ok := strings.CutSuffix(path, "/access-rights"); ok {
		switch r.Method {
		case http.MethodGet:
			a.getRoleRights(w, r, name)
		case http.MethodPut:
			a.requireAdminSession(w, r, func(w http.ResponseWriter, r *http.Request) {
				a.replaceRoleRights(w, r, name)
			})
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
		}
		return
	}
	if strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.getRole(w, r, path)
	case http.MethodPatch:
		a.requireAdminSession(w, r, func(w http.ResponseWriter, r *http.Request) {
			a.updateRole(w, r, path)
		})
	case http.MethodDelete:
		a.requireAdminSession(w, r, func(w http.ResponseWriter, r *http.Request) {
			a.deleteRole(w, r, path)
		})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) listRoles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	includeInactive, err := parseBoolParam(q.Get("include_inactive"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "include_inactive must be true or false")
		return
	}
	withInactive := includeInactive != nil && *includeInactive

	var roles []access.RoleDefinition
	if rawType := strings.TrimSpace(q.Get("user_type")); rawType != "" {
		roles, err = a.registry.FindByUserType(r.Context(), rawType, withInactive)
	} else {
		roles, err = a.registry.List(r.Context(), withInactive)
	}
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (a *API) createRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	userType, err := access.ParseUserType(req.UserType)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	role, err := a.registry.Create(r.Context(), access.RoleDefinition{
		Name:         req.Name,
		DisplayName:  req.DisplayName,
		Description:  req.Description,
		UserType:     userType,
		AccessRights: req.AccessRights,
		Level:        req.Level,
	})
	if err != nil {
		handleAccessError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "access.role.create", map[string]any{
		"name":      role.Name,
		"user_type": string(role.UserType),
		"level":     role.Level,
	})
	w.Header().Set("Location", "/v1/roles/"+role.Name)
	writeJSON(w, http.StatusCreated, role)
}

func (a *API) getRole(w http.ResponseWriter, r *http.Request, name string) {
	role, err := a.registry.FindByName(r.Context(), name)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (a *API) updateRole(w http.ResponseWriter, r *http.Request, name string) {
	var req updateRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := a.registry.Update(r.Context(), name, access.RoleUpdate{
		DisplayName: req.DisplayName,
		Description: req.Description,
		Level:       req.Level,
	})
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "access.role.update", map[string]any{"name": name})
	writeJSON(w, http.StatusOK, role)
}

// getRoleRights returns the role's raw entries, or the expanded catalog
// rights when ?expand=true.
func (a *API) getRoleRights(w http.ResponseWriter, r *http.Request, name string) {
	expand, err := parseBoolParam(r.URL.Query().Get("expand"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "expand must be true or false")
		return
	}
	role, err := a.registry.FindByName(r.Context(), name)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	rights := role.AccessRights
	if expand != nil && *expand {
		rights, err = a.resolver.ExpandWildcards(r.Context(), role.AccessRights)
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"role":          role.Name,
		"access_rights": rights,
	})
}

func (a *API) replaceRoleRights(w http.ResponseWriter, r *http.Request, name string) {
	var req replaceRightsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := a.registry.UpdateAccessRights(r.Context(), name, req.AccessRights)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "access.role.rights_replace", map[string]any{
		"name":   name,
		"rights": len(role.AccessRights),
	})
	writeJSON(w, http.StatusOK, role)
}

func (a *API) deleteRole(w http.ResponseWriter, r *http.Request, name string) {
	reassignTo := strings.TrimSpace(r.URL.Query().Get("reassign_to"))
	if err := a.registry.Delete(r.Context(), name, reassignTo); err != nil {
		handleAccessError(w, r, err)
		return
	}
	fields := map[string]any{"name": name}
	if reassignTo != "" {
		fields["reassigned_to"] = reassignTo
	}
	_ = audit.LogEvent(r.Context(), "access.role.delete", fields)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleMemberships(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.requireAdminSession(w, r, a.assignMembership)
	case http.MethodDelete:
		a.requireAdminSession(w, r, a.deactivateMembership)
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodDelete)
	}
}

func (a *API) assignMembership(w http.ResponseWriter, r *http.Request) {
	var req membershipRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	userType, err := access.ParseUserType(req.UserType)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	m, err := a.registry.AssignMembership(r.Context(), access.Membership{
		UserID:       strings.TrimSpace(req.UserID),
		UserType:     userType,
		DepartmentID: strings.TrimSpace(req.DepartmentID),
		Roles:        req.Roles,
	})
	if err != nil {
		handleAccessError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "access.membership.assign", map[string]any{
		"user_id":       m.UserID,
		"user_type":     string(m.UserType),
		"department_id": m.DepartmentID,
		"roles":         m.Roles,
	})
	writeJSON(w, http.StatusCreated, m)
}

func (a *API) deactivateMembership(w http.ResponseWriter, r *http.Request) {
	var req membershipRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.registry.DeactivateMembership(r.Context(), strings.TrimSpace(req.UserID), req.UserType, strings.TrimSpace(req.DepartmentID)); err != nil {
		handleAccessError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "access.membership.deactivate", map[string]any{
		"user_id":       req.UserID,
		"user_type":     req.UserType,
		"department_id": req.DepartmentID,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/v1/users/")
	userID, view, ok := strings.Cut(rest, "/")
	if !ok || userID == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch view {
	case "memberships":
		a.getUserMemberships(w, r, userID)
	case "permissions":
		a.getUserPermissions(w, r, userID)
	case "roles":
		a.getUserRoles(w, r, userID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) getUserMemberships(w http.ResponseWriter, r *http.Request, userID string) {
	grouped, err := a.resolver.AllRolesForUser(r.Context(), userID)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":     userID,
		"memberships": grouped,
	})
}

func (a *API) getUserPermissions(w http.ResponseWriter, r *http.Request, userID string) {
	departmentID := strings.TrimSpace(r.URL.Query().Get("department_id"))
	set, err := a.resolver.UserPermissions(r.Context(), userID, departmentID)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":     userID,
		"permissions": set,
	})
}

func (a *API) getUserRoles(w http.ResponseWriter, r *http.Request, userID string) {
	q := r.URL.Query()
	departmentID := strings.TrimSpace(q.Get("department_id"))
	if departmentID == "" {
		writeError(w, r, http.StatusBadRequest, "department_id query parameter is required")
		return
	}
	roles, err := a.resolver.RolesForDepartment(r.Context(), userID, departmentID, q.Get("user_type"))
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":       userID,
		"department_id": departmentID,
		"roles":         roles,
	})
}

// handleMeResource is the caller's own view: the same data as the
// /v1/users endpoints, resolved from the bearer token instead of a
// path parameter.
func (a *API) handleMeResource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	caller, ok := callerID(w, r)
	if !ok {
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/v1/me/")
	switch rest {
	case "roles":
		a.getUserMemberships(w, r, caller)
		return
	case "permissions":
		a.getUserPermissions(w, r, caller)
		return
	}
	if departmentID, ok := strings.CutPrefix(rest, "roles/"); ok &&
		departmentID != "" && !strings.Contains(departmentID, "/") {
		userType, _ := auth.UserTypeFromContext(r.Context())
		roles, err := a.resolver.RolesForDepartment(r.Context(), caller, departmentID, userType)
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"department_id": departmentID,
			"roles":         roles,
		})
		return
	}
	writeError(w, r, http.StatusNotFound, "resource not found")
}

type permissionCheckRequest struct {
	UserID       string   `json:"user_id,omitempty"`
	Permission   string   `json:"permission,omitempty"`
	Permissions  []string `json:"permissions,omitempty"`
	RequireAll   bool     `json:"require_all,omitempty"`
	DepartmentID string   `json:"department_id,omitempty"`
	ResourceID   string   `json:"resource_id,omitempty"`
}

func (a *API) handlePermissionCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	caller, ok := callerID(w, r)
	if !ok {
		return
	}

	var req permissionCheckRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = caller
	}

	decision, err := a.resolver.Check(r.Context(), userID, access.CheckRequest{
		Permission:   req.Permission,
		Permissions:  req.Permissions,
		RequireAll:   req.RequireAll,
		DepartmentID: req.DepartmentID,
		ResourceID:   req.ResourceID,
	})
	if err != nil {
		handleAccessError(w, r, err)
		return
	}

	obs.CountPermissionCheck(decision.Allowed)
	writeJSON(w, http.StatusOK, decision)
}
