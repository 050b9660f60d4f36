package httpapi

import (
	"net/http"
	"strings"

	"lernia.org/internal/audit"
	"lernia.org/internal/department"
)

type createDepartmentRequest struct {
	Name      string `json:"name"`
	Code      string `json:"code"`
	ParentID  string `json:"parent_id"`
	IsVisible bool   `json:"is_visible"`
}

type updateDepartmentRequest struct {
	Name      *string `json:"name"`
	IsVisible *bool   `json:"is_visible"`
}

type reparentRequest struct {
	NewParentID string `json:"new_parent_id"`
}

type switchRequest struct {
	DepartmentID string `json:"department_id"`
}

func (a *API) handleDepartmentsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listDepartments(w, r)
	case http.MethodPost:
		a.requireAdminSession(w, r, a.createDepartment)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleDepartmentResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/departments/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if id, ok := strings.CutSuffix(path, "/children"); ok {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.listChildren(w, r, id)
		return
	}
	if id, ok := strings.CutSuffix(path, "/reparent"); ok {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.requireAdminSession(w, r, func(w http.ResponseWriter, r *http.Request) {
			a.reparentDepartment(w, r, id)
		})
		return
	}
	if strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodPatch:
		a.requireAdminSession(w, r, func(w http.ResponseWriter, r *http.Request) {
			a.updateDepartment(w, r, path)
		})
	case http.MethodDelete:
		a.requireAdminSession(w, r, func(w http.ResponseWriter, r *http.Request) {
			a.deleteDepartment(w, r, path)
		})
	default:
		methodNotAllowed(w, r, http.MethodPatch, http.MethodDelete)
	}
}

// listDepartments returns the tree as visible to the caller, parents
// before children.
func (a *API) listDepartments(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerID(w, r)
	if !ok {
		return
	}
	departments, err := a.gate.AccessibleDepartments(r.Context(), caller)
	if err != nil {
		handleDepartmentError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"departments": departments})
}

func (a *API) createDepartment(w http.ResponseWriter, r *http.Request) {
	var req createDepartmentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	d, err := a.departments.Create(r.Context(),
		strings.TrimSpace(req.Name), strings.TrimSpace(req.Code), strings.TrimSpace(req.ParentID), req.IsVisible)
	if err != nil {
		handleDepartmentError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "department.create", map[string]any{
		"id":        d.ID,
		"code":      d.Code,
		"parent_id": d.ParentID,
		"visible":   d.IsVisible,
	})
	w.Header().Set("Location", "/v1/departments/"+d.ID)
	writeJSON(w, http.StatusCreated, d)
}

func (a *API) listChildren(w http.ResponseWriter, r *http.Request, id string) {
	caller, ok := callerID(w, r)
	if !ok {
		return
	}
	children, err := a.gate.ChildDepartments(r.Context(), caller, id)
	if err != nil {
		handleDepartmentError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"department_id": id,
		"children":      children,
	})
}

func (a *API) updateDepartment(w http.ResponseWriter, r *http.Request, id string) {
	var req updateDepartmentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	d, err := a.departments.Update(r.Context(), id, department.DepartmentUpdate{
		Name:      req.Name,
		IsVisible: req.IsVisible,
	})
	if err != nil {
		handleDepartmentError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "department.update", map[string]any{"id": id})
	writeJSON(w, http.StatusOK, d)
}

func (a *API) reparentDepartment(w http.ResponseWriter, r *http.Request, id string) {
	var req reparentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	d, err := a.departments.Reparent(r.Context(), id, strings.TrimSpace(req.NewParentID))
	if err != nil {
		handleDepartmentError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "department.reparent", map[string]any{
		"id":            id,
		"new_parent_id": d.ParentID,
		"depth":         d.Depth,
	})
	writeJSON(w, http.StatusOK, d)
}

func (a *API) deleteDepartment(w http.ResponseWriter, r *http.Request, id string) {
	if err := a.departments.Delete(r.Context(), id); err != nil {
		handleDepartmentError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "department.delete", map[string]any{"id": id})
	w.WriteHeader(http.StatusNoContent)
}

// handleDepartmentSwitch changes the caller's current department after
// the visibility gate signs off.
func (a *API) handleDepartmentSwitch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	caller, ok := callerID(w, r)
	if !ok {
		return
	}

	var req switchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	target := strings.TrimSpace(req.DepartmentID)
	if target == "" {
		writeError(w, r, http.StatusBadRequest, "department_id is required")
		return
	}

	roles, err := a.gate.Switch(r.Context(), caller, target)
	if err != nil {
		handleDepartmentError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "department.switch", map[string]any{
		"department_id": target,
		"roles":         roles,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"department_id": target,
		"roles":         roles,
	})
}

func (a *API) handleDepartmentCurrent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	caller, ok := callerID(w, r)
	if !ok {
		return
	}
	d, err := a.gate.Current(r.Context(), caller)
	if err != nil {
		handleDepartmentError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}
