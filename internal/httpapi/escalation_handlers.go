package httpapi

import (
	"net/http"
	"time"

	"lernia.org/internal/audit"
)

type escalateRequest struct {
	Credential string `json:"credential"`
}

type escalationStatusResponse struct {
	Active    bool       `json:"active"`
	GrantedAt *time.Time `json:"granted_at,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (a *API) handleEscalation(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.escalate(w, r)
	case http.MethodGet:
		a.escalationStatus(w, r)
	case http.MethodDelete:
		a.deEscalate(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost, http.MethodDelete)
	}
}

func (a *API) escalate(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerID(w, r)
	if !ok {
		return
	}

	var req escalateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	sess, err := a.escalation.Escalate(r.Context(), caller, req.Credential)
	if err != nil {
		_ = audit.LogEvent(r.Context(), "escalation.denied", map[string]any{"reason": err.Error()})
		handleEscalationError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "escalation.granted", map[string]any{
		"expires_at": sess.ExpiresAt.Format(time.RFC3339),
	})
	writeJSON(w, http.StatusCreated, sess)
}

func (a *API) escalationStatus(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerID(w, r)
	if !ok {
		return
	}
	sess, active, err := a.escalation.Active(r.Context(), caller)
	if err != nil {
		handleEscalationError(w, r, err)
		return
	}
	resp := escalationStatusResponse{Active: active}
	if active {
		resp.GrantedAt = &sess.GrantedAt
		resp.ExpiresAt = &sess.ExpiresAt
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) deEscalate(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerID(w, r)
	if !ok {
		return
	}
	if err := a.escalation.DeEscalate(r.Context(), caller); err != nil {
		handleEscalationError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "escalation.revoked", nil)
	w.WriteHeader(http.StatusNoContent)
}

// requireAdminSession guards mutating admin endpoints: the caller must
// hold a live escalation session.
func (a *API) requireAdminSession(w http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	caller, ok := callerID(w, r)
	if !ok {
		return
	}
	_, active, err := a.escalation.Active(r.Context(), caller)
	if err != nil {
		handleEscalationError(w, r, err)
		return
	}
	if !active {
		writeError(w, r, http.StatusUnauthorized, "admin session not active or expired")
		return
	}
	next(w, r)
}
