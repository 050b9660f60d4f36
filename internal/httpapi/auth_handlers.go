package httpapi

import (
	"net/http"
	"strings"
	"time"

	"lernia.org/internal/access"
	"lernia.org/internal/audit"
	"lernia.org/internal/auth"
)

type tokenRequest struct {
	UserID   string `json:"user_id"`
	UserType string `json:"user_type"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

const tokenTTL = 15 * time.Minute

func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		writeError(w, r, http.StatusBadRequest, "user_id is required")
		return
	}
	userType, err := access.ParseUserType(req.UserType)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "user_type must be one of student, staff, admin")
		return
	}

	token, err := auth.GenerateToken(userID, string(userType), tokenTTL)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}

	expiresAt := time.Now().UTC().Add(tokenTTL)
	_ = audit.LogEvent(r.Context(), "auth.token.issued", map[string]any{
		"user_id":    userID,
		"user_type":  string(userType),
		"expires_at": expiresAt.Format(time.RFC3339),
	})

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	})
}
