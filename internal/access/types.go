package access

import (
	"fmt"
	"strings"
	"time"
)

// UserType is the closed set of account classes a membership can be scoped to.
type UserType string

const (
	UserTypeStudent UserType = "student"
	UserTypeStaff   UserType = "staff"
	UserTypeAdmin   UserType = "admin"
)

// UserTypes lists every valid user type.
var UserTypes = []UserType{UserTypeStudent, UserTypeStaff, UserTypeAdmin}

// ParseUserType normalizes and validates a raw user type string.
func ParseUserType(raw string) (UserType, error) {
	ut := UserType(strings.TrimSpace(strings.ToLower(raw)))
	for _, known := range UserTypes {
		if ut == known {
			return ut, nil
		}
	}
	return "", fmt.Errorf("%w: unknown user type %q", ErrInvalidInput, raw)
}

// AccessRight is one atomic permission in the catalog. Names are immutable
// once created; rights are soft-deactivated, never hard-deleted, because role
// definitions reference them by name.
type AccessRight struct {
	Name                string    `json:"name"`
	Domain              Domain    `json:"domain"`
	Resource            string    `json:"resource,omitempty"`
	Action              string    `json:"action,omitempty"`
	Description         string    `json:"description,omitempty"`
	Sensitive           bool      `json:"sensitive"`
	SensitivityCategory string    `json:"sensitivity_category,omitempty"`
	Active              bool      `json:"active"`
	CreatedAt           time.Time `json:"created_at"`
}

// RoleDefinition is a named, user-type-scoped bundle of access-right strings.
// Entries may be domain wildcards or forward declarations of rights not yet in
// the catalog.
type RoleDefinition struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	DisplayName  string    `json:"display_name"`
	Description  string    `json:"description"`
	UserType     UserType  `json:"user_type"`
	AccessRights []string  `json:"access_rights"`
	Level        int       `json:"level"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Membership is one user's role assignment within one department. There is at
// most one record per (userID, userType, departmentID).
type Membership struct {
	UserID       string    `json:"user_id"`
	UserType     UserType  `json:"user_type"`
	DepartmentID string    `json:"department_id"`
	Roles        []string  `json:"roles"`
	AssignedAt   time.Time `json:"assigned_at"`
	Active       bool      `json:"active"`
}

// RightFilter narrows catalog listings.
type RightFilter struct {
	Domain          Domain
	Sensitive       *bool
	IncludeInactive bool
	Limit           int
	Offset          int
}

// RightPage is one page of catalog results.
type RightPage struct {
	Rights []AccessRight `json:"rights"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// RoleUpdate carries the mutable role attributes. AccessRights are replaced
// through Registry.UpdateAccessRights only.
type RoleUpdate struct {
	DisplayName *string
	Description *string
	Level       *int
}
