// Package department maintains the organizational hierarchy and the
// visibility gate in front of it. Departments form a single tree rooted
// at the Master department; every other department has exactly one
// parent and a depth bounded by MaxDepth.
package department

import (
	"errors"
	"regexp"
	"time"
)

var (
	ErrNotFound     = errors.New("department: not found")
	ErrInvalidInput = errors.New("department: invalid input")
	ErrConflict     = errors.New("department: conflict")
)

// MaxDepth bounds how far below the Master root a department may sit.
// The root is at depth 0.
const MaxDepth = 5

// MasterCode is the code of the canonical root department. The root is
// created once at seed time and can never be reparented or deleted.
const MasterCode = "master"

var codePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,49}$`)

// Department is one node in the hierarchy. ParentID is empty only for
// the Master root. IsVisible controls whether unprivileged users can see
// the department at all; hiding a node hides its entire subtree.
type Department struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Code      string    `json:"code"`
	ParentID  string    `json:"parent_id,omitempty"`
	IsVisible bool      `json:"is_visible"`
	Depth     int       `json:"depth"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// DepartmentUpdate carries the mutable scalar fields of a department.
// Nil fields are left unchanged.
type DepartmentUpdate struct {
	Name      *string `json:"name,omitempty"`
	IsVisible *bool   `json:"is_visible,omitempty"`
}
