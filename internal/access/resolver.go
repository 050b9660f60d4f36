package access

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Resolver computes effective access rights from memberships, role
// definitions and the catalog.
//
// Permission semantics are strictly additive: the effective set is the union
// of the expanded rights of every held role, and a capability present in any
// role is granted. There is no deny path anywhere in this engine; callers
// must not introduce one.
type Resolver struct {
	store Store
}

// NewResolver constructs a Resolver backed by store.
func NewResolver(store Store) (*Resolver, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidInput)
	}
	return &Resolver{store: store}, nil
}

// SystemAdminRole holds special-privilege semantics wherever it appears in an
// active membership, regardless of department.
const SystemAdminRole = "system-admin"

// RolesForDepartment returns the exact role set of the one membership record
// identified by (userID, departmentID, userType). No cross-department
// aggregation happens here.
func (r *Resolver) RolesForDepartment(ctx context.Context, userID, departmentID string, rawType string) ([]string, error) {
	userType, err := ParseUserType(rawType)
	if err != nil {
		return nil, err
	}
	userID = strings.TrimSpace(userID)
	departmentID = strings.TrimSpace(departmentID)
	if userID == "" || departmentID == "" {
		return nil, fmt.Errorf("%w: user_id and department_id are required", ErrInvalidInput)
	}
	m, err := r.store.Membership(ctx, userID, userType, departmentID)
	if err != nil {
		return nil, err
	}
	if !m.Active {
		return nil, fmt.Errorf("%w: membership is inactive", ErrNotFound)
	}
	return append([]string(nil), m.Roles...), nil
}

// AllRolesForUser returns the user's memberships across all departments,
// grouped by user type.
func (r *Resolver) AllRolesForUser(ctx context.Context, userID string) (map[UserType][]Membership, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	memberships, err := r.store.MembershipsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	grouped := make(map[UserType][]Membership)
	for _, m := range memberships {
		grouped[m.UserType] = append(grouped[m.UserType], m)
	}
	return grouped, nil
}

// AccessRightsForRole returns the role's raw, possibly wildcarded entries.
// A missing or inactive role yields an empty result, not an error: callers
// use emptiness as the signal.
func (r *Resolver) AccessRightsForRole(ctx context.Context, roleName string) ([]string, error) {
	roleName = strings.TrimSpace(strings.ToLower(roleName))
	if roleName == "" {
		return nil, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	role, err := r.store.RoleByName(ctx, roleName)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if !role.Active {
		return nil, nil
	}
	return append([]string(nil), role.AccessRights...), nil
}

// ExpandWildcards substitutes every `domain:*` entry with the names of the
// active, fully-qualified catalog rights in that domain. Fully-qualified
// entries pass through unchanged even when the catalog does not know them.
// The result is deduplicated and sorted, which makes the operation
// idempotent: ExpandWildcards(ExpandWildcards(S)) == ExpandWildcards(S).
func (r *Resolver) ExpandWildcards(ctx context.Context, entries []string) ([]string, error) {
	seen := make(map[string]struct{}, len(entries))
	expanded := make([]string, 0, len(entries))

	add := func(name string) {
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		expanded = append(expanded, name)
	}

	for _, entry := range entries {
		parsed, err := ParseRight(entry)
		if err != nil {
			return nil, err
		}
		if !parsed.Wildcard {
			add(parsed.String())
			continue
		}
		rights, err := r.store.RightsByDomain(ctx, parsed.Domain)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		for _, right := range rights {
			if !right.Active {
				continue
			}
			// Catalog entries that are themselves domain wildcards are
			// metadata carriers and never emitted by expansion.
			if strings.HasSuffix(right.Name, ":*") {
				continue
			}
			add(right.Name)
		}
	}

	sort.Strings(expanded)
	return expanded, nil
}

// Grant records which roles contributed one effective right.
type Grant struct {
	Right string   `json:"right"`
	Roles []string `json:"roles"`
}

// PermissionSet is a user's effective rights. Rights is the externally
// visible flat set; Grants retains provenance for explainability.
type PermissionSet struct {
	Rights []string `json:"rights"`
	Grants []Grant  `json:"grants,omitempty"`
}

// Has reports membership in the flat set.
func (ps PermissionSet) Has(right string) bool {
	for _, r := range ps.Rights {
		if r == right {
			return true
		}
	}
	return false
}

// UserPermissions computes the union of expanded rights across all of the
// user's active memberships, optionally restricted to one department.
func (r *Resolver) UserPermissions(ctx context.Context, userID, departmentID string) (PermissionSet, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return PermissionSet{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	departmentID = strings.TrimSpace(departmentID)

	memberships, err := r.store.MembershipsByUser(ctx, userID)
	if err != nil {
		return PermissionSet{}, err
	}

	provenance := make(map[string][]string)
	resolvedRoles := make(map[string]bool)
	for _, m := range memberships {
		if !m.Active {
			continue
		}
		if departmentID != "" && m.DepartmentID != departmentID {
			continue
		}
		for _, roleName := range m.Roles {
			if resolvedRoles[roleName] {
				continue
			}
			resolvedRoles[roleName] = true
			raw, err := r.AccessRightsForRole(ctx, roleName)
			if err != nil {
				return PermissionSet{}, err
			}
			if len(raw) == 0 {
				continue
			}
			expanded, err := r.ExpandWildcards(ctx, raw)
			if err != nil {
				return PermissionSet{}, err
			}
			for _, right := range expanded {
				provenance[right] = appendUnique(provenance[right], roleName)
			}
		}
	}

	set := PermissionSet{
		Rights: make([]string, 0, len(provenance)),
		Grants: make([]Grant, 0, len(provenance)),
	}
	for right := range provenance {
		set.Rights = append(set.Rights, right)
	}
	sort.Strings(set.Rights)
	for _, right := range set.Rights {
		roles := provenance[right]
		sort.Strings(roles)
		set.Grants = append(set.Grants, Grant{Right: right, Roles: roles})
	}
	return set, nil
}

// CheckRequest is a permission query. Exactly one of Permission or
// Permissions must be set; RequireAll only applies to the array form.
// ResourceID is accepted and validated for shape but not evaluated: it is the
// reserved extension point for per-object checks and has no effect on the
// decision today.
type CheckRequest struct {
	Permission   string   `json:"permission,omitempty"`
	Permissions  []string `json:"permissions,omitempty"`
	RequireAll   bool     `json:"require_all,omitempty"`
	DepartmentID string   `json:"department_id,omitempty"`

	// ResourceID is accepted for forward compatibility with per-object
	// checks but does not influence the decision yet.
	ResourceID string `json:"resource_id,omitempty"`
}

// Decision is the definitive outcome of one permission check.
type Decision struct {
	Allowed bool     `json:"allowed"`
	Missing []string `json:"missing,omitempty"`
}

// Check evaluates req against the user's effective permission set. Single
// permission: plain membership test. Array with RequireAll: logical AND;
// otherwise logical OR. DepartmentID narrows evaluation to that department's
// memberships; omitted, the union across all departments is used.
func (r *Resolver) Check(ctx context.Context, userID string, req CheckRequest) (Decision, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Decision{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}

	single := strings.TrimSpace(req.Permission)
	if single != "" && len(req.Permissions) > 0 {
		return Decision{}, fmt.Errorf("%w: permission and permissions are mutually exclusive", ErrInvalidInput)
	}
	if single == "" && len(req.Permissions) == 0 {
		return Decision{}, fmt.Errorf("%w: a permission is required", ErrInvalidInput)
	}
	if single != "" && req.RequireAll {
		return Decision{}, fmt.Errorf("%w: require_all only applies to the permissions array", ErrInvalidInput)
	}

	wanted := req.Permissions
	if single != "" {
		wanted = []string{single}
	}
	for _, perm := range wanted {
		if !exactRightPattern.MatchString(strings.TrimSpace(perm)) {
			return Decision{}, fmt.Errorf("%w: malformed permission %q", ErrInvalidInput, perm)
		}
	}

	set, err := r.UserPermissions(ctx, userID, req.DepartmentID)
	if err != nil {
		return Decision{}, err
	}

	var missing []string
	hits := 0
	for _, perm := range wanted {
		if set.Has(strings.TrimSpace(perm)) {
			hits++
			continue
		}
		missing = append(missing, strings.TrimSpace(perm))
	}

	allowed := hits == len(wanted)
	if len(wanted) > 1 && !req.RequireAll {
		allowed = hits > 0
	}
	return Decision{Allowed: allowed, Missing: missing}, nil
}

// SpecialDepartmentPrivileges reports whether the user may bypass department
// visibility filtering: an admin-type membership anywhere, or the
// system-admin role in any active membership. The check is global, never
// department-scoped.
func (r *Resolver) SpecialDepartmentPrivileges(ctx context.Context, userID string) (bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	memberships, err := r.store.MembershipsByUser(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, m := range memberships {
		if !m.Active {
			continue
		}
		if m.UserType == UserTypeAdmin {
			return true, nil
		}
		for _, role := range m.Roles {
			if role == SystemAdminRole {
				return true, nil
			}
		}
	}
	return false, nil
}

// EntitledToEscalate reports whether the user may open an elevated session.
// The entitled set matches the special-privilege predicate: both gate the
// system surface.
func (r *Resolver) EntitledToEscalate(ctx context.Context, userID string) (bool, error) {
	return r.SpecialDepartmentPrivileges(ctx, userID)
}

// RolesInDepartment returns the union of the user's active role sets in one
// department across all user types. Used by the visibility gate when a
// department switch succeeds.
func (r *Resolver) RolesInDepartment(ctx context.Context, userID, departmentID string) ([]string, error) {
	userID = strings.TrimSpace(userID)
	departmentID = strings.TrimSpace(departmentID)
	if userID == "" || departmentID == "" {
		return nil, fmt.Errorf("%w: user_id and department_id are required", ErrInvalidInput)
	}
	memberships, err := r.store.MembershipsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	var roles []string
	for _, m := range memberships {
		if !m.Active || m.DepartmentID != departmentID {
			continue
		}
		for _, role := range m.Roles {
			roles = appendUnique(roles, role)
		}
	}
	sort.Strings(roles)
	return roles, nil
}

func appendUnique(list []string, value string) []string {
	for _, v := range list {
		if v == value {
			return list
		}
	}
	return append(list, value)
}
