package access

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"lernia.org/internal/ids"
)

var roleNamePattern = regexp.MustCompile(`^[a-z0-9-]+$`)

const (
	roleNameMinLen = 3
	roleNameMaxLen = 50
	roleDescMinLen = 10
	roleDescMaxLen = 500
	roleLevelMin   = 11
	roleLevelMax   = 99
)

// Registry manages named role definitions.
type Registry struct {
	store Store
	now   func() time.Time
}

// NewRegistry constructs a Registry backed by store.
func NewRegistry(store Store) (*Registry, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidInput)
	}
	return &Registry{store: store, now: time.Now}, nil
}

func validateRoleName(name string) error {
	if len(name) < roleNameMinLen || len(name) > roleNameMaxLen {
		return fmt.Errorf("%w: role name must be %d-%d characters", ErrInvalidInput, roleNameMinLen, roleNameMaxLen)
	}
	if !roleNamePattern.MatchString(name) {
		return fmt.Errorf("%w: role name must match %s", ErrInvalidInput, roleNamePattern.String())
	}
	return nil
}

func validateAccessRightEntries(entries []string) ([]string, error) {
	cleaned := make([]string, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if !ValidRightName(entry) {
			return nil, fmt.Errorf("%w: malformed access right %q", ErrInvalidInput, entry)
		}
		if _, ok := seen[entry]; ok {
			continue
		}
		seen[entry] = struct{}{}
		cleaned = append(cleaned, entry)
	}
	return cleaned, nil
}

// Create registers a new role definition. The name is validated as sent:
// uppercase is rejected, never normalized away. Access-right entries only
// need to match the name pattern; forward declarations and wildcards are
// legal even when the catalog has no such right yet.
func (r *Registry) Create(ctx context.Context, role RoleDefinition) (RoleDefinition, error) {
	role.Name = strings.TrimSpace(role.Name)
	if err := validateRoleName(role.Name); err != nil {
		return RoleDefinition{}, err
	}
	role.Description = strings.TrimSpace(role.Description)
	if len(role.Description) < roleDescMinLen || len(role.Description) > roleDescMaxLen {
		return RoleDefinition{}, fmt.Errorf("%w: description must be %d-%d characters", ErrInvalidInput, roleDescMinLen, roleDescMaxLen)
	}
	if role.Level < roleLevelMin || role.Level > roleLevelMax {
		return RoleDefinition{}, fmt.Errorf("%w: level must be in [%d,%d]", ErrInvalidInput, roleLevelMin, roleLevelMax)
	}
	userType, err := ParseUserType(string(role.UserType))
	if err != nil {
		return RoleDefinition{}, err
	}
	rights, err := validateAccessRightEntries(role.AccessRights)
	if err != nil {
		return RoleDefinition{}, err
	}

	if role.DisplayName = strings.TrimSpace(role.DisplayName); role.DisplayName == "" {
		role.DisplayName = role.Name
	}
	role.ID = ids.New()
	role.UserType = userType
	role.AccessRights = rights
	role.Active = true
	role.CreatedAt = r.now().UTC()
	role.UpdatedAt = role.CreatedAt
	return r.store.CreateRole(ctx, role)
}

// FindByName returns one role definition.
func (r *Registry) FindByName(ctx context.Context, name string) (RoleDefinition, error) {
	name = strings.TrimSpace(strings.ToLower(name))
	if name == "" {
		return RoleDefinition{}, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	return r.store.RoleByName(ctx, name)
}

// FindByUserType returns the roles scoped to one user type.
func (r *Registry) FindByUserType(ctx context.Context, raw string, includeInactive bool) ([]RoleDefinition, error) {
	userType, err := ParseUserType(raw)
	if err != nil {
		return nil, err
	}
	return r.store.RolesByUserType(ctx, userType, includeInactive)
}

// List returns every role definition.
func (r *Registry) List(ctx context.Context, includeInactive bool) ([]RoleDefinition, error) {
	return r.store.ListRoles(ctx, includeInactive)
}

// Update mutates display name, description and level. The user type is fixed
// at creation and access rights are replaced through UpdateAccessRights.
func (r *Registry) Update(ctx context.Context, name string, upd RoleUpdate) (RoleDefinition, error) {
	name = strings.TrimSpace(strings.ToLower(name))
	if name == "" {
		return RoleDefinition{}, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	if upd.DisplayName != nil {
		trimmed := strings.TrimSpace(*upd.DisplayName)
		if trimmed == "" {
			return RoleDefinition{}, fmt.Errorf("%w: display name is required", ErrInvalidInput)
		}
		upd.DisplayName = &trimmed
	}
	if upd.Description != nil {
		trimmed := strings.TrimSpace(*upd.Description)
		if len(trimmed) < roleDescMinLen || len(trimmed) > roleDescMaxLen {
			return RoleDefinition{}, fmt.Errorf("%w: description must be %d-%d characters", ErrInvalidInput, roleDescMinLen, roleDescMaxLen)
		}
		upd.Description = &trimmed
	}
	if upd.Level != nil && (*upd.Level < roleLevelMin || *upd.Level > roleLevelMax) {
		return RoleDefinition{}, fmt.Errorf("%w: level must be in [%d,%d]", ErrInvalidInput, roleLevelMin, roleLevelMax)
	}
	return r.store.UpdateRole(ctx, name, upd)
}

// UpdateAccessRights replaces the role's entire access-right set. This is an
// overwrite, not a merge: callers resend the full intended set.
func (r *Registry) UpdateAccessRights(ctx context.Context, name string, entries []string) (RoleDefinition, error) {
	name = strings.TrimSpace(strings.ToLower(name))
	if name == "" {
		return RoleDefinition{}, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	rights, err := validateAccessRightEntries(entries)
	if err != nil {
		return RoleDefinition{}, err
	}
	return r.store.ReplaceRoleAccessRights(ctx, name, rights)
}

// Delete removes a role definition. Active memberships still referencing the
// role make the call fail with ErrConflict unless reassignTo names an active
// replacement role of the same user type.
func (r *Registry) Delete(ctx context.Context, name, reassignTo string) error {
	name = strings.TrimSpace(strings.ToLower(name))
	if name == "" {
		return fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	reassignTo = strings.TrimSpace(strings.ToLower(reassignTo))
	if reassignTo != "" {
		role, err := r.store.RoleByName(ctx, name)
		if err != nil {
			return err
		}
		replacement, err := r.store.RoleByName(ctx, reassignTo)
		if err != nil {
			return fmt.Errorf("%w: replacement role %q not found", ErrInvalidInput, reassignTo)
		}
		if !replacement.Active {
			return fmt.Errorf("%w: replacement role %q is inactive", ErrInvalidInput, reassignTo)
		}
		if replacement.UserType != role.UserType {
			return fmt.Errorf("%w: replacement role %q has user type %s, want %s",
				ErrInvalidInput, reassignTo, replacement.UserType, role.UserType)
		}
	}
	return r.store.DeleteRole(ctx, name, reassignTo)
}

// AssignMembership creates or updates one (user, userType, department) record.
// Every role must reference an active definition of the matching user type.
func (r *Registry) AssignMembership(ctx context.Context, m Membership) (Membership, error) {
	m.UserID = strings.TrimSpace(m.UserID)
	if m.UserID == "" {
		return Membership{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	userType, err := ParseUserType(string(m.UserType))
	if err != nil {
		return Membership{}, err
	}
	m.DepartmentID = strings.TrimSpace(m.DepartmentID)
	if m.DepartmentID == "" {
		return Membership{}, fmt.Errorf("%w: department_id is required", ErrInvalidInput)
	}
	if len(m.Roles) == 0 {
		return Membership{}, fmt.Errorf("%w: at least one role is required", ErrInvalidInput)
	}

	seen := make(map[string]struct{}, len(m.Roles))
	roles := make([]string, 0, len(m.Roles))
	for _, roleName := range m.Roles {
		roleName = strings.TrimSpace(strings.ToLower(roleName))
		if _, ok := seen[roleName]; ok {
			continue
		}
		role, err := r.store.RoleByName(ctx, roleName)
		if err != nil {
			return Membership{}, fmt.Errorf("%w: role %q not found", ErrInvalidInput, roleName)
		}
		if !role.Active {
			return Membership{}, fmt.Errorf("%w: role %q is inactive", ErrInvalidInput, roleName)
		}
		if role.UserType != userType {
			return Membership{}, fmt.Errorf("%w: role %q is scoped to user type %s", ErrInvalidInput, roleName, role.UserType)
		}
		seen[roleName] = struct{}{}
		roles = append(roles, roleName)
	}

	m.UserType = userType
	m.Roles = roles
	m.Active = true
	m.AssignedAt = r.now().UTC()
	return r.store.UpsertMembership(ctx, m)
}

// DeactivateMembership marks one membership record inactive.
func (r *Registry) DeactivateMembership(ctx context.Context, userID, rawType, departmentID string) error {
	userType, err := ParseUserType(rawType)
	if err != nil {
		return err
	}
	userID = strings.TrimSpace(userID)
	departmentID = strings.TrimSpace(departmentID)
	if userID == "" || departmentID == "" {
		return fmt.Errorf("%w: user_id and department_id are required", ErrInvalidInput)
	}
	return r.store.DeactivateMembership(ctx, userID, userType, departmentID)
}
