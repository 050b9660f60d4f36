package access

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

type membershipKey struct {
	userID       string
	userType     UserType
	departmentID string
}

// InMemory implements Store with in-process concurrency safety. Role deletion
// with reassignment and whole-set right replacement happen under one lock, so
// concurrent edits cannot interleave.
type InMemory struct {
	mu          sync.RWMutex
	rights      map[string]AccessRight
	roles       map[string]RoleDefinition
	memberships map[membershipKey]Membership
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		rights:      make(map[string]AccessRight),
		roles:       make(map[string]RoleDefinition),
		memberships: make(map[membershipKey]Membership),
	}
}

func (s *InMemory) CreateRight(ctx context.Context, right AccessRight) (AccessRight, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rights[right.Name]; ok {
		return AccessRight{}, fmt.Errorf("%w: access right %q already exists", ErrConflict, right.Name)
	}
	s.rights[right.Name] = right
	return right, nil
}

func (s *InMemory) RightByName(ctx context.Context, name string) (AccessRight, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	right, ok := s.rights[name]
	if !ok {
		return AccessRight{}, fmt.Errorf("%w: access right %q", ErrNotFound, name)
	}
	return right, nil
}

func sortRights(rights []AccessRight) {
	sort.Slice(rights, func(i, j int) bool {
		if rights[i].Domain != rights[j].Domain {
			return rights[i].Domain < rights[j].Domain
		}
		if rights[i].Resource != rights[j].Resource {
			return rights[i].Resource < rights[j].Resource
		}
		return rights[i].Action < rights[j].Action
	})
}

func (s *InMemory) ListRights(ctx context.Context, filter RightFilter) ([]AccessRight, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []AccessRight
	for _, right := range s.rights {
		if !filter.IncludeInactive && !right.Active {
			continue
		}
		if filter.Domain != "" && right.Domain != filter.Domain {
			continue
		}
		if filter.Sensitive != nil && right.Sensitive != *filter.Sensitive {
			continue
		}
		matched = append(matched, right)
	}
	sortRights(matched)

	total := len(matched)
	if filter.Offset >= total {
		return nil, total, nil
	}
	end := filter.Offset + filter.Limit
	if filter.Limit <= 0 || end > total {
		end = total
	}
	return append([]AccessRight(nil), matched[filter.Offset:end]...), total, nil
}

func (s *InMemory) RightsByDomain(ctx context.Context, domain Domain) ([]AccessRight, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []AccessRight
	for _, right := range s.rights {
		if right.Domain == domain && right.Active {
			matched = append(matched, right)
		}
	}
	sortRights(matched)
	return matched, nil
}

func (s *InMemory) DeactivateRight(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	right, ok := s.rights[name]
	if !ok {
		return fmt.Errorf("%w: access right %q", ErrNotFound, name)
	}
	right.Active = false
	s.rights[name] = right
	return nil
}

func (s *InMemory) CreateRole(ctx context.Context, role RoleDefinition) (RoleDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[role.Name]; ok {
		return RoleDefinition{}, fmt.Errorf("%w: role %q already exists", ErrConflict, role.Name)
	}
	s.roles[role.Name] = role
	return role, nil
}

func (s *InMemory) RoleByName(ctx context.Context, name string) (RoleDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	role, ok := s.roles[name]
	if !ok {
		return RoleDefinition{}, fmt.Errorf("%w: role %q", ErrNotFound, name)
	}
	role.AccessRights = append([]string(nil), role.AccessRights...)
	return role, nil
}

func sortRoles(roles []RoleDefinition) {
	sort.Slice(roles, func(i, j int) bool {
		if roles[i].Level != roles[j].Level {
			return roles[i].Level > roles[j].Level
		}
		return roles[i].Name < roles[j].Name
	})
}

func (s *InMemory) ListRoles(ctx context.Context, includeInactive bool) ([]RoleDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []RoleDefinition
	for _, role := range s.roles {
		if !includeInactive && !role.Active {
			continue
		}
		role.AccessRights = append([]string(nil), role.AccessRights...)
		matched = append(matched, role)
	}
	sortRoles(matched)
	return matched, nil
}

func (s *InMemory) RolesByUserType(ctx context.Context, userType UserType, includeInactive bool) ([]RoleDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []RoleDefinition
	for _, role := range s.roles {
		if role.UserType != userType {
			continue
		}
		if !includeInactive && !role.Active {
			continue
		}
		role.AccessRights = append([]string(nil), role.AccessRights...)
		matched = append(matched, role)
	}
	sortRoles(matched)
	return matched, nil
}

func (s *InMemory) UpdateRole(ctx context.Context, name string, upd RoleUpdate) (RoleDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.roles[name]
	if !ok {
		return RoleDefinition{}, fmt.Errorf("%w: role %q", ErrNotFound, name)
	}
	if upd.DisplayName != nil {
		role.DisplayName = *upd.DisplayName
	}
	if upd.Description != nil {
		role.Description = *upd.Description
	}
	if upd.Level != nil {
		role.Level = *upd.Level
	}
	s.roles[name] = role
	return role, nil
}

func (s *InMemory) ReplaceRoleAccessRights(ctx context.Context, name string, rights []string) (RoleDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.roles[name]
	if !ok {
		return RoleDefinition{}, fmt.Errorf("%w: role %q", ErrNotFound, name)
	}
	role.AccessRights = append([]string(nil), rights...)
	s.roles[name] = role
	return role, nil
}

func (s *InMemory) DeleteRole(ctx context.Context, name, reassignTo string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[name]; !ok {
		return fmt.Errorf("%w: role %q", ErrNotFound, name)
	}

	var dependents []membershipKey
	for key, m := range s.memberships {
		if !m.Active {
			continue
		}
		for _, role := range m.Roles {
			if role == name {
				dependents = append(dependents, key)
				break
			}
		}
	}

	if len(dependents) > 0 && reassignTo == "" {
		return fmt.Errorf("%w: %d active memberships still reference role %q", ErrConflict, len(dependents), name)
	}
	for _, key := range dependents {
		m := s.memberships[key]
		roles := make([]string, 0, len(m.Roles))
		for _, role := range m.Roles {
			if role == name {
				role = reassignTo
			}
			roles = appendUnique(roles, role)
		}
		m.Roles = roles
		s.memberships[key] = m
	}
	delete(s.roles, name)
	return nil
}

func (s *InMemory) UpsertMembership(ctx context.Context, m Membership) (Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := membershipKey{userID: m.UserID, userType: m.UserType, departmentID: m.DepartmentID}
	s.memberships[key] = m
	return m, nil
}

func (s *InMemory) Membership(ctx context.Context, userID string, userType UserType, departmentID string) (Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.memberships[membershipKey{userID: userID, userType: userType, departmentID: departmentID}]
	if !ok {
		return Membership{}, fmt.Errorf("%w: no %s membership for user %q in department %q",
			ErrNotFound, userType, userID, departmentID)
	}
	m.Roles = append([]string(nil), m.Roles...)
	return m, nil
}

func (s *InMemory) MembershipsByUser(ctx context.Context, userID string) ([]Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []Membership
	for _, m := range s.memberships {
		if m.UserID != userID {
			continue
		}
		m.Roles = append([]string(nil), m.Roles...)
		matched = append(matched, m)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].UserType != matched[j].UserType {
			return matched[i].UserType < matched[j].UserType
		}
		return strings.Compare(matched[i].DepartmentID, matched[j].DepartmentID) < 0
	})
	return matched, nil
}

func (s *InMemory) DeactivateMembership(ctx context.Context, userID string, userType UserType, departmentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := membershipKey{userID: userID, userType: userType, departmentID: departmentID}
	m, ok := s.memberships[key]
	if !ok {
		return fmt.Errorf("%w: no %s membership for user %q in department %q",
			ErrNotFound, userType, userID, departmentID)
	}
	m.Active = false
	s.memberships[key] = m
	return nil
}

func (s *InMemory) ActiveMembershipCountByDepartment(ctx context.Context, departmentID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, m := range s.memberships {
		if m.Active && m.DepartmentID == departmentID {
			n++
		}
	}
	return n, nil
}
