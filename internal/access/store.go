package access

import "context"

// Store describes persistence operations required by the authorization engine.
// Implementations must apply role deletion with reassignment and whole-set
// access-right replacement atomically.
type Store interface {
	// Catalog
	CreateRight(ctx context.Context, right AccessRight) (AccessRight, error)
	RightByName(ctx context.Context, name string) (AccessRight, error)
	ListRights(ctx context.Context, filter RightFilter) ([]AccessRight, int, error)
	RightsByDomain(ctx context.Context, domain Domain) ([]AccessRight, error)
	DeactivateRight(ctx context.Context, name string) error

	// Role definitions
	CreateRole(ctx context.Context, role RoleDefinition) (RoleDefinition, error)
	RoleByName(ctx context.Context, name string) (RoleDefinition, error)
	ListRoles(ctx context.Context, includeInactive bool) ([]RoleDefinition, error)
	RolesByUserType(ctx context.Context, userType UserType, includeInactive bool) ([]RoleDefinition, error)
	UpdateRole(ctx context.Context, name string, upd RoleUpdate) (RoleDefinition, error)
	ReplaceRoleAccessRights(ctx context.Context, name string, rights []string) (RoleDefinition, error)
	// DeleteRole removes a role. When active memberships still reference it,
	// reassignTo must name the replacement role; with no replacement the call
	// fails with ErrConflict. Reassignment and deletion are one atomic write.
	DeleteRole(ctx context.Context, name, reassignTo string) error

	// Memberships
	UpsertMembership(ctx context.Context, m Membership) (Membership, error)
	Membership(ctx context.Context, userID string, userType UserType, departmentID string) (Membership, error)
	MembershipsByUser(ctx context.Context, userID string) ([]Membership, error)
	DeactivateMembership(ctx context.Context, userID string, userType UserType, departmentID string) error
	ActiveMembershipCountByDepartment(ctx context.Context, departmentID string) (int, error)
}
