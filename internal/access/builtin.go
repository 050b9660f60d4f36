package access

import (
	"context"
	"errors"
	"time"

	"lernia.org/internal/ids"
)

// BuiltinRights is the canonical catalog seeded at bootstrap. The same set
// ships as SQL in ops/migrations/seeds for the Postgres store.
var BuiltinRights = []AccessRight{
	{Name: "system:users:read", Description: "Read platform user accounts", Sensitive: true, SensitivityCategory: "pii"},
	{Name: "system:users:write", Description: "Create and modify platform user accounts", Sensitive: true, SensitivityCategory: "pii"},
	{Name: "system:settings:write", Description: "Change platform-wide settings", Sensitive: true, SensitivityCategory: "operational"},
	{Name: "users:profile:read", Description: "Read user profiles"},
	{Name: "users:profile:write", Description: "Edit user profiles", Sensitive: true, SensitivityCategory: "pii"},
	{Name: "courses:catalog:read", Description: "Browse the course catalog"},
	{Name: "courses:catalog:write", Description: "Create and edit courses"},
	{Name: "courses:content:read", Description: "View course content"},
	{Name: "courses:content:write", Description: "Author course content"},
	{Name: "content:media:read", Description: "View uploaded media"},
	{Name: "content:media:write", Description: "Upload and replace media"},
	{Name: "enrollments:records:read", Description: "View enrollment records"},
	{Name: "enrollments:records:write", Description: "Enroll and withdraw learners"},
	{Name: "departments:tree:read", Description: "Browse the department hierarchy"},
	{Name: "departments:tree:write", Description: "Create and reparent departments", Sensitive: true, SensitivityCategory: "operational"},
	{Name: "roles:definitions:read", Description: "View role definitions"},
	{Name: "roles:definitions:write", Description: "Create and modify role definitions", Sensitive: true, SensitivityCategory: "operational"},
	{Name: "reports:usage:read", Description: "View usage reports"},
	{Name: "templates:library:read", Description: "Browse course templates"},
	{Name: "templates:library:write", Description: "Manage course templates"},
}

// BuiltinRoles are the role definitions every deployment starts with.
var BuiltinRoles = []RoleDefinition{
	{
		Name:        SystemAdminRole,
		DisplayName: "System Administrator",
		Description: "Full control over the platform, including hidden departments.",
		UserType:    UserTypeAdmin,
		Level:       99,
		AccessRights: []string{
			"system:*",
			"users:*",
			"departments:*",
			"roles:*",
			"reports:*",
		},
	},
	{
		Name:        "department-head",
		DisplayName: "Department Head",
		Description: "Manages one department's courses, enrollments and reporting.",
		UserType:    UserTypeStaff,
		Level:       80,
		AccessRights: []string{
			"courses:*",
			"content:*",
			"enrollments:*",
			"reports:usage:read",
			"departments:tree:read",
		},
	},
	{
		Name:        "instructor",
		DisplayName: "Instructor",
		Description: "Authors and delivers course content to enrolled learners.",
		UserType:    UserTypeStaff,
		Level:       50,
		AccessRights: []string{
			"courses:catalog:read",
			"courses:content:read",
			"courses:content:write",
			"content:media:read",
			"content:media:write",
			"enrollments:records:read",
		},
	},
	{
		Name:        "learner",
		DisplayName: "Learner",
		Description: "Consumes published course content within enrolled courses.",
		UserType:    UserTypeStudent,
		Level:       11,
		AccessRights: []string{
			"courses:catalog:read",
			"courses:content:read",
			"content:media:read",
		},
	},
}

// Seed installs the builtin catalog and roles into a fresh store. Existing
// entries are left untouched.
func Seed(ctx context.Context, store Store) error {
	now := time.Now().UTC()
	for _, right := range BuiltinRights {
		parsed, err := ParseRight(right.Name)
		if err != nil {
			return err
		}
		right.Domain = parsed.Domain
		right.Resource = parsed.Resource
		right.Action = parsed.Action
		right.Active = true
		right.CreatedAt = now
		if _, err := store.CreateRight(ctx, right); err != nil && !isConflict(err) {
			return err
		}
	}
	for _, role := range BuiltinRoles {
		role.ID = ids.New()
		role.Active = true
		role.CreatedAt = now
		role.UpdatedAt = now
		if _, err := store.CreateRole(ctx, role); err != nil && !isConflict(err) {
			return err
		}
	}
	return nil
}

func isConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
