package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"lernia.org/internal/access"
)

func (s *Store) CreateRight(ctx context.Context, right access.AccessRight) (access.AccessRight, error) {
	if s.db == nil {
		return access.AccessRight{}, errors.New("database connection unavailable")
	}
	row := s.db.QueryRowContext(ctx, `
		insert into access_rights (name, domain, resource, action, description, sensitive, sensitivity_category, active)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		returning created_at
	`, right.Name, string(right.Domain), right.Resource, right.Action, right.Description,
		right.Sensitive, right.SensitivityCategory, right.Active)
	if err := row.Scan(&right.CreatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return access.AccessRight{}, fmt.Errorf("%w: access right %q already exists", access.ErrConflict, right.Name)
		}
		return access.AccessRight{}, err
	}
	return right, nil
}

const rightColumns = `name, domain, resource, action, description, sensitive, sensitivity_category, active, created_at`

func scanRight(row interface{ Scan(...any) error }) (access.AccessRight, error) {
	var r access.AccessRight
	var domain string
	err := row.Scan(&r.Name, &domain, &r.Resource, &r.Action, &r.Description,
		&r.Sensitive, &r.SensitivityCategory, &r.Active, &r.CreatedAt)
	r.Domain = access.Domain(domain)
	return r, err
}

func (s *Store) RightByName(ctx context.Context, name string) (access.AccessRight, error) {
	if s.db == nil {
		return access.AccessRight{}, errors.New("database connection unavailable")
	}
	r, err := scanRight(s.db.QueryRowContext(ctx,
		`select `+rightColumns+` from access_rights where name = $1`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return access.AccessRight{}, fmt.Errorf("%w: access right %q", access.ErrNotFound, name)
	}
	if err != nil {
		return access.AccessRight{}, err
	}
	return r, nil
}

func (s *Store) ListRights(ctx context.Context, filter access.RightFilter) ([]access.AccessRight, int, error) {
	if s.db == nil {
		return nil, 0, errors.New("database connection unavailable")
	}
	var (
		where []string
		args  []any
		idx   = 1
	)
	if filter.Domain != "" {
		where = append(where, fmt.Sprintf("domain = $%d", idx))
		args = append(args, string(filter.Domain))
		idx++
	}
	if filter.Sensitive != nil {
		where = append(where, fmt.Sprintf("sensitive = $%d", idx))
		args = append(args, *filter.Sensitive)
		idx++
	}
	if !filter.IncludeInactive {
		where = append(where, "active")
	}
	clause := ""
	if len(where) > 0 {
		clause = " where " + strings.Join(where, " and ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `select count(*) from access_rights`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`select %s from access_rights%s order by domain, resource, action limit $%d offset $%d`,
		rightColumns, clause, idx, idx+1)
	args = append(args, filter.Limit, filter.Offset)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []access.AccessRight
	for rows.Next() {
		r, err := scanRight(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (s *Store) RightsByDomain(ctx context.Context, domain access.Domain) ([]access.AccessRight, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx,
		`select `+rightColumns+` from access_rights where domain = $1 and active order by resource, action`,
		string(domain))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []access.AccessRight
	for rows.Next() {
		r, err := scanRight(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) DeactivateRight(ctx context.Context, name string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `update access_rights set active = false where name = $1`, name)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return fmt.Errorf("%w: access right %q", access.ErrNotFound, name)
	}
	return nil
}

const roleColumns = `id, name, display_name, description, user_type, access_rights, level, active, created_at, updated_at`

func scanRole(row interface{ Scan(...any) error }) (access.RoleDefinition, error) {
	var (
		role      access.RoleDefinition
		userType  string
		rawRights []byte
	)
	err := row.Scan(&role.ID, &role.Name, &role.DisplayName, &role.Description, &userType,
		&rawRights, &role.Level, &role.Active, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		return access.RoleDefinition{}, err
	}
	role.UserType = access.UserType(userType)
	if len(rawRights) > 0 {
		if err := json.Unmarshal(rawRights, &role.AccessRights); err != nil {
			return access.RoleDefinition{}, fmt.Errorf("decode access rights: %w", err)
		}
	}
	return role, nil
}

func (s *Store) CreateRole(ctx context.Context, role access.RoleDefinition) (access.RoleDefinition, error) {
	if s.db == nil {
		return access.RoleDefinition{}, errors.New("database connection unavailable")
	}
	rights, err := json.Marshal(role.AccessRights)
	if err != nil {
		return access.RoleDefinition{}, fmt.Errorf("marshal access rights: %w", err)
	}
	row := s.db.QueryRowContext(ctx, `
		insert into role_definitions (id, name, display_name, description, user_type, access_rights, level, active)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		returning created_at, updated_at
	`, role.ID, role.Name, role.DisplayName, role.Description, string(role.UserType), rights, role.Level, role.Active)
	if err := row.Scan(&role.CreatedAt, &role.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return access.RoleDefinition{}, fmt.Errorf("%w: role %q already exists", access.ErrConflict, role.Name)
		}
		return access.RoleDefinition{}, err
	}
	return role, nil
}

func (s *Store) RoleByName(ctx context.Context, name string) (access.RoleDefinition, error) {
	if s.db == nil {
		return access.RoleDefinition{}, errors.New("database connection unavailable")
	}
	role, err := scanRole(s.db.QueryRowContext(ctx,
		`select `+roleColumns+` from role_definitions where name = $1`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return access.RoleDefinition{}, fmt.Errorf("%w: role %q", access.ErrNotFound, name)
	}
	if err != nil {
		return access.RoleDefinition{}, err
	}
	return role, nil
}

func (s *Store) ListRoles(ctx context.Context, includeInactive bool) ([]access.RoleDefinition, error) {
	return s.queryRoles(ctx, `select `+roleColumns+` from role_definitions`+activeClause(includeInactive)+` order by level desc, name`)
}

func (s *Store) RolesByUserType(ctx context.Context, userType access.UserType, includeInactive bool) ([]access.RoleDefinition, error) {
	return s.queryRoles(ctx,
		`select `+roleColumns+` from role_definitions where user_type = $1`+andActiveClause(includeInactive)+` order by level desc, name`,
		string(userType))
}

func activeClause(includeInactive bool) string {
	if includeInactive {
		return ""
	}
	return " where active"
}

func andActiveClause(includeInactive bool) string {
	if includeInactive {
		return ""
	}
	return " and active"
}

func (s *Store) queryRoles(ctx context.Context, query string, args ...any) ([]access.RoleDefinition, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []access.RoleDefinition
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) UpdateRole(ctx context.Context, name string, upd access.RoleUpdate) (access.RoleDefinition, error) {
	if s.db == nil {
		return access.RoleDefinition{}, errors.New("database connection unavailable")
	}
	var (
		sets []string
		args []any
		idx  = 1
	)
	if upd.DisplayName != nil {
		sets = append(sets, fmt.Sprintf("display_name = $%d", idx))
		args = append(args, *upd.DisplayName)
		idx++
	}
	if upd.Description != nil {
		sets = append(sets, fmt.Sprintf("description = $%d", idx))
		args = append(args, *upd.Description)
		idx++
	}
	if upd.Level != nil {
		sets = append(sets, fmt.Sprintf("level = $%d", idx))
		args = append(args, *upd.Level)
		idx++
	}
	if len(sets) > 0 {
		sets = append(sets, "updated_at = now()")
		query := fmt.Sprintf(`update role_definitions set %s where name = $%d`, strings.Join(sets, ", "), idx)
		args = append(args, name)
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return access.RoleDefinition{}, err
		}
		aff, err := res.RowsAffected()
		if err != nil {
			return access.RoleDefinition{}, err
		}
		if aff == 0 {
			return access.RoleDefinition{}, fmt.Errorf("%w: role %q", access.ErrNotFound, name)
		}
	}
	return s.RoleByName(ctx, name)
}

func (s *Store) ReplaceRoleAccessRights(ctx context.Context, name string, rights []string) (access.RoleDefinition, error) {
	if s.db == nil {
		return access.RoleDefinition{}, errors.New("database connection unavailable")
	}
	raw, err := json.Marshal(rights)
	if err != nil {
		return access.RoleDefinition{}, fmt.Errorf("marshal access rights: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`update role_definitions set access_rights = $1, updated_at = now() where name = $2`, raw, name)
	if err != nil {
		return access.RoleDefinition{}, err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return access.RoleDefinition{}, err
	}
	if aff == 0 {
		return access.RoleDefinition{}, fmt.Errorf("%w: role %q", access.ErrNotFound, name)
	}
	return s.RoleByName(ctx, name)
}

// DeleteRole reassigns memberships to the replacement and removes the
// role inside one transaction. With no replacement the delete fails as
// soon as any active membership still points at the role.
func (s *Store) DeleteRole(ctx context.Context, name, reassignTo string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var dummy int
	err = tx.QueryRowContext(ctx, `select 1 from role_definitions where name = $1 for update`, name).Scan(&dummy)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: role %q", access.ErrNotFound, name)
	}
	if err != nil {
		return err
	}

	var dependents int
	if err := tx.QueryRowContext(ctx,
		`select count(*) from memberships where active and roles ? $1`, name).Scan(&dependents); err != nil {
		return err
	}
	if dependents > 0 {
		if reassignTo == "" {
			return fmt.Errorf("%w: role %q is assigned to %d active memberships", access.ErrConflict, name, dependents)
		}
		if _, err := tx.ExecContext(ctx, `
			update memberships
			set roles = (roles - $1) || case when roles ? $2 then '[]'::jsonb else to_jsonb(array[$2]) end
			where active and roles ? $1
		`, name, reassignTo); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `delete from role_definitions where name = $1`, name); err != nil {
		return err
	}
	return tx.Commit()
}

const membershipColumns = `user_id, user_type, department_id, roles, assigned_at, active`

func scanMembership(row interface{ Scan(...any) error }) (access.Membership, error) {
	var (
		m        access.Membership
		userType string
		rawRoles []byte
	)
	err := row.Scan(&m.UserID, &userType, &m.DepartmentID, &rawRoles, &m.AssignedAt, &m.Active)
	if err != nil {
		return access.Membership{}, err
	}
	m.UserType = access.UserType(userType)
	if len(rawRoles) > 0 {
		if err := json.Unmarshal(rawRoles, &m.Roles); err != nil {
			return access.Membership{}, fmt.Errorf("decode roles: %w", err)
		}
	}
	return m, nil
}

func (s *Store) UpsertMembership(ctx context.Context, m access.Membership) (access.Membership, error) {
	if s.db == nil {
		return access.Membership{}, errors.New("database connection unavailable")
	}
	roles, err := json.Marshal(m.Roles)
	if err != nil {
		return access.Membership{}, fmt.Errorf("marshal roles: %w", err)
	}
	row := s.db.QueryRowContext(ctx, `
		insert into memberships (user_id, user_type, department_id, roles, active)
		values ($1, $2, $3, $4, $5)
		on conflict (user_id, user_type, department_id) do update
		set roles = excluded.roles, active = excluded.active, assigned_at = now()
		returning assigned_at
	`, m.UserID, string(m.UserType), m.DepartmentID, roles, m.Active)
	if err := row.Scan(&m.AssignedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return access.Membership{}, fmt.Errorf("%w: department %q", access.ErrNotFound, m.DepartmentID)
		}
		return access.Membership{}, err
	}
	return m, nil
}

func (s *Store) Membership(ctx context.Context, userID string, userType access.UserType, departmentID string) (access.Membership, error) {
	if s.db == nil {
		return access.Membership{}, errors.New("database connection unavailable")
	}
	m, err := scanMembership(s.db.QueryRowContext(ctx, `
		select `+membershipColumns+` from memberships
		where user_id = $1 and user_type = $2 and department_id = $3
	`, userID, string(userType), departmentID))
	if errors.Is(err, sql.ErrNoRows) {
		return access.Membership{}, fmt.Errorf("%w: no %s membership for user %q in department %q",
			access.ErrNotFound, userType, userID, departmentID)
	}
	if err != nil {
		return access.Membership{}, err
	}
	return m, nil
}

func (s *Store) MembershipsByUser(ctx context.Context, userID string) ([]access.Membership, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+membershipColumns+` from memberships
		where user_id = $1
		order by user_type, department_id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []access.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) DeactivateMembership(ctx context.Context, userID string, userType access.UserType, departmentID string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `
		update memberships set active = false
		where user_id = $1 and user_type = $2 and department_id = $3
	`, userID, string(userType), departmentID)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return fmt.Errorf("%w: no %s membership for user %q in department %q",
			access.ErrNotFound, userType, userID, departmentID)
	}
	return nil
}

func (s *Store) ActiveMembershipCountByDepartment(ctx context.Context, departmentID string) (int, error) {
	if s.db == nil {
		return 0, errors.New("database connection unavailable")
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		`select count(*) from memberships where active and department_id = $1`, departmentID).Scan(&n)
	return n, err
}
