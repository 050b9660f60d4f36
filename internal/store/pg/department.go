package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"lernia.org/internal/department"
)

const departmentColumns = `id, name, code, coalesce(parent_id, ''), is_visible, depth, active, created_at`

func scanDepartment(row interface{ Scan(...any) error }) (department.Department, error) {
	var d department.Department
	err := row.Scan(&d.ID, &d.Name, &d.Code, &d.ParentID, &d.IsVisible, &d.Depth, &d.Active, &d.CreatedAt)
	return d, err
}

func (s *Store) Create(ctx context.Context, d department.Department) (department.Department, error) {
	if s.db == nil {
		return department.Department{}, errors.New("database connection unavailable")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return department.Department{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if d.ParentID == "" {
		var roots int
		if err := tx.QueryRowContext(ctx, `select count(*) from departments where parent_id is null`).Scan(&roots); err != nil {
			return department.Department{}, err
		}
		if roots > 0 {
			return department.Department{}, fmt.Errorf("%w: root department already exists", department.ErrConflict)
		}
		d.Depth = 0
	} else {
		var parentDepth int
		var parentActive bool
		err := tx.QueryRowContext(ctx,
			`select depth, active from departments where id = $1 for update`, d.ParentID).Scan(&parentDepth, &parentActive)
		if errors.Is(err, sql.ErrNoRows) {
			return department.Department{}, fmt.Errorf("%w: parent department %q", department.ErrNotFound, d.ParentID)
		}
		if err != nil {
			return department.Department{}, err
		}
		if !parentActive {
			return department.Department{}, fmt.Errorf("%w: parent department %q is inactive", department.ErrInvalidInput, d.ParentID)
		}
		d.Depth = parentDepth + 1
		if d.Depth > department.MaxDepth {
			return department.Department{}, fmt.Errorf("%w: department would exceed maximum depth %d",
				department.ErrInvalidInput, department.MaxDepth)
		}
	}

	row := tx.QueryRowContext(ctx, `
		insert into departments (id, name, code, parent_id, is_visible, depth, active)
		values ($1, $2, $3, nullif($4, ''), $5, $6, $7)
		returning created_at
	`, d.ID, d.Name, d.Code, d.ParentID, d.IsVisible, d.Depth, d.Active)
	if err := row.Scan(&d.CreatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return department.Department{}, fmt.Errorf("%w: department code %q already in use", department.ErrConflict, d.Code)
		}
		return department.Department{}, err
	}
	if err := tx.Commit(); err != nil {
		return department.Department{}, err
	}
	return d, nil
}

func (s *Store) Get(ctx context.Context, id string) (department.Department, error) {
	if s.db == nil {
		return department.Department{}, errors.New("database connection unavailable")
	}
	d, err := scanDepartment(s.db.QueryRowContext(ctx,
		`select `+departmentColumns+` from departments where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return department.Department{}, fmt.Errorf("%w: department %q", department.ErrNotFound, id)
	}
	if err != nil {
		return department.Department{}, err
	}
	return d, nil
}

func (s *Store) GetByCode(ctx context.Context, code string) (department.Department, error) {
	if s.db == nil {
		return department.Department{}, errors.New("database connection unavailable")
	}
	d, err := scanDepartment(s.db.QueryRowContext(ctx,
		`select `+departmentColumns+` from departments where code = $1`, code))
	if errors.Is(err, sql.ErrNoRows) {
		return department.Department{}, fmt.Errorf("%w: department code %q", department.ErrNotFound, code)
	}
	if err != nil {
		return department.Department{}, err
	}
	return d, nil
}

// List walks the tree with a recursive CTE so parents come out before
// their children, siblings ordered by name.
func (s *Store) List(ctx context.Context) ([]department.Department, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		with recursive tree (id, name, code, parent_id, is_visible, depth, active, created_at, path) as (
			select `+departmentColumns+`, array[name]
			from departments where parent_id is null
			union all
			select `+qualifiedDepartmentColumns("d")+`, tree.path || d.name
			from departments d join tree on d.parent_id = tree.id
		)
		select id, name, code, parent_id, is_visible, depth, active, created_at
		from tree order by path
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDepartments(rows)
}

func qualifiedDepartmentColumns(alias string) string {
	return alias + `.id, ` + alias + `.name, ` + alias + `.code, coalesce(` + alias + `.parent_id, ''), ` +
		alias + `.is_visible, ` + alias + `.depth, ` + alias + `.active, ` + alias + `.created_at`
}

func collectDepartments(rows *sql.Rows) ([]department.Department, error) {
	var out []department.Department
	for rows.Next() {
		d, err := scanDepartment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) Children(ctx context.Context, parentID string) ([]department.Department, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	if _, err := s.Get(ctx, parentID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`select `+departmentColumns+` from departments where parent_id = $1 order by name`, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDepartments(rows)
}

func (s *Store) Update(ctx context.Context, id string, upd department.DepartmentUpdate) (department.Department, error) {
	if s.db == nil {
		return department.Department{}, errors.New("database connection unavailable")
	}
	if upd.Name != nil || upd.IsVisible != nil {
		res, err := s.db.ExecContext(ctx, `
			update departments
			set name = coalesce($1, name), is_visible = coalesce($2, is_visible)
			where id = $3
		`, upd.Name, upd.IsVisible, id)
		if err != nil {
			return department.Department{}, err
		}
		aff, err := res.RowsAffected()
		if err != nil {
			return department.Department{}, err
		}
		if aff == 0 {
			return department.Department{}, fmt.Errorf("%w: department %q", department.ErrNotFound, id)
		}
	}
	return s.Get(ctx, id)
}

// Reparent moves a subtree under a new parent in one transaction. The
// cycle check asks whether the moved department is an ancestor of the
// new parent; the depth check finds the deepest descendant first.
func (s *Store) Reparent(ctx context.Context, id, newParentID string) (department.Department, error) {
	if s.db == nil {
		return department.Department{}, errors.New("database connection unavailable")
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return department.Department{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var curDepth int
	var curParent sql.NullString
	err = tx.QueryRowContext(ctx,
		`select depth, parent_id from departments where id = $1 for update`, id).Scan(&curDepth, &curParent)
	if errors.Is(err, sql.ErrNoRows) {
		return department.Department{}, fmt.Errorf("%w: department %q", department.ErrNotFound, id)
	}
	if err != nil {
		return department.Department{}, err
	}
	if !curParent.Valid {
		return department.Department{}, fmt.Errorf("%w: the root department cannot be reparented", department.ErrInvalidInput)
	}
	if newParentID == id {
		return department.Department{}, fmt.Errorf("%w: department cannot be its own parent", department.ErrInvalidInput)
	}

	var parentDepth int
	var parentActive bool
	err = tx.QueryRowContext(ctx,
		`select depth, active from departments where id = $1 for update`, newParentID).Scan(&parentDepth, &parentActive)
	if errors.Is(err, sql.ErrNoRows) {
		return department.Department{}, fmt.Errorf("%w: parent department %q", department.ErrNotFound, newParentID)
	}
	if err != nil {
		return department.Department{}, err
	}
	if !parentActive {
		return department.Department{}, fmt.Errorf("%w: parent department %q is inactive", department.ErrInvalidInput, newParentID)
	}

	var cyclic bool
	if err := tx.QueryRowContext(ctx, `
		with recursive ancestors as (
			select id, parent_id from departments where id = $1
			union all
			select d.id, d.parent_id from departments d join ancestors a on d.id = a.parent_id
		)
		select exists (select 1 from ancestors where id = $2)
	`, newParentID, id).Scan(&cyclic); err != nil {
		return department.Department{}, err
	}
	if cyclic {
		return department.Department{}, fmt.Errorf("%w: reparenting %q under %q would create a cycle",
			department.ErrInvalidInput, id, newParentID)
	}

	var deepest int
	if err := tx.QueryRowContext(ctx, `
		with recursive subtree as (
			select id, depth from departments where id = $1
			union all
			select d.id, d.depth from departments d join subtree s on d.parent_id = s.id
		)
		select max(depth) from subtree
	`, id).Scan(&deepest); err != nil {
		return department.Department{}, err
	}
	newDepth := parentDepth + 1
	if deepest+(newDepth-curDepth) > department.MaxDepth {
		return department.Department{}, fmt.Errorf("%w: reparenting would exceed maximum depth %d",
			department.ErrInvalidInput, department.MaxDepth)
	}

	if _, err := tx.ExecContext(ctx,
		`update departments set parent_id = $1 where id = $2`, newParentID, id); err != nil {
		return department.Department{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		with recursive subtree as (
			select id from departments where id = $1
			union all
			select d.id from departments d join subtree s on d.parent_id = s.id
		)
		update departments set depth = depth + $2 where id in (select id from subtree)
	`, id, newDepth-curDepth); err != nil {
		return department.Department{}, err
	}
	if err := tx.Commit(); err != nil {
		return department.Department{}, err
	}
	return s.Get(ctx, id)
}

func (s *Store) SoftDelete(ctx context.Context, id string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var parent sql.NullString
	err = tx.QueryRowContext(ctx,
		`select parent_id from departments where id = $1 for update`, id).Scan(&parent)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: department %q", department.ErrNotFound, id)
	}
	if err != nil {
		return err
	}
	if !parent.Valid {
		return fmt.Errorf("%w: the root department cannot be deleted", department.ErrInvalidInput)
	}

	var activeChildren int
	if err := tx.QueryRowContext(ctx,
		`select count(*) from departments where parent_id = $1 and active`, id).Scan(&activeChildren); err != nil {
		return err
	}
	if activeChildren > 0 {
		return fmt.Errorf("%w: department %q still has active children", department.ErrConflict, id)
	}

	if _, err := tx.ExecContext(ctx, `update departments set active = false where id = $1`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) SetCurrent(ctx context.Context, userID, departmentID string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	_, err := s.db.ExecContext(ctx, `
		insert into current_departments (user_id, department_id)
		values ($1, $2)
		on conflict (user_id) do update set department_id = excluded.department_id, selected_at = now()
	`, userID, departmentID)
	return err
}

func (s *Store) Current(ctx context.Context, userID string) (string, error) {
	if s.db == nil {
		return "", errors.New("database connection unavailable")
	}
	var id string
	err := s.db.QueryRowContext(ctx,
		`select department_id from current_departments where user_id = $1`, userID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: no current department for user %q", department.ErrNotFound, userID)
	}
	return id, err
}
