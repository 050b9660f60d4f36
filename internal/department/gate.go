package department

import (
	"context"
	"fmt"
)

// PrivilegeChecker answers the two questions the gate asks about a
// user: do they hold special department privileges anywhere, and which
// roles do they hold in a given department.
type PrivilegeChecker interface {
	SpecialDepartmentPrivileges(ctx context.Context, userID string) (bool, error)
	RolesInDepartment(ctx context.Context, userID, departmentID string) ([]string, error)
}

// Gate is the visibility layer between users and the department tree.
// Privileged users see every active department. Everyone else sees only
// visible departments whose ancestors are all visible too; a hidden
// node hides its entire subtree. The Master root is structural: hiding
// it keeps the root itself out of listings without hiding the tree
// below it. Blocked lookups report not-found, so a hidden department is
// indistinguishable from a missing one.
type Gate struct {
	store   Store
	current CurrentStore
	checker PrivilegeChecker
}

func NewGate(store Store, current CurrentStore, checker PrivilegeChecker) *Gate {
	return &Gate{store: store, current: current, checker: checker}
}

// AccessibleDepartments lists the departments the user may see, parents
// before children.
func (g *Gate) AccessibleDepartments(ctx context.Context, userID string) ([]Department, error) {
	privileged, err := g.checker.SpecialDepartmentPrivileges(ctx, userID)
	if err != nil {
		return nil, err
	}
	all, err := g.store.List(ctx)
	if err != nil {
		return nil, err
	}

	// List order guarantees a parent is seen before its children, so
	// one pass with an excluded set prunes whole subtrees. A hidden
	// root drops out of the listing without taking its children along.
	excluded := make(map[string]bool)
	var out []Department
	for _, d := range all {
		hidden := !d.Active || (!privileged && !d.IsVisible)
		if hidden || excluded[d.ParentID] {
			if d.ParentID != "" || !d.Active {
				excluded[d.ID] = true
			}
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// ChildDepartments lists the direct children of a department the user
// may see. A parent hidden from the user reads as missing.
func (g *Gate) ChildDepartments(ctx context.Context, userID, parentID string) ([]Department, error) {
	privileged, err := g.checker.SpecialDepartmentPrivileges(ctx, userID)
	if err != nil {
		return nil, err
	}
	parent, err := g.store.Get(ctx, parentID)
	if err != nil {
		return nil, err
	}
	if !parent.Active {
		return nil, fmt.Errorf("%w: department %q", ErrNotFound, parentID)
	}
	if !privileged {
		hidden, err := g.hiddenFromUnprivileged(ctx, parent)
		if err != nil {
			return nil, err
		}
		if hidden {
			return nil, fmt.Errorf("%w: department %q", ErrNotFound, parentID)
		}
	}

	children, err := g.store.Children(ctx, parentID)
	if err != nil {
		return nil, err
	}
	var out []Department
	for _, d := range children {
		if !d.Active {
			continue
		}
		if !privileged && !d.IsVisible {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// hiddenFromUnprivileged walks up checking the visibility flag at every
// level below the root. The root's own flag only matters when it is the
// department being asked about.
func (g *Gate) hiddenFromUnprivileged(ctx context.Context, d Department) (bool, error) {
	if !d.IsVisible {
		return true, nil
	}
	for d.ParentID != "" {
		parent, err := g.store.Get(ctx, d.ParentID)
		if err != nil {
			return false, err
		}
		if parent.ParentID != "" && !parent.IsVisible {
			return true, nil
		}
		d = parent
	}
	return false, nil
}

// Switch makes targetID the user's current department and returns the
// roles the user holds there. Users without a membership in the target
// and without special privileges are turned away with not-found, the
// same answer a missing department or one inside a hidden subtree gives.
func (g *Gate) Switch(ctx context.Context, userID, targetID string) ([]string, error) {
	target, err := g.store.Get(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if !target.Active {
		return nil, fmt.Errorf("%w: department %q", ErrNotFound, targetID)
	}
	privileged, err := g.checker.SpecialDepartmentPrivileges(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !privileged {
		hidden, err := g.hiddenFromUnprivileged(ctx, target)
		if err != nil {
			return nil, err
		}
		if hidden {
			return nil, fmt.Errorf("%w: department %q", ErrNotFound, targetID)
		}
	}
	roles, err := g.checker.RolesInDepartment(ctx, userID, targetID)
	if err != nil {
		return nil, err
	}
	if len(roles) == 0 && !privileged {
		return nil, fmt.Errorf("%w: department %q", ErrNotFound, targetID)
	}
	if err := g.current.SetCurrent(ctx, userID, targetID); err != nil {
		return nil, err
	}
	return roles, nil
}

// Current returns the user's currently selected department.
func (g *Gate) Current(ctx context.Context, userID string) (Department, error) {
	id, err := g.current.Current(ctx, userID)
	if err != nil {
		return Department{}, err
	}
	return g.store.Get(ctx, id)
}
