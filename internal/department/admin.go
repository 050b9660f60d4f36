package department

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lernia.org/internal/ids"
)

// MembershipCounter reports how many active memberships point at a
// department. The membership store implements it.
type MembershipCounter interface {
	ActiveMembershipCountByDepartment(ctx context.Context, departmentID string) (int, error)
}

// Admin performs the privileged lifecycle operations on the tree:
// create, rename, toggle visibility, reparent and soft delete.
type Admin struct {
	store       Store
	memberships MembershipCounter
}

func NewAdmin(store Store, memberships MembershipCounter) *Admin {
	return &Admin{store: store, memberships: memberships}
}

func (a *Admin) Create(ctx context.Context, name, code, parentID string, isVisible bool) (Department, error) {
	if len(name) < 2 || len(name) > 100 {
		return Department{}, fmt.Errorf("%w: name must be between 2 and 100 characters", ErrInvalidInput)
	}
	if !codePattern.MatchString(code) {
		return Department{}, fmt.Errorf("%w: code %q must be 2-50 lowercase letters, digits or hyphens", ErrInvalidInput, code)
	}
	if parentID == "" {
		return Department{}, fmt.Errorf("%w: parent department is required", ErrInvalidInput)
	}
	return a.store.Create(ctx, Department{
		ID:        ids.New(),
		Name:      name,
		Code:      code,
		ParentID:  parentID,
		IsVisible: isVisible,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	})
}

func (a *Admin) Update(ctx context.Context, id string, upd DepartmentUpdate) (Department, error) {
	if upd.Name != nil && (len(*upd.Name) < 2 || len(*upd.Name) > 100) {
		return Department{}, fmt.Errorf("%w: name must be between 2 and 100 characters", ErrInvalidInput)
	}
	return a.store.Update(ctx, id, upd)
}

func (a *Admin) Reparent(ctx context.Context, id, newParentID string) (Department, error) {
	if newParentID == "" {
		return Department{}, fmt.Errorf("%w: new parent department is required", ErrInvalidInput)
	}
	return a.store.Reparent(ctx, id, newParentID)
}

// Delete soft-deletes a department. The store refuses when active
// children remain; active memberships block deletion here.
func (a *Admin) Delete(ctx context.Context, id string) error {
	n, err := a.memberships.ActiveMembershipCountByDepartment(ctx, id)
	if err != nil {
		return fmt.Errorf("count memberships: %w", err)
	}
	if n > 0 {
		return fmt.Errorf("%w: department %q still has %d active memberships", ErrConflict, id, n)
	}
	return a.store.SoftDelete(ctx, id)
}

// SeedMaster ensures the canonical root department exists. Safe to call
// repeatedly; the root is hidden from unprivileged users.
func SeedMaster(ctx context.Context, store Store) (Department, error) {
	root, err := store.GetByCode(ctx, MasterCode)
	if err == nil {
		return root, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Department{}, err
	}
	return store.Create(ctx, Department{
		ID:        ids.New(),
		Name:      "Master",
		Code:      MasterCode,
		IsVisible: false,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	})
}
