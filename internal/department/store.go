package department

import "context"

// Store is the persistence boundary for the department tree. List and
// Children return departments in hierarchical order: parents always
// precede their children, siblings sort by name.
type Store interface {
	Create(ctx context.Context, d Department) (Department, error)
	Get(ctx context.Context, id string) (Department, error)
	GetByCode(ctx context.Context, code string) (Department, error)
	List(ctx context.Context) ([]Department, error)
	Children(ctx context.Context, parentID string) ([]Department, error)
	Update(ctx context.Context, id string, upd DepartmentUpdate) (Department, error)
	Reparent(ctx context.Context, id, newParentID string) (Department, error)
	SoftDelete(ctx context.Context, id string) error
}

// CurrentStore tracks each user's currently selected department for the
// duration of their session.
type CurrentStore interface {
	SetCurrent(ctx context.Context, userID, departmentID string) error
	Current(ctx context.Context, userID string) (string, error)
}
