package department

import (
	"context"
	"errors"
	"testing"
)

type fakeChecker struct {
	privileged map[string]bool
	// roles[userID][departmentID]
	roles map[string]map[string][]string
}

func (f *fakeChecker) SpecialDepartmentPrivileges(ctx context.Context, userID string) (bool, error) {
	return f.privileged[userID], nil
}

func (f *fakeChecker) RolesInDepartment(ctx context.Context, userID, departmentID string) ([]string, error) {
	return f.roles[userID][departmentID], nil
}

// seedCampus builds:
//
//	master (hidden root)
//	└── science (visible)
//	    ├── biology (visible)
//	    └── restricted (hidden)
//	        └── lab (visible, but under a hidden parent)
func seedCampus(t *testing.T) *InMemory {
	t.Helper()
	store := NewInMemory()
	seedNode(t, store, "master", "Master", "master", "", false)
	seedNode(t, store, "science", "Science", "science", "master", true)
	seedNode(t, store, "biology", "Biology", "biology", "science", true)
	seedNode(t, store, "restricted", "Restricted", "restricted", "science", false)
	seedNode(t, store, "lab", "Lab", "lab", "restricted", true)
	return store
}

func newGate(store *InMemory, checker *fakeChecker) *Gate {
	return NewGate(store, NewInMemoryCurrent(), checker)
}

func TestAccessibleDepartmentsVisibility(t *testing.T) {
	store := seedCampus(t)
	checker := &fakeChecker{
		privileged: map[string]bool{"admin": true},
		roles:      map[string]map[string][]string{},
	}
	gate := newGate(store, checker)

	got, err := gate.AccessibleDepartments(context.Background(), "student")
	if err != nil {
		t.Fatalf("accessible departments: %v", err)
	}
	// The hidden root drops out of the listing but does not take the
	// visible chain below it along; the hidden branch stays hidden.
	want := []string{"science", "biology"}
	if len(got) != len(want) {
		t.Fatalf("unprivileged sees %d departments, want %d (%+v)", len(got), len(want), got)
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("department[%d] = %q, want %q", i, got[i].ID, id)
		}
	}

	admin, err := gate.AccessibleDepartments(context.Background(), "admin")
	if err != nil {
		t.Fatalf("accessible departments (privileged): %v", err)
	}
	if len(admin) != 5 {
		t.Fatalf("privileged sees %d departments, want 5", len(admin))
	}
	if admin[0].ID != "master" {
		t.Fatalf("hierarchical order broken: first is %q, want master", admin[0].ID)
	}
}

func TestAccessibleDepartmentsBelowVisibleRoot(t *testing.T) {
	store := NewInMemory()
	seedNode(t, store, "master", "Master", "master", "", true)
	seedNode(t, store, "science", "Science", "science", "master", true)
	seedNode(t, store, "restricted", "Restricted", "restricted", "master", false)
	seedNode(t, store, "lab", "Lab", "lab", "restricted", true)
	gate := newGate(store, &fakeChecker{privileged: map[string]bool{}, roles: map[string]map[string][]string{}})

	got, err := gate.AccessibleDepartments(context.Background(), "student")
	if err != nil {
		t.Fatalf("accessible departments: %v", err)
	}
	want := []string{"master", "science"}
	if len(got) != len(want) {
		t.Fatalf("got %d departments, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("department[%d] = %q, want %q", i, got[i].ID, id)
		}
	}
}

// A hidden department hides its entire subtree from unprivileged users,
// even descendants whose own visibility flag is set.
func TestChildDepartmentsHiddenSubtree(t *testing.T) {
	store := seedCampus(t)
	checker := &fakeChecker{
		privileged: map[string]bool{"admin": true},
		roles:      map[string]map[string][]string{},
	}
	gate := newGate(store, checker)

	_, err := gate.ChildDepartments(context.Background(), "student", "restricted")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("children of hidden parent: got %v, want ErrNotFound", err)
	}

	// lab is flagged visible but sits under a hidden node.
	_, err = gate.ChildDepartments(context.Background(), "student", "lab")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("children of node under hidden ancestor: got %v, want ErrNotFound", err)
	}

	kids, err := gate.ChildDepartments(context.Background(), "admin", "restricted")
	if err != nil {
		t.Fatalf("privileged children of hidden parent: %v", err)
	}
	if len(kids) != 1 || kids[0].ID != "lab" {
		t.Fatalf("privileged children = %+v, want [lab]", kids)
	}
}

func TestChildDepartmentsFiltersHiddenChildren(t *testing.T) {
	store := NewInMemory()
	seedNode(t, store, "master", "Master", "master", "", true)
	seedNode(t, store, "science", "Science", "science", "master", true)
	seedNode(t, store, "restricted", "Restricted", "restricted", "master", false)
	gate := newGate(store, &fakeChecker{privileged: map[string]bool{}, roles: map[string]map[string][]string{}})

	kids, err := gate.ChildDepartments(context.Background(), "student", "master")
	if err != nil {
		t.Fatalf("children: %v", err)
	}
	if len(kids) != 1 || kids[0].ID != "science" {
		t.Fatalf("children = %+v, want [science]", kids)
	}
}

func TestSwitchRequiresMembershipOrPrivilege(t *testing.T) {
	store := seedCampus(t)
	checker := &fakeChecker{
		privileged: map[string]bool{"admin": true},
		roles: map[string]map[string][]string{
			"teacher": {"biology": {"instructor"}},
		},
	}
	gate := newGate(store, checker)
	ctx := context.Background()

	roles, err := gate.Switch(ctx, "teacher", "biology")
	if err != nil {
		t.Fatalf("member switch: %v", err)
	}
	if len(roles) != 1 || roles[0] != "instructor" {
		t.Fatalf("switch roles = %v, want [instructor]", roles)
	}
	cur, err := gate.Current(ctx, "teacher")
	if err != nil || cur.ID != "biology" {
		t.Fatalf("current = %+v (%v), want biology", cur, err)
	}

	// No membership in science: masked as not-found.
	if _, err := gate.Switch(ctx, "teacher", "science"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("switch without membership: got %v, want ErrNotFound", err)
	}
	// Hidden target: same masked answer, whether or not it exists.
	if _, err := gate.Switch(ctx, "teacher", "restricted"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("switch to hidden: got %v, want ErrNotFound", err)
	}
	if _, err := gate.Switch(ctx, "teacher", "no-such-department"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("switch to missing: got %v, want ErrNotFound", err)
	}

	// Privileged users may switch anywhere, membership or not.
	if _, err := gate.Switch(ctx, "admin", "restricted"); err != nil {
		t.Fatalf("privileged switch to hidden: %v", err)
	}
}

func TestSwitchBlockedByHiddenAncestor(t *testing.T) {
	store := seedCampus(t)
	checker := &fakeChecker{
		privileged: map[string]bool{"admin": true},
		roles: map[string]map[string][]string{
			"tech": {"lab": {"lab-assistant"}},
		},
	}
	gate := newGate(store, checker)
	ctx := context.Background()

	// lab is visible itself but sits under hidden restricted; a hidden
	// node hides its whole subtree, membership notwithstanding.
	if _, err := gate.Switch(ctx, "tech", "lab"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("switch under hidden ancestor: got %v, want ErrNotFound", err)
	}

	if roles, err := gate.Switch(ctx, "admin", "lab"); err != nil || len(roles) != 0 {
		t.Fatalf("privileged switch under hidden ancestor: roles=%v err=%v", roles, err)
	}
	if cur, err := gate.Current(ctx, "admin"); err != nil || cur.ID != "lab" {
		t.Fatalf("current = %+v (%v), want lab", cur, err)
	}
}

func TestSwitchRejectsInactiveDepartment(t *testing.T) {
	store := seedCampus(t)
	if err := store.SoftDelete(context.Background(), "lab"); err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	checker := &fakeChecker{
		privileged: map[string]bool{"admin": true},
		roles:      map[string]map[string][]string{},
	}
	gate := newGate(store, checker)

	if _, err := gate.Switch(context.Background(), "admin", "lab"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("switch to inactive: got %v, want ErrNotFound", err)
	}
}

func TestAdminDeleteBlockedByMemberships(t *testing.T) {
	store := seedCampus(t)
	admin := NewAdmin(store, countFunc(func(deptID string) int {
		if deptID == "biology" {
			return 3
		}
		return 0
	}))
	ctx := context.Background()

	if err := admin.Delete(ctx, "biology"); !errors.Is(err, ErrConflict) {
		t.Fatalf("delete with memberships: got %v, want ErrConflict", err)
	}
	if err := admin.Delete(ctx, "lab"); err != nil {
		t.Fatalf("delete empty department: %v", err)
	}
}

type countFunc func(deptID string) int

func (f countFunc) ActiveMembershipCountByDepartment(ctx context.Context, departmentID string) (int, error) {
	return f(departmentID), nil
}

func TestSeedMasterIsIdempotent(t *testing.T) {
	store := NewInMemory()
	ctx := context.Background()
	first, err := SeedMaster(ctx, store)
	if err != nil {
		t.Fatalf("seed master: %v", err)
	}
	second, err := SeedMaster(ctx, store)
	if err != nil {
		t.Fatalf("seed master again: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("seed created a second root: %q vs %q", first.ID, second.ID)
	}
	if first.IsVisible {
		t.Fatalf("master root should be hidden")
	}
}
