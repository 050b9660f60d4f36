package department

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func seedNode(t *testing.T, store *InMemory, id, name, code, parentID string, visible bool) Department {
	t.Helper()
	d, err := store.Create(context.Background(), Department{
		ID:        id,
		Name:      name,
		Code:      code,
		ParentID:  parentID,
		IsVisible: visible,
		Active:    true,
	})
	if err != nil {
		t.Fatalf("create department %q: %v", name, err)
	}
	return d
}

func TestCreateEnforcesSingleRoot(t *testing.T) {
	store := NewInMemory()
	seedNode(t, store, "root", "Master", "master", "", false)

	_, err := store.Create(context.Background(), Department{ID: "root2", Name: "Other", Code: "other", Active: true})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("second root: got %v, want ErrConflict", err)
	}
}

func TestCreateRejectsDuplicateCode(t *testing.T) {
	store := NewInMemory()
	seedNode(t, store, "root", "Master", "master", "", false)
	seedNode(t, store, "eng", "Engineering", "eng", "root", true)

	_, err := store.Create(context.Background(), Department{ID: "eng2", Name: "Engineering 2", Code: "eng", ParentID: "root", Active: true})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate code: got %v, want ErrConflict", err)
	}
}

func TestCreateEnforcesMaxDepth(t *testing.T) {
	store := NewInMemory()
	parent := seedNode(t, store, "d0", "Master", "master", "", false)
	for i := 1; i <= MaxDepth; i++ {
		parent = seedNode(t, store, fmt.Sprintf("d%d", i), fmt.Sprintf("Level %d", i), fmt.Sprintf("level-%d", i), parent.ID, true)
	}
	if parent.Depth != MaxDepth {
		t.Fatalf("deepest node depth = %d, want %d", parent.Depth, MaxDepth)
	}

	_, err := store.Create(context.Background(), Department{ID: "toodeep", Name: "Too Deep", Code: "too-deep", ParentID: parent.ID, Active: true})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("past max depth: got %v, want ErrInvalidInput", err)
	}
}

func TestListHierarchicalOrder(t *testing.T) {
	store := NewInMemory()
	seedNode(t, store, "root", "Master", "master", "", false)
	seedNode(t, store, "sci", "Science", "sci", "root", true)
	seedNode(t, store, "arts", "Arts", "arts", "root", true)
	seedNode(t, store, "bio", "Biology", "bio", "sci", true)

	list, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	pos := make(map[string]int, len(list))
	for i, d := range list {
		pos[d.ID] = i
	}
	for _, d := range list {
		if d.ParentID == "" {
			continue
		}
		if pos[d.ParentID] > pos[d.ID] {
			t.Fatalf("department %q listed before its parent %q", d.ID, d.ParentID)
		}
	}
	if pos["arts"] > pos["sci"] {
		t.Fatalf("siblings not ordered by name: arts at %d, sci at %d", pos["arts"], pos["sci"])
	}
}

func TestReparentRejectsCycle(t *testing.T) {
	store := NewInMemory()
	seedNode(t, store, "root", "Master", "master", "", false)
	seedNode(t, store, "a", "A", "a", "root", true)
	seedNode(t, store, "b", "B", "b", "a", true)
	seedNode(t, store, "c", "C", "c", "b", true)

	_, err := store.Reparent(context.Background(), "a", "c")
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("cyclic reparent: got %v, want ErrInvalidInput", err)
	}
	_, err = store.Reparent(context.Background(), "a", "a")
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("self reparent: got %v, want ErrInvalidInput", err)
	}
}

func TestReparentShiftsSubtreeDepths(t *testing.T) {
	store := NewInMemory()
	seedNode(t, store, "root", "Master", "master", "", false)
	seedNode(t, store, "a", "A", "a", "root", true)
	seedNode(t, store, "b", "B", "b", "root", true)
	seedNode(t, store, "b1", "B1", "b1", "b", true)

	moved, err := store.Reparent(context.Background(), "b", "a")
	if err != nil {
		t.Fatalf("reparent: %v", err)
	}
	if moved.ParentID != "a" || moved.Depth != 2 {
		t.Fatalf("moved department = %+v, want parent a at depth 2", moved)
	}
	child, _ := store.Get(context.Background(), "b1")
	if child.Depth != 3 {
		t.Fatalf("descendant depth = %d, want 3", child.Depth)
	}
}

func TestReparentRejectsDepthOverflow(t *testing.T) {
	store := NewInMemory()
	parent := seedNode(t, store, "d0", "Master", "master", "", false)
	for i := 1; i <= MaxDepth; i++ {
		parent = seedNode(t, store, fmt.Sprintf("d%d", i), fmt.Sprintf("Level %d", i), fmt.Sprintf("level-%d", i), parent.ID, true)
	}
	seedNode(t, store, "side", "Side", "side", "d0", true)
	seedNode(t, store, "sidekid", "Side Kid", "side-kid", "side", true)

	// side's subtree is two levels tall; hanging it off the deepest
	// node would push sidekid past the limit.
	_, err := store.Reparent(context.Background(), "side", parent.ID)
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("overflowing reparent: got %v, want ErrInvalidInput", err)
	}
}

func TestSoftDeleteConstraints(t *testing.T) {
	store := NewInMemory()
	seedNode(t, store, "root", "Master", "master", "", false)
	seedNode(t, store, "a", "A", "a", "root", true)
	seedNode(t, store, "a1", "A1", "a1", "a", true)

	if err := store.SoftDelete(context.Background(), "root"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("delete root: got %v, want ErrInvalidInput", err)
	}
	if err := store.SoftDelete(context.Background(), "a"); !errors.Is(err, ErrConflict) {
		t.Fatalf("delete with active child: got %v, want ErrConflict", err)
	}
	if err := store.SoftDelete(context.Background(), "a1"); err != nil {
		t.Fatalf("delete leaf: %v", err)
	}
	if err := store.SoftDelete(context.Background(), "a"); err != nil {
		t.Fatalf("delete after children gone: %v", err)
	}
	d, _ := store.Get(context.Background(), "a")
	if d.Active {
		t.Fatalf("soft-deleted department still active")
	}
}
