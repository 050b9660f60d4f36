package department

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// InMemory keeps the department tree in process memory. It is the
// backing store for tests and for running without Postgres.
type InMemory struct {
	mu       sync.RWMutex
	byID     map[string]Department
	byCode   map[string]string
	children map[string][]string
	rootID   string
}

func NewInMemory() *InMemory {
	return &InMemory{
		byID:     make(map[string]Department),
		byCode:   make(map[string]string),
		children: make(map[string][]string),
	}
}

func (s *InMemory) Create(ctx context.Context, d Department) (Department, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d.ID == "" {
		return Department{}, fmt.Errorf("%w: department id is required", ErrInvalidInput)
	}
	if _, exists := s.byID[d.ID]; exists {
		return Department{}, fmt.Errorf("%w: department %q already exists", ErrConflict, d.ID)
	}
	if _, exists := s.byCode[d.Code]; exists {
		return Department{}, fmt.Errorf("%w: department code %q already in use", ErrConflict, d.Code)
	}

	if d.ParentID == "" {
		if s.rootID != "" {
			return Department{}, fmt.Errorf("%w: root department already exists", ErrConflict)
		}
		d.Depth = 0
	} else {
		parent, ok := s.byID[d.ParentID]
		if !ok {
			return Department{}, fmt.Errorf("%w: parent department %q", ErrNotFound, d.ParentID)
		}
		if !parent.Active {
			return Department{}, fmt.Errorf("%w: parent department %q is inactive", ErrInvalidInput, d.ParentID)
		}
		d.Depth = parent.Depth + 1
		if d.Depth > MaxDepth {
			return Department{}, fmt.Errorf("%w: department would exceed maximum depth %d", ErrInvalidInput, MaxDepth)
		}
	}

	s.byID[d.ID] = d
	s.byCode[d.Code] = d.ID
	if d.ParentID == "" {
		s.rootID = d.ID
	} else {
		s.children[d.ParentID] = append(s.children[d.ParentID], d.ID)
	}
	return d, nil
}

func (s *InMemory) Get(ctx context.Context, id string) (Department, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.byID[id]
	if !ok {
		return Department{}, fmt.Errorf("%w: department %q", ErrNotFound, id)
	}
	return d, nil
}

func (s *InMemory) GetByCode(ctx context.Context, code string) (Department, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byCode[code]
	if !ok {
		return Department{}, fmt.Errorf("%w: department code %q", ErrNotFound, code)
	}
	return s.byID[id], nil
}

// List walks the tree depth-first from the root so that every parent
// precedes its children; siblings are ordered by name.
func (s *InMemory) List(ctx context.Context) ([]Department, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.rootID == "" {
		return nil, nil
	}
	var out []Department
	s.walk(s.rootID, &out)
	return out, nil
}

func (s *InMemory) walk(id string, out *[]Department) {
	d := s.byID[id]
	*out = append(*out, d)
	for _, childID := range s.sortedChildren(id) {
		s.walk(childID, out)
	}
}

func (s *InMemory) sortedChildren(parentID string) []string {
	ids := append([]string(nil), s.children[parentID]...)
	sort.Slice(ids, func(i, j int) bool {
		return s.byID[ids[i]].Name < s.byID[ids[j]].Name
	})
	return ids
}

func (s *InMemory) Children(ctx context.Context, parentID string) ([]Department, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.byID[parentID]; !ok {
		return nil, fmt.Errorf("%w: department %q", ErrNotFound, parentID)
	}
	var out []Department
	for _, childID := range s.sortedChildren(parentID) {
		out = append(out, s.byID[childID])
	}
	return out, nil
}

func (s *InMemory) Update(ctx context.Context, id string, upd DepartmentUpdate) (Department, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.byID[id]
	if !ok {
		return Department{}, fmt.Errorf("%w: department %q", ErrNotFound, id)
	}
	if upd.Name != nil {
		d.Name = *upd.Name
	}
	if upd.IsVisible != nil {
		d.IsVisible = *upd.IsVisible
	}
	s.byID[id] = d
	return d, nil
}

// Reparent moves a department and its whole subtree under a new parent.
// The move is rejected when it would create a cycle or push any
// descendant past MaxDepth. All depth updates happen under one lock.
func (s *InMemory) Reparent(ctx context.Context, id, newParentID string) (Department, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.byID[id]
	if !ok {
		return Department{}, fmt.Errorf("%w: department %q", ErrNotFound, id)
	}
	if d.ParentID == "" {
		return Department{}, fmt.Errorf("%w: the root department cannot be reparented", ErrInvalidInput)
	}
	parent, ok := s.byID[newParentID]
	if !ok {
		return Department{}, fmt.Errorf("%w: parent department %q", ErrNotFound, newParentID)
	}
	if !parent.Active {
		return Department{}, fmt.Errorf("%w: parent department %q is inactive", ErrInvalidInput, newParentID)
	}
	if newParentID == id {
		return Department{}, fmt.Errorf("%w: department cannot be its own parent", ErrInvalidInput)
	}

	// Walking from the new parent to the root must never pass through
	// the department being moved.
	seen := map[string]bool{}
	for cur := newParentID; cur != ""; {
		if cur == id {
			return Department{}, fmt.Errorf("%w: reparenting %q under %q would create a cycle", ErrInvalidInput, id, newParentID)
		}
		if seen[cur] {
			return Department{}, fmt.Errorf("%w: department tree is corrupted at %q", ErrInvalidInput, cur)
		}
		seen[cur] = true
		cur = s.byID[cur].ParentID
	}

	newDepth := parent.Depth + 1
	delta := newDepth - d.Depth
	if deepest := s.maxSubtreeDepth(id); deepest+delta > MaxDepth {
		return Department{}, fmt.Errorf("%w: reparenting would exceed maximum depth %d", ErrInvalidInput, MaxDepth)
	}

	s.detachChild(d.ParentID, id)
	s.children[newParentID] = append(s.children[newParentID], id)
	d.ParentID = newParentID
	s.byID[id] = d
	s.shiftDepth(id, delta)
	return s.byID[id], nil
}

func (s *InMemory) maxSubtreeDepth(id string) int {
	deepest := s.byID[id].Depth
	for _, childID := range s.children[id] {
		if d := s.maxSubtreeDepth(childID); d > deepest {
			deepest = d
		}
	}
	return deepest
}

func (s *InMemory) shiftDepth(id string, delta int) {
	d := s.byID[id]
	d.Depth += delta
	s.byID[id] = d
	for _, childID := range s.children[id] {
		s.shiftDepth(childID, delta)
	}
}

func (s *InMemory) detachChild(parentID, id string) {
	kids := s.children[parentID]
	for i, childID := range kids {
		if childID == id {
			s.children[parentID] = append(kids[:i], kids[i+1:]...)
			return
		}
	}
}

func (s *InMemory) SoftDelete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("%w: department %q", ErrNotFound, id)
	}
	if d.ParentID == "" {
		return fmt.Errorf("%w: the root department cannot be deleted", ErrInvalidInput)
	}
	for _, childID := range s.children[id] {
		if s.byID[childID].Active {
			return fmt.Errorf("%w: department %q still has active children", ErrConflict, id)
		}
	}
	d.Active = false
	s.byID[id] = d
	return nil
}

// InMemoryCurrent tracks current-department selections in memory.
type InMemoryCurrent struct {
	mu      sync.RWMutex
	current map[string]string
}

func NewInMemoryCurrent() *InMemoryCurrent {
	return &InMemoryCurrent{current: make(map[string]string)}
}

func (s *InMemoryCurrent) SetCurrent(ctx context.Context, userID, departmentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current[userID] = departmentID
	return nil
}

func (s *InMemoryCurrent) Current(ctx context.Context, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.current[userID]
	if !ok {
		return "", fmt.Errorf("%w: no current department for user %q", ErrNotFound, userID)
	}
	return id, nil
}
