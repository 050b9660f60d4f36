package access

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 500
)

// Catalog manages the canonical list of atomic access rights.
type Catalog struct {
	store Store
	now   func() time.Time
}

// NewCatalog constructs a Catalog backed by store.
func NewCatalog(store Store) (*Catalog, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidInput)
	}
	return &Catalog{store: store, now: time.Now}, nil
}

// CreateRight registers a new atomic right. The name is immutable afterwards;
// malformed or duplicate names are rejected before any write.
func (c *Catalog) CreateRight(ctx context.Context, right AccessRight) (AccessRight, error) {
	name := strings.TrimSpace(right.Name)
	parsed, err := ParseRight(name)
	if err != nil {
		return AccessRight{}, err
	}
	if !ValidDomain(parsed.Domain) {
		return AccessRight{}, fmt.Errorf("%w: unknown domain %q", ErrInvalidInput, parsed.Domain)
	}
	if right.Sensitive && strings.TrimSpace(right.SensitivityCategory) == "" {
		return AccessRight{}, fmt.Errorf("%w: sensitive rights require a sensitivity category", ErrInvalidInput)
	}

	right.Name = parsed.String()
	right.Domain = parsed.Domain
	right.Resource = parsed.Resource
	right.Action = parsed.Action
	right.Active = true
	right.CreatedAt = c.now().UTC()
	return c.store.CreateRight(ctx, right)
}

// Get looks up one right by its canonical name.
func (c *Catalog) Get(ctx context.Context, name string) (AccessRight, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return AccessRight{}, fmt.Errorf("%w: right name is required", ErrInvalidInput)
	}
	return c.store.RightByName(ctx, name)
}

// List returns one page of rights sorted by (domain, resource, action).
func (c *Catalog) List(ctx context.Context, filter RightFilter) (RightPage, error) {
	if filter.Domain != "" && !ValidDomain(filter.Domain) {
		return RightPage{}, fmt.Errorf("%w: unknown domain %q", ErrInvalidInput, filter.Domain)
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultPageLimit
	}
	if filter.Limit > maxPageLimit {
		return RightPage{}, fmt.Errorf("%w: limit must be between 1 and %d", ErrInvalidInput, maxPageLimit)
	}
	if filter.Offset < 0 {
		return RightPage{}, fmt.Errorf("%w: offset must not be negative", ErrInvalidInput)
	}
	rights, total, err := c.store.ListRights(ctx, filter)
	if err != nil {
		return RightPage{}, err
	}
	return RightPage{Rights: rights, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

// GetByDomain returns all active rights in a validated domain. A valid domain
// with zero rights yields ErrNotFound.
func (c *Catalog) GetByDomain(ctx context.Context, raw string) ([]AccessRight, error) {
	domain, err := ParseDomain(raw)
	if err != nil {
		return nil, err
	}
	rights, err := c.store.RightsByDomain(ctx, domain)
	if err != nil {
		return nil, err
	}
	if len(rights) == 0 {
		return nil, fmt.Errorf("%w: no access rights in domain %q", ErrNotFound, domain)
	}
	return rights, nil
}

// Deactivate soft-deletes a right. The record remains resolvable by name so
// role definitions that reference it stay explainable.
func (c *Catalog) Deactivate(ctx context.Context, name string) error {
	if !ValidRightName(name) {
		return fmt.Errorf("%w: malformed access right %q", ErrInvalidInput, name)
	}
	return c.store.DeactivateRight(ctx, strings.TrimSpace(name))
}
