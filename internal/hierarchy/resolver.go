package hierarchy

import (
	"context"
	"fmt"
	"strings"

	"github.com/odyssey-erp/consolbatch/internal/shared"
)

// Resolver turns a scope selector into a bottom-up ordered unit list.
type Resolver struct {
	provider Provider
	// Strict rejects names that match no unit instead of treating them as a
	// single-unit scope.
	Strict bool
}

// NewResolver constructs a resolver over the given hierarchy provider.
func NewResolver(provider Provider) *Resolver {
	return &Resolver{provider: provider}
}

// Resolve returns the units selected by scope in post-order: every unit
// appears strictly after all of its descendants.
func (r *Resolver) Resolve(ctx context.Context, scope string) ([]Unit, error) {
	if r == nil || r.provider == nil {
		return nil, fmt.Errorf("hierarchy resolver not initialised")
	}
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return nil, fmt.Errorf("%w: scope is required", shared.ErrConfiguration)
	}
	if strings.EqualFold(scope, ScopeAll) {
		root, err := r.provider.RootUnit(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve root: %w", err)
		}
		return r.provider.DescendantsBottomUp(ctx, root.Name, true)
	}
	unit, ok, err := r.provider.Unit(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("resolve scope %s: %w", scope, err)
	}
	if !ok {
		if r.Strict {
			return nil, fmt.Errorf("%w: %s", ErrScopeNotFound, scope)
		}
		return []Unit{{Name: scope}}, nil
	}
	if !unit.IsParent() {
		return []Unit{unit}, nil
	}
	return r.provider.DescendantsBottomUp(ctx, unit.Name, true)
}
