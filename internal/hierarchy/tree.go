package hierarchy

import (
	"context"
	"fmt"
	"strings"
)

// Provider exposes the hierarchy snapshot the orchestrator consolidates over.
type Provider interface {
	RootUnit(ctx context.Context) (Unit, error)
	Unit(ctx context.Context, name string) (Unit, bool, error)
	Children(ctx context.Context, name string) ([]Unit, error)
	DescendantsBottomUp(ctx context.Context, name string, includeSelf bool) ([]Unit, error)
}

// Tree is an immutable in-memory hierarchy snapshot.
type Tree struct {
	root  string
	units map[string]Unit
}

var _ Provider = (*Tree)(nil)

// NewTree validates the supplied units and links children in input order.
// Children are derived from each unit's Parent reference.
func NewTree(units []Unit) (*Tree, error) {
	if len(units) == 0 {
		return nil, fmt.Errorf("%w: no units", ErrInvalidHierarchy)
	}
	index := make(map[string]Unit, len(units))
	order := make([]string, 0, len(units))
	for _, u := range units {
		name := strings.TrimSpace(u.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: unit without name", ErrInvalidHierarchy)
		}
		if _, dup := index[name]; dup {
			return nil, fmt.Errorf("%w: duplicate unit %s", ErrInvalidHierarchy, name)
		}
		u.Name = name
		u.Parent = strings.TrimSpace(u.Parent)
		u.Currency = strings.ToUpper(strings.TrimSpace(u.Currency))
		u.Children = nil
		if u.Method == "" {
			u.Method = MethodFull
		}
		if u.Ownership.IsNegative() || u.Ownership.GreaterThan(FullOwnership) {
			return nil, fmt.Errorf("%w: unit %s ownership %s outside 0..100", ErrInvalidHierarchy, name, u.Ownership)
		}
		index[name] = u
		order = append(order, name)
	}

	root := ""
	for _, name := range order {
		u := index[name]
		if u.Parent == "" {
			if root != "" {
				return nil, fmt.Errorf("%w: multiple roots %s and %s", ErrInvalidHierarchy, root, name)
			}
			root = name
			continue
		}
		parent, ok := index[u.Parent]
		if !ok {
			return nil, fmt.Errorf("%w: unit %s references unknown parent %s", ErrInvalidHierarchy, name, u.Parent)
		}
		parent.Children = append(parent.Children, name)
		index[u.Parent] = parent
	}
	if root == "" {
		return nil, fmt.Errorf("%w: no root unit", ErrInvalidHierarchy)
	}

	tree := &Tree{root: root, units: index}
	// With one parent per unit and a single root, anything unreachable sits on a cycle.
	reached := len(tree.postOrder(root, true))
	if reached != len(index) {
		return nil, fmt.Errorf("%w: %d unit(s) unreachable from root %s (cycle)", ErrInvalidHierarchy, len(index)-reached, root)
	}
	return tree, nil
}

// RootUnit returns the single root of the hierarchy.
func (t *Tree) RootUnit(ctx context.Context) (Unit, error) {
	return t.units[t.root], nil
}

// Unit looks a unit up by name.
func (t *Tree) Unit(ctx context.Context, name string) (Unit, bool, error) {
	u, ok := t.units[name]
	return u, ok, nil
}

// Children returns the direct children of a unit in stored order.
func (t *Tree) Children(ctx context.Context, name string) ([]Unit, error) {
	u, ok := t.units[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrScopeNotFound, name)
	}
	children := make([]Unit, 0, len(u.Children))
	for _, child := range u.Children {
		children = append(children, t.units[child])
	}
	return children, nil
}

// DescendantsBottomUp returns the sub-tree below name in post-order.
func (t *Tree) DescendantsBottomUp(ctx context.Context, name string, includeSelf bool) ([]Unit, error) {
	if _, ok := t.units[name]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrScopeNotFound, name)
	}
	return t.postOrder(name, includeSelf), nil
}

// Len reports the number of units in the snapshot.
func (t *Tree) Len() int {
	return len(t.units)
}

func (t *Tree) postOrder(name string, includeSelf bool) []Unit {
	out := make([]Unit, 0)
	visited := make(map[string]struct{}, len(t.units))
	var walk func(string)
	walk = func(current string) {
		if _, seen := visited[current]; seen {
			return
		}
		visited[current] = struct{}{}
		u := t.units[current]
		for _, child := range u.Children {
			walk(child)
		}
		if current != name || includeSelf {
			out = append(out, u)
		}
	}
	walk(name)
	return out
}
