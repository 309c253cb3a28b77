package hierarchy

import (
	"context"
	"fmt"
	"sort"
)

// Partitioner regroups a bottom-up unit list into independent branches.
type Partitioner struct {
	provider Provider
}

// NewPartitioner constructs a partitioner over the given hierarchy provider.
func NewPartitioner(provider Provider) *Partitioner {
	return &Partitioner{provider: provider}
}

// Partition splits units into one branch per top-level child of the root,
// followed by a root-only branch when the root is selected. When the root has
// at most one child a single branch holding every unit in input order is
// returned. Flattening the result yields the input set exactly once.
func (p *Partitioner) Partition(ctx context.Context, units []Unit) ([]Branch, error) {
	if p == nil || p.provider == nil {
		return nil, fmt.Errorf("hierarchy partitioner not initialised")
	}
	if len(units) == 0 {
		return nil, nil
	}
	root, err := p.provider.RootUnit(ctx)
	if err != nil {
		return nil, fmt.Errorf("partition root: %w", err)
	}
	children, err := p.provider.Children(ctx, root.Name)
	if err != nil {
		return nil, fmt.Errorf("partition children of %s: %w", root.Name, err)
	}
	if len(children) <= 1 {
		all := make([]Unit, len(units))
		copy(all, units)
		return []Branch{{Top: root.Name, Units: all}}, nil
	}

	position := make(map[string]int, len(units))
	for i, u := range units {
		position[u.Name] = i
	}
	claimed := make(map[string]struct{}, len(units))
	branches := make([]Branch, 0, len(children)+1)
	for _, child := range children {
		subtree, err := p.provider.DescendantsBottomUp(ctx, child.Name, true)
		if err != nil {
			return nil, fmt.Errorf("partition branch %s: %w", child.Name, err)
		}
		selected := make([]int, 0, len(subtree))
		for _, u := range subtree {
			if idx, ok := position[u.Name]; ok {
				selected = append(selected, idx)
			}
		}
		if len(selected) == 0 {
			continue
		}
		sort.Ints(selected)
		branch := Branch{Top: child.Name, Units: make([]Unit, 0, len(selected))}
		for _, idx := range selected {
			branch.Units = append(branch.Units, units[idx])
			claimed[units[idx].Name] = struct{}{}
		}
		branches = append(branches, branch)
	}

	// Names unknown to the snapshot (non-strict single-unit scopes) still run,
	// each on its own branch ahead of the root.
	rootIdx := -1
	for i, u := range units {
		if u.Name == root.Name {
			rootIdx = i
			continue
		}
		if _, ok := claimed[u.Name]; !ok {
			branches = append(branches, Branch{Top: u.Name, Units: []Unit{u}})
		}
	}
	if rootIdx >= 0 {
		branches = append(branches, Branch{Top: root.Name, Units: []Unit{units[rootIdx]}, RootOnly: true})
	}
	return branches, nil
}
