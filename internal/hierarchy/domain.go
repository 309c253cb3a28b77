package hierarchy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ScopeAll selects every unit reachable from the root.
const ScopeAll = "All"

var (
	// ErrScopeNotFound indicates a scope selector that matches no unit.
	ErrScopeNotFound = errors.New("hierarchy: scope not found")
	// ErrInvalidHierarchy wraps structural problems found while building a snapshot.
	ErrInvalidHierarchy = errors.New("hierarchy: invalid hierarchy")
)

// Method enumerates how a subsidiary is folded into its parent.
type Method string

const (
	// MethodFull includes 100% of every line and books NCI for the outside share.
	MethodFull Method = "FULL"
	// MethodProportional includes the owned share of every line.
	MethodProportional Method = "PROPORTIONAL"
	// MethodEquity posts a single pickup of the owned share of net income.
	MethodEquity Method = "EQUITY"
)

// ParseMethod normalises a stored consolidation method attribute.
func ParseMethod(raw string) (Method, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "", "FULL", "HOLDING", "FULLCONSOLIDATION":
		return MethodFull, nil
	case "PROPORTIONAL", "PROP":
		return MethodProportional, nil
	case "EQUITY", "EQUITYMETHOD", "EQUITY_METHOD":
		return MethodEquity, nil
	default:
		return "", fmt.Errorf("hierarchy: unknown consolidation method %q", raw)
	}
}

// Unit is a node of the organisational hierarchy subject to consolidation.
type Unit struct {
	Name      string
	Parent    string
	Children  []string
	Ownership decimal.Decimal
	Method    Method
	Currency  string
}

// IsRoot reports whether the unit has no parent.
func (u Unit) IsRoot() bool {
	return u.Parent == ""
}

// IsParent reports whether the unit consolidates at least one child.
func (u Unit) IsParent() bool {
	return len(u.Children) > 0
}

// FullOwnership is the percentage loaders assign when a unit's ownership is
// not recorded. An explicit 0 is kept as 0.
var FullOwnership = decimal.NewFromInt(100)

// OwnershipRatio returns the ownership percentage as a 0..1 ratio.
func (u Unit) OwnershipRatio() decimal.Decimal {
	return u.Ownership.Div(decimal.NewFromInt(100))
}

// Branch is an ordered, bottom-up group of units scheduled together.
type Branch struct {
	// Top is the top-level child the branch was built from, or the root name
	// for the root-only and sequential fallback branches.
	Top   string
	Units []Unit
	// RootOnly marks the trailing branch that must wait for every other branch.
	RootOnly bool
}

// Names lists the unit names of the branch in execution order.
func (b Branch) Names() []string {
	names := make([]string, len(b.Units))
	for i, u := range b.Units {
		names[i] = u.Name
	}
	return names
}

// Currencies lists the distinct functional currencies of units in order of
// first appearance.
func Currencies(units []Unit) []string {
	seen := make(map[string]struct{}, len(units))
	var out []string
	for _, u := range units {
		if u.Currency == "" {
			continue
		}
		if _, ok := seen[u.Currency]; ok {
			continue
		}
		seen[u.Currency] = struct{}{}
		out = append(out, u.Currency)
	}
	return out
}
