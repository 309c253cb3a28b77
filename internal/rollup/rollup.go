// Package rollup folds a subsidiary's consolidated lines into its parent
// according to the subsidiary's consolidation method.
package rollup

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/consolbatch/internal/hierarchy"
	"github.com/odyssey-erp/consolbatch/internal/ledger"
)

// Func folds subsidiary lines given the parent's ownership ratio (0..1).
type Func func(lines []ledger.Line, ownership decimal.Decimal) []ledger.Line

// ForMethod selects the roll-up function for a consolidation method.
func ForMethod(method hierarchy.Method) (Func, error) {
	switch method {
	case hierarchy.MethodFull:
		return Full, nil
	case hierarchy.MethodProportional:
		return Proportional, nil
	case hierarchy.MethodEquity:
		return Equity, nil
	default:
		return nil, fmt.Errorf("rollup: unsupported method %q", method)
	}
}

// Fold applies the child's own method and ownership to its lines.
func Fold(child hierarchy.Unit, lines []ledger.Line) ([]ledger.Line, error) {
	fn, err := ForMethod(child.Method)
	if err != nil {
		return nil, fmt.Errorf("unit %s: %w", child.Name, err)
	}
	return fn(lines, child.OwnershipRatio()), nil
}

// Full includes every line at 100%. Below full ownership the outside share
// of net income is booked as a non-controlling interest entry.
func Full(lines []ledger.Line, ownership decimal.Decimal) []ledger.Line {
	out := make([]ledger.Line, len(lines), len(lines)+1)
	copy(out, lines)
	if ownership.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return out
	}
	nci := decimal.NewFromInt(1).Sub(ownership).Mul(ledger.NetIncome(lines)).Round(2)
	if nci.IsZero() {
		return out
	}
	return append(out, ledger.Line{Account: ledger.AccountNCI, Type: ledger.TypeBS, Amount: nci})
}

// Proportional includes the owned share of every line and books no NCI.
func Proportional(lines []ledger.Line, ownership decimal.Decimal) []ledger.Line {
	out := ledger.Scale(lines, ownership)
	for i := range out {
		out[i].Amount = out[i].Amount.Round(2)
	}
	return out
}

// Equity replaces line-by-line inclusion with a single pickup of the owned
// share of net income.
func Equity(lines []ledger.Line, ownership decimal.Decimal) []ledger.Line {
	pickup := ownership.Mul(ledger.NetIncome(lines)).Round(2)
	if pickup.IsZero() {
		return nil
	}
	return []ledger.Line{{Account: ledger.AccountEquityPickup, Type: ledger.TypePL, Amount: pickup}}
}
