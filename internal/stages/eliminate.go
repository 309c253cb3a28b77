package stages

import (
	"context"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/consolbatch/internal/hierarchy"
	"github.com/odyssey-erp/consolbatch/internal/ledger"
	"github.com/odyssey-erp/consolbatch/internal/pipeline"
)

// AccountICDifference absorbs unmatched intercompany balances so that
// eliminations never change the group total.
const AccountICDifference = "IC_DIFFERENCE"

type pairKey struct{ a, b string }

func newPairKey(x, y string) pairKey {
	if x > y {
		x, y = y, x
	}
	return pairKey{a: x, b: y}
}

type exposure struct {
	// sides holds the signed balance booked by each member against the other.
	sides map[string]decimal.Decimal
	typ   ledger.AccountType
}

// EliminateIntercompany reverses balances that the parent and its immediate
// children hold against one another. Children are taken at their folded
// share. Unmatched amounts per pair are parked on AccountICDifference.
func (r *Run) EliminateIntercompany(ctx context.Context, unit hierarchy.Unit, period string) error {
	if err := r.ready(); err != nil {
		return err
	}
	own, err := r.get(ctx, unit.Name, period, pipeline.StageTranslate)
	if err != nil {
		return err
	}
	children, err := r.foldedChildren(ctx, unit, period)
	if err != nil {
		return err
	}

	members := map[string]bool{unit.Name: true}
	for _, child := range children {
		members[child.name] = true
	}
	sources := append([]foldedChild{{name: unit.Name, lines: own.Lines}}, children...)

	var reversals []ledger.Line
	pairs := make(map[pairKey]*exposure)
	for _, src := range sources {
		for _, line := range src.lines {
			if line.Counterparty == "" || line.Counterparty == src.name || !members[line.Counterparty] {
				continue
			}
			reversal := line
			reversal.Amount = line.Amount.Neg()
			reversals = append(reversals, reversal)

			key := newPairKey(src.name, line.Counterparty)
			exp, ok := pairs[key]
			if !ok {
				exp = &exposure{sides: map[string]decimal.Decimal{}, typ: line.Type}
				pairs[key] = exp
			}
			exp.sides[src.name] = exp.sides[src.name].Add(line.Amount)
		}
	}

	keys := make([]pairKey, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].a != keys[j].a {
			return keys[i].a < keys[j].a
		}
		return keys[i].b < keys[j].b
	})

	eliminated := decimal.Zero
	for _, k := range keys {
		exp := pairs[k]
		a, b := exp.sides[k.a], exp.sides[k.b]
		eliminated = eliminated.Add(eliminationAmount(a, b))
		mismatch := a.Add(b)
		if mismatch.IsZero() {
			continue
		}
		reversals = append(reversals, ledger.Line{Account: AccountICDifference, Type: exp.typ, Amount: mismatch})
		r.log().WarnContext(ctx, "intercompany mismatch",
			slog.String("parent", unit.Name),
			slog.String("period", period),
			slog.String("member_a", k.a),
			slog.String("member_b", k.b),
			slog.String("amount_a", a.StringFixed(2)),
			slog.String("amount_b", b.StringFixed(2)),
			slog.String("difference", mismatch.StringFixed(2)))
	}

	r.log().DebugContext(ctx, "completed intercompany eliminations",
		slog.String("parent", unit.Name),
		slog.String("period", period),
		slog.Int("pairs", len(keys)),
		slog.String("total_amount", eliminated.StringFixed(2)))
	return r.put(ctx, unit, period, pipeline.StageEliminate, r.engine.policy.ReportingCurrency, ledger.Merge(reversals))
}

// eliminationAmount is the matched part of a pair: the smaller absolute side,
// zero when either side is missing.
func eliminationAmount(a, b decimal.Decimal) decimal.Decimal {
	a, b = a.Abs(), b.Abs()
	if a.IsZero() || b.IsZero() {
		return decimal.Zero
	}
	return decimal.Min(a, b).Round(2)
}
