package fx

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/consolbatch/internal/ledger"
)

// AccountCTA receives the cumulative translation adjustment.
const AccountCTA = "CTA"

// MissingRateError reports a pair without a usable rate.
type MissingRateError struct {
	Pair   string
	Method Method
}

func (e *MissingRateError) Error() string {
	return fmt.Sprintf("fx: missing %s rate for %s", e.Method, e.Pair)
}

// Converter applies FX policy rules to unit balances.
type Converter struct {
	policy Policy
	quotes map[string]Quote
}

// NewConverter constructs a converter over the given quotes keyed by pair.
func NewConverter(policy Policy, quotes map[string]Quote) *Converter {
	if quotes == nil {
		quotes = map[string]Quote{}
	}
	return &Converter{policy: policy, quotes: quotes}
}

// Convert translates lines held in currency into the reporting currency. P&L
// lines use the profit and loss method, balance sheet lines the balance sheet
// method. The returned difference is the converted total minus the local
// total at the closing rate; callers post its negation to AccountCTA.
func (c *Converter) Convert(lines []ledger.Line, currency string) ([]ledger.Line, decimal.Decimal, error) {
	out := make([]ledger.Line, len(lines))
	if !c.policy.NeedsTranslation(currency) {
		copy(out, lines)
		return out, decimal.Zero, nil
	}
	pair := c.policy.Pair(currency)
	quote, ok := c.quotes[pair]
	if !ok {
		return nil, decimal.Zero, &MissingRateError{Pair: pair, Method: c.policy.ProfitLossMethod}
	}
	closing := quote.Rate(MethodClosing)
	if closing <= 0 {
		return nil, decimal.Zero, &MissingRateError{Pair: pair, Method: MethodClosing}
	}

	converted := decimal.Zero
	local := decimal.Zero
	for i, line := range lines {
		method := c.policy.BalanceSheetMethod
		if line.Type == ledger.TypePL {
			method = c.policy.ProfitLossMethod
		}
		rate := quote.Rate(method)
		if rate <= 0 {
			return nil, decimal.Zero, &MissingRateError{Pair: pair, Method: method}
		}
		line.Amount = line.Amount.Mul(decimal.NewFromFloat(rate)).Round(2)
		out[i] = line
		converted = converted.Add(line.Amount)
		local = local.Add(lines[i].Amount)
	}
	diff := converted.Sub(local.Mul(decimal.NewFromFloat(closing)).Round(2))
	return out, diff, nil
}
