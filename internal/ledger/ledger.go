package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// AccountType separates profit and loss lines from balance sheet lines.
type AccountType string

const (
	// TypePL marks profit and loss accounts; their sum is net income.
	TypePL AccountType = "PL"
	// TypeBS marks balance sheet accounts.
	TypeBS AccountType = "BS"
)

// Well-known accounts posted by the consolidation stages.
const (
	AccountNCI              = "NCI"
	AccountNCIShareOfIncome = "NCI_SHARE_OF_INCOME"
	AccountEquityPickup     = "EQUITY_PICKUP_INCOME"
	AccountInvestment       = "INVESTMENT_IN_ASSOCIATES"
)

// Line is a single signed amount on an account. Income and assets are
// positive, expenses and liabilities negative.
type Line struct {
	Account      string          `json:"account" yaml:"account"`
	Type         AccountType     `json:"type" yaml:"type"`
	Counterparty string          `json:"counterparty,omitempty" yaml:"counterparty,omitempty"`
	Amount       decimal.Decimal `json:"amount" yaml:"amount"`
}

// Source exposes local-currency balances per unit and period.
type Source interface {
	Balances(ctx context.Context, unit, period string) ([]Line, error)
}

// ParseAccountType normalises a stored account type.
func ParseAccountType(raw string) (AccountType, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "PL", "P&L", "INCOME", "EXPENSE", "REVENUE":
		return TypePL, nil
	case "BS", "ASSET", "LIABILITY", "EQUITY":
		return TypeBS, nil
	default:
		return "", fmt.Errorf("ledger: unknown account type %q", raw)
	}
}

// NetIncome sums the profit and loss lines.
func NetIncome(lines []Line) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		if l.Type == TypePL {
			total = total.Add(l.Amount)
		}
	}
	return total
}

// Total sums every line.
func Total(lines []Line) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Amount)
	}
	return total
}

// Scale multiplies every line by ratio.
func Scale(lines []Line, ratio decimal.Decimal) []Line {
	out := make([]Line, len(lines))
	for i, l := range lines {
		l.Amount = l.Amount.Mul(ratio)
		out[i] = l
	}
	return out
}

// Merge aggregates lines sharing account, type and counterparty, drops zero
// results and returns them in a stable order.
func Merge(groups ...[]Line) []Line {
	type key struct {
		account, counterparty string
		typ                   AccountType
	}
	totals := make(map[key]decimal.Decimal)
	for _, lines := range groups {
		for _, l := range lines {
			k := key{account: l.Account, counterparty: l.Counterparty, typ: l.Type}
			totals[k] = totals[k].Add(l.Amount)
		}
	}
	out := make([]Line, 0, len(totals))
	for k, amount := range totals {
		if amount.IsZero() {
			continue
		}
		out = append(out, Line{Account: k.account, Type: k.typ, Counterparty: k.counterparty, Amount: amount})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Account != out[j].Account {
			return out[i].Account < out[j].Account
		}
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].Counterparty < out[j].Counterparty
	})
	return out
}
