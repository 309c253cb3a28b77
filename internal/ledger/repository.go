package ledger

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository reads unit balances from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a ledger repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Source = (*Repository)(nil)

const balancesSQL = `
SELECT b.account_code,
       b.account_type,
       COALESCE(b.counterparty, ''),
       SUM(b.amount)::text
FROM consol_unit_balances b
WHERE b.unit_name = $1 AND b.period_code = $2
GROUP BY b.account_code, b.account_type, b.counterparty
ORDER BY b.account_code`

// Balances returns the local-currency trial balance for a unit and period.
func (r *Repository) Balances(ctx context.Context, unit, period string) ([]Line, error) {
	rows, err := r.pool.Query(ctx, balancesSQL, unit, period)
	if err != nil {
		return nil, fmt.Errorf("ledger: balances %s/%s: %w", unit, period, err)
	}
	defer rows.Close()

	lines := make([]Line, 0)
	for rows.Next() {
		var (
			l       Line
			typ     string
			amount  string
			scanErr error
		)
		if scanErr = rows.Scan(&l.Account, &typ, &l.Counterparty, &amount); scanErr != nil {
			return nil, fmt.Errorf("ledger: scan balance: %w", scanErr)
		}
		if l.Type, scanErr = ParseAccountType(typ); scanErr != nil {
			return nil, scanErr
		}
		if l.Amount, scanErr = decimal.NewFromString(amount); scanErr != nil {
			return nil, fmt.Errorf("ledger: amount for %s: %w", l.Account, scanErr)
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterate balances: %w", err)
	}
	return lines, nil
}
