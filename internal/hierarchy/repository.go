package hierarchy

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository loads hierarchy snapshots from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a hierarchy repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const listUnitsSQL = `
SELECT u.name,
       COALESCE(u.parent_name, ''),
       COALESCE(u.ownership_pct, 100)::text,
       u.consolidation_method,
       u.functional_currency
FROM consol_units u
WHERE u.active
ORDER BY u.sort_order, u.name`

// LoadUnits returns every active unit in stored sibling order.
func (r *Repository) LoadUnits(ctx context.Context) ([]Unit, error) {
	rows, err := r.pool.Query(ctx, listUnitsSQL)
	if err != nil {
		return nil, fmt.Errorf("hierarchy: list units: %w", err)
	}
	defer rows.Close()

	units := make([]Unit, 0)
	for rows.Next() {
		var (
			u         Unit
			ownership string
			method    string
		)
		if err := rows.Scan(&u.Name, &u.Parent, &ownership, &method, &u.Currency); err != nil {
			return nil, fmt.Errorf("hierarchy: scan unit: %w", err)
		}
		if u.Ownership, err = decimal.NewFromString(ownership); err != nil {
			return nil, fmt.Errorf("hierarchy: unit %s ownership: %w", u.Name, err)
		}
		if u.Method, err = ParseMethod(method); err != nil {
			return nil, fmt.Errorf("unit %s: %w", u.Name, err)
		}
		units = append(units, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("hierarchy: iterate units: %w", err)
	}
	return units, nil
}

// LoadTree loads and validates the current hierarchy.
func (r *Repository) LoadTree(ctx context.Context) (*Tree, error) {
	units, err := r.LoadUnits(ctx)
	if err != nil {
		return nil, err
	}
	return NewTree(units)
}
