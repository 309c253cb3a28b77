package fx

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads FX quotes from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs an FX quote repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ QuoteProvider = (*Repository)(nil)

const quoteForPeriodSQL = `
SELECT average_rate, closing_rate
FROM fx_rates
WHERE pair = $1 AND as_of = $2
LIMIT 1`

// QuoteForPeriod resolves the FX quote for a pair at the start of a period.
func (r *Repository) QuoteForPeriod(ctx context.Context, asOf time.Time, pair string) (Quote, bool, error) {
	var quote Quote
	err := r.pool.QueryRow(ctx, quoteForPeriodSQL, strings.ToUpper(pair), asOf).Scan(&quote.Average, &quote.Closing)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Quote{}, false, nil
		}
		return Quote{}, false, fmt.Errorf("fx: quote %s: %w", pair, err)
	}
	return quote, true, nil
}
