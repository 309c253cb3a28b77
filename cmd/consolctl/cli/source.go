package cli

import (
	"context"

	"github.com/odyssey-erp/consolbatch/internal/app"
	"github.com/odyssey-erp/consolbatch/internal/consol"
	"github.com/odyssey-erp/consolbatch/internal/fx"
	"github.com/odyssey-erp/consolbatch/internal/hierarchy"
	"github.com/odyssey-erp/consolbatch/internal/ledger"
	"github.com/odyssey-erp/consolbatch/internal/platform/db"
	"github.com/odyssey-erp/consolbatch/internal/snapshot"
)

// dataSource bundles hierarchy, balances and quotes from one backend.
type dataSource struct {
	tree              consol.TreeLoader
	balances          ledger.Source
	quotes            fx.QuoteProvider
	reportingCurrency string
	close             func()
}

func openSource(ctx context.Context, cfg *app.Config, snapshotPath string) (*dataSource, error) {
	if snapshotPath != "" {
		snap, err := snapshot.Load(snapshotPath)
		if err != nil {
			return nil, err
		}
		reporting := snap.ReportingCurrency
		if reporting == "" {
			reporting = cfg.ReportingCurrency
		}
		return &dataSource{
			tree:              snap,
			balances:          snap,
			quotes:            snap,
			reportingCurrency: reporting,
			close:             func() {},
		}, nil
	}

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		return nil, err
	}
	return &dataSource{
		tree:              hierarchy.NewRepository(pool),
		balances:          ledger.NewRepository(pool),
		quotes:            fx.NewRepository(pool),
		reportingCurrency: cfg.ReportingCurrency,
		close:             pool.Close,
	}, nil
}
