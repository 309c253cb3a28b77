package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/consolbatch/internal/app"
	"github.com/odyssey-erp/consolbatch/internal/batch"
	"github.com/odyssey-erp/consolbatch/internal/consol"
	"github.com/odyssey-erp/consolbatch/internal/platform/cache"
	"github.com/odyssey-erp/consolbatch/internal/report"
	"github.com/odyssey-erp/consolbatch/internal/store"
)

// exitUnitFailures signals a completed run in which some units failed.
const exitUnitFailures = 2

type runOptions struct {
	scope    string
	periods  string
	scenario string
	parallel int
	gate     string
	strict   bool
	store    string
	csvPath  string
	quiet    bool
}

func newRunCommand(g *globalOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a consolidation batch in this process",
		Example: `  consolctl run --snapshot group.yaml --periods 2024-01..2024-03
  consolctl run --scope EU --periods 2024-06 --gate block --csv timings.csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, g, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.scope, "scope", "All", `unit to consolidate with its descendants, or "All"`)
	f.StringVar(&opts.periods, "periods", "", "period code, inclusive range (2024-01..2024-03) or comma list")
	f.StringVar(&opts.scenario, "scenario", "", "scenario label (defaults to CONSOL_SCENARIO)")
	f.IntVar(&opts.parallel, "parallel", 0, "branches consolidated concurrently (defaults to CONSOL_MAX_PARALLEL)")
	f.StringVar(&opts.gate, "gate", "", "root gating after branch failures: proceed or block")
	f.BoolVar(&opts.strict, "strict", false, "reject scopes that are not in the hierarchy")
	f.StringVar(&opts.store, "store", "memory", "consolidated data store: memory or redis")
	f.StringVar(&opts.csvPath, "csv", "", "write per-unit timings as CSV to this file")
	f.BoolVar(&opts.quiet, "quiet", false, "suppress progress output")
	return cmd
}

func runBatch(cmd *cobra.Command, g *globalOptions, opts *runOptions) error {
	if err := requireFlag("periods", opts.periods); err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := g.config(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("parallel") {
		cfg.MaxParallel = opts.parallel
	}
	if opts.gate != "" {
		cfg.RootGate = opts.gate
	}
	if opts.strict {
		cfg.StrictScope = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := app.NewLoggerTo(g.stderr, cfg)

	src, err := openSource(ctx, cfg, g.snapshotPath)
	if err != nil {
		return err
	}
	defer src.close()

	st, closeStore, err := openStore(ctx, opts.store, cfg.RedisAddr, cfg.StoreTTL)
	if err != nil {
		return err
	}
	defer closeStore()

	settings, err := consol.SettingsFromConfig(cfg)
	if err != nil {
		return err
	}
	settings.ReportingCurrency = src.reportingCurrency
	service := consol.NewService(consol.Dependencies{
		Hierarchy: src.tree,
		Balances:  src.balances,
		Quotes:    src.quotes,
		Store:     st,
		Logger:    logger,
	}, settings)

	sinks := consol.Sinks{Progress: batch.NopProgress{}, Log: batch.SlogLog{Logger: logger}}
	if !opts.quiet {
		sinks.Progress = progressPrinter(g.stderr)
	}
	stats, err := service.Run(ctx, batch.Request{Scope: opts.scope, Periods: opts.periods, Scenario: opts.scenario}, sinks)
	if err != nil {
		return err
	}

	if _, err := io.WriteString(g.stdout, report.Render(stats)); err != nil {
		return err
	}
	if opts.csvPath != "" {
		if err := writeCSV(opts.csvPath, stats); err != nil {
			return err
		}
	}
	if stats.Failed > 0 {
		return &ExitError{Code: exitUnitFailures, Err: fmt.Errorf("run %s: %d unit(s) failed", stats.RunID, stats.Failed)}
	}
	return nil
}

func openStore(ctx context.Context, kind, redisAddr string, ttl time.Duration) (store.Store, func(), error) {
	switch kind {
	case "", "memory":
		return store.NewMemory(), func() {}, nil
	case "redis":
		client, err := cache.New(ctx, redisAddr)
		if err != nil {
			return nil, nil, err
		}
		return store.NewRedis(client, ttl), func() { _ = client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("--store must be memory or redis, got %q", kind)
	}
}

func progressPrinter(w io.Writer) batch.ProgressFunc {
	return func(ctx context.Context, percent int, message string) error {
		_, err := fmt.Fprintf(w, "[%3d%%] %s\n", percent, message)
		return err
	}
}

func writeCSV(path string, stats batch.Statistics) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
	}()
	return report.WriteTimingsCSV(f, stats)
}
