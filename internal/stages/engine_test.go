package stages

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/consolbatch/internal/fx"
	"github.com/odyssey-erp/consolbatch/internal/hierarchy"
	"github.com/odyssey-erp/consolbatch/internal/ledger"
	"github.com/odyssey-erp/consolbatch/internal/pipeline"
	"github.com/odyssey-erp/consolbatch/internal/store"
)

type balances map[string][]ledger.Line

func (b balances) Balances(ctx context.Context, unit, period string) ([]ledger.Line, error) {
	return b[unit], nil
}

type countingQuotes struct {
	mu     sync.Mutex
	quotes map[string]fx.Quote
	calls  int
}

func (c *countingQuotes) QuoteForPeriod(ctx context.Context, asOf time.Time, pair string) (fx.Quote, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	q, ok := c.quotes[pair]
	return q, ok, nil
}

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func amounts(lines []ledger.Line) map[string]string {
	out := make(map[string]string, len(lines))
	for _, l := range lines {
		key := l.Account
		if l.Counterparty != "" {
			key += "@" + l.Counterparty
		}
		out[key] = l.Amount.StringFixed(2)
	}
	return out
}

func groupTree(t *testing.T) *hierarchy.Tree {
	t.Helper()
	tree, err := hierarchy.NewTree([]hierarchy.Unit{
		{Name: "R", Currency: "USD"},
		{Name: "A", Parent: "R", Currency: "USD", Ownership: d(100)},
		{Name: "B", Parent: "R", Currency: "USD", Ownership: d(60), Method: hierarchy.MethodProportional},
		{Name: "A1", Parent: "A", Currency: "USD", Ownership: d(80)},
	})
	require.NoError(t, err)
	return tree
}

func groupBalances(apAmount int64) balances {
	return balances{
		"A1": {
			{Account: "REVENUE", Type: ledger.TypePL, Amount: d(100)},
			{Account: "IC_RECEIVABLE", Type: ledger.TypeBS, Counterparty: "A", Amount: d(50)},
		},
		"A": {
			{Account: "REVENUE", Type: ledger.TypePL, Amount: d(200)},
			{Account: "IC_PAYABLE", Type: ledger.TypeBS, Counterparty: "A1", Amount: d(apAmount)},
		},
		"B": {{Account: "REVENUE", Type: ledger.TypePL, Amount: d(100)}},
		"R": {{Account: "REVENUE", Type: ledger.TypePL, Amount: d(10)}},
	}
}

func runAll(t *testing.T, tree *hierarchy.Tree, run *Run) {
	t.Helper()
	units, err := hierarchy.NewResolver(tree).Resolve(context.Background(), "All")
	require.NoError(t, err)
	exec := pipeline.NewExecutor(run, pipeline.ExecutorConfig{})
	for _, unit := range units {
		outcome := exec.Run(context.Background(), unit, "2024-01")
		require.True(t, outcome.Succeeded(), "%s: %s", unit.Name, outcome.Err)
	}
}

func entry(t *testing.T, st store.Store, unit string, stage pipeline.Stage) store.Entry {
	t.Helper()
	e, err := st.Get(context.Background(), store.Key{Unit: unit, Period: "2024-01", Stage: string(stage)})
	require.NoError(t, err)
	return e
}

func TestEngineConsolidatesGroup(t *testing.T) {
	tree := groupTree(t)
	st := store.NewMemory()
	eng := NewEngine(st, groupBalances(-50), &countingQuotes{}, tree, EngineConfig{ReportingCurrency: "usd"})
	runAll(t, tree, eng.ForRun())

	require.Equal(t, map[string]string{
		"IC_PAYABLE@A1":   "50.00",
		"IC_RECEIVABLE@A": "-50.00",
	}, amounts(entry(t, st, "A", pipeline.StageEliminate).Lines))

	require.Equal(t, map[string]string{
		"REVENUE": "300.00",
		"NCI":     "20.00",
	}, amounts(entry(t, st, "A", pipeline.StageRollup).Lines))

	root := entry(t, st, "R", pipeline.StageRollup)
	require.Equal(t, "USD", root.Currency)
	require.Equal(t, map[string]string{
		"REVENUE": "370.00",
		"NCI":     "20.00",
	}, amounts(root.Lines))

	_, err := st.Get(context.Background(), store.Key{Unit: "B", Period: "2024-01", Stage: string(pipeline.StageEliminate)})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestEliminateParksMismatch(t *testing.T) {
	tree := groupTree(t)
	st := store.NewMemory()
	eng := NewEngine(st, groupBalances(-45), &countingQuotes{}, tree, EngineConfig{ReportingCurrency: "USD"})
	runAll(t, tree, eng.ForRun())

	elim := entry(t, st, "A", pipeline.StageEliminate)
	require.Equal(t, map[string]string{
		"IC_PAYABLE@A1":   "45.00",
		"IC_RECEIVABLE@A": "-50.00",
		AccountICDifference: "5.00",
	}, amounts(elim.Lines))
	require.True(t, ledger.Total(elim.Lines).IsZero())
	require.Equal(t, "5.00", amounts(entry(t, st, "A", pipeline.StageRollup).Lines)[AccountICDifference])
}

func TestTranslatePostsCTA(t *testing.T) {
	tree, err := hierarchy.NewTree([]hierarchy.Unit{{Name: "DE", Currency: "EUR"}})
	require.NoError(t, err)
	st := store.NewMemory()
	src := balances{"DE": {
		{Account: "REVENUE", Type: ledger.TypePL, Amount: d(100)},
		{Account: "CASH", Type: ledger.TypeBS, Amount: d(100)},
	}}
	quotes := &countingQuotes{quotes: map[string]fx.Quote{"EURUSD": {Average: 1.1, Closing: 1.2}}}
	run := NewEngine(st, src, quotes, tree, EngineConfig{ReportingCurrency: "USD"}).ForRun()

	unit, _, _ := tree.Unit(context.Background(), "DE")
	require.NoError(t, run.RunLocalCalculations(context.Background(), unit, "2024-01"))
	require.NoError(t, run.Translate(context.Background(), unit, "2024-01"))

	translated := entry(t, st, "DE", pipeline.StageTranslate)
	require.Equal(t, "USD", translated.Currency)
	require.Equal(t, map[string]string{
		"REVENUE":    "110.00",
		"CASH":       "120.00",
		fx.AccountCTA: "10.00",
	}, amounts(translated.Lines))
	require.Equal(t, "EUR", entry(t, st, "DE", pipeline.StageCompute).Currency)
}

func TestTranslateMissingRate(t *testing.T) {
	tree, err := hierarchy.NewTree([]hierarchy.Unit{{Name: "JP", Currency: "JPY"}})
	require.NoError(t, err)
	st := store.NewMemory()
	src := balances{"JP": {{Account: "CASH", Type: ledger.TypeBS, Amount: d(1000)}}}
	run := NewEngine(st, src, &countingQuotes{}, tree, EngineConfig{ReportingCurrency: "USD"}).ForRun()

	unit, _, _ := tree.Unit(context.Background(), "JP")
	outcome := pipeline.NewExecutor(run, pipeline.ExecutorConfig{}).Run(context.Background(), unit, "2024-01")
	require.False(t, outcome.Succeeded())
	require.Equal(t, pipeline.StageTranslate, outcome.Stage)

	var missing *fx.MissingRateError
	require.True(t, errors.As(outcome.Cause, &missing))
	require.Equal(t, "JPYUSD", missing.Pair)
}

func TestConsolidateRequiresChildRollup(t *testing.T) {
	tree := groupTree(t)
	st := store.NewMemory()
	run := NewEngine(st, groupBalances(-50), &countingQuotes{}, tree, EngineConfig{ReportingCurrency: "USD"}).ForRun()

	root, _ := tree.RootUnit(context.Background())
	require.NoError(t, run.RunLocalCalculations(context.Background(), root, "2024-01"))
	require.NoError(t, run.Translate(context.Background(), root, "2024-01"))
	err := run.EliminateIntercompany(context.Background(), root, "2024-01")
	require.ErrorIs(t, err, ErrMissingUpstream)

	err = run.Translate(context.Background(), hierarchy.Unit{Name: "A"}, "2024-01")
	require.ErrorIs(t, err, ErrMissingUpstream)
}

func TestQuoteCacheIsScopedToRun(t *testing.T) {
	tree, err := hierarchy.NewTree([]hierarchy.Unit{
		{Name: "G", Currency: "USD"},
		{Name: "DE", Parent: "G", Currency: "EUR"},
		{Name: "FR", Parent: "G", Currency: "EUR"},
	})
	require.NoError(t, err)
	src := balances{
		"DE": {{Account: "CASH", Type: ledger.TypeBS, Amount: d(10)}},
		"FR": {{Account: "CASH", Type: ledger.TypeBS, Amount: d(20)}},
	}
	quotes := &countingQuotes{quotes: map[string]fx.Quote{"EURUSD": {Average: 1, Closing: 1}}}
	eng := NewEngine(store.NewMemory(), src, quotes, tree, EngineConfig{ReportingCurrency: "USD"})

	runAll(t, tree, eng.ForRun())
	require.Equal(t, 1, quotes.calls)
	runAll(t, tree, eng.ForRun())
	require.Equal(t, 2, quotes.calls)
}

func TestEngineStampsEntries(t *testing.T) {
	tree := groupTree(t)
	st := store.NewMemory()
	eng := NewEngine(st, groupBalances(-50), &countingQuotes{}, tree, EngineConfig{ReportingCurrency: "USD"})
	stamp := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	eng.WithClock(func() time.Time { return stamp })

	unit, _, _ := tree.Unit(context.Background(), "B")
	require.NoError(t, eng.ForRun().RunLocalCalculations(context.Background(), unit, "2024-01"))
	require.Equal(t, stamp, entry(t, st, "B", pipeline.StageCompute).WrittenAt)
}

func TestNilRunNotInitialised(t *testing.T) {
	var run *Run
	require.Error(t, run.RunLocalCalculations(context.Background(), hierarchy.Unit{Name: "X"}, "2024-01"))
}

func TestRetryable(t *testing.T) {
	require.False(t, Retryable(&fx.MissingRateError{Pair: "EURUSD", Method: fx.MethodAverage}))
	require.False(t, Retryable(ErrMissingUpstream))
	require.True(t, Retryable(errors.New("connection reset")))
}
