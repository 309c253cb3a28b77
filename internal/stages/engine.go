// Package stages implements the reference consolidation stages over the
// consolidated data store.
package stages

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/consolbatch/internal/fx"
	"github.com/odyssey-erp/consolbatch/internal/hierarchy"
	"github.com/odyssey-erp/consolbatch/internal/ledger"
	"github.com/odyssey-erp/consolbatch/internal/pipeline"
	"github.com/odyssey-erp/consolbatch/internal/rollup"
	"github.com/odyssey-erp/consolbatch/internal/shared"
	"github.com/odyssey-erp/consolbatch/internal/store"
)

// ErrMissingUpstream indicates a stage ran before the result it depends on
// was written.
var ErrMissingUpstream = errors.New("stages: missing upstream result")

// EngineConfig configures optional behaviour for the engine.
type EngineConfig struct {
	ReportingCurrency string
	Logger            *slog.Logger
}

// Engine holds the long-lived collaborators of the reference stages.
type Engine struct {
	store     store.Store
	balances  ledger.Source
	quotes    fx.QuoteProvider
	hierarchy hierarchy.Provider
	policy    fx.Policy
	logger    *slog.Logger
	now       func() time.Time
}

// NewEngine wires required dependencies for the stage engine.
func NewEngine(st store.Store, balances ledger.Source, quotes fx.QuoteProvider, provider hierarchy.Provider, cfg EngineConfig) *Engine {
	return &Engine{
		store:     st,
		balances:  balances,
		quotes:    quotes,
		hierarchy: provider,
		policy:    fx.DefaultPolicy(cfg.ReportingCurrency),
		logger:    cfg.Logger,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// WithClock overrides the clock used to stamp stored entries.
func (e *Engine) WithClock(clock func() time.Time) {
	if clock != nil {
		e.now = clock
	}
}

// Policy returns the FX policy applied by translation.
func (e *Engine) Policy() fx.Policy {
	return e.policy
}

// ForRun returns the stage set for one batch run. Quotes loaded during the
// run are cached on the returned value only.
func (e *Engine) ForRun() *Run {
	return &Run{engine: e, quotes: fx.NewQuoteCache(e.quotes)}
}

// Run implements pipeline.Stages with a run-scoped quote cache.
type Run struct {
	engine *Engine
	quotes *fx.QuoteCache
}

var _ pipeline.Stages = (*Run)(nil)

func (r *Run) ready() error {
	if r == nil || r.engine == nil || r.engine.store == nil || r.engine.balances == nil || r.engine.hierarchy == nil {
		return fmt.Errorf("stage engine not initialised")
	}
	return nil
}

// RunLocalCalculations loads local balances and stores them as the compute result.
func (r *Run) RunLocalCalculations(ctx context.Context, unit hierarchy.Unit, period string) error {
	if err := r.ready(); err != nil {
		return err
	}
	lines, err := r.engine.balances.Balances(ctx, unit.Name, period)
	if err != nil {
		return fmt.Errorf("load balances: %w", err)
	}
	return r.put(ctx, unit, period, pipeline.StageCompute, unit.Currency, ledger.Merge(lines))
}

// Translate converts the compute result into the reporting currency and
// books the translation difference to CTA.
func (r *Run) Translate(ctx context.Context, unit hierarchy.Unit, period string) error {
	if err := r.ready(); err != nil {
		return err
	}
	computed, err := r.get(ctx, unit.Name, period, pipeline.StageCompute)
	if err != nil {
		return err
	}
	quotes, err := r.quotesFor(ctx, computed.Currency, period)
	if err != nil {
		return err
	}
	converted, diff, err := fx.NewConverter(r.engine.policy, quotes).Convert(computed.Lines, computed.Currency)
	if err != nil {
		return err
	}
	if !diff.IsZero() {
		converted = append(converted, ledger.Line{Account: fx.AccountCTA, Type: ledger.TypeBS, Amount: diff.Neg()})
	}
	return r.put(ctx, unit, period, pipeline.StageTranslate, r.engine.policy.ReportingCurrency, ledger.Merge(converted))
}

func (r *Run) quotesFor(ctx context.Context, currency, period string) (map[string]fx.Quote, error) {
	if !r.engine.policy.NeedsTranslation(currency) {
		return nil, nil
	}
	asOf, err := shared.PeriodStart(period)
	if err != nil {
		return nil, err
	}
	pair := r.engine.policy.Pair(currency)
	quote, ok, err := r.quotes.Quote(ctx, asOf, pair)
	if err != nil {
		return nil, fmt.Errorf("load quote %s: %w", pair, err)
	}
	if !ok {
		return nil, &fx.MissingRateError{Pair: pair, Method: r.engine.policy.ProfitLossMethod}
	}
	return map[string]fx.Quote{pair: quote}, nil
}

// Consolidate stores the unit's group result: its translated lines, its
// eliminations when it is a parent, and each child's roll-up folded with the
// child's method and ownership.
func (r *Run) Consolidate(ctx context.Context, unit hierarchy.Unit, period string) error {
	if err := r.ready(); err != nil {
		return err
	}
	own, err := r.get(ctx, unit.Name, period, pipeline.StageTranslate)
	if err != nil {
		return err
	}
	groups := [][]ledger.Line{own.Lines}
	if unit.IsParent() {
		eliminated, err := r.get(ctx, unit.Name, period, pipeline.StageEliminate)
		if err != nil {
			return err
		}
		folded, err := r.foldedChildren(ctx, unit, period)
		if err != nil {
			return err
		}
		groups = append(groups, eliminated.Lines)
		for _, child := range folded {
			groups = append(groups, child.lines)
		}
	}
	return r.put(ctx, unit, period, pipeline.StageRollup, r.engine.policy.ReportingCurrency, ledger.Merge(groups...))
}

type foldedChild struct {
	name  string
	lines []ledger.Line
}

func (r *Run) foldedChildren(ctx context.Context, unit hierarchy.Unit, period string) ([]foldedChild, error) {
	children, err := r.engine.hierarchy.Children(ctx, unit.Name)
	if err != nil {
		return nil, fmt.Errorf("load children of %s: %w", unit.Name, err)
	}
	out := make([]foldedChild, 0, len(children))
	for _, child := range children {
		entry, err := r.get(ctx, child.Name, period, pipeline.StageRollup)
		if err != nil {
			return nil, err
		}
		lines, err := rollup.Fold(child, entry.Lines)
		if err != nil {
			return nil, err
		}
		out = append(out, foldedChild{name: child.Name, lines: lines})
	}
	return out, nil
}

func (r *Run) get(ctx context.Context, unit, period string, stage pipeline.Stage) (store.Entry, error) {
	key := store.Key{Unit: unit, Period: period, Stage: string(stage)}
	entry, err := r.engine.store.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return store.Entry{}, fmt.Errorf("%w: %s", ErrMissingUpstream, key)
	}
	if err != nil {
		return store.Entry{}, fmt.Errorf("read %s: %w", key, err)
	}
	return entry, nil
}

func (r *Run) put(ctx context.Context, unit hierarchy.Unit, period string, stage pipeline.Stage, currency string, lines []ledger.Line) error {
	key := store.Key{Unit: unit.Name, Period: period, Stage: string(stage)}
	entry := store.Entry{
		Unit:      unit.Name,
		Period:    period,
		Stage:     string(stage),
		Currency:  currency,
		Lines:     lines,
		WrittenAt: r.engine.now(),
	}
	if err := r.engine.store.Put(ctx, key, entry); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func (r *Run) log() *slog.Logger {
	if r != nil && r.engine != nil && r.engine.logger != nil {
		return r.engine.logger.With(slog.String("component", "consol.stages"))
	}
	return slog.Default().With(slog.String("component", "consol.stages"))
}

// Retryable reports whether a stage error may succeed on a later attempt.
// Missing inputs and missing FX rates are permanent for the run.
func Retryable(err error) bool {
	var missing *fx.MissingRateError
	if errors.As(err, &missing) || errors.Is(err, ErrMissingUpstream) {
		return false
	}
	return true
}
