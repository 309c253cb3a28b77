// Package consol wires hierarchy, stages and the batch runner into the
// consolidation service used by the worker and the CLI.
package consol

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/odyssey-erp/consolbatch/internal/app"
	"github.com/odyssey-erp/consolbatch/internal/batch"
	"github.com/odyssey-erp/consolbatch/internal/fx"
	"github.com/odyssey-erp/consolbatch/internal/hierarchy"
	"github.com/odyssey-erp/consolbatch/internal/ledger"
	"github.com/odyssey-erp/consolbatch/internal/pipeline"
	"github.com/odyssey-erp/consolbatch/internal/stages"
	"github.com/odyssey-erp/consolbatch/internal/store"
)

// TreeLoader provides a fresh hierarchy snapshot for each run.
type TreeLoader interface {
	LoadTree(ctx context.Context) (*hierarchy.Tree, error)
}

// Dependencies are the data sources and sinks shared by every run.
type Dependencies struct {
	Hierarchy TreeLoader
	Balances  ledger.Source
	Quotes    fx.QuoteProvider
	Store     store.Store
	Metrics   batch.Recorder
	Logger    *slog.Logger
}

// Settings tune how a run is executed.
type Settings struct {
	Runner            batch.RunnerConfig
	ReportingCurrency string
	StrictScope       bool
	Retry             pipeline.RetryPolicy
	StageRetry        map[pipeline.Stage]pipeline.RetryPolicy
}

// SettingsFromConfig derives run settings from the environment configuration.
func SettingsFromConfig(cfg *app.Config) (Settings, error) {
	runner, err := cfg.RunnerConfig()
	if err != nil {
		return Settings{}, err
	}
	retry := cfg.RetryPolicy()
	retry.Retryable = stages.Retryable
	return Settings{
		Runner:            runner,
		ReportingCurrency: cfg.ReportingCurrency,
		StrictScope:       cfg.StrictScope,
		Retry:             retry,
	}, nil
}

// Sinks receive progress and diagnostics for a single run.
type Sinks struct {
	Progress batch.ProgressSink
	Log      batch.LogSink
}

// Service builds batch runners over a fresh hierarchy snapshot.
type Service struct {
	deps     Dependencies
	settings Settings
}

// NewService constructs a consolidation service instance.
func NewService(deps Dependencies, settings Settings) *Service {
	return &Service{deps: deps, settings: settings}
}

// Runner assembles a runner whose stages hold run-scoped caches.
func (s *Service) Runner(ctx context.Context, sinks Sinks) (*batch.Runner, error) {
	if s == nil || s.deps.Hierarchy == nil || s.deps.Balances == nil || s.deps.Store == nil {
		return nil, fmt.Errorf("consol service not initialised")
	}
	tree, err := s.deps.Hierarchy.LoadTree(ctx)
	if err != nil {
		return nil, fmt.Errorf("load hierarchy: %w", err)
	}

	resolver := hierarchy.NewResolver(tree)
	resolver.Strict = s.settings.StrictScope

	engine := stages.NewEngine(s.deps.Store, s.deps.Balances, s.deps.Quotes, tree, stages.EngineConfig{
		ReportingCurrency: s.settings.ReportingCurrency,
		Logger:            s.deps.Logger,
	})
	executor := pipeline.NewExecutor(engine.ForRun(), pipeline.ExecutorConfig{
		DefaultRetry: s.settings.Retry,
		StageRetry:   s.settings.StageRetry,
		Logger:       s.deps.Logger,
	})

	cfg := s.settings.Runner
	cfg.Progress = sinks.Progress
	cfg.Log = sinks.Log
	cfg.Metrics = s.deps.Metrics
	cfg.Logger = s.deps.Logger
	return batch.NewRunner(resolver, hierarchy.NewPartitioner(tree), executor, cfg), nil
}

// Run executes one batch request end to end.
func (s *Service) Run(ctx context.Context, req batch.Request, sinks Sinks) (batch.Statistics, error) {
	runner, err := s.Runner(ctx, sinks)
	if err != nil {
		return batch.Statistics{}, err
	}
	return runner.Run(ctx, req)
}
