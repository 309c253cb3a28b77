package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/consolbatch/internal/hierarchy"
	"github.com/odyssey-erp/consolbatch/internal/pipeline"
	"github.com/odyssey-erp/consolbatch/internal/shared"
)

// ErrDependencyUnmet marks a root outcome that was skipped because a child
// branch failed in the same period.
var ErrDependencyUnmet = errors.New("batch: dependency unmet")

// GatePolicy controls what happens to the root-only branch when a child
// branch of the same period recorded failures.
type GatePolicy string

const (
	// GateProceed consolidates the root regardless of child failures.
	GateProceed GatePolicy = "proceed"
	// GateBlockOnFailure records the root as failed without running it.
	GateBlockOnFailure GatePolicy = "block"
)

// ParseGatePolicy maps configuration text to a policy. Empty means proceed.
func ParseGatePolicy(raw string) (GatePolicy, error) {
	switch GatePolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", GateProceed:
		return GateProceed, nil
	case GateBlockOnFailure:
		return GateBlockOnFailure, nil
	default:
		return "", fmt.Errorf("%w: unknown root gate policy %q", shared.ErrConfiguration, raw)
	}
}

// ScopeResolver expands a scope into a bottom-up unit list.
type ScopeResolver interface {
	Resolve(ctx context.Context, scope string) ([]hierarchy.Unit, error)
}

// BranchPartitioner splits a bottom-up unit list into independent branches.
type BranchPartitioner interface {
	Partition(ctx context.Context, units []hierarchy.Unit) ([]hierarchy.Branch, error)
}

// UnitRunner executes the stage pipeline for one unit and period.
type UnitRunner interface {
	Run(ctx context.Context, unit hierarchy.Unit, period string) pipeline.Outcome
}

// Recorder observes unit outcomes, typically for metrics.
type Recorder interface {
	ObserveUnit(outcome pipeline.Outcome)
}

// RunnerConfig tunes a Runner. Zero values select the sequential reference
// behaviour with no-op sinks.
type RunnerConfig struct {
	Scenario      string
	MaxParallel   int
	RootGate      GatePolicy
	ProgressStart int
	ProgressEnd   int
	Progress      ProgressSink
	Log           LogSink
	Metrics       Recorder
	Logger        *slog.Logger
}

// Runner orchestrates a consolidation batch across units and periods.
type Runner struct {
	resolver    ScopeResolver
	partitioner BranchPartitioner
	units       UnitRunner
	cfg         RunnerConfig
	now         func() time.Time
	newID       func() string
}

// NewRunner wires the collaborators of a batch run.
func NewRunner(resolver ScopeResolver, partitioner BranchPartitioner, units UnitRunner, cfg RunnerConfig) *Runner {
	if cfg.ProgressStart == 0 && cfg.ProgressEnd == 0 {
		cfg.ProgressEnd = 100
	}
	if cfg.RootGate == "" {
		cfg.RootGate = GateProceed
	}
	if cfg.Progress == nil {
		cfg.Progress = NopProgress{}
	}
	if cfg.Log == nil {
		cfg.Log = NopLog{}
	}
	return &Runner{
		resolver:    resolver,
		partitioner: partitioner,
		units:       units,
		cfg:         cfg,
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

// WithClock overrides the clock for deterministic tests.
func (r *Runner) WithClock(clock func() time.Time) {
	if clock != nil {
		r.now = clock
	}
}

// Request is the external invocation shape of a batch.
type Request struct {
	Scope    string `json:"scope" validate:"required"`
	Periods  string `json:"periods" validate:"required"`
	Scenario string `json:"scenario,omitempty"`
}

var requestValidator = validator.New()

// Run validates req, expands its period selector and runs the batch.
func (r *Runner) Run(ctx context.Context, req Request) (Statistics, error) {
	if err := requestValidator.Struct(req); err != nil {
		return Statistics{}, fmt.Errorf("%w: %v", shared.ErrConfiguration, err)
	}
	periods, err := shared.ParsePeriods(req.Periods)
	if err != nil {
		return Statistics{}, err
	}
	if req.Scenario != "" && r != nil {
		clone := *r
		clone.cfg.Scenario = req.Scenario
		return clone.RunBatch(ctx, req.Scope, periods)
	}
	return r.RunBatch(ctx, req.Scope, periods)
}

// RunBatch consolidates every unit of scope for each period in order. Unit
// failures are captured in the returned statistics; only configuration
// problems are returned as errors. Cancelling ctx stops dispatching new units
// and yields partial statistics marked as cancelled.
func (r *Runner) RunBatch(ctx context.Context, scope string, periods []string) (Statistics, error) {
	if r == nil || r.resolver == nil || r.partitioner == nil || r.units == nil {
		return Statistics{}, fmt.Errorf("batch runner not initialised")
	}
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return Statistics{}, fmt.Errorf("%w: scope is required", shared.ErrConfiguration)
	}
	if len(periods) == 0 {
		return Statistics{}, fmt.Errorf("%w: at least one period is required", shared.ErrConfiguration)
	}
	for _, p := range periods {
		if strings.TrimSpace(p) == "" {
			return Statistics{}, fmt.Errorf("%w: empty period code", shared.ErrConfiguration)
		}
	}

	units, err := r.resolver.Resolve(ctx, scope)
	if err != nil {
		if errors.Is(err, hierarchy.ErrScopeNotFound) && !errors.Is(err, shared.ErrConfiguration) {
			return Statistics{}, fmt.Errorf("%w: %w", shared.ErrConfiguration, err)
		}
		return Statistics{}, fmt.Errorf("resolve scope %q: %w", scope, err)
	}
	if len(units) == 0 {
		return Statistics{}, fmt.Errorf("%w: scope %q resolved to no units", shared.ErrConfiguration, scope)
	}
	branches, err := r.partitioner.Partition(ctx, units)
	if err != nil {
		return Statistics{}, fmt.Errorf("partition scope %q: %w", scope, err)
	}

	rec := newRecorder(r, Statistics{
		RunID:      r.newID(),
		Scenario:   r.cfg.Scenario,
		Scope:      scope,
		Periods:    append([]string(nil), periods...),
		TotalUnits: len(units),
		Branches:   len(branches),
		StartedAt:  r.now(),
	})
	logger := r.log().With(slog.String("run_id", rec.stats.RunID), slog.String("scope", scope))
	logger.InfoContext(ctx, "consolidation batch started",
		slog.Int("units", len(units)),
		slog.Int("periods", len(periods)),
		slog.Int("branches", len(branches)),
		slog.Int("max_parallel", r.cfg.MaxParallel),
	)
	r.logMessage(ctx, fmt.Sprintf("Consolidation %s started: scope %s, %d units, %d periods, %d branches",
		rec.stats.RunID, scope, len(units), len(periods), len(branches)))

	for _, period := range periods {
		if ctx.Err() != nil {
			rec.cancel()
			break
		}
		r.runPeriod(ctx, period, branches, rec)
	}

	stats := rec.finish(r.now())
	logger.InfoContext(ctx, "consolidation batch finished",
		slog.Int("processed", stats.Processed),
		slog.Int("succeeded", stats.Succeeded),
		slog.Int("failed", stats.Failed),
		slog.Bool("cancelled", stats.Cancelled),
		slog.Duration("duration", stats.Duration()),
	)
	r.logMessage(ctx, fmt.Sprintf("Consolidation %s finished: %d/%d succeeded, %d failed",
		stats.RunID, stats.Succeeded, stats.Processed, stats.Failed))
	return stats, nil
}

func (r *Runner) runPeriod(ctx context.Context, period string, branches []hierarchy.Branch, rec *recorder) {
	var (
		rootBranches []hierarchy.Branch
		failedMu     sync.Mutex
		failed       int
	)
	countFailures := func(n int) {
		failedMu.Lock()
		failed += n
		failedMu.Unlock()
	}

	if r.cfg.MaxParallel <= 1 {
		for _, branch := range branches {
			if branch.RootOnly {
				rootBranches = append(rootBranches, branch)
				continue
			}
			countFailures(r.runBranch(ctx, period, branch, rec))
		}
	} else {
		var g errgroup.Group
		g.SetLimit(r.cfg.MaxParallel)
		for _, branch := range branches {
			if branch.RootOnly {
				rootBranches = append(rootBranches, branch)
				continue
			}
			if ctx.Err() != nil {
				rec.cancel()
				break
			}
			g.Go(func() error {
				countFailures(r.runBranch(ctx, period, branch, rec))
				return nil
			})
		}
		_ = g.Wait()
	}

	for _, branch := range rootBranches {
		if failed > 0 && r.cfg.RootGate == GateBlockOnFailure {
			r.blockBranch(ctx, period, branch, failed, rec)
			continue
		}
		r.runBranch(ctx, period, branch, rec)
	}
}

// runBranch runs the units of one branch sequentially and reports how many failed.
func (r *Runner) runBranch(ctx context.Context, period string, branch hierarchy.Branch, rec *recorder) int {
	failed := 0
	for _, unit := range branch.Units {
		if ctx.Err() != nil {
			rec.cancel()
			return failed
		}
		outcome := r.units.Run(context.WithoutCancel(ctx), unit, period)
		if !outcome.Succeeded() {
			failed++
		}
		rec.record(ctx, outcome)
	}
	return failed
}

func (r *Runner) blockBranch(ctx context.Context, period string, branch hierarchy.Branch, childFailures int, rec *recorder) {
	for _, unit := range branch.Units {
		if ctx.Err() != nil {
			rec.cancel()
			return
		}
		cause := fmt.Errorf("%w: %d unit(s) failed in child branches", ErrDependencyUnmet, childFailures)
		rec.record(ctx, pipeline.Outcome{
			Unit:   unit.Name,
			Period: period,
			Status: pipeline.StatusFailed,
			Err:    cause.Error(),
			Cause:  cause,
		})
	}
}

// reportProgress and logMessage contain sink errors and panics; a broken
// sink never aborts the run.
func (r *Runner) reportProgress(ctx context.Context, percent int, message string) {
	defer r.recoverSink(ctx, "progress")
	if err := r.cfg.Progress.ReportProgress(ctx, percent, message); err != nil {
		r.log().WarnContext(ctx, "progress sink failed", slog.Any("error", err))
	}
}

func (r *Runner) logMessage(ctx context.Context, text string) {
	defer r.recoverSink(ctx, "log")
	r.cfg.Log.LogMessage(ctx, text)
}

func (r *Runner) recoverSink(ctx context.Context, sink string) {
	if rec := recover(); rec != nil {
		r.log().WarnContext(ctx, "sink panicked", slog.String("sink", sink), slog.Any("panic", rec))
	}
}

func (r *Runner) log() *slog.Logger {
	if r != nil && r.cfg.Logger != nil {
		return r.cfg.Logger
	}
	return slog.Default().With(slog.String("component", "consol.batch"))
}

// recorder owns the in-flight statistics and serialises progress reporting.
type recorder struct {
	runner *Runner
	mu     sync.Mutex
	stats  Statistics
	total  int
}

func newRecorder(r *Runner, stats Statistics) *recorder {
	return &recorder{runner: r, stats: stats, total: stats.Planned()}
}

func (rc *recorder) record(ctx context.Context, outcome pipeline.Outcome) {
	if rc.runner.cfg.Metrics != nil {
		rc.runner.cfg.Metrics.ObserveUnit(outcome)
	}

	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.stats.Processed++
	rc.stats.Timings = append(rc.stats.Timings, UnitTiming{
		Unit:    outcome.Unit,
		Period:  outcome.Period,
		Status:  outcome.Status,
		Elapsed: outcome.Elapsed,
	})
	verb := "Consolidated"
	if outcome.Succeeded() {
		rc.stats.Succeeded++
	} else {
		verb = "Failed"
		rc.stats.Failed++
		rc.stats.Failures = append(rc.stats.Failures, Failure{
			Unit:    outcome.Unit,
			Period:  outcome.Period,
			Stage:   outcome.Stage,
			Message: outcome.Err,
		})
		rc.runner.logMessage(ctx, fmt.Sprintf("Unit %s failed for %s at %s: %s",
			outcome.Unit, outcome.Period, stageLabel(outcome.Stage), outcome.Err))
	}

	percent := rc.percent()
	message := fmt.Sprintf("%s %s for %s (%d/%d)", verb, outcome.Unit, outcome.Period, rc.stats.Processed, rc.total)
	rc.runner.reportProgress(ctx, percent, message)
}

func (rc *recorder) percent() int {
	start, end := rc.runner.cfg.ProgressStart, rc.runner.cfg.ProgressEnd
	if rc.total <= 0 {
		return end
	}
	return start + rc.stats.Processed*(end-start)/rc.total
}

func (rc *recorder) cancel() {
	rc.mu.Lock()
	rc.stats.Cancelled = true
	rc.mu.Unlock()
}

func (rc *recorder) finish(at time.Time) Statistics {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.stats.FinishedAt = at
	out := rc.stats
	out.Failures = append([]Failure(nil), rc.stats.Failures...)
	out.Timings = append([]UnitTiming(nil), rc.stats.Timings...)
	return out
}

func stageLabel(stage pipeline.Stage) string {
	if stage == "" {
		return "gate"
	}
	return string(stage)
}
