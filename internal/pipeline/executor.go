package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/consolbatch/internal/hierarchy"
)

// Status is the result class of a unit pipeline run.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Outcome is the immutable result of running the pipeline for one unit and period.
type Outcome struct {
	Unit    string
	Period  string
	Status  Status
	Stage   Stage
	Err     string
	Cause   error
	Elapsed time.Duration
}

// Succeeded reports whether every stage completed.
func (o Outcome) Succeeded() bool {
	return o.Status == StatusSuccess
}

// ExecutorConfig configures retry behaviour per stage.
type ExecutorConfig struct {
	DefaultRetry RetryPolicy
	StageRetry   map[Stage]RetryPolicy
	Logger       *slog.Logger
}

// Executor runs the fixed stage sequence against one unit at a time. It is
// safe for concurrent use when the underlying Stages are.
type Executor struct {
	stages Stages
	cfg    ExecutorConfig
	now    func() time.Time
}

// NewExecutor wires the stage collaborator with the given configuration.
func NewExecutor(stages Stages, cfg ExecutorConfig) *Executor {
	return &Executor{stages: stages, cfg: cfg, now: time.Now}
}

// WithClock overrides the clock for deterministic tests.
func (e *Executor) WithClock(clock func() time.Time) {
	if clock != nil {
		e.now = clock
	}
}

// Run executes compute, translate, eliminate (parents only) and roll-up in
// order. The first failing stage stops the sequence; failures are reported
// in the outcome and never returned or raised.
func (e *Executor) Run(ctx context.Context, unit hierarchy.Unit, period string) Outcome {
	outcome := Outcome{Unit: unit.Name, Period: period, Status: StatusSuccess}
	if e == nil || e.stages == nil {
		outcome.Status = StatusFailed
		outcome.Err = "pipeline executor not initialised"
		return outcome
	}
	start := e.now()
	for _, s := range plan(e.stages, unit) {
		attempts, err := e.runStage(ctx, s, unit, period)
		if err == nil {
			continue
		}
		stageErr := &StageError{Stage: s.stage, Unit: unit.Name, Period: period, Attempts: attempts, Err: err}
		outcome.Status = StatusFailed
		outcome.Stage = s.stage
		outcome.Err = err.Error()
		outcome.Cause = stageErr
		e.log().Warn("stage failed",
			slog.String("unit", unit.Name),
			slog.String("period", period),
			slog.String("stage", string(s.stage)),
			slog.Int("attempts", attempts),
			slog.Any("error", err))
		break
	}
	outcome.Elapsed = e.now().Sub(start)
	return outcome
}

func (e *Executor) runStage(ctx context.Context, s step, unit hierarchy.Unit, period string) (int, error) {
	policy := e.cfg.DefaultRetry
	if override, ok := e.cfg.StageRetry[s.stage]; ok {
		policy = override
	}
	return policy.Do(ctx, func(ctx context.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return s.call(ctx, unit, period)
	})
}

func (e *Executor) log() *slog.Logger {
	if e != nil && e.cfg.Logger != nil {
		return e.cfg.Logger.With(slog.String("component", "pipeline"))
	}
	return slog.Default().With(slog.String("component", "pipeline"))
}
