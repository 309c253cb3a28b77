package pipeline

import (
	"context"
	"fmt"

	"github.com/odyssey-erp/consolbatch/internal/hierarchy"
)

// Stage names one step of the per-unit pipeline.
type Stage string

const (
	StageCompute   Stage = "compute"
	StageTranslate Stage = "translate"
	StageEliminate Stage = "eliminate"
	StageRollup    Stage = "rollup"
)

// Stages are the calculation calls the pipeline drives for every unit.
// Each call either completes or returns an error.
type Stages interface {
	RunLocalCalculations(ctx context.Context, unit hierarchy.Unit, period string) error
	Translate(ctx context.Context, unit hierarchy.Unit, period string) error
	EliminateIntercompany(ctx context.Context, unit hierarchy.Unit, period string) error
	Consolidate(ctx context.Context, unit hierarchy.Unit, period string) error
}

// StageError records which stage failed for a unit and period.
type StageError struct {
	Stage    Stage
	Unit     string
	Period   string
	Attempts int
	Err      error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s %s/%s: %v", e.Stage, e.Unit, e.Period, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

type stageCall func(ctx context.Context, unit hierarchy.Unit, period string) error

type step struct {
	stage Stage
	call  stageCall
}

// plan lists the stages to run for unit, in order. Elimination only applies
// to consolidation parents.
func plan(stages Stages, unit hierarchy.Unit) []step {
	steps := []step{
		{stage: StageCompute, call: stages.RunLocalCalculations},
		{stage: StageTranslate, call: stages.Translate},
	}
	if unit.IsParent() {
		steps = append(steps, step{stage: StageEliminate, call: stages.EliminateIntercompany})
	}
	return append(steps, step{stage: StageRollup, call: stages.Consolidate})
}
