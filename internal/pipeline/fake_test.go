package pipeline

import (
	"context"
	"sync"

	"github.com/odyssey-erp/consolbatch/internal/hierarchy"
)

// recordingStages records every stage call and fails on demand.
type recordingStages struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
	panic map[string]bool
	// failTimes makes a key fail the first n calls only.
	failTimes map[string]int
}

func newRecordingStages() *recordingStages {
	return &recordingStages{fail: map[string]error{}, panic: map[string]bool{}, failTimes: map[string]int{}}
}

func (r *recordingStages) record(stage Stage, unit hierarchy.Unit) error {
	key := string(stage) + ":" + unit.Name
	r.mu.Lock()
	r.calls = append(r.calls, key)
	remaining, flaky := r.failTimes[key]
	if flaky && remaining > 0 {
		r.failTimes[key] = remaining - 1
	}
	shouldPanic := r.panic[key]
	err := r.fail[key]
	r.mu.Unlock()
	if shouldPanic {
		panic("boom in " + key)
	}
	if flaky && remaining > 0 {
		return errFlaky
	}
	return err
}

func (r *recordingStages) RunLocalCalculations(ctx context.Context, unit hierarchy.Unit, period string) error {
	return r.record(StageCompute, unit)
}

func (r *recordingStages) Translate(ctx context.Context, unit hierarchy.Unit, period string) error {
	return r.record(StageTranslate, unit)
}

func (r *recordingStages) EliminateIntercompany(ctx context.Context, unit hierarchy.Unit, period string) error {
	return r.record(StageEliminate, unit)
}

func (r *recordingStages) Consolidate(ctx context.Context, unit hierarchy.Unit, period string) error {
	return r.record(StageRollup, unit)
}

func (r *recordingStages) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}
