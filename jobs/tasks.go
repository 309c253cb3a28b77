package jobs

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueConsolidation isolates long-running consolidation batches.
	QueueConsolidation = "consolidation"
	// TaskConsolidateBatch runs a consolidation batch for a scope and periods.
	TaskConsolidateBatch = "consol:batch"

	// PeriodsPrevious resolves to the month before the task runs.
	PeriodsPrevious = "previous"

	batchMaxRetry  = 3
	batchUniqueTTL = time.Hour
	// batchTimeout caps a task at the queue level; the runner itself has no deadline.
	batchTimeout = 12 * time.Hour
)

// ConsolidateBatchPayload describes one consolidation batch request.
type ConsolidateBatchPayload struct {
	Scope    string `json:"scope"`
	Periods  string `json:"periods"`
	Scenario string `json:"scenario,omitempty"`
}

func (p ConsolidateBatchPayload) normalised() ConsolidateBatchPayload {
	p.Scope = strings.TrimSpace(p.Scope)
	p.Periods = strings.TrimSpace(p.Periods)
	if p.Scope == "" {
		p.Scope = "All"
	}
	if p.Periods == "" {
		p.Periods = PeriodsPrevious
	}
	return p
}

// NewConsolidateBatchTask creates an Asynq task for a consolidation batch.
func NewConsolidateBatchTask(payload ConsolidateBatchPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload.normalised())
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskConsolidateBatch, body,
		asynq.Queue(QueueConsolidation),
		asynq.MaxRetry(batchMaxRetry),
		asynq.Timeout(batchTimeout),
	), nil
}
