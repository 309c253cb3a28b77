package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bsm/redislock"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/consolbatch/internal/batch"
	"github.com/odyssey-erp/consolbatch/internal/consol"
	jobmetrics "github.com/odyssey-erp/consolbatch/internal/jobs"
	"github.com/odyssey-erp/consolbatch/internal/report"
	"github.com/odyssey-erp/consolbatch/internal/shared"
)

const jobConsolBatch = "consol_batch"

// ErrRunInProgress is returned when another worker holds the scope lock.
var ErrRunInProgress = errors.New("consolidate batch: run already in progress for scope")

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// BatchService runs one consolidation batch.
type BatchService interface {
	Run(ctx context.Context, req batch.Request, sinks consol.Sinks) (batch.Statistics, error)
}

// Locker obtains distributed locks.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration, opt *redislock.Options) (*redislock.Lock, error)
}

// ConsolidateBatchJob coordinates the batch workflow for a queued task.
type ConsolidateBatchJob struct {
	Service BatchService
	Locker  Locker
	LockTTL time.Duration
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewConsolidateBatchJob constructs the job handler. A nil locker disables
// the per-scope lock.
func NewConsolidateBatchJob(service BatchService, locker Locker, lockTTL time.Duration, logger *slog.Logger, metrics *jobmetrics.Metrics) *ConsolidateBatchJob {
	return &ConsolidateBatchJob{
		Service: service,
		Locker:  locker,
		LockTTL: lockTTL,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes a consolidation batch task. Unit failures are reported in
// the run summary and never fail the task; configuration problems skip retry.
// A cancelled run returns an error so the task is retried.
func (j *ConsolidateBatchJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("consolidate batch: dependencies not configured")
	}
	var payload ConsolidateBatchPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("consolidate batch: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	payload = payload.normalised()

	tracker := j.metrics().Track(jobConsolBatch)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.log().With(slog.String("scope", payload.Scope), slog.String("periods", payload.Periods))
	periods := j.resolvePeriods(payload.Periods)

	release, err := j.lock(ctx, payload.Scope)
	if err != nil {
		resultErr = err
		logger.Warn("obtain scope lock", slog.Any("error", err))
		return resultErr
	}
	defer release()

	stats, err := j.Service.Run(ctx, batch.Request{Scope: payload.Scope, Periods: periods, Scenario: payload.Scenario}, consol.Sinks{
		Progress: batch.SlogProgress{Logger: logger},
		Log:      batch.SlogLog{Logger: logger},
	})
	if err != nil {
		resultErr = err
		logger.Error("consolidation batch", slog.Any("error", err))
		if errors.Is(err, shared.ErrConfiguration) {
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return resultErr
	}

	logger.Info("consolidation batch summary",
		slog.String("run_id", stats.RunID),
		slog.Int("succeeded", stats.Succeeded),
		slog.Int("failed", stats.Failed),
		slog.Bool("cancelled", stats.Cancelled),
		slog.String("report", report.Render(stats)))
	if stats.Cancelled {
		// Undispatched units were never consolidated; fail so asynq retries the task.
		cause := ctx.Err()
		if cause == nil {
			cause = context.Canceled
		}
		resultErr = fmt.Errorf("consolidate batch: cancelled after %d/%d units: %w", stats.Processed, stats.Planned(), cause)
		return resultErr
	}
	return resultErr
}

// resolvePeriods maps the previous-month sentinel to a period code.
func (j *ConsolidateBatchJob) resolvePeriods(selector string) string {
	if selector != PeriodsPrevious {
		return selector
	}
	now := j.now()
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return first.AddDate(0, -1, 0).Format(shared.PeriodLayout)
}

func (j *ConsolidateBatchJob) lock(ctx context.Context, scope string) (func(), error) {
	if j.Locker == nil {
		return func() {}, nil
	}
	ttl := j.LockTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	lock, err := j.Locker.Obtain(ctx, shared.ConsolRunLockKey(scope), ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrRunInProgress
	}
	if err != nil {
		return nil, fmt.Errorf("consolidate batch: obtain lock: %w", err)
	}

	done := make(chan struct{})
	go j.keepAlive(ctx, lock, ttl, done)
	return func() {
		close(done)
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			j.log().Warn("release scope lock", slog.String("scope", scope), slog.Any("error", err))
		}
	}, nil
}

// keepAlive extends the lock at half its TTL until done is closed.
func (j *ConsolidateBatchJob) keepAlive(ctx context.Context, lock *redislock.Lock, ttl time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := lock.Refresh(context.WithoutCancel(ctx), ttl, nil); err != nil {
				j.log().Warn("refresh scope lock", slog.String("key", lock.Key()), slog.Any("error", err))
				return
			}
		}
	}
}

func (j *ConsolidateBatchJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ConsolidateBatchJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskConsolidateBatch))
	}
	return slog.Default().With(slog.String("job", TaskConsolidateBatch))
}

func (j *ConsolidateBatchJob) now() time.Time {
	if j != nil && j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// WithClock overrides the internal clock for deterministic tests.
func (j *ConsolidateBatchJob) WithClock(clock func() time.Time) {
	if j != nil && clock != nil {
		j.clock = clock
	}
}
