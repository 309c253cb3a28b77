package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bsm/redislock"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/consolbatch/internal/batch"
	"github.com/odyssey-erp/consolbatch/internal/consol"
	jobmetrics "github.com/odyssey-erp/consolbatch/internal/jobs"
	"github.com/odyssey-erp/consolbatch/internal/shared"
)

type fakeBatchService struct {
	mu       sync.Mutex
	requests []batch.Request
	stats    batch.Statistics
	err      error
	during   func()
}

func (f *fakeBatchService) Run(ctx context.Context, req batch.Request, sinks consol.Sinks) (batch.Statistics, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.during != nil {
		f.during()
	}
	if sinks.Progress == nil || sinks.Log == nil {
		return batch.Statistics{}, errors.New("sinks not wired")
	}
	return f.stats, f.err
}

func newLocker(t *testing.T) *redislock.Client {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redislock.New(client)
}

func newJob(svc BatchService, locker Locker) *ConsolidateBatchJob {
	job := NewConsolidateBatchJob(svc, locker, time.Minute, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	job.WithClock(func() time.Time { return time.Date(2024, 3, 31, 23, 0, 0, 0, time.UTC) })
	return job
}

func batchTask(t *testing.T, payload ConsolidateBatchPayload) *asynq.Task {
	t.Helper()
	task, err := NewConsolidateBatchTask(payload)
	require.NoError(t, err)
	return task
}

func TestConsolidateBatchDefaultsToPreviousMonth(t *testing.T) {
	svc := &fakeBatchService{stats: batch.Statistics{RunID: "r1", Processed: 3, Succeeded: 2, Failed: 1}}
	job := newJob(svc, newLocker(t))

	require.NoError(t, job.Handle(context.Background(), batchTask(t, ConsolidateBatchPayload{})))
	require.Equal(t, []batch.Request{{Scope: "All", Periods: "2024-02"}}, svc.requests)
}

func TestConsolidateBatchPassesPayloadThrough(t *testing.T) {
	svc := &fakeBatchService{}
	job := newJob(svc, nil)

	payload := ConsolidateBatchPayload{Scope: "EU", Periods: "2024-01..2024-03", Scenario: "BUDGET"}
	require.NoError(t, job.Handle(context.Background(), batchTask(t, payload)))
	require.Equal(t, []batch.Request{{Scope: "EU", Periods: "2024-01..2024-03", Scenario: "BUDGET"}}, svc.requests)
}

func TestConsolidateBatchConfigurationErrorSkipsRetry(t *testing.T) {
	svc := &fakeBatchService{err: fmt.Errorf("%w: scope is required", shared.ErrConfiguration)}
	err := newJob(svc, nil).Handle(context.Background(), batchTask(t, ConsolidateBatchPayload{Scope: "X", Periods: "2024-01"}))
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.ErrorIs(t, err, shared.ErrConfiguration)
}

func TestConsolidateBatchInfrastructureErrorRetries(t *testing.T) {
	svc := &fakeBatchService{err: errors.New("load hierarchy: connection refused")}
	err := newJob(svc, nil).Handle(context.Background(), batchTask(t, ConsolidateBatchPayload{Scope: "X", Periods: "2024-01"}))
	require.Error(t, err)
	require.False(t, errors.Is(err, asynq.SkipRetry))
}

func TestConsolidateBatchRejectsMalformedPayload(t *testing.T) {
	err := newJob(&fakeBatchService{}, nil).Handle(context.Background(), asynq.NewTask(TaskConsolidateBatch, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestConsolidateBatchHoldsScopeLock(t *testing.T) {
	locker := newLocker(t)
	ctx := context.Background()

	held, err := locker.Obtain(ctx, shared.ConsolRunLockKey("All"), time.Minute, nil)
	require.NoError(t, err)

	svc := &fakeBatchService{}
	job := newJob(svc, locker)
	err = job.Handle(ctx, batchTask(t, ConsolidateBatchPayload{Periods: "2024-01"}))
	require.ErrorIs(t, err, ErrRunInProgress)
	require.Empty(t, svc.requests)

	require.NoError(t, held.Release(ctx))

	svc.during = func() {
		_, err := locker.Obtain(ctx, shared.ConsolRunLockKey("all"), time.Minute, nil)
		require.ErrorIs(t, err, redislock.ErrNotObtained)
	}
	require.NoError(t, job.Handle(ctx, batchTask(t, ConsolidateBatchPayload{Periods: "2024-01"})))

	after, err := locker.Obtain(ctx, shared.ConsolRunLockKey("All"), time.Minute, nil)
	require.NoError(t, err)
	require.NoError(t, after.Release(ctx))
}

func TestNewConsolidateBatchTask(t *testing.T) {
	task := batchTask(t, ConsolidateBatchPayload{Scope: "  DE ", Periods: "2024-01"})
	require.Equal(t, TaskConsolidateBatch, task.Type())

	var payload ConsolidateBatchPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.Equal(t, ConsolidateBatchPayload{Scope: "DE", Periods: "2024-01"}, payload)
}

func TestNilJobNotConfigured(t *testing.T) {
	var job *ConsolidateBatchJob
	require.Error(t, job.Handle(context.Background(), batchTask(t, ConsolidateBatchPayload{})))
}

func TestConsolidateBatchCancelledRunRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc := &fakeBatchService{
		stats:  batch.Statistics{TotalUnits: 4, Periods: []string{"2024-01", "2024-02"}, Processed: 3, Succeeded: 3, Cancelled: true},
		during: cancel,
	}
	err := newJob(svc, newLocker(t)).Handle(ctx, batchTask(t, ConsolidateBatchPayload{Scope: "All", Periods: "2024-01..2024-02"}))
	require.Error(t, err)
	require.ErrorIs(t, err, context.Canceled)
	require.NotErrorIs(t, err, asynq.SkipRetry)
	require.Contains(t, err.Error(), "cancelled after 3/8 units")
}
