package cli

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/consolbatch/internal/platform/cache"
	"github.com/odyssey-erp/consolbatch/jobs"
)

// JobsCLI wraps manual management helpers for queued consolidation batches.
type JobsCLI struct {
	client    *jobs.Client
	inspector *asynq.Inspector
}

// NewJobsCLI initialises the CLI helpers using the provided Redis address.
func NewJobsCLI(redisAddr string) (*JobsCLI, error) {
	opt := cache.QueueOpt(redisAddr)
	client, err := jobs.NewClient(opt)
	if err != nil {
		return nil, err
	}
	return &JobsCLI{client: client, inspector: asynq.NewInspector(opt)}, nil
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	if c.inspector != nil {
		if closeErr := c.inspector.Close(); closeErr != nil {
			err = closeErr
		}
	}
	if c.client != nil {
		if closeErr := c.client.Close(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// Enqueue submits a consolidation batch for the worker.
func (c *JobsCLI) Enqueue(ctx context.Context, payload jobs.ConsolidateBatchPayload) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	return c.client.EnqueueBatch(ctx, payload)
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string
	Pending   int
	Active    int
	Scheduled int
	Retry     int
	Archived  int
}

// InspectQueue reports the metrics of a queue.
func (c *JobsCLI) InspectQueue(ctx context.Context, queue string) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	stats := QueueStats{Queue: queue}
	info, err := c.inspector.GetQueueInfo(queue)
	if errors.Is(err, asynq.ErrQueueNotFound) {
		return stats, nil
	}
	if err != nil {
		return QueueStats{}, err
	}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
		stats.Archived = info.Archived
	}
	return stats, nil
}

// ListScheduled returns scheduled task infos for observability.
func (c *JobsCLI) ListScheduled(ctx context.Context, queue string, size int) ([]*asynq.TaskInfo, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	if size <= 0 {
		size = 10
	}
	return c.inspector.ListScheduledTasks(queue, asynq.PageSize(size), asynq.Page(1))
}

func (g *globalOptions) jobsCLI(cmd *cobra.Command) (*JobsCLI, error) {
	cfg, err := g.config(cmd)
	if err != nil {
		return nil, err
	}
	return NewJobsCLI(cfg.RedisAddr)
}

func newEnqueueCommand(g *globalOptions) *cobra.Command {
	var payload jobs.ConsolidateBatchPayload
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue a consolidation batch for the worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			ops, err := g.jobsCLI(cmd)
			if err != nil {
				return err
			}
			defer ops.Close()
			info, err := ops.Enqueue(cmd.Context(), payload)
			if err != nil {
				return fmt.Errorf("enqueue: %w", err)
			}
			_, err = fmt.Fprintf(g.stdout, "queued task %s on %s\n", info.ID, info.Queue)
			return err
		},
	}
	cmd.Flags().StringVar(&payload.Scope, "scope", "All", `unit to consolidate with its descendants, or "All"`)
	cmd.Flags().StringVar(&payload.Periods, "periods", jobs.PeriodsPrevious, `period selector, or "previous" for last month`)
	cmd.Flags().StringVar(&payload.Scenario, "scenario", "", "scenario label")
	return cmd
}

func newQueueCommand(g *globalOptions) *cobra.Command {
	var queue string
	var size int
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the consolidation queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			ops, err := g.jobsCLI(cmd)
			if err != nil {
				return err
			}
			defer ops.Close()
			stats, err := ops.InspectQueue(cmd.Context(), queue)
			if err != nil {
				return fmt.Errorf("inspect queue: %w", err)
			}
			return printQueueStats(g, stats)
		},
	}
	cmd.PersistentFlags().StringVar(&queue, "queue", jobs.QueueConsolidation, "queue name")

	scheduled := &cobra.Command{
		Use:   "scheduled",
		Short: "List scheduled consolidation tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			ops, err := g.jobsCLI(cmd)
			if err != nil {
				return err
			}
			defer ops.Close()
			tasks, err := ops.ListScheduled(cmd.Context(), queue, size)
			if err != nil {
				return fmt.Errorf("list scheduled: %w", err)
			}
			w := tabwriter.NewWriter(g.stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTYPE\tNEXT RUN\tPAYLOAD")
			for _, t := range tasks {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.ID, t.Type, t.NextProcessAt.Format("2006-01-02 15:04"), t.Payload)
			}
			return w.Flush()
		},
	}
	scheduled.Flags().IntVar(&size, "size", 10, "number of tasks to list")
	cmd.AddCommand(scheduled)
	return cmd
}

func printQueueStats(g *globalOptions, stats QueueStats) error {
	w := tabwriter.NewWriter(g.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "QUEUE\tPENDING\tACTIVE\tSCHEDULED\tRETRY\tARCHIVED")
	fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\n", stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
	return w.Flush()
}
