package cli

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-billing/jobs"
)

// TaskEnqueuer submits tasks.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// QueueInspector lists queue state.
type QueueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	ListRetryTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	Close() error
}

// JobsCLI wraps manual management helpers for the billing queue.
type JobsCLI struct {
	client    TaskEnqueuer
	inspector QueueInspector
}

// NewJobsCLI initialises the helpers against the queue's Redis.
func NewJobsCLI(opt asynq.RedisClientOpt) *JobsCLI {
	return &JobsCLI{client: asynq.NewClient(opt), inspector: asynq.NewInspector(opt)}
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var errs []error
	if c.inspector != nil {
		errs = append(errs, c.inspector.Close())
	}
	if c.client != nil {
		errs = append(errs, c.client.Close())
	}
	return errors.Join(errs...)
}

// Trigger enqueues a maintenance job by name.
func (c *JobsCLI) Trigger(ctx context.Context, name string) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	switch name {
	case jobs.TaskTypeIdempotencyCleanup:
		return c.client.EnqueueContext(ctx, jobs.NewIdempotencyCleanupTask(), asynq.Queue(jobs.QueueDefault), asynq.MaxRetry(3))
	default:
		return nil, fmt.Errorf("jobs cli: unsupported job %s", name)
	}
}

// QueueStats summarises the default queue.
type QueueStats struct {
	Queue     string
	Pending   int
	Active    int
	Scheduled int
	Retry     int
	Archived  int
}

// InspectQueue reports the default queue state.
func (c *JobsCLI) InspectQueue() (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
		stats.Archived = info.Archived
	}
	return stats, nil
}

// ListRetry returns emails waiting for another delivery attempt.
func (c *JobsCLI) ListRetry(size int) ([]*asynq.TaskInfo, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	if size <= 0 {
		size = 20
	}
	return c.inspector.ListRetryTasks(jobs.QueueDefault, asynq.PageSize(size), asynq.Page(1))
}

func newJobsCommand(env Env) *cobra.Command {
	cmd := &cobra.Command{Use: "jobs", Short: "Inspect and trigger background jobs"}

	withJobs := func(run func(cmd *cobra.Command, c *JobsCLI, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			c, err := env.Jobs()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()
			return run(cmd, c, args)
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "enqueue NAME",
		Short: "Enqueue a maintenance job (idempotency:cleanup)",
		Args:  cobra.ExactArgs(1),
		RunE: withJobs(func(cmd *cobra.Command, c *JobsCLI, args []string) error {
			info, err := c.Trigger(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s as %s on %s\n", info.Type, info.ID, info.Queue)
			return err
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show queue depth",
		Args:  cobra.NoArgs,
		RunE: withJobs(func(cmd *cobra.Command, c *JobsCLI, _ []string) error {
			stats, err := c.InspectQueue()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "QUEUE\tPENDING\tACTIVE\tSCHEDULED\tRETRY\tARCHIVED\n")
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\n", stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
			return w.Flush()
		}),
	})

	var size int
	retry := &cobra.Command{
		Use:   "retries",
		Short: "List emails waiting for retry",
		Args:  cobra.NoArgs,
		RunE: withJobs(func(cmd *cobra.Command, c *JobsCLI, _ []string) error {
			tasks, err := c.ListRetry(size)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "ID\tTYPE\tRETRIED\tLAST ERROR\n")
			for _, t := range tasks {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", t.ID, t.Type, t.Retried, t.LastErr)
			}
			return w.Flush()
		}),
	}
	retry.Flags().IntVar(&size, "size", 20, "page size")
	cmd.AddCommand(retry)
	return cmd
}
