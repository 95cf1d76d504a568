package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-billing/internal/jobs"
	"github.com/odyssey-erp/odyssey-billing/internal/notify"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeSendEmail retries a client email the synchronous send could not deliver.
	TaskTypeSendEmail = "mail:send"
	// TaskTypeIdempotencyCleanup prunes expired bulk-action keys.
	TaskTypeIdempotencyCleanup = "idempotency:cleanup"
)

// NewSendEmailTask wraps a rendered envelope in an Asynq task.
func NewSendEmailTask(env notify.Envelope) (*asynq.Task, error) {
	if env.To == "" {
		return nil, errors.New("jobs: envelope has no recipient")
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data), nil
}

// MailJob delivers queued envelopes through the configured transport.
type MailJob struct {
	Transport notify.Transport
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// Handle processes TaskTypeSendEmail tasks. Transport errors are returned so
// asynq retries with backoff.
func (j *MailJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Transport == nil {
		return errors.New("mail job: transport not configured")
	}
	var env notify.Envelope
	if err := json.Unmarshal(t.Payload(), &env); err != nil {
		j.Metrics.Drop(TaskTypeSendEmail)
		return fmt.Errorf("decode envelope: %v: %w", err, asynq.SkipRetry)
	}
	if env.To == "" {
		j.Metrics.Drop(TaskTypeSendEmail)
		return fmt.Errorf("envelope without recipient: %w", asynq.SkipRetry)
	}
	tracker := j.Metrics.Track(TaskTypeSendEmail)
	if err := j.Transport.Deliver(ctx, env); err != nil {
		j.logger().Warn("queued email delivery failed",
			slog.String("message_id", env.MessageID),
			slog.String("template", env.TemplateKey),
			slog.Any("error", err))
		return tracker.End(err)
	}
	j.logger().Info("queued email delivered",
		slog.String("message_id", env.MessageID),
		slog.String("template", env.TemplateKey))
	return tracker.End(nil)
}

func (j *MailJob) logger() *slog.Logger {
	if j.Logger == nil {
		return slog.Default()
	}
	return j.Logger
}

// KeyPruner deletes idempotency keys older than a retention window.
type KeyPruner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// IdempotencyCleanupJob prunes stale bulk-action keys.
type IdempotencyCleanupJob struct {
	Store     KeyPruner
	Retention time.Duration
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewIdempotencyCleanupTask builds the periodic cleanup task.
func NewIdempotencyCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskTypeIdempotencyCleanup, nil)
}

// Handle processes TaskTypeIdempotencyCleanup tasks.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Store == nil {
		return errors.New("idempotency cleanup: store not configured")
	}
	retention := j.Retention
	if retention <= 0 {
		retention = 72 * time.Hour
	}
	tracker := j.Metrics.Track(TaskTypeIdempotencyCleanup)
	removed, err := j.Store.Cleanup(ctx, retention)
	if err != nil {
		return tracker.End(fmt.Errorf("cleanup idempotency keys: %w", err))
	}
	if j.Logger != nil {
		j.Logger.Info("idempotency keys pruned", slog.Int64("removed", removed), slog.Duration("retention", retention))
	}
	return tracker.End(nil)
}
