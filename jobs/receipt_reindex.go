package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/dcops/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// ReceiptReindexer rewrites cached receipt statuses.
type ReceiptReindexer interface {
	ReindexReceiptStatus(ctx context.Context, poID int64) (string, error)
	ReindexOpenOrders(ctx context.Context) (int, error)
}

// ReceiptReindexJob refreshes the receipt_status column of purchase orders.
type ReceiptReindexJob struct {
	Reindexer ReceiptReindexer
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
	clock     func() time.Time
}

// NewReceiptReindexJob wires dependencies for the reindex handler.
func NewReceiptReindexJob(reindexer ReceiptReindexer, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReceiptReindexJob {
	return &ReceiptReindexJob{
		Reindexer: reindexer,
		Logger:    logger,
		Metrics:   metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes receipt reindex tasks. A zero po_id sweeps every open order.
func (j *ReceiptReindexJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Reindexer == nil {
		return errors.New("receipt reindex: handler not configured")
	}
	var payload OrderPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	start := j.now()
	tracker := j.metrics().Track(TaskReceiptReindex)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger()
	if payload.POID > 0 {
		status, err := j.Reindexer.ReindexReceiptStatus(ctx, payload.POID)
		if err != nil {
			resultErr = err
			logger.Error("reindex order", slog.Int64("po_id", payload.POID), slog.Any("error", err))
			return resultErr
		}
		j.metrics().AddItems(TaskReceiptReindex, status, 1)
		logger.Info("reindexed order", slog.Int64("po_id", payload.POID), slog.String("status", status))
		return resultErr
	}

	count, err := j.Reindexer.ReindexOpenOrders(ctx)
	j.metrics().AddItems(TaskReceiptReindex, "swept", count)
	if err != nil {
		resultErr = err
		logger.Error("reindex open orders", slog.Int("processed", count), slog.Any("error", err))
		return resultErr
	}
	logger.Info("completed receipt reindex", slog.Int("orders", count), slog.Duration("duration", j.now().Sub(start)))
	return resultErr
}

func (j *ReceiptReindexJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskReceiptReindex))
	}
	return slog.Default().With(slog.String("job", TaskReceiptReindex))
}

func (j *ReceiptReindexJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ReceiptReindexJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
