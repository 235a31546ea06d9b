package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/dcops/internal/ap"
	jobmetrics "github.com/odyssey-erp/dcops/internal/jobs"
)

// PaymentRecalculator recomputes persisted payment statuses.
type PaymentRecalculator interface {
	RecalculatePaymentStatus(ctx context.Context, poID int64) (ap.PaymentResult, error)
	RecalculateOutstanding(ctx context.Context) (int, error)
}

// PaymentRecalcJob moves credit orders to OVERDUE once their due date passes.
type PaymentRecalcJob struct {
	Recalculator PaymentRecalculator
	Logger       *slog.Logger
	Metrics      *jobmetrics.Metrics
	clock        func() time.Time
}

// NewPaymentRecalcJob wires dependencies for the recalculation handler.
func NewPaymentRecalcJob(recalculator PaymentRecalculator, logger *slog.Logger, metrics *jobmetrics.Metrics) *PaymentRecalcJob {
	return &PaymentRecalcJob{
		Recalculator: recalculator,
		Logger:       logger,
		Metrics:      metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes payment recalculation tasks.
func (j *PaymentRecalcJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Recalculator == nil {
		return errors.New("payment recalc: handler not configured")
	}
	var payload OrderPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	start := j.now()
	tracker := j.metrics().Track(TaskPaymentRecalc)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger()
	if payload.POID > 0 {
		result, err := j.Recalculator.RecalculatePaymentStatus(ctx, payload.POID)
		if err != nil {
			resultErr = err
			logger.Error("recalculate order", slog.Int64("po_id", payload.POID), slog.Any("error", err))
			return resultErr
		}
		j.metrics().AddItems(TaskPaymentRecalc, string(result.Status), 1)
		logger.Info("recalculated order", slog.Int64("po_id", payload.POID), slog.String("status", string(result.Status)))
		return resultErr
	}

	count, err := j.Recalculator.RecalculateOutstanding(ctx)
	j.metrics().AddItems(TaskPaymentRecalc, "swept", count)
	if err != nil {
		resultErr = err
		logger.Error("recalculate outstanding", slog.Int("processed", count), slog.Any("error", err))
		return resultErr
	}
	logger.Info("completed payment recalc", slog.Int("orders", count), slog.Duration("duration", j.now().Sub(start)))
	return resultErr
}

func (j *PaymentRecalcJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskPaymentRecalc))
	}
	return slog.Default().With(slog.String("job", TaskPaymentRecalc))
}

func (j *PaymentRecalcJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *PaymentRecalcJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
