package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/dcops/internal/jobs"
)

// CreditNoteSink delivers credit note announcements to finance.
type CreditNoteSink interface {
	Deliver(ctx context.Context, payload CreditNoteIssuedPayload) error
}

// LogSink writes announcements to the structured log.
type LogSink struct {
	Logger *slog.Logger
}

// Deliver implements CreditNoteSink.
func (s LogSink) Deliver(_ context.Context, payload CreditNoteIssuedPayload) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("credit note issued",
		slog.Int64("credit_note_id", payload.CreditNoteID),
		slog.String("number", payload.Number),
		slog.Int64("po_id", payload.POID),
		slog.String("amount", payload.Amount.StringFixed(2)),
		slog.String("kind", payload.Kind),
		slog.String("reason", payload.Reason),
	)
	return nil
}

// CreditNoteNotifyJob fans issued credit notes out to a sink.
type CreditNoteNotifyJob struct {
	Sink    CreditNoteSink
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewCreditNoteNotifyJob constructs the notification handler.
func NewCreditNoteNotifyJob(sink CreditNoteSink, logger *slog.Logger, metrics *jobmetrics.Metrics) *CreditNoteNotifyJob {
	if sink == nil {
		sink = LogSink{Logger: logger}
	}
	return &CreditNoteNotifyJob{Sink: sink, Logger: logger, Metrics: metrics}
}

// Handle processes credit note notification tasks.
func (j *CreditNoteNotifyJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Sink == nil {
		return errors.New("credit note notify: handler not configured")
	}
	var payload CreditNoteIssuedPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.CreditNoteID <= 0 {
		return asynq.SkipRetry
	}

	metrics := j.Metrics
	if metrics == nil {
		metrics = defaultJobMetrics
	}
	tracker := metrics.Track(TaskCreditNoteIssued)
	err := j.Sink.Deliver(ctx, payload)
	if err == nil {
		metrics.AddItems(TaskCreditNoteIssued, payload.Kind, 1)
	}
	return tracker.End(err)
}
