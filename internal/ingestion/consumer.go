package ingestion

import (
	"context"
	"log/slog"
	"time"

	apperrors "github.com/medsearch/medsearch/pkg/errors"
	"github.com/medsearch/medsearch/pkg/kafka"
	"github.com/medsearch/medsearch/pkg/resilience"
)

// Applier applies report events to the index.
type Applier interface {
	AddOrUpdate(ctx context.Context, rep Report) error
	Delete(ctx context.Context, docID string) error
}

// StatusRecorder records per-report indexing outcomes in the catalog.
type StatusRecorder interface {
	MarkStatus(ctx context.Context, docID, status string) error
}

// Invalidator drops cached query results after index mutations.
type Invalidator interface {
	Invalidate(ctx context.Context)
}

// Handler processes ingest-topic events: decode, validate, apply to the
// index with retries on transient failures, then record the outcome and
// invalidate the query cache.
type Handler struct {
	applier Applier
	status  StatusRecorder
	cache   Invalidator
	retry   resilience.RetryConfig
	logger  *slog.Logger
}

// NewHandler creates a Handler. status and cache may be nil.
func NewHandler(applier Applier, status StatusRecorder, cache Invalidator) *Handler {
	return &Handler{
		applier: applier,
		status:  status,
		cache:   cache,
		retry: resilience.RetryConfig{
			MaxAttempts:  5,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     5 * time.Second,
			Retryable:    apperrors.IsRetryable,
		},
		logger: slog.Default().With("component", "ingest-consumer"),
	}
}

// Handle implements the Kafka message handler. Malformed or invalid events
// are logged and dropped so one poison message cannot wedge the partition;
// transient index failures are returned to the consumer for redelivery.
func (h *Handler) Handle(ctx context.Context, key, value []byte) error {
	ev, err := kafka.DecodeJSON[ReportEvent](value)
	if err != nil {
		h.logger.Error("dropping undecodable event", "key", string(key), "error", err)
		return nil
	}
	if err := ValidateEvent(&ev); err != nil {
		h.logger.Error("dropping invalid event", "key", string(key), "op", ev.Op, "error", err)
		return nil
	}

	switch ev.Op {
	case OpUpsert:
		return h.applyUpsert(ctx, ev.Report)
	case OpDelete:
		return h.applyDelete(ctx, ev.DocumentID)
	}
	return nil
}

func (h *Handler) applyUpsert(ctx context.Context, rep *Report) error {
	err := resilience.Retry(ctx, "index report", h.retry, func() error {
		return h.applier.AddOrUpdate(ctx, *rep)
	})
	if err != nil {
		if apperrors.IsRetryable(err) {
			// Leave the offset uncommitted; the event will be redelivered.
			h.markStatus(ctx, rep.DocumentID, "failed")
			return err
		}
		h.logger.Error("dropping unindexable report", "doc_id", rep.DocumentID, "error", err)
		h.markStatus(ctx, rep.DocumentID, "failed")
		return nil
	}
	h.markStatus(ctx, rep.DocumentID, "indexed")
	h.invalidate(ctx)
	return nil
}

func (h *Handler) applyDelete(ctx context.Context, docID string) error {
	err := resilience.Retry(ctx, "delete report", h.retry, func() error {
		return h.applier.Delete(ctx, docID)
	})
	switch {
	case err == nil:
		h.invalidate(ctx)
	case apperrors.IsNotFound(err):
		// Already gone; deletes are idempotent from the producer's view.
	case apperrors.IsRetryable(err):
		return err
	default:
		h.logger.Error("dropping failed delete", "doc_id", docID, "error", err)
	}
	return nil
}

func (h *Handler) markStatus(ctx context.Context, docID, status string) {
	if h.status == nil {
		return
	}
	if err := h.status.MarkStatus(ctx, docID, status); err != nil {
		h.logger.Warn("recording report status failed", "doc_id", docID, "status", status, "error", err)
	}
}

func (h *Handler) invalidate(ctx context.Context) {
	if h.cache != nil {
		h.cache.Invalidate(ctx)
	}
}
