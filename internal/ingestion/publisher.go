package ingestion

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	apperrors "github.com/medsearch/medsearch/pkg/errors"
	"github.com/medsearch/medsearch/pkg/kafka"
	"github.com/medsearch/medsearch/pkg/resilience"
)

// CatalogWriter is the slice of the report catalog the publisher needs.
type CatalogWriter interface {
	Save(ctx context.Context, rep *Report) error
	MarkDeleted(ctx context.Context, docID string) error
}

// EventPublisher abstracts the Kafka producer.
type EventPublisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// Publisher is the ingest front door: it validates a report, persists it to
// the catalog, and enqueues it for asynchronous indexing. The catalog write
// comes first so a report accepted here is never lost, even if the event
// has to be replayed.
type Publisher struct {
	catalog  CatalogWriter
	producer EventPublisher
	breaker  *resilience.CircuitBreaker
	logger   *slog.Logger
}

// NewPublisher creates a Publisher. A circuit breaker guards the broker so
// a dead Kafka fails submissions fast instead of stacking up blocked
// requests.
func NewPublisher(cat CatalogWriter, producer EventPublisher) *Publisher {
	return &Publisher{
		catalog:  cat,
		producer: producer,
		breaker:  resilience.NewCircuitBreaker("report-ingest", resilience.CircuitBreakerConfig{}),
		logger:   slog.Default().With("component", "ingest-publisher"),
	}
}

func (p *Publisher) publish(ctx context.Context, event kafka.Event) error {
	return p.breaker.Execute(func() error {
		return p.producer.Publish(ctx, event)
	})
}

// SubmitReport accepts one report for indexing.
func (p *Publisher) SubmitReport(ctx context.Context, rep *Report) (*IngestResponse, error) {
	if err := ValidateReport(rep); err != nil {
		return nil, err
	}
	if err := p.catalog.Save(ctx, rep); err != nil {
		return nil, apperrors.Storage("saving report", err)
	}
	err := p.publish(ctx, kafka.Event{
		Key: rep.DocumentID,
		Value: ReportEvent{
			Op:         OpUpsert,
			Report:     rep,
			EnqueuedAt: time.Now().UTC(),
		},
	})
	if err != nil {
		return nil, apperrors.Storage("enqueueing report", err)
	}
	p.logger.Info("report accepted", "doc_id", rep.DocumentID)
	return &IngestResponse{DocumentID: rep.DocumentID, Status: "accepted"}, nil
}

// SubmitDelete accepts a delete for a known report.
func (p *Publisher) SubmitDelete(ctx context.Context, docID string) (*IngestResponse, error) {
	if docID == "" {
		return nil, apperrors.Validation("document ID is required")
	}
	if err := p.catalog.MarkDeleted(ctx, docID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound(docID)
		}
		return nil, apperrors.Storage("marking report deleted", err)
	}
	err := p.publish(ctx, kafka.Event{
		Key: docID,
		Value: ReportEvent{
			Op:         OpDelete,
			DocumentID: docID,
			EnqueuedAt: time.Now().UTC(),
		},
	})
	if err != nil {
		return nil, apperrors.Storage("enqueueing delete", err)
	}
	p.logger.Info("delete accepted", "doc_id", docID)
	return &IngestResponse{DocumentID: docID, Status: "accepted"}, nil
}
