package indexer

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/medsearch/medsearch/internal/ingestion"
)

// ReportSource streams the authoritative report set, usually the Postgres
// catalog.
type ReportSource interface {
	Snapshot(ctx context.Context, fn func(rep *ingestion.Report) error) error
}

// Reindex rebuilds the index from src with a bounded worker pool. Documents
// are re-applied through the normal AddOrUpdate path, so the rebuild runs
// against a live index without blocking queries or ingest.
func (ix *Indexer) Reindex(ctx context.Context, src ReportSource, workers int) (int, error) {
	if workers <= 0 {
		workers = 4
	}
	start := time.Now()

	reports := make(chan ingestion.Report, workers)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(reports)
		return src.Snapshot(gctx, func(rep *ingestion.Report) error {
			select {
			case reports <- *rep:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	})

	counts := make(chan int, workers)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			n := 0
			for rep := range reports {
				if err := ix.AddOrUpdate(gctx, rep); err != nil {
					return err
				}
				n++
			}
			counts <- n
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		ix.logger.Error("reindex aborted", "error", err, "duration", time.Since(start))
		return 0, err
	}
	close(counts)
	total := 0
	for n := range counts {
		total += n
	}
	ix.logger.Info("reindex completed", "documents", total, "workers", workers, "duration", time.Since(start))
	return total, nil
}
