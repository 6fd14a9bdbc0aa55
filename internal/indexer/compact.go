package indexer

import (
	"context"
	"log/slog"
	"time"

	"github.com/medsearch/medsearch/internal/index"
	"github.com/medsearch/medsearch/internal/store"
)

// scrubBatchSize caps how many postings lists one compaction write
// transaction rewrites.
const scrubBatchSize = 128

// CompactionResult summarizes one compaction run.
type CompactionResult struct {
	PurgedDocs    int `json:"purged_docs"`
	RewrittenTerm int `json:"rewritten_terms"`
}

// Compact physically removes tombstoned documents: their entries are
// scrubbed from every postings list and their metadata, forward terms, and
// tombstone markers are dropped. Corpus statistics were already adjusted at
// delete time, so compaction leaves them alone. Queries running concurrently
// see either the old or the new postings list for any term, never a partial
// one.
func (ix *Indexer) Compact(ctx context.Context) (CompactionResult, error) {
	var res CompactionResult
	start := time.Now()

	dead, err := ix.store.TombstoneSet(ctx)
	if err != nil {
		ix.compactStatus("failed")
		return res, err
	}
	if len(dead) == 0 {
		ix.compactStatus("noop")
		return res, nil
	}

	// First pass is read-only: find the terms whose postings reference a
	// tombstoned document. Rewrites happen afterwards in their own write
	// transactions so the scan never holds a write lock.
	var stale []string
	err = ix.store.ForEachTerm(ctx, func(term string, pl index.PostingList) error {
		for _, p := range pl {
			if _, ok := dead[p.DocID]; ok {
				stale = append(stale, term)
				return nil
			}
		}
		return nil
	})
	if err != nil {
		ix.compactStatus("failed")
		return res, err
	}

	// Each batch re-reads the tombstone markers inside the same write
	// transaction that rewrites the postings, so a document re-added between
	// the scan and the rewrite keeps its fresh postings.
	deadIDs := make([]string, 0, len(dead))
	for docID := range dead {
		deadIDs = append(deadIDs, docID)
	}
	for i := 0; i < len(stale); i += scrubBatchSize {
		if err := ctx.Err(); err != nil {
			ix.compactStatus("failed")
			return res, err
		}
		j := i + scrubBatchSize
		if j > len(stale) {
			j = len(stale)
		}
		n, err := ix.store.ScrubPostings(ctx, stale[i:j], deadIDs)
		if err != nil {
			ix.compactStatus("failed")
			return res, err
		}
		res.RewrittenTerm += n
	}

	for docID := range dead {
		if err := ctx.Err(); err != nil {
			ix.compactStatus("failed")
			return res, err
		}
		// A document re-added after the scan started has its tombstone
		// cleared; skip it rather than destroying live metadata.
		tombstoned, err := ix.store.IsTombstoned(ctx, docID)
		if err != nil {
			ix.compactStatus("failed")
			return res, err
		}
		if !tombstoned {
			continue
		}
		unlock := ix.lock(docID)
		err = ix.store.Apply(ctx, store.DocUpdate{
			DocID:          docID,
			DeleteMetadata: true,
			DeleteTerms:    true,
			ClearTombstone: true,
		})
		unlock()
		if err != nil {
			ix.compactStatus("failed")
			return res, err
		}
		res.PurgedDocs++
	}

	ix.compactStatus("completed")
	if ix.metrics != nil {
		ix.metrics.CompactionPurgedDocs.Add(float64(res.PurgedDocs))
		ix.metrics.TombstonesActive.Set(0)
	}
	ix.logger.Info("compaction completed",
		"purged_docs", res.PurgedDocs,
		"rewritten_terms", res.RewrittenTerm,
		"duration", time.Since(start),
	)
	return res, nil
}

// CompactLoop runs Compact on a fixed interval until ctx is canceled.
func (ix *Indexer) CompactLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := ix.Compact(ctx); err != nil {
				ix.logger.Error("compaction failed", slog.Any("error", err))
			}
		}
	}
}

func (ix *Indexer) compactStatus(status string) {
	if ix.metrics != nil {
		ix.metrics.CompactionsTotal.WithLabelValues(status).Inc()
	}
}
