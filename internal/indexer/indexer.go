// Package indexer consumes report text and maintains the inverted index:
// per-document add/update/delete with atomic store applies, lazy tombstone
// deletion, background compaction, and full reindex from the report catalog.
package indexer

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/medsearch/medsearch/internal/index"
	"github.com/medsearch/medsearch/internal/ingestion"
	"github.com/medsearch/medsearch/internal/normalizer"
	"github.com/medsearch/medsearch/internal/store"
	apperrors "github.com/medsearch/medsearch/pkg/errors"
	"github.com/medsearch/medsearch/pkg/metrics"
)

// lockStripes bounds the number of per-document mutexes. Writes to the same
// document ID always hash to the same stripe, serializing them.
const lockStripes = 64

// excerptLength caps the stored snippet source copied into metadata.
const excerptLength = 1000

// Indexer applies report documents to the index store.
type Indexer struct {
	store   *store.Store
	norm    *normalizer.Normalizer
	metrics *metrics.Metrics
	logger  *slog.Logger
	locks   [lockStripes]sync.Mutex
}

// New creates an Indexer. metrics may be nil.
func New(s *store.Store, norm *normalizer.Normalizer, m *metrics.Metrics) *Indexer {
	return &Indexer{
		store:   s,
		norm:    norm,
		metrics: m,
		logger:  slog.Default().With("component", "indexer"),
	}
}

// AddOrUpdate indexes a report, replacing any previous version of the same
// document ID. Validation happens before any store mutation; a storage
// failure leaves the index unchanged.
func (ix *Indexer) AddOrUpdate(ctx context.Context, rep ingestion.Report) error {
	if err := ingestion.ValidateReport(&rep); err != nil {
		ix.count("rejected")
		return err
	}
	tokens, err := ix.norm.Normalize(rep.RawText)
	if err != nil {
		ix.count("rejected")
		return err
	}

	unlock := ix.lock(rep.DocumentID)
	defer unlock()

	oldMeta, err := ix.store.GetMetadata(ctx, rep.DocumentID)
	if err != nil && !apperrors.IsNotFound(err) {
		return err
	}
	tombstoned, err := ix.store.IsTombstoned(ctx, rep.DocumentID)
	if err != nil {
		return err
	}
	oldTerms, err := ix.store.GetDocTerms(ctx, rep.DocumentID)
	if err != nil {
		return err
	}

	docPostings := buildPostings(rep.DocumentID, tokens)

	// Rewrite every affected postings list: terms the document used to
	// contain and terms it contains now. Lists are copied, never mutated in
	// place, so concurrent readers keep a consistent snapshot.
	newPostings := make(map[string]index.PostingList, len(docPostings)+len(oldTerms))
	touched := make(map[string]struct{}, len(docPostings)+len(oldTerms))
	for term := range docPostings {
		touched[term] = struct{}{}
	}
	for _, term := range oldTerms {
		touched[term] = struct{}{}
	}
	for term := range touched {
		pl, err := ix.store.GetPostings(ctx, term)
		if err != nil {
			return err
		}
		pl = pl.Remove(rep.DocumentID)
		if p, ok := docPostings[term]; ok {
			pl = pl.Upsert(p)
		}
		newPostings[term] = pl
	}

	docLength := len(tokens)
	meta := &index.Metadata{
		PatientName: rep.PatientName,
		ReportDate:  rep.ReportDate,
		ReportType:  rep.ReportType,
		DocLength:   docLength,
		Excerpt:     excerpt(rep.RawText),
		UpdatedAt:   time.Now().UTC(),
	}

	isLive := oldMeta != nil && !tombstoned
	var delta store.StatsDelta
	if isLive {
		delta = store.StatsDelta{Terms: int64(docLength - oldMeta.DocLength)}
	} else {
		delta = store.StatsDelta{Docs: 1, Terms: int64(docLength)}
	}

	terms := make([]string, 0, len(docPostings))
	for term := range docPostings {
		terms = append(terms, term)
	}
	sort.Strings(terms)

	start := time.Now()
	err = ix.store.Apply(ctx, store.DocUpdate{
		DocID:          rep.DocumentID,
		Postings:       newPostings,
		Metadata:       meta,
		Terms:          terms,
		ClearTombstone: tombstoned,
		Stats:          delta,
	})
	if ix.metrics != nil {
		ix.metrics.IndexApplyDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		ix.count("failed")
		return err
	}

	outcome := "indexed"
	if isLive {
		outcome = "updated"
	}
	ix.count(outcome)
	if tombstoned && ix.metrics != nil {
		ix.metrics.TombstonesActive.Dec()
	}
	ix.logger.Info("report indexed",
		"doc_id", rep.DocumentID,
		"terms", len(docPostings),
		"doc_length", docLength,
		"update", isLive,
	)
	return nil
}

// Delete tombstones a document. Postings are not eagerly scrubbed; the
// retrieval engine filters tombstoned IDs and compaction purges them later.
func (ix *Indexer) Delete(ctx context.Context, docID string) error {
	if docID == "" {
		return apperrors.Validation("document ID is required")
	}

	unlock := ix.lock(docID)
	defer unlock()

	meta, err := ix.store.GetMetadata(ctx, docID)
	if err != nil {
		return err
	}
	tombstoned, err := ix.store.IsTombstoned(ctx, docID)
	if err != nil {
		return err
	}
	if tombstoned {
		return apperrors.NotFound(docID)
	}

	err = ix.store.Apply(ctx, store.DocUpdate{
		DocID:     docID,
		Tombstone: true,
		Stats:     store.StatsDelta{Docs: -1, Terms: -int64(meta.DocLength)},
	})
	if err != nil {
		ix.count("failed")
		return err
	}
	ix.count("deleted")
	if ix.metrics != nil {
		ix.metrics.TombstonesActive.Inc()
	}
	ix.logger.Info("report tombstoned", "doc_id", docID)
	return nil
}

func (ix *Indexer) lock(docID string) func() {
	h := fnv.New32a()
	h.Write([]byte(docID))
	mu := &ix.locks[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}

func (ix *Indexer) count(outcome string) {
	if ix.metrics != nil {
		ix.metrics.ReportsIndexedTotal.WithLabelValues(outcome).Inc()
	}
}

// buildPostings folds a token stream into one posting per distinct term.
func buildPostings(docID string, tokens []normalizer.Token) map[string]index.Posting {
	postings := make(map[string]index.Posting)
	for _, tok := range tokens {
		p, ok := postings[tok.Term]
		if !ok {
			p = index.Posting{DocID: docID, Positions: make([]int, 0, 4)}
		}
		p.Frequency++
		p.Positions = append(p.Positions, tok.Position)
		postings[tok.Term] = p
	}
	return postings
}

// excerpt truncates on a rune boundary so the stored copy stays valid UTF-8.
func excerpt(text string) string {
	if len(text) <= excerptLength {
		return text
	}
	cut := excerptLength
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
