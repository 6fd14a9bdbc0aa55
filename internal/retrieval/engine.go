// Package retrieval executes query plans against the index store: candidate
// generation from postings lists, phrase verification, metadata filtering,
// BM25 ranking, and cursor pagination.
package retrieval

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/medsearch/medsearch/internal/index"
	"github.com/medsearch/medsearch/internal/normalizer"
	"github.com/medsearch/medsearch/internal/planner"
	"github.com/medsearch/medsearch/internal/store"
	"github.com/medsearch/medsearch/pkg/config"
	"github.com/medsearch/medsearch/pkg/metrics"
)

// Result is one ranked search hit.
type Result struct {
	DocID       string    `json:"document_id"`
	Score       float64   `json:"score"`
	PatientName string    `json:"patient_name"`
	ReportDate  time.Time `json:"report_date"`
	ReportType  string    `json:"report_type"`
	Snippet     string    `json:"snippet,omitempty"`
}

// Response is one page of search results. Total counts every match, not
// just the returned page; NextCursor is empty on the last page.
type Response struct {
	Results    []Result `json:"results"`
	Total      int      `json:"total"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

// Engine executes plans. It only reads the store, so any number of
// executions run concurrently with each other and with index writes.
type Engine struct {
	store   *store.Store
	norm    *normalizer.Normalizer
	cfg     config.SearchConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates an Engine. metrics may be nil.
func New(s *store.Store, norm *normalizer.Normalizer, cfg config.SearchConfig, m *metrics.Metrics) *Engine {
	return &Engine{
		store:   s,
		norm:    norm,
		cfg:     cfg,
		metrics: m,
		logger:  slog.Default().With("component", "retrieval"),
	}
}

// Execute runs a plan and returns one page of ranked results.
func (e *Engine) Execute(ctx context.Context, plan *planner.Plan) (*Response, error) {
	resp, err := e.execute(ctx, plan)
	if e.metrics != nil {
		switch {
		case err != nil:
			e.metrics.QueriesTotal.WithLabelValues("error").Inc()
		case resp.Total == 0:
			e.metrics.QueriesTotal.WithLabelValues("zero_result").Inc()
		default:
			e.metrics.QueriesTotal.WithLabelValues("hit").Inc()
		}
		if err == nil {
			e.metrics.QueryResultsCount.Observe(float64(len(resp.Results)))
		}
	}
	return resp, err
}

func (e *Engine) execute(ctx context.Context, plan *planner.Plan) (*Response, error) {
	var cur *cursor
	if plan.Cursor != "" {
		c, err := decodeCursor(plan.Cursor)
		if err != nil {
			return nil, err
		}
		cur = &c
	}

	stats, err := e.store.CorpusStats(ctx)
	if err != nil {
		return nil, err
	}
	tombstoned, err := e.store.TombstoneSet(ctx)
	if err != nil {
		return nil, err
	}

	// Fetch postings in plan order (rarest first) so AND mode can bail out
	// on the first term with no matches before touching the longer lists.
	byTerm := make(map[string]map[string]index.Posting, len(plan.Terms))
	docFreqs := make(map[string]int, len(plan.Terms))
	candidates := make(map[string]struct{})
	for i, term := range plan.Terms {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pl, err := e.store.GetPostings(ctx, term)
		if err != nil {
			return nil, err
		}
		docFreqs[term] = len(pl)
		postings := make(map[string]index.Posting, len(pl))
		for _, p := range pl {
			postings[p.DocID] = p
		}
		byTerm[term] = postings

		if plan.Mode == planner.ModeAND {
			if i == 0 {
				for docID := range postings {
					candidates[docID] = struct{}{}
				}
			} else {
				for docID := range candidates {
					if _, ok := postings[docID]; !ok {
						delete(candidates, docID)
					}
				}
			}
			if len(candidates) == 0 {
				return &Response{Results: []Result{}}, nil
			}
		} else {
			for docID := range postings {
				candidates[docID] = struct{}{}
			}
		}
	}

	matched := make([]Result, 0, len(candidates))
	for docID := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, dead := tombstoned[docID]; dead {
			continue
		}
		if !e.phrasesMatch(docID, plan.Phrases, byTerm) {
			continue
		}
		meta, err := e.store.GetMetadata(ctx, docID)
		if err != nil {
			// A posting without metadata is a tombstone that compaction has
			// not reached yet.
			continue
		}
		if !matchesFilters(meta, plan.Filters) {
			continue
		}

		score := 0.0
		for term, postings := range byTerm {
			p, ok := postings[docID]
			if !ok {
				continue
			}
			score += bm25(p.Frequency, docFreqs[term], meta.DocLength, stats)
		}
		if e.cfg.PatientNameBoost > 1 && e.patientNameInQuery(meta.PatientName, byTerm) {
			score *= e.cfg.PatientNameBoost
		}

		matched = append(matched, Result{
			DocID:       docID,
			Score:       round4(score),
			PatientName: meta.PatientName,
			ReportDate:  meta.ReportDate,
			ReportType:  meta.ReportType,
			Snippet:     e.snippet(meta.Excerpt, plan.Terms),
		})
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Score != matched[j].Score {
			return matched[i].Score > matched[j].Score
		}
		return matched[i].DocID < matched[j].DocID
	})

	total := len(matched)
	if cur != nil {
		first := sort.Search(len(matched), func(i int) bool {
			return cur.after(matched[i].Score, matched[i].DocID)
		})
		matched = matched[first:]
	}

	resp := &Response{Total: total}
	if len(matched) > plan.Limit {
		matched = matched[:plan.Limit]
		last := matched[len(matched)-1]
		resp.NextCursor = encodeCursor(cursor{Score: last.Score, DocID: last.DocID})
	}
	resp.Results = matched
	if resp.Results == nil {
		resp.Results = []Result{}
	}
	return resp, nil
}

// phrasesMatch verifies every phrase constraint against the document's
// term positions. Positions are original word positions, so the stored
// offsets line up directly.
func (e *Engine) phrasesMatch(docID string, phrases []planner.Phrase, byTerm map[string]map[string]index.Posting) bool {
	for _, phrase := range phrases {
		if !phraseMatch(docID, phrase, byTerm) {
			return false
		}
	}
	return true
}

func phraseMatch(docID string, phrase planner.Phrase, byTerm map[string]map[string]index.Posting) bool {
	if len(phrase) == 0 {
		return true
	}
	first, ok := byTerm[phrase[0].Term][docID]
	if !ok {
		return false
	}
	for _, start := range first.Positions {
		if phraseAnchoredAt(docID, phrase, byTerm, start) {
			return true
		}
	}
	return false
}

func phraseAnchoredAt(docID string, phrase planner.Phrase, byTerm map[string]map[string]index.Posting, start int) bool {
	for _, pt := range phrase[1:] {
		p, ok := byTerm[pt.Term][docID]
		if !ok {
			return false
		}
		want := start + pt.Offset
		i := sort.SearchInts(p.Positions, want)
		if i >= len(p.Positions) || p.Positions[i] != want {
			return false
		}
	}
	return true
}

// patientNameInQuery reports whether every normalized term of the patient's
// name occurs in the query term set.
func (e *Engine) patientNameInQuery(name string, byTerm map[string]map[string]index.Posting) bool {
	terms, err := e.norm.Terms(name)
	if err != nil || len(terms) == 0 {
		return false
	}
	for _, t := range terms {
		if _, ok := byTerm[t]; !ok {
			return false
		}
	}
	return true
}

func matchesFilters(meta *index.Metadata, f planner.Filters) bool {
	if f.PatientName != "" && !equalFold(meta.PatientName, f.PatientName) {
		return false
	}
	if f.PatientPrefix != "" && !hasPrefixFold(meta.PatientName, f.PatientPrefix) {
		return false
	}
	if f.DateFrom != nil && meta.ReportDate.Before(*f.DateFrom) {
		return false
	}
	if f.DateTo != nil && meta.ReportDate.After(*f.DateTo) {
		return false
	}
	if len(f.ReportTypes) > 0 {
		ok := false
		for _, t := range f.ReportTypes {
			if equalFold(meta.ReportType, t) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}
