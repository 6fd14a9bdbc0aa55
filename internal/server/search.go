package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/medsearch/medsearch/internal/cache"
	"github.com/medsearch/medsearch/internal/indexer"
	"github.com/medsearch/medsearch/internal/planner"
	"github.com/medsearch/medsearch/internal/retrieval"
	"github.com/medsearch/medsearch/pkg/config"
	apperrors "github.com/medsearch/medsearch/pkg/errors"
	"github.com/medsearch/medsearch/pkg/health"
	"github.com/medsearch/medsearch/pkg/metrics"
)

// SearchService bundles the query path and index administration endpoints.
type SearchService struct {
	planner *planner.Planner
	engine  *retrieval.Engine
	indexer *indexer.Indexer
	reports indexer.ReportSource // nil when no catalog is configured
	cache   *cache.QueryCache
	checker *health.Checker
	metrics *metrics.Metrics
	cfg     config.SearchConfig
	index   config.IndexConfig
}

// NewSearchService creates the service. reports, cache, and metrics may be
// nil; the corresponding features degrade gracefully.
func NewSearchService(
	p *planner.Planner,
	e *retrieval.Engine,
	ix *indexer.Indexer,
	reports indexer.ReportSource,
	qc *cache.QueryCache,
	checker *health.Checker,
	m *metrics.Metrics,
	cfg config.SearchConfig,
	indexCfg config.IndexConfig,
) *SearchService {
	return &SearchService{
		planner: p,
		engine:  e,
		indexer: ix,
		reports: reports,
		cache:   qc,
		checker: checker,
		metrics: m,
		cfg:     cfg,
		index:   indexCfg,
	}
}

// Routes returns the search service HTTP mux.
func (s *SearchService) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/search", s.handleSearch)
	mux.HandleFunc("POST /api/v1/admin/compact", s.handleCompact)
	mux.HandleFunc("POST /api/v1/admin/reindex", s.handleReindex)
	mux.HandleFunc("GET /healthz", s.checker.LiveHandler())
	mux.HandleFunc("GET /readyz", s.checker.ReadyHandler())
	return mux
}

func (s *SearchService) handleSearch(w http.ResponseWriter, r *http.Request) {
	req, err := parseSearchRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	ctx := r.Context()
	if s.cfg.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.QueryTimeout)
		defer cancel()
	}

	compute := func(ctx context.Context) (*retrieval.Response, error) {
		plan, err := s.planner.BuildPlan(ctx, req)
		if err != nil {
			return nil, err
		}
		return s.engine.Execute(ctx, plan)
	}

	start := time.Now()
	var (
		resp *retrieval.Response
		hit  bool
	)
	if s.cache != nil {
		resp, hit, err = s.cache.GetOrCompute(ctx, cache.Key(req), compute)
	} else {
		resp, err = compute(ctx)
	}
	if s.metrics != nil {
		status := "miss"
		if hit {
			status = "hit"
		}
		s.metrics.QueryDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *SearchService) handleCompact(w http.ResponseWriter, r *http.Request) {
	res, err := s.indexer.Compact(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.invalidateCache(r.Context())
	writeJSON(w, http.StatusOK, res)
}

func (s *SearchService) handleReindex(w http.ResponseWriter, r *http.Request) {
	if s.reports == nil {
		writeError(w, r, apperrors.Newf(apperrors.ErrInternal, http.StatusServiceUnavailable,
			"report catalog not configured"))
		return
	}
	n, err := s.indexer.Reindex(r.Context(), s.reports, s.index.ReindexWorkers)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.invalidateCache(r.Context())
	writeJSON(w, http.StatusOK, map[string]int{"documents": n})
}

func (s *SearchService) invalidateCache(ctx context.Context) {
	if s.cache != nil {
		s.cache.Invalidate(ctx)
	}
}

// parseSearchRequest maps query parameters onto a planner request. Dates
// accept YYYY-MM-DD or RFC 3339.
func parseSearchRequest(r *http.Request) (planner.Request, error) {
	q := r.URL.Query()
	req := planner.Request{
		Query:  q.Get("q"),
		Mode:   planner.Mode(strings.ToLower(q.Get("mode"))),
		Cursor: q.Get("cursor"),
		Filters: planner.Filters{
			PatientName:   q.Get("patient"),
			PatientPrefix: q.Get("patient_prefix"),
			ReportTypes:   q["type"],
		},
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			return req, apperrors.Planning("limit must be a non-negative integer")
		}
		req.Limit = limit
	}
	if v := q.Get("from"); v != "" {
		t, err := parseDate(v)
		if err != nil {
			return req, apperrors.Planning("invalid from date %q", v)
		}
		req.Filters.DateFrom = &t
	}
	if v := q.Get("to"); v != "" {
		t, err := parseDate(v)
		if err != nil {
			return req, apperrors.Planning("invalid to date %q", v)
		}
		// A bare date upper bound is inclusive of that whole day.
		if len(v) == len("2006-01-02") {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		req.Filters.DateTo = &t
	}
	return req, nil
}

func parseDate(v string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, v)
}
