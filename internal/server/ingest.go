package server

import (
	"encoding/json"
	"net/http"

	"github.com/medsearch/medsearch/internal/ingestion"
	apperrors "github.com/medsearch/medsearch/pkg/errors"
	"github.com/medsearch/medsearch/pkg/health"
)

// IngestService is the gateway surface: it accepts reports and deletes,
// persists them to the catalog, and enqueues them for the indexer.
type IngestService struct {
	publisher *ingestion.Publisher
	checker   *health.Checker
}

// NewIngestService creates the service.
func NewIngestService(pub *ingestion.Publisher, checker *health.Checker) *IngestService {
	return &IngestService{publisher: pub, checker: checker}
}

// Routes returns the ingest gateway HTTP mux.
func (s *IngestService) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/reports", s.handleSubmit)
	mux.HandleFunc("DELETE /api/v1/reports/{id}", s.handleDelete)
	mux.HandleFunc("GET /healthz", s.checker.LiveHandler())
	mux.HandleFunc("GET /readyz", s.checker.ReadyHandler())
	return mux
}

func (s *IngestService) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var rep ingestion.Report
	if err := json.NewDecoder(r.Body).Decode(&rep); err != nil {
		writeError(w, r, apperrors.Validation("malformed report body: %v", err))
		return
	}
	resp, err := s.publisher.SubmitReport(r.Context(), &rep)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *IngestService) handleDelete(w http.ResponseWriter, r *http.Request) {
	resp, err := s.publisher.SubmitDelete(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}
