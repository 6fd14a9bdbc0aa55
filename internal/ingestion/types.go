// Package ingestion defines the report document model, validation rules, and
// the Kafka-backed ingest pipeline that feeds the indexer.
package ingestion

import "time"

// Operations carried on report events.
const (
	OpUpsert = "upsert"
	OpDelete = "delete"
)

// Report is a medical report document as accepted at the ingest boundary.
type Report struct {
	DocumentID  string    `json:"document_id"`
	PatientName string    `json:"patient_name"`
	ReportDate  time.Time `json:"report_date"`
	ReportType  string    `json:"report_type"`
	RawText     string    `json:"raw_text"`
}

// ReportEvent is the message published to the ingest topic. Delete events
// carry only the document ID.
type ReportEvent struct {
	Op         string    `json:"op"`
	Report     *Report   `json:"report,omitempty"`
	DocumentID string    `json:"document_id,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// IngestResponse acknowledges an accepted report.
type IngestResponse struct {
	DocumentID string `json:"document_id"`
	Status     string `json:"status"`
}
