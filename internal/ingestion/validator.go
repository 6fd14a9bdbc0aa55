package ingestion

import (
	"strings"
	"time"
	"unicode/utf8"

	apperrors "github.com/medsearch/medsearch/pkg/errors"
)

// maxRawTextBytes caps report bodies; anything larger is rejected before it
// reaches the normalizer.
const maxRawTextBytes = 1 << 20

const maxDocumentIDLength = 256

// ValidateReport checks a report before it touches the index. It reports the
// first failing field; the document is never partially indexed.
func ValidateReport(rep *Report) error {
	if rep == nil {
		return apperrors.Validation("report body is required")
	}
	if strings.TrimSpace(rep.DocumentID) == "" {
		return apperrors.Validation("document_id is required")
	}
	if len(rep.DocumentID) > maxDocumentIDLength {
		return apperrors.Validation("document_id exceeds %d bytes", maxDocumentIDLength)
	}
	if strings.ContainsAny(rep.DocumentID, " \t\n") {
		return apperrors.Validation("document_id must not contain whitespace")
	}
	if strings.TrimSpace(rep.PatientName) == "" {
		return apperrors.Validation("patient_name is required")
	}
	if !utf8.ValidString(rep.PatientName) {
		return apperrors.Validation("patient_name is not valid UTF-8")
	}
	if rep.ReportDate.IsZero() {
		return apperrors.Validation("report_date is required")
	}
	if rep.ReportDate.After(time.Now().Add(24 * time.Hour)) {
		return apperrors.Validation("report_date is in the future")
	}
	if strings.TrimSpace(rep.RawText) == "" {
		return apperrors.Validation("raw_text is required")
	}
	if len(rep.RawText) > maxRawTextBytes {
		return apperrors.Validation("raw_text exceeds %d bytes", maxRawTextBytes)
	}
	return nil
}

// ValidateEvent checks an ingest-topic event before dispatch.
func ValidateEvent(ev *ReportEvent) error {
	switch ev.Op {
	case OpUpsert:
		return ValidateReport(ev.Report)
	case OpDelete:
		if strings.TrimSpace(ev.DocumentID) == "" {
			return apperrors.Validation("document_id is required for delete")
		}
		return nil
	default:
		return apperrors.Validation("unknown operation %q", ev.Op)
	}
}
