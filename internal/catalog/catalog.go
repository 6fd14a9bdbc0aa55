// Package catalog persists the authoritative copy of every ingested report
// in Postgres. The inverted index is derived state; the catalog is what a
// full reindex rebuilds it from.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/medsearch/medsearch/internal/ingestion"
	"github.com/medsearch/medsearch/pkg/postgres"
)

// Indexing status values tracked per report.
const (
	StatusPending = "pending"
	StatusIndexed = "indexed"
	StatusDeleted = "deleted"
	StatusFailed  = "failed"
)

const schema = `
CREATE TABLE IF NOT EXISTS reports (
    document_id  TEXT PRIMARY KEY,
    patient_name TEXT NOT NULL,
    report_date  TIMESTAMPTZ NOT NULL,
    report_type  TEXT NOT NULL DEFAULT '',
    raw_text     TEXT NOT NULL,
    status       TEXT NOT NULL DEFAULT 'pending',
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_reports_status ON reports (status);
`

// Catalog is the Postgres-backed report store.
type Catalog struct {
	db     *postgres.Client
	logger *slog.Logger
}

// New creates a Catalog and ensures its schema exists.
func New(ctx context.Context, db *postgres.Client) (*Catalog, error) {
	if _, err := db.DB.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("creating reports schema: %w", err)
	}
	return &Catalog{
		db:     db,
		logger: slog.Default().With("component", "catalog"),
	}, nil
}

// Save upserts a report and resets its status to pending.
func (c *Catalog) Save(ctx context.Context, rep *ingestion.Report) error {
	const q = `
INSERT INTO reports (document_id, patient_name, report_date, report_type, raw_text, status, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, now())
ON CONFLICT (document_id) DO UPDATE SET
    patient_name = EXCLUDED.patient_name,
    report_date  = EXCLUDED.report_date,
    report_type  = EXCLUDED.report_type,
    raw_text     = EXCLUDED.raw_text,
    status       = EXCLUDED.status,
    updated_at   = now()`
	_, err := c.db.DB.ExecContext(ctx, q,
		rep.DocumentID, rep.PatientName, rep.ReportDate, rep.ReportType, rep.RawText, StatusPending)
	if err != nil {
		return fmt.Errorf("saving report %s: %w", rep.DocumentID, err)
	}
	return nil
}

// MarkStatus records the indexing outcome for a report.
func (c *Catalog) MarkStatus(ctx context.Context, docID, status string) error {
	const q = `UPDATE reports SET status = $2, updated_at = now() WHERE document_id = $1`
	if _, err := c.db.DB.ExecContext(ctx, q, docID, status); err != nil {
		return fmt.Errorf("marking report %s %s: %w", docID, status, err)
	}
	return nil
}

// Get returns one report by document ID, or sql.ErrNoRows.
func (c *Catalog) Get(ctx context.Context, docID string) (*ingestion.Report, error) {
	const q = `
SELECT document_id, patient_name, report_date, report_type, raw_text
FROM reports WHERE document_id = $1`
	var rep ingestion.Report
	err := c.db.DB.QueryRowContext(ctx, q, docID).Scan(
		&rep.DocumentID, &rep.PatientName, &rep.ReportDate, &rep.ReportType, &rep.RawText)
	if err != nil {
		return nil, err
	}
	return &rep, nil
}

// Count returns the number of non-deleted reports.
func (c *Catalog) Count(ctx context.Context) (int64, error) {
	var n int64
	err := c.db.DB.QueryRowContext(ctx,
		`SELECT count(*) FROM reports WHERE status <> $1`, StatusDeleted).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting reports: %w", err)
	}
	return n, nil
}

// Snapshot streams every non-deleted report to fn in document ID order.
// Used by full reindex; a single connection holds the cursor for the whole
// walk.
func (c *Catalog) Snapshot(ctx context.Context, fn func(rep *ingestion.Report) error) error {
	const q = `
SELECT document_id, patient_name, report_date, report_type, raw_text
FROM reports WHERE status <> $1 ORDER BY document_id`
	rows, err := c.db.DB.QueryContext(ctx, q, StatusDeleted)
	if err != nil {
		return fmt.Errorf("querying report snapshot: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rep ingestion.Report
		if err := rows.Scan(&rep.DocumentID, &rep.PatientName, &rep.ReportDate, &rep.ReportType, &rep.RawText); err != nil {
			return fmt.Errorf("scanning report row: %w", err)
		}
		if err := fn(&rep); err != nil {
			return err
		}
	}
	return rows.Err()
}

// MarkDeleted flags a report deleted inside a transaction so the flag and
// any caller bookkeeping commit together.
func (c *Catalog) MarkDeleted(ctx context.Context, docID string) error {
	return c.db.InTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE reports SET status = $2, updated_at = now() WHERE document_id = $1`,
			docID, StatusDeleted)
		if err != nil {
			return fmt.Errorf("marking report %s deleted: %w", docID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return sql.ErrNoRows
		}
		return nil
	})
}
