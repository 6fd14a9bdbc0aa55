package ingestion

import (
	"context"
	"encoding/json"
	"testing"

	apperrors "github.com/medsearch/medsearch/pkg/errors"
)

type fakeApplier struct {
	upserts  []string
	deletes  []string
	applyErr error
}

func (f *fakeApplier) AddOrUpdate(ctx context.Context, rep Report) error {
	if f.applyErr != nil {
		return f.applyErr
	}
	f.upserts = append(f.upserts, rep.DocumentID)
	return nil
}

func (f *fakeApplier) Delete(ctx context.Context, docID string) error {
	if f.applyErr != nil {
		return f.applyErr
	}
	f.deletes = append(f.deletes, docID)
	return nil
}

type fakeStatus struct {
	statuses map[string]string
}

func (f *fakeStatus) MarkStatus(ctx context.Context, docID, status string) error {
	if f.statuses == nil {
		f.statuses = make(map[string]string)
	}
	f.statuses[docID] = status
	return nil
}

type fakeCache struct{ invalidations int }

func (f *fakeCache) Invalidate(ctx context.Context) { f.invalidations++ }

func encode(t *testing.T, ev ReportEvent) []byte {
	t.Helper()
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestHandleUpsertAppliesAndInvalidates(t *testing.T) {
	applier := &fakeApplier{}
	status := &fakeStatus{}
	cache := &fakeCache{}
	h := NewHandler(applier, status, cache)

	ev := ReportEvent{Op: OpUpsert, Report: validReport()}
	if err := h.Handle(context.Background(), []byte("doc-1"), encode(t, ev)); err != nil {
		t.Fatal(err)
	}
	if len(applier.upserts) != 1 || applier.upserts[0] != "doc-1" {
		t.Fatalf("upserts = %v", applier.upserts)
	}
	if status.statuses["doc-1"] != "indexed" {
		t.Fatalf("statuses = %v", status.statuses)
	}
	if cache.invalidations != 1 {
		t.Fatalf("invalidations = %d", cache.invalidations)
	}
}

func TestHandleDeleteIsIdempotent(t *testing.T) {
	applier := &fakeApplier{applyErr: apperrors.NotFound("doc-1")}
	h := NewHandler(applier, nil, nil)

	ev := ReportEvent{Op: OpDelete, DocumentID: "doc-1"}
	if err := h.Handle(context.Background(), []byte("doc-1"), encode(t, ev)); err != nil {
		t.Fatalf("delete of missing doc must not fail the message: %v", err)
	}
}

func TestHandleDropsPoisonMessages(t *testing.T) {
	applier := &fakeApplier{}
	h := NewHandler(applier, nil, nil)
	ctx := context.Background()

	if err := h.Handle(ctx, []byte("k"), []byte("{not json")); err != nil {
		t.Fatalf("undecodable message must be dropped, got %v", err)
	}
	ev := ReportEvent{Op: "replace", Report: validReport()}
	if err := h.Handle(ctx, []byte("k"), encode(t, ev)); err != nil {
		t.Fatalf("invalid op must be dropped, got %v", err)
	}
	if len(applier.upserts)+len(applier.deletes) != 0 {
		t.Fatal("poison messages reached the applier")
	}
}

func TestHandleRejectedReportIsDroppedNotRetried(t *testing.T) {
	applier := &fakeApplier{applyErr: apperrors.Validation("bad report")}
	status := &fakeStatus{}
	h := NewHandler(applier, status, nil)

	ev := ReportEvent{Op: OpUpsert, Report: validReport()}
	if err := h.Handle(context.Background(), []byte("doc-1"), encode(t, ev)); err != nil {
		t.Fatalf("validation failure must not be redelivered: %v", err)
	}
	if status.statuses["doc-1"] != "failed" {
		t.Fatalf("statuses = %v", status.statuses)
	}
}

func TestHandleTransientFailureRequeues(t *testing.T) {
	applier := &fakeApplier{applyErr: apperrors.Storage("apply", context.DeadlineExceeded)}
	h := NewHandler(applier, nil, nil)
	h.retry.MaxAttempts = 2
	h.retry.InitialDelay = 1

	ev := ReportEvent{Op: OpUpsert, Report: validReport()}
	if err := h.Handle(context.Background(), []byte("doc-1"), encode(t, ev)); err == nil {
		t.Fatal("transient failure must be returned for redelivery")
	}
}
