package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/medsearch/medsearch/internal/index"
	apperrors "github.com/medsearch/medsearch/pkg/errors"
)

func openBackends(t *testing.T) map[string]Backend {
	t.Helper()
	boltBackend, err := OpenBolt(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { boltBackend.Close() })
	return map[string]Backend{
		"memory": NewMemory(),
		"bolt":   boltBackend,
	}
}

func TestApplyAndReadBack(t *testing.T) {
	for name, backend := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			s := New(backend, time.Second)
			ctx := context.Background()

			meta := &index.Metadata{
				PatientName: "Alice Smith",
				ReportType:  "radiology",
				DocLength:   3,
			}
			update := DocUpdate{
				DocID: "doc-1",
				Postings: map[string]index.PostingList{
					"fever": {{DocID: "doc-1", Frequency: 1, Positions: []int{2}}},
					"cough": {{DocID: "doc-1", Frequency: 2, Positions: []int{4, 7}}},
				},
				Metadata: meta,
				Terms:    []string{"cough", "fever"},
				Stats:    StatsDelta{Docs: 1, Terms: 3},
			}
			if err := s.Apply(ctx, update); err != nil {
				t.Fatal(err)
			}

			pl, err := s.GetPostings(ctx, "cough")
			if err != nil {
				t.Fatal(err)
			}
			if len(pl) != 1 || pl[0].Frequency != 2 {
				t.Fatalf("postings = %+v", pl)
			}

			got, err := s.GetMetadata(ctx, "doc-1")
			if err != nil {
				t.Fatal(err)
			}
			if got.PatientName != "Alice Smith" || got.DocLength != 3 {
				t.Fatalf("metadata = %+v", got)
			}

			terms, err := s.GetDocTerms(ctx, "doc-1")
			if err != nil {
				t.Fatal(err)
			}
			if len(terms) != 2 {
				t.Fatalf("doc terms = %v", terms)
			}

			stats, err := s.CorpusStats(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if stats.DocumentCount != 1 || stats.TotalTermCount != 3 {
				t.Fatalf("stats = %+v", stats)
			}
		})
	}
}

func TestGetPostingsMissingTermIsEmpty(t *testing.T) {
	for name, backend := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			s := New(backend, time.Second)
			pl, err := s.GetPostings(context.Background(), "xenoplasia")
			if err != nil {
				t.Fatal(err)
			}
			if len(pl) != 0 {
				t.Fatalf("postings = %+v, want empty", pl)
			}
		})
	}
}

func TestGetMetadataNotFound(t *testing.T) {
	for name, backend := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			s := New(backend, time.Second)
			_, err := s.GetMetadata(context.Background(), "missing")
			if !errors.Is(err, apperrors.ErrNotFound) {
				t.Fatalf("err = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestEmptyPostingsListDeletesTerm(t *testing.T) {
	for name, backend := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			s := New(backend, time.Second)
			ctx := context.Background()
			if err := s.Apply(ctx, DocUpdate{
				DocID: "doc-1",
				Postings: map[string]index.PostingList{
					"fever": {{DocID: "doc-1", Frequency: 1, Positions: []int{0}}},
				},
			}); err != nil {
				t.Fatal(err)
			}
			if err := s.Apply(ctx, DocUpdate{
				DocID:    "doc-1",
				Postings: map[string]index.PostingList{"fever": nil},
			}); err != nil {
				t.Fatal(err)
			}
			pl, err := s.GetPostings(ctx, "fever")
			if err != nil {
				t.Fatal(err)
			}
			if len(pl) != 0 {
				t.Fatalf("postings after delete = %+v", pl)
			}
		})
	}
}

func TestTombstoneLifecycle(t *testing.T) {
	for name, backend := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			s := New(backend, time.Second)
			ctx := context.Background()

			if err := s.Apply(ctx, DocUpdate{DocID: "doc-1", Tombstone: true}); err != nil {
				t.Fatal(err)
			}
			tombstoned, err := s.IsTombstoned(ctx, "doc-1")
			if err != nil {
				t.Fatal(err)
			}
			if !tombstoned {
				t.Fatal("doc-1 should be tombstoned")
			}

			set, err := s.TombstoneSet(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if _, ok := set["doc-1"]; !ok {
				t.Fatalf("tombstone set = %v", set)
			}

			if err := s.Apply(ctx, DocUpdate{DocID: "doc-1", ClearTombstone: true}); err != nil {
				t.Fatal(err)
			}
			tombstoned, err = s.IsTombstoned(ctx, "doc-1")
			if err != nil {
				t.Fatal(err)
			}
			if tombstoned {
				t.Fatal("tombstone should be cleared")
			}
		})
	}
}

func TestScrubPostingsRemovesTombstonedDocs(t *testing.T) {
	for name, backend := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			s := New(backend, time.Second)
			ctx := context.Background()

			if err := s.Apply(ctx, DocUpdate{
				DocID: "doc-1",
				Postings: map[string]index.PostingList{
					"fever": {
						{DocID: "doc-1", Frequency: 1, Positions: []int{0}},
						{DocID: "doc-2", Frequency: 1, Positions: []int{3}},
					},
					"cough": {{DocID: "doc-1", Frequency: 1, Positions: []int{1}}},
				},
			}); err != nil {
				t.Fatal(err)
			}
			if err := s.Apply(ctx, DocUpdate{DocID: "doc-1", Tombstone: true}); err != nil {
				t.Fatal(err)
			}

			n, err := s.ScrubPostings(ctx, []string{"fever", "cough"}, []string{"doc-1"})
			if err != nil {
				t.Fatal(err)
			}
			if n != 2 {
				t.Fatalf("rewritten = %d, want 2", n)
			}
			pl, err := s.GetPostings(ctx, "fever")
			if err != nil {
				t.Fatal(err)
			}
			if len(pl) != 1 || pl[0].DocID != "doc-2" {
				t.Fatalf("fever postings = %+v", pl)
			}
			pl, err = s.GetPostings(ctx, "cough")
			if err != nil {
				t.Fatal(err)
			}
			if len(pl) != 0 {
				t.Fatalf("cough postings = %+v, want term dropped", pl)
			}
		})
	}
}

func TestScrubPostingsSparesDocsNoLongerTombstoned(t *testing.T) {
	for name, backend := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			s := New(backend, time.Second)
			ctx := context.Background()

			if err := s.Apply(ctx, DocUpdate{
				DocID: "doc-1",
				Postings: map[string]index.PostingList{
					"fever": {{DocID: "doc-1", Frequency: 1, Positions: []int{0}}},
				},
			}); err != nil {
				t.Fatal(err)
			}
			if err := s.Apply(ctx, DocUpdate{DocID: "doc-1", Tombstone: true}); err != nil {
				t.Fatal(err)
			}
			if err := s.Apply(ctx, DocUpdate{DocID: "doc-1", ClearTombstone: true}); err != nil {
				t.Fatal(err)
			}

			// The candidate list is stale: doc-1 was tombstoned when it was
			// collected but has been re-added since.
			n, err := s.ScrubPostings(ctx, []string{"fever"}, []string{"doc-1"})
			if err != nil {
				t.Fatal(err)
			}
			if n != 0 {
				t.Fatalf("rewritten = %d, want 0", n)
			}
			pl, err := s.GetPostings(ctx, "fever")
			if err != nil {
				t.Fatal(err)
			}
			if len(pl) != 1 || pl[0].DocID != "doc-1" {
				t.Fatalf("fever postings = %+v, want doc-1 intact", pl)
			}
		})
	}
}

// failingTx makes every Put fail, simulating a backend write error mid-apply.
type failingBackend struct {
	Backend
}

type failingTx struct {
	Tx
}

var errInjected = errors.New("disk on fire")

func (f *failingBackend) Update(ctx context.Context, fn func(tx Tx) error) error {
	return f.Backend.Update(ctx, func(tx Tx) error {
		return fn(&failingTx{Tx: tx})
	})
}

func (f *failingTx) Put(bucket, key string, value []byte) error {
	if bucket == bucketMetadata {
		return errInjected
	}
	return f.Tx.Put(bucket, key, value)
}

func TestApplyRollsBackOnWriteFailure(t *testing.T) {
	mem := NewMemory()
	s := New(&failingBackend{Backend: mem}, time.Second)
	ctx := context.Background()

	err := s.Apply(ctx, DocUpdate{
		DocID: "doc-1",
		Postings: map[string]index.PostingList{
			"fever": {{DocID: "doc-1", Frequency: 1, Positions: []int{0}}},
		},
		Metadata: &index.Metadata{PatientName: "Alice Smith", DocLength: 1},
		Stats:    StatsDelta{Docs: 1, Terms: 1},
	})
	if !errors.Is(err, apperrors.ErrStorage) {
		t.Fatalf("err = %v, want ErrStorage", err)
	}

	// Nothing from the failed apply may be visible.
	clean := New(mem, time.Second)
	pl, err := clean.GetPostings(ctx, "fever")
	if err != nil {
		t.Fatal(err)
	}
	if len(pl) != 0 {
		t.Fatalf("postings leaked from failed apply: %+v", pl)
	}
	stats, err := clean.CorpusStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.DocumentCount != 0 {
		t.Fatalf("stats leaked from failed apply: %+v", stats)
	}
}

func TestStatsNeverGoNegative(t *testing.T) {
	s := New(NewMemory(), time.Second)
	ctx := context.Background()
	if err := s.Apply(ctx, DocUpdate{DocID: "doc-1", Stats: StatsDelta{Docs: -5, Terms: -10}}); err != nil {
		t.Fatal(err)
	}
	stats, err := s.CorpusStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.DocumentCount != 0 || stats.TotalTermCount != 0 {
		t.Fatalf("stats = %+v, want zeros", stats)
	}
}

func TestBoltPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	ctx := context.Background()

	b, err := OpenBolt(path)
	if err != nil {
		t.Fatal(err)
	}
	s := New(b, time.Second)
	if err := s.Apply(ctx, DocUpdate{
		DocID: "doc-1",
		Postings: map[string]index.PostingList{
			"cough": {{DocID: "doc-1", Frequency: 1, Positions: []int{0}}},
		},
		Metadata: &index.Metadata{PatientName: "Bob Lee", DocLength: 1},
		Stats:    StatsDelta{Docs: 1, Terms: 1},
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	b2, err := OpenBolt(path)
	if err != nil {
		t.Fatal(err)
	}
	defer b2.Close()
	s2 := New(b2, time.Second)
	pl, err := s2.GetPostings(ctx, "cough")
	if err != nil {
		t.Fatal(err)
	}
	if len(pl) != 1 || pl[0].DocID != "doc-1" {
		t.Fatalf("postings after reopen = %+v", pl)
	}
}
