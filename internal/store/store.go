package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/medsearch/medsearch/internal/index"
	"github.com/medsearch/medsearch/pkg/config"
	apperrors "github.com/medsearch/medsearch/pkg/errors"
	"github.com/medsearch/medsearch/pkg/resilience"
)

const statsKey = "corpus"

// Store is the index store: term postings, document metadata, tombstones,
// and corpus statistics. All mutations for one document go through Apply,
// which the backend commits atomically.
type Store struct {
	backend   Backend
	opTimeout time.Duration
	logger    *slog.Logger
}

// Open creates a Store on the backend named in cfg.
func Open(cfg config.IndexConfig) (*Store, error) {
	backend, err := OpenBackend(cfg.Backend, cfg.Path)
	if err != nil {
		return nil, err
	}
	return New(backend, cfg.OpTimeout), nil
}

// New creates a Store over an existing backend. opTimeout bounds every
// backend operation; zero disables the bound.
func New(backend Backend, opTimeout time.Duration) *Store {
	return &Store{
		backend:   backend,
		opTimeout: opTimeout,
		logger:    slog.Default().With("component", "index-store"),
	}
}

// Close flushes and closes the underlying backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// StatsDelta adjusts the corpus summary alongside a document update.
type StatsDelta struct {
	Docs  int64
	Terms int64
}

// DocUpdate is the atomic unit of index mutation: everything here becomes
// visible together, or not at all.
type DocUpdate struct {
	DocID string
	// Postings holds full replacement lists per term. An empty list removes
	// the term key entirely.
	Postings map[string]index.PostingList
	Metadata *index.Metadata
	// Terms is the forward docID -> terms mapping, needed to diff postings
	// on the next update of the same document. nil leaves it unchanged.
	Terms          []string
	DeleteMetadata bool
	DeleteTerms    bool
	Tombstone      bool
	ClearTombstone bool
	Stats          StatsDelta
}

// Apply commits a per-document update as one atomic group write.
func (s *Store) Apply(ctx context.Context, u DocUpdate) error {
	return s.write(ctx, "apply", func(tx Tx) error {
		for term, pl := range u.Postings {
			if len(pl) == 0 {
				if err := tx.Delete(bucketPostings, term); err != nil {
					return err
				}
				continue
			}
			data, err := json.Marshal(pl)
			if err != nil {
				return fmt.Errorf("marshaling postings for %q: %w", term, err)
			}
			if err := tx.Put(bucketPostings, term, data); err != nil {
				return err
			}
		}
		if u.Metadata != nil {
			data, err := json.Marshal(u.Metadata)
			if err != nil {
				return fmt.Errorf("marshaling metadata: %w", err)
			}
			if err := tx.Put(bucketMetadata, u.DocID, data); err != nil {
				return err
			}
		} else if u.DeleteMetadata {
			if err := tx.Delete(bucketMetadata, u.DocID); err != nil {
				return err
			}
		}
		if u.Terms != nil {
			data, err := json.Marshal(u.Terms)
			if err != nil {
				return fmt.Errorf("marshaling doc terms: %w", err)
			}
			if err := tx.Put(bucketDocTerms, u.DocID, data); err != nil {
				return err
			}
		} else if u.DeleteTerms {
			if err := tx.Delete(bucketDocTerms, u.DocID); err != nil {
				return err
			}
		}
		if u.Tombstone {
			ts := time.Now().UTC().Format(time.RFC3339Nano)
			if err := tx.Put(bucketTombstones, u.DocID, []byte(ts)); err != nil {
				return err
			}
		} else if u.ClearTombstone {
			if err := tx.Delete(bucketTombstones, u.DocID); err != nil {
				return err
			}
		}
		if u.Stats != (StatsDelta{}) {
			if err := s.bumpStats(tx, u.Stats); err != nil {
				return err
			}
		}
		return nil
	})
}

// ScrubPostings removes candidate documents from the given terms' postings
// lists and reports how many lists changed. Only documents still tombstoned
// are removed, and the tombstone check shares the write transaction with the
// rewrite, so a document re-added concurrently keeps its fresh postings.
func (s *Store) ScrubPostings(ctx context.Context, terms []string, candidates []string) (int, error) {
	rewritten := 0
	err := s.write(ctx, "scrub postings", func(tx Tx) error {
		dead := make(map[string]struct{}, len(candidates))
		for _, docID := range candidates {
			data, err := tx.Get(bucketTombstones, docID)
			if err != nil {
				return err
			}
			if data != nil {
				dead[docID] = struct{}{}
			}
		}
		if len(dead) == 0 {
			return nil
		}
		for _, term := range terms {
			data, err := tx.Get(bucketPostings, term)
			if err != nil {
				return err
			}
			if data == nil {
				continue
			}
			var pl index.PostingList
			if err := json.Unmarshal(data, &pl); err != nil {
				return fmt.Errorf("parsing postings for %q: %w", term, err)
			}
			filtered := pl
			for docID := range dead {
				filtered = filtered.Remove(docID)
			}
			if len(filtered) == len(pl) {
				continue
			}
			if len(filtered) == 0 {
				if err := tx.Delete(bucketPostings, term); err != nil {
					return err
				}
			} else {
				out, err := json.Marshal(filtered)
				if err != nil {
					return fmt.Errorf("marshaling postings for %q: %w", term, err)
				}
				if err := tx.Put(bucketPostings, term, out); err != nil {
					return err
				}
			}
			rewritten++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return rewritten, nil
}

// GetPostings returns the postings list for term, empty when the term is
// not indexed.
func (s *Store) GetPostings(ctx context.Context, term string) (index.PostingList, error) {
	var pl index.PostingList
	err := s.read(ctx, "get postings", func(tx Tx) error {
		data, err := tx.Get(bucketPostings, term)
		if err != nil {
			return err
		}
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &pl)
	})
	if err != nil {
		return nil, err
	}
	return pl, nil
}

// DocFreq returns the number of documents whose postings reference term.
// The count may include tombstoned documents; it is used only for
// selectivity and ranking estimates.
func (s *Store) DocFreq(ctx context.Context, term string) (int, error) {
	pl, err := s.GetPostings(ctx, term)
	if err != nil {
		return 0, err
	}
	return len(pl), nil
}

// GetMetadata returns the metadata record for docID, or a not-found error.
func (s *Store) GetMetadata(ctx context.Context, docID string) (*index.Metadata, error) {
	var meta *index.Metadata
	err := s.read(ctx, "get metadata", func(tx Tx) error {
		data, err := tx.Get(bucketMetadata, docID)
		if err != nil {
			return err
		}
		if data == nil {
			return nil
		}
		meta = &index.Metadata{}
		return json.Unmarshal(data, meta)
	})
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, apperrors.NotFound(docID)
	}
	return meta, nil
}

// GetDocTerms returns the terms recorded for docID, nil if unknown.
func (s *Store) GetDocTerms(ctx context.Context, docID string) ([]string, error) {
	var terms []string
	err := s.read(ctx, "get doc terms", func(tx Tx) error {
		data, err := tx.Get(bucketDocTerms, docID)
		if err != nil {
			return err
		}
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &terms)
	})
	if err != nil {
		return nil, err
	}
	return terms, nil
}

// IsTombstoned reports whether docID is logically deleted.
func (s *Store) IsTombstoned(ctx context.Context, docID string) (bool, error) {
	var tombstoned bool
	err := s.read(ctx, "get tombstone", func(tx Tx) error {
		data, err := tx.Get(bucketTombstones, docID)
		if err != nil {
			return err
		}
		tombstoned = data != nil
		return nil
	})
	return tombstoned, err
}

// TombstoneSet returns all tombstoned document IDs. Retrieval fetches this
// once per query to exclude logically deleted documents.
func (s *Store) TombstoneSet(ctx context.Context) (map[string]struct{}, error) {
	set := make(map[string]struct{})
	err := s.read(ctx, "list tombstones", func(tx Tx) error {
		return tx.ForEach(bucketTombstones, func(key string, _ []byte) error {
			set[key] = struct{}{}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return set, nil
}

// CorpusStats returns the live-document summary used for scoring. Reads may
// be slightly stale relative to concurrent writes.
func (s *Store) CorpusStats(ctx context.Context) (index.CorpusStats, error) {
	var stats index.CorpusStats
	err := s.read(ctx, "get corpus stats", func(tx Tx) error {
		data, err := tx.Get(bucketStats, statsKey)
		if err != nil {
			return err
		}
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &stats)
	})
	return stats, err
}

// ForEachTerm iterates every term and its postings list. Used by compaction
// and diagnostics; not part of the query hot path.
func (s *Store) ForEachTerm(ctx context.Context, fn func(term string, pl index.PostingList) error) error {
	return s.read(ctx, "scan postings", func(tx Tx) error {
		return tx.ForEach(bucketPostings, func(key string, value []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			var pl index.PostingList
			if err := json.Unmarshal(value, &pl); err != nil {
				return fmt.Errorf("parsing postings for %q: %w", key, err)
			}
			return fn(key, pl)
		})
	})
}

func (s *Store) bumpStats(tx Tx, delta StatsDelta) error {
	var stats index.CorpusStats
	data, err := tx.Get(bucketStats, statsKey)
	if err != nil {
		return err
	}
	if data != nil {
		if err := json.Unmarshal(data, &stats); err != nil {
			return fmt.Errorf("parsing corpus stats: %w", err)
		}
	}
	stats.DocumentCount += delta.Docs
	stats.TotalTermCount += delta.Terms
	if stats.DocumentCount < 0 {
		stats.DocumentCount = 0
	}
	if stats.TotalTermCount < 0 {
		stats.TotalTermCount = 0
	}
	out, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshaling corpus stats: %w", err)
	}
	return tx.Put(bucketStats, statsKey, out)
}

func (s *Store) read(ctx context.Context, op string, fn func(tx Tx) error) error {
	return s.wrap(op, resilience.WithTimeout(ctx, s.opTimeout, op, func(ctx context.Context) error {
		return s.backend.View(ctx, fn)
	}))
}

func (s *Store) write(ctx context.Context, op string, fn func(tx Tx) error) error {
	return s.wrap(op, resilience.WithTimeout(ctx, s.opTimeout, op, func(ctx context.Context) error {
		return s.backend.Update(ctx, fn)
	}))
}

// wrap classifies backend failures into the engine's error taxonomy.
// Validation and not-found errors pass through unchanged.
func (s *Store) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Newf(apperrors.ErrTimeout, http.StatusServiceUnavailable, "%s: %v", op, err)
	}
	return apperrors.Storage(op, err)
}
