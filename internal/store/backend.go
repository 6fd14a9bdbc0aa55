// Package store implements the durable index store: term postings lists,
// document metadata records, tombstones, and corpus statistics, layered over
// a pluggable key-value backend with atomic grouped writes.
package store

import (
	"context"
	"fmt"
)

// Bucket names used by the index store.
const (
	bucketPostings   = "postings"
	bucketMetadata   = "metadata"
	bucketDocTerms   = "docterms"
	bucketTombstones = "tombstones"
	bucketStats      = "stats"
)

var allBuckets = []string{
	bucketPostings,
	bucketMetadata,
	bucketDocTerms,
	bucketTombstones,
	bucketStats,
}

// Tx is the view of a backend transaction exposed to store operations. All
// mutations performed within one Update call become visible atomically.
type Tx interface {
	// Get returns the value for key, or nil if absent.
	Get(bucket, key string) ([]byte, error)
	Put(bucket, key string, value []byte) error
	Delete(bucket, key string) error
	// ForEach iterates all key/value pairs in a bucket. The callback must
	// not retain the byte slices.
	ForEach(bucket string, fn func(key string, value []byte) error) error
}

// Backend is the key-value abstraction the index store runs on. Any durable
// backend providing atomic grouped writes and point reads satisfies it.
type Backend interface {
	View(ctx context.Context, fn func(tx Tx) error) error
	Update(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

// OpenBackend opens the named backend implementation.
func OpenBackend(kind, path string) (Backend, error) {
	switch kind {
	case "bolt", "":
		return OpenBolt(path)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unsupported index backend %q", kind)
	}
}
