package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"
)

// Bolt is the durable Backend backed by a single boltdb file. A bolt write
// transaction is the atomic group write the index store relies on; readers
// run in their own read transactions and never block writers.
type Bolt struct {
	db *bolt.DB
}

// OpenBolt opens (or creates) the bolt file at path and ensures all index
// buckets exist.
func OpenBolt(path string) (*Bolt, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating index directory: %w", err)
		}
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bolt file %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Bolt{db: db}, nil
}

func (b *Bolt) View(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.View(func(btx *bolt.Tx) error {
		return fn(&boltTx{tx: btx})
	})
}

func (b *Bolt) Update(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(btx *bolt.Tx) error {
		return fn(&boltTx{tx: btx})
	})
}

func (b *Bolt) Close() error {
	return b.db.Close()
}

type boltTx struct {
	tx *bolt.Tx
}

func (t *boltTx) Get(bucket, key string) ([]byte, error) {
	bk := t.tx.Bucket([]byte(bucket))
	if bk == nil {
		return nil, fmt.Errorf("bucket %s missing", bucket)
	}
	v := bk.Get([]byte(key))
	if v == nil {
		return nil, nil
	}
	// bolt memory is only valid for the life of the transaction
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, nil
}

func (t *boltTx) Put(bucket, key string, value []byte) error {
	bk := t.tx.Bucket([]byte(bucket))
	if bk == nil {
		return fmt.Errorf("bucket %s missing", bucket)
	}
	return bk.Put([]byte(key), value)
}

func (t *boltTx) Delete(bucket, key string) error {
	bk := t.tx.Bucket([]byte(bucket))
	if bk == nil {
		return fmt.Errorf("bucket %s missing", bucket)
	}
	return bk.Delete([]byte(key))
}

func (t *boltTx) ForEach(bucket string, fn func(key string, value []byte) error) error {
	bk := t.tx.Bucket([]byte(bucket))
	if bk == nil {
		return fmt.Errorf("bucket %s missing", bucket)
	}
	return bk.ForEach(func(k, v []byte) error {
		return fn(string(k), v)
	})
}
