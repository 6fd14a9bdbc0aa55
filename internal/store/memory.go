package store

import (
	"context"
	"sync"
)

// Memory is an in-memory Backend used by tests and ephemeral index
// instances. Update transactions buffer their writes and commit them in one
// critical section, so a failed transaction leaves the maps untouched and
// readers never observe partial writes.
type Memory struct {
	mu      sync.RWMutex
	buckets map[string]map[string][]byte
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	m := &Memory{buckets: make(map[string]map[string][]byte, len(allBuckets))}
	for _, b := range allBuckets {
		m.buckets[b] = make(map[string][]byte)
	}
	return m
}

func (m *Memory) View(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(&memoryTx{backend: m})
}

func (m *Memory) Update(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memoryTx{
		backend: m,
		pending: make(map[string]map[string]pendingWrite),
	}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (m *Memory) Close() error {
	return nil
}

type pendingWrite struct {
	value   []byte
	deleted bool
}

// memoryTx overlays buffered writes on the backend maps. With pending nil it
// acts as a read-only view.
type memoryTx struct {
	backend *Memory
	pending map[string]map[string]pendingWrite
}

func (tx *memoryTx) Get(bucket, key string) ([]byte, error) {
	if tx.pending != nil {
		if w, ok := tx.pending[bucket][key]; ok {
			if w.deleted {
				return nil, nil
			}
			return w.value, nil
		}
	}
	b, ok := tx.backend.buckets[bucket]
	if !ok {
		return nil, nil
	}
	return b[key], nil
}

func (tx *memoryTx) Put(bucket, key string, value []byte) error {
	cp := make([]byte, len(value))
	copy(cp, value)
	tx.stage(bucket, key, pendingWrite{value: cp})
	return nil
}

func (tx *memoryTx) Delete(bucket, key string) error {
	tx.stage(bucket, key, pendingWrite{deleted: true})
	return nil
}

func (tx *memoryTx) ForEach(bucket string, fn func(key string, value []byte) error) error {
	seen := make(map[string]struct{})
	if tx.pending != nil {
		for key, w := range tx.pending[bucket] {
			seen[key] = struct{}{}
			if w.deleted {
				continue
			}
			if err := fn(key, w.value); err != nil {
				return err
			}
		}
	}
	for key, value := range tx.backend.buckets[bucket] {
		if _, overridden := seen[key]; overridden {
			continue
		}
		if err := fn(key, value); err != nil {
			return err
		}
	}
	return nil
}

func (tx *memoryTx) stage(bucket, key string, w pendingWrite) {
	if tx.pending[bucket] == nil {
		tx.pending[bucket] = make(map[string]pendingWrite)
	}
	tx.pending[bucket][key] = w
}

func (tx *memoryTx) commit() {
	for bucket, writes := range tx.pending {
		dst := tx.backend.buckets[bucket]
		if dst == nil {
			dst = make(map[string][]byte)
			tx.backend.buckets[bucket] = dst
		}
		for key, w := range writes {
			if w.deleted {
				delete(dst, key)
			} else {
				dst[key] = w.value
			}
		}
	}
}
