package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/joseph-ayodele/witness-arbiter/internal/common"
	"github.com/joseph-ayodele/witness-arbiter/internal/entity"
)

type memoryRow struct {
	payload   []byte
	completed bool
	version   int64
}

// memoryRepo keeps encoded payloads so reads go through the same validation as
// the durable stores. Used for dry runs and tests.
type memoryRepo struct {
	mu    sync.RWMutex
	rows  map[string]memoryRow
	locks *keyedMutex
}

func NewMemoryRepository() CheckpointRepository {
	return &memoryRepo{rows: map[string]memoryRow{}, locks: newKeyedMutex()}
}

func (r *memoryRepo) Load(_ context.Context, key string) (*entity.CheckpointRecord, error) {
	r.mu.RLock()
	row, ok := r.rows[key]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("checkpoint %q: %w", key, common.ErrNotFound)
	}
	return decodeRecord(key, row.payload, row.completed)
}

func (r *memoryRepo) Save(_ context.Context, rec *entity.CheckpointRecord) error {
	next := rec.Clone()
	next.Version = rec.Version + 1
	next.UpdatedAt = time.Now().UTC()
	payload, err := encodeRecord(next)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.rows[rec.DocKey]
	if (!ok && rec.Version != 0) || (ok && cur.version != rec.Version) {
		return fmt.Errorf("checkpoint %q at version %d: %w", rec.DocKey, rec.Version, common.ErrConflict)
	}
	r.rows[rec.DocKey] = memoryRow{payload: payload, completed: next.IsComplete(), version: next.Version}
	rec.Version, rec.UpdatedAt = next.Version, next.UpdatedAt
	return nil
}

func (r *memoryRepo) IsComplete(_ context.Context, key string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rows[key].completed, nil
}

func (r *memoryRepo) Update(ctx context.Context, key string, fn func(*entity.CheckpointRecord) error) (*entity.CheckpointRecord, error) {
	return casUpdate(ctx, r, r.locks, key, fn)
}

func (r *memoryRepo) List(_ context.Context) ([]*entity.CheckpointRecord, error) {
	r.mu.RLock()
	keys := make([]string, 0, len(r.rows))
	for k := range r.rows {
		keys = append(keys, k)
	}
	r.mu.RUnlock()
	sort.Strings(keys)

	out := make([]*entity.CheckpointRecord, 0, len(keys))
	for _, k := range keys {
		rec, err := r.Load(context.Background(), k)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *memoryRepo) Close() error { return nil }

// putRaw stores a payload without validation. Tests use it to plant corrupt rows.
func (r *memoryRepo) putRaw(key string, payload []byte, completed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[key] = memoryRow{payload: payload, completed: completed, version: 1}
}
