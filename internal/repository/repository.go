// Package repository persists per-document checkpoint records.
package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/joseph-ayodele/witness-arbiter/internal/common"
	"github.com/joseph-ayodele/witness-arbiter/internal/entity"
)

// CheckpointRepository stores one CheckpointRecord per document key.
//
// Save is compare-and-swap on Version: rec.Version must equal the stored version
// (0 for a new record), otherwise ErrConflict is returned. On success rec.Version
// and rec.UpdatedAt hold the stored values.
type CheckpointRepository interface {
	Load(ctx context.Context, key string) (*entity.CheckpointRecord, error)
	Save(ctx context.Context, rec *entity.CheckpointRecord) error
	IsComplete(ctx context.Context, key string) (bool, error)
	// Update applies fn to the current record (a fresh PENDING record when none
	// exists) and saves the result. Calls for the same key are serialized.
	Update(ctx context.Context, key string, fn func(*entity.CheckpointRecord) error) (*entity.CheckpointRecord, error)
	List(ctx context.Context) ([]*entity.CheckpointRecord, error)
	Close() error
}

// HealthChecker is implemented by backends that can be pinged.
type HealthChecker interface {
	HealthCheck(ctx context.Context, timeout time.Duration) error
}

const maxUpdateAttempts = 5

// casUpdate implements Update for stores whose only write primitive is Save.
func casUpdate(ctx context.Context, repo CheckpointRepository, locks *keyedMutex, key string, fn func(*entity.CheckpointRecord) error) (*entity.CheckpointRecord, error) {
	unlock := locks.Lock(key)
	defer unlock()

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		cur, err := repo.Load(ctx, key)
		switch {
		case errors.Is(err, common.ErrNotFound):
			cur = entity.NewCheckpointRecord(key)
		case err != nil:
			return nil, err
		}
		next := cur.Clone()
		if err := fn(next); err != nil {
			return nil, err
		}
		next.DocKey = key
		next.Version = cur.Version
		err = repo.Save(ctx, next)
		if errors.Is(err, common.ErrConflict) {
			// another process won the race
			continue
		}
		if err != nil {
			return nil, err
		}
		return next, nil
	}
	return nil, fmt.Errorf("update %q: %w after %d attempts", key, common.ErrConflict, maxUpdateAttempts)
}

// keyedMutex serializes work per document key within the process.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: map[string]*refMutex{}}
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// Open builds the checkpoint repository selected by cfg.Driver.
func Open(ctx context.Context, cfg common.StoreConfig, logger *slog.Logger) (CheckpointRepository, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Driver {
	case DriverMemory:
		return NewMemoryRepository(), nil
	case DriverSQLite, DriverPostgres:
		db, err := OpenDB(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		repo, err := NewSQLRepository(ctx, db, logger)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		return repo, nil
	case DriverFirestore:
		return NewFirestoreRepository(ctx, cfg.FirestoreProject, cfg.FirestoreCollection, logger)
	default:
		return nil, fmt.Errorf("%w: unknown store driver %q", common.ErrInvalidInput, cfg.Driver)
	}
}
