package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"

	"github.com/joseph-ayodele/witness-arbiter/internal/common"
	"github.com/joseph-ayodele/witness-arbiter/internal/entity"
)

const checkpointTable = "checkpoints"

const (
	colDocKey    = "doc_key"
	colPayload   = "payload"
	colCompleted = "completed"
	colVersion   = "version"
	colUpdatedAt = "updated_at"
)

// sqlRepo keeps one row per document: the JSON payload plus the columns the
// store needs to answer without decoding it.
type sqlRepo struct {
	db     *DB
	locks  *keyedMutex
	logger *slog.Logger
}

// NewSQLRepository creates the checkpoint table when missing.
func NewSQLRepository(ctx context.Context, db *DB, logger *slog.Logger) (CheckpointRepository, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &sqlRepo{db: db, locks: newKeyedMutex(), logger: logger}
	if err := r.migrate(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *sqlRepo) builder() *entsql.DialectBuilder {
	return entsql.Dialect(r.db.Dialect)
}

// checkpointDDL is portable between sqlite and postgres.
var checkpointDDL = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	%s VARCHAR(512) NOT NULL PRIMARY KEY,
	%s TEXT NOT NULL,
	%s BOOLEAN NOT NULL,
	%s BIGINT NOT NULL,
	%s VARCHAR(64) NOT NULL
)`, checkpointTable, colDocKey, colPayload, colCompleted, colVersion, colUpdatedAt)

func (r *sqlRepo) migrate(ctx context.Context) error {
	var res sql.Result
	if err := r.db.Driver.Exec(ctx, checkpointDDL, []any{}, &res); err != nil {
		r.logger.Error("repository.sql.migrate_failed", "error", err)
		return fmt.Errorf("%w: create checkpoints table: %v", common.ErrDatabase, err)
	}
	return nil
}

func (r *sqlRepo) Load(ctx context.Context, key string) (*entity.CheckpointRecord, error) {
	return r.load(ctx, r.db.Driver, key)
}

// querier is satisfied by both the driver and a transaction.
type querier interface {
	Query(ctx context.Context, query string, args, v any) error
}

func (r *sqlRepo) load(ctx context.Context, q querier, key string) (*entity.CheckpointRecord, error) {
	query, args := r.builder().
		Select(colPayload, colCompleted).
		From(entsql.Table(checkpointTable)).
		Where(entsql.EQ(colDocKey, key)).
		Query()

	var rows entsql.Rows
	if err := q.Query(ctx, query, args, &rows); err != nil {
		return nil, fmt.Errorf("%w: load %q: %v", common.ErrDatabase, key, err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("%w: load %q: %v", common.ErrDatabase, key, err)
		}
		return nil, fmt.Errorf("checkpoint %q: %w", key, common.ErrNotFound)
	}
	var (
		payload   string
		completed bool
	)
	if err := rows.Scan(&payload, &completed); err != nil {
		return nil, common.CheckpointCorruptionError(key, "unreadable row", err)
	}
	return decodeRecord(key, []byte(payload), completed)
}

// Save checks the stored version and writes the new payload in one transaction.
func (r *sqlRepo) Save(ctx context.Context, rec *entity.CheckpointRecord) error {
	next := rec.Clone()
	next.Version = rec.Version + 1
	next.UpdatedAt = time.Now().UTC()
	payload, err := encodeRecord(next)
	if err != nil {
		return err
	}

	tx, err := r.db.Driver.Tx(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", common.ErrDatabase, err)
	}
	if err := r.write(ctx, tx, rec.Version, next, payload); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			r.logger.Warn("repository.sql.rollback_failed", "doc_key", rec.DocKey, "error", rerr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit %q: %v", common.ErrDatabase, rec.DocKey, err)
	}
	rec.Version, rec.UpdatedAt = next.Version, next.UpdatedAt
	r.logger.Debug("repository.sql.saved", "doc_key", rec.DocKey, "version", rec.Version, "state", rec.State)
	return nil
}

func (r *sqlRepo) write(ctx context.Context, tx dialect.Tx, expected int64, next *entity.CheckpointRecord, payload []byte) error {
	b := r.builder()
	updatedAt := next.UpdatedAt.Format(time.RFC3339Nano)

	var (
		query string
		args  []any
	)
	if expected == 0 {
		query, args = b.Insert(checkpointTable).
			Columns(colDocKey, colPayload, colCompleted, colVersion, colUpdatedAt).
			Values(next.DocKey, string(payload), next.IsComplete(), next.Version, updatedAt).
			OnConflict(entsql.ConflictColumns(colDocKey), entsql.DoNothing()).
			Query()
	} else {
		query, args = b.Update(checkpointTable).
			Set(colPayload, string(payload)).
			Set(colCompleted, next.IsComplete()).
			Set(colVersion, next.Version).
			Set(colUpdatedAt, updatedAt).
			Where(entsql.And(entsql.EQ(colDocKey, next.DocKey), entsql.EQ(colVersion, expected))).
			Query()
	}

	var res sql.Result
	if err := tx.Exec(ctx, query, args, &res); err != nil {
		return fmt.Errorf("%w: write %q: %v", common.ErrDatabase, next.DocKey, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: write %q: %v", common.ErrDatabase, next.DocKey, err)
	}
	if n != 1 {
		return fmt.Errorf("checkpoint %q at version %d: %w", next.DocKey, expected, common.ErrConflict)
	}
	return nil
}

func (r *sqlRepo) IsComplete(ctx context.Context, key string) (bool, error) {
	rec, err := r.Load(ctx, key)
	if errors.Is(err, common.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return rec.IsComplete(), nil
}

func (r *sqlRepo) Update(ctx context.Context, key string, fn func(*entity.CheckpointRecord) error) (*entity.CheckpointRecord, error) {
	return casUpdate(ctx, r, r.locks, key, fn)
}

func (r *sqlRepo) List(ctx context.Context) ([]*entity.CheckpointRecord, error) {
	query, args := r.builder().
		Select(colDocKey, colPayload, colCompleted).
		From(entsql.Table(checkpointTable)).
		OrderBy(colDocKey).
		Query()

	var rows entsql.Rows
	if err := r.db.Driver.Query(ctx, query, args, &rows); err != nil {
		return nil, fmt.Errorf("%w: list: %v", common.ErrDatabase, err)
	}
	defer rows.Close()

	var out []*entity.CheckpointRecord
	for rows.Next() {
		var (
			key, payload string
			completed    bool
		)
		if err := rows.Scan(&key, &payload, &completed); err != nil {
			return nil, fmt.Errorf("%w: list: %v", common.ErrDatabase, err)
		}
		rec, err := decodeRecord(key, []byte(payload), completed)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list: %v", common.ErrDatabase, err)
	}
	return out, nil
}

func (r *sqlRepo) HealthCheck(ctx context.Context, timeout time.Duration) error {
	return r.db.HealthCheck(ctx, timeout)
}

func (r *sqlRepo) Close() error {
	return r.db.Close()
}
