package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/joseph-ayodele/witness-arbiter/internal/common"
	"github.com/joseph-ayodele/witness-arbiter/internal/entity"
)

// firestoreDoc is the stored shape. The payload stays a JSON string so the same
// schema check guards every backend.
type firestoreDoc struct {
	DocKey    string    `firestore:"docKey"`
	Payload   string    `firestore:"payload"`
	Completed bool      `firestore:"completed"`
	Version   int64     `firestore:"version"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

type firestoreRepo struct {
	client     *firestore.Client
	collection string
	locks      *keyedMutex
	logger     *slog.Logger
}

func NewFirestoreRepository(ctx context.Context, projectID, collection string, logger *slog.Logger) (CheckpointRepository, error) {
	if projectID == "" {
		return nil, common.NewAppError(common.CodeConfig, "firestore store requires a project id", common.ErrInvalidInput)
	}
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	return NewFirestoreRepositoryFromClient(client, collection, logger), nil
}

func NewFirestoreRepositoryFromClient(client *firestore.Client, collection string, logger *slog.Logger) CheckpointRepository {
	if logger == nil {
		logger = slog.Default()
	}
	if collection == "" {
		collection = "checkpoints"
	}
	return &firestoreRepo{client: client, collection: collection, locks: newKeyedMutex(), logger: logger}
}

// docRef escapes the key; document IDs cannot contain '/'.
func (r *firestoreRepo) docRef(key string) *firestore.DocumentRef {
	return r.client.Collection(r.collection).Doc(url.PathEscape(key))
}

func (r *firestoreRepo) Load(ctx context.Context, key string) (*entity.CheckpointRecord, error) {
	snap, err := r.docRef(key).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, fmt.Errorf("checkpoint %q: %w", key, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load %q: %v", common.ErrDatabase, key, err)
	}
	return decodeSnapshot(key, snap)
}

func decodeSnapshot(key string, snap *firestore.DocumentSnapshot) (*entity.CheckpointRecord, error) {
	var d firestoreDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, common.CheckpointCorruptionError(key, "unreadable document", err)
	}
	return decodeRecord(key, []byte(d.Payload), d.Completed)
}

func (r *firestoreRepo) Save(ctx context.Context, rec *entity.CheckpointRecord) error {
	next := rec.Clone()
	next.Version = rec.Version + 1
	next.UpdatedAt = time.Now().UTC()
	payload, err := encodeRecord(next)
	if err != nil {
		return err
	}
	doc := firestoreDoc{
		DocKey:    next.DocKey,
		Payload:   string(payload),
		Completed: next.IsComplete(),
		Version:   next.Version,
		UpdatedAt: next.UpdatedAt,
	}

	ref := r.docRef(rec.DocKey)
	err = r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		switch {
		case status.Code(err) == codes.NotFound:
			if rec.Version != 0 {
				return common.ErrConflict
			}
			return tx.Create(ref, doc)
		case err != nil:
			return err
		}
		stored, err := snap.DataAt("version")
		if err != nil {
			return common.CheckpointCorruptionError(rec.DocKey, "missing version", err)
		}
		if v, ok := stored.(int64); !ok || v != rec.Version {
			return common.ErrConflict
		}
		return tx.Set(ref, doc)
	})
	switch {
	case errors.Is(err, common.ErrConflict):
		return fmt.Errorf("checkpoint %q at version %d: %w", rec.DocKey, rec.Version, common.ErrConflict)
	case errors.Is(err, common.ErrCheckpointCorruption):
		return err
	case err != nil:
		r.logger.Error("repository.firestore.save_failed", "doc_key", rec.DocKey, "error", err)
		return fmt.Errorf("%w: save %q: %v", common.ErrDatabase, rec.DocKey, err)
	}
	rec.Version, rec.UpdatedAt = next.Version, next.UpdatedAt
	return nil
}

func (r *firestoreRepo) IsComplete(ctx context.Context, key string) (bool, error) {
	rec, err := r.Load(ctx, key)
	if errors.Is(err, common.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return rec.IsComplete(), nil
}

func (r *firestoreRepo) Update(ctx context.Context, key string, fn func(*entity.CheckpointRecord) error) (*entity.CheckpointRecord, error) {
	return casUpdate(ctx, r, r.locks, key, fn)
}

func (r *firestoreRepo) List(ctx context.Context) ([]*entity.CheckpointRecord, error) {
	iter := r.client.Collection(r.collection).OrderBy("docKey", firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var out []*entity.CheckpointRecord
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: list: %v", common.ErrDatabase, err)
		}
		key, _ := url.PathUnescape(snap.Ref.ID)
		rec, err := decodeSnapshot(key, snap)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *firestoreRepo) Close() error {
	return r.client.Close()
}
