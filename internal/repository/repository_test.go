package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/witness-arbiter/constants"
	"github.com/joseph-ayodele/witness-arbiter/internal/common"
	"github.com/joseph-ayodele/witness-arbiter/internal/entity"
)

func openSQLiteRepo(t *testing.T) (CheckpointRepository, *DB) {
	t.Helper()
	ctx := context.Background()
	cfg := common.StoreConfig{Driver: DriverSQLite, DSN: "file:" + filepath.Join(t.TempDir(), "db", "checkpoints.db")}
	db, err := OpenDB(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	repo, err := NewSQLRepository(ctx, db, nil)
	if err != nil {
		t.Fatalf("NewSQLRepository: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo, db
}

func backends(t *testing.T) map[string]CheckpointRepository {
	sqlRepo, _ := openSQLiteRepo(t)
	return map[string]CheckpointRepository{
		"memory": NewMemoryRepository(),
		"sqlite": sqlRepo,
	}
}

func validVerdict() *entity.QualityVerdict {
	return &entity.QualityVerdict{
		RunID:     uuid.New(),
		Score:     0.91,
		Label:     constants.LabelAutoAccept,
		State:     constants.StateAccepted,
		Winner:    constants.WitnessPrimaryML,
		Invoked:   []constants.WitnessID{constants.WitnessPrimaryML, constants.WitnessOCRCloud},
		GateScore: 0.93,
		DecidedAt: time.Now().UTC(),
	}
}

func TestRoundTripAndComplete(t *testing.T) {
	for name, repo := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := repo.Load(ctx, "doc/1"); !errors.Is(err, common.ErrNotFound) {
				t.Fatalf("Load missing: err = %v", err)
			}
			if done, err := repo.IsComplete(ctx, "doc/1"); err != nil || done {
				t.Fatalf("IsComplete missing = %v, %v", done, err)
			}

			rec := entity.NewCheckpointRecord("doc/1")
			rec.State = constants.StatePrimaryRun
			rec.ContentHash = "abc"
			rec.Witnesses[constants.WitnessPrimaryML] = entity.WitnessEntry{
				ResultID: uuid.New(), Location: "/x/y.json", Succeeded: true, Coverage: 1, Attempts: 1,
				CompletedAt: time.Now().UTC(),
			}
			if err := repo.Save(ctx, rec); err != nil {
				t.Fatalf("Save: %v", err)
			}
			if rec.Version != 1 {
				t.Fatalf("version = %d, want 1", rec.Version)
			}

			rec.Verdict = validVerdict()
			rec.State = constants.StateAccepted
			if err := repo.Save(ctx, rec); err != nil {
				t.Fatalf("Save verdict: %v", err)
			}

			got, err := repo.Load(ctx, "doc/1")
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if diff := cmp.Diff(rec, got, cmpopts.EquateApproxTime(time.Millisecond)); diff != "" {
				t.Fatalf("record mismatch (-want +got):\n%s", diff)
			}
			if done, err := repo.IsComplete(ctx, "doc/1"); err != nil || !done {
				t.Fatalf("IsComplete = %v, %v", done, err)
			}
		})
	}
}

func TestSaveConflict(t *testing.T) {
	for name, repo := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a := entity.NewCheckpointRecord("k")
			if err := repo.Save(ctx, a); err != nil {
				t.Fatalf("Save: %v", err)
			}
			stale := entity.NewCheckpointRecord("k")
			if err := repo.Save(ctx, stale); !errors.Is(err, common.ErrConflict) {
				t.Fatalf("create over existing: err = %v, want conflict", err)
			}
			b, _ := repo.Load(ctx, "k")
			if err := repo.Save(ctx, b); err != nil {
				t.Fatalf("Save b: %v", err)
			}
			if err := repo.Save(ctx, a); !errors.Is(err, common.ErrConflict) {
				t.Fatalf("stale save: err = %v, want conflict", err)
			}
		})
	}
}

func TestSaveRejectsInvalidVerdict(t *testing.T) {
	for name, repo := range backends(t) {
		t.Run(name, func(t *testing.T) {
			rec := entity.NewCheckpointRecord("bad")
			rec.Verdict = validVerdict()
			rec.Verdict.Score = 1.4
			if err := repo.Save(context.Background(), rec); !errors.Is(err, common.ErrValidation) {
				t.Fatalf("err = %v, want validation error", err)
			}
			rec.Verdict = validVerdict()
			rec.Verdict.Label = "great"
			if err := repo.Save(context.Background(), rec); !errors.Is(err, common.ErrValidation) {
				t.Fatalf("err = %v, want validation error", err)
			}
			if _, err := repo.Load(context.Background(), "bad"); !errors.Is(err, common.ErrNotFound) {
				t.Fatalf("rejected record must not be written: %v", err)
			}
		})
	}
}

func TestUpdateSerializesWriters(t *testing.T) {
	for name, repo := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			const writers = 20
			var wg sync.WaitGroup
			errs := make(chan error, writers)
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := repo.Update(ctx, "shared", func(rec *entity.CheckpointRecord) error {
						e := rec.Witnesses[constants.WitnessOCRLocal]
						e.Attempts++
						rec.Witnesses[constants.WitnessOCRLocal] = e
						return nil
					})
					errs <- err
				}()
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				if err != nil {
					t.Fatalf("Update: %v", err)
				}
			}
			rec, err := repo.Load(ctx, "shared")
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if got := rec.Witnesses[constants.WitnessOCRLocal].Attempts; got != writers {
				t.Fatalf("attempts = %d, want %d", got, writers)
			}
			if rec.Version != writers {
				t.Fatalf("version = %d, want %d", rec.Version, writers)
			}
		})
	}
}

func TestUpdatePropagatesCallbackError(t *testing.T) {
	repo := NewMemoryRepository()
	boom := errors.New("boom")
	if _, err := repo.Update(context.Background(), "k", func(*entity.CheckpointRecord) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if _, err := repo.Load(context.Background(), "k"); !errors.Is(err, common.ErrNotFound) {
		t.Fatal("failed update must not write")
	}
}

func TestCorruptPayloads(t *testing.T) {
	incomplete := `{"doc_key":"k","state":"PRIMARY_RUN","witnesses":{},"version":1}`
	withVerdict := `{"doc_key":"k","state":"ACCEPTED","witnesses":{},"version":1,` +
		`"verdict":{"score":0.9,"label":"auto_accept","state":"ACCEPTED","invoked":["primary_ml"]}}`
	tests := []struct {
		name      string
		payload   string
		completed bool
	}{
		{"completed without verdict", incomplete, true},
		{"verdict on incomplete row", withVerdict, false},
		{"undecodable", `{"doc_key":`, true},
		{"unknown witness", `{"doc_key":"k","state":"PENDING","witnesses":{"ocr_magic":{"result_id":"x","succeeded":true,"coverage":1}},"version":1}`, false},
		{"score out of range", `{"doc_key":"k","state":"ACCEPTED","witnesses":{},"version":1,"verdict":{"score":3,"label":"flag","state":"ACCEPTED","invoked":[]}}`, true},
		{"bad label", `{"doc_key":"k","state":"ACCEPTED","witnesses":{},"version":1,"verdict":{"score":0.5,"label":"meh","state":"ACCEPTED","invoked":[]}}`, true},
		{"foreign key", `{"doc_key":"other","state":"PENDING","witnesses":{},"version":1}`, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mem := NewMemoryRepository().(*memoryRepo)
			mem.putRaw("k", []byte(tc.payload), tc.completed)
			if _, err := mem.Load(context.Background(), "k"); !errors.Is(err, common.ErrCheckpointCorruption) {
				t.Fatalf("err = %v, want checkpoint corruption", err)
			}
			if _, err := mem.Update(context.Background(), "k", func(*entity.CheckpointRecord) error { return nil }); !errors.Is(err, common.ErrCheckpointCorruption) {
				t.Fatalf("Update over corrupt row: err = %v", err)
			}
		})
	}
}

func TestSQLiteCorruptRow(t *testing.T) {
	repo, db := openSQLiteRepo(t)
	ctx := context.Background()

	q, args := entsql.Dialect(db.Dialect).Insert(checkpointTable).
		Columns(colDocKey, colPayload, colCompleted, colVersion, colUpdatedAt).
		Values("k", `{"doc_key":"k","state":"FINAL_CHECK","witnesses":{},"version":3}`, true, 3, time.Now().Format(time.RFC3339)).
		Query()
	var res sql.Result
	if err := db.Driver.Exec(ctx, q, args, &res); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := repo.Load(ctx, "k"); !errors.Is(err, common.ErrCheckpointCorruption) {
		t.Fatalf("err = %v, want checkpoint corruption", err)
	}
	if _, err := repo.List(ctx); !errors.Is(err, common.ErrCheckpointCorruption) {
		t.Fatalf("List err = %v, want checkpoint corruption", err)
	}
}

func TestList(t *testing.T) {
	for name, repo := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 3; i >= 1; i-- {
				if err := repo.Save(ctx, entity.NewCheckpointRecord(fmt.Sprintf("doc-%d", i))); err != nil {
					t.Fatalf("Save: %v", err)
				}
			}
			recs, err := repo.List(ctx)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			var keys []string
			for _, r := range recs {
				keys = append(keys, r.DocKey)
			}
			if diff := cmp.Diff([]string{"doc-1", "doc-2", "doc-3"}, keys); diff != "" {
				t.Fatalf("keys mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), common.StoreConfig{Driver: "mongo"}, nil); !errors.Is(err, common.ErrInvalidInput) {
		t.Fatalf("err = %v", err)
	}
}

func TestSQLiteReopenKeepsCheckpoints(t *testing.T) {
	ctx := context.Background()
	cfg := common.StoreConfig{Driver: DriverSQLite, DSN: "file:" + filepath.Join(t.TempDir(), "reopen.db")}
	open := func() CheckpointRepository {
		t.Helper()
		db, err := OpenDB(ctx, cfg, nil)
		if err != nil {
			t.Fatalf("OpenDB: %v", err)
		}
		repo, err := NewSQLRepository(ctx, db, nil)
		if err != nil {
			t.Fatalf("NewSQLRepository: %v", err)
		}
		return repo
	}

	first := open()
	rec := entity.NewCheckpointRecord("doc/reopen")
	rec.State = constants.StatePrimaryRun
	if err := first.Save(ctx, rec); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second := open()
	t.Cleanup(func() { _ = second.Close() })
	got, err := second.Load(ctx, "doc/reopen")
	if err != nil {
		t.Fatalf("Load after reopen: %v", err)
	}
	if got.State != constants.StatePrimaryRun || got.Version != 1 {
		t.Fatalf("state = %s version = %d", got.State, got.Version)
	}
}

func TestFirestoreRequiresProject(t *testing.T) {
	_, err := NewFirestoreRepository(context.Background(), "", "checkpoints", nil)
	var appErr *common.AppError
	if !errors.As(err, &appErr) || appErr.Code != common.CodeConfig {
		t.Fatalf("err = %v, want config AppError", err)
	}
	if !errors.Is(err, common.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}
