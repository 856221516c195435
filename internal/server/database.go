package server

import (
	"context"
	"log/slog"

	"github.com/joseph-ayodele/witness-arbiter/internal/arbiter"
	"github.com/joseph-ayodele/witness-arbiter/internal/artifacts"
	"github.com/joseph-ayodele/witness-arbiter/internal/common"
	"github.com/joseph-ayodele/witness-arbiter/internal/quality"
	"github.com/joseph-ayodele/witness-arbiter/internal/repository"
	"github.com/joseph-ayodele/witness-arbiter/internal/witness"
)

// ConnectStores opens the checkpoint repository and the artifact store the configuration names.
func ConnectStores(ctx context.Context, cfg *common.Config, logger *slog.Logger) (repository.CheckpointRepository, artifacts.Store, error) {
	logger.Info("store.connecting", "driver", cfg.Store.Driver, "artifacts", cfg.Artifacts.Root)
	repo, err := repository.Open(ctx, cfg.Store, logger)
	if err != nil {
		logger.Error("store.connect_failed", "driver", cfg.Store.Driver, "error", err)
		return nil, nil, err
	}
	store, err := artifacts.Open(ctx, cfg.Artifacts.Root, logger)
	if err != nil {
		logger.Error("artifacts.open_failed", "root", cfg.Artifacts.Root, "error", err)
		_ = repo.Close()
		return nil, nil, err
	}
	logger.Info("store.connected")
	return repo, store, nil
}

// CloseStores closes both stores, logging failures.
func CloseStores(repo repository.CheckpointRepository, store artifacts.Store, logger *slog.Logger) {
	if store != nil {
		if err := store.Close(); err != nil {
			logger.Error("artifacts.close_failed", "error", err)
		}
	}
	if repo != nil {
		if err := repo.Close(); err != nil {
			logger.Error("store.close_failed", "error", err)
		}
	}
	logger.Info("store.closed")
}

// Runtime is everything a process needs to arbitrate documents.
type Runtime struct {
	Repo      repository.CheckpointRepository
	Store     artifacts.Store
	Witnesses *witness.Set
	Engine    *arbiter.Engine
	logger    *slog.Logger
}

// Bootstrap connects the stores, builds the role witnesses and the engine.
func Bootstrap(ctx context.Context, cfg *common.Config, logger *slog.Logger) (*Runtime, error) {
	repo, store, err := ConnectStores(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	set, err := witness.NewSet(ctx, cfg, logger)
	if err != nil {
		logger.Error("witnesses.init_failed", "error", err)
		CloseStores(repo, store, logger)
		return nil, common.WrapError(err, "build witnesses")
	}
	engine, err := arbiter.NewEngine(cfg.Arbitration, quality.NewDetector(cfg.Corruption), set, repo, store, logger)
	if err != nil {
		_ = set.Close()
		CloseStores(repo, store, logger)
		return nil, common.WrapError(err, "build engine")
	}
	return &Runtime{Repo: repo, Store: store, Witnesses: set, Engine: engine, logger: logger}, nil
}

func (r *Runtime) Close() {
	if err := r.Witnesses.Close(); err != nil {
		r.logger.Error("witnesses.close_failed", "error", err)
	}
	CloseStores(r.Repo, r.Store, r.logger)
}
