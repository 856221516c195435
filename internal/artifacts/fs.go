package artifacts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joseph-ayodele/witness-arbiter/internal/common"
	"github.com/joseph-ayodele/witness-arbiter/internal/entity"
)

// FSStore lays artifacts out as <root>/<key>/witnesses/<witness>-<id>.json,
// <root>/<key>/text.json and <root>/<key>/layout.json.
type FSStore struct {
	root   string
	logger *slog.Logger
}

func NewFSStore(root string, logger *slog.Logger) (*FSStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if root == "" {
		return nil, fmt.Errorf("%w: empty artifacts root", common.ErrInvalidInput)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create artifacts root: %w", err)
	}
	return &FSStore{root: root, logger: logger}, nil
}

func (s *FSStore) docDir(key string) string {
	return filepath.Join(s.root, segment(key))
}

func (s *FSStore) PutWitness(_ context.Context, key string, r entity.WitnessResult) (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encode witness result: %w", err)
	}
	path := filepath.Join(s.docDir(key), witnessDir, witnessName(r))
	if err := writeFileAtomic(path, b); err != nil {
		return "", err
	}
	s.logger.Debug("artifacts.fs.witness_written", "doc_key", key, "witness", r.Witness, "path", path)
	return path, nil
}

func (s *FSStore) GetWitness(_ context.Context, location string) (entity.WitnessResult, error) {
	b, err := os.ReadFile(location)
	if errors.Is(err, fs.ErrNotExist) {
		return entity.WitnessResult{}, fmt.Errorf("witness result %s: %w", location, common.ErrNotFound)
	}
	if err != nil {
		return entity.WitnessResult{}, err
	}
	return decodeWitness(location, b)
}

func (s *FSStore) PutAccepted(_ context.Context, key string, out entity.AcceptedOutput) (string, string, error) {
	text, layout, err := encodeAccepted(out)
	if err != nil {
		return "", "", err
	}
	dir := s.docDir(key)
	textPath := filepath.Join(dir, textFile)
	if err := writeFileAtomic(textPath, text); err != nil {
		return "", "", err
	}
	layoutPath := filepath.Join(dir, layoutFile)
	if layout == nil {
		// a stale layout from an earlier winner must not survive
		if err := os.Remove(layoutPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", "", err
		}
		return textPath, "", nil
	}
	if err := writeFileAtomic(layoutPath, layout); err != nil {
		return "", "", err
	}
	return textPath, layoutPath, nil
}

func (s *FSStore) Close() error { return nil }

// writeFileAtomic writes to a temp file in the target directory and renames it
// into place, so readers never observe a partial file.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
