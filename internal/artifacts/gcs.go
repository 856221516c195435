package artifacts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"github.com/joseph-ayodele/witness-arbiter/internal/common"
	"github.com/joseph-ayodele/witness-arbiter/internal/entity"
)

// GCSStore keeps artifacts under gs://bucket/prefix with the same layout as FSStore.
// Witness results are immutable: they are written with a DoesNotExist precondition.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
	logger *slog.Logger
}

func NewGCSStore(ctx context.Context, root string, logger *slog.Logger) (*GCSStore, error) {
	bucket, prefix, err := parseGCSURI(root)
	if err != nil {
		return nil, err
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GCSStore{client: client, bucket: bucket, prefix: prefix, logger: logger}, nil
}

func parseGCSURI(uri string) (bucket, prefix string, err error) {
	rest := strings.TrimPrefix(uri, "gs://")
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("%w: bad gcs uri %q", common.ErrInvalidInput, uri)
	}
	return bucket, strings.Trim(prefix, "/"), nil
}

func (s *GCSStore) object(key string, parts ...string) string {
	return path.Join(append([]string{s.prefix, segment(key)}, parts...)...)
}

func (s *GCSStore) uri(object string) string {
	return "gs://" + s.bucket + "/" + object
}

func (s *GCSStore) PutWitness(ctx context.Context, key string, r entity.WitnessResult) (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encode witness result: %w", err)
	}
	name := s.object(key, witnessDir, witnessName(r))
	obj := s.client.Bucket(s.bucket).Object(name).If(storage.Conditions{DoesNotExist: true})
	err = s.write(ctx, obj, b)
	if isPreconditionFailed(err) {
		// result IDs are unique, so an existing object is this result
		s.logger.Info("artifacts.gcs.witness_exists", "doc_key", key, "object", name)
		return s.uri(name), nil
	}
	if err != nil {
		return "", err
	}
	return s.uri(name), nil
}

func (s *GCSStore) GetWitness(ctx context.Context, location string) (entity.WitnessResult, error) {
	bucket, name, err := parseGCSURI(location)
	if err != nil {
		return entity.WitnessResult{}, err
	}
	rd, err := s.client.Bucket(bucket).Object(name).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return entity.WitnessResult{}, fmt.Errorf("witness result %s: %w", location, common.ErrNotFound)
	}
	if err != nil {
		return entity.WitnessResult{}, fmt.Errorf("failed to get GCS object reader for %s: %w", location, err)
	}
	defer rd.Close()
	b, err := io.ReadAll(rd)
	if err != nil {
		return entity.WitnessResult{}, fmt.Errorf("read %s: %w", location, err)
	}
	return decodeWitness(location, b)
}

func (s *GCSStore) PutAccepted(ctx context.Context, key string, out entity.AcceptedOutput) (string, string, error) {
	text, layout, err := encodeAccepted(out)
	if err != nil {
		return "", "", err
	}
	bkt := s.client.Bucket(s.bucket)
	textName := s.object(key, textFile)
	if err := s.write(ctx, bkt.Object(textName), text); err != nil {
		return "", "", err
	}
	layoutName := s.object(key, layoutFile)
	if layout == nil {
		if err := bkt.Object(layoutName).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
			return "", "", fmt.Errorf("delete stale layout: %w", err)
		}
		return s.uri(textName), "", nil
	}
	if err := s.write(ctx, bkt.Object(layoutName), layout); err != nil {
		return "", "", err
	}
	return s.uri(textName), s.uri(layoutName), nil
}

func (s *GCSStore) write(ctx context.Context, obj *storage.ObjectHandle, data []byte) error {
	w := obj.NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize GCS write: %w", err)
	}
	return nil
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}
