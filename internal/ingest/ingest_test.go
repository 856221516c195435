package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/joseph-ayodele/witness-arbiter/constants"
	"github.com/joseph-ayodele/witness-arbiter/internal/common"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestIngestImageSet(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "manuscripts", "folio")
	writeFile(t, filepath.Join(dir, "002.png"), "two")
	writeFile(t, filepath.Join(dir, "001.png"), "one")
	writeFile(t, filepath.Join(dir, ".thumb.png"), "hidden")
	writeFile(t, filepath.Join(dir, "notes.txt"), "ignored")

	ing := NewFSIngestor(root, nil)
	doc, err := ing.IngestPath(context.Background(), dir)
	if err != nil {
		t.Fatalf("IngestPath: %v", err)
	}
	if doc.Key != "manuscripts/folio" || doc.Kind != constants.SourceImages || doc.PageCount != 2 {
		t.Fatalf("document %+v", doc)
	}
	if len(doc.ContentHash) != 64 {
		t.Fatalf("content hash %q", doc.ContentHash)
	}

	again, err := ing.IngestPath(context.Background(), dir)
	if err != nil || again.ContentHash != doc.ContentHash {
		t.Fatalf("hash not stable: %v", err)
	}
	writeFile(t, filepath.Join(dir, "002.png"), "changed")
	changed, err := ing.IngestPath(context.Background(), dir)
	if err != nil || changed.ContentHash == doc.ContentHash {
		t.Fatalf("hash did not change: %v", err)
	}
}

func TestIngestCorruptPDF(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "broken.pdf")
	writeFile(t, path, "this is not a pdf")

	_, err := NewFSIngestor(root, nil).IngestPath(context.Background(), path)
	if !errors.Is(err, common.ErrCorruptInput) {
		t.Fatalf("err = %v, want corrupt input", err)
	}
}

func TestIngestRejectsUnknownExtension(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "paper.docx")
	writeFile(t, path, "x")
	if _, err := NewFSIngestor(root, nil).IngestPath(context.Background(), path); !errors.Is(err, common.ErrInvalidInput) {
		t.Fatalf("err = %v", err)
	}
}

func TestIngestDirectory(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a", "broken.pdf"), "junk")
	writeFile(t, filepath.Join(root, "b", "scan", "p1.jpg"), "p1")
	writeFile(t, filepath.Join(root, "b", "scan", "nested", "x.pdf"), "never visited")
	writeFile(t, filepath.Join(root, ".cache", "c.pdf"), "hidden")
	writeFile(t, filepath.Join(root, "readme.md"), "skip")

	results, stats, err := NewFSIngestor(root, nil).IngestDirectory(context.Background(), root, true)
	if err != nil {
		t.Fatalf("IngestDirectory: %v", err)
	}
	if stats.Matched != 2 || stats.Succeeded != 1 || stats.Failed != 1 {
		t.Fatalf("stats %+v", stats)
	}
	byKey := map[string]IngestionResult{}
	for _, r := range results {
		byKey[r.Document.Key] = r
	}
	if r, ok := byKey["a/broken.pdf"]; !ok || !errors.Is(r.Err, common.ErrCorruptInput) {
		t.Fatalf("broken pdf result %+v", r)
	}
	if r, ok := byKey["b/scan"]; !ok || r.Err != nil || r.Document.PageCount != 1 {
		t.Fatalf("image set result %+v", r)
	}
}

func TestDocumentKey(t *testing.T) {
	tests := []struct{ root, path, want string }{
		{"/data", "/data/x/y.pdf", "x/y.pdf"},
		{"/data", "/elsewhere/y.pdf", "y.pdf"},
		{"", "/data/y.pdf", "y.pdf"},
	}
	for _, tc := range tests {
		if got := DocumentKey(tc.root, tc.path); got != tc.want {
			t.Errorf("DocumentKey(%q, %q) = %q, want %q", tc.root, tc.path, got, tc.want)
		}
	}
}

func TestWatcherEmitsDocuments(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "existing.pdf"), "x")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, _, err := StartWatcher(ctx, WatchConfig{Roots: []string{root}, InitialScan: true, Debounce: 20 * time.Millisecond}, nil)
	if err != nil {
		t.Fatalf("StartWatcher: %v", err)
	}

	next := func() string {
		t.Helper()
		select {
		case p := <-events:
			return p
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for watcher event")
			return ""
		}
	}
	if got := next(); got != filepath.Join(root, "existing.pdf") {
		t.Fatalf("initial scan emitted %q", got)
	}

	writeFile(t, filepath.Join(root, "notes.txt"), "ignored")
	writeFile(t, filepath.Join(root, "new.pdf"), "y")
	if got := next(); got != filepath.Join(root, "new.pdf") {
		t.Fatalf("emitted %q", got)
	}

	cancel()
	for range events {
	}
}

func TestIngestDirectoryKeysWalkErrors(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced for root")
	}
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "locked", "a.pdf"), "x")
	writeFile(t, filepath.Join(root, "sealed", "b.pdf"), "x")
	for _, d := range []string{"locked", "sealed"} {
		dir := filepath.Join(root, d)
		if err := os.Chmod(dir, 0o000); err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { _ = os.Chmod(dir, 0o755) })
	}

	results, stats, err := NewFSIngestor(root, nil).IngestDirectory(context.Background(), root, false)
	if err != nil {
		t.Fatalf("IngestDirectory: %v", err)
	}
	if stats.Failed != 2 {
		t.Fatalf("stats %+v", stats)
	}
	byKey := map[string]IngestionResult{}
	for _, r := range results {
		byKey[r.Document.Key] = r
	}
	for _, key := range []string{"locked", "sealed"} {
		if r, ok := byKey[key]; !ok || r.Err == nil || r.Document.SourcePath != filepath.Join(root, key) {
			t.Fatalf("walk error for %s: %+v (all: %+v)", key, r, results)
		}
	}
}
