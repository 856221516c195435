package witness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSpreadPages(t *testing.T) {
	tests := []struct {
		total, n int
		want     []int
	}{
		{0, 3, nil},
		{2, 3, []int{1, 2}},
		{5, 0, []int{1, 2, 3, 4, 5}},
		{7, 1, []int{1}},
		{10, 3, []int{1, 6, 10}},
		{40, 3, []int{1, 21, 40}},
		{4, 3, []int{1, 3, 4}},
	}
	for _, tc := range tests {
		if diff := cmp.Diff(tc.want, SpreadPages(tc.total, tc.n)); diff != "" {
			t.Errorf("SpreadPages(%d, %d) mismatch (-want +got):\n%s", tc.total, tc.n, diff)
		}
	}
}

func TestImagePages(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"p02.png", "p01.jpg", ".hidden.png", "notes.txt", "p03.TIFF"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	got, err := ImagePages(dir)
	if err != nil {
		t.Fatalf("ImagePages: %v", err)
	}
	want := map[int]string{
		1: filepath.Join(dir, "p01.jpg"),
		2: filepath.Join(dir, "p02.png"),
		3: filepath.Join(dir, "p03.TIFF"),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("ImagePages mismatch (-want +got):\n%s", diff)
	}
}
