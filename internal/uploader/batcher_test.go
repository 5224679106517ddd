package uploader

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"sitebox/internal/client"
)

// fakeSubmitter records every batch it receives.
type fakeSubmitter struct {
	batches [][]client.FilePayload
	failOn  int // 1-based batch index to fail on; 0 means never
}

func (f *fakeSubmitter) UploadFiles(ctx context.Context, deploymentID string, files []client.FilePayload) error {
	if f.failOn > 0 && len(f.batches)+1 == f.failOn {
		return errors.New("boom")
	}
	f.batches = append(f.batches, files)
	return nil
}

func writeFiles(t *testing.T, dir string, files map[string][]byte) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("Failed to create directory: %v", err)
		}
		if err := os.WriteFile(path, content, 0644); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
	}
}

func TestCollectFilesEmptyDir(t *testing.T) {
	_, _, err := CollectFiles(t.TempDir())
	if !errors.Is(err, ErrNoFilesFound) {
		t.Errorf("CollectFiles() error = %v, want ErrNoFilesFound", err)
	}
}

func TestCollectFilesIgnoreList(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string][]byte{
		"index.html":            []byte("<html></html>"),
		".git/config":           []byte("should not upload"),
		"node_modules/x/y.js":   []byte("should not upload"),
		".DS_Store":             []byte("should not upload"),
		"assets/.DS_Store":      []byte("should not upload"),
		"assets/app.js":         []byte("ok"),
		"docs/.hg/store":        []byte("should not upload"),
		"docs/guide.md":         []byte("ok"),
	})

	files, skipped, err := CollectFiles(dir)
	if err != nil {
		t.Fatalf("CollectFiles() error = %v", err)
	}
	if len(skipped) != 0 {
		t.Errorf("skipped = %v, want none", skipped)
	}

	got := map[string]bool{}
	for _, f := range files {
		got[f.Path] = true
	}
	want := []string{"index.html", "assets/app.js", "docs/guide.md"}
	if len(files) != len(want) {
		t.Fatalf("collected %d files %v, want %d", len(files), got, len(want))
	}
	for _, w := range want {
		if !got[w] {
			t.Errorf("missing %q from collected files", w)
		}
	}
}

func TestCollectFilesSkipsOversized(t *testing.T) {
	dir := t.TempDir()
	big := make([]byte, MaxFileSize+1)
	writeFiles(t, dir, map[string][]byte{
		"index.html": []byte("<html></html>"),
		"video.mp4":  big,
	})

	files, skipped, err := CollectFiles(dir)
	if err != nil {
		t.Fatalf("CollectFiles() error = %v", err)
	}
	if len(files) != 1 || files[0].Path != "index.html" {
		t.Errorf("files = %v, want only index.html", files)
	}
	if len(skipped) != 1 || skipped[0].Path != "video.mp4" {
		t.Errorf("skipped = %v, want video.mp4", skipped)
	}
}

func TestUploadBatchAccounting(t *testing.T) {
	dir := t.TempDir()
	var wantTotal int64
	for i := 0; i < 25; i++ {
		content := []byte(fmt.Sprintf("file number %d", i))
		writeFiles(t, dir, map[string][]byte{fmt.Sprintf("f%02d.txt", i): content})
		wantTotal += int64(len(content))
	}

	files, _, err := CollectFiles(dir)
	if err != nil {
		t.Fatalf("CollectFiles() error = %v", err)
	}
	if len(files) != 25 {
		t.Fatalf("collected %d files, want 25", len(files))
	}

	sub := &fakeSubmitter{}
	summary, err := NewBatcher(sub).Upload(context.Background(), "dep-1", files)
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	// 25 files with a batch size of 10: exactly 3 calls of 10, 10, 5.
	if len(sub.batches) != 3 {
		t.Fatalf("issued %d upload calls, want 3", len(sub.batches))
	}
	wantSizes := []int{10, 10, 5}
	for i, batch := range sub.batches {
		if len(batch) != wantSizes[i] {
			t.Errorf("batch %d has %d files, want %d", i+1, len(batch), wantSizes[i])
		}
	}

	if summary.FileCount != 25 {
		t.Errorf("FileCount = %d, want 25", summary.FileCount)
	}
	if summary.TotalSize != wantTotal {
		t.Errorf("TotalSize = %d, want %d", summary.TotalSize, wantTotal)
	}
	if summary.Batches != 3 {
		t.Errorf("Batches = %d, want 3", summary.Batches)
	}
}

func TestUploadContentIsBase64(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string][]byte{"a.bin": {0x00, 0xff, 0x10}})

	files, _, err := CollectFiles(dir)
	if err != nil {
		t.Fatalf("CollectFiles() error = %v", err)
	}

	sub := &fakeSubmitter{}
	if _, err := NewBatcher(sub).Upload(context.Background(), "dep-1", files); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	got := sub.batches[0][0]
	decoded, err := base64.StdEncoding.DecodeString(got.Content)
	if err != nil {
		t.Fatalf("content is not valid base64: %v", err)
	}
	if string(decoded) != "\x00\xff\x10" {
		t.Errorf("decoded content = %x, want 00ff10", decoded)
	}
}

func TestUploadAbortsOnBatchFailure(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 25; i++ {
		writeFiles(t, dir, map[string][]byte{fmt.Sprintf("f%02d.txt", i): []byte("x")})
	}
	files, _, err := CollectFiles(dir)
	if err != nil {
		t.Fatalf("CollectFiles() error = %v", err)
	}

	sub := &fakeSubmitter{failOn: 2}
	_, err = NewBatcher(sub).Upload(context.Background(), "dep-1", files)
	if err == nil {
		t.Fatal("Upload() succeeded, want failure on batch 2")
	}

	// The first batch went through, nothing after the failure did.
	if len(sub.batches) != 1 {
		t.Errorf("submitted %d batches after failure, want 1", len(sub.batches))
	}
}

func TestOversizedSkipKeepsDeploymentViable(t *testing.T) {
	dir := t.TempDir()
	big := make([]byte, 11<<20)
	writeFiles(t, dir, map[string][]byte{
		"index.html": []byte("<html></html>"),
		"huge.iso":   big,
		"app.js":     []byte("js"),
	})

	files, skipped, err := CollectFiles(dir)
	if err != nil {
		t.Fatalf("CollectFiles() error = %v", err)
	}
	if len(skipped) != 1 {
		t.Fatalf("skipped %d files, want 1", len(skipped))
	}

	sub := &fakeSubmitter{}
	summary, err := NewBatcher(sub).Upload(context.Background(), "dep-1", files)
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	// The oversized file is excluded from both count and size.
	if summary.FileCount != 2 {
		t.Errorf("FileCount = %d, want 2", summary.FileCount)
	}
	wantSize := int64(len("<html></html>") + len("js"))
	if summary.TotalSize != wantSize {
		t.Errorf("TotalSize = %d, want %d", summary.TotalSize, wantSize)
	}
}
