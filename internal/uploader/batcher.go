package uploader

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"sitebox/internal/client"
)

const (
	// MaxFileSize is the per-file ceiling. Larger files are skipped
	// with a warning, not treated as fatal.
	MaxFileSize = 10 << 20 // 10 MiB

	// BatchSize is the number of files per upload batch.
	BatchSize = 10
)

// ErrNoFilesFound is returned when the directory walk yields nothing
// to upload.
var ErrNoFilesFound = errors.New("no files found to deploy")

// ignoreNames are version-control and OS metadata entries excluded
// from every deployment.
var ignoreNames = map[string]bool{
	".git":         true,
	".svn":         true,
	".hg":          true,
	"node_modules": true,
	".DS_Store":    true,
	"Thumbs.db":    true,
	"__MACOSX":     true,
	"sitebox.yaml": true,
}

// LocalFile is a file selected for upload.
type LocalFile struct {
	// Path is the deployment-relative path, forward slashes.
	Path string
	// AbsPath is where the file lives on disk.
	AbsPath string
	// Size in bytes.
	Size int64
}

// SkippedFile records a file excluded for exceeding the size ceiling.
type SkippedFile struct {
	Path string
	Size int64
}

// Summary is the accounting of a finished upload: what finalize must
// receive. Skipped files are excluded from both figures.
type Summary struct {
	FileCount int
	TotalSize int64
	Batches   int
	Skipped   []SkippedFile
}

// BatchSubmitter is the piece of the API client the batcher needs.
type BatchSubmitter interface {
	UploadFiles(ctx context.Context, deploymentID string, files []client.FilePayload) error
}

// CollectFiles walks a directory and returns the files eligible for
// upload plus those skipped for size. Returns ErrNoFilesFound when the
// walk yields no eligible files and nothing was skipped.
func CollectFiles(dir string) ([]LocalFile, []SkippedFile, error) {
	var files []LocalFile
	var skipped []SkippedFile

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path != dir && ignoreNames[name] {
				return filepath.SkipDir
			}
			return nil
		}
		if ignoreNames[name] {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		relSlash := filepath.ToSlash(rel)

		if info.Size() > MaxFileSize {
			skipped = append(skipped, SkippedFile{Path: relSlash, Size: info.Size()})
			return nil
		}

		files = append(files, LocalFile{
			Path:    relSlash,
			AbsPath: path,
			Size:    info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to walk %s: %w", dir, err)
	}

	if len(files) == 0 && len(skipped) == 0 {
		return nil, nil, ErrNoFilesFound
	}
	return files, skipped, nil
}

// Batcher submits collected files to the deployment API in bounded,
// strictly sequential batches. One batch is in flight at a time; a
// failed batch aborts the remainder, so the error's batch index says
// exactly how much got through.
type Batcher struct {
	Submitter BatchSubmitter
	BatchSize int
}

// NewBatcher creates a batcher with the default batch size.
func NewBatcher(submitter BatchSubmitter) *Batcher {
	return &Batcher{Submitter: submitter, BatchSize: BatchSize}
}

// Upload reads and submits the files in batches, awaiting each batch's
// acknowledgment before sending the next. On success the returned
// summary holds the accounting finalize must receive.
func (b *Batcher) Upload(ctx context.Context, deploymentID string, files []LocalFile) (*Summary, error) {
	size := b.BatchSize
	if size <= 0 {
		size = BatchSize
	}

	summary := &Summary{}
	for start := 0; start < len(files); start += size {
		end := start + size
		if end > len(files) {
			end = len(files)
		}

		payloads := make([]client.FilePayload, 0, end-start)
		for _, f := range files[start:end] {
			content, err := os.ReadFile(f.AbsPath)
			if err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", f.Path, err)
			}
			payloads = append(payloads, client.FilePayload{
				Path:    f.Path,
				Content: base64.StdEncoding.EncodeToString(content),
			})
			summary.TotalSize += int64(len(content))
		}

		if err := b.Submitter.UploadFiles(ctx, deploymentID, payloads); err != nil {
			return nil, fmt.Errorf("batch %d failed: %w", summary.Batches+1, err)
		}
		summary.Batches++
		summary.FileCount += len(payloads)
	}

	return summary, nil
}
