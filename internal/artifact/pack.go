package artifact

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// Asset is a single file within a deployment, addressed by a
// normalized relative path.
type Asset struct {
	Path    string
	Content []byte
	Size    int64
}

// Index is a deployment's parsed path -> asset map. Once built it is
// treated as read-only; concurrent readers share the same instance.
type Index map[string]*Asset

// Pack serializes a deployment's assets into a single zstd-compressed
// tar archive. The archive is the unit the artifact cache fetches and
// parses on a miss.
func Pack(assets []Asset) ([]byte, error) {
	var buf bytes.Buffer

	zw, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd writer: %w", err)
	}
	tw := tar.NewWriter(zw)

	for _, asset := range assets {
		hdr := &tar.Header{
			Name: asset.Path,
			Mode: 0644,
			Size: int64(len(asset.Content)),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, fmt.Errorf("failed to write header for %q: %w", asset.Path, err)
		}
		if _, err := tw.Write(asset.Content); err != nil {
			return nil, fmt.Errorf("failed to write content for %q: %w", asset.Path, err)
		}
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close tar writer: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close zstd writer: %w", err)
	}

	return buf.Bytes(), nil
}

// Parse reads a packed artifact back into an index.
func Parse(data []byte) (Index, error) {
	zr, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd reader: %w", err)
	}
	defer zr.Close()

	idx := make(Index)
	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read tar entry: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		content, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("failed to read content of %q: %w", hdr.Name, err)
		}
		idx[hdr.Name] = &Asset{
			Path:    hdr.Name,
			Content: content,
			Size:    int64(len(content)),
		}
	}

	return idx, nil
}
