package uploader

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/go-github/v57/github"
	"github.com/klauspost/compress/gzip"
	"golang.org/x/oauth2"
)

const maxArchiveRedirects = 3

// FetchGitHubTree downloads a repository tree as a tarball and
// extracts it to a temporary directory, which can then be deployed
// like any local directory. The files are served as given; no build
// step runs. The repository is given as "owner/repo" with an optional
// "@ref" suffix.
// Caller must invoke cleanup when done.
func FetchGitHubTree(ctx context.Context, repoSpec, token string) (dir string, cleanup func(), err error) {
	ownerRepo, ref := repoSpec, ""
	if at := strings.Index(repoSpec, "@"); at >= 0 {
		ownerRepo, ref = repoSpec[:at], repoSpec[at+1:]
	}
	parts := strings.Split(ownerRepo, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", nil, fmt.Errorf("invalid repository spec %q, want owner/repo[@ref]", repoSpec)
	}
	owner, repo := parts[0], parts[1]

	gh := newGitHubClient(ctx, token)

	opts := &github.RepositoryContentGetOptions{Ref: ref}
	archiveURL, _, err := gh.Repositories.GetArchiveLink(ctx, owner, repo, github.Tarball, opts, maxArchiveRedirects)
	if err != nil {
		return "", nil, fmt.Errorf("failed to resolve archive for %s: %w", repoSpec, err)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", archiveURL.String(), nil)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create archive request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("failed to download archive: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("archive download returned status %d", resp.StatusCode)
	}

	tmpDir, err := os.MkdirTemp("", "sitebox-github-*")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	cleanup = func() { os.RemoveAll(tmpDir) }

	if err := extractTarball(resp.Body, tmpDir); err != nil {
		cleanup()
		return "", nil, err
	}
	return tmpDir, cleanup, nil
}

func newGitHubClient(ctx context.Context, token string) *github.Client {
	if token == "" {
		return github.NewClient(nil)
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	return github.NewClient(oauth2.NewClient(ctx, ts))
}

// extractTarball unpacks a gzip'd tar stream into dest, stripping the
// archive's single top-level directory and refusing entries that would
// escape dest.
func extractTarball(r io.Reader, dest string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read archive entry: %w", err)
		}

		// GitHub tarballs nest everything under "owner-repo-sha/".
		name := hdr.Name
		if i := strings.Index(name, "/"); i >= 0 {
			name = name[i+1:]
		}
		if name == "" {
			continue
		}

		target := filepath.Join(dest, filepath.FromSlash(name))
		if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry escapes destination: %q", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}
			out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
			if err != nil {
				return fmt.Errorf("failed to create file: %w", err)
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return fmt.Errorf("failed to extract %s: %w", name, err)
			}
			out.Close()
		}
		// Symlinks and special files are dropped; a static site has no
		// use for them and they are a traversal hazard.
	}
}
