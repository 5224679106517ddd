package storage

import (
	"fmt"
	"strings"
)

// Key returns the storage address for a file within a deployment.
//
// The format is a persisted convention and must not change without a
// migration of existing blobs:
//
//	sites/{siteID}/deployments/{deploymentID}/{normalizedPath}
func Key(siteID, deploymentID, filePath string) string {
	return fmt.Sprintf("sites/%s/deployments/%s/%s", siteID, deploymentID, NormalizePath(filePath))
}

// NormalizePath strips all leading slashes from a path. It is
// idempotent: NormalizePath(NormalizePath(p)) == NormalizePath(p).
// It performs no other validation; see ValidatePath.
func NormalizePath(p string) string {
	return strings.TrimLeft(p, "/")
}

// ValidatePath rejects paths that are unsafe to persist under a
// storage key. Uploaded paths come from untrusted clients, so parent
// directory segments must be rejected rather than collapsed.
func ValidatePath(p string) error {
	normalized := NormalizePath(p)
	if normalized == "" {
		return fmt.Errorf("empty file path")
	}
	if strings.ContainsRune(normalized, '\\') {
		return fmt.Errorf("path contains backslash: %q", p)
	}
	if strings.ContainsRune(normalized, 0) {
		return fmt.Errorf("path contains NUL byte")
	}
	for _, segment := range strings.Split(normalized, "/") {
		if segment == ".." {
			return fmt.Errorf("path contains parent directory segment: %q", p)
		}
	}
	return nil
}
