package deploy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"sitebox/internal/artifact"
	"sitebox/internal/storage"
	"sitebox/internal/store"
)

// FileUpload is one file within an upload batch, already decoded from
// transport encoding.
type FileUpload struct {
	Path        string
	Content     []byte
	ContentType string
}

// Manager owns the deployment state machine and the packing of live
// artifacts. All state transitions go through the metadata store,
// which enforces them atomically.
type Manager struct {
	store  *store.Store
	blobs  storage.BlobStore
	logger *slog.Logger
}

// NewManager creates a deployment manager.
func NewManager(st *store.Store, blobs storage.BlobStore, logger *slog.Logger) *Manager {
	return &Manager{store: st, blobs: blobs, logger: logger}
}

// Create allocates a new pending deployment for a site.
func (m *Manager) Create(ctx context.Context, siteID string, message *string) (*store.Deployment, error) {
	dep, err := m.store.CreateDeployment(ctx, siteID, message)
	if err != nil {
		return nil, err
	}
	m.logger.Info("deployment created", "deployment", dep.ID, "site", siteID)
	return dep, nil
}

// MarkProcessing transitions a deployment from pending to processing.
func (m *Manager) MarkProcessing(ctx context.Context, deploymentID string) error {
	return m.store.MarkProcessing(ctx, deploymentID)
}

// UploadBatch persists a batch of files under their storage keys.
// Allowed only while the deployment is pending or processing.
func (m *Manager) UploadBatch(ctx context.Context, deploymentID string, files []FileUpload) error {
	dep, err := m.store.GetDeployment(ctx, deploymentID)
	if err != nil {
		return err
	}
	if dep.Status.Terminal() {
		return fmt.Errorf("%w: deployment %s is %s", store.ErrDeploymentImmutable, dep.ID, dep.Status)
	}

	records := make([]store.AssetRecord, 0, len(files))
	for _, f := range files {
		if err := storage.ValidatePath(f.Path); err != nil {
			return fmt.Errorf("invalid file path: %w", err)
		}
		path := storage.NormalizePath(f.Path)
		key := storage.Key(dep.SiteID, dep.ID, path)
		if err := m.blobs.Put(ctx, key, f.Content); err != nil {
			return fmt.Errorf("failed to store %q: %w", path, err)
		}
		records = append(records, store.AssetRecord{
			DeploymentID: dep.ID,
			Path:         path,
			Size:         int64(len(f.Content)),
			ContentType:  f.ContentType,
		})
	}

	if err := m.store.AddAssets(ctx, dep.ID, records); err != nil {
		return err
	}
	return m.store.TouchDeployment(ctx, dep.ID)
}

// Finalize validates the client's accounting against the recorded
// assets, packs them into a single artifact blob, transitions the
// deployment to live and swaps the site's active pointer. Any failure
// past the state check marks the deployment failed and leaves the
// previously active deployment serving.
func (m *Manager) Finalize(ctx context.Context, deploymentID string, fileCount int, totalSize int64) (*store.Deployment, error) {
	dep, err := m.store.GetDeployment(ctx, deploymentID)
	if err != nil {
		return nil, err
	}
	if dep.Status != store.StatusProcessing {
		return nil, fmt.Errorf("%w: cannot finalize deployment in state %s", store.ErrInvalidTransition, dep.Status)
	}

	records, err := m.store.ListAssets(ctx, dep.ID)
	if err != nil {
		return nil, m.failWith(ctx, dep.ID, err)
	}

	var haveSize int64
	for _, r := range records {
		haveSize += r.Size
	}
	if len(records) != fileCount || haveSize != totalSize {
		err := fmt.Errorf("finalize accounting mismatch: have %d files / %d bytes, client reported %d / %d",
			len(records), haveSize, fileCount, totalSize)
		return nil, m.failWith(ctx, dep.ID, err)
	}

	assets := make([]artifact.Asset, 0, len(records))
	for _, r := range records {
		content, err := m.blobs.Get(ctx, storage.Key(dep.SiteID, dep.ID, r.Path))
		if err != nil {
			return nil, m.failWith(ctx, dep.ID, fmt.Errorf("failed to read uploaded file %q: %w", r.Path, err))
		}
		assets = append(assets, artifact.Asset{Path: r.Path, Content: content, Size: int64(len(content))})
	}

	packed, err := artifact.Pack(assets)
	if err != nil {
		return nil, m.failWith(ctx, dep.ID, err)
	}

	// The blob ref carries a fresh UUID so re-packed content before a
	// successful finalize never collides with an earlier cache key.
	blobRef := storage.Key(dep.SiteID, dep.ID, fmt.Sprintf("_artifacts/%s.tar.zst", uuid.NewString()))
	if err := m.blobs.Put(ctx, blobRef, packed); err != nil {
		return nil, m.failWith(ctx, dep.ID, fmt.Errorf("failed to store artifact: %w", err))
	}

	final, err := m.store.FinalizeDeployment(ctx, dep.ID, fileCount, totalSize, blobRef)
	if err != nil {
		return nil, m.failWith(ctx, dep.ID, err)
	}

	m.logger.Info("deployment live",
		"deployment", final.ID,
		"site", final.SiteID,
		"files", final.FileCount,
		"bytes", final.TotalSize)
	return final, nil
}

// failWith marks the deployment failed and returns the original error.
// The mark is best-effort: a deployment that raced to a terminal state
// stays where it is.
func (m *Manager) failWith(ctx context.Context, deploymentID string, cause error) error {
	if err := m.store.MarkFailed(ctx, deploymentID); err != nil {
		m.logger.Error("failed to mark deployment failed", "deployment", deploymentID, "error", err)
	}
	return cause
}

// MarkFailed explicitly fails a non-terminal deployment.
func (m *Manager) MarkFailed(ctx context.Context, deploymentID string) error {
	if err := m.store.MarkFailed(ctx, deploymentID); err != nil {
		return err
	}
	m.logger.Info("deployment marked failed", "deployment", deploymentID)
	return nil
}

// FailStale fails deployments stuck in a non-terminal state for longer
// than maxAge. Run periodically so abandoned uploads cannot linger in
// processing forever.
func (m *Manager) FailStale(ctx context.Context, maxAge time.Duration) (int, error) {
	stale, err := m.store.ListStaleNonTerminal(ctx, time.Now().Add(-maxAge))
	if err != nil {
		return 0, err
	}

	failed := 0
	for _, dep := range stale {
		if err := m.store.MarkFailed(ctx, dep.ID); err != nil {
			m.logger.Error("failed to fail stale deployment", "deployment", dep.ID, "error", err)
			continue
		}
		m.logger.Warn("failed stale deployment", "deployment", dep.ID, "site", dep.SiteID, "was", dep.Status)
		failed++
	}
	return failed, nil
}
