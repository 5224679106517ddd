package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when a site or deployment does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition is returned when an operation would move a
	// deployment backwards or out of order in its state machine.
	ErrInvalidTransition = errors.New("invalid deployment state transition")

	// ErrDeploymentImmutable is returned on write attempts against a
	// deployment that has reached a terminal state.
	ErrDeploymentImmutable = errors.New("deployment is immutable")

	// ErrSlugTaken is returned when creating a site with a slug that is
	// already in use.
	ErrSlugTaken = errors.New("site slug already taken")
)

// Store manages site and deployment metadata in SQLite.
type Store struct {
	db *sql.DB
}

// New opens the metadata database and initializes the schema.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sites (
			id TEXT PRIMARY KEY,
			slug TEXT NOT NULL UNIQUE,
			owner TEXT NOT NULL,
			access_mode TEXT NOT NULL,
			active_deployment_id TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create sites table: %w", err)
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS deployments (
			id TEXT PRIMARY KEY,
			site_id TEXT NOT NULL,
			status TEXT NOT NULL,
			file_count INTEGER NOT NULL DEFAULT 0,
			total_size INTEGER NOT NULL DEFAULT 0,
			message TEXT,
			blob_ref TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create deployments table: %w", err)
	}

	_, err = s.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_deployments_site_status
		ON deployments(site_id, status)
	`)
	if err != nil {
		return fmt.Errorf("failed to create deployments index: %w", err)
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS assets (
			deployment_id TEXT NOT NULL,
			path TEXT NOT NULL,
			size INTEGER NOT NULL,
			content_type TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (deployment_id, path)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create assets table: %w", err)
	}

	return nil
}

// CreateSite creates a new site with no active deployment.
func (s *Store) CreateSite(ctx context.Context, slug, owner string, mode AccessMode) (*Site, error) {
	now := time.Now().UTC()
	site := &Site{
		ID:         uuid.NewString(),
		Slug:       slug,
		Owner:      owner,
		AccessMode: mode,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM sites WHERE slug = ?`, slug).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to check slug: %w", err)
	}
	if exists > 0 {
		return nil, ErrSlugTaken
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sites (id, slug, owner, access_mode, active_deployment_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, NULL, ?, ?)
	`, site.ID, site.Slug, site.Owner, string(site.AccessMode),
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("failed to insert site: %w", err)
	}

	return site, nil
}

// GetSite retrieves a site by identifier.
func (s *Store) GetSite(ctx context.Context, id string) (*Site, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, slug, owner, access_mode, active_deployment_id, created_at, updated_at
		FROM sites WHERE id = ?
	`, id)
	return scanSite(row)
}

// GetSiteBySlug retrieves a site by its subdomain slug.
func (s *Store) GetSiteBySlug(ctx context.Context, slug string) (*Site, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, slug, owner, access_mode, active_deployment_id, created_at, updated_at
		FROM sites WHERE slug = ?
	`, slug)
	return scanSite(row)
}

// CreateDeployment allocates a new deployment in the pending state.
func (s *Store) CreateDeployment(ctx context.Context, siteID string, message *string) (*Deployment, error) {
	if _, err := s.GetSite(ctx, siteID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	dep := &Deployment{
		ID:        uuid.NewString(),
		SiteID:    siteID,
		Status:    StatusPending,
		Message:   message,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deployments (id, site_id, status, file_count, total_size, message, blob_ref, created_at, updated_at)
		VALUES (?, ?, ?, 0, 0, ?, NULL, ?, ?)
	`, dep.ID, dep.SiteID, string(dep.Status), message,
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("failed to insert deployment: %w", err)
	}

	return dep, nil
}

// GetDeployment retrieves a deployment by identifier.
func (s *Store) GetDeployment(ctx context.Context, id string) (*Deployment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, site_id, status, file_count, total_size, message, blob_ref, created_at, updated_at
		FROM deployments WHERE id = ?
	`, id)
	return scanDeployment(row)
}

// MarkProcessing transitions a deployment from pending to processing.
func (s *Store) MarkProcessing(ctx context.Context, id string) error {
	return s.guardedTransition(ctx, id, StatusProcessing, []Status{StatusPending})
}

// MarkFailed transitions a deployment from any non-terminal state to
// failed. Failing an already-terminal deployment is an error.
func (s *Store) MarkFailed(ctx context.Context, id string) error {
	return s.guardedTransition(ctx, id, StatusFailed, []Status{StatusPending, StatusProcessing})
}

// guardedTransition performs a state transition with the allowed
// source states enforced inside the UPDATE itself, so concurrent
// callers cannot race past the state machine.
func (s *Store) guardedTransition(ctx context.Context, id string, to Status, from []Status) error {
	args := []interface{}{string(to), time.Now().UTC().Format(time.RFC3339Nano), id}
	placeholders := ""
	for i, st := range from {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args = append(args, string(st))
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE deployments SET status = ?, updated_at = ? WHERE id = ? AND status IN (`+placeholders+`)`,
		args...)
	if err != nil {
		return fmt.Errorf("failed to update deployment status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rows == 0 {
		dep, getErr := s.GetDeployment(ctx, id)
		if getErr != nil {
			return getErr
		}
		if dep.Status.Terminal() {
			return fmt.Errorf("%w: deployment %s is %s", ErrInvalidTransition, id, dep.Status)
		}
		return fmt.Errorf("%w: cannot move %s from %s to %s", ErrInvalidTransition, id, dep.Status, to)
	}
	return nil
}

// TouchDeployment bumps a deployment's updated_at after its content
// changed. Rejected once the deployment is terminal.
func (s *Store) TouchDeployment(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE deployments SET updated_at = ?
		WHERE id = ? AND status IN (?, ?)
	`, time.Now().UTC().Format(time.RFC3339Nano), id, string(StatusPending), string(StatusProcessing))
	if err != nil {
		return fmt.Errorf("failed to touch deployment: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rows == 0 {
		if _, getErr := s.GetDeployment(ctx, id); getErr != nil {
			return getErr
		}
		return ErrDeploymentImmutable
	}
	return nil
}

// FinalizeDeployment transitions a processing deployment to live,
// records its final accounting and packed artifact reference, and
// swaps the owning site's active deployment pointer. All of it happens
// in one transaction: either the deployment goes live and becomes
// active, or nothing changes and the previous active deployment keeps
// serving.
func (s *Store) FinalizeDeployment(ctx context.Context, id string, fileCount int, totalSize int64, blobRef string) (*Deployment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339Nano)

	result, err := tx.ExecContext(ctx, `
		UPDATE deployments
		SET status = ?, file_count = ?, total_size = ?, blob_ref = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(StatusLive), fileCount, totalSize, blobRef, now, id, string(StatusProcessing))
	if err != nil {
		return nil, fmt.Errorf("failed to finalize deployment: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rows == 0 {
		dep, getErr := s.GetDeployment(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("%w: cannot finalize deployment in state %s", ErrInvalidTransition, dep.Status)
	}

	var siteID string
	if err := tx.QueryRowContext(ctx, `SELECT site_id FROM deployments WHERE id = ?`, id).Scan(&siteID); err != nil {
		return nil, fmt.Errorf("failed to look up owning site: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE sites SET active_deployment_id = ?, updated_at = ? WHERE id = ?
	`, id, now, siteID); err != nil {
		return nil, fmt.Errorf("failed to swap active deployment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit finalize: %w", err)
	}

	return s.GetDeployment(ctx, id)
}

// AddAssets records uploaded files for a deployment. Re-uploading a
// path replaces its bookkeeping row, matching blob overwrite behavior.
func (s *Store) AddAssets(ctx context.Context, deploymentID string, assets []AssetRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, a := range assets {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO assets (deployment_id, path, size, content_type)
			VALUES (?, ?, ?, ?)
		`, deploymentID, a.Path, a.Size, a.ContentType); err != nil {
			return fmt.Errorf("failed to record asset %q: %w", a.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit asset records: %w", err)
	}
	return nil
}

// ListAssets returns the recorded files of a deployment ordered by path.
func (s *Store) ListAssets(ctx context.Context, deploymentID string) ([]AssetRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT deployment_id, path, size, content_type
		FROM assets WHERE deployment_id = ? ORDER BY path
	`, deploymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query assets: %w", err)
	}
	defer rows.Close()

	var assets []AssetRecord
	for rows.Next() {
		var a AssetRecord
		if err := rows.Scan(&a.DeploymentID, &a.Path, &a.Size, &a.ContentType); err != nil {
			return nil, fmt.Errorf("failed to scan asset record: %w", err)
		}
		assets = append(assets, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating assets: %w", err)
	}
	return assets, nil
}

// ListStaleNonTerminal returns deployments stuck in pending or
// processing whose last update is older than the cutoff. Used by the
// reconciliation sweep.
func (s *Store) ListStaleNonTerminal(ctx context.Context, olderThan time.Time) ([]Deployment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, site_id, status, file_count, total_size, message, blob_ref, created_at, updated_at
		FROM deployments
		WHERE status IN (?, ?) AND updated_at < ?
	`, string(StatusPending), string(StatusProcessing), olderThan.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("failed to query stale deployments: %w", err)
	}
	defer rows.Close()

	var deps []Deployment
	for rows.Next() {
		dep, err := scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		deps = append(deps, *dep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stale deployments: %w", err)
	}
	return deps, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSite(sc scanner) (*Site, error) {
	var site Site
	var mode string
	var active sql.NullString
	var createdAt, updatedAt string

	err := sc.Scan(&site.ID, &site.Slug, &site.Owner, &mode, &active, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan site: %w", err)
	}

	site.AccessMode = AccessMode(mode)
	if active.Valid {
		site.ActiveDeploymentID = &active.String
	}
	if site.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if site.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	return &site, nil
}

func scanDeployment(sc scanner) (*Deployment, error) {
	var dep Deployment
	var status string
	var message, blobRef sql.NullString
	var createdAt, updatedAt string

	err := sc.Scan(&dep.ID, &dep.SiteID, &status, &dep.FileCount, &dep.TotalSize,
		&message, &blobRef, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan deployment: %w", err)
	}

	dep.Status = Status(status)
	if message.Valid {
		dep.Message = &message.String
	}
	if blobRef.Valid {
		dep.BlobRef = &blobRef.String
	}
	if dep.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if dep.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	return &dep, nil
}
