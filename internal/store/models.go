package store

import "time"

// Status is the lifecycle state of a deployment. Transitions are
// strictly forward: pending -> processing -> {live, failed}. The
// terminal states have no outgoing edges.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusLive       Status = "live"
	StatusFailed     Status = "failed"
)

// Terminal reports whether a deployment in this status is immutable.
func (s Status) Terminal() bool {
	return s == StatusLive || s == StatusFailed
}

// AccessMode controls who may view a site. The serving core only
// distinguishes public from everything else; interpretation of the
// non-public modes belongs to the access-decision collaborator.
type AccessMode string

const (
	AccessPublic    AccessMode = "public"
	AccessPassword  AccessMode = "password"
	AccessPrivate   AccessMode = "private"
	AccessOwnerOnly AccessMode = "owner-only"
)

// Site represents a hosted static-content destination.
type Site struct {
	ID                 string     `json:"id"`
	Slug               string     `json:"slug"`
	Owner              string     `json:"owner"`
	AccessMode         AccessMode `json:"access_mode"`
	ActiveDeploymentID *string    `json:"active_deployment_id,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Deployment represents one immutable upload of a file set for a site.
// FileCount, TotalSize and BlobRef are set exactly once, at finalize.
type Deployment struct {
	ID        string    `json:"id"`
	SiteID    string    `json:"site_id"`
	Status    Status    `json:"status"`
	FileCount int       `json:"file_count"`
	TotalSize int64     `json:"total_size"`
	Message   *string   `json:"message,omitempty"`
	BlobRef   *string   `json:"blob_ref,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AssetRecord describes one uploaded file within a deployment. The
// bytes themselves live in the blob store; this is the bookkeeping row
// used to verify finalize accounting and to pack the artifact.
type AssetRecord struct {
	DeploymentID string
	Path         string
	Size         int64
	ContentType  string
}
