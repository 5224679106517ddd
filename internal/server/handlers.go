package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"

	"github.com/go-chi/chi/v5"

	"sitebox/internal/deploy"
	"sitebox/internal/storage"
	"sitebox/internal/store"
)

const (
	// MaxUploadPayloadBytes bounds an upload batch request body. A full
	// batch is at most ten 10 MiB files plus base64 overhead.
	MaxUploadPayloadBytes = 160 << 20

	// MaxJSONPayloadBytes bounds all other API request bodies.
	MaxJSONPayloadBytes = 1 << 20
)

var slugPattern = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?$`)

type createSiteRequest struct {
	Slug       string `json:"slug"`
	Owner      string `json:"owner"`
	AccessMode string `json:"access_mode"`
}

type createDeploymentRequest struct {
	Message string `json:"message,omitempty"`
}

type uploadFileRequest struct {
	Path        string `json:"path"`
	Content     string `json:"content"` // base64
	ContentType string `json:"content_type,omitempty"`
}

type uploadFilesRequest struct {
	Files []uploadFileRequest `json:"files"`
}

type finalizeRequest struct {
	FileCount int   `json:"file_count"`
	TotalSize int64 `json:"total_size"`
}

// HandleHealth handles health check requests
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleCreateSite creates a site. Account management proper lives
// outside this service; this is the minimal provisioning surface.
func (s *Server) HandleCreateSite(w http.ResponseWriter, r *http.Request) {
	var req createSiteRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if !slugPattern.MatchString(req.Slug) {
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid slug: lowercase letters, digits and hyphens only"})
		return
	}
	if req.Owner == "" {
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing owner"})
		return
	}

	mode := store.AccessMode(req.AccessMode)
	if mode == "" {
		mode = store.AccessPublic
	}
	switch mode {
	case store.AccessPublic, store.AccessPassword, store.AccessPrivate, store.AccessOwnerOnly:
	default:
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid access mode"})
		return
	}

	site, err := s.Store.CreateSite(r.Context(), req.Slug, req.Owner, mode)
	if errors.Is(err, store.ErrSlugTaken) {
		s.respondJSON(w, http.StatusConflict, map[string]string{"error": "Slug already taken"})
		return
	}
	if err != nil {
		s.internalError(w, "Failed to create site", err)
		return
	}

	s.respondJSON(w, http.StatusCreated, site)
}

// HandleGetSite returns a site by id or slug.
func (s *Server) HandleGetSite(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "siteID")
	if id == "" {
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing site id"})
		return
	}

	site, err := s.Store.GetSite(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		site, err = s.Store.GetSiteBySlug(r.Context(), id)
	}
	if errors.Is(err, store.ErrNotFound) {
		s.respondJSON(w, http.StatusNotFound, map[string]string{"error": "Unknown site"})
		return
	}
	if err != nil {
		s.internalError(w, "Failed to fetch site", err)
		return
	}

	s.respondJSON(w, http.StatusOK, site)
}

// HandleCreateDeployment allocates a new pending deployment.
func (s *Server) HandleCreateDeployment(w http.ResponseWriter, r *http.Request) {
	siteID := chi.URLParam(r, "siteID")
	if siteID == "" {
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing site id"})
		return
	}

	var req createDeploymentRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	var message *string
	if req.Message != "" {
		message = &req.Message
	}

	dep, err := s.Manager.Create(r.Context(), siteID, message)
	if err != nil {
		s.respondDeployError(w, err)
		return
	}

	s.respondJSON(w, http.StatusCreated, dep)
}

// HandleGetDeployment returns a deployment by id.
func (s *Server) HandleGetDeployment(w http.ResponseWriter, r *http.Request) {
	dep, err := s.Store.GetDeployment(r.Context(), chi.URLParam(r, "deploymentID"))
	if err != nil {
		s.respondDeployError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, dep)
}

// HandleMarkProcessing transitions a deployment to processing.
func (s *Server) HandleMarkProcessing(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "deploymentID")
	if err := s.Manager.MarkProcessing(r.Context(), id); err != nil {
		s.respondDeployError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": string(store.StatusProcessing)})
}

// HandleUploadFiles persists an upload batch.
func (s *Server) HandleUploadFiles(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "deploymentID")

	if r.ContentLength > MaxUploadPayloadBytes {
		s.respondJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "Payload too large"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxUploadPayloadBytes))
	if err != nil {
		s.internalError(w, "Failed to read payload", err)
		return
	}

	var req uploadFilesRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON payload"})
		return
	}
	if len(req.Files) == 0 {
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Empty file batch"})
		return
	}

	files := make([]deploy.FileUpload, 0, len(req.Files))
	for _, f := range req.Files {
		if err := storage.ValidatePath(f.Path); err != nil {
			s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("Invalid file path: %v", err)})
			return
		}
		content, err := base64.StdEncoding.DecodeString(f.Content)
		if err != nil {
			s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("Invalid base64 content for %q", f.Path)})
			return
		}
		files = append(files, deploy.FileUpload{
			Path:        f.Path,
			Content:     content,
			ContentType: f.ContentType,
		})
	}

	if err := s.Manager.UploadBatch(r.Context(), id, files); err != nil {
		s.respondDeployError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{"uploaded": len(files)})
}

// HandleFinalize finalizes a deployment and activates it.
func (s *Server) HandleFinalize(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "deploymentID")

	var req finalizeRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.FileCount < 0 || req.TotalSize < 0 {
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Negative accounting values"})
		return
	}

	dep, err := s.Manager.Finalize(r.Context(), id, req.FileCount, req.TotalSize)
	if err != nil {
		s.respondDeployError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, dep)
}

// HandleMarkFailed explicitly fails a deployment.
func (s *Server) HandleMarkFailed(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "deploymentID")
	if err := s.Manager.MarkFailed(r.Context(), id); err != nil {
		s.respondDeployError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": string(store.StatusFailed)})
}

// decodeJSON reads a small JSON body into dst, responding with an
// error on failure. An empty body decodes to the zero value.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxJSONPayloadBytes))
	if err != nil {
		s.internalError(w, "Failed to read payload", err)
		return false
	}
	if len(body) == 0 {
		return true
	}
	if err := json.Unmarshal(body, dst); err != nil {
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON payload"})
		return false
	}
	return true
}

// respondDeployError maps a deployment manager error to an API
// response. Unexpected errors stay opaque to the client.
func (s *Server) respondDeployError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.respondJSON(w, http.StatusNotFound, map[string]string{"error": "Not found"})
	case errors.Is(err, store.ErrInvalidTransition):
		s.respondJSON(w, http.StatusConflict, map[string]string{"error": "Invalid deployment state transition"})
	case errors.Is(err, store.ErrDeploymentImmutable):
		s.respondJSON(w, http.StatusConflict, map[string]string{"error": "Deployment is immutable"})
	default:
		s.internalError(w, "Deployment operation failed", err)
	}
}

func (s *Server) internalError(w http.ResponseWriter, msg string, err error) {
	s.Logger.Error(msg, "error", err)
	s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": msg})
}

// respondJSON sends a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.Logger.Error("Failed to encode JSON response", "error", err)
	}
}
