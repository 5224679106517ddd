package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// HandleServeSite serves an asset from a site's active deployment.
func (s *Server) HandleServeSite(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	assetPath := chi.URLParam(r, "*")

	resp := s.Engine.Serve(r.Context(), slug, assetPath, callerIdentity(r), r.Header.Get("If-None-Match"))

	w.Header().Set("Access-Control-Allow-Origin", "*")
	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	if resp.CacheControl != "" {
		w.Header().Set("Cache-Control", resp.CacheControl)
	}
	if resp.ETag != "" {
		w.Header().Set("ETag", resp.ETag)
	}

	w.WriteHeader(resp.Status)
	if len(resp.Body) > 0 {
		w.Write(resp.Body)
	}
}

// callerIdentity extracts the opaque caller identity forwarded by the
// auth layer in front of this service. Empty for anonymous requests.
func callerIdentity(r *http.Request) string {
	return r.Header.Get("X-Sitebox-Identity")
}
