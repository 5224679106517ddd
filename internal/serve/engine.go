package serve

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"sitebox/internal/artifact"
	"sitebox/internal/store"
)

// Response is the engine's answer to a resolution request. The
// transport layer writes it out verbatim; Body is nil for 304s.
type Response struct {
	Status       int
	ContentType  string
	CacheControl string
	ETag         string
	Body         []byte
}

// Engine resolves request paths against a site's active deployment.
type Engine struct {
	store  *store.Store
	cache  *artifact.Cache
	access AccessDecider
	logger *slog.Logger
}

// NewEngine creates a serving engine.
func NewEngine(st *store.Store, cache *artifact.Cache, access AccessDecider, logger *slog.Logger) *Engine {
	if access == nil {
		access = DenyNonPublic()
	}
	return &Engine{store: st, cache: cache, access: access, logger: logger}
}

// Serve resolves a request against the active deployment of the site
// with the given slug. Internal failures are logged and returned as an
// opaque 500; no error detail ever reaches the response body.
func (e *Engine) Serve(ctx context.Context, slug, rawPath, callerIdentity, ifNoneMatch string) *Response {
	site, err := e.store.GetSiteBySlug(ctx, slug)
	if errors.Is(err, store.ErrNotFound) {
		return notFound()
	}
	if err != nil {
		return e.internalError(err, slug, rawPath)
	}

	// Public sites skip the access check entirely.
	if site.AccessMode != store.AccessPublic {
		if decision := e.access.Decide(ctx, site, callerIdentity); !decision.Allowed {
			return &Response{
				Status:      http.StatusForbidden,
				ContentType: "text/plain; charset=utf-8",
				Body:        []byte(reasonMessage(decision.Reason)),
			}
		}
	}

	if site.ActiveDeploymentID == nil {
		return notFound()
	}
	dep, err := e.store.GetDeployment(ctx, *site.ActiveDeploymentID)
	if errors.Is(err, store.ErrNotFound) {
		return notFound()
	}
	if err != nil {
		return e.internalError(err, slug, rawPath)
	}
	if dep.BlobRef == nil {
		return e.internalError(fmt.Errorf("active deployment %s has no artifact", dep.ID), slug, rawPath)
	}

	idx, err := e.cache.Get(ctx, *dep.BlobRef, dep.UpdatedAt)
	if err != nil {
		return e.internalError(err, slug, rawPath)
	}

	asset, resolved := resolveAsset(idx, normalizeRequestPath(rawPath))
	if asset == nil {
		return notFound()
	}

	etag := computeETag(*dep.BlobRef, resolved, dep.UpdatedAt)
	contentType := ContentTypeFor(resolved)
	cacheControl := CacheControlFor(resolved)

	if ifNoneMatch != "" && ifNoneMatch == etag {
		return &Response{
			Status:       http.StatusNotModified,
			ContentType:  contentType,
			CacheControl: cacheControl,
			ETag:         etag,
		}
	}

	body := asset.Content
	if isHTML(contentType) {
		body = []byte(InjectNavigationScript(string(asset.Content), "/"+resolved))
	}

	return &Response{
		Status:       http.StatusOK,
		ContentType:  contentType,
		CacheControl: cacheControl,
		ETag:         etag,
		Body:         body,
	}
}

// normalizeRequestPath URL-decodes a request path, strips any query or
// fragment suffix, and removes one leading slash.
func normalizeRequestPath(raw string) string {
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		raw = raw[:i]
	}
	if decoded, err := url.PathUnescape(raw); err == nil {
		raw = decoded
	}
	return strings.TrimPrefix(raw, "/")
}

// resolveAsset applies the fallback order: exact path, path with a
// leading slash re-added, index.html for the empty path, then the
// directory-style index fallbacks. First match wins.
func resolveAsset(idx artifact.Index, p string) (*artifact.Asset, string) {
	candidates := []string{p, "/" + p}
	if p == "" {
		candidates = []string{"index.html"}
	} else {
		candidates = append(candidates, p+"/index.html", "/"+p+"/index.html")
	}

	for _, candidate := range candidates {
		if asset, ok := idx[candidate]; ok {
			return asset, candidate
		}
	}
	return nil, ""
}

// computeETag derives a deterministic entity tag from the artifact
// identity, the resolved path and the deployment's last update time.
func computeETag(blobRef, resolvedPath string, lastUpdated time.Time) string {
	h := blake3.New()
	h.Write([]byte(blobRef))
	h.Write([]byte{0})
	h.Write([]byte(resolvedPath))
	h.Write([]byte{0})
	h.Write([]byte(lastUpdated.UTC().Format(time.RFC3339Nano)))
	sum := h.Sum(nil)
	return `"` + hex.EncodeToString(sum[:16]) + `"`
}

func notFound() *Response {
	return &Response{
		Status:      http.StatusNotFound,
		ContentType: "text/plain; charset=utf-8",
		Body:        []byte("Not found"),
	}
}

func (e *Engine) internalError(err error, slug, rawPath string) *Response {
	e.logger.Error("serving failure", "slug", slug, "path", rawPath, "error", err)
	return &Response{
		Status:      http.StatusInternalServerError,
		ContentType: "text/plain; charset=utf-8",
		Body:        []byte("Internal server error"),
	}
}
