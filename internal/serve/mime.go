package serve

import (
	"path"
	"strings"
)

const (
	// Cache directives by asset class. Static assets are immutable per
	// deployment (the ETag changes when content does), HTML and other
	// documents revalidate hourly.
	longCacheControl  = "public, max-age=31536000, immutable"
	shortCacheControl = "public, max-age=3600"

	binaryContentType = "application/octet-stream"
)

// contentTypes is the fixed extension -> MIME table. Unknown
// extensions fall back to a generic binary type.
var contentTypes = map[string]string{
	".html":  "text/html; charset=utf-8",
	".htm":   "text/html; charset=utf-8",
	".css":   "text/css; charset=utf-8",
	".js":    "application/javascript; charset=utf-8",
	".mjs":   "application/javascript; charset=utf-8",
	".json":  "application/json; charset=utf-8",
	".txt":   "text/plain; charset=utf-8",
	".md":    "text/markdown; charset=utf-8",
	".xml":   "application/xml; charset=utf-8",
	".csv":   "text/csv; charset=utf-8",
	".svg":   "image/svg+xml",
	".png":   "image/png",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".gif":   "image/gif",
	".webp":  "image/webp",
	".avif":  "image/avif",
	".ico":   "image/x-icon",
	".woff":  "font/woff",
	".woff2": "font/woff2",
	".ttf":   "font/ttf",
	".otf":   "font/otf",
	".eot":   "application/vnd.ms-fontobject",
	".mp3":   "audio/mpeg",
	".wav":   "audio/wav",
	".mp4":   "video/mp4",
	".webm":  "video/webm",
	".pdf":   "application/pdf",
	".wasm":  "application/wasm",
	".map":   "application/json; charset=utf-8",
}

// staticExtensions marks asset classes that get the long-lived cache
// directive: images, fonts, stylesheets and scripts.
var staticExtensions = map[string]bool{
	".css":   true,
	".js":    true,
	".mjs":   true,
	".svg":   true,
	".png":   true,
	".jpg":   true,
	".jpeg":  true,
	".gif":   true,
	".webp":  true,
	".avif":  true,
	".ico":   true,
	".woff":  true,
	".woff2": true,
	".ttf":   true,
	".otf":   true,
	".eot":   true,
}

// ContentTypeFor derives the content type of an asset from its file
// extension.
func ContentTypeFor(assetPath string) string {
	ext := strings.ToLower(path.Ext(assetPath))
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	return binaryContentType
}

// CacheControlFor returns the cache directive for an asset path.
func CacheControlFor(assetPath string) string {
	ext := strings.ToLower(path.Ext(assetPath))
	if staticExtensions[ext] {
		return longCacheControl
	}
	return shortCacheControl
}

// isHTML reports whether a content type is HTML, the only class that
// gets the navigation script injected.
func isHTML(contentType string) bool {
	return strings.HasPrefix(contentType, "text/html")
}
