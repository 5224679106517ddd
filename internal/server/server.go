package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"sitebox/internal/deploy"
	"sitebox/internal/serve"
	"sitebox/internal/store"
)

const (
	// HTTP server timeouts
	HTTPReadTimeout  = 30 * time.Second
	HTTPWriteTimeout = 30 * time.Second
	HTTPIdleTimeout  = 60 * time.Second

	// Request timeout for middleware
	RequestTimeout = 60 * time.Second

	// Rate limiting for the deployment API - requests per minute.
	// Serving routes are not limited here; that belongs to the edge
	// in front of the platform.
	APIRateLimit = 240
)

// Server wires the deployment API and the asset serving routes.
type Server struct {
	Store    *store.Store
	Manager  *deploy.Manager
	Engine   *serve.Engine
	Logger   *slog.Logger
	TestMode bool
}

// NewServer creates a new server instance.
func NewServer(st *store.Store, mgr *deploy.Manager, engine *serve.Engine, logger *slog.Logger, testMode bool) *Server {
	return &Server{
		Store:    st,
		Manager:  mgr,
		Engine:   engine,
		Logger:   logger,
		TestMode: testMode,
	}
}

// Router creates and configures the HTTP router.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(RequestTimeout))

	// Logging middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				s.Logger.Info("http_request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"duration_ms", time.Since(start).Milliseconds())
			}()

			next.ServeHTTP(ww, r)
		})
	})

	// Deployment API
	r.Route("/api", func(r chi.Router) {
		if !s.TestMode {
			r.Use(NewRateLimitMiddleware(APIRateLimit, s.Logger))
		}

		r.Get("/health", s.HandleHealth)

		r.Post("/sites", s.HandleCreateSite)
		r.Get("/sites/{siteID}", s.HandleGetSite)
		r.Post("/sites/{siteID}/deployments", s.HandleCreateDeployment)

		r.Get("/deployments/{deploymentID}", s.HandleGetDeployment)
		r.Post("/deployments/{deploymentID}/processing", s.HandleMarkProcessing)
		r.Post("/deployments/{deploymentID}/files", s.HandleUploadFiles)
		r.Post("/deployments/{deploymentID}/finalize", s.HandleFinalize)
		r.Post("/deployments/{deploymentID}/failed", s.HandleMarkFailed)
	})

	// Site serving
	r.Get("/sites/{slug}", s.HandleServeSite)
	r.Get("/sites/{slug}/*", s.HandleServeSite)

	return r
}

// Start starts the HTTP server.
func (s *Server) Start(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	s.Logger.Info("Starting server", "addr", addr)

	server := &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  HTTPReadTimeout,
		WriteTimeout: HTTPWriteTimeout,
		IdleTimeout:  HTTPIdleTimeout,
	}

	return server.ListenAndServe()
}
