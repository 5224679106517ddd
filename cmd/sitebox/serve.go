package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"sitebox/internal/artifact"
	"sitebox/internal/deploy"
	"sitebox/internal/serve"
	"sitebox/internal/server"
	"sitebox/internal/storage"
	"sitebox/internal/store"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
)

var (
	logFile       string
	dbPath        string
	blobDir       string
	host          string
	port          int
	testMode      bool
	staleSchedule string
	staleMaxAge   time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the hosting server",
	Long: `Start the HTTP server that accepts deployments and serves hosted sites.

The server exposes the deployment API under /api and serves site content
under /sites/{slug}. A background sweep marks deployments that have been
stuck in pending or processing for too long as failed.`,
	RunE: runServe,
}

func init() {
	// Flags for serve command
	serveCmd.Flags().StringVar(&logFile, "log", getEnvOrDefault("SITEBOX_LOG_FILE", "./sitebox.log"), "Path to log file")
	serveCmd.Flags().StringVar(&dbPath, "db", getEnvOrDefault("SITEBOX_DB_PATH", "./sitebox.db"), "Path to SQLite database")
	serveCmd.Flags().StringVar(&blobDir, "blobs", getEnvOrDefault("SITEBOX_BLOB_DIR", "./blobs"), "Directory for uploaded file content")
	serveCmd.Flags().StringVar(&host, "host", getEnvOrDefault("SITEBOX_HOST", "127.0.0.1"), "Host to bind to")
	serveCmd.Flags().IntVarP(&port, "port", "p", getEnvOrDefaultInt("SITEBOX_PORT", 5000), "Port to listen on")
	serveCmd.Flags().BoolVar(&testMode, "test-mode", os.Getenv("SITEBOX_SKIP_RATE_LIMIT") == "1", "Enable test mode (skip rate limiting)")
	serveCmd.Flags().StringVar(&staleSchedule, "stale-sweep", getEnvOrDefault("SITEBOX_STALE_SWEEP", "@every 5m"), "Cron schedule for the stale deployment sweep")
	serveCmd.Flags().DurationVar(&staleMaxAge, "stale-max-age", time.Hour, "Age at which a non-live deployment is marked failed")
}

func runServe(cmd *cobra.Command, args []string) error {
	// Set up logging
	logger, logFileHandle, err := setupLogging(logFile)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer logFileHandle.Close()

	logger.Info("Starting sitebox")

	// Initialize metadata database
	logger.Info("Initializing database", "db", dbPath)
	st, err := store.New(dbPath)
	if err != nil {
		logger.Error("Failed to initialize database", "error", err)
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer st.Close()

	// Initialize blob storage
	logger.Info("Initializing blob storage", "dir", blobDir)
	blobs, err := storage.NewFSStore(blobDir)
	if err != nil {
		logger.Error("Failed to initialize blob storage", "error", err)
		return fmt.Errorf("failed to initialize blob storage: %w", err)
	}

	mgr := deploy.NewManager(st, blobs, logger)
	cache := artifact.NewCache(blobs)
	engine := serve.NewEngine(st, cache, nil, logger)

	// Background sweep for deployments stuck in pending or processing
	sweeper := cron.New()
	_, err = sweeper.AddFunc(staleSchedule, func() {
		n, err := mgr.FailStale(context.Background(), staleMaxAge)
		if err != nil {
			logger.Error("Stale deployment sweep failed", "error", err)
			return
		}
		if n > 0 {
			logger.Info("Marked stale deployments as failed", "count", n)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid stale sweep schedule %q: %w", staleSchedule, err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	// Create and start server
	srv := server.NewServer(st, mgr, engine, logger, testMode)

	logger.Info("Starting HTTP server", "host", host, "port", port)
	if err := srv.Start(host, port); err != nil {
		logger.Error("Server failed", "error", err)
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// setupLogging configures slog for file logging
// Returns both the logger and the file handle (caller must close the file)
func setupLogging(logPath string) (*slog.Logger, *os.File, error) {
	// Create log directory if needed
	logDir := filepath.Dir(logPath)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	// Open log file with secure permissions
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}

	// Create multi-writer to log to both file and console
	multiWriter := io.MultiWriter(os.Stdout, file)

	// Create JSON handler for structured logging
	handler := slog.NewJSONHandler(multiWriter, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})

	logger := slog.New(handler)

	return logger, file, nil
}

// Helper functions for environment variables
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		if _, err := fmt.Sscanf(value, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}
