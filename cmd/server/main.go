package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/filestore/backend/internal/api"
	"github.com/filestore/backend/internal/config"
	"github.com/filestore/backend/internal/filestore"
	"github.com/filestore/backend/internal/ledger"
	"github.com/filestore/backend/internal/logging"
	"github.com/filestore/backend/internal/metrics"
	"github.com/filestore/backend/internal/storage"
	"github.com/filestore/backend/internal/upload"
	"github.com/filestore/backend/internal/web"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Config lives next to the executable unless CONFIG_PATH says otherwise
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		exePath, err := os.Executable()
		if err != nil {
			fmt.Printf("Failed to get executable path: %v\n", err)
			os.Exit(1)
		}
		configPath = filepath.Join(filepath.Dir(exePath), "filestore.config")
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Ensure all data directories exist
	if err := cfg.EnsureDirectories(); err != nil {
		fmt.Printf("Failed to create directories: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser := logging.New(logging.Options{
		Level:      cfg.LogLevel(),
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	defer logCloser.Close()
	slog.SetDefault(logger)

	if err := run(cfg, configPath, logger); err != nil {
		logger.Error("server stopped", "error", err)
		logCloser.Close()
		os.Exit(1)
	}
}

func run(cfg *config.AppConfig, configPath string, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry, err := newRegistry(ctx, cfg)
	if err != nil {
		return err
	}

	uploadLedger, err := ledger.Open(cfg.Storage.LedgerPath, logger)
	if err != nil {
		return err
	}
	defer uploadLedger.Close()

	m := metrics.New()
	uploadMgr := upload.NewManager(logger, m)
	go uploadMgr.RunCleanup(ctx, cfg.CleanupInterval(), cfg.JobRetention())

	routes, err := config.LoadRoutes(cfg.Storage.RoutesFile)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Warn("routes file not found, no upload routes served", "path", cfg.Storage.RoutesFile)
		routes, err = nil, nil
	}
	if err != nil {
		return fmt.Errorf("loading routes: %w", err)
	}

	for i := range routes {
		if routes[i].MaxFiles == 0 {
			routes[i].MaxFiles = cfg.Uploads.MaxFiles
		}
		if routes[i].MaxFields == 0 {
			routes[i].MaxFields = cfg.Uploads.MaxFields
		}
		if routes[i].MaxPartSize == 0 {
			routes[i].MaxPartSize = cfg.Uploads.MaxPartSize
		}
	}

	dispatchers, err := config.BuildDispatchers(routes, registry, "local",
		filestore.WithRunner(uploadMgr),
		filestore.WithObserver(uploadLedger),
		filestore.WithObserver(m),
		filestore.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	e := newServer(cfg, logger, m)

	var metricsHandler http.Handler
	if cfg.Server.EnableMetrics {
		metricsHandler = m.Handler()
	}
	api.RegisterRoutes(e, api.NewHandlers(&api.Dependencies{
		Routes:      routes,
		Dispatchers: dispatchers,
		Ledger:      uploadLedger,
		Tasks:       uploadMgr,
		Engines:     registry.Names(),
		Metrics:     metricsHandler,
		Logger:      logger,
		Version:     Version,
	}))

	if err := web.RegisterStaticRoutes(e); err != nil {
		logger.Warn("upload console unavailable", "error", err)
	}

	printBanner(cfg, configPath, len(dispatchers), registry.Names())

	// Configure server with settings from XML config
	s := &http.Server{
		Addr:         cfg.GetServerAddr(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- e.StartServer(s)
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down", "pendingTasks", uploadMgr.Pending())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	// Background uploads keep writing to the ledger until they finish.
	if err := uploadMgr.Wait(shutdownCtx); err != nil {
		logger.Warn("abandoning background uploads", "error", err)
	}
	return nil
}

// newRegistry builds the storage engines selectable by routes.
func newRegistry(ctx context.Context, cfg *config.AppConfig) (*storage.Registry, error) {
	local, err := storage.NewLocalEngine(cfg.Storage.UploadsDirectory)
	if err != nil {
		return nil, fmt.Errorf("initializing local storage: %w", err)
	}
	registry := storage.NewRegistry(local, storage.NewMemoryEngine(cfg.Storage.MemoryMaxSize))

	if cfg.S3.Enabled {
		s3Engine, err := storage.NewS3Engine(ctx, storage.S3Config{
			Bucket:       cfg.S3.Bucket,
			Region:       cfg.S3.Region,
			Endpoint:     cfg.S3.Endpoint,
			UsePathStyle: cfg.S3.UsePathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("initializing s3 storage: %w", err)
		}
		registry.Register(s3Engine)
	}
	return registry, nil
}

func newServer(cfg *config.AppConfig, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = api.NewErrorHandler(logger, cfg.LogLevel() == slog.LevelDebug)

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			if !cfg.Logging.EnableRequestLogging {
				return true
			}
			path := c.Request().URL.Path
			return path == "/api/health" || path == "/metrics"
		},
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency}
			if v.Error != nil {
				logger.Warn("request", append(attrs, "error", v.Error)...)
				return nil
			}
			logger.Info("request", attrs...)
			return nil
		},
	}))

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 1024 * 4,
	}))

	if cfg.Server.EnableMetrics {
		e.Use(m.Middleware())
	}

	// Compression middleware
	e.Use(middleware.GzipWithConfig(middleware.GzipConfig{
		Skipper: func(c echo.Context) bool {
			return c.Request().URL.Path == "/metrics"
		},
	}))

	// Body limit middleware
	e.Use(middleware.BodyLimit(cfg.Server.BodyLimit))

	// CORS configuration
	if cfg.Server.EnableCORS {
		origins := strings.Split(cfg.Server.AllowOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		if len(origins) == 0 || (len(origins) == 1 && origins[0] == "") {
			origins = []string{"*"}
		}
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: origins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
		}))
	}

	return e
}

func printBanner(cfg *config.AppConfig, configPath string, routes int, engines []string) {
	fmt.Printf("\n")
	fmt.Printf("╔═══════════════════════════════════════════════════════════╗\n")
	fmt.Printf("║           FileStore Upload Server                         ║\n")
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Version:    %-45s║\n", Version)
	fmt.Printf("║  Build Time: %-45s║\n", BuildTime)
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Config:    %-46s║\n", configPath)
	fmt.Printf("║  Routes:    %-46s║\n", fmt.Sprintf("%d from %s", routes, filepath.Base(cfg.Storage.RoutesFile)))
	fmt.Printf("║  Engines:   %-46s║\n", strings.Join(engines, ", "))
	fmt.Printf("║  Listen:    http://%-38s║\n", cfg.GetServerAddr())
	fmt.Printf("║  Uploads:   %-46s║\n", cfg.Storage.UploadsDirectory)
	fmt.Printf("╚═══════════════════════════════════════════════════════════╝\n")
	fmt.Printf("\n")
}
