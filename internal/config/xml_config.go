// Package config loads the XML application config and the YAML route
// declarations.
package config

import (
	"encoding/xml"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// AppConfig represents the root XML configuration structure
type AppConfig struct {
	XMLName xml.Name `xml:"FileStore"`

	// Server configuration
	Server ServerConfig `xml:"Server"`

	// Storage configuration
	Storage StorageConfig `xml:"Storage"`

	// S3 engine configuration
	S3 S3Config `xml:"S3"`

	// Upload limits and background task settings
	Uploads UploadsConfig `xml:"Uploads"`

	// Logging configuration
	Logging LoggingConfig `xml:"Logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port            int    `xml:"Port"`
	BindAddress     string `xml:"BindAddress"`
	EnableCORS      bool   `xml:"EnableCORS"`
	AllowOrigins    string `xml:"AllowOrigins"`
	ReadTimeout     int    `xml:"ReadTimeoutSeconds"`
	WriteTimeout    int    `xml:"WriteTimeoutSeconds"`
	IdleTimeout     int    `xml:"IdleTimeoutSeconds"`
	ShutdownTimeout int    `xml:"ShutdownTimeoutSeconds"`
	BodyLimit       string `xml:"BodyLimit"`
	EnableMetrics   bool   `xml:"EnableMetrics"`
}

// StorageConfig contains file storage settings
type StorageConfig struct {
	DataDirectory    string `xml:"DataDirectory"`
	UploadsDirectory string `xml:"UploadsDirectory"`
	RoutesFile       string `xml:"RoutesFile"`
	LedgerPath       string `xml:"LedgerPath"`
	MemoryMaxSize    int64  `xml:"MemoryMaxSizeBytes"`
}

// S3Config contains the bucket defaults. Credentials come from the
// environment only.
type S3Config struct {
	Enabled      bool   `xml:"Enabled"`
	Bucket       string `xml:"Bucket"`
	Region       string `xml:"Region"`
	Endpoint     string `xml:"Endpoint"`
	UsePathStyle bool   `xml:"UsePathStyle"`
}

// UploadsConfig contains multipart limits and background job retention
type UploadsConfig struct {
	MaxFiles               int   `xml:"MaxFiles"`
	MaxFields              int   `xml:"MaxFields"`
	MaxPartSize            int64 `xml:"MaxPartSizeBytes"`
	JobRetentionMinutes    int   `xml:"JobRetentionMinutes"`
	CleanupIntervalMinutes int   `xml:"CleanupIntervalMinutes"`
}

// LoggingConfig contains log output settings
type LoggingConfig struct {
	Level                string `xml:"Level"`
	File                 string `xml:"File"`
	MaxSizeMB            int    `xml:"MaxSizeMB"`
	MaxBackups           int    `xml:"MaxBackups"`
	MaxAgeDays           int    `xml:"MaxAgeDays"`
	EnableRequestLogging bool   `xml:"EnableRequestLogging"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:            8089,
			BindAddress:     "0.0.0.0",
			EnableCORS:      true,
			AllowOrigins:    "*",
			ReadTimeout:     30,
			WriteTimeout:    30,
			IdleTimeout:     120,
			ShutdownTimeout: 30,
			BodyLimit:       "512M",
			EnableMetrics:   true,
		},
		Storage: StorageConfig{
			DataDirectory:    "./data",
			UploadsDirectory: "./data/uploads",
			RoutesFile:       "./routes.yaml",
			LedgerPath:       "./data/ledger.duckdb",
			MemoryMaxSize:    10 << 20,
		},
		S3: S3Config{
			Enabled: false,
			Region:  "us-east-1",
		},
		Uploads: UploadsConfig{
			MaxFiles:               1000,
			MaxFields:              1000,
			MaxPartSize:            1 << 20,
			JobRetentionMinutes:    60,
			CleanupIntervalMinutes: 5,
		},
		Logging: LoggingConfig{
			Level:                "info",
			File:                 "./data/logs/filestore.log",
			MaxSizeMB:            50,
			MaxBackups:           5,
			MaxAgeDays:           28,
			EnableRequestLogging: true,
		},
	}
}

// LoadConfig loads configuration from XML file. A missing file is created
// with the defaults.
func LoadConfig(configPath string) (*AppConfig, error) {
	config := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := config.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	} else {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := xml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Apply environment variable overrides
	config.applyEnvironmentOverrides()

	// Resolve relative paths
	config.resolvePaths(filepath.Dir(configPath))

	return config, nil
}

// Save saves the configuration to XML file
func (c *AppConfig) Save(configPath string) error {
	output, err := xml.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(xml.Header + "\n<!-- FileStore Configuration -->\n<!-- This file is auto-generated on first run -->\n\n")
	content := append(header, output...)

	if dir := filepath.Dir(configPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// applyEnvironmentOverrides allows environment variables to override config values
func (c *AppConfig) applyEnvironmentOverrides() {
	// PORT override
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}

	// DATA_DIR moves everything that lives under the data directory
	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		c.Storage.DataDirectory = dataDir
		c.Storage.UploadsDirectory = filepath.Join(dataDir, "uploads")
		c.Storage.LedgerPath = filepath.Join(dataDir, "ledger.duckdb")
	}

	if routes := os.Getenv("ROUTES_FILE"); routes != "" {
		c.Storage.RoutesFile = routes
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}

	// Setting a bucket enables the S3 engine
	if bucket := os.Getenv("AWS_BUCKET_NAME"); bucket != "" {
		c.S3.Bucket = bucket
		c.S3.Enabled = true
	}
	if region := os.Getenv("AWS_DEFAULT_REGION"); region != "" {
		c.S3.Region = region
	}
}

// resolvePaths converts relative paths to absolute based on config file location
func (c *AppConfig) resolvePaths(configDir string) {
	resolve := func(p *string) {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(configDir, *p)
		}
	}
	resolve(&c.Storage.DataDirectory)
	resolve(&c.Storage.UploadsDirectory)
	resolve(&c.Storage.RoutesFile)
	resolve(&c.Storage.LedgerPath)
	resolve(&c.Logging.File)
}

// GetServerAddr returns the server bind address
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// ShutdownTimeout returns the graceful shutdown budget.
func (c *AppConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeout) * time.Second
}

// JobRetention returns how long finished background jobs are kept.
func (c *AppConfig) JobRetention() time.Duration {
	return time.Duration(c.Uploads.JobRetentionMinutes) * time.Minute
}

// CleanupInterval returns the period of the job cleanup loop.
func (c *AppConfig) CleanupInterval() time.Duration {
	return time.Duration(c.Uploads.CleanupIntervalMinutes) * time.Minute
}

// LogLevel parses Logging.Level, defaulting to info.
func (c *AppConfig) LogLevel() slog.Level {
	switch strings.ToLower(c.Logging.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// EnsureDirectories creates all necessary directories
func (c *AppConfig) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDirectory,
		c.Storage.UploadsDirectory,
	}
	if c.Storage.LedgerPath != "" {
		dirs = append(dirs, filepath.Dir(c.Storage.LedgerPath))
	}
	if c.Logging.File != "" {
		dirs = append(dirs, filepath.Dir(c.Logging.File))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
