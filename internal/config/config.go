package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"

	yaml "gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Forge     ForgeConfig     `yaml:"forge"`
	Runner    RunnerConfig    `yaml:"runner"`
	Workflows WorkflowsConfig `yaml:"workflows"`
	API       APIConfig       `yaml:"api"`
}

// ServerConfig represents the HTTP server configuration
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	PublicURL      string   `yaml:"public_url"`      // Externally reachable base URL, used in status links
	AllowedOrigins []string `yaml:"allowed_origins"` // Empty slice means allow all origins
	MaxBodySize    int64    `yaml:"max_body_size"`   // Maximum request body size in bytes (default: 1MB)
}

// DatabaseConfig represents the database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ForgeConfig represents the forge (code host) configuration
type ForgeConfig struct {
	APIURL              string `yaml:"api_url"`               // Empty means api.github.com
	UploadURL           string `yaml:"upload_url"`            // Paired with api_url for enterprise installs
	Token               string `yaml:"token"`                 // API token for file listing and status reporting
	WebhookSecret       string `yaml:"webhook_secret"`        // Enables HMAC verification of webhook payloads
	StatusContextPrefix string `yaml:"status_context_prefix"` // Prefix for commit status contexts
	ReportStatus        *bool  `yaml:"report_status"`         // Post commit statuses back to the pull request (default: true)
	Timeout             int    `yaml:"timeout"`               // Request timeout in seconds (default: 30)
}

// RunnerConfig represents the job runner configuration
type RunnerConfig struct {
	Workdir        string `yaml:"workdir"`         // Root for per-job workspaces
	MaxConcurrent  int    `yaml:"max_concurrent"`  // 0 means unbounded
	JobTimeout     int    `yaml:"job_timeout"`     // Per-job timeout in seconds, 0 means none
	KeepWorkspaces bool   `yaml:"keep_workspaces"` // Keep job workspaces after completion (debugging)
}

// WorkflowsConfig represents where workflow definitions are loaded from
type WorkflowsConfig struct {
	Dir string `yaml:"dir"`
}

// APIConfig represents the API configuration
type APIConfig struct {
	Keys []string `yaml:"keys"`
}

// ShouldReportStatus returns whether commit statuses are posted to the forge.
func (f ForgeConfig) ShouldReportStatus() bool {
	return f.ReportStatus == nil || *f.ReportStatus
}

// Load loads the configuration from the given file path
func Load(filePath string) (*Config, error) {
	// Read the YAML file
	data, err := os.ReadFile(filePath) //nolint:gosec // Trusted file path input
	if err != nil {
		return nil, err
	}

	// Parse the YAML into the Config struct
	config := &Config{}
	err = yaml.Unmarshal(data, config)
	if err != nil {
		return nil, err
	}

	// Apply environment variables
	applyEnvVars(config)

	// Set default values if not provided
	setDefaults(config)

	// Validate configuration
	if err := validateConfig(config); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvVars applies environment variables to the configuration
func applyEnvVars(config *Config) {
	// Server configuration
	if port := os.Getenv("MATRIXCI_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("MATRIXCI_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if publicURL := os.Getenv("MATRIXCI_SERVER_PUBLIC_URL"); publicURL != "" {
		config.Server.PublicURL = publicURL
	}

	// Database configuration
	if path := os.Getenv("MATRIXCI_DATABASE_PATH"); path != "" {
		config.Database.Path = path
	}

	// Forge configuration
	if apiURL := os.Getenv("MATRIXCI_FORGE_API_URL"); apiURL != "" {
		config.Forge.APIURL = apiURL
	}
	if uploadURL := os.Getenv("MATRIXCI_FORGE_UPLOAD_URL"); uploadURL != "" {
		config.Forge.UploadURL = uploadURL
	}
	if token := os.Getenv("MATRIXCI_FORGE_TOKEN"); token != "" {
		config.Forge.Token = token
	}
	if secret := os.Getenv("MATRIXCI_FORGE_WEBHOOK_SECRET"); secret != "" {
		config.Forge.WebhookSecret = secret
	}
	if timeout := os.Getenv("MATRIXCI_FORGE_TIMEOUT"); timeout != "" {
		if t, err := strconv.Atoi(timeout); err == nil && t > 0 {
			config.Forge.Timeout = t
		}
	}

	// Runner configuration
	if workdir := os.Getenv("MATRIXCI_RUNNER_WORKDIR"); workdir != "" {
		config.Runner.Workdir = workdir
	}

	// Workflows configuration
	if dir := os.Getenv("MATRIXCI_WORKFLOWS_DIR"); dir != "" {
		config.Workflows.Dir = dir
	}
}

// setDefaults sets default values for the configuration
func setDefaults(config *Config) {
	// Server defaults
	if config.Server.Port == 0 {
		config.Server.Port = 8080
	}
	if config.Server.Host == "" {
		config.Server.Host = "0.0.0.0"
	}
	if config.Server.MaxBodySize == 0 {
		config.Server.MaxBodySize = 1 << 20 // 1MB default
	}

	// Database defaults
	if config.Database.Path == "" {
		config.Database.Path = "./matrixci.db"
	}

	// Forge defaults
	if config.Forge.StatusContextPrefix == "" {
		config.Forge.StatusContextPrefix = "matrixci"
	}
	if config.Forge.Timeout == 0 {
		config.Forge.Timeout = 30 // 30 seconds default timeout
	}

	// Runner defaults
	if config.Runner.Workdir == "" {
		config.Runner.Workdir = "./matrixci-work"
	}

	// Workflows defaults
	if config.Workflows.Dir == "" {
		config.Workflows.Dir = "./workflows"
	}
}

// GetLogLevel returns the log level from the environment
func GetLogLevel() string {
	levelStr := os.Getenv("MATRIXCI_LOG_LEVEL")
	if levelStr == "" {
		return "info"
	}

	// Validate log level
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if _, ok := validLevels[levelStr]; ok {
		return levelStr
	}

	return "info"
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	// Validate server port
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port: %d (must be between 1 and 65535)", cfg.Server.Port)
	}

	// Validate max body size
	if cfg.Server.MaxBodySize < 0 {
		return fmt.Errorf("invalid server.max_body_size: %d (must be non-negative)", cfg.Server.MaxBodySize)
	}
	if cfg.Server.MaxBodySize > 100<<20 { // 100MB max
		return fmt.Errorf("invalid server.max_body_size: %d (must be less than 100MB)", cfg.Server.MaxBodySize)
	}

	// Validate public URL
	if cfg.Server.PublicURL != "" {
		if _, err := url.Parse(cfg.Server.PublicURL); err != nil {
			return fmt.Errorf("invalid server.public_url: %v", err)
		}
	}

	// Validate forge configuration
	if cfg.Forge.APIURL != "" {
		if _, err := url.Parse(cfg.Forge.APIURL); err != nil {
			return fmt.Errorf("invalid forge.api_url: %v", err)
		}
	}
	if cfg.Forge.UploadURL != "" && cfg.Forge.APIURL == "" {
		return fmt.Errorf("forge.upload_url requires forge.api_url")
	}
	// Status reporting needs a token to authenticate against the forge
	if cfg.Forge.ShouldReportStatus() && cfg.Forge.Token == "" {
		return fmt.Errorf("forge.token is required when forge.report_status is enabled")
	}

	// Validate runner configuration
	if cfg.Runner.MaxConcurrent < 0 {
		return fmt.Errorf("invalid runner.max_concurrent: %d (must be non-negative)", cfg.Runner.MaxConcurrent)
	}
	if cfg.Runner.JobTimeout < 0 {
		return fmt.Errorf("invalid runner.job_timeout: %d (must be non-negative)", cfg.Runner.JobTimeout)
	}

	// Validate API keys
	if len(cfg.API.Keys) == 0 {
		return fmt.Errorf("at least one api.key is required")
	}
	for i, key := range cfg.API.Keys {
		if key == "" {
			return fmt.Errorf("api.keys[%d] cannot be empty", i)
		}
	}

	return nil
}
