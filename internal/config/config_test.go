package config_test

import (
	"os"
	"strings"
	"testing"

	"matrixci/internal/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	tmpFile, err := os.CreateTemp(t.TempDir(), "config-test-*.yaml")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	if _, err := tmpFile.WriteString(content); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	tmpFile.Close()

	return tmpFile.Name()
}

func TestLoadConfig(t *testing.T) {
	configContent := `
server:
  port: 8080
  host: "0.0.0.0"
  public_url: https://ci.example.com

database:
  path: ./test.db

forge:
  token: test-token
  webhook_secret: test-secret
  status_context_prefix: ci
  timeout: 15

runner:
  workdir: /tmp/ci-work
  max_concurrent: 4
  job_timeout: 1800

workflows:
  dir: ./testdata/workflows

api:
  keys:
    - test-api-key-1
    - test-api-key-2
`

	cfg, err := config.Load(writeConfig(t, configContent))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	// Verify server config
	if cfg.Server.Port != 8080 {
		t.Errorf("Expected port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Expected host 0.0.0.0, got %s", cfg.Server.Host)
	}
	if cfg.Server.PublicURL != "https://ci.example.com" {
		t.Errorf("Expected public URL https://ci.example.com, got %s", cfg.Server.PublicURL)
	}

	// Verify database config
	if cfg.Database.Path != "./test.db" {
		t.Errorf("Expected database path ./test.db, got %s", cfg.Database.Path)
	}

	// Verify forge config
	if cfg.Forge.Token != "test-token" {
		t.Errorf("Expected forge token test-token, got %s", cfg.Forge.Token)
	}
	if cfg.Forge.WebhookSecret != "test-secret" {
		t.Errorf("Expected webhook secret test-secret, got %s", cfg.Forge.WebhookSecret)
	}
	if cfg.Forge.StatusContextPrefix != "ci" {
		t.Errorf("Expected status context prefix ci, got %s", cfg.Forge.StatusContextPrefix)
	}
	if cfg.Forge.Timeout != 15 {
		t.Errorf("Expected forge timeout 15, got %d", cfg.Forge.Timeout)
	}
	if !cfg.Forge.ShouldReportStatus() {
		t.Error("Expected status reporting to default to enabled")
	}

	// Verify runner config
	if cfg.Runner.Workdir != "/tmp/ci-work" {
		t.Errorf("Expected workdir /tmp/ci-work, got %s", cfg.Runner.Workdir)
	}
	if cfg.Runner.MaxConcurrent != 4 {
		t.Errorf("Expected max_concurrent 4, got %d", cfg.Runner.MaxConcurrent)
	}
	if cfg.Runner.JobTimeout != 1800 {
		t.Errorf("Expected job_timeout 1800, got %d", cfg.Runner.JobTimeout)
	}

	// Verify workflows config
	if cfg.Workflows.Dir != "./testdata/workflows" {
		t.Errorf("Expected workflows dir ./testdata/workflows, got %s", cfg.Workflows.Dir)
	}

	// Verify API config
	if len(cfg.API.Keys) != 2 {
		t.Errorf("Expected 2 API keys, got %d", len(cfg.API.Keys))
	}
	if cfg.API.Keys[0] != "test-api-key-1" {
		t.Errorf("Expected first API key test-api-key-1, got %s", cfg.API.Keys[0])
	}
}

func TestConfigDefaults(t *testing.T) {
	configContent := `
forge:
  report_status: false

api:
  keys:
    - test-api-key
`

	cfg, err := config.Load(writeConfig(t, configContent))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	// Verify defaults
	if cfg.Server.Port != 8080 {
		t.Errorf("Expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Expected default host 0.0.0.0, got %s", cfg.Server.Host)
	}
	if cfg.Server.MaxBodySize != 1<<20 {
		t.Errorf("Expected default max body size 1MB, got %d", cfg.Server.MaxBodySize)
	}
	if cfg.Database.Path != "./matrixci.db" {
		t.Errorf("Expected default database path ./matrixci.db, got %s", cfg.Database.Path)
	}
	if cfg.Forge.StatusContextPrefix != "matrixci" {
		t.Errorf("Expected default status context prefix matrixci, got %s", cfg.Forge.StatusContextPrefix)
	}
	if cfg.Forge.Timeout != 30 {
		t.Errorf("Expected default forge timeout 30, got %d", cfg.Forge.Timeout)
	}
	if cfg.Runner.Workdir != "./matrixci-work" {
		t.Errorf("Expected default workdir ./matrixci-work, got %s", cfg.Runner.Workdir)
	}
	if cfg.Workflows.Dir != "./workflows" {
		t.Errorf("Expected default workflows dir ./workflows, got %s", cfg.Workflows.Dir)
	}
	if cfg.Forge.ShouldReportStatus() {
		t.Error("Expected status reporting to be disabled")
	}
}

func TestConfigEnvVars(t *testing.T) {
	t.Setenv("MATRIXCI_SERVER_PORT", "9090")
	t.Setenv("MATRIXCI_FORGE_TOKEN", "env-token")
	t.Setenv("MATRIXCI_WORKFLOWS_DIR", "/etc/matrixci/workflows")

	configContent := `
forge:
  token: file-token

api:
  keys:
    - test-api-key
`

	cfg, err := config.Load(writeConfig(t, configContent))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	// Verify environment variables override config
	if cfg.Server.Port != 9090 {
		t.Errorf("Expected port 9090 from env var, got %d", cfg.Server.Port)
	}
	if cfg.Forge.Token != "env-token" {
		t.Errorf("Expected forge token from env var, got %s", cfg.Forge.Token)
	}
	if cfg.Workflows.Dir != "/etc/matrixci/workflows" {
		t.Errorf("Expected workflows dir from env var, got %s", cfg.Workflows.Dir)
	}
}

func TestGetLogLevel(t *testing.T) {
	// Default log level
	os.Unsetenv("MATRIXCI_LOG_LEVEL")
	if level := config.GetLogLevel(); level != "info" {
		t.Errorf("Expected default log level info, got %s", level)
	}

	// Valid log levels
	for _, validLevel := range []string{"debug", "info", "warn", "error"} {
		t.Setenv("MATRIXCI_LOG_LEVEL", validLevel)
		if lvl := config.GetLogLevel(); lvl != validLevel {
			t.Errorf("Expected log level %s, got %s", validLevel, lvl)
		}
	}

	// Invalid log level falls back to info
	t.Setenv("MATRIXCI_LOG_LEVEL", "invalid")
	if level := config.GetLogLevel(); level != "info" {
		t.Errorf("Expected log level info for invalid value, got %s", level)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name          string
		configContent string
		expectError   bool
		errorContains string
	}{
		{
			name: "Valid config",
			configContent: `
forge:
  token: test-token
api:
  keys:
    - test-api-key
`,
			expectError: false,
		},
		{
			name: "Invalid port",
			configContent: `
server:
  port: 70000
forge:
  report_status: false
api:
  keys:
    - test-api-key
`,
			expectError:   true,
			errorContains: "invalid server.port",
		},
		{
			name: "Missing forge token with status reporting enabled",
			configContent: `
api:
  keys:
    - test-api-key
`,
			expectError:   true,
			errorContains: "forge.token is required",
		},
		{
			name: "Upload URL without API URL",
			configContent: `
forge:
  report_status: false
  upload_url: https://uploads.example.com
api:
  keys:
    - test-api-key
`,
			expectError:   true,
			errorContains: "forge.upload_url requires forge.api_url",
		},
		{
			name: "Negative max_concurrent",
			configContent: `
forge:
  report_status: false
runner:
  max_concurrent: -1
api:
  keys:
    - test-api-key
`,
			expectError:   true,
			errorContains: "invalid runner.max_concurrent",
		},
		{
			name: "Negative job_timeout",
			configContent: `
forge:
  report_status: false
runner:
  job_timeout: -5
api:
  keys:
    - test-api-key
`,
			expectError:   true,
			errorContains: "invalid runner.job_timeout",
		},
		{
			name: "Missing API keys",
			configContent: `
forge:
  report_status: false
api:
  keys: []
`,
			expectError:   true,
			errorContains: "at least one api.key is required",
		},
		{
			name: "Empty API key",
			configContent: `
forge:
  report_status: false
api:
  keys:
    - ""
`,
			expectError:   true,
			errorContains: "cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := config.Load(writeConfig(t, tt.configContent))
			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorContains != "" && !strings.Contains(err.Error(), tt.errorContains) {
					t.Errorf("Expected error to contain %q, got %q", tt.errorContains, err.Error())
				}
			} else {
				if err != nil {
					t.Errorf("Unexpected error: %v", err)
				}
				if cfg == nil {
					t.Error("Config should not be nil")
				}
			}
		})
	}
}
