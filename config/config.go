package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"launchpad/types"
)

const (
	RuntimeExec   = "exec"
	RuntimeDocker = "docker"

	defaultJWTSecret = "change-me"
)

// Config holds the application configuration
type Config struct {
	APIServerPort   string                 `json:"api_server_port" yaml:"api_server_port"`
	ProjectsDir     string                 `json:"projects_dir" yaml:"projects_dir"`
	DatabasePath    string                 `json:"database_path" yaml:"database_path"`
	ErrorLogPath    string                 `json:"error_log_path" yaml:"error_log_path"`
	LogLevel        string                 `json:"log_level" yaml:"log_level"`
	JWTSecret       string                 `json:"jwt_secret" yaml:"jwt_secret"`
	TokenTTL        int                    `json:"token_ttl" yaml:"token_ttl"`                 // seconds
	StopGracePeriod int                    `json:"stop_grace_period" yaml:"stop_grace_period"` // seconds
	Runtime         string                 `json:"runtime" yaml:"runtime"`                     // "exec" or "docker"
	NPMPath         string                 `json:"npm_path" yaml:"npm_path"`
	DockerImage     string                 `json:"docker_image" yaml:"docker_image"`
	CloneDepth      int                    `json:"clone_depth" yaml:"clone_depth"`
	GitToken        string                 `json:"git_token" yaml:"git_token"`
	ServerAddress   string                 `json:"server_address" yaml:"server_address"`
	Cloudflare      types.CloudflareConfig `json:"cloudflare" yaml:"cloudflare"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		APIServerPort:   ":3000",
		ProjectsDir:     "projects",
		DatabasePath:    "database.db",
		ErrorLogPath:    "error.log",
		LogLevel:        "info",
		JWTSecret:       defaultJWTSecret,
		TokenTTL:        3600, // 1 hour
		StopGracePeriod: 10,
		Runtime:         RuntimeExec,
		NPMPath:         "npm",
		DockerImage:     "node:20-alpine",
		CloneDepth:      0,
		ServerAddress:   "localhost",
		Cloudflare: types.CloudflareConfig{
			Enabled:      false,
			AutoGenerate: true,
		},
	}
}

// LoadConfig loads configuration from a file or environment variables
func LoadConfig(configPath string) (Config, error) {
	config := DefaultConfig()

	if configPath != "" {
		if err := loadFromFile(&config, configPath); err != nil {
			return config, err
		}
	}

	overrideFromEnv(&config)

	if err := config.Validate(); err != nil {
		return config, err
	}
	return config, nil
}

// loadFromFile loads configuration from a JSON or YAML file, chosen by extension
func loadFromFile(config *Config, path string) error {
	bytes, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(bytes, config); err != nil {
			return fmt.Errorf("failed to parse config file: %w", err)
		}
	default:
		if err := json.Unmarshal(bytes, config); err != nil {
			return fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	return nil
}

// overrideFromEnv overrides configuration with environment variables
func overrideFromEnv(config *Config) {
	if val := os.Getenv("LAUNCHPAD_API_PORT"); val != "" {
		config.APIServerPort = ensurePortFormat(val)
	}

	if val := os.Getenv("LAUNCHPAD_PROJECTS_DIR"); val != "" {
		config.ProjectsDir = val
	}

	if val := os.Getenv("LAUNCHPAD_DATABASE_PATH"); val != "" {
		config.DatabasePath = val
	}

	if val := os.Getenv("LAUNCHPAD_ERROR_LOG"); val != "" {
		config.ErrorLogPath = val
	}

	if val := os.Getenv("LAUNCHPAD_LOG_LEVEL"); val != "" {
		config.LogLevel = strings.ToLower(val)
	}

	// JWT_SECRET is what the previous node server read from .env
	if val := os.Getenv("JWT_SECRET"); val != "" {
		config.JWTSecret = val
	}
	if val := os.Getenv("LAUNCHPAD_JWT_SECRET"); val != "" {
		config.JWTSecret = val
	}

	if val := os.Getenv("LAUNCHPAD_TOKEN_TTL"); val != "" {
		if ttl, err := parseEnvInt(val); err == nil {
			config.TokenTTL = ttl
		}
	}

	if val := os.Getenv("LAUNCHPAD_STOP_GRACE_PERIOD"); val != "" {
		if grace, err := parseEnvInt(val); err == nil {
			config.StopGracePeriod = grace
		}
	}

	if val := os.Getenv("LAUNCHPAD_RUNTIME"); val != "" {
		config.Runtime = strings.ToLower(val)
	}

	if val := os.Getenv("LAUNCHPAD_NPM_PATH"); val != "" {
		config.NPMPath = val
	}

	if val := os.Getenv("LAUNCHPAD_DOCKER_IMAGE"); val != "" {
		config.DockerImage = val
	}

	if val := os.Getenv("LAUNCHPAD_CLONE_DEPTH"); val != "" {
		if depth, err := parseEnvInt(val); err == nil {
			config.CloneDepth = depth
		}
	}

	if val := os.Getenv("LAUNCHPAD_GIT_TOKEN"); val != "" {
		config.GitToken = val
	}

	if val := os.Getenv("LAUNCHPAD_SERVER_ADDRESS"); val != "" {
		config.ServerAddress = val
	}

	// Cloudflare settings
	if val := os.Getenv("LAUNCHPAD_CLOUDFLARE_ENABLED"); val != "" {
		config.Cloudflare.Enabled = strings.ToLower(val) == "true"
	}

	if val := os.Getenv("LAUNCHPAD_CLOUDFLARE_API_TOKEN"); val != "" {
		config.Cloudflare.APIToken = val
	}

	if val := os.Getenv("LAUNCHPAD_CLOUDFLARE_ZONE_ID"); val != "" {
		config.Cloudflare.ZoneID = val
	}

	if val := os.Getenv("LAUNCHPAD_CLOUDFLARE_BASE_DOMAIN"); val != "" {
		config.Cloudflare.BaseDomain = val
	}

	if val := os.Getenv("LAUNCHPAD_CLOUDFLARE_AUTO_GENERATE"); val != "" {
		config.Cloudflare.AutoGenerate = strings.ToLower(val) == "true"
	}
}

// Validate checks values that cannot be defaulted sensibly.
func (c Config) Validate() error {
	switch c.Runtime {
	case RuntimeExec, RuntimeDocker:
	default:
		return fmt.Errorf("invalid runtime %q: must be %q or %q", c.Runtime, RuntimeExec, RuntimeDocker)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token_ttl must be positive, got %d", c.TokenTTL)
	}
	if c.StopGracePeriod <= 0 {
		return fmt.Errorf("stop_grace_period must be positive, got %d", c.StopGracePeriod)
	}
	if c.CloneDepth < 0 {
		return fmt.Errorf("clone_depth cannot be negative, got %d", c.CloneDepth)
	}
	if c.ProjectsDir == "" || c.DatabasePath == "" {
		return fmt.Errorf("projects_dir and database_path are required")
	}
	if c.Cloudflare.Enabled && (c.Cloudflare.APIToken == "" || c.Cloudflare.ZoneID == "" || c.Cloudflare.BaseDomain == "") {
		return fmt.Errorf("cloudflare integration requires api_token, zone_id and base_domain")
	}
	return nil
}

// UsesDefaultSecret reports whether the JWT secret was left at its built-in value.
func (c Config) UsesDefaultSecret() bool {
	return c.JWTSecret == defaultJWTSecret
}

// TokenTTLDuration returns TokenTTL as a time.Duration.
func (c Config) TokenTTLDuration() time.Duration {
	return time.Duration(c.TokenTTL) * time.Second
}

// StopGraceDuration returns StopGracePeriod as a time.Duration.
func (c Config) StopGraceDuration() time.Duration {
	return time.Duration(c.StopGracePeriod) * time.Second
}

// ensurePortFormat ensures port is in the format ":8080"
func ensurePortFormat(port string) string {
	port = strings.TrimSpace(port)
	if !strings.HasPrefix(port, ":") && !strings.Contains(port, ":") {
		return ":" + port
	}
	return port
}

// parseEnvInt parses an integer from an environment variable
func parseEnvInt(val string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(val))
}
