package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/harlier/metamove/internal/domain"
)

// Instance holds connection settings for one analytics server.
type Instance struct {
	URL          string `yaml:"url"`
	APIKey       string `yaml:"api_key"`
	SessionToken string `yaml:"session_token"`
}

// Config represents the application configuration
type Config struct {
	Source Instance `yaml:"source"`
	Target Instance `yaml:"target"`

	// BundleDir is where export bundles are written and read.
	BundleDir string `yaml:"bundle_dir"`
	// DBMapPath points at the database mapping JSON file.
	DBMapPath string `yaml:"db_map_path"`
	// StatePath is the sqlite file tracking run history and ID maps.
	StatePath string `yaml:"state_path"`

	// Conflict is the default conflict strategy: skip, overwrite or rename.
	Conflict string `yaml:"conflict"`

	MaxRetries int     `yaml:"max_retries"`
	RateLimit  float64 `yaml:"rate_limit"`
	LogLevel   string  `yaml:"log_level"`
}

// Load loads configuration from multiple sources with precedence:
// 1. Environment variables
// 2. ./.env.local (dotenv) - walks up parent directories to find it
// 3. ~/.config/metamove/config.yaml (YAML)
func Load() (*Config, error) {
	cfg := &Config{
		BundleDir:  "export",
		DBMapPath:  "db-map.json",
		Conflict:   "skip",
		MaxRetries: 3,
		RateLimit:  10,
		LogLevel:   "info",
	}

	// Load .env.local if it exists (walking up parent directories)
	if envPath := findEnvLocal(); envPath != "" {
		_ = godotenv.Load(envPath)
	}

	// Load ~/.config/metamove/config.yaml if it exists
	if err := loadYAMLConfig(cfg); err != nil {
		// YAML config is optional, so we don't fail if it doesn't exist
	}

	// Override with environment variables
	if v := os.Getenv("METAMOVE_SOURCE_URL"); v != "" {
		cfg.Source.URL = v
	}
	if v := getEnvOrFile("METAMOVE_SOURCE_API_KEY", "METAMOVE_SOURCE_API_KEY_FILE"); v != "" {
		cfg.Source.APIKey = v
	}
	if v := os.Getenv("METAMOVE_SOURCE_SESSION"); v != "" {
		cfg.Source.SessionToken = v
	}
	if v := os.Getenv("METAMOVE_TARGET_URL"); v != "" {
		cfg.Target.URL = v
	}
	if v := getEnvOrFile("METAMOVE_TARGET_API_KEY", "METAMOVE_TARGET_API_KEY_FILE"); v != "" {
		cfg.Target.APIKey = v
	}
	if v := os.Getenv("METAMOVE_TARGET_SESSION"); v != "" {
		cfg.Target.SessionToken = v
	}
	if v := os.Getenv("METAMOVE_BUNDLE_DIR"); v != "" {
		cfg.BundleDir = v
	}
	if v := os.Getenv("METAMOVE_DB_MAP"); v != "" {
		cfg.DBMapPath = v
	}
	if v := os.Getenv("METAMOVE_STATE_PATH"); v != "" {
		cfg.StatePath = v
	}
	if v := os.Getenv("METAMOVE_CONFLICT"); v != "" {
		cfg.Conflict = v
	}
	if v := os.Getenv("METAMOVE_MAX_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid METAMOVE_MAX_RETRIES %q: %w", v, err)
		}
		cfg.MaxRetries = n
	}
	if v := os.Getenv("METAMOVE_RATE_LIMIT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid METAMOVE_RATE_LIMIT %q: %w", v, err)
		}
		cfg.RateLimit = f
	}
	if v := os.Getenv("METAMOVE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	// Set defaults if not configured
	if cfg.StatePath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.StatePath = filepath.Join(homeDir, ".local", "share", "metamove", "metamove.db")
	}

	return cfg, nil
}

// loadYAMLConfig loads configuration from ~/.config/metamove/config.yaml
func loadYAMLConfig(cfg *Config) error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return err
	}

	configPath := filepath.Join(homeDir, ".config", "metamove", "config.yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

// getEnvOrFile gets an environment variable value, or reads it from a file
// if the _FILE variant is set
func getEnvOrFile(envVar, fileVar string) string {
	if val := os.Getenv(envVar); val != "" {
		return val
	}

	if filePath := os.Getenv(fileVar); filePath != "" {
		data, err := os.ReadFile(filePath)
		if err == nil {
			return string(data)
		}
	}

	return ""
}

// findEnvLocal searches for .env.local starting from cwd and walking up
// parent directories. Stops at the user's home directory.
// Returns the path to .env.local if found, empty string otherwise.
func findEnvLocal() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		// If we can't get home dir, just check cwd
		if _, err := os.Stat(".env.local"); err == nil {
			return ".env.local"
		}
		return ""
	}

	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	// Clean paths for reliable comparison
	homeDir = filepath.Clean(homeDir)
	dir := filepath.Clean(cwd)

	for {
		envPath := filepath.Join(dir, ".env.local")
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}

		// Stop if we've reached home directory
		if dir == homeDir {
			break
		}

		// Get parent directory
		parent := filepath.Dir(dir)

		// Stop if we've reached the filesystem root
		if parent == dir {
			break
		}

		dir = parent
	}

	return ""
}

// Validate checks the settings a migration run cannot proceed without.
func (c *Config) Validate(needSource, needTarget bool) error {
	if needSource && c.Source.URL == "" {
		return fmt.Errorf("source URL not configured (set METAMOVE_SOURCE_URL)")
	}
	if needTarget && c.Target.URL == "" {
		return fmt.Errorf("target URL not configured (set METAMOVE_TARGET_URL)")
	}
	if err := domain.ValidateConflictStrategy(c.Conflict); err != nil {
		return err
	}
	return nil
}
