// Package config provides configuration loading and structs for the Kioku server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Search    SearchConfig    `yaml:"search"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds paths for the collection snapshot, document database, and uploads.
type StorageConfig struct {
	SnapshotPath string `yaml:"snapshot_path"`
	DatabasePath string `yaml:"database_path"`
	UploadDir    string `yaml:"upload_dir"`
}

// EmbeddingConfig holds embedding provider settings.
// Provider is "auto" (remote when a credential is present, local otherwise),
// "openai", or "local".
type EmbeddingConfig struct {
	Provider        string `yaml:"provider"`
	APIKeyEnv       string `yaml:"api_key_env"`
	Model           string `yaml:"model"`
	MaxChars        int    `yaml:"max_chars"`
	TimeoutSeconds  int    `yaml:"timeout_seconds"`
	LocalDimensions int    `yaml:"local_dimensions"`
	CacheSize       int    `yaml:"cache_size"`
}

// ChunkingConfig holds text chunking settings (in characters).
type ChunkingConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
}

// SearchConfig holds search result limits.
type SearchConfig struct {
	DefaultLimit int `yaml:"default_limit"`
	MaxLimit     int `yaml:"max_limit"`
}

// WatchConfig holds study-folder auto-ingestion settings. Watching is enabled
// when Directory is non-empty. Files under a first-level subdirectory take that
// directory's name as their subject.
type WatchConfig struct {
	Directory      string   `yaml:"directory"`
	TenantID       string   `yaml:"tenant_id"`
	DefaultSubject string   `yaml:"default_subject"`
	Extensions     []string `yaml:"extensions"`
	DebounceMillis int      `yaml:"debounce_millis"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.SnapshotPath = expandPath(cfg.Storage.SnapshotPath, configDir)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.UploadDir = expandPath(cfg.Storage.UploadDir, configDir)
	if cfg.Watch.Directory != "" {
		cfg.Watch.Directory = expandPath(cfg.Watch.Directory, configDir)
	}

	return &cfg, nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
