// Package config loads the YAML configuration file that drives the
// watcher, storage engine, and API server.
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// WatchConfig controls the filesystem observer.
type WatchConfig struct {
	Roots      []string `yaml:"roots" json:"roots"`
	Extensions []string `yaml:"extensions" json:"extensions"`
	DebounceMS int      `yaml:"debounce_ms" json:"debounce_ms"`
	Mode       string   `yaml:"mode" json:"mode"` // "polling", "push", or "auto"
	PollMS     int      `yaml:"poll_ms" json:"poll_ms"`
}

// StorageConfig controls the SQLite-backed store.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path" json:"database_path"`
}

// APIConfig controls the JSON-RPC HTTP surface.
type APIConfig struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`
}

// EmbeddingConfig controls which embedding provider is used and its cache.
type EmbeddingConfig struct {
	Model     string `yaml:"model" json:"model"`
	CacheSize int    `yaml:"cache_size" json:"cache_size"`
}

// Config is the top-level configuration document.
type Config struct {
	Watch     WatchConfig     `yaml:"watch" json:"watch"`
	Storage   StorageConfig   `yaml:"storage" json:"storage"`
	API       APIConfig       `yaml:"api" json:"api"`
	Embedding EmbeddingConfig `yaml:"embedding" json:"embedding"`
}

// Default returns the configuration used when no file is present or a
// section is omitted from one.
func Default() Config {
	return Config{
		Watch: WatchConfig{
			Roots:      []string{"."},
			Extensions: []string{".md", ".markdown"},
			DebounceMS: 500,
			Mode:       "push",
			PollMS:     2000,
		},
		Storage: StorageConfig{
			DatabasePath: "markdownkeeper.db",
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8420,
		},
		Embedding: EmbeddingConfig{
			Model:     "token-hash-v1",
			CacheSize: 1000,
		},
	}
}

// Load reads and parses a YAML config file, filling any missing section
// with its default rather than failing.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var onDisk Config
	if err := yaml.Unmarshal(data, &onDisk); err != nil {
		return Config{}, err
	}

	merge(&cfg, onDisk)
	return cfg, nil
}

// LoadOrDefault loads path if present, else returns Default().
func LoadOrDefault(path string) Config {
	if path == "" {
		return Default()
	}
	if _, err := os.Stat(path); err != nil {
		return Default()
	}
	cfg, err := Load(path)
	if err != nil {
		return Default()
	}
	return cfg
}

func merge(dst *Config, src Config) {
	if len(src.Watch.Roots) > 0 {
		dst.Watch.Roots = src.Watch.Roots
	}
	if len(src.Watch.Extensions) > 0 {
		dst.Watch.Extensions = src.Watch.Extensions
	}
	if src.Watch.DebounceMS > 0 {
		dst.Watch.DebounceMS = src.Watch.DebounceMS
	}
	if src.Watch.Mode != "" {
		dst.Watch.Mode = src.Watch.Mode
	}
	if src.Watch.PollMS > 0 {
		dst.Watch.PollMS = src.Watch.PollMS
	}
	if src.Storage.DatabasePath != "" {
		dst.Storage.DatabasePath = src.Storage.DatabasePath
	}
	if src.API.Host != "" {
		dst.API.Host = src.API.Host
	}
	if src.API.Port != 0 {
		dst.API.Port = src.API.Port
	}
	if src.Embedding.Model != "" {
		dst.Embedding.Model = src.Embedding.Model
	}
	if src.Embedding.CacheSize != 0 {
		dst.Embedding.CacheSize = src.Embedding.CacheSize
	}
}
