// Package config loads the AmnesiaDB configuration with the usual
// precedence: explicit file, environment overrides, defaults.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/checktor/amnesiadb/core"
	"github.com/checktor/amnesiadb/persistence"
)

// Config represents the complete AmnesiaDB configuration
type Config struct {
	// Server configuration
	Server ServerConfig `yaml:"server" json:"server"`

	// Persistence configuration
	Persistence persistence.PersistenceConfig `yaml:"persistence" json:"persistence"`

	// Index configuration
	Index IndexConfig `yaml:"index" json:"index"`

	// Clustering configuration
	Clustering ClusteringConfig `yaml:"clustering" json:"clustering"`
}

// ServerConfig contains server-related configuration
type ServerConfig struct {
	Host            string        `yaml:"host" json:"host"`
	Port            int           `yaml:"port" json:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// IndexConfig contains the retrieval structure configuration
type IndexConfig struct {
	// Type selects the candidate structure: "lsh" or "flat"
	Type string `yaml:"type" json:"type"`

	// Params are the LSH tunables (L, k, bucket width, seed)
	Params core.IndexParams `yaml:"params" json:"params"`
}

// ClusteringConfig contains the identity-grouping configuration
type ClusteringConfig struct {
	// DistanceThreshold is the maximum distance between two
	// detections of the same face
	DistanceThreshold float32 `yaml:"distance_threshold" json:"distance_threshold"`

	// MaxIterations bounds label propagation passes
	MaxIterations int `yaml:"max_iterations" json:"max_iterations"`

	// Seed drives the randomized visit order
	Seed int64 `yaml:"seed" json:"seed"`
}

// LoadConfig loads configuration with the following precedence:
// 1. Explicit config file path
// 2. ~/.amnesiadb.yml
// 3. Environment variables
// 4. Default values
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	// If no config path specified, try default location
	if configPath == "" {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			configPath = filepath.Join(homeDir, ".amnesiadb.yml")
		}
	}

	// Load from file if it exists
	if configPath != "" {
		if err := loadConfigFromFile(configPath, config); err != nil {
			// Only return error if file exists but can't be read
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
			}
		}
	}

	// Override with environment variables
	loadConfigFromEnv(config)

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// loadConfigFromFile loads configuration from a YAML file
func loadConfigFromFile(path string, config *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, config)
}

// loadConfigFromEnv loads configuration from environment variables
func loadConfigFromEnv(config *Config) {
	if host := os.Getenv("AMNESIADB_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("AMNESIADB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil && p > 0 && p < 65536 {
			config.Server.Port = p
		}
	}

	if backend := os.Getenv("AMNESIADB_PERSISTENCE_BACKEND"); backend != "" {
		config.Persistence.Type = persistence.PersistenceType(backend)
	}
	if path := os.Getenv("AMNESIADB_PERSISTENCE_PATH"); path != "" {
		config.Persistence.Path = path
	}

	if indexType := os.Getenv("AMNESIADB_INDEX_TYPE"); indexType != "" {
		config.Index.Type = indexType
	}
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Persistence: persistence.PersistenceConfig{
			Type: persistence.PersistenceMemory,
			Path: "data/amnesia.db",
		},
		Index: IndexConfig{
			Type:   "lsh",
			Params: core.DefaultIndexParams(),
		},
		Clustering: ClusteringConfig{
			DistanceThreshold: 0.45,
			MaxIterations:     30,
			Seed:              1,
		},
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if err := persistence.ValidateConfig(c.Persistence); err != nil {
		return err
	}

	if c.Index.Type != "lsh" && c.Index.Type != "flat" {
		return fmt.Errorf("invalid index type: %s", c.Index.Type)
	}
	if c.Index.Params.NumTables <= 0 {
		return fmt.Errorf("number of hash tables must be positive, got %d", c.Index.Params.NumTables)
	}
	if c.Index.Params.NumFunctions <= 0 {
		return fmt.Errorf("number of hash functions must be positive, got %d", c.Index.Params.NumFunctions)
	}
	if c.Index.Params.BucketWidth <= 0 {
		return fmt.Errorf("bucket width must be positive, got %f", c.Index.Params.BucketWidth)
	}

	if c.Clustering.DistanceThreshold <= 0 {
		return fmt.Errorf("clustering distance threshold must be positive, got %f", c.Clustering.DistanceThreshold)
	}
	if c.Clustering.MaxIterations <= 0 {
		return fmt.Errorf("clustering max iterations must be positive, got %d", c.Clustering.MaxIterations)
	}

	return nil
}
