package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the YAML configuration of the CLI.
type Config struct {
	Models      ModelsConfig      `yaml:"models"`
	Index       IndexConfig       `yaml:"index"`
	Storage     StorageConfig     `yaml:"storage"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
}

type ModelsConfig struct {
	Codebooks    []string `yaml:"codebooks,omitempty"`
	PCA          string   `yaml:"pca,omitempty"`
	PCADimension int      `yaml:"pca_dimension,omitempty"`
	Whitening    bool     `yaml:"whitening,omitempty"`
	Coarse       string   `yaml:"coarse"`
	PQ           string   `yaml:"pq"`
}

type IndexConfig struct {
	Probes int `yaml:"probes"`
}

type StorageConfig struct {
	// Backend is one of the names in backendFactories.
	Backend string      `yaml:"backend"`
	Bolt    BoltConfig  `yaml:"bolt,omitempty"`
	Redis   RedisConfig `yaml:"redis,omitempty"`
	Blob    BlobConfig  `yaml:"blob,omitempty"`
}

type BoltConfig struct {
	Path          string        `yaml:"path"`
	Timeout       time.Duration `yaml:"timeout,omitempty"`
	SyncEachWrite bool          `yaml:"sync_each_write,omitempty"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password,omitempty"`
	DB        int    `yaml:"db,omitempty"`
	KeyPrefix string `yaml:"key_prefix,omitempty"`
	BatchSize int    `yaml:"batch_size,omitempty"`
}

type BlobConfig struct {
	// Store is one of the names in storeFactories.
	Store       string      `yaml:"store"`
	Prefix      string      `yaml:"prefix,omitempty"`
	Compression string      `yaml:"compression,omitempty"`
	Dir         string      `yaml:"dir,omitempty"`
	S3          S3Config    `yaml:"s3,omitempty"`
	MinIO       MinIOConfig `yaml:"minio,omitempty"`
}

type S3Config struct {
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix,omitempty"`
	Region   string `yaml:"region,omitempty"`
	Endpoint string `yaml:"endpoint,omitempty"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Secure    bool   `yaml:"secure,omitempty"`
	Region    string `yaml:"region,omitempty"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix,omitempty"`
}

type PipelineConfig struct {
	Workers           int     `yaml:"workers,omitempty"`
	MaxOutstanding    int     `yaml:"max_outstanding,omitempty"`
	MaxPixels         int     `yaml:"max_pixels,omitempty"`
	MaxSourcePixels   int     `yaml:"max_source_pixels,omitempty"`
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty"`
	MaxRetries        uint64  `yaml:"max_retries,omitempty"`
}

type MaintenanceConfig struct {
	SyncInterval  time.Duration `yaml:"sync_interval,omitempty"`
	PurgeSchedule string        `yaml:"purge_schedule,omitempty"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace,omitempty"`
}

// DefaultConfig returns a configuration with an in-memory backend and no models.
func DefaultConfig() *Config {
	return &Config{
		Index:   IndexConfig{Probes: 8},
		Storage: StorageConfig{Backend: "memory"},
		Maintenance: MaintenanceConfig{
			ShutdownGrace: 10 * time.Second,
		},
	}
}

// LoadConfig reads path on top of DefaultConfig. An empty path yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes cfg to path as YAML.
func SaveConfig(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate checks the parts of the configuration that the index needs.
// Model files are checked when they are loaded.
func (c *Config) Validate() error {
	var errs []error
	if c.Index.Probes <= 0 {
		errs = append(errs, fmt.Errorf("index.probes must be positive, got %d", c.Index.Probes))
	}
	if _, ok := backendFactories[c.Storage.Backend]; !ok {
		errs = append(errs, fmt.Errorf("unknown storage.backend %q", c.Storage.Backend))
	}
	switch c.Storage.Backend {
	case "bolt":
		if c.Storage.Bolt.Path == "" {
			errs = append(errs, errors.New("storage.bolt.path is required"))
		}
	case "redis":
		if c.Storage.Redis.Addr == "" {
			errs = append(errs, errors.New("storage.redis.addr is required"))
		}
	case "blob":
		if _, ok := storeFactories[c.Storage.Blob.Store]; !ok {
			errs = append(errs, fmt.Errorf("unknown storage.blob.store %q", c.Storage.Blob.Store))
		}
	}
	if c.Pipeline.Workers < 0 || c.Pipeline.MaxOutstanding < 0 {
		errs = append(errs, errors.New("pipeline sizes must not be negative"))
	}
	if c.Maintenance.SyncInterval < 0 {
		errs = append(errs, errors.New("maintenance.sync_interval must not be negative"))
	}
	return errors.Join(errs...)
}
