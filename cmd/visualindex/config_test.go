package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/visualindex/storage"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, 8, cfg.Index.Probes)
	assert.Equal(t, 10*time.Second, cfg.Maintenance.ShutdownGrace)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
models:
  codebooks: [cb-0.bin, cb-1.bin]
  pca: pca.txt
  pca_dimension: 128
  whitening: true
  coarse: coarse.bin
  pq: pq.bin
storage:
  backend: blob
  blob:
    store: s3
    compression: lz4
    s3:
      bucket: images
      region: eu-central-1
maintenance:
  sync_interval: 30s
  purge_schedule: "0 3 * * *"
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"cb-0.bin", "cb-1.bin"}, cfg.Models.Codebooks)
	assert.True(t, cfg.Models.Whitening)
	assert.Equal(t, 128, cfg.Models.PCADimension)
	assert.Equal(t, "blob", cfg.Storage.Backend)
	assert.Equal(t, "s3", cfg.Storage.Blob.Store)
	assert.Equal(t, "images", cfg.Storage.Blob.S3.Bucket)
	assert.Equal(t, 30*time.Second, cfg.Maintenance.SyncInterval)
	assert.Equal(t, "0 3 * * *", cfg.Maintenance.PurgeSchedule)
	assert.Equal(t, 8, cfg.Index.Probes, "defaults survive partial files")
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("index: [not, a, map]"), 0o644))
	_, err = LoadConfig(path)
	assert.ErrorContains(t, err, "parse config")
}

func TestSaveConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.Storage = StorageConfig{Backend: "bolt", Bolt: BoltConfig{Path: "index.db"}}
	cfg.Maintenance.SyncInterval = time.Minute
	require.NoError(t, SaveConfig(path, cfg))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		msg    string
	}{
		{"probes", func(c *Config) { c.Index.Probes = 0 }, "index.probes"},
		{"backend", func(c *Config) { c.Storage.Backend = "cassandra" }, "unknown storage.backend"},
		{"bolt path", func(c *Config) { c.Storage.Backend = "bolt" }, "storage.bolt.path"},
		{"redis addr", func(c *Config) { c.Storage.Backend = "redis" }, "storage.redis.addr"},
		{"blob store", func(c *Config) { c.Storage.Backend = "blob"; c.Storage.Blob.Store = "ftp" }, "unknown storage.blob.store"},
		{"workers", func(c *Config) { c.Pipeline.Workers = -1 }, "pipeline sizes"},
		{"sync interval", func(c *Config) { c.Maintenance.SyncInterval = -time.Second }, "sync_interval"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tc.msg)
		})
	}
}

func TestOpenBackend(t *testing.T) {
	ctx := context.Background()

	for _, cfg := range []StorageConfig{
		{Backend: "memory"},
		{Backend: "bolt", Bolt: BoltConfig{Path: filepath.Join(t.TempDir(), "index.db")}},
		{Backend: "blob", Blob: BlobConfig{Store: "local", Dir: t.TempDir()}},
		{Backend: "blob", Blob: BlobConfig{Store: "memory", Compression: "none"}},
	} {
		t.Run(cfg.Backend+cfg.Blob.Store, func(t *testing.T) {
			b, err := openBackend(ctx, cfg)
			require.NoError(t, err)
			require.NoError(t, b.PutEntry(ctx, storage.Entry{Cell: 1, Seq: 1, ID: "a", Code: []byte{1, 2}}))
			got, err := b.GetEntries(ctx, 1)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, "a", got[0].ID)
			require.NoError(t, b.Close())
		})
	}

	_, err := openBackend(ctx, StorageConfig{Backend: "cassandra"})
	assert.ErrorContains(t, err, "bolt")

	_, err = openBackend(ctx, StorageConfig{Backend: "blob", Blob: BlobConfig{Store: "local"}})
	assert.ErrorContains(t, err, "storage.blob.dir")
}

func TestNames(t *testing.T) {
	assert.Equal(t, []string{"blob", "bolt", "memory", "redis"}, names(backendFactories))
	assert.Equal(t, []string{"local", "memory", "minio", "s3"}, names(storeFactories))
}
