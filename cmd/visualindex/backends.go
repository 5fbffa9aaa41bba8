package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/hupe1980/visualindex/blobstore"
	"github.com/hupe1980/visualindex/blobstore/minio"
	"github.com/hupe1980/visualindex/blobstore/s3"
	"github.com/hupe1980/visualindex/storage"
	"github.com/hupe1980/visualindex/storage/blob"
	"github.com/hupe1980/visualindex/storage/bolt"
	"github.com/hupe1980/visualindex/storage/memory"
	"github.com/hupe1980/visualindex/storage/redis"
)

// BackendFactory opens the posting-list backend described by cfg.
type BackendFactory func(ctx context.Context, cfg StorageConfig) (storage.Backend, error)

// StoreFactory opens the blob store behind the blob backend.
type StoreFactory func(ctx context.Context, cfg BlobConfig) (blobstore.BlobStore, error)

var backendFactories = map[string]BackendFactory{
	"memory": func(context.Context, StorageConfig) (storage.Backend, error) {
		return memory.New(), nil
	},
	"bolt": func(_ context.Context, cfg StorageConfig) (storage.Backend, error) {
		return bolt.Open(cfg.Bolt.Path, bolt.Options{
			Timeout:       cfg.Bolt.Timeout,
			SyncEachWrite: cfg.Bolt.SyncEachWrite,
		})
	},
	"redis": func(ctx context.Context, cfg StorageConfig) (storage.Backend, error) {
		return redis.Open(ctx, redis.Options{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
			BatchSize: cfg.Redis.BatchSize,
		})
	},
	"blob": func(ctx context.Context, cfg StorageConfig) (storage.Backend, error) {
		store, err := openStore(ctx, cfg.Blob)
		if err != nil {
			return nil, err
		}
		return blob.Open(ctx, store, blob.Options{
			Prefix:      cfg.Blob.Prefix,
			Compression: cfg.Blob.Compression,
		})
	},
}

var storeFactories = map[string]StoreFactory{
	"local": func(_ context.Context, cfg BlobConfig) (blobstore.BlobStore, error) {
		if cfg.Dir == "" {
			return nil, fmt.Errorf("storage.blob.dir is required for the local store")
		}
		return blobstore.NewLocalStore(cfg.Dir), nil
	},
	"memory": func(context.Context, BlobConfig) (blobstore.BlobStore, error) {
		return blobstore.NewMemoryStore(), nil
	},
	"s3": func(ctx context.Context, cfg BlobConfig) (blobstore.BlobStore, error) {
		var opts []s3.Option
		if cfg.S3.Prefix != "" {
			opts = append(opts, s3.WithPrefix(cfg.S3.Prefix))
		}
		if cfg.S3.Region != "" {
			opts = append(opts, s3.WithRegion(cfg.S3.Region))
		}
		if cfg.S3.Endpoint != "" {
			opts = append(opts, s3.WithEndpoint(cfg.S3.Endpoint))
		}
		return s3.New(ctx, cfg.S3.Bucket, opts...)
	},
	"minio": func(_ context.Context, cfg BlobConfig) (blobstore.BlobStore, error) {
		return minio.New(minio.Config{
			Endpoint:  cfg.MinIO.Endpoint,
			AccessKey: cfg.MinIO.AccessKey,
			SecretKey: cfg.MinIO.SecretKey,
			Secure:    cfg.MinIO.Secure,
			Region:    cfg.MinIO.Region,
			Bucket:    cfg.MinIO.Bucket,
			Prefix:    cfg.MinIO.Prefix,
		})
	},
}

func openBackend(ctx context.Context, cfg StorageConfig) (storage.Backend, error) {
	f, ok := backendFactories[cfg.Backend]
	if !ok {
		return nil, fmt.Errorf("unknown storage backend %q (have %v)", cfg.Backend, names(backendFactories))
	}
	b, err := f(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s backend: %w", cfg.Backend, err)
	}
	return b, nil
}

func openStore(ctx context.Context, cfg BlobConfig) (blobstore.BlobStore, error) {
	f, ok := storeFactories[cfg.Store]
	if !ok {
		return nil, fmt.Errorf("unknown blob store %q (have %v)", cfg.Store, names(storeFactories))
	}
	return f(ctx, cfg)
}

func names[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
