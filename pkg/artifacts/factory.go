package artifacts

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/buildcoprojects/signalhub/pkg/config"
)

// StoreType represents the type of storage backend.
type StoreType string

const (
	StoreTypeFS     StoreType = "fs"
	StoreTypeMemory StoreType = "memory"
	StoreTypeS3     StoreType = "s3"
	StoreTypeGCS    StoreType = "gcs"
	StoreTypeSQL    StoreType = "sql"
)

// NewStore builds the primary store for cfg.Type. The sql backend needs its
// driver registered by the binary ("postgres" for DatabaseURL, "sqlite"
// otherwise).
func NewStore(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	storeType := StoreType(cfg.Type)
	if storeType == "" {
		storeType = StoreTypeFS
	}

	switch storeType {
	case StoreTypeFS:
		return NewFileStore(filepath.Join(dataDir(cfg), "store"))
	case StoreTypeMemory:
		return NewMemoryStore(), nil
	case StoreTypeS3:
		return newS3Store(ctx, cfg)
	case StoreTypeGCS:
		return newGCSStore(ctx, cfg)
	case StoreTypeSQL:
		return newSQLStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storeType)
	}
}

// NewFallbackStore builds the minimal-configuration store used as the last
// persistence resort: a local directory that needs no credentials.
func NewFallbackStore(cfg config.StorageConfig) (Store, error) {
	return NewFileStore(filepath.Join(dataDir(cfg), "fallback"))
}

func dataDir(cfg config.StorageConfig) string {
	if cfg.DataDir == "" {
		return "data"
	}
	return cfg.DataDir
}

func newS3Store(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("ARTIFACT_S3_BUCKET is required for S3 storage")
	}
	region := cfg.S3Region
	if region == "" {
		region = "us-east-1"
	}
	return NewS3Store(ctx, S3StoreConfig{
		Bucket:   cfg.S3Bucket,
		Region:   region,
		Endpoint: cfg.S3Endpoint,
		Prefix:   cfg.S3Prefix,
	})
}

func newSQLStore(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	driver, dsn := "postgres", cfg.DatabaseURL
	if dsn == "" {
		dir := dataDir(cfg)
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
		driver, dsn = "sqlite", filepath.Join(dir, "signalhub.db")
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s ping failed: %w", driver, err)
	}
	s := NewSQLStore(db, driver)
	if err := s.Init(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to init %s store: %w", driver, err)
	}
	return s, nil
}
