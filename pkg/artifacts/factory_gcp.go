//go:build gcp

package artifacts

import (
	"context"
	"fmt"

	"github.com/buildcoprojects/signalhub/pkg/config"
)

func newGCSStore(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	if cfg.GCSBucket == "" {
		return nil, fmt.Errorf("ARTIFACT_GCS_BUCKET is required for GCS storage")
	}
	return NewGCSStore(ctx, GCSStoreConfig{
		Bucket: cfg.GCSBucket,
		Prefix: cfg.GCSPrefix,
	})
}
