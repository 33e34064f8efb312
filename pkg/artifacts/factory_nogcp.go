//go:build !gcp

package artifacts

import (
	"context"
	"fmt"

	"github.com/buildcoprojects/signalhub/pkg/config"
)

func newGCSStore(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	return nil, fmt.Errorf("GCS storage is not enabled in this build (use -tags gcp)")
}
