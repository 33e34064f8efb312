//go:build gcp

package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// GCSStore implements Store on a Google Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// GCSStoreConfig holds configuration for GCSStore.
type GCSStoreConfig struct {
	Bucket string
	Prefix string
}

// NewGCSStore creates a new GCS-backed store using application default
// credentials.
func NewGCSStore(ctx context.Context, cfg GCSStoreConfig) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSStore{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *GCSStore) object(ns Namespace, key string) (*storage.ObjectHandle, string, error) {
	p, err := objectPath(ns, key)
	if err != nil {
		return nil, "", err
	}
	name := s.prefix + p
	return s.client.Bucket(s.bucket).Object(name), name, nil
}

func (s *GCSStore) Get(ctx context.Context, ns Namespace, key string) (*Object, error) {
	obj, name, err := s.object(ns, key)
	if err != nil {
		return nil, err
	}
	r, err := obj.NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("gcs get failed for %s: %w", name, err)
	}
	defer func() { _ = r.Close() }()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gcs read failed for %s: %w", name, err)
	}
	out := &Object{Data: data, ContentType: r.Attrs.ContentType}
	if attrs, err := obj.Attrs(ctx); err == nil {
		out.Metadata = attrs.Metadata
	}
	return out, nil
}

func (s *GCSStore) Set(ctx context.Context, ns Namespace, key string, o Object) error {
	obj, name, err := s.object(ns, key)
	if err != nil {
		return err
	}
	w := obj.NewWriter(ctx)
	w.ContentType = o.ContentType
	if w.ContentType == "" {
		w.ContentType = "application/octet-stream"
	}
	w.Metadata = o.Metadata

	if _, err := w.Write(o.Data); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs write failed for %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs close failed for %s: %w", name, err)
	}
	return nil
}

func (s *GCSStore) List(ctx context.Context, ns Namespace, prefix string) ([]string, error) {
	if !namespacePattern.MatchString(string(ns)) {
		return nil, fmt.Errorf("%w: namespace %q", ErrInvalidKey, ns)
	}
	root := s.prefix + string(ns) + "/"
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: root + prefix})
	var keys []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("gcs list failed for %s: %w", root, err)
		}
		keys = append(keys, strings.TrimPrefix(attrs.Name, root))
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *GCSStore) Exists(ctx context.Context, ns Namespace, key string) (bool, error) {
	obj, name, err := s.object(ns, key)
	if err != nil {
		return false, err
	}
	if _, err := obj.Attrs(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("gcs attrs error for %s: %w", name, err)
	}
	return true, nil
}

func (s *GCSStore) Delete(ctx context.Context, ns Namespace, key string) error {
	obj, name, err := s.object(ns, key)
	if err != nil {
		return err
	}
	if err := obj.Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("gcs delete failed for %s: %w", name, err)
	}
	return nil
}

func (s *GCSStore) Ping(ctx context.Context) error {
	if _, err := s.client.Bucket(s.bucket).Attrs(ctx); err != nil {
		return fmt.Errorf("gcs bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Close closes the GCS client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}
