package artifacts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// Namespace partitions the store by kind of object.
type Namespace string

const (
	NamespaceSignals   Namespace = "signals"
	NamespaceChat      Namespace = "chat-history"
	NamespaceArtifacts Namespace = "artifacts"
)

var (
	ErrNotFound   = errors.New("object not found")
	ErrInvalidKey = errors.New("invalid object key")
)

var namespacePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// Object is a stored value with its media type and free-form metadata.
type Object struct {
	Data        []byte            `json:"-"`
	ContentType string            `json:"contentType,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Store is a namespaced key/value object store.
type Store interface {
	Get(ctx context.Context, ns Namespace, key string) (*Object, error)
	Set(ctx context.Context, ns Namespace, key string, obj Object) error
	List(ctx context.Context, ns Namespace, prefix string) ([]string, error)
	Exists(ctx context.Context, ns Namespace, key string) (bool, error)
	Delete(ctx context.Context, ns Namespace, key string) error
	// Ping verifies the backend is reachable without side effects.
	Ping(ctx context.Context) error
}

// objectPath validates ns and key and joins them into a slash path.
func objectPath(ns Namespace, key string) (string, error) {
	if !namespacePattern.MatchString(string(ns)) {
		return "", fmt.Errorf("%w: namespace %q", ErrInvalidKey, ns)
	}
	if key == "" || strings.HasPrefix(key, "/") || strings.ContainsAny(key, "\\\x00") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	clean := path.Clean(key)
	if clean != key || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return string(ns) + "/" + clean, nil
}

// GetJSON decodes the object at key into v.
func GetJSON(ctx context.Context, s Store, ns Namespace, key string, v any) error {
	obj, err := s.Get(ctx, ns, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(obj.Data, v); err != nil {
		return fmt.Errorf("decode %s/%s: %w", ns, key, err)
	}
	return nil
}

// SetJSON encodes v and stores it at key.
func SetJSON(ctx context.Context, s Store, ns Namespace, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", ns, key, err)
	}
	return s.Set(ctx, ns, key, Object{Data: data, ContentType: "application/json"})
}

const (
	metaSuffix = ".meta.json"
	tmpSuffix  = ".tmp"
)

// FileStore is a filesystem-backed Store. Each object lives at
// baseDir/<namespace>/<key> with a JSON sidecar for its metadata.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileStore creates a store rooted at baseDir.
func NewFileStore(baseDir string) (*FileStore, error) {
	//nolint:gosec // G301: shared data directory
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to ensure store dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) resolve(ns Namespace, key string) (string, error) {
	p, err := objectPath(ns, key)
	if err != nil {
		return "", err
	}
	if strings.HasSuffix(p, metaSuffix) || strings.HasSuffix(p, tmpSuffix) {
		return "", fmt.Errorf("%w: reserved suffix in %q", ErrInvalidKey, key)
	}
	return filepath.Join(s.baseDir, filepath.FromSlash(p)), nil
}

func (s *FileStore) Get(ctx context.Context, ns Namespace, key string) (*Object, error) {
	p, err := s.resolve(ns, key)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(p) //nolint:gosec // path validated by resolve
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, ns, key)
		}
		return nil, fmt.Errorf("read %s/%s: %w", ns, key, err)
	}
	obj := &Object{Data: data}
	if meta, err := os.ReadFile(p + metaSuffix); err == nil { //nolint:gosec // sidecar of validated path
		_ = json.Unmarshal(meta, obj)
	}
	return obj, nil
}

func (s *FileStore) Set(ctx context.Context, ns Namespace, key string, obj Object) error {
	p, err := s.resolve(ns, key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	//nolint:gosec // G301: shared data directory
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return fmt.Errorf("failed to ensure dir: %w", err)
	}
	if err := writeAtomic(p, obj.Data); err != nil {
		return err
	}
	meta, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	return writeAtomic(p+metaSuffix, meta)
}

// writeAtomic writes to a temp file and renames it over path.
func writeAtomic(path string, data []byte) error {
	tmp := path + tmpSuffix
	//nolint:gosec // G306: readable data files
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write object: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to commit object: %w", err)
	}
	return nil
}

func (s *FileStore) List(ctx context.Context, ns Namespace, prefix string) ([]string, error) {
	if !namespacePattern.MatchString(string(ns)) {
		return nil, fmt.Errorf("%w: namespace %q", ErrInvalidKey, ns)
	}
	root := filepath.Join(s.baseDir, string(ns))

	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() || strings.HasSuffix(p, metaSuffix) || strings.HasSuffix(p, tmpSuffix) {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", ns, err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *FileStore) Exists(ctx context.Context, ns Namespace, key string) (bool, error) {
	p, err := s.resolve(ns, key)
	if err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err = os.Stat(p)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat %s/%s: %w", ns, key, err)
}

func (s *FileStore) Delete(ctx context.Context, ns Namespace, key string) error {
	p, err := s.resolve(ns, key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range []string{p, p + metaSuffix} {
		if err := os.Remove(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to delete object: %w", err)
		}
	}
	return nil
}

func (s *FileStore) Ping(ctx context.Context) error {
	info, err := os.Stat(s.baseDir)
	if err != nil {
		return fmt.Errorf("store dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("store dir %s is not a directory", s.baseDir)
	}
	return nil
}
