package artifacts

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-process Store used in lite mode and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]Object
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]Object)}
}

func cloneObject(o Object) Object {
	c := Object{ContentType: o.ContentType, Data: append([]byte(nil), o.Data...)}
	if o.Metadata != nil {
		c.Metadata = maps.Clone(o.Metadata)
	}
	return c
}

func (m *MemoryStore) Get(ctx context.Context, ns Namespace, key string) (*Object, error) {
	p, err := objectPath(ns, key)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.objects[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	c := cloneObject(o)
	return &c, nil
}

func (m *MemoryStore) Set(ctx context.Context, ns Namespace, key string, obj Object) error {
	p, err := objectPath(ns, key)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[p] = cloneObject(obj)
	return nil
}

func (m *MemoryStore) List(ctx context.Context, ns Namespace, prefix string) ([]string, error) {
	if !namespacePattern.MatchString(string(ns)) {
		return nil, fmt.Errorf("%w: namespace %q", ErrInvalidKey, ns)
	}
	root := string(ns) + "/"
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for p := range m.objects {
		key, ok := strings.CutPrefix(p, root)
		if ok && strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryStore) Exists(ctx context.Context, ns Namespace, key string) (bool, error) {
	p, err := objectPath(ns, key)
	if err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[p]
	return ok, nil
}

func (m *MemoryStore) Delete(ctx context.Context, ns Namespace, key string) error {
	p, err := objectPath(ns, key)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, p)
	return nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

// Len returns the number of stored objects.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
