package artifacts_test

import (
	"context"
	"errors"
	"testing"

	"github.com/buildcoprojects/signalhub/pkg/artifacts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]artifacts.Store {
	fs, err := artifacts.NewFileStore(t.TempDir())
	require.NoError(t, err)
	return map[string]artifacts.Store{
		"file":   fs,
		"memory": artifacts.NewMemoryStore(),
	}
}

func TestStore_SetGetListDelete(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			obj := artifacts.Object{
				Data:        []byte(`{"ok":true}`),
				ContentType: "application/json",
				Metadata:    map[string]string{"name": "a.json"},
			}
			require.NoError(t, s.Set(ctx, artifacts.NamespaceSignals, "events", obj))
			require.NoError(t, s.Set(ctx, artifacts.NamespaceSignals, "records/evt_1.json", obj))
			require.NoError(t, s.Set(ctx, artifacts.NamespaceChat, "s1.json", obj))

			got, err := s.Get(ctx, artifacts.NamespaceSignals, "events")
			require.NoError(t, err)
			assert.Equal(t, obj.Data, got.Data)
			assert.Equal(t, "application/json", got.ContentType)
			assert.Equal(t, "a.json", got.Metadata["name"])

			keys, err := s.List(ctx, artifacts.NamespaceSignals, "records/")
			require.NoError(t, err)
			assert.Equal(t, []string{"records/evt_1.json"}, keys)

			all, err := s.List(ctx, artifacts.NamespaceSignals, "")
			require.NoError(t, err)
			assert.Len(t, all, 2)

			ok, err := s.Exists(ctx, artifacts.NamespaceChat, "s1.json")
			require.NoError(t, err)
			assert.True(t, ok)

			require.NoError(t, s.Delete(ctx, artifacts.NamespaceChat, "s1.json"))
			ok, err = s.Exists(ctx, artifacts.NamespaceChat, "s1.json")
			require.NoError(t, err)
			assert.False(t, ok)

			_, err = s.Get(ctx, artifacts.NamespaceChat, "s1.json")
			assert.True(t, errors.Is(err, artifacts.ErrNotFound))

			assert.NoError(t, s.Ping(ctx))
		})
	}
}

func TestStore_ListEmptyNamespace(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			keys, err := s.List(context.Background(), artifacts.NamespaceArtifacts, "")
			require.NoError(t, err)
			assert.Empty(t, keys)
		})
	}
}

func TestStore_RejectsTraversal(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			for _, key := range []string{"../etc/passwd", "/abs", "a/../../b", "", "a\\b"} {
				err := s.Set(ctx, artifacts.NamespaceSignals, key, artifacts.Object{Data: []byte("x")})
				assert.True(t, errors.Is(err, artifacts.ErrInvalidKey), "key %q", key)
			}
			_, err := s.Get(ctx, artifacts.Namespace("../x"), "k")
			assert.True(t, errors.Is(err, artifacts.ErrInvalidKey))
		})
	}
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	s := artifacts.NewMemoryStore()

	in := map[string]int{"a": 1}
	require.NoError(t, artifacts.SetJSON(ctx, s, artifacts.NamespaceSignals, "k.json", in))

	var out map[string]int
	require.NoError(t, artifacts.GetJSON(ctx, s, artifacts.NamespaceSignals, "k.json", &out))
	assert.Equal(t, in, out)
}

func TestMemoryStore_IsolatesCallerBuffers(t *testing.T) {
	ctx := context.Background()
	s := artifacts.NewMemoryStore()
	buf := []byte("abc")
	require.NoError(t, s.Set(ctx, artifacts.NamespaceSignals, "k", artifacts.Object{Data: buf}))
	buf[0] = 'z'

	got, err := s.Get(ctx, artifacts.NamespaceSignals, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got.Data))
}
