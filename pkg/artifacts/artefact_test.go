package artifacts_test

import (
	"context"
	"strings"
	"testing"

	"github.com/buildcoprojects/signalhub/pkg/artifacts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutArtefact_ContentAddressed(t *testing.T) {
	ctx := context.Background()
	s := artifacts.NewMemoryStore()

	h1, err := artifacts.PutArtefact(ctx, s, "report.pdf", []byte("hello"), "application/pdf")
	require.NoError(t, err)
	h2, err := artifacts.PutArtefact(ctx, s, "report.pdf", []byte("hello"), "application/pdf")
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Equal(t, 1, s.Len())
	assert.True(t, strings.HasPrefix(h1.ContentHash, "sha256:"))
	assert.True(t, strings.HasSuffix(h1.Key, "_report.pdf"))
	assert.Equal(t, int64(5), h1.SizeBytes)

	h3, err := artifacts.PutArtefact(ctx, s, "report.pdf", []byte("other"), "application/pdf")
	require.NoError(t, err)
	assert.NotEqual(t, h1.Key, h3.Key)
}

func TestPutArtefact_SanitizesName(t *testing.T) {
	ctx := context.Background()
	s := artifacts.NewMemoryStore()

	h, err := artifacts.PutArtefact(ctx, s, "../../etc/pass wd", []byte("x"), "")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(h.Key, "_pass_wd"), h.Key)
	assert.Equal(t, "application/octet-stream", h.ContentType)
}

func TestLoadArtefact(t *testing.T) {
	ctx := context.Background()
	s := artifacts.NewMemoryStore()

	h, err := artifacts.PutArtefact(ctx, s, "notes.txt", []byte("abc"), "text/plain")
	require.NoError(t, err)

	got, data, err := artifacts.LoadArtefact(ctx, s, h.Key)
	require.NoError(t, err)
	assert.Equal(t, h, got)
	assert.Equal(t, "abc", string(data))
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "artefact", artifacts.SanitizeName(""))
	assert.Equal(t, "artefact", artifacts.SanitizeName("..."))
	assert.Equal(t, "a.txt", artifacts.SanitizeName(`C:\\tmp\\a.txt`))
}
