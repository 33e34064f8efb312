package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/buildcoprojects/signalhub/pkg/contracts"
)

const hashKeyLen = 16

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ContentHash returns the "sha256:<hex>" digest of data.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// SanitizeName reduces an uploaded file name to a safe base name.
func SanitizeName(name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	name = strings.Trim(unsafeName.ReplaceAllString(name, "_"), "._")
	if name == "" || name == "/" {
		return "artefact"
	}
	if len(name) > 128 {
		name = name[len(name)-128:]
	}
	return name
}

// ArtefactKey derives the storage key for data named name. Identical content
// under the same name always maps to the same key.
func ArtefactKey(hash, name string) string {
	hexPart := strings.TrimPrefix(hash, "sha256:")
	if len(hexPart) > hashKeyLen {
		hexPart = hexPart[:hashKeyLen]
	}
	return hexPart + "_" + SanitizeName(name)
}

// PutArtefact stores data in the artefact namespace, skipping the write when
// the same content is already present under the same name.
func PutArtefact(ctx context.Context, s Store, name string, data []byte, contentType string) (contracts.StoredArtifactHandle, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	hash := ContentHash(data)
	h := contracts.StoredArtifactHandle{
		Key:         ArtefactKey(hash, name),
		Name:        SanitizeName(name),
		ContentHash: hash,
		ContentType: contentType,
		SizeBytes:   int64(len(data)),
	}

	exists, err := s.Exists(ctx, NamespaceArtifacts, h.Key)
	if err != nil {
		return contracts.StoredArtifactHandle{}, fmt.Errorf("check artefact %s: %w", h.Key, err)
	}
	if exists {
		return h, nil
	}
	err = s.Set(ctx, NamespaceArtifacts, h.Key, Object{
		Data:        data,
		ContentType: contentType,
		Metadata: map[string]string{
			"name":        h.Name,
			"contentHash": hash,
			"size":        strconv.FormatInt(h.SizeBytes, 10),
		},
	})
	if err != nil {
		return contracts.StoredArtifactHandle{}, fmt.Errorf("store artefact %s: %w", h.Key, err)
	}
	return h, nil
}

// LoadArtefact returns the handle and bytes of a previously stored artefact.
func LoadArtefact(ctx context.Context, s Store, key string) (contracts.StoredArtifactHandle, []byte, error) {
	obj, err := s.Get(ctx, NamespaceArtifacts, key)
	if err != nil {
		return contracts.StoredArtifactHandle{}, nil, err
	}
	name := obj.Metadata["name"]
	if name == "" {
		if _, after, ok := strings.Cut(key, "_"); ok {
			name = after
		}
	}
	ct := obj.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	return contracts.StoredArtifactHandle{
		Key:         key,
		Name:        name,
		ContentHash: ContentHash(obj.Data),
		ContentType: ct,
		SizeBytes:   int64(len(obj.Data)),
	}, obj.Data, nil
}
