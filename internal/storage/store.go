package storage

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"
)

// BlobStore is path-addressed object storage with time-limited read URLs.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, string, error)
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, time.Time, error)
	Remove(ctx context.Context, keys ...string) error
}

const (
	CategoryUploads = "uploads"
	CategoryOutputs = "outputs"
	CategoryBundles = "bundles"
)

// SourceKey is where an uploaded source image lives.
func SourceKey(ownerID, batchID string, position int, filename string) string {
	return path.Join(CategoryUploads, ownerID, batchID, fmt.Sprintf("%02d-%s", position, SafeName(filename)))
}

// OutputKey is where the enhanced result of an item lives.
func OutputKey(ownerID, batchID string, position int, ext string) string {
	return path.Join(CategoryOutputs, ownerID, batchID, fmt.Sprintf("%d%s", position, ext))
}

// BundleKey is the fixed archive location of a batch.
func BundleKey(ownerID, batchID string) string {
	return path.Join(CategoryBundles, ownerID, batchID, "bundle.zip")
}

// OwnerOf returns the owner segment of a namespaced key.
func OwnerOf(key string) string {
	parts := strings.SplitN(strings.TrimLeft(key, "/"), "/", 3)
	if len(parts) < 3 {
		return ""
	}
	return parts[1]
}

// SafeName reduces a client filename to a storage-safe base name.
func SafeName(name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "image"
	}
	if len(out) > 80 {
		out = out[len(out)-80:]
	}
	return out
}
