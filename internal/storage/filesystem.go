package storage

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

var (
	ErrSignatureInvalid = errors.New("storage: invalid signature")
	ErrSignatureExpired = errors.New("storage: signature expired")
)

// FileStore persists objects onto the local filesystem and hands out
// HMAC-signed download URLs served by the API under BaseURL.
type FileStore struct {
	basePath string
	baseURL  string
	key      []byte
	now      func() time.Time
}

// NewFileStore initializes a FileStore rooted at basePath.
func NewFileStore(basePath, baseURL, signingKey string) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	if signingKey == "" {
		return nil, errors.New("storage: signing key is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	return &FileStore{
		basePath: basePath,
		baseURL:  strings.TrimRight(baseURL, "/"),
		key:      []byte(signingKey),
		now:      time.Now,
	}, nil
}

// BasePath returns the configured root directory.
func (s *FileStore) BasePath() string {
	if s == nil {
		return ""
	}
	return s.basePath
}

// Put writes data at key, replacing any previous object.
func (s *FileStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fullPath, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return fmt.Errorf("storage: ensure directory: %w", err)
	}
	tmp := fullPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("storage: write file: %w", err)
	}
	if err := os.Rename(tmp, fullPath); err != nil {
		return fmt.Errorf("storage: publish file: %w", err)
	}
	return nil
}

// Get reads the object at key. The content type is sniffed from the bytes.
func (s *FileStore) Get(ctx context.Context, key string) ([]byte, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	fullPath, err := s.resolve(key)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(fullPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", ErrObjectNotFound
		}
		return nil, "", fmt.Errorf("storage: read file: %w", err)
	}
	return data, mimetype.Detect(data).String(), nil
}

// SignedURL returns BaseURL/key with an expiry and signature query.
func (s *FileStore) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, time.Time, error) {
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", time.Time{}, err
	}
	expires := s.now().Add(ttl).Truncate(time.Second)
	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expires.Unix(), 10))
	q.Set("sig", s.sign(cleanKey, expires.Unix()))
	return s.baseURL + "/" + escapePath(cleanKey) + "?" + q.Encode(), expires, nil
}

// Verify checks a signature produced by SignedURL.
func (s *FileStore) Verify(key, expires, sig string) error {
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return ErrSignatureInvalid
	}
	unix, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return ErrSignatureInvalid
	}
	want := s.sign(cleanKey, unix)
	if !hmac.Equal([]byte(want), []byte(sig)) {
		return ErrSignatureInvalid
	}
	if s.now().Unix() > unix {
		return ErrSignatureExpired
	}
	return nil
}

// Remove deletes objects; missing keys are ignored.
func (s *FileStore) Remove(ctx context.Context, keys ...string) error {
	var errs []error
	for _, key := range keys {
		if key == "" {
			continue
		}
		fullPath, err := s.resolve(key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := os.Remove(fullPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *FileStore) sign(key string, expires int64) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(key))
	mac.Write([]byte{'\n'})
	mac.Write([]byte(strconv.FormatInt(expires, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *FileStore) resolve(key string) (string, error) {
	if s == nil {
		return "", errors.New("storage: no store configured")
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.basePath, filepath.FromSlash(cleanKey)), nil
}

func escapePath(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("storage: key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.ToSlash(filepath.Clean(key))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("storage: invalid key")
	}
	return cleaned, nil
}

var _ BlobStore = (*FileStore)(nil)
