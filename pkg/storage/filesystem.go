package storage

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// ErrInvalidReference is returned for references escaping the storage root.
var ErrInvalidReference = errors.New("invalid blob reference")

// LocalStorage is a content-addressed blob store on the local filesystem.
// References are slash separated paths relative to the base directory.
type LocalStorage struct {
	baseDir string
}

// NewLocalStorage ensures the base directory exists and returns a handle.
func NewLocalStorage(baseDir string) (*LocalStorage, error) {
	if baseDir == "" {
		baseDir = "./documents"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	return &LocalStorage{baseDir: baseDir}, nil
}

// Digest returns the hex BLAKE2b-256 digest of data.
func Digest(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Store writes data under namespace and returns its reference. Identical
// content in the same namespace maps to the same reference.
func (s *LocalStorage) Store(ctx context.Context, namespace string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", fmt.Errorf("store blob: empty content")
	}
	ref := path.Join(sanitizeNamespace(namespace), Digest(data)+extensionFor(contentType))
	target, err := s.resolve(ref)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("prepare blob directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create blob file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()        //nolint:errcheck
		os.Remove(tmpName) //nolint:errcheck
		return "", fmt.Errorf("write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName) //nolint:errcheck
		return "", fmt.Errorf("close blob: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName) //nolint:errcheck
		return "", fmt.Errorf("commit blob: %w", err)
	}
	return ref, nil
}

// Open returns a read-only handle for the stored blob.
func (s *LocalStorage) Open(ref string) (*os.File, error) {
	target, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(target)
	if err != nil {
		return nil, fmt.Errorf("open blob: %w", err)
	}
	return file, nil
}

// Delete removes a stored blob if present.
func (s *LocalStorage) Delete(ref string) error {
	target, err := s.resolve(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

// Exists reports whether the reference points at a stored blob.
func (s *LocalStorage) Exists(ref string) bool {
	target, err := s.resolve(ref)
	if err != nil {
		return false
	}
	_, err = os.Stat(target)
	return err == nil
}

func (s *LocalStorage) resolve(ref string) (string, error) {
	clean := path.Clean("/" + ref)
	if ref == "" || clean == "/" || strings.Contains(ref, "..") || filepath.IsAbs(ref) {
		return "", ErrInvalidReference
	}
	return filepath.Join(s.baseDir, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}

func sanitizeNamespace(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(raw) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '/':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	ns := strings.Trim(b.String(), "/_")
	if ns == "" {
		return "blobs"
	}
	return ns
}

func extensionFor(contentType string) string {
	switch strings.ToLower(contentType) {
	case "application/pdf":
		return ".pdf"
	default:
		return ".bin"
	}
}
