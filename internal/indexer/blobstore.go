package indexer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// BlobStore holds the raw bytes of submitted files until extraction.
type BlobStore interface {
	// Put stores the content under its hash and returns a locator for Open.
	Put(ctx context.Context, contentHash string, r io.Reader) (string, error)
	Open(ctx context.Context, locator string) (io.ReadCloser, error)
	// Remove deletes a stored blob. Locators the store does not own are ignored.
	Remove(ctx context.Context, locator string) error
}

// FileStore is a content-addressed BlobStore on the local filesystem. Open also
// accepts absolute paths outside its directory, so files submitted by path are
// read in place.
type FileStore struct {
	dir string
}

// NewFileStore returns a FileStore rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0750); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &FileStore{dir: abs}, nil
}

// Put writes r to <dir>/<ab>/<hash>. Existing blobs are kept as is.
func (s *FileStore) Put(_ context.Context, contentHash string, r io.Reader) (string, error) {
	name := strings.TrimPrefix(contentHash, "sha256:")
	if len(name) < 3 || strings.ContainsAny(name, `/\.`) {
		return "", fmt.Errorf("invalid content hash %q", contentHash)
	}
	path := filepath.Join(s.dir, name[:2], name)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), name+".*.tmp")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return path, nil
}

// Open opens the blob at locator.
func (s *FileStore) Open(_ context.Context, locator string) (io.ReadCloser, error) {
	if locator == "" {
		return nil, fmt.Errorf("empty locator: %w", os.ErrNotExist)
	}
	return os.Open(locator)
}

// Remove deletes a blob owned by this store.
func (s *FileStore) Remove(_ context.Context, locator string) error {
	if !s.owns(locator) {
		return nil
	}
	if err := os.Remove(locator); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *FileStore) owns(locator string) bool {
	rel, err := filepath.Rel(s.dir, locator)
	return err == nil && !strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel)
}
