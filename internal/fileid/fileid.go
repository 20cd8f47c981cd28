// Package fileid derives content identity for uploaded files and builds the
// file references handed to the ingestion pipeline.
package fileid

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hyperjump/kotae/internal/models"
)

const prefix = "sha256:"

// HashReader streams r through sha256 and returns the content hash and byte count.
func HashReader(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", 0, fmt.Errorf("hash content: %w", err)
	}
	return prefix + hex.EncodeToString(h.Sum(nil)), n, nil
}

// HashBytes returns the content hash of b.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return prefix + hex.EncodeToString(sum[:])
}

// FromBytes returns a file reference over an in-memory payload.
func FromBytes(name string, data []byte, uploadedBy string) models.FileRef {
	return models.FileRef{
		Name:        name,
		Size:        int64(len(data)),
		ContentHash: HashBytes(data),
		UploadedBy:  uploadedBy,
		Open: func(context.Context) (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// FromPath hashes the file at path and returns a reference that reopens it on demand.
func FromPath(path string, uploadedBy string) (models.FileRef, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return models.FileRef{}, err
	}
	f, err := os.Open(abs)
	if err != nil {
		return models.FileRef{}, fmt.Errorf("open %s: %w", abs, err)
	}
	defer f.Close()
	hash, size, err := HashReader(f)
	if err != nil {
		return models.FileRef{}, err
	}
	return models.FileRef{
		Name:        filepath.Base(abs),
		Size:        size,
		ContentHash: hash,
		Locator:     abs,
		UploadedBy:  uploadedBy,
		Open: func(context.Context) (io.ReadCloser, error) {
			return os.Open(abs)
		},
	}, nil
}
