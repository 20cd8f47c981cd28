package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/vector"
)

func fileSize(t *testing.T, path string) int64 {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	return info.Size()
}

func writeBlob(t *testing.T, blobDir, hash, content string) {
	t.Helper()
	p := filepath.Join(blobDir, hash[:2], hash)
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDiskUsageBytes_DataDirLayout(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "kotae.db")
	blobDir := filepath.Join(dir, "blobs")
	vecPath := filepath.Join(dir, "vectors.bin")

	db, err := NewSQLiteStorage(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if err := db.CreateDocument(context.Background(), &models.Document{ID: "d1", ContentHash: "sha256:aa11", Name: "a.txt", State: models.StatePending}); err != nil {
		t.Fatal(err)
	}

	// vector snapshot not written yet
	got, err := DiskUsageBytes(dbPath, blobDir, vecPath)
	if err != nil {
		t.Fatal(err)
	}
	if want := fileSize(t, dbPath); got != want {
		t.Errorf("database only: got %d bytes, want %d", got, want)
	}

	writeBlob(t, blobDir, "aa11", "hello")
	writeBlob(t, blobDir, "bb22", "router manual")

	idx, err := vector.NewMemoryIndex(4, vecPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := idx.Add(context.Background(), []string{"d1_0"}, [][]float32{{1, 0, 0, 0}}); err != nil {
		t.Fatal(err)
	}
	if err := idx.Save(); err != nil {
		t.Fatal(err)
	}
	// dimension, count, id length, id, vector
	if n := fileSize(t, vecPath); n != 4+4+4+4+16 {
		t.Fatalf("vector snapshot is %d bytes", n)
	}

	got, err = DiskUsageBytes(dbPath, blobDir, vecPath)
	if err != nil {
		t.Fatal(err)
	}
	want := fileSize(t, dbPath) + int64(len("hello")+len("router manual")) + fileSize(t, vecPath)
	if got != want {
		t.Errorf("database+blobs+vectors: got %d bytes, want %d", got, want)
	}

	blobs, err := DiskUsageBytes(blobDir)
	if err != nil {
		t.Fatal(err)
	}
	if blobs != 18 {
		t.Errorf("blob dir: got %d bytes, want 18", blobs)
	}
}

func TestDiskUsageBytes_SkipsUnsetAndMissing(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "kotae.db")
	if err := os.WriteFile(db, []byte("12345"), 0o644); err != nil {
		t.Fatal(err)
	}

	// the blob dir and vector path are optional in config
	got, err := DiskUsageBytes(db, "", filepath.Join(dir, "blobs"), filepath.Join(dir, "vectors.bin"))
	if err != nil {
		t.Fatal(err)
	}
	if got != 5 {
		t.Errorf("got %d bytes, want 5", got)
	}

	got, err = DiskUsageBytes()
	if err != nil || got != 0 {
		t.Errorf("no paths: got %d, %v", got, err)
	}
}
