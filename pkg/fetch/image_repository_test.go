// Copyright 2025 Certen Protocol

package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// ============================================================================
// Ensure
// ============================================================================

func TestEnsure_ReturnsExistingFileWithoutDownloading(t *testing.T) {
	dir := t.TempDir()
	localPath := filepath.Join(dir, "dstack-0.5.3")
	if err := os.WriteFile(localPath, []byte("cached"), 0o644); err != nil {
		t.Fatalf("seeding cache file: %v", err)
	}

	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	repo := NewDiskImageRepository(dir, srv.URL)
	got, err := repo.Ensure(context.Background(), "dstack-0.5.3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != localPath {
		t.Errorf("Ensure() = %q, want %q", got, localPath)
	}
	if called {
		t.Errorf("expected no download when the file already exists in cache")
	}
}

func TestEnsure_DownloadsMissingImageAndWritesCacheFile(t *testing.T) {
	dir := t.TempDir()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/dstack-0.5.3.tar.gz" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("tarball-bytes"))
	}))
	defer srv.Close()

	repo := NewDiskImageRepository(dir, srv.URL)
	got, err := repo.Ensure(context.Background(), "dstack-0.5.3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := os.ReadFile(got)
	if err != nil {
		t.Fatalf("reading downloaded file: %v", err)
	}
	if string(data) != "tarball-bytes" {
		t.Errorf("downloaded content = %q, want %q", string(data), "tarball-bytes")
	}
	if _, err := os.Stat(got + ".lock"); !os.IsNotExist(err) {
		t.Errorf("expected the lock file to be removed after download")
	}
}

func TestEnsure_NonOKStatusIsAnError(t *testing.T) {
	dir := t.TempDir()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	repo := NewDiskImageRepository(dir, srv.URL)
	if _, err := repo.Ensure(context.Background(), "missing-image"); err == nil {
		t.Fatal("expected an error for a 404 download, got nil")
	}
}

// ============================================================================
// acquireLock
// ============================================================================

func TestAcquireLock_RemovesStaleLockAndProceeds(t *testing.T) {
	dir := t.TempDir()
	lockPath := filepath.Join(dir, "image.lock")

	if err := os.WriteFile(lockPath, nil, 0o644); err != nil {
		t.Fatalf("seeding lock file: %v", err)
	}
	stale := time.Now().Add(-imageLockStaleAfter - time.Minute)
	if err := os.Chtimes(lockPath, stale, stale); err != nil {
		t.Fatalf("backdating lock file: %v", err)
	}

	repo := &DiskImageRepository{}
	if err := repo.acquireLock(lockPath); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	os.Remove(lockPath)
}
