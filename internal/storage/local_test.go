package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func writeSource(t *testing.T, content string) string {
	t.Helper()
	srcPath := filepath.Join(t.TempDir(), "run.log.gz")
	if err := os.WriteFile(srcPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}
	return srcPath
}

func TestLocalStorage_UploadOpenDelete(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}

	srcPath := writeSource(t, "hello world")
	ctx := context.Background()
	objectPath := "stage/run.log.gz"

	etag, err := storage.Upload(ctx, srcPath, objectPath)
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if etag == "" {
		t.Error("expected non-empty ETag")
	}

	exists, err := storage.Exists(ctx, objectPath)
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !exists {
		t.Error("expected object to exist")
	}

	rc, err := storage.Open(ctx, objectPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	got, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(got) != "hello world" {
		t.Errorf("content mismatch: got %q, want %q", got, "hello world")
	}

	if err := storage.Delete(ctx, objectPath); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	exists, err = storage.Exists(ctx, objectPath)
	if err != nil {
		t.Fatalf("Exists after delete failed: %v", err)
	}
	if exists {
		t.Error("expected object to not exist after delete")
	}

	// Deleting again is not an error
	if err := storage.Delete(ctx, objectPath); err != nil {
		t.Errorf("second Delete failed: %v", err)
	}
}

func TestLocalStorage_UploadOverwrites(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	ctx := context.Background()

	first, err := storage.Upload(ctx, writeSource(t, "first"), "stage/a.gz")
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	second, err := storage.Upload(ctx, writeSource(t, "second"), "stage/a.gz")
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if first == second {
		t.Error("expected ETag to change with content")
	}

	rc, err := storage.Open(ctx, "stage/a.gz")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	if string(got) != "second" {
		t.Errorf("expected overwritten content, got %q", got)
	}
}

func TestLocalStorage_OpenNotFound(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}

	_, err = storage.Open(context.Background(), "nonexistent/object.gz")
	if err != ErrObjectNotFound {
		t.Errorf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestLocalStorage_ListObjects(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	ctx := context.Background()
	src := writeSource(t, "x")

	for _, p := range []string{"stage/a.gz", "stage/b.gz", "other/c.gz"} {
		if _, err := storage.Upload(ctx, src, p); err != nil {
			t.Fatalf("Upload %s failed: %v", p, err)
		}
	}

	objects, err := storage.ListObjects(ctx, "stage")
	if err != nil {
		t.Fatalf("ListObjects failed: %v", err)
	}
	sort.Strings(objects)
	if len(objects) != 2 || objects[0] != "stage/a.gz" || objects[1] != "stage/b.gz" {
		t.Errorf("unexpected listing: %v", objects)
	}

	objects, err = storage.ListObjects(ctx, "missing")
	if err != nil {
		t.Fatalf("ListObjects on missing prefix failed: %v", err)
	}
	if len(objects) != 0 {
		t.Errorf("expected empty listing, got %v", objects)
	}
}

func TestLocalStorage_CancelledContext(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := storage.Upload(ctx, writeSource(t, "x"), "a.gz"); err == nil {
		t.Error("expected Upload to fail on cancelled context")
	}
}
