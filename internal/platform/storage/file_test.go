package storage

import (
	"context"
	"errors"
	"testing"
)

// TestFileStoreRoundTrip verifies values survive Set/Get across instances
func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}

	ctx := context.Background()
	if err := store.Set(ctx, "MADA_QUERY_CACHE", []byte(`[{"a":1}]`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := store.Get(ctx, "MADA_QUERY_CACHE")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != `[{"a":1}]` {
		t.Errorf("Unexpected value: %s", got)
	}

	// A fresh instance over the same directory sees the value
	reopened, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	got, err = reopened.Get(ctx, "MADA_QUERY_CACHE")
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if string(got) != `[{"a":1}]` {
		t.Errorf("Unexpected value after reopen: %s", got)
	}

	t.Log("✓ Values survive across store instances")
}

// TestFileStoreNotFound verifies missing keys return ErrNotFound
func TestFileStoreNotFound(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}

	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	t.Log("✓ Missing keys return ErrNotFound")
}

// TestFileStoreOverwriteAndRemove verifies overwrite is last-write-wins and Remove is idempotent
func TestFileStoreOverwriteAndRemove(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}

	ctx := context.Background()
	store.Set(ctx, "k", []byte("v1"))
	store.Set(ctx, "k", []byte("v2"))

	got, _ := store.Get(ctx, "k")
	if string(got) != "v2" {
		t.Errorf("Expected overwrite, got %s", got)
	}

	if err := store.Remove(ctx, "k"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := store.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after Remove, got %v", err)
	}

	// Removing an absent key is not an error
	if err := store.Remove(ctx, "k"); err != nil {
		t.Errorf("Expected idempotent Remove, got %v", err)
	}

	t.Log("✓ Overwrite and Remove behave as expected")
}

// TestMemoryStoreIsolation verifies callers cannot mutate stored values
// through the slices they pass in or get back.
func TestMemoryStoreIsolation(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	original := []byte("value")
	store.Set(ctx, "k", original)
	original[0] = 'X'

	got, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "value" {
		t.Errorf("Expected stored copy unaffected, got %s", got)
	}

	got[0] = 'Y'
	again, _ := store.Get(ctx, "k")
	if string(again) != "value" {
		t.Errorf("Expected reads isolated, got %s", again)
	}

	t.Log("✓ Memory store isolates stored bytes from caller slices")
}
