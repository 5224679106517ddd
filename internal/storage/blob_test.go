package storage

import (
	"context"
	"errors"
	"testing"
)

func TestFSStoreRoundTrip(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore() error = %v", err)
	}
	ctx := context.Background()

	key := Key("site-1", "dep-1", "assets/app.js")
	data := []byte("console.log('hi');")

	if err := store.Put(ctx, key, data); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("Get() = %q, want %q", got, data)
	}
}

func TestFSStoreOverwrite(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore() error = %v", err)
	}
	ctx := context.Background()

	if err := store.Put(ctx, "k", []byte("one")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := store.Put(ctx, "k", []byte("two")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != "two" {
		t.Errorf("Get() after overwrite = %q, want %q", got, "two")
	}
}

func TestFSStoreMissingKey(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore() error = %v", err)
	}

	_, err = store.Get(context.Background(), "missing/key")
	if !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("Get() error = %v, want ErrBlobNotFound", err)
	}
}

func TestFSStoreDeleteIdempotent(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore() error = %v", err)
	}
	ctx := context.Background()

	if err := store.Put(ctx, "k", []byte("x")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := store.Delete(ctx, "k"); err != nil {
		t.Errorf("Delete() error = %v", err)
	}
	if err := store.Delete(ctx, "k"); err != nil {
		t.Errorf("Delete() on missing key error = %v, want nil", err)
	}
	if _, err := store.Get(ctx, "k"); !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrBlobNotFound", err)
	}
}

func TestFSStoreRejectsTraversalKeys(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore() error = %v", err)
	}

	if err := store.Put(context.Background(), "../escape", []byte("x")); err == nil {
		t.Error("Put() with traversal key succeeded, want error")
	}
}

func TestMemStoreRoundTrip(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	if err := store.Put(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	got, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != "v" {
		t.Errorf("Get() = %q, want %q", got, "v")
	}

	if _, err := store.Get(ctx, "other"); !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("Get() missing key error = %v, want ErrBlobNotFound", err)
	}
}
