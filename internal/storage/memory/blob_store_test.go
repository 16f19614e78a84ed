package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/JakeFAU/feeddigest/internal/storage"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "state/seen-guids.json", storage.JSONContentType, payload)
	if err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	if uri != "memory://state/seen-guids.json" {
		t.Fatalf("unexpected uri %s", uri)
	}
	payload[0] = 'C'
	got, err := store.GetObject(context.Background(), "state/seen-guids.json")
	if err != nil {
		t.Fatalf("GetObject() error = %v", err)
	}
	if string(got) != "content" {
		t.Fatalf("expected stored copy to be immutable, got %q", got)
	}
	got[0] = 'X'
	again, _ := store.GetObject(context.Background(), "state/seen-guids.json")
	if string(again) != "content" {
		t.Fatalf("GetObject must return a copy, got %q", again)
	}
	if keys := store.Keys(); len(keys) != 1 || keys[0] != "state/seen-guids.json" {
		t.Fatalf("unexpected keys %v", keys)
	}
}

func TestBlobStoreMissingObject(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	if _, err := store.GetObject(context.Background(), "nope"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.PutObject(context.Background(), "", "", nil); err == nil {
		t.Fatal("expected error for empty path")
	}
}
