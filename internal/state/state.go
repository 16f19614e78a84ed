// Package state loads and saves the persisted maps a run depends on: source
// health and the seen-identifier store.
//
// Repositories are read once at run start and written once at run end by a
// single goroutine. Overlapping runs against the same state are not guarded.
package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/feeddigest/internal/feed"
	"github.com/JakeFAU/feeddigest/internal/storage"
)

// HealthRepository persists the per-source health map.
type HealthRepository interface {
	LoadHealth(ctx context.Context) (feed.HealthMap, error)
	SaveHealth(ctx context.Context, records feed.HealthMap) error
}

// SeenRepository persists the seen-identifier store.
type SeenRepository interface {
	LoadSeen(ctx context.Context) (feed.SeenStore, error)
	SaveSeen(ctx context.Context, seen feed.SeenStore) error
}

// Repository is both.
type Repository interface {
	HealthRepository
	SeenRepository
}

// BlobRepository keeps each map as a JSON document in a blob store.
type BlobRepository struct {
	store      storage.BlobStore
	healthPath string
	seenPath   string
}

// NewBlobRepository stores state documents at the given paths.
func NewBlobRepository(store storage.BlobStore, healthPath, seenPath string) (*BlobRepository, error) {
	if store == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if healthPath == "" || seenPath == "" {
		return nil, fmt.Errorf("health and seen paths are required")
	}
	return &BlobRepository{store: store, healthPath: healthPath, seenPath: seenPath}, nil
}

// LoadHealth returns an empty map when no document exists yet. A document
// that exists but cannot be decoded is an error.
func (r *BlobRepository) LoadHealth(ctx context.Context) (feed.HealthMap, error) {
	out := feed.HealthMap{}
	if err := r.load(ctx, r.healthPath, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SaveHealth replaces the health document.
func (r *BlobRepository) SaveHealth(ctx context.Context, records feed.HealthMap) error {
	if records == nil {
		records = feed.HealthMap{}
	}
	_, err := storage.WriteJSON(ctx, r.store, r.healthPath, records)
	return err
}

// LoadSeen returns an empty store when no document exists yet.
func (r *BlobRepository) LoadSeen(ctx context.Context) (feed.SeenStore, error) {
	out := feed.SeenStore{}
	if err := r.load(ctx, r.seenPath, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SaveSeen replaces the seen document.
func (r *BlobRepository) SaveSeen(ctx context.Context, seen feed.SeenStore) error {
	if seen == nil {
		seen = feed.SeenStore{}
	}
	_, err := storage.WriteJSON(ctx, r.store, r.seenPath, seen)
	return err
}

func (r *BlobRepository) load(ctx context.Context, path string, v any) error {
	err := storage.ReadJSON(ctx, r.store, path, v)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}
