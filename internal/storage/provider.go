// Package storage defines the blob store abstraction used for run artifacts
// and state documents, so the pipeline can target the local filesystem, GCS
// or memory interchangeably.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrNotFound is returned by GetObject when the object does not exist.
var ErrNotFound = errors.New("storage: object not found")

// JSONContentType is the content type used for JSON documents.
const JSONContentType = "application/json"

// BlobStore reads and writes whole objects by path.
type BlobStore interface {
	// PutObject replaces the object at path and returns its URI.
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
	// GetObject returns the object's content, or ErrNotFound.
	GetObject(ctx context.Context, path string) ([]byte, error)
}

// Prefixed scopes every path of an underlying store under a prefix.
type Prefixed struct {
	Store  BlobStore
	Prefix string
}

// WithPrefix wraps store so paths are joined under prefix. An empty prefix
// returns store unchanged.
func WithPrefix(store BlobStore, prefix string) BlobStore {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return store
	}
	return &Prefixed{Store: store, Prefix: prefix}
}

// PutObject implements BlobStore.
func (p *Prefixed) PutObject(ctx context.Context, name, contentType string, data []byte) (string, error) {
	return p.Store.PutObject(ctx, path.Join(p.Prefix, name), contentType, data) //nolint:wrapcheck
}

// GetObject implements BlobStore.
func (p *Prefixed) GetObject(ctx context.Context, name string) ([]byte, error) {
	return p.Store.GetObject(ctx, path.Join(p.Prefix, name)) //nolint:wrapcheck
}

// WriteJSON marshals v with indentation and stores it at name.
func WriteJSON(ctx context.Context, store BlobStore, name string, v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", name, err)
	}
	uri, err := store.PutObject(ctx, name, JSONContentType, data)
	if err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	return uri, nil
}

// ReadJSON loads the object at name into v. Missing objects surface as
// ErrNotFound.
func ReadJSON(ctx context.Context, store BlobStore, name string, v any) error {
	data, err := store.GetObject(ctx, name)
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}
