// Package storage provides the durable key→blob boundary the sync core
// persists its cache snapshot and mutation queue into. Values are opaque
// blobs; the store only guarantees get/set/remove by string key.
package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a key has no persisted value.
	ErrNotFound = errors.New("storage: key not found")
)

// Store defines the interface for durable blob storage backends.
type Store interface {
	// Get retrieves the blob stored under key.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set durably stores the blob under key, overwriting any prior value.
	Set(ctx context.Context, key string, value []byte) error

	// Remove deletes the blob stored under key. Removing a missing key
	// is not an error.
	Remove(ctx context.Context, key string) error

	// Close releases backend resources.
	Close() error
}
