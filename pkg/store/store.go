// Package store provides the durable, TTL-backed key-value persistence used
// for conversation state and analytics blobs.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrKeyNotFound is returned by Get for missing keys.
var ErrKeyNotFound = errors.New("store: key not found")

// Store is durable TTL-backed key-value persistence. Values are opaque JSON
// blobs keyed by entity id (conversation, analytics).
type Store interface {
	// Get returns the value for key, or ErrKeyNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set writes value under key. A zero ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Keys returns all keys with the given prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
	// Close releases the underlying connection.
	Close() error
}
