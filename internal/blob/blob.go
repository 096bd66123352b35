// Package blob abstracts the durable store that holds snapshot archives.
package blob

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get and Delete when no blob exists for a key.
var ErrNotFound = errors.New("blob not found")

// Store is a flat key/value archive store.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete removes a blob. Deleting a missing key returns ErrNotFound so
	// callers can decide whether that matters; most treat it as success.
	Delete(ctx context.Context, key string) error
}
