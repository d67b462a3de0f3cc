// Package store provides the persistence backends behind the session
// manager. A Store moves opaque byte values in and out of external storage;
// encoding state trees is the caller's concern.
package store

import "context"

// Entry is a key-value pair. Keys are /-separated paths and values are raw
// bytes.
type Entry struct {
	Key   string
	Value []byte
}

// Store translates between external storage and a flat key-value namespace.
// Implementations are stateless: they perform I/O on each call without
// caching. All methods are safe for concurrent use with distinct keys.
type Store interface {
	// List returns all available keys in the store.
	List(ctx context.Context) ([]string, error)
	// Load retrieves entries for the specified keys.
	Load(ctx context.Context, keys ...string) ([]Entry, error)
	// Save persists entries to storage, creating or overwriting as needed.
	Save(ctx context.Context, entries ...Entry) error
	// Delete removes entries from storage. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error
}
