// Package storageadapter defines the single-key-granularity storage
// contract every backend (in-memory, local filesystem, BadgerDB, S3/R2,
// GCS, Azure Blob, browser OPFS) implements, plus a retry decorator that
// wraps any of them with the store's standard backoff policy.
//
// Every backend is crash-safe at single-key granularity: Put and Delete
// either fully land or leave the previous value in place, never a torn
// write.
package storageadapter

import "context"

// StorageAdapter is the minimal key/value contract the rest of the store
// is built on. Keys are opaque UTF-8 strings namespaced by caller
// convention (e.g. "nouns/<type>/<id>", "verbs/<id>", "hnsw/<type>/partition").
type StorageAdapter interface {
	// Get returns the value stored at key, or model.ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put writes value at key, replacing any existing value.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether key has a value.
	Exists(ctx context.Context, key string) (bool, error)

	// ListPrefix returns up to a backend-chosen page of keys starting with
	// prefix, lexicographically ordered, and a cursor to pass back in for
	// the next page. An empty returned cursor means there are no more keys.
	ListPrefix(ctx context.Context, prefix, cursor string) (keys []string, nextCursor string, err error)

	// BatchPut writes every item atomically with respect to any single
	// key (a crash mid-batch may leave a subset applied, but never a
	// partially-written individual value).
	BatchPut(ctx context.Context, items map[string][]byte) error
}
