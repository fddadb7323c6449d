// Package store defines the persistence boundary the crawling core depends
// on. The on-disk/cloud storage driver (file layout, JSON encoding) is an
// external collaborator; this package only fixes the contract.
package store

import "context"

// StateStore persists opaque keyed records: session snapshots, request-list
// progress, request-queue contents. Each persistence target uses a distinct
// key. Implementations decide format and durability; the crawling core only
// ever talks to this interface.
type StateStore interface {
	// Load unmarshals the record at key into v and reports whether it
	// existed. v must be a pointer.
	Load(ctx context.Context, key string, v any) (bool, error)

	// Save persists v under key, replacing any prior value.
	Save(ctx context.Context, key string, v any) error

	// Delete removes the record at key. Deleting a missing key is not an
	// error.
	Delete(ctx context.Context, key string) error
}
