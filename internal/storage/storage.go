// Package storage provides the object-store adapter used for chunk binaries,
// metadata documents, and the run log. Backends: S3 (production), filesystem
// (single-host deployments), memory (tests).
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get for keys that do not exist. Absent keys are
// an expected outcome, never a generic error; callers branch on errors.Is.
var ErrNotFound = errors.New("storage: object not found")

// ObjectInfo describes one stored object from a List call.
type ObjectInfo struct {
	Key  string
	Size int64
}

// Store is the key/value blob interface every backend implements. All keys
// are POSIX-style forward-slash paths produced by the chunk codec.
type Store interface {
	// Get returns the full object body, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put writes the object, overwriting any existing body at the key.
	Put(ctx context.Context, key string, data []byte) error

	// List returns all objects whose key starts with prefix.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Delete removes the object. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether the key is present without reading the body.
	Exists(ctx context.Context, key string) (bool, error)
}

var (
	_ Store = (*S3Store)(nil)
	_ Store = (*FSStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
