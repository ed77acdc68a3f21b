// Package storage abstracts the archival object store for processed binaries.
package storage

import (
	"context"
	"errors"
)

// ErrPathTraversal indicates a storage key attempted directory traversal.
var ErrPathTraversal = errors.New("path traversal is forbidden")

// ObjectStore persists processed binaries. Archival is best-effort: callers
// log failures and continue.
type ObjectStore interface {
	// Store writes data under key with the given content type and returns a
	// consumer-accessible URL for it.
	Store(ctx context.Context, key, contentType string, data []byte) (string, error)
	// Delete removes the object at key.
	Delete(ctx context.Context, key string) error
}
