// internal/core/ports/objectstore.go
package ports

import (
	"context"

	"strata/internal/core/domain"
)

// ObjectStore is the port for the staging object storage: a blob store
// with atomic replace semantics, listable by prefix.
//
// The two-step contract carries the staging invariant: PutPayload first,
// CommitManifest last. A visible manifest implies a complete, valid
// payload. Both writes must be atomic on every exit path (write-temp-
// then-rename or equivalent); transient faults surface as
// errors.ErrStorageWrite.
type ObjectStore interface {
	// PutPayload writes the serialized batch under key, atomically
	// replacing any previous payload at the same key, and returns the
	// payload's storage location.
	PutPayload(ctx context.Context, key string, payload []byte) (string, error)

	// CommitManifest atomically publishes the manifest for key. It is
	// the final step of staging: after it returns, the staged object is
	// visible and immutable.
	CommitManifest(ctx context.Context, key string, manifest domain.StagedObject) error

	// Manifest returns the committed manifest for key, if one exists.
	Manifest(ctx context.Context, key string) (domain.StagedObject, bool, error)

	// Payload reads back a staged payload by its location.
	Payload(ctx context.Context, location string) ([]byte, error)

	// List returns committed manifest keys under prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}
