// Package persistence implements the Persistence Adapter: a
// write-behind store for Session snapshots, keyed by user ID, backed
// by Postgres and guarded by a circuit breaker so a slow or down
// database degrades the adapter instead of the foreground request
// path (spec.md §4.2).
package persistence

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Load when no snapshot exists for a user.
var ErrNotFound = errors.New("persistence: no snapshot for user")

// Store is the Session Registry's view of durable storage. A blob is
// always a full replacement of the previous one — there is no partial
// update, matching model.Snapshot's "whole session" shape.
type Store interface {
	Save(ctx context.Context, userID string, version byte, blob []byte) error
	Load(ctx context.Context, userID string) (version byte, blob []byte, err error)
	Delete(ctx context.Context, userID string) error
	Close()
}
