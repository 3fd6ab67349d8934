// Package store defines the shared mutable substrate the coordination
// layer runs on: a keyed blob store visible to multiple independent
// processes, with asynchronous best-effort change notification and no
// atomicity beyond single-key reads and writes. Callers must not assume
// ordering between a local write and a remote notification; the advisory
// lock layer is the only serialization mechanism on top of this.
package store

import (
	"context"
	"errors"
)

var ErrKeyNotFound = errors.New("key not found")

// SharedStateStore is the pluggable backend: an in-process map for tests
// and a redis-backed implementation for real multi-process deployments.
type SharedStateStore interface {
	// Get returns the value for key, or ErrKeyNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set writes the value and triggers change notification. Visibility to
	// sibling processes is eventual.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes the key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Subscribe registers fn to be called when key changes. Delivery is
	// best-effort and carries no payload; subscribers re-read the key.
	// The returned function unregisters the subscriber.
	Subscribe(key string, fn func(key string)) (unsubscribe func())
}
