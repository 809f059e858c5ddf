/*
store.go - Durable key-value persistence interface

PURPOSE:
  Defines the interface between the engine and whatever holds its bytes.
  The engine persists whole documents (the record collection, the settings)
  under fixed keys, so a backend only needs Get and Put.

KEY INTERFACES:
  Store: Get/Put of opaque byte documents

IMPLEMENTATIONS:
  - generic/store/memory.go: In-memory for tests and the CLI dry-run
  - store/sqlite/sqlite.go: SQLite (cgo or pure-Go driver)
  - store/redis/redis.go: Redis

EXAMPLE:
  kv := store.NewMemory()
  err := kv.Put(ctx, "deficits", payload)
  data, ok, err := kv.Get(ctx, "deficits")
  if !ok {
      // never written
  }

SEE ALSO:
  - deficit/repository.go: Collection persistence on top of Store
  - deficit/settings.go: Engine settings persistence
*/
package generic

import "context"

// =============================================================================
// STORE - Interface for durable key-value persistence
// =============================================================================

// Store persists opaque documents under string keys.
type Store interface {
	// Get returns the bytes stored under key. ok is false if nothing was
	// ever written there; that is not an error.
	Get(ctx context.Context, key string) (data []byte, ok bool, err error)

	// Put replaces the bytes stored under key.
	Put(ctx context.Context, key string, data []byte) error
}

// Fixed keys used by the engine.
const (
	KeyRecords  = "deficits"
	KeySettings = "deficit-settings"
)
