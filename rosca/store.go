/*
store.go - Persistence interface for pools

PURPOSE:
  Defines the boundary between the engine and the database. The engine never
  holds a pool across requests; it loads, mutates and writes back inside one
  atomic Update.

ATOMIC READ-MODIFY-WRITE:
  Update(ctx, id, fn) gives fn a private copy of the stored pool. If fn
  returns nil the copy is written back and Version is incremented; if fn
  returns an error nothing is written and the error is returned unchanged.
  Two concurrent Updates on one pool either serialize or one of them fails
  with ErrConcurrentModification. A lost update is never acceptable: two
  members contributing at the same moment must both be recorded.

IMPLEMENTATIONS:
  - rosca/store/memory.go:        in-memory, mutex serialized
  - store/sqlite/sqlite.go:       SQLite, transaction + version guard
  - store/gormstore/gormstore.go: PostgreSQL, SELECT ... FOR UPDATE + version
  - store/redisstore/redis.go:    Redis, WATCH/MULTI
  - store/firestore/firestore.go: Firestore, RunTransaction

EXAMPLE:
  pool, err := store.Update(ctx, id, func(p *rosca.Pool) error {
      return p.RecordContribution(2, "alice", amount, now)
  })
  if rosca.IsRetryable(err) {
      // another writer won, try again
  }

SEE ALSO:
  - service.go: every mutation goes through Update
  - rosca/storetest: conformance suite shared by all implementations
*/
package rosca

import (
	"context"
	"time"
)

// =============================================================================
// POOL STORE
// =============================================================================

type PoolStore interface {
	// Create persists a new pool. ErrPoolExists if the id is taken.
	Create(ctx context.Context, pool *Pool) error

	// Get returns a copy of the pool. ErrPoolNotFound if missing.
	Get(ctx context.Context, id PoolID) (*Pool, error)

	// List returns copies of every pool ordered by CreatedAt.
	List(ctx context.Context) ([]*Pool, error)

	// Update applies fn atomically and returns the stored result.
	Update(ctx context.Context, id PoolID, fn func(*Pool) error) (*Pool, error)

	// Delete removes a pool. ErrPoolNotFound if missing.
	Delete(ctx context.Context, id PoolID) error

	Close() error
}

// =============================================================================
// RETRY
// =============================================================================

// RetryBackoff is the pause before the second attempt; it doubles after
// that, up to RetryMaxBackoff.
var (
	RetryBackoff    = 5 * time.Millisecond
	RetryMaxBackoff = 100 * time.Millisecond
)

// Retry calls fn up to attempts times while it fails with a retryable error.
// The last error is returned as is.
func Retry(ctx context.Context, attempts int, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	wait := RetryBackoff
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil || !IsRetryable(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		if wait *= 2; wait > RetryMaxBackoff {
			wait = RetryMaxBackoff
		}
	}
	return err
}
