// Package store provides an in-memory PoolStore.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/rosca-engine/rosca"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory serializes every write behind one mutex. Pools are cloned on the
// way in and on the way out, so callers never share state with the store.
type Memory struct {
	mu    sync.RWMutex
	pools map[rosca.PoolID]*rosca.Pool
}

func NewMemory() *Memory {
	return &Memory{pools: make(map[rosca.PoolID]*rosca.Pool)}
}

func (m *Memory) Create(_ context.Context, pool *rosca.Pool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.pools[pool.ID]; ok {
		return rosca.ErrPoolExists
	}
	stored := pool.Clone()
	stored.Version = 1
	m.pools[pool.ID] = stored
	pool.Version = 1
	return nil
}

func (m *Memory) Get(_ context.Context, id rosca.PoolID) (*rosca.Pool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pool, ok := m.pools[id]
	if !ok {
		return nil, rosca.ErrPoolNotFound
	}
	return pool.Clone(), nil
}

func (m *Memory) List(_ context.Context) ([]*rosca.Pool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*rosca.Pool, 0, len(m.pools))
	for _, pool := range m.pools {
		result = append(result, pool.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// Update runs fn on a working copy and swaps it in only when fn succeeds.
// Holding the write lock for the whole call is what rules out lost updates.
func (m *Memory) Update(ctx context.Context, id rosca.PoolID, fn func(*rosca.Pool) error) (*rosca.Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	current, ok := m.pools[id]
	if !ok {
		return nil, rosca.ErrPoolNotFound
	}

	working := current.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	working.ID = id
	working.Version = current.Version + 1
	m.pools[id] = working
	return working.Clone(), nil
}

func (m *Memory) Delete(_ context.Context, id rosca.PoolID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.pools[id]; !ok {
		return rosca.ErrPoolNotFound
	}
	delete(m.pools, id)
	return nil
}

func (m *Memory) Close() error {
	return nil
}
