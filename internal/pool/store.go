package pool

import (
	"context"
	"sync"

	"carbon-ledger/registry-backend/internal/ledger"
)

// StoredPool pairs a pool with its id for listings.
type StoredPool struct {
	ID   PoolID
	Pool *Pool
}

// Store is the pool engine's persistence boundary. Reads return deep copies.
type Store interface {
	CreatePool(ctx context.Context, id PoolID, pool *Pool) error
	GetPool(ctx context.Context, id PoolID) (*Pool, error)
	PutPool(ctx context.Context, id PoolID, pool *Pool) error
	ListPools(ctx context.Context) ([]StoredPool, error)
}

// MemoryStore keeps pools in process.
type MemoryStore struct {
	mu    sync.Mutex
	pools map[PoolID]*Pool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{pools: make(map[PoolID]*Pool)}
}

func (s *MemoryStore) CreatePool(_ context.Context, id PoolID, pool *Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pools[id]; ok {
		return ErrPoolIDInUse
	}
	s.pools[id] = pool.Clone()
	return nil
}

func (s *MemoryStore) GetPool(_ context.Context, id PoolID) (*Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pool, ok := s.pools[id]
	if !ok {
		return nil, ErrInvalidPoolID
	}
	return pool.Clone(), nil
}

func (s *MemoryStore) PutPool(_ context.Context, id PoolID, pool *Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pools[id] = pool.Clone()
	return nil
}

func (s *MemoryStore) ListPools(_ context.Context) ([]StoredPool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StoredPool, 0, len(s.pools))
	for id, pool := range s.pools {
		out = append(out, StoredPool{ID: id, Pool: pool.Clone()})
	}
	return out, nil
}

type storeSnapshot struct {
	pools map[PoolID]*Pool
}

func (s *MemoryStore) Snapshot() ledger.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := storeSnapshot{pools: make(map[PoolID]*Pool, len(s.pools))}
	for id, pool := range s.pools {
		snap.pools[id] = pool.Clone()
	}
	return snap
}

func (s *MemoryStore) Restore(snapshot ledger.Snapshot) {
	snap, ok := snapshot.(storeSnapshot)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pools = snap.pools
}
