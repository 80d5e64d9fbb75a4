package lock

import (
	"context"
	"sync"
	"time"
)

// MemoryStore 基于内存 map 的锁存储，适用于单实例部署
type MemoryStore struct {
	mux   sync.Mutex
	locks map[string]*Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locks: make(map[string]*Record),
	}
}

func (m *MemoryStore) Acquire(ctx context.Context, rec *Record) (bool, *Record, error) {
	m.mux.Lock()
	defer m.mux.Unlock()

	cur, ok := m.locks[rec.ResourceID]
	if !ok {
		m.locks[rec.ResourceID] = rec
		return true, nil, nil
	}

	// 已过期的锁直接回收，替换持有者
	if cur.Expired(time.Now()) {
		m.locks[rec.ResourceID] = rec
		return true, cur, nil
	}

	// 重入：同一持有者可以刷新自己的锁
	if cur.Token == rec.Token {
		m.locks[rec.ResourceID] = rec
		return true, nil, nil
	}

	return false, cur, nil
}

func (m *MemoryStore) Release(ctx context.Context, resourceID, token string) (bool, error) {
	m.mux.Lock()
	defer m.mux.Unlock()

	cur, ok := m.locks[resourceID]
	if !ok || cur.Token != token {
		return false, nil
	}
	delete(m.locks, resourceID)
	return true, nil
}

func (m *MemoryStore) Refresh(ctx context.Context, resourceID, token string, ttl time.Duration) (bool, error) {
	m.mux.Lock()
	defer m.mux.Unlock()

	cur, ok := m.locks[resourceID]
	if !ok || cur.Token != token || cur.Expired(time.Now()) {
		return false, nil
	}
	cur.AcquiredAt = time.Now()
	cur.TTL = ttl
	return true, nil
}

func (m *MemoryStore) Get(ctx context.Context, resourceID string) (*Record, error) {
	m.mux.Lock()
	defer m.mux.Unlock()

	cur, ok := m.locks[resourceID]
	if !ok {
		return nil, nil
	}
	cp := *cur
	return &cp, nil
}
