package lock

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/finikit/storesync/log"
)

// Manager 资源锁管理器
// 以资源 id 为粒度提供互斥语义，保证同一资源上同时只有一个事务在执行。
// 取锁失败不提供排队能力，调用方自行退避或向上抛出 busy
type Manager struct {
	store Store
	opts  *Options
}

type Options struct {
	// DefaultTTL 调用方未指定时使用的锁过期时长
	DefaultTTL time.Duration
}

type Option func(*Options)

func WithDefaultTTL(ttl time.Duration) Option {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return func(o *Options) {
		o.DefaultTTL = ttl
	}
}

func repair(o *Options) {
	if o.DefaultTTL <= 0 {
		o.DefaultTTL = 30 * time.Second
	}
}

func NewManager(store Store, opts ...Option) *Manager {
	manager := Manager{
		store: store,
		opts:  &Options{},
	}
	for _, opt := range opts {
		opt(manager.opts)
	}
	repair(manager.opts)
	return &manager
}

// Acquire 以资源 id 为粒度取锁
// 存在未过期的锁时返回 Granted=false，并携带当前持有者的持有时长与加锁目的；
// 存在已过期的锁时透明回收，并记录 stale lock reclaimed 事件（说明前一个持有者崩溃或超时）
func (m *Manager) Acquire(ctx context.Context, resourceID, purpose string, ttl time.Duration) (*AcquireResult, error) {
	if ttl <= 0 {
		ttl = m.opts.DefaultTTL
	}

	rec := &Record{
		ResourceID: resourceID,
		Token:      uuid.NewString(),
		Purpose:    purpose,
		AcquiredAt: time.Now(),
		TTL:        ttl,
	}

	granted, prev, err := m.store.Acquire(ctx, rec)
	if err != nil {
		return nil, err
	}

	if !granted {
		res := &AcquireResult{Granted: false}
		if prev != nil {
			res.HolderPurpose = prev.Purpose
			res.HolderAge = prev.Age(time.Now())
		}
		return res, nil
	}

	res := &AcquireResult{Granted: true, Token: rec.Token}
	if prev != nil {
		// 回收过期锁必须单独记录，这代表前一个持有者异常退出
		res.Reclaimed = true
		log.WarnContextf(ctx, "stale lock reclaimed, resource: %s, prev purpose: %s, prev age: %v",
			resourceID, prev.Purpose, prev.Age(time.Now()))
	}
	return res, nil
}

// Release 释放锁
// token 与当前持有者不一致时不做任何操作并返回 false，
// 防止超时后迟到的释放请求误删新持有者的锁
func (m *Manager) Release(ctx context.Context, resourceID, token string) (bool, error) {
	return m.store.Release(ctx, resourceID, token)
}

// Refresh 长事务执行中途为锁续期，token 不匹配时返回 false
func (m *Manager) Refresh(ctx context.Context, resourceID, token string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = m.opts.DefaultTTL
	}
	return m.store.Refresh(ctx, resourceID, token, ttl)
}

// IsHeld 判断资源上是否存在未过期的锁
func (m *Manager) IsHeld(ctx context.Context, resourceID string) (bool, error) {
	rec, err := m.store.Get(ctx, resourceID)
	if err != nil {
		return false, err
	}
	return rec != nil && !rec.Expired(time.Now()), nil
}
