package lock

import (
	"context"
	"time"
)

// Store 锁的存储模块
// 单实例部署下可以使用内置的 MemoryStore；多实例部署必须使用共享存储（如 RedisStore），
// 否则互斥保证会退化为单实例级别
type Store interface {
	// Acquire 原子性取锁
	// 不存在存活的锁时写入 rec 并返回 granted=true；
	// 存在已过期的锁时回收并写入 rec，返回 granted=true 以及被回收的旧锁；
	// 存在存活的锁时返回 granted=false 以及当前持有者
	Acquire(ctx context.Context, rec *Record) (granted bool, prev *Record, err error)
	// Release 释放锁，只有 token 与当前持有者一致时才会真正删除
	Release(ctx context.Context, resourceID, token string) (released bool, err error)
	// Refresh 续期，只有 token 与当前持有者一致时才生效
	Refresh(ctx context.Context, resourceID, token string, ttl time.Duration) (refreshed bool, err error)
	// Get 查询当前锁，不存在时返回 nil
	Get(ctx context.Context, resourceID string) (*Record, error)
}
