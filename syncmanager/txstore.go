package syncmanager

import (
	"context"
	"time"
)

// TXStore 事务日志存储模块
// 持久化每一次同步事务的明细记录，是幂等检查、审计与崩溃恢复的依据。
// 偏向服务侧的模块，由使用方实现并注入 SyncTXManager
type TXStore interface {
	// CreateTX 落一条新的事务记录
	CreateTX(ctx context.Context, tx *SyncTransaction) error
	// UpdateTX 更新事务记录（阶段推进、operations log、终态信息）
	UpdateTX(ctx context.Context, tx *SyncTransaction) error
	// GetTX 查询指定事务，不存在时返回 nil
	GetTX(ctx context.Context, syncID string) (*SyncTransaction, error)
	// QueryRecent 查询资源在 since 之后的同类型事务，幂等检查使用
	QueryRecent(ctx context.Context, resourceID string, kind Kind, since time.Time) ([]*SyncTransaction, error)
	// GetStuckTXs 查询在 olderThan 之前启动、至今仍未到终态的事务，崩溃恢复使用
	GetStuckTXs(ctx context.Context, olderThan time.Time) ([]*SyncTransaction, error)
	// MarkSynced 更新资源的最近一次同步成功标记，commit 阶段唯一的外部可见副作用
	MarkSynced(ctx context.Context, resourceID, syncID string, at time.Time) error
	// Lock 锁住整个 TXStore（要求为分布式锁），避免多实例的恢复轮询重复执行
	Lock(ctx context.Context, expire time.Duration) error
	// Unlock 解锁 TXStore
	Unlock(ctx context.Context) error
}
