package lock

import "time"

// Record 一把资源锁的完整状态
type Record struct {
	ResourceID string        `json:"resourceID"`
	Token      string        `json:"token"`   // 持有者身份凭证，释放锁时必须出示
	Purpose    string        `json:"purpose"` // 加锁目的，仅用于观测
	AcquiredAt time.Time     `json:"acquiredAt"`
	TTL        time.Duration `json:"ttl"`
}

// Expired 判断锁是否已过期
// 过期的锁视作被遗弃，后续的加锁方可以直接回收
func (r *Record) Expired(now time.Time) bool {
	return now.After(r.AcquiredAt.Add(r.TTL))
}

// Age 锁的持有时长
func (r *Record) Age(now time.Time) time.Duration {
	return now.Sub(r.AcquiredAt)
}

// AcquireResult 加锁结果
type AcquireResult struct {
	// Granted 是否取锁成功
	Granted bool
	// Token 取锁成功时返回的持有凭证
	Token string
	// Reclaimed 本次加锁是否回收了一把过期的锁
	Reclaimed bool
	// HolderPurpose 取锁失败时，当前持有者的加锁目的
	HolderPurpose string
	// HolderAge 取锁失败时，当前持有者已持有的时长
	HolderAge time.Duration
}
