package syncmanager

import (
	"time"

	"github.com/finikit/storesync/breaker"
	"github.com/finikit/storesync/consistency"
	"github.com/finikit/storesync/jobrunner"
	"github.com/finikit/storesync/lock"
	"github.com/finikit/storesync/retrypolicy"
)

// Options SyncTXManager 的配置项，通过 option 注入
type Options struct {
	// Timeout 单次事务的执行时长限制，由 JobRunner 的截止时间兜底
	Timeout time.Duration
	// LockTTL 资源锁的过期时长，应大于 Timeout，保证锁先于事务超时不会发生
	LockTTL time.Duration
	// IdempotencyWindow 幂等检查窗口：窗口内同资源同类型的在途或已完成事务视为重复
	IdempotencyWindow time.Duration
	// MonitorTick 崩溃恢复轮询的间隔
	MonitorTick time.Duration
	// StuckGrace 事务停留在非终态超过该时长即视为卡死，进入恢复流程
	StuckGrace time.Duration
	// VerifyKinds 哪些同步类型执行 verify 阶段
	VerifyKinds map[Kind]bool

	// 协作组件，默认在 repair 中构造，也可以由使用方注入以共享实例
	Locks   *lock.Manager
	Breaker *breaker.Breaker
	Runner  *jobrunner.Runner
	Policy  *retrypolicy.Policy
	Checker *consistency.Checker
}

type Option func(*Options)

func WithTimeout(timeout time.Duration) Option {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return func(o *Options) {
		o.Timeout = timeout
	}
}

func WithLockTTL(ttl time.Duration) Option {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return func(o *Options) {
		o.LockTTL = ttl
	}
}

func WithIdempotencyWindow(window time.Duration) Option {
	if window <= 0 {
		window = 10 * time.Second
	}
	return func(o *Options) {
		o.IdempotencyWindow = window
	}
}

func WithMonitorTick(tick time.Duration) Option {
	if tick <= 0 {
		tick = 10 * time.Second
	}
	return func(o *Options) {
		o.MonitorTick = tick
	}
}

func WithStuckGrace(grace time.Duration) Option {
	if grace <= 0 {
		grace = 5 * time.Minute
	}
	return func(o *Options) {
		o.StuckGrace = grace
	}
}

// WithVerifyKinds 覆盖默认的 verify 阶段启用策略
func WithVerifyKinds(kinds map[Kind]bool) Option {
	return func(o *Options) {
		o.VerifyKinds = kinds
	}
}

func WithLockManager(locks *lock.Manager) Option {
	return func(o *Options) {
		o.Locks = locks
	}
}

func WithBreaker(b *breaker.Breaker) Option {
	return func(o *Options) {
		o.Breaker = b
	}
}

func WithJobRunner(runner *jobrunner.Runner) Option {
	return func(o *Options) {
		o.Runner = runner
	}
}

func WithRetryPolicy(policy *retrypolicy.Policy) Option {
	return func(o *Options) {
		o.Policy = policy
	}
}

func repair(o *Options) {
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.LockTTL <= 0 {
		o.LockTTL = 2 * o.Timeout
	}
	if o.IdempotencyWindow <= 0 {
		o.IdempotencyWindow = 10 * time.Second
	}
	if o.MonitorTick <= 0 {
		o.MonitorTick = 10 * time.Second
	}
	if o.StuckGrace <= 0 {
		o.StuckGrace = 5 * time.Minute
	}
	if o.StuckGrace <= o.Timeout {
		// 卡死判定必须晚于任务超时，否则恢复轮询可能回滚一个仍在执行的事务
		o.StuckGrace = o.Timeout << 1
	}
	if o.VerifyKinds == nil {
		// 默认只有全量同步执行 verify
		o.VerifyKinds = map[Kind]bool{KindFull: true}
	}
	if o.Locks == nil {
		// 内存锁只能保证单实例互斥，多实例部署必须注入共享存储的 lock.Manager
		o.Locks = lock.NewManager(lock.NewMemoryStore(), lock.WithDefaultTTL(o.LockTTL))
	}
	if o.Breaker == nil {
		o.Breaker = breaker.NewBreaker()
	}
	if o.Runner == nil {
		o.Runner = jobrunner.NewRunner(jobrunner.WithDefaultTimeout(o.Timeout))
	}
	if o.Policy == nil {
		o.Policy = retrypolicy.NewPolicy(200*time.Millisecond, 3)
	}
}
