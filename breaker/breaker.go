package breaker

import (
	"sync"
	"time"

	"github.com/finikit/storesync/log"
)

// State 熔断器状态
type State string

const (
	// StateClosed 正常放行
	StateClosed State = "closed"
	// StateOpen 熔断中，冷却期内拒绝所有调用
	StateOpen State = "open"
	// StateHalfOpen 冷却结束后的试探态，只放行一次试探调用
	StateHalfOpen State = "half_open"
)

// Breaker 以 key 为粒度的熔断器
// 所有 key 共享同一组阈值参数，但各自维护独立的计数器。
// 计数器在第一次观测到失败时惰性创建，进程生命周期内常驻。
// 作用：当某个外部依赖持续失败时（如远端平台凭证被吊销），
// 阻止大量并发同步任务继续重试轰炸该依赖
type Breaker struct {
	mux    sync.RWMutex
	states map[string]*counter
	opts   *Options
}

type counter struct {
	consecutiveFailures int
	state               State
	openedAt            time.Time
	probing             bool      // half_open 下是否已放行过试探调用
	probedAt            time.Time // 最近一次放行试探调用的时刻
}

type Options struct {
	// FailureThreshold 连续失败多少次后熔断
	FailureThreshold int
	// Cooldown 熔断后多久允许试探调用
	Cooldown time.Duration
}

type Option func(*Options)

func WithFailureThreshold(threshold int) Option {
	if threshold <= 0 {
		threshold = 5
	}
	return func(o *Options) {
		o.FailureThreshold = threshold
	}
}

func WithCooldown(cooldown time.Duration) Option {
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	return func(o *Options) {
		o.Cooldown = cooldown
	}
}

func repair(o *Options) {
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = 5
	}
	if o.Cooldown <= 0 {
		o.Cooldown = time.Minute
	}
}

func NewBreaker(opts ...Option) *Breaker {
	breaker := Breaker{
		states: make(map[string]*counter),
		opts:   &Options{},
	}
	for _, opt := range opts {
		opt(breaker.opts)
	}
	repair(breaker.opts)
	return &breaker
}

// Allow 判断 key 对应的调用是否可以发起
// open 状态下冷却期未满一律拒绝；冷却期满后转入 half_open，只放行一次试探调用，
// 该调用的成败决定熔断器走向 closed 还是重新 open。
// 试探调用可能在真正发起远端调用之前就中止（例如取不到资源锁），此时成败都不会被回报；
// 已放行的试探超过一个冷却周期没有回报结果即视为作废，重新放行下一次试探
func (b *Breaker) Allow(key string) bool {
	b.mux.Lock()
	defer b.mux.Unlock()

	c, ok := b.states[key]
	if !ok {
		return true
	}

	switch c.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(c.openedAt) < b.opts.Cooldown {
			return false
		}
		// 冷却结束，进入试探态
		c.state = StateHalfOpen
		c.probing = true
		c.probedAt = time.Now()
		log.Infof("circuit half-open, key: %s", key)
		return true
	case StateHalfOpen:
		if c.probing && time.Since(c.probedAt) < b.opts.Cooldown {
			return false
		}
		c.probing = true
		c.probedAt = time.Now()
		return true
	}
	return true
}

// RecordSuccess 记录一次成功
// half_open 下的试探调用成功则关闭熔断器；closed 下清零连续失败计数
func (b *Breaker) RecordSuccess(key string) {
	b.mux.Lock()
	defer b.mux.Unlock()

	c, ok := b.states[key]
	if !ok {
		return
	}
	if c.state == StateHalfOpen {
		log.Infof("circuit closed after successful probe, key: %s", key)
	}
	c.state = StateClosed
	c.consecutiveFailures = 0
	c.probing = false
}

// RecordFailure 记录一次失败
// closed 下连续失败达到阈值则熔断；half_open 下试探失败直接重新熔断
func (b *Breaker) RecordFailure(key string) {
	b.mux.Lock()
	defer b.mux.Unlock()

	c, ok := b.states[key]
	if !ok {
		c = &counter{state: StateClosed}
		b.states[key] = c
	}

	c.consecutiveFailures++
	c.probing = false

	switch c.state {
	case StateHalfOpen:
		c.state = StateOpen
		c.openedAt = time.Now()
		log.Warnf("circuit reopened after failed probe, key: %s", key)
	case StateClosed:
		if c.consecutiveFailures >= b.opts.FailureThreshold {
			c.state = StateOpen
			c.openedAt = time.Now()
			log.Warnf("circuit opened, key: %s, consecutive failures: %d", key, c.consecutiveFailures)
		}
	}
}

// Snapshot 熔断器当前状态，仅用于观测
type Snapshot struct {
	Key                 string
	State               State
	ConsecutiveFailures int
	OpenedAt            time.Time
}

// State 查询 key 对应的熔断器状态，从未失败过的 key 返回 closed
func (b *Breaker) State(key string) Snapshot {
	b.mux.RLock()
	defer b.mux.RUnlock()

	c, ok := b.states[key]
	if !ok {
		return Snapshot{Key: key, State: StateClosed}
	}
	return Snapshot{
		Key:                 key,
		State:               c.state,
		ConsecutiveFailures: c.consecutiveFailures,
		OpenedAt:            c.openedAt,
	}
}
