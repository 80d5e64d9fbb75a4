package retrypolicy

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/finikit/storesync/errs"
	"github.com/finikit/storesync/log"
)

// Policy 重试策略
// 纯计算模块：根据错误分类与当前尝试次数给出 延迟/是否重试 的决策，本身不发起任何调用
type Policy struct {
	// BaseDelay 首次重试的基准延迟
	BaseDelay time.Duration
	// MaxDelay 指数退避的封顶延迟
	MaxDelay time.Duration
	// MaxAttempts 总尝试次数上限（含首次），超过后调用方必须视为永久失败
	MaxAttempts int
}

func NewPolicy(baseDelay time.Duration, maxAttempts int) *Policy {
	p := &Policy{
		BaseDelay:   baseDelay,
		MaxAttempts: maxAttempts,
	}
	p.repair()
	return p
}

func (p *Policy) repair() {
	if p.BaseDelay <= 0 {
		p.BaseDelay = 200 * time.Millisecond
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.MaxDelay <= 0 {
		// 封顶为基准延迟的 8 倍
		p.MaxDelay = p.BaseDelay << 3
	}
}

// NextDelay 第 attempt 次失败后的退避时长，指数增长：base * 2^attempt，封顶 MaxDelay
func (p *Policy) NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := p.BaseDelay << attempt
	if delay > p.MaxDelay || delay <= 0 {
		return p.MaxDelay
	}
	return delay
}

// IsRetryable 错误是否值得重试
// 只有瞬时错误（网络超时、远端 5xx、锁竞争）可重试；永久性错误（凭证失效、校验失败）立刻向上传播
func (p *Policy) IsRetryable(err error) bool {
	return errs.Classify(err) == errs.KindTransient
}

// Options 装配 retry-go 的配置项，供需要整体重试的调用方直接使用
func (p *Policy) Options(ctx context.Context, msgOnRetry string) []retry.Option {
	return []retry.Option{
		retry.Attempts(uint(p.MaxAttempts)),
		retry.Delay(p.BaseDelay),
		retry.MaxDelay(p.MaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(p.IsRetryable),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			log.WarnContextf(ctx, "%s, attempt: %d, err: %v", msgOnRetry, n+1, err)
		}),
	}
}
