package errs

import (
	"context"
	"errors"
)

// 错误分类体系
// 所有包对外返回的错误都通过 %w 包装如下哨兵错误，调用方统一使用 errors.Is 进行判断

var (
	// ErrLockConflict 资源锁被其他事务持有
	ErrLockConflict = errors.New("lock conflict")
	// ErrDuplicateTransaction 幂等检查命中，短期内存在相同资源同类型的事务
	ErrDuplicateTransaction = errors.New("duplicate transaction")
	// ErrCircuitOpen 熔断器处于打开状态，调用被拒绝
	ErrCircuitOpen = errors.New("circuit open")
	// ErrCapacityExceeded 任务执行器并发度已满
	ErrCapacityExceeded = errors.New("capacity exceeded")
	// ErrTransientRemote 远端平台瞬时错误，可重试
	ErrTransientRemote = errors.New("transient remote error")
	// ErrPermanentRemote 远端平台永久性错误，不可重试
	ErrPermanentRemote = errors.New("permanent remote error")
	// ErrAuth 远端平台凭证无效，视作永久性错误
	ErrAuth = errors.New("invalid credentials")
	// ErrNotFound 目标资源不存在
	ErrNotFound = errors.New("not found")
	// ErrConsistencyViolation verify 阶段发现 critical 级别的数据不一致
	ErrConsistencyViolation = errors.New("consistency violation")
	// ErrRollbackPartialFailure 回滚过程中存在补偿动作执行失败
	ErrRollbackPartialFailure = errors.New("rollback partial failure")
	// ErrTimeout 任务执行超时
	ErrTimeout = errors.New("timeout")
)

// Kind 错误类别，决定重试策略
type Kind string

const (
	// KindTransient 瞬时错误，重试可能成功
	KindTransient Kind = "transient"
	// KindPermanent 永久性错误，重试无意义
	KindPermanent Kind = "permanent"
)

// Classify 将错误归类为瞬时或永久
// 网络超时、远端 5xx、锁竞争属于瞬时错误；凭证失效、数据校验失败等其余错误一律视为永久性错误
func Classify(err error) Kind {
	if Any(err, ErrTransientRemote, ErrLockConflict, ErrTimeout,
		context.DeadlineExceeded, context.Canceled) {
		return KindTransient
	}
	return KindPermanent
}

// Any 判断 err 是否匹配 targets 中的任意一个
func Any(err error, targets ...error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
