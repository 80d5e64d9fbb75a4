package syncmanager

import (
	"context"
	"fmt"

	"github.com/avast/retry-go/v4"

	"github.com/finikit/storesync/adapter"
	"github.com/finikit/storesync/consistency"
	"github.com/finikit/storesync/errs"
	"github.com/finikit/storesync/jobrunner"
	"github.com/finikit/storesync/log"
)

// SyncTXManager 同步事务协调器
//  1. 组成部分:
//     1.1 SyncTXManager：saga 状态机，prepare -> execute -> verify -> commit，失败转 rollback，cleanup 永远执行
//     1.2 TXStore：事务日志存储模块，interface，由使用方实现并注入
//     1.3 Adapters：三个外部系统的适配器，interface，由使用方实现并注入
//     1.4 lock.Manager / breaker.Breaker / jobrunner.Runner / retrypolicy.Policy：协作组件，构造期注入
//  2. 功能
//     2.1 对外提供 RunSync / RunSyncWithRetry 作为同步入口
//     2.2 以资源锁串联同资源事务，以 JobRunner 限制全局并发并做在途去重
//     2.3 运行异步恢复轮询，把卡在中间态的事务推向终态
type SyncTXManager struct {
	ctx  context.Context    // 管理器生命周期 ctx，关闭后恢复轮询随之退出
	stop context.CancelFunc // 停止管理器的控制器
	opts *Options

	txStore  TXStore
	adapters Adapters
	checker  *consistency.Checker
}

// Adapters 协调器消费的三个外部系统
type Adapters struct {
	Platform   adapter.Platform
	Relational adapter.Relational
	Vector     adapter.VectorIndex
}

// RunParams 单次同步的调用方参数
type RunParams struct {
	// Credentials 访问远端平台的凭证
	Credentials adapter.Credentials
	// Verify 覆盖该次同步是否执行 verify 阶段，nil 时按 kind 的默认策略
	Verify *bool
	// MaxAttempts 覆盖 RunSyncWithRetry 的尝试次数上限，0 时使用重试策略的默认值
	MaxAttempts int
}

// NewSyncTXManager 构造同步事务协调器
// 构造完成即伴生启动崩溃恢复轮询，使用完毕必须调用 Stop
func NewSyncTXManager(txStore TXStore, adapters Adapters, opts ...Option) *SyncTXManager {
	ctx, cancel := context.WithCancel(context.Background())
	manager := SyncTXManager{
		ctx:      ctx,
		stop:     cancel,
		opts:     &Options{},
		txStore:  txStore,
		adapters: adapters,
	}
	for _, opt := range opts {
		opt(manager.opts)
	}
	repair(manager.opts)
	manager.checker = manager.opts.Checker
	if manager.checker == nil {
		manager.checker = consistency.NewChecker(adapters.Relational, adapters.Vector)
	}

	go manager.run()
	return &manager
}

// Stop 停止协调器，终止崩溃恢复轮询
func (m *SyncTXManager) Stop() {
	m.stop()
}

// Checker 返回协调器持有的一致性校验器，供定时审计任务独立调用
func (m *SyncTXManager) Checker() *consistency.Checker {
	return m.checker
}

// RunSync 对一个资源执行一次同步事务
// 整体包装进 JobRunner：同资源同类型的在途调用会挂靠到已有执行上；
// 全局并发度满时快速失败（capacity）；超出 Timeout 即判定失败
func (m *SyncTXManager) RunSync(ctx context.Context, resourceID string, kind Kind, params *RunParams) (*Result, error) {
	if params == nil {
		params = &RunParams{}
	}

	jobID := buildJobID(resourceID, kind)
	jobRes, err := m.opts.Runner.Submit(ctx, jobID, m.opts.Timeout, func(cctx context.Context) (interface{}, error) {
		res := m.runSaga(cctx, resourceID, kind, params, 1)
		if !res.Success {
			return res, res.Err
		}
		return res, nil
	})

	if jobRes != nil {
		if res, ok := jobRes.Value.(*Result); ok && res != nil {
			return res, err
		}
		// 任务体没有产出结果（超时被判定失败），构造对外结果
		if jobRes.Status == jobrunner.StatusFailed {
			return m.failedResult(resourceID, kind, jobRes.Err), jobRes.Err
		}
	}
	if err != nil {
		return m.failedResult(resourceID, kind, err), err
	}
	return m.failedResult(resourceID, kind, fmt.Errorf("no result produced")), fmt.Errorf("no result produced")
}

// RunSyncWithRetry 带重试地执行同步
// 只有瞬时错误（网络超时、远端 5xx、锁竞争）会触发重试，且每次重试都是整个 saga
// 从 prepare 重新开始 —— 不支持从中间阶段续跑，重跑幂等正向步骤的代价低于正确续跑的复杂度
func (m *SyncTXManager) RunSyncWithRetry(ctx context.Context, resourceID string, kind Kind, params *RunParams) (*Result, error) {
	if params == nil {
		params = &RunParams{}
	}
	policy := *m.opts.Policy
	if params.MaxAttempts > 0 {
		policy.MaxAttempts = params.MaxAttempts
	}

	var res *Result
	attempt := 0
	err := retry.Do(func() error {
		attempt++
		jobID := buildJobID(resourceID, kind)
		jobRes, err := m.opts.Runner.Submit(ctx, jobID, m.opts.Timeout, func(cctx context.Context) (interface{}, error) {
			r := m.runSaga(cctx, resourceID, kind, params, attempt)
			if !r.Success {
				return r, r.Err
			}
			return r, nil
		})
		if jobRes != nil {
			if r, ok := jobRes.Value.(*Result); ok && r != nil {
				res = r
			}
		}
		return err
	}, policy.Options(ctx, fmt.Sprintf("sync retry, resource: %s, kind: %s", resourceID, kind))...)

	// Attempt 以产出该结果的 saga 为准：挂靠到他人在途执行时，本地循环计数没有意义
	if res == nil {
		res = m.failedResult(resourceID, kind, err)
		res.Attempt = attempt
	}
	return res, err
}

// GetTransaction 查询事务记录，不存在时返回 nil
func (m *SyncTXManager) GetTransaction(ctx context.Context, syncID string) (*SyncTransaction, error) {
	return m.txStore.GetTX(ctx, syncID)
}

// GetQueueStats 任务执行器的整体统计
func (m *SyncTXManager) GetQueueStats() jobrunner.Stats {
	return m.opts.Runner.Stats()
}

func (m *SyncTXManager) failedResult(resourceID string, kind Kind, err error) *Result {
	return &Result{
		Success:    false,
		ResourceID: resourceID,
		Kind:       kind,
		Phase:      PhaseFailed,
		Err:        err,
		ErrorClass: errorClass(err),
		Attempt:    1,
	}
}

// buildJobID 在途去重的任务键：同资源同类型的同步在任意时刻最多一个在途执行
func buildJobID(resourceID string, kind Kind) string {
	return fmt.Sprintf("sync:%s:%s", kind, resourceID)
}

// verifyEnabled 该次同步是否执行 verify 阶段
func (m *SyncTXManager) verifyEnabled(kind Kind, params *RunParams) bool {
	if params.Verify != nil {
		return *params.Verify
	}
	return m.opts.VerifyKinds[kind]
}

// classifyRemote 对远端平台错误做归类包装
func classifyRemote(err error) error {
	if errs.Any(err, errs.ErrAuth, errs.ErrNotFound, errs.ErrTransientRemote, errs.ErrPermanentRemote) ||
		errs.Classify(err) == errs.KindTransient {
		return err
	}
	// 未知的远端错误按永久性处理，避免对失效凭证反复重试
	log.Warnf("unclassified remote error treated as permanent: %v", err)
	return fmt.Errorf("%w: %v", errs.ErrPermanentRemote, err)
}
