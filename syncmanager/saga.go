package syncmanager

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/finikit/storesync/adapter"
	"github.com/finikit/storesync/consistency"
	"github.com/finikit/storesync/errs"
	"github.com/finikit/storesync/log"
)

// sagaRun 一次 saga 执行的运行态
// 补偿栈与前置快照只存在于内存中；持久化侧的回滚依据是事务记录里的
// operations log 与 PreSnapshot（崩溃恢复走那条路）
type sagaRun struct {
	m      *SyncTXManager
	tx     *SyncTransaction
	params *RunParams
	comps  []compensation
	preRel *adapter.Snapshot
}

// runSaga 执行一次完整的 saga
// prepare 内的失败（锁冲突、重复事务、熔断）快速失败且不产生任何副作用；
// execute/verify 的失败触发回滚；cleanup 无论成败都会执行
func (m *SyncTXManager) runSaga(ctx context.Context, resourceID string, kind Kind, params *RunParams, attempt int) *Result {
	start := time.Now()

	// 熔断检查先于一切副作用
	if !m.opts.Breaker.Allow(resourceID) {
		err := fmt.Errorf("%w: resource %s", errs.ErrCircuitOpen, resourceID)
		return &Result{
			Success:    false,
			ResourceID: resourceID,
			Kind:       kind,
			Phase:      PhaseFailed,
			Err:        err,
			ErrorClass: errorClass(err),
			Attempt:    attempt,
			Duration:   time.Since(start),
		}
	}

	tx := NewSyncTransaction(resourceID, kind, attempt, m.opts.Policy.MaxAttempts)
	run := &sagaRun{m: m, tx: tx, params: params}

	sagaErr := run.prepare(ctx)
	prepared := sagaErr == nil

	if prepared {
		sagaErr = run.execute(ctx)
		if sagaErr == nil && m.verifyEnabled(kind, params) {
			sagaErr = run.verify(ctx)
		}
		if sagaErr == nil {
			sagaErr = run.commit(ctx)
		}

		if sagaErr != nil {
			m.opts.Breaker.RecordFailure(resourceID)
			if rbErr := run.rollback(); rbErr != nil {
				// 补偿本身失败，系统可能处于不一致状态，留给审计修复
				sagaErr = fmt.Errorf("%w (cause: %w)", rbErr, sagaErr)
			}
			tx.Phase = PhaseFailed
		} else {
			m.opts.Breaker.RecordSuccess(resourceID)
			tx.Phase = PhaseCompleted
		}
	}

	run.cleanup(sagaErr, prepared)

	return &Result{
		Success:          sagaErr == nil && prepared,
		SyncID:           tx.ID,
		ResourceID:       resourceID,
		Kind:             kind,
		Phase:            tx.Phase,
		Err:              sagaErr,
		ErrorClass:       errorClass(sagaErr),
		Operations:       tx.Operations,
		Attempt:          attempt,
		ConsistencyScore: tx.ConsistencyScore,
		Duration:         time.Since(start),
	}
}

// prepare 阶段
// a. 幂等检查 b. 取资源锁 c. 采集前置快照 d. 落事务记录
// 任何一步失败都发生在产生副作用之前，直接向上返回
func (r *sagaRun) prepare(ctx context.Context) error {
	tx := r.tx

	// a. 幂等检查：窗口内同资源同类型的在途或刚完成的事务视为重复
	since := time.Now().Add(-r.m.opts.IdempotencyWindow)
	recent, err := r.m.txStore.QueryRecent(ctx, tx.ResourceID, tx.Kind, since)
	if err != nil {
		return fmt.Errorf("query recent transactions: %w", err)
	}
	for _, prior := range recent {
		if prior.Phase.Active() || prior.Phase == PhaseCompleted {
			return fmt.Errorf("%w: matches %s in phase %s", errs.ErrDuplicateTransaction, prior.ID, prior.Phase)
		}
	}

	// b. 取资源锁，失败即整个事务终止（代价最低的失败点）
	acquired, err := r.m.opts.Locks.Acquire(ctx, tx.ResourceID, fmt.Sprintf("sync:%s", tx.Kind), r.m.opts.LockTTL)
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !acquired.Granted {
		return fmt.Errorf("%w: held for %v, purpose: %s",
			errs.ErrLockConflict, acquired.HolderAge, acquired.HolderPurpose)
	}
	tx.LockToken = acquired.Token

	// c. 前置快照，回滚的还原目标
	pre, err := r.m.adapters.Relational.ReadCurrent(ctx, tx.ResourceID)
	if err != nil {
		return fmt.Errorf("read pre-transaction snapshot: %w", err)
	}
	r.preRel = pre
	tx.PreSnapshot = pre

	// d. 持久化事务记录，崩溃恢复的锚点
	if err := r.m.txStore.CreateTX(ctx, tx); err != nil {
		return fmt.Errorf("create transaction record: %w", err)
	}

	log.InfoContextf(ctx, "sync prepared, sync id: %s, resource: %s, kind: %s", tx.ID, tx.ResourceID, tx.Kind)
	return nil
}

// execute 阶段：严格顺序执行正向步骤
// 每个步骤成功后、下一步骤开始前，把它的补偿动作压栈 —— 中途失败时
// 已完成步骤的补偿必须都已注册
func (r *sagaRun) execute(ctx context.Context) error {
	if err := r.setPhase(ctx, PhaseExecute); err != nil {
		return err
	}
	if r.tx.Kind == KindCleanup {
		return r.executeCleanup(ctx)
	}
	return r.executeSync(ctx)
}

// executeSync full/incremental 的正向步骤：拉取远端快照 -> 写关系库 -> 从关系库重建向量索引
func (r *sagaRun) executeSync(ctx context.Context) error {
	tx := r.tx
	relational := r.m.adapters.Relational
	vector := r.m.adapters.Vector

	// 步骤 1: 拉取远端平台的权威快照
	// 远端平台无法被本系统回滚，因此该步骤没有补偿动作
	snap, err := r.m.adapters.Platform.FetchSnapshot(ctx, tx.ResourceID, r.params.Credentials)
	if err != nil {
		return fmt.Errorf("platform fetch: %w", classifyRemote(err))
	}
	r.logOp(ctx, StepPlatformFetch, fmt.Sprintf("fetched at %s", snap.FetchedAt.Format(time.RFC3339)))
	if err := r.stale(ctx); err != nil {
		return err
	}

	// 步骤 2: 写关系库
	prev, err := relational.Upsert(ctx, tx.ResourceID, snap)
	if err != nil {
		return fmt.Errorf("relational upsert: %w", err)
	}
	r.logOp(ctx, StepRelationalUpsert, "")
	r.pushComp(StepRelationalUpsert, func(cctx context.Context) error {
		if prev == nil {
			return relational.Delete(cctx, tx.ResourceID)
		}
		_, err := relational.Upsert(cctx, tx.ResourceID, prev)
		return err
	})
	if err := r.stale(ctx); err != nil {
		return err
	}

	// 步骤 3: 从关系库重读并重建向量索引
	// 永远从关系库推导而不是直接用远端快照，保证两份拷贝即便在远端短暂不一致时也彼此一致
	current, err := relational.ReadCurrent(ctx, tx.ResourceID)
	if err != nil {
		return fmt.Errorf("re-read relational snapshot: %w", err)
	}
	written, err := vector.Reindex(ctx, tx.ResourceID, current)
	if err != nil {
		return fmt.Errorf("vector reindex: %w", err)
	}
	r.logOp(ctx, StepVectorReindex, fmt.Sprintf("documents: %d", written))
	r.pushComp(StepVectorReindex, func(cctx context.Context) error {
		if r.preRel == nil {
			return vector.DeleteAll(cctx, tx.ResourceID)
		}
		_, err := vector.Reindex(cctx, tx.ResourceID, r.preRel)
		return err
	})
	return r.stale(ctx)
}

// executeCleanup cleanup 的正向步骤：删向量索引 -> 删关系库快照
func (r *sagaRun) executeCleanup(ctx context.Context) error {
	tx := r.tx
	relational := r.m.adapters.Relational
	vector := r.m.adapters.Vector

	if err := vector.DeleteAll(ctx, tx.ResourceID); err != nil {
		return fmt.Errorf("vector delete: %w", err)
	}
	r.logOp(ctx, StepVectorDelete, "")
	r.pushComp(StepVectorDelete, func(cctx context.Context) error {
		if r.preRel == nil {
			return nil
		}
		_, err := vector.Reindex(cctx, tx.ResourceID, r.preRel)
		return err
	})
	if err := r.stale(ctx); err != nil {
		return err
	}

	if err := relational.Delete(ctx, tx.ResourceID); err != nil {
		return fmt.Errorf("relational delete: %w", err)
	}
	r.logOp(ctx, StepRelationalDelete, "")
	r.pushComp(StepRelationalDelete, func(cctx context.Context) error {
		if r.preRel == nil {
			return nil
		}
		_, err := relational.Upsert(cctx, tx.ResourceID, r.preRel)
		return err
	})
	return r.stale(ctx)
}

// verify 阶段：抽样比对关系库与向量索引
// critical 级别的不一致判定事务失败并触发回滚；high 只记录；
// 一致性得分无论成败都会落进事务记录
func (r *sagaRun) verify(ctx context.Context) error {
	if err := r.setPhase(ctx, PhaseVerify); err != nil {
		return err
	}

	report, err := r.m.checker.Check(ctx, r.tx.ResourceID, nil, consistency.LevelBasic)
	if err != nil {
		return fmt.Errorf("consistency check: %w", err)
	}
	r.tx.ConsistencyScore = report.Score
	r.logOp(ctx, StepVerify, fmt.Sprintf("score: %.2f, discrepancies: %d", report.Score, len(report.Discrepancies)))

	for _, d := range report.Discrepancies {
		if d.Severity == consistency.SeverityHigh {
			log.WarnContextf(ctx, "high severity discrepancy, sync id: %s, field: %s, relational: %v, vector: %v",
				r.tx.ID, d.Field, d.Relational, d.Vector)
		}
	}
	if report.HasCritical() {
		return fmt.Errorf("%w: score %.2f, %d discrepancies",
			errs.ErrConsistencyViolation, report.Score, len(report.Discrepancies))
	}
	return r.stale(ctx)
}

// commit 阶段：更新资源的最近同步成功标记
// 这是 execute 写入的数据之外，唯一允许产生外部可见成功副作用的阶段
func (r *sagaRun) commit(ctx context.Context) error {
	if err := r.setPhase(ctx, PhaseCommit); err != nil {
		return err
	}
	if err := r.m.txStore.MarkSynced(ctx, r.tx.ResourceID, r.tx.ID, time.Now()); err != nil {
		return fmt.Errorf("mark synced: %w", err)
	}
	r.logOp(ctx, StepCommitMarker, "")
	return nil
}

// rollback 阶段：逆序执行补偿栈
// 单个补偿失败只记录、不中断剩余补偿（尽力而为的回滚）；
// 使用管理器生命周期 ctx 而非任务 ctx，保证任务超时后回滚仍能完成
func (r *sagaRun) rollback() error {
	ctx := r.m.ctx
	if err := r.setPhase(ctx, PhaseRollback); err != nil {
		log.ErrorContextf(ctx, "persist rollback phase failed, sync id: %s, err: %v", r.tx.ID, err)
	}

	var failures error
	for i := len(r.comps) - 1; i >= 0; i-- {
		comp := r.comps[i]
		if err := comp.undo(ctx); err != nil {
			log.ErrorContextf(ctx, "compensation failed, sync id: %s, step: %s, err: %v", r.tx.ID, comp.step, err)
			failures = multierr.Append(failures, fmt.Errorf("compensate %s: %w", comp.step, err))
			continue
		}
		log.InfoContextf(ctx, "compensated, sync id: %s, step: %s", r.tx.ID, comp.step)
	}

	if failures != nil {
		return fmt.Errorf("%w: %w", errs.ErrRollbackPartialFailure, failures)
	}
	return nil
}

// cleanup 阶段：无论成败都执行
// 释放资源锁（token 不匹配说明锁已被回收，不属于本事务，静默容忍）、
// 清空内存态、写入事务终态记录
func (r *sagaRun) cleanup(finalErr error, prepared bool) {
	ctx := r.m.ctx
	tx := r.tx

	if tx.LockToken != "" {
		released, err := r.m.opts.Locks.Release(ctx, tx.ResourceID, tx.LockToken)
		if err != nil {
			log.ErrorContextf(ctx, "release lock failed, sync id: %s, err: %v", tx.ID, err)
		} else if !released {
			// 锁已过期被他人回收，轮不到本事务释放
			log.WarnContextf(ctx, "lock token mismatch on release, sync id: %s, resource: %s", tx.ID, tx.ResourceID)
		}
	}

	r.comps = nil
	r.preRel = nil

	now := time.Now()
	tx.FinishedAt = &now
	if finalErr != nil {
		tx.LastError = finalErr.Error()
		if tx.Phase != PhaseFailed {
			tx.Phase = PhaseFailed
		}
	}
	if prepared {
		if err := r.m.txStore.UpdateTX(ctx, tx); err != nil {
			log.ErrorContextf(ctx, "finalize transaction record failed, sync id: %s, err: %v", tx.ID, err)
		}
	}
	log.InfoContextf(ctx, "sync finished, sync id: %s, resource: %s, phase: %s, elapsed: %v",
		tx.ID, tx.ResourceID, tx.Phase, now.Sub(tx.StartedAt))
}

// setPhase 推进阶段并持久化
func (r *sagaRun) setPhase(ctx context.Context, phase Phase) error {
	r.tx.Phase = phase
	if err := r.m.txStore.UpdateTX(ctx, r.tx); err != nil {
		return fmt.Errorf("persist phase %s: %w", phase, err)
	}
	return nil
}

// logOp 追加正向步骤记录并尽力持久化
func (r *sagaRun) logOp(ctx context.Context, step, detail string) {
	r.tx.appendOp(step, detail)
	if err := r.m.txStore.UpdateTX(ctx, r.tx); err != nil {
		log.WarnContextf(ctx, "persist operation log failed, sync id: %s, step: %s, err: %v", r.tx.ID, step, err)
	}
}

// pushComp 注册补偿动作，必须在对应正向步骤成功后、下一步骤开始前调用
func (r *sagaRun) pushComp(step string, undo func(ctx context.Context) error) {
	r.comps = append(r.comps, compensation{step: step, undo: undo})
}

// stale 丢弃迟到结果：任务已超时/取消时，后续步骤不再推进
// 底层调用不保证被抢占，一个在超时后才完成的僵尸步骤不能再改变事务走向
func (r *sagaRun) stale(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: transaction abandoned after deadline", errs.ErrTimeout)
	}
	return nil
}
