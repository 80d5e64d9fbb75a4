package syncmanager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/finikit/storesync/log"
)

// 崩溃恢复轮询
// 进程崩溃或超时可能把事务留在中间态（例如关系库已写入但向量索引还没重建）。
// 轮询任务定期扫描卡死的事务，以事务记录（operations log + 前置快照）为锚点
// 把它们回滚到事务前的状态并推到终态。
// 对 TXStore 加分布式锁，避免多实例部署下轮询重复执行。

// run 异步恢复轮询，出错时轮询间隔按退避策略增长
// 每轮扫描作为普通任务提交给 JobRunner 执行，共享它的超时判定与统计口径，
// 不做任何脱离监管的后台调度
func (m *SyncTXManager) run() {
	var tick time.Duration
	var err error
	for {
		if err == nil {
			tick = m.opts.MonitorTick
		} else {
			tick = m.backOffTick(tick)
		}
		select {
		case <-m.ctx.Done():
			return
		case <-time.After(tick):
			_, err = m.opts.Runner.Submit(m.ctx, "recovery:sweep", m.opts.Timeout, func(cctx context.Context) (interface{}, error) {
				return nil, m.sweep(cctx)
			})
		}
	}
}

// sweep 一轮恢复扫描
func (m *SyncTXManager) sweep(ctx context.Context) error {
	if err := m.txStore.Lock(ctx, m.opts.MonitorTick); err != nil {
		// 取锁失败大概率是其他实例正在轮询，不升级退避
		return nil
	}
	defer func() {
		_ = m.txStore.Unlock(ctx)
	}()

	stuck, err := m.txStore.GetStuckTXs(ctx, time.Now().Add(-m.opts.StuckGrace))
	if err != nil {
		return err
	}
	return m.recoverBatch(ctx, stuck)
}

// backOffTick 轮询间隔翻倍，封顶为初始间隔的 8 倍
func (m *SyncTXManager) backOffTick(tick time.Duration) time.Duration {
	tick <<= 1
	if threshold := m.opts.MonitorTick << 3; tick > threshold {
		return threshold
	}
	return tick
}

// recoverBatch 并发恢复一批卡死的事务，只返回遇到的第一个错误
func (m *SyncTXManager) recoverBatch(ctx context.Context, txs []*SyncTransaction) error {
	if len(txs) == 0 {
		return nil
	}

	errCh := make(chan error)
	go func() {
		var wg sync.WaitGroup
		for _, tx := range txs {
			tx := tx
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := m.recoverTX(ctx, tx); err != nil {
					errCh <- err
				}
			}()
		}
		wg.Wait()
		close(errCh)
	}()

	var firstErr error
	for err := range errCh {
		if firstErr != nil {
			continue
		}
		firstErr = err
	}
	return firstErr
}

// recoverTX 恢复单个卡死的事务
// 卡在 prepare：尚未产生任何副作用，直接判定失败；
// 卡在 commit：正向数据已全部写入，补齐 commit 标记后判定成功；
// 卡在 execute/verify/rollback：按事务记录回滚到前置快照后判定失败。
// 不尝试从中间阶段向前续跑 —— 与在线重试同样的取舍
func (m *SyncTXManager) recoverTX(ctx context.Context, tx *SyncTransaction) error {
	log.InfoContextf(ctx, "recovering stuck transaction, sync id: %s, phase: %s, started: %s",
		tx.ID, tx.Phase, tx.StartedAt.Format(time.RFC3339))

	var err error
	switch tx.Phase {
	case PhasePrepare:
		err = m.finalizeRecovered(ctx, tx, PhaseFailed, "abandoned in prepare")
	case PhaseCommit:
		if markErr := m.txStore.MarkSynced(ctx, tx.ResourceID, tx.ID, time.Now()); markErr != nil {
			err = fmt.Errorf("re-mark synced: %w", markErr)
			break
		}
		err = m.finalizeRecovered(ctx, tx, PhaseCompleted, "")
	case PhaseExecute, PhaseVerify, PhaseRollback:
		if rbErr := m.rollbackFromRecord(ctx, tx); rbErr != nil {
			err = rbErr
			break
		}
		err = m.finalizeRecovered(ctx, tx, PhaseFailed, "rolled back by recovery sweep")
	default:
		// 终态事务不应该出现在这里，防御性跳过
		return nil
	}
	return err
}

// rollbackFromRecord 以持久化的事务记录为依据回滚
// 内存中的补偿栈已随崩溃丢失，改为按 operations log 判断哪些步骤执行过，
// 再从 PreSnapshot 还原两份本地拷贝（远端平台本来就不可回滚）
func (m *SyncTXManager) rollbackFromRecord(ctx context.Context, tx *SyncTransaction) error {
	relational := m.adapters.Relational
	vector := m.adapters.Vector

	touchedRelational := tx.hasOp(StepRelationalUpsert) || tx.hasOp(StepRelationalDelete)
	touchedVector := tx.hasOp(StepVectorReindex) || tx.hasOp(StepVectorDelete)

	if touchedRelational {
		if tx.PreSnapshot != nil {
			if _, err := relational.Upsert(ctx, tx.ResourceID, tx.PreSnapshot); err != nil {
				return fmt.Errorf("recovery restore relational: %w", err)
			}
		} else {
			if err := relational.Delete(ctx, tx.ResourceID); err != nil {
				return fmt.Errorf("recovery delete relational: %w", err)
			}
		}
	}
	if touchedVector || touchedRelational {
		// 向量索引永远从关系库推导，还原后无条件重建保证两份拷贝一致
		if tx.PreSnapshot != nil {
			if _, err := vector.Reindex(ctx, tx.ResourceID, tx.PreSnapshot); err != nil {
				return fmt.Errorf("recovery reindex vector: %w", err)
			}
		} else {
			if err := vector.DeleteAll(ctx, tx.ResourceID); err != nil {
				return fmt.Errorf("recovery clear vector: %w", err)
			}
		}
	}
	return nil
}

// finalizeRecovered 把恢复完成的事务写入终态，并释放它可能还持有的锁
func (m *SyncTXManager) finalizeRecovered(ctx context.Context, tx *SyncTransaction, phase Phase, reason string) error {
	if tx.LockToken != "" {
		// 锁早已过期被回收的话 Release 返回 false，无需处理
		if _, err := m.opts.Locks.Release(ctx, tx.ResourceID, tx.LockToken); err != nil {
			log.WarnContextf(ctx, "recovery release lock failed, sync id: %s, err: %v", tx.ID, err)
		}
	}

	tx.Phase = phase
	now := time.Now()
	tx.FinishedAt = &now
	if reason != "" {
		tx.LastError = reason
	}
	if err := m.txStore.UpdateTX(ctx, tx); err != nil {
		return fmt.Errorf("finalize recovered transaction: %w", err)
	}
	log.InfoContextf(ctx, "stuck transaction finalized, sync id: %s, phase: %s", tx.ID, phase)
	return nil
}
