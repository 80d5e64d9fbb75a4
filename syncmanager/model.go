package syncmanager

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/finikit/storesync/adapter"
	"github.com/finikit/storesync/errs"
)

// Kind 同步类型，决定需要执行哪些阶段
type Kind string

const (
	// KindFull 全量同步，带 verify 阶段
	KindFull Kind = "full"
	// KindIncremental 增量同步，默认不做 verify
	KindIncremental Kind = "incremental"
	// KindCleanup 清理同步，删除资源在关系库与向量索引中的数据
	KindCleanup Kind = "cleanup"
)

// Phase 事务阶段
// 只允许单向推进，唯一的例外是失败时的 execute/verify/commit -> rollback
type Phase string

const (
	PhasePrepare   Phase = "prepare"
	PhaseExecute   Phase = "execute"
	PhaseVerify    Phase = "verify"
	PhaseCommit    Phase = "commit"
	PhaseRollback  Phase = "rollback"
	PhaseCompleted Phase = "completed"
	PhaseFailed    Phase = "failed"
)

// Active 是否处于进行中的阶段（同一资源同时只允许一个活跃事务，由资源锁保证）
func (p Phase) Active() bool {
	switch p {
	case PhasePrepare, PhaseExecute, PhaseVerify, PhaseCommit, PhaseRollback:
		return true
	}
	return false
}

// Terminal 是否为终态
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// 正向步骤名，记录进 operations log
const (
	StepPlatformFetch    = "platform_fetch"
	StepRelationalUpsert = "relational_upsert"
	StepVectorReindex    = "vector_reindex"
	StepVectorDelete     = "vector_delete"
	StepRelationalDelete = "relational_delete"
	StepVerify           = "verify"
	StepCommitMarker     = "commit_marker"
)

// Operation 一条已完成的正向步骤记录，append-only
type Operation struct {
	Step   string    `json:"step"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// compensation 一个正向步骤的补偿动作
// 只会在对应步骤成功落进 operations log 之后入栈，回滚时逆序执行
type compensation struct {
	step string
	undo func(ctx context.Context) error
}

// SyncTransaction 一次跨系统同步事务的完整记录
type SyncTransaction struct {
	ID         string `json:"id"`
	ResourceID string `json:"resourceID"`
	Kind       Kind   `json:"kind"`
	Phase      Phase  `json:"phase"`
	// Operations 已完成的正向步骤，回滚与故障恢复都以它为依据
	Operations []Operation `json:"operations"`
	// PreSnapshot 事务开始前关系库中的快照，回滚与崩溃恢复的还原目标；
	// nil 代表事务开始前资源在关系库中不存在
	PreSnapshot *adapter.Snapshot `json:"preSnapshot,omitempty"`
	Attempt     int               `json:"attempt"`
	MaxAttempts int               `json:"maxAttempts"`
	// LockToken 当前持有资源锁的凭证，释放锁时必须出示
	LockToken        string     `json:"lockToken,omitempty"`
	ConsistencyScore float64    `json:"consistencyScore"`
	StartedAt        time.Time  `json:"startedAt"`
	FinishedAt       *time.Time `json:"finishedAt,omitempty"`
	LastError        string     `json:"lastError,omitempty"`
}

// NewSyncTransaction 创建事务记录
// id 全局唯一：资源 id + 毫秒时间戳 + 随机后缀，同时用于幂等与日志串联
func NewSyncTransaction(resourceID string, kind Kind, attempt, maxAttempts int) *SyncTransaction {
	return &SyncTransaction{
		ID:          fmt.Sprintf("sync-%s-%d-%s", resourceID, time.Now().UnixMilli(), uuid.NewString()[:8]),
		ResourceID:  resourceID,
		Kind:        kind,
		Phase:       PhasePrepare,
		Attempt:     attempt,
		MaxAttempts: maxAttempts,
		StartedAt:   time.Now(),
	}
}

// appendOp 追加一条正向步骤记录
func (t *SyncTransaction) appendOp(step, detail string) {
	t.Operations = append(t.Operations, Operation{
		Step:   step,
		Detail: detail,
		At:     time.Now(),
	})
}

// hasOp 判断某个正向步骤是否已经执行完成
func (t *SyncTransaction) hasOp(step string) bool {
	for _, op := range t.Operations {
		if op.Step == step {
			return true
		}
	}
	return false
}

// Result 调用方可见的同步结果
// 内部的所有细节都收敛在 Err 与 ErrorClass 两个字段里，不暴露中间状态
type Result struct {
	Success          bool
	SyncID           string
	ResourceID       string
	Kind             Kind
	Phase            Phase
	Err              error
	ErrorClass       string
	Operations       []Operation
	Attempt          int
	ConsistencyScore float64
	Duration         time.Duration
}

// errorClass 错误到机器可读分类标签的映射，供调用方编程处理
func errorClass(err error) string {
	switch {
	case err == nil:
		return ""
	case errs.Any(err, errs.ErrLockConflict):
		return "lock_conflict"
	case errs.Any(err, errs.ErrDuplicateTransaction):
		return "duplicate_transaction"
	case errs.Any(err, errs.ErrCircuitOpen):
		return "circuit_open"
	case errs.Any(err, errs.ErrCapacityExceeded):
		return "capacity_exceeded"
	case errs.Any(err, errs.ErrRollbackPartialFailure):
		return "rollback_partial_failure"
	case errs.Any(err, errs.ErrConsistencyViolation):
		return "consistency_violation"
	case errs.Any(err, errs.ErrAuth):
		return "auth_error"
	case errs.Any(err, errs.ErrNotFound):
		return "not_found"
	case errs.Any(err, errs.ErrTimeout):
		return "timeout"
	case errs.Classify(err) == errs.KindTransient:
		return "transient_remote_error"
	default:
		return "permanent_remote_error"
	}
}
