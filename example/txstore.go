package example

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/finikit/storesync/adapter"
	"github.com/finikit/storesync/errs"
	"github.com/finikit/storesync/example/pkg"
	"github.com/finikit/storesync/lock"
	"github.com/finikit/storesync/syncmanager"
)

// SyncTXRecordPO 事务记录表
type SyncTXRecordPO struct {
	ID               uint   `gorm:"primaryKey;autoIncrement"`
	SyncID           string `gorm:"column:sync_id;uniqueIndex"`
	ResourceID       string `gorm:"column:resource_id;index:idx_resource_kind_started"`
	Kind             string `gorm:"index:idx_resource_kind_started"`
	Phase            string `gorm:"index"`
	OperationsLog    string `gorm:"type:text"`
	PreSnapshot      string `gorm:"type:text"`
	Attempt          int
	MaxAttempts      int
	LockToken        string
	ConsistencyScore float64
	LastError        string    `gorm:"type:text"`
	StartedAt        time.Time `gorm:"index:idx_resource_kind_started"`
	FinishedAt       *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (SyncTXRecordPO) TableName() string {
	return "sync_transaction"
}

// SyncMarkerPO 资源的最近同步成功标记
type SyncMarkerPO struct {
	ID         uint      `gorm:"primaryKey;autoIncrement"`
	ResourceID string    `gorm:"column:resource_id;uniqueIndex"`
	SyncID     string    `gorm:"column:sync_id"`
	SyncedAt   time.Time `gorm:"column:synced_at"`
	UpdatedAt  time.Time
}

func (SyncMarkerPO) TableName() string {
	return "sync_marker"
}

// MySQLTXStore 基于 mysql 的事务日志存储
// 模块级锁落在 redis 上（通过 lock.Manager），多实例的恢复轮询互斥
type MySQLTXStore struct {
	db    *gorm.DB
	locks *lock.Manager

	mux       sync.Mutex
	lockToken string
}

func NewMySQLTXStore(db *gorm.DB, locks *lock.Manager) (*MySQLTXStore, error) {
	if err := db.AutoMigrate(&SyncTXRecordPO{}, &SyncMarkerPO{}); err != nil {
		return nil, err
	}
	return &MySQLTXStore{
		db:    db,
		locks: locks,
	}, nil
}

func (s *MySQLTXStore) CreateTX(ctx context.Context, tx *syncmanager.SyncTransaction) error {
	po, err := toPO(tx)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(po).Error
}

func (s *MySQLTXStore) UpdateTX(ctx context.Context, tx *syncmanager.SyncTransaction) error {
	po, err := toPO(tx)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).
		Model(&SyncTXRecordPO{}).
		Where("sync_id = ?", tx.ID).
		Updates(map[string]interface{}{
			"phase":             po.Phase,
			"operations_log":    po.OperationsLog,
			"attempt":           po.Attempt,
			"lock_token":        po.LockToken,
			"consistency_score": po.ConsistencyScore,
			"last_error":        po.LastError,
			"finished_at":       po.FinishedAt,
		}).Error
}

func (s *MySQLTXStore) GetTX(ctx context.Context, syncID string) (*syncmanager.SyncTransaction, error) {
	var po SyncTXRecordPO
	if err := s.db.WithContext(ctx).Where("sync_id = ?", syncID).First(&po).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return fromPO(&po)
}

func (s *MySQLTXStore) QueryRecent(ctx context.Context, resourceID string, kind syncmanager.Kind, since time.Time) ([]*syncmanager.SyncTransaction, error) {
	var pos []*SyncTXRecordPO
	if err := s.db.WithContext(ctx).
		Where("resource_id = ? AND kind = ? AND started_at >= ?", resourceID, string(kind), since).
		Order("started_at DESC").
		Find(&pos).Error; err != nil {
		return nil, err
	}
	return fromPOs(pos)
}

func (s *MySQLTXStore) GetStuckTXs(ctx context.Context, olderThan time.Time) ([]*syncmanager.SyncTransaction, error) {
	var pos []*SyncTXRecordPO
	if err := s.db.WithContext(ctx).
		Where("phase NOT IN ? AND started_at < ?",
			[]string{string(syncmanager.PhaseCompleted), string(syncmanager.PhaseFailed)}, olderThan).
		Find(&pos).Error; err != nil {
		return nil, err
	}
	return fromPOs(pos)
}

func (s *MySQLTXStore) MarkSynced(ctx context.Context, resourceID, syncID string, at time.Time) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "resource_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"sync_id", "synced_at"}),
		}).
		Create(&SyncMarkerPO{
			ResourceID: resourceID,
			SyncID:     syncID,
			SyncedAt:   at,
		}).Error
}

// Lock 锁住整个 TXStore，恢复轮询期间持有
func (s *MySQLTXStore) Lock(ctx context.Context, expire time.Duration) error {
	res, err := s.locks.Acquire(ctx, pkg.BuildTXStoreLockResource(), "recovery sweep", expire)
	if err != nil {
		return err
	}
	if !res.Granted {
		return fmt.Errorf("%w: txstore lock held for %v", errs.ErrLockConflict, res.HolderAge)
	}
	s.mux.Lock()
	s.lockToken = res.Token
	s.mux.Unlock()
	return nil
}

func (s *MySQLTXStore) Unlock(ctx context.Context) error {
	s.mux.Lock()
	token := s.lockToken
	s.lockToken = ""
	s.mux.Unlock()
	if token == "" {
		return nil
	}
	_, err := s.locks.Release(ctx, pkg.BuildTXStoreLockResource(), token)
	return err
}

func toPO(tx *syncmanager.SyncTransaction) (*SyncTXRecordPO, error) {
	ops, err := json.Marshal(tx.Operations)
	if err != nil {
		return nil, err
	}
	var pre []byte
	if tx.PreSnapshot != nil {
		if pre, err = json.Marshal(tx.PreSnapshot); err != nil {
			return nil, err
		}
	}
	return &SyncTXRecordPO{
		SyncID:           tx.ID,
		ResourceID:       tx.ResourceID,
		Kind:             string(tx.Kind),
		Phase:            string(tx.Phase),
		OperationsLog:    string(ops),
		PreSnapshot:      string(pre),
		Attempt:          tx.Attempt,
		MaxAttempts:      tx.MaxAttempts,
		LockToken:        tx.LockToken,
		ConsistencyScore: tx.ConsistencyScore,
		LastError:        tx.LastError,
		StartedAt:        tx.StartedAt,
		FinishedAt:       tx.FinishedAt,
	}, nil
}

func fromPO(po *SyncTXRecordPO) (*syncmanager.SyncTransaction, error) {
	tx := &syncmanager.SyncTransaction{
		ID:               po.SyncID,
		ResourceID:       po.ResourceID,
		Kind:             syncmanager.Kind(po.Kind),
		Phase:            syncmanager.Phase(po.Phase),
		Attempt:          po.Attempt,
		MaxAttempts:      po.MaxAttempts,
		LockToken:        po.LockToken,
		ConsistencyScore: po.ConsistencyScore,
		LastError:        po.LastError,
		StartedAt:        po.StartedAt,
		FinishedAt:       po.FinishedAt,
	}
	if po.OperationsLog != "" {
		if err := json.Unmarshal([]byte(po.OperationsLog), &tx.Operations); err != nil {
			return nil, err
		}
	}
	if po.PreSnapshot != "" {
		var snap adapter.Snapshot
		if err := json.Unmarshal([]byte(po.PreSnapshot), &snap); err != nil {
			return nil, err
		}
		tx.PreSnapshot = &snap
	}
	return tx, nil
}

func fromPOs(pos []*SyncTXRecordPO) ([]*syncmanager.SyncTransaction, error) {
	txs := make([]*syncmanager.SyncTransaction, 0, len(pos))
	for _, po := range pos {
		tx, err := fromPO(po)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, nil
}
