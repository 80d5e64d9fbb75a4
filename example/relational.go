package example

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/finikit/storesync/adapter"
)

// SnapshotPO 关系库中的快照行，整个快照按 JSON 存储在 payload 列
type SnapshotPO struct {
	ID         uint      `gorm:"primaryKey;autoIncrement"`
	ResourceID string    `gorm:"column:resource_id;uniqueIndex"`
	Payload    string    `gorm:"type:mediumtext"`
	FetchedAt  time.Time `gorm:"column:fetched_at"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (SnapshotPO) TableName() string {
	return "resource_snapshot"
}

// MySQLRelational 基于 mysql 的关系库适配器，应用查询的事实来源
type MySQLRelational struct {
	db *gorm.DB
}

func NewMySQLRelational(db *gorm.DB) (*MySQLRelational, error) {
	if err := db.AutoMigrate(&SnapshotPO{}); err != nil {
		return nil, err
	}
	return &MySQLRelational{db: db}, nil
}

func (r *MySQLRelational) Upsert(ctx context.Context, resourceID string, snap *adapter.Snapshot) (*adapter.Snapshot, error) {
	prev, err := r.ReadCurrent(ctx, resourceID)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "resource_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"payload", "fetched_at"}),
		}).
		Create(&SnapshotPO{
			ResourceID: resourceID,
			Payload:    string(payload),
			FetchedAt:  snap.FetchedAt,
		}).Error; err != nil {
		return nil, err
	}
	return prev, nil
}

func (r *MySQLRelational) ReadCurrent(ctx context.Context, resourceID string) (*adapter.Snapshot, error) {
	var po SnapshotPO
	if err := r.db.WithContext(ctx).Where("resource_id = ?", resourceID).First(&po).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var snap adapter.Snapshot
	if err := json.Unmarshal([]byte(po.Payload), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (r *MySQLRelational) Delete(ctx context.Context, resourceID string) error {
	return r.db.WithContext(ctx).Where("resource_id = ?", resourceID).Delete(&SnapshotPO{}).Error
}
