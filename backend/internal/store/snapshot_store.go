package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CanvasSnapshot is one persisted document per canvas: the full element map,
// tombstones included, in the store's mergeable encoding.
type CanvasSnapshot struct {
	CanvasID  string    `gorm:"primaryKey;size:64"`
	Data      []byte    `gorm:"type:mediumblob;not null"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (CanvasSnapshot) TableName() string { return "canvas_snapshots" }

// SnapshotStore is the MySQL-backed persistence gateway.
type SnapshotStore struct {
	db *gorm.DB
}

func NewSnapshotStore(db *gorm.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

func (s *SnapshotStore) Fetch(ctx context.Context, canvasID string) ([]byte, error) {
	var snap CanvasSnapshot
	err := s.db.WithContext(ctx).First(&snap, "canvas_id = ?", canvasID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return snap.Data, nil
}

func (s *SnapshotStore) Store(ctx context.Context, canvasID string, data []byte) error {
	snap := CanvasSnapshot{CanvasID: canvasID, Data: data}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "canvas_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
		}).
		Create(&snap).Error
}
