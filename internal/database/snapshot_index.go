package database

import (
	"context"
	"fmt"

	"github.com/sdko-org/opsedge/internal/cache"
	"github.com/sdko-org/opsedge/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SnapshotIndexStore mirrors the snapshot cache index into Postgres.
type SnapshotIndexStore struct {
	db *gorm.DB
}

var _ cache.IndexStore = (*SnapshotIndexStore)(nil)

func NewSnapshotIndexStore(db *gorm.DB) *SnapshotIndexStore {
	return &SnapshotIndexStore{db: db}
}

func (s *SnapshotIndexStore) Load(ctx context.Context) ([]cache.IndexRecord, error) {
	var rows []models.SnapshotIndex
	if err := s.db.WithContext(ctx).Order("stored_at").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load snapshot index: %w", err)
	}

	out := make([]cache.IndexRecord, len(rows))
	for i, row := range rows {
		out[i] = cache.IndexRecord{Key: row.Key, StoredAt: row.StoredAt, SizeBytes: row.SizeBytes}
	}
	return out, nil
}

func (s *SnapshotIndexStore) Save(ctx context.Context, rec cache.IndexRecord) error {
	row := models.SnapshotIndex{Key: rec.Key, StoredAt: rec.StoredAt, SizeBytes: rec.SizeBytes}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"stored_at", "size_bytes"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("save snapshot index %q: %w", rec.Key, err)
	}
	return nil
}

func (s *SnapshotIndexStore) Delete(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Where("key = ?", key).Delete(&models.SnapshotIndex{}).Error; err != nil {
		return fmt.Errorf("delete snapshot index %q: %w", key, err)
	}
	return nil
}

func (s *SnapshotIndexStore) Truncate(ctx context.Context) error {
	err := s.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.SnapshotIndex{}).Error
	if err != nil {
		return fmt.Errorf("truncate snapshot index: %w", err)
	}
	return nil
}
