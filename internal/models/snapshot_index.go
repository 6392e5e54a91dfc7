package models

import (
	"time"
)

type SnapshotIndex struct {
	Key       string    `gorm:"primaryKey;type:varchar(512);not null"`
	StoredAt  time.Time `gorm:"index;not null"`
	SizeBytes int64     `gorm:"not null;default:0"`
}

func (SnapshotIndex) TableName() string {
	return "snapshot_index"
}
