package models

import (
	"time"
)

type ActivityLog struct {
	ID            string    `gorm:"primaryKey;type:varchar(36)"`
	Timestamp     time.Time `gorm:"index;not null"`
	Action        string    `gorm:"type:varchar(32);not null;index"`
	Category      string    `gorm:"type:varchar(32);not null;index"`
	Resource      string    `gorm:"type:text"`
	Description   string    `gorm:"type:text"`
	ActorID       string    `gorm:"type:varchar(64);index"`
	ActorName     string    `gorm:"type:varchar(255)"`
	ActorEmail    string    `gorm:"type:varchar(255)"`
	SourceAddress string    `gorm:"type:varchar(45)"`
	AgentString   string    `gorm:"type:text"`
	Status        string    `gorm:"type:varchar(16);not null"`
	Metadata      string    `gorm:"type:jsonb"`
	ReceivedAt    time.Time `gorm:"autoCreateTime"`
}

func (ActivityLog) TableName() string {
	return "activity_logs"
}
