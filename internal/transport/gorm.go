package transport

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sdko-org/opsedge/internal/activity"
	"github.com/sdko-org/opsedge/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormTransport writes records straight into the activity_logs table.
type GormTransport struct {
	db *gorm.DB
}

var _ activity.Transport = (*GormTransport)(nil)

func NewGormTransport(db *gorm.DB) *GormTransport {
	return &GormTransport{db: db}
}

func (t *GormTransport) SendBatch(ctx context.Context, records []activity.LogRecord) error {
	if len(records) == 0 {
		return nil
	}

	rows := make([]models.ActivityLog, len(records))
	for i, rec := range records {
		row, err := toActivityLog(rec)
		if err != nil {
			return err
		}
		rows[i] = row
	}

	err := t.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(rows, len(rows)).Error
	if err != nil {
		return fmt.Errorf("insert activity batch: %w", err)
	}
	return nil
}

func (t *GormTransport) Send(ctx context.Context, record activity.LogRecord) error {
	row, err := toActivityLog(record)
	if err != nil {
		return err
	}
	if err := t.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		return fmt.Errorf("insert activity %s: %w", record.ID, err)
	}
	return nil
}

func toActivityLog(rec activity.LogRecord) (models.ActivityLog, error) {
	metadata := "{}"
	if len(rec.Metadata) > 0 {
		raw, err := json.Marshal(rec.Metadata)
		if err != nil {
			return models.ActivityLog{}, fmt.Errorf("encode metadata for %s: %w", rec.ID, err)
		}
		metadata = string(raw)
	}

	return models.ActivityLog{
		ID:            rec.ID,
		Timestamp:     rec.Timestamp,
		Action:        string(rec.Action),
		Category:      string(rec.Category),
		Resource:      rec.Resource,
		Description:   rec.Description,
		ActorID:       rec.ActorID,
		ActorName:     rec.ActorName,
		ActorEmail:    rec.ActorEmail,
		SourceAddress: rec.SourceAddress,
		AgentString:   rec.AgentString,
		Status:        string(rec.Status),
		Metadata:      metadata,
	}, nil
}
