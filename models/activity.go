package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	ActivityGenerationStarted   = "book_generation_started"
	ActivityGenerationCompleted = "book_generation_completed"
	ActivityExport              = "export_book"
)

// ActivityLog is an append-only audit trail of user-visible actions.
type ActivityLog struct {
	ID            string            `gorm:"primaryKey;type:varchar(64)" json:"id"`
	UserID        string            `gorm:"type:varchar(64);not null;index" json:"userId"`
	BookProjectID *string           `gorm:"type:varchar(64);index" json:"bookProjectId,omitempty"`
	Action        string            `gorm:"type:varchar(64);not null" json:"action"`
	Description   string            `gorm:"type:varchar(1024)" json:"description"`
	Metadata      datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
}

func (ActivityLog) TableName() string {
	return "activity_log"
}

func LogActivity(db *gorm.DB, userID, bookProjectID, action, description string, metadata map[string]interface{}) error {
	entry := ActivityLog{
		ID:          uuid.NewString(),
		UserID:      userID,
		Action:      action,
		Description: description,
		Metadata:    datatypes.JSONMap(metadata),
	}
	if bookProjectID != "" {
		entry.BookProjectID = &bookProjectID
	}
	return db.Create(&entry).Error
}

func ListActivity(db *gorm.DB, userID string, limit int) ([]ActivityLog, error) {
	var entries []ActivityLog
	err := db.Where("user_id = ?", userID).Order("created_at DESC").Limit(limit).Find(&entries).Error
	return entries, err
}
