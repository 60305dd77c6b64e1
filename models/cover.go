package models

import (
	"time"

	"gorm.io/gorm"
)

type BookCover struct {
	ID            string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	BookProjectID string    `gorm:"type:varchar(64);not null;index" json:"bookProjectId"`
	Variant       int       `json:"variant"`
	Style         string    `gorm:"type:varchar(100)" json:"style"`
	CoverType     string    `gorm:"type:varchar(32)" json:"coverType"`
	ImageURL      string    `gorm:"type:varchar(1024)" json:"imageUrl"`
	ThumbnailURL  string    `gorm:"type:varchar(1024)" json:"thumbnailUrl"`
	DesignPrompt  string    `gorm:"type:varchar(255)" json:"designPrompt"`
	IsSelected    bool      `json:"isSelected"`
	CreatedAt     time.Time `json:"createdAt"`
}

func (BookCover) TableName() string {
	return "book_cover"
}

func CreateCover(db *gorm.DB, c *BookCover) error {
	return db.Create(c).Error
}

// DeleteCovers clears a project's covers so the cover stage can rerun.
func DeleteCovers(db *gorm.DB, bookProjectID string) error {
	return db.Where("book_project_id = ?", bookProjectID).Delete(&BookCover{}).Error
}

func GetCovers(db *gorm.DB, bookProjectID string) ([]BookCover, error) {
	var covers []BookCover
	err := db.Where("book_project_id = ?", bookProjectID).Order("variant ASC").Find(&covers).Error
	return covers, err
}

// SelectedCover returns the selected cover, or nil when none was generated.
func SelectedCover(db *gorm.DB, bookProjectID string) (*BookCover, error) {
	var c BookCover
	err := db.Where("book_project_id = ? AND is_selected = ?", bookProjectID, true).
		Order("variant ASC").
		Limit(1).
		Find(&c).Error
	if err != nil {
		return nil, err
	}
	if c.ID == "" {
		return nil, nil
	}
	return &c, nil
}
