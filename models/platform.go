package models

import "time"

const (
	PlatformKDP        = "kdp"
	PlatformAppleBooks = "apple_books"
)

type PublishingPlatform struct {
	ID                string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	BookProjectID     string    `gorm:"type:varchar(64);not null;index" json:"bookProjectId"`
	Platform          string    `gorm:"type:varchar(32)" json:"platform"`
	PublishStatus     string    `gorm:"type:varchar(32)" json:"publishStatus"`
	URL               string    `gorm:"type:varchar(1024)" json:"url,omitempty"`
	TotalSalesCount   int       `json:"totalSalesCount"`
	TotalRevenueCents int64     `json:"totalRevenueCents"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

func (PublishingPlatform) TableName() string {
	return "publishing_platform"
}
