package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	ChapterStatusPending   = "pending"
	ChapterStatusCompleted = "completed"
)

type BookChapter struct {
	ID              string     `gorm:"primaryKey;type:varchar(64)" json:"id"`
	BookProjectID   string     `gorm:"type:varchar(64);not null;uniqueIndex:idx_book_chapter_number,priority:1" json:"bookProjectId"`
	ChapterNumber   int        `gorm:"not null;uniqueIndex:idx_book_chapter_number,priority:2" json:"chapterNumber"`
	Title           string     `gorm:"type:varchar(500)" json:"title"`
	Outline         string     `gorm:"type:text" json:"outline,omitempty"`
	TargetWordCount int        `json:"targetWordCount,omitempty"`
	Content         string     `gorm:"type:longtext" json:"content,omitempty"`
	WordCount       int        `json:"wordCount"`
	Status          string     `gorm:"type:varchar(32)" json:"status"`
	GeneratedAt     *time.Time `json:"generatedAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

func (BookChapter) TableName() string {
	return "book_chapter"
}

func BatchCreateChapters(db *gorm.DB, chapters []BookChapter) error {
	if len(chapters) == 0 {
		return nil
	}
	for i := range chapters {
		if chapters[i].ID == "" {
			chapters[i].ID = uuid.NewString()
		}
	}
	return db.Create(&chapters).Error
}

// GetChapters returns a project's chapters in reading order.
func GetChapters(db *gorm.DB, bookProjectID string) ([]BookChapter, error) {
	var chapters []BookChapter
	err := db.Where("book_project_id = ?", bookProjectID).
		Order("chapter_number ASC").
		Find(&chapters).Error
	return chapters, err
}

// Complete stores the drafted text of a chapter.
func (c *BookChapter) Complete(db *gorm.DB, content string, wordCount int) error {
	now := time.Now()
	updates := map[string]interface{}{
		"content":      content,
		"word_count":   wordCount,
		"status":       ChapterStatusCompleted,
		"generated_at": now,
		"updated_at":   now,
	}
	if err := db.Model(c).Updates(updates).Error; err != nil {
		return err
	}
	c.Content = content
	c.WordCount = wordCount
	c.Status = ChapterStatusCompleted
	c.GeneratedAt = &now
	return nil
}

// SumChapterWords totals the word counts persisted for a project.
func SumChapterWords(db *gorm.DB, bookProjectID string) (int, error) {
	var total int64
	err := db.Model(&BookChapter{}).
		Where("book_project_id = ?", bookProjectID).
		Select("COALESCE(SUM(word_count), 0)").
		Scan(&total).Error
	return int(total), err
}
