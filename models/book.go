package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	BookStatusGenerating = "generating"
	BookStatusCompleted  = "completed"
	BookStatusFailed     = "failed"
)

// Generation checkpoints: the last pipeline stage whose output is persisted.
const (
	StageNone      = ""
	StageOutlined  = "outlined"
	StageDrafted   = "drafted"
	StageCovered   = "covered"
	StageOptimized = "optimized"
	StageCompleted = "completed"
)

var stageOrder = map[string]int{
	StageNone:      0,
	StageOutlined:  1,
	StageDrafted:   2,
	StageCovered:   3,
	StageOptimized: 4,
	StageCompleted: 5,
}

// StageReached reports whether checkpoint current is at or past target.
func StageReached(current, target string) bool {
	return stageOrder[current] >= stageOrder[target]
}

const (
	InputTopic    = "topic"
	InputWebsite  = "website"
	InputKeywords = "keywords"
	InputOutline  = "outline"
	InputResearch = "research"
)

type BookProject struct {
	ID                    string                      `gorm:"primaryKey;type:varchar(64)" json:"id"`
	UserID                string                      `gorm:"type:varchar(64);not null;index" json:"userId"`
	Title                 string                      `gorm:"type:varchar(500);not null" json:"title"`
	Subtitle              string                      `gorm:"type:varchar(500)" json:"subtitle,omitempty"`
	AuthorName            string                      `gorm:"type:varchar(255)" json:"authorName"`
	Description           string                      `gorm:"type:text" json:"description,omitempty"`
	InputType             string                      `gorm:"type:varchar(32)" json:"inputType"`
	InputContent          string                      `gorm:"type:text" json:"inputContent,omitempty"`
	TargetWordCount       int                         `json:"targetWordCount"`
	Genre                 string                      `gorm:"type:varchar(100)" json:"genre,omitempty"`
	TargetAudience        string                      `gorm:"type:varchar(255)" json:"targetAudience,omitempty"`
	Language              string                      `gorm:"type:varchar(16)" json:"language"`
	Status                string                      `gorm:"type:varchar(32);not null;index" json:"status"`
	GenerationStage       string                      `gorm:"type:varchar(32)" json:"generationStage"`
	GenerationProgress    int                         `json:"generationProgress"`
	Attempts              int                         `json:"attempts"`
	ActualWordCount       int                         `json:"actualWordCount"`
	SeoKeywords           datatypes.JSONSlice[string] `json:"seoKeywords"`
	CoverURL              string                      `gorm:"type:varchar(1024)" json:"coverUrl,omitempty"`
	Metadata              datatypes.JSONMap           `json:"metadata,omitempty"`
	GenerationStartedAt   *time.Time                  `json:"generationStartedAt,omitempty"`
	GenerationCompletedAt *time.Time                  `json:"generationCompletedAt,omitempty"`
	CreatedAt             time.Time                   `gorm:"index" json:"createdAt"`
	UpdatedAt             time.Time                   `json:"updatedAt"`

	Chapters            []BookChapter        `gorm:"foreignKey:BookProjectID;constraint:OnDelete:CASCADE" json:"chapters,omitempty"`
	Covers              []BookCover          `gorm:"foreignKey:BookProjectID;constraint:OnDelete:CASCADE" json:"covers,omitempty"`
	PublishingPlatforms []PublishingPlatform `gorm:"foreignKey:BookProjectID;constraint:OnDelete:CASCADE" json:"publishingPlatforms,omitempty"`
}

func (BookProject) TableName() string {
	return "book_project"
}

// ErrorMessage returns the failure recorded by the pipeline, if any.
func (b *BookProject) ErrorMessage() string {
	if b.Metadata == nil {
		return ""
	}
	s, _ := b.Metadata["error"].(string)
	return s
}

func CreateBookProject(db *gorm.DB, b *BookProject) error {
	return db.Omit("Chapters", "Covers", "PublishingPlatforms").Create(b).Error
}

func GetBookProject(db *gorm.DB, id string) (*BookProject, error) {
	var b BookProject
	if err := db.First(&b, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &b, nil
}

// GetUserBookProject loads a project only if userID owns it.
func GetUserBookProject(db *gorm.DB, userID, id string) (*BookProject, error) {
	var b BookProject
	if err := db.First(&b, "id = ? AND user_id = ?", id, userID).Error; err != nil {
		return nil, notFound(err)
	}
	return &b, nil
}

// GetBookDetail loads a project with chapter summaries, covers and
// publishing platforms.
func GetBookDetail(db *gorm.DB, userID, id string) (*BookProject, error) {
	var b BookProject
	err := db.
		Preload("Chapters", func(tx *gorm.DB) *gorm.DB {
			return tx.Select("id", "book_project_id", "chapter_number", "title", "status", "word_count").
				Order("chapter_number ASC")
		}).
		Preload("Covers", func(tx *gorm.DB) *gorm.DB { return tx.Order("variant ASC") }).
		Preload("PublishingPlatforms").
		First(&b, "id = ? AND user_id = ?", id, userID).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &b, nil
}

// ListBookProjects pages through a user's projects, newest first.
func ListBookProjects(db *gorm.DB, userID, status string, limit, offset int) ([]BookProject, int64, error) {
	q := db.Model(&BookProject{}).Where("user_id = ?", userID)
	if status != "" {
		q = q.Where("status = ?", status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var books []BookProject
	err := q.Select("id", "user_id", "title", "subtitle", "author_name", "status", "generation_progress",
		"actual_word_count", "target_word_count", "cover_url", "genre", "language", "created_at", "updated_at").
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&books).Error
	if err != nil {
		return nil, 0, err
	}
	return books, total, nil
}

// UpdateBookProgress raises the progress of a generating project. Lower
// values are ignored so progress never moves backwards.
func UpdateBookProgress(db *gorm.DB, id string, progress int, step string) error {
	return db.Model(&BookProject{}).
		Where("id = ? AND status = ? AND generation_progress <= ?", id, BookStatusGenerating, progress).
		Updates(map[string]interface{}{
			"generation_progress": progress,
			"metadata":            datatypes.JSONMap{"current_step": step},
			"updated_at":          time.Now(),
		}).Error
}

// BeginBookAttempt flips a project (back) to generating at the start of a
// pipeline attempt.
func BeginBookAttempt(db *gorm.DB, id string) error {
	now := time.Now()
	res := db.Model(&BookProject{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":                BookStatusGenerating,
		"attempts":              gorm.Expr("attempts + 1"),
		"generation_started_at": gorm.Expr("COALESCE(generation_started_at, ?)", now),
		"updated_at":            now,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetBookStage records a checkpoint together with any stage output columns.
func SetBookStage(db *gorm.DB, id, stage string, fields map[string]interface{}) error {
	updates := map[string]interface{}{
		"generation_stage": stage,
		"updated_at":       time.Now(),
	}
	for k, v := range fields {
		updates[k] = v
	}
	return db.Model(&BookProject{}).Where("id = ?", id).Updates(updates).Error
}

func MarkBookFailed(db *gorm.DB, id, step, errMsg string) error {
	return db.Model(&BookProject{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":     BookStatusFailed,
		"metadata":   datatypes.JSONMap{"current_step": step, "error": errMsg},
		"updated_at": time.Now(),
	}).Error
}

// CompleteBook is the only write that sets progress to 100.
func CompleteBook(db *gorm.DB, id string, keywords []string, coverURL string) error {
	now := time.Now()
	return db.Model(&BookProject{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":                  BookStatusCompleted,
		"generation_stage":        StageCompleted,
		"generation_progress":     100,
		"seo_keywords":            datatypes.JSONSlice[string](keywords),
		"cover_url":               coverURL,
		"metadata":                datatypes.JSONMap{"current_step": "Completed"},
		"generation_completed_at": now,
		"updated_at":              now,
	}).Error
}
