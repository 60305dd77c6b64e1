package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"BookEmpire-server/metrics"
	"BookEmpire-server/middleware"
	"BookEmpire-server/models"
	"BookEmpire-server/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	defaultTargetWordCount = 50000
	defaultListLimit       = 10
	maxListLimit           = 100
)

type generateRequest struct {
	Title           string `json:"title" binding:"required,min=1,max=500"`
	Subtitle        string `json:"subtitle" binding:"max=500"`
	AuthorName      string `json:"authorName" binding:"required,min=1,max=255"`
	InputType       string `json:"inputType" binding:"required,oneof=topic website keywords outline research"`
	InputContent    string `json:"inputContent" binding:"required,min=1"`
	TargetWordCount *int   `json:"targetWordCount" binding:"omitempty,min=10000,max=200000"`
	Genre           string `json:"genre" binding:"max=100"`
	TargetAudience  string `json:"targetAudience" binding:"max=255"`
	Language        string `json:"language" binding:"max=16"`
}

type bookSummary struct {
	ID                 string `json:"id"`
	Title              string `json:"title"`
	Status             string `json:"status"`
	GenerationProgress int    `json:"generationProgress"`
}

// GenerateBook validates the request, reserves one unit of quota together
// with the new project and queues the pipeline.
// POST /api/books/generate
func (h *Handler) GenerateBook(c *gin.Context) {
	user := middleware.CurrentUser(c)

	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, errValidation(err))
		return
	}
	targetWords := defaultTargetWordCount
	if req.TargetWordCount != nil {
		targetWords = *req.TargetWordCount
	}
	if req.Language == "" {
		req.Language = "en"
	}

	book := &models.BookProject{
		ID:              uuid.NewString(),
		UserID:          user.ID,
		Title:           req.Title,
		Subtitle:        req.Subtitle,
		AuthorName:      req.AuthorName,
		InputType:       req.InputType,
		InputContent:    req.InputContent,
		TargetWordCount: targetWords,
		Genre:           req.Genre,
		TargetAudience:  req.TargetAudience,
		Language:        req.Language,
		Status:          models.BookStatusGenerating,
	}

	err := h.db.Transaction(func(tx *gorm.DB) error {
		if err := models.ReserveBookQuota(tx, user.ID); err != nil {
			return err
		}
		if err := models.CreateBookProject(tx, book); err != nil {
			return fmt.Errorf("create project: %w", err)
		}
		return models.LogActivity(tx, user.ID, book.ID, models.ActivityGenerationStarted,
			fmt.Sprintf("Started generating %q", book.Title),
			map[string]interface{}{"inputType": book.InputType})
	})
	if errors.Is(err, models.ErrQuotaExceeded) {
		h.quotaExceeded(c, user)
		return
	}
	if err != nil {
		h.respondError(c, errInternal(err))
		return
	}

	payload := service.BookPayload{
		BookProjectID: book.ID,
		UserID:        user.ID,
		Config: service.GenerationConfig{
			TargetWordCount: book.TargetWordCount,
			Genre:           book.Genre,
			Language:        book.Language,
		},
	}
	if err := h.queue.EnqueueBookGeneration(payload, user.SubscriptionTier); err != nil {
		if rerr := models.RefundBookQuota(h.db, user.ID); rerr != nil {
			h.log.Error().Err(rerr).Str("user_id", user.ID).Msg("refund quota")
		}
		if merr := models.MarkBookFailed(h.db, book.ID, "Queueing", "could not queue generation"); merr != nil {
			h.log.Error().Err(merr).Str("book_project_id", book.ID).Msg("mark project failed")
		}
		h.respondError(c, errInternal(fmt.Errorf("enqueue %s: %w", book.ID, err)))
		return
	}

	metrics.BooksRequestedTotal.WithLabelValues(user.SubscriptionTier).Inc()
	h.log.Info().Str("user_id", user.ID).Str("book_project_id", book.ID).
		Int("target_word_count", book.TargetWordCount).Msg("book generation queued")

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"bookProject": bookSummary{
			ID:                 book.ID,
			Title:              book.Title,
			Status:             book.Status,
			GenerationProgress: book.GenerationProgress,
		},
		"message": "Book generation started. This may take 5-10 minutes.",
	})
}

func (h *Handler) quotaExceeded(c *gin.Context, user *models.User) {
	limit, used := user.MonthlyBookLimit, user.BooksGeneratedCount
	if fresh, err := models.GetUserByID(h.db, user.ID); err == nil {
		limit, used = fresh.MonthlyBookLimit, fresh.BooksGeneratedCount
	}
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
		"error": "Monthly book generation limit reached. Please upgrade your plan.",
		"limit": limit,
		"used":  used,
	})
}

// ListBooks GET /api/books?limit=&offset=&status=
func (h *Handler) ListBooks(c *gin.Context) {
	user := middleware.CurrentUser(c)

	limit := queryInt(c, "limit", defaultListLimit)
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := queryInt(c, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	books, total, err := models.ListBookProjects(h.db, user.ID, c.Query("status"), limit, offset)
	if err != nil {
		h.respondError(c, errInternal(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"books": books,
		"pagination": gin.H{
			"total":   total,
			"limit":   limit,
			"offset":  offset,
			"hasMore": int64(offset+limit) < total,
		},
	})
}

// GetBook GET /api/books/:id
func (h *Handler) GetBook(c *gin.Context) {
	user := middleware.CurrentUser(c)
	book, err := models.GetBookDetail(h.db, user.ID, c.Param("id"))
	if errors.Is(err, models.ErrNotFound) {
		h.respondError(c, errNotFound("Book not found"))
		return
	}
	if err != nil {
		h.respondError(c, errInternal(err))
		return
	}
	c.JSON(http.StatusOK, book)
}

// Me GET /api/me
func (h *Handler) Me(c *gin.Context) {
	user := middleware.CurrentUser(c)
	fresh, err := models.GetUserByID(h.db, user.ID)
	if err != nil {
		h.respondError(c, errInternal(err))
		return
	}
	c.JSON(http.StatusOK, fresh)
}

func queryInt(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
