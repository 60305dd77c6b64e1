package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"BookEmpire-server/export"
	"BookEmpire-server/metrics"
	"BookEmpire-server/middleware"
	"BookEmpire-server/models"

	"github.com/gin-gonic/gin"
)

const exportUploadTimeout = 30 * time.Second

// ExportBook renders a completed project and streams it as an attachment.
// GET /api/books/:id/export?format=pdf|epub
func (h *Handler) ExportBook(c *gin.Context) {
	user := middleware.CurrentUser(c)

	format, err := export.ParseFormat(c.Query("format"))
	switch {
	case errors.Is(err, export.ErrNotImplemented):
		h.respondError(c, &HTTPError{
			Code:    http.StatusNotImplemented,
			Message: fmt.Sprintf("%s export coming soon", strings.ToUpper(string(format))),
		})
		return
	case err != nil:
		h.respondError(c, errBadRequest("Invalid export format", err))
		return
	}

	book, err := models.GetUserBookProject(h.db, user.ID, c.Param("id"))
	if errors.Is(err, models.ErrNotFound) {
		h.respondError(c, errNotFound("Book not found"))
		return
	}
	if err != nil {
		h.respondError(c, errInternal(err))
		return
	}
	if book.Status != models.BookStatusCompleted {
		h.respondError(c, errBadRequest("Book generation not completed yet", nil))
		return
	}

	chapters, err := models.GetChapters(h.db, book.ID)
	if err != nil {
		h.respondError(c, errInternal(err))
		return
	}

	doc, err := h.renderer.Render(export.Book{Project: book, Chapters: chapters}, format)
	if err != nil {
		h.respondError(c, errInternal(fmt.Errorf("render %s: %w", format, err)))
		return
	}
	metrics.ExportsTotal.WithLabelValues(string(format)).Inc()

	fileURL := h.archiveExport(c.Request.Context(), book.ID, doc)
	meta := map[string]interface{}{"format": string(format)}
	if fileURL != "" {
		meta["fileUrl"] = fileURL
	}
	if err := models.LogActivity(h.db, user.ID, book.ID, models.ActivityExport,
		fmt.Sprintf("Exported %q as %s", book.Title, strings.ToUpper(string(format))), meta); err != nil {
		h.log.Warn().Err(err).Str("book_project_id", book.ID).Msg("log export activity")
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, doc.Filename))
	c.Header("Content-Length", strconv.Itoa(len(doc.Data)))
	c.Data(http.StatusOK, doc.ContentType, doc.Data)
}

// archiveExport keeps a copy of the document in object storage. Failures
// are logged and do not affect the download.
func (h *Handler) archiveExport(ctx context.Context, bookID string, doc *export.Document) string {
	if h.store == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, exportUploadTimeout)
	defer cancel()

	object := fmt.Sprintf("books/%s/%s/%s", bookID, doc.Format, doc.Filename)
	url, err := h.store.Upload(ctx, object, bytes.NewReader(doc.Data), int64(len(doc.Data)), doc.ContentType)
	if err != nil {
		h.log.Warn().Err(err).Str("book_project_id", bookID).Str("object", object).Msg("archive export")
		return ""
	}
	return url
}

// PublishingMetadata returns store listing metadata for a completed project.
// GET /api/books/:id/publishing/:platform
func (h *Handler) PublishingMetadata(c *gin.Context) {
	user := middleware.CurrentUser(c)

	book, err := models.GetUserBookProject(h.db, user.ID, c.Param("id"))
	if errors.Is(err, models.ErrNotFound) {
		h.respondError(c, errNotFound("Book not found"))
		return
	}
	if err != nil {
		h.respondError(c, errInternal(err))
		return
	}
	if book.Status != models.BookStatusCompleted {
		h.respondError(c, errBadRequest("Book generation not completed yet", nil))
		return
	}

	meta, ok := export.PrepareStoreMetadata(c.Param("platform"), book)
	if !ok {
		h.respondError(c, errBadRequest("Unsupported publishing platform", nil))
		return
	}
	c.JSON(http.StatusOK, meta)
}
