package api

import (
	"errors"
	"net/http"
	"time"

	"BookEmpire-server/middleware"
	"BookEmpire-server/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// progressEvent is pushed to the socket whenever status or progress changes.
type progressEvent struct {
	ID                 string `json:"id"`
	Status             string `json:"status"`
	GenerationProgress int    `json:"generationProgress"`
	CurrentStep        string `json:"currentStep,omitempty"`
	Error              string `json:"error,omitempty"`
}

func newProgressEvent(b *models.BookProject) progressEvent {
	ev := progressEvent{
		ID:                 b.ID,
		Status:             b.Status,
		GenerationProgress: b.GenerationProgress,
		Error:              b.ErrorMessage(),
	}
	if b.Metadata != nil {
		ev.CurrentStep, _ = b.Metadata["current_step"].(string)
	}
	return ev
}

// terminal reports whether no further updates can follow. A failed project
// is not terminal: the queue may retry it and flip it back to generating.
func (e progressEvent) terminal() bool {
	return e.Status == models.BookStatusCompleted
}

// BookProgressWebSocket polls the project row and pushes each change until
// the project completes or the client goes away.
// GET /api/books/:id/ws
func (h *Handler) BookProgressWebSocket(c *gin.Context) {
	user := middleware.CurrentUser(c)
	id := c.Param("id")

	book, err := models.GetUserBookProject(h.db, user.ID, id)
	if errors.Is(err, models.ErrNotFound) {
		h.respondError(c, errNotFound("Book not found"))
		return
	}
	if err != nil {
		h.respondError(c, errInternal(err))
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("book_project_id", id).Msg("websocket upgrade")
		return
	}
	defer conn.Close()

	// Detect client disconnects.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	prev := newProgressEvent(book)
	if err := conn.WriteJSON(prev); err != nil || prev.terminal() {
		return
	}

	ticker := time.NewTicker(h.wsPoll)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			return
		case <-ticker.C:
		}

		cur, err := models.GetBookProject(h.db, id)
		if err != nil {
			continue
		}
		ev := newProgressEvent(cur)
		if ev != prev {
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
			prev = ev
		}
		if ev.terminal() {
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ev.Status))
			return
		}
	}
}
