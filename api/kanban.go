package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/chxlky/boardsync/apply"
	"github.com/chxlky/boardsync/database"
	"github.com/chxlky/boardsync/internal/events"
	"github.com/chxlky/boardsync/internal/models"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type createCardRequest struct {
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Column      models.Column `json:"column"`
	Agent       *string       `json:"agent"`
	Tokens      int64         `json:"tokens"`
	StartAt     *time.Time    `json:"start_at"`
	EndAt       *time.Time    `json:"end_at"`
	Tags        string        `json:"tags"`
}

type commentRequest struct {
	Author  string `json:"author"`
	Content string `json:"content"`
	Source  string `json:"source"`
}

func (h *Handler) ListBoardsHandler(c *gin.Context) {
	boards, err := h.Store.ListBoards(c.Request.Context())
	if err != nil {
		h.Logger.Error("Failed to list boards", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed"})
		return
	}
	if boards == nil {
		boards = []models.Board{}
	}
	c.JSON(http.StatusOK, boards)
}

func (h *Handler) BoardHandler(c *gin.Context) {
	ctx := c.Request.Context()
	board, err := h.Store.BoardBySlug(ctx, c.Param("slug"))
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Board not found"})
		return
	}
	if err != nil {
		h.Logger.Error("Failed to load board", zap.String("slug", c.Param("slug")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed"})
		return
	}

	cards, err := h.Store.CardsForBoard(ctx, board.ID)
	if err != nil {
		h.Logger.Error("Failed to load cards", zap.Uint("boardID", board.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed"})
		return
	}
	if cards == nil {
		cards = []models.Card{}
	}
	c.JSON(http.StatusOK, gin.H{"board": board, "cards": cards})
}

// CreateCardHandler goes through the applier like any synced event so that
// observers see web edits too.
func (h *Handler) CreateCardHandler(c *gin.Context) {
	board, err := h.Store.BoardBySlug(c.Request.Context(), c.Param("slug"))
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Board not found"})
		return
	}
	if err != nil {
		h.Logger.Error("Failed to load board", zap.String("slug", c.Param("slug")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed"})
		return
	}

	var req createCardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Title required"})
		return
	}

	res, ok := h.applyLocal(c, events.CardCreate, events.CardCreateData{
		BoardID:     board.ID,
		Title:       req.Title,
		Description: req.Description,
		Column:      req.Column,
		Agent:       req.Agent,
		Tokens:      req.Tokens,
		StartAt:     req.StartAt,
		EndAt:       req.EndAt,
		Tags:        req.Tags,
	}, models.CommentSourceWeb)
	if !ok {
		return
	}
	c.JSON(http.StatusCreated, res.Card)
}

func (h *Handler) PatchCardHandler(c *gin.Context) {
	id, ok := cardID(c)
	if !ok {
		return
	}

	var patch events.CardUpdateData
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
		return
	}
	patch.ID = id

	res, ok := h.applyLocal(c, events.CardUpdate, patch, models.CommentSourceWeb)
	if !ok {
		return
	}
	if res.Missing {
		c.JSON(http.StatusNotFound, gin.H{"error": "Card not found"})
		return
	}
	c.JSON(http.StatusOK, res.Card)
}

func (h *Handler) DeleteCardHandler(c *gin.Context) {
	id, ok := cardID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	card, err := h.Store.Card(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Card not found"})
		return
	}
	if err != nil {
		h.Logger.Error("Failed to load card", zap.Uint("cardID", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed"})
		return
	}

	if err := h.Store.DeleteCard(ctx, id); err != nil {
		h.Logger.Error("Failed to delete card", zap.Uint("cardID", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed"})
		return
	}

	if h.Calendar != nil && card.CalendarEventID != "" {
		if err := h.Calendar.DeleteEvent(ctx, card.CalendarEventID); err != nil {
			h.Logger.Warn("Failed to delete calendar event", zap.Uint("cardID", id), zap.String("eventID", card.CalendarEventID), zap.Error(err))
		}
	}

	h.Logger.Info("Deleted card", zap.Uint("cardID", id))
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) AddCommentHandler(c *gin.Context) {
	id, ok := cardID(c)
	if !ok {
		return
	}

	var req commentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
		return
	}
	if strings.TrimSpace(req.Author) == "" || strings.TrimSpace(req.Content) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Author and content required"})
		return
	}
	source := req.Source
	if source == "" {
		source = models.CommentSourceWeb
	}

	res, ok := h.applyLocal(c, events.CardComment, events.CardCommentData{
		CardID:  id,
		Author:  req.Author,
		Content: req.Content,
	}, source)
	if !ok {
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": res.Comment.ID})
}

func (h *Handler) ListCommentsHandler(c *gin.Context) {
	id, ok := cardID(c)
	if !ok {
		return
	}
	comments, err := h.Store.Comments(c.Request.Context(), id)
	if err != nil {
		h.Logger.Error("Failed to list comments", zap.Uint("cardID", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed"})
		return
	}
	if comments == nil {
		comments = []models.Comment{}
	}
	c.JSON(http.StatusOK, comments)
}

// applyLocal wraps data in an event stamped now and applies it. It writes the
// error response itself and reports false when the caller should stop.
func (h *Handler) applyLocal(c *gin.Context, t events.Type, data any, source string) (apply.Result, bool) {
	raw, err := json.Marshal(data)
	if err != nil {
		h.Logger.Error("Failed to encode event data", zap.String("type", string(t)), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed"})
		return apply.Result{}, false
	}

	ev := events.Event{
		Type:      t,
		Timestamp: time.Now().UTC(),
		Source:    source,
		Data:      raw,
	}
	res, err := h.Applier.Apply(c.Request.Context(), ev)
	switch {
	case errors.Is(err, events.ErrMalformed):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return res, false
	case errors.Is(err, apply.ErrBoardNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Board not found"})
		return res, false
	case err != nil:
		h.Logger.Error("Failed to apply local change", zap.String("type", string(t)), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed"})
		return res, false
	}
	return res, true
}

func cardID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid card id"})
		return 0, false
	}
	return uint(id), true
}
