package api

import (
	"net/http"
	"time"

	"github.com/chxlky/boardsync/apply"
	"github.com/chxlky/boardsync/database"
	"github.com/chxlky/boardsync/integrations"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// maxBodyBytes bounds every JSON body the server reads.
const maxBodyBytes = 10 << 20

type Handler struct {
	Store   *database.Store
	Applier *apply.Applier
	// Calendar is optional; when set, deleting a card removes its mirrored event.
	Calendar      *integrations.CalendarMirror
	WebhookSecret []byte
	Logger        *zap.Logger
}

// NewRouter wires every route onto a fresh gin engine with zap access logs
// and panic recovery.
func NewRouter(h *Handler) *gin.Engine {
	if h.Logger == nil {
		h.Logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(ginzap.Ginzap(h.Logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(h.Logger, true))

	apiGroup := router.Group("/api")
	{
		apiGroup.GET("/health", h.HealthCheckHandler)
		apiGroup.POST("/sync/apply", LocalOnly(h.Logger), h.SyncApplyHandler)
	}

	kanban := apiGroup.Group("/kanban")
	{
		kanban.GET("/boards", h.ListBoardsHandler)
		kanban.GET("/board/:slug", h.BoardHandler)
		kanban.POST("/board/:slug/cards", h.CreateCardHandler)
		kanban.PATCH("/card/:id", h.PatchCardHandler)
		kanban.DELETE("/card/:id", h.DeleteCardHandler)
		kanban.POST("/card/:id/comments", h.AddCommentHandler)
		kanban.GET("/card/:id/comments", h.ListCommentsHandler)
	}

	router.POST("/webhook/github", h.GitHubWebhookHandler)

	return router
}

func (h *Handler) HealthCheckHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
