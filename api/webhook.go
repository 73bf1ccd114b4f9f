package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/go-github/v61/github"
	"go.uber.org/zap"
)

// GitHubWebhookHandler acknowledges deliveries from the repository that backs
// the relay. Nothing is applied from here; the poller remains the only path
// from GitHub into the store. The signature is checked when a secret is set.
func (h *Handler) GitHubWebhookHandler(c *gin.Context) {
	var (
		payload []byte
		err     error
	)
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	if len(h.WebhookSecret) > 0 {
		payload, err = github.ValidatePayload(c.Request, h.WebhookSecret)
		if err != nil {
			h.Logger.Warn("Rejected webhook with bad signature", zap.Error(err))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature"})
			return
		}
	} else {
		payload, err = io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed"})
			return
		}
	}

	h.Logger.Info("Received GitHub webhook",
		zap.String("event", github.WebHookType(c.Request)),
		zap.String("delivery", github.DeliveryID(c.Request)),
		zap.Int("bytes", len(payload)),
	)
	c.String(http.StatusAccepted, "OK")
}
