package api

import (
	"errors"
	"io"
	"net"
	"net/http"

	"github.com/chxlky/boardsync/apply"
	"github.com/chxlky/boardsync/internal/events"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// LocalOnly rejects any request whose socket peer is not a loopback address.
// It looks only at the connection, never at forwarding headers.
func LocalOnly(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !isLoopback(c.Request.RemoteAddr) {
			logger.Warn("Rejected sync request from non-local address", zap.String("remoteAddr", c.Request.RemoteAddr))
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
			return
		}
		c.Next()
	}
}

func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// SyncApplyHandler applies exactly one event per request. Callers get an
// opaque failure; the cause is only logged.
func (h *Handler) SyncApplyHandler(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		h.Logger.Warn("Could not read sync payload", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed"})
		return
	}

	ev, err := events.Decode(body)
	if err != nil {
		h.Logger.Warn("Rejected malformed sync payload", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed"})
		return
	}

	res, err := h.Applier.Apply(c.Request.Context(), ev)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, events.ErrMalformed) || errors.Is(err, apply.ErrBoardNotFound) {
			status = http.StatusBadRequest
		}
		h.Logger.Error("Sync apply error",
			zap.String("type", string(ev.Type)),
			zap.Time("timestamp", ev.Timestamp),
			zap.String("eventID", ev.ID),
			zap.Error(err),
		)
		c.JSON(status, gin.H{"error": "Failed"})
		return
	}

	resp := gin.H{"ok": true}
	if res.Duplicate {
		resp["duplicate"] = true
	}
	if res.Stale {
		resp["stale"] = true
	}
	if res.Ignored {
		resp["ignored"] = true
	}
	c.JSON(http.StatusOK, resp)
}
