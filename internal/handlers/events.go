package handlers

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/HungHsunHan/open-yolo-annotator-sub000/internal/middleware"
)

// Events streams project snapshots over SSE. Each change notification
// triggers a fresh read; bursts coalesce into one event because the
// signal channel holds a single pending wakeup.
func (h HandlerSet) Events(c *gin.Context) {
	identity, ok := middleware.CurrentIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing_identity"})
		return
	}

	projectID := c.Param("projectId")

	changed := make(chan struct{}, 1)
	unsubscribe := h.service.Subscribe(projectID, func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	send := func() bool {
		snapshot, err := h.service.Snapshot(c.Request.Context(), projectID, identity.UserID)
		if err != nil {
			h.log.Warn().Err(err).Str("project_id", projectID).Msg("snapshot for event stream failed")
			return true
		}
		c.SSEvent("state", snapshotToView(snapshot))
		return true
	}

	// initial snapshot so clients render without waiting for a change
	send()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case <-changed:
			return send()
		case <-keepalive.C:
			c.SSEvent("ping", time.Now().UTC())
			return true
		}
	})
}
