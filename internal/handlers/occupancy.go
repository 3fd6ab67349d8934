package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/HungHsunHan/open-yolo-annotator-sub000/internal/middleware"
)

func (h HandlerSet) OccupancyEnter(c *gin.Context) {
	identity, ok := middleware.CurrentIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing_identity"})
		return
	}

	if err := h.occupancy.Enter(c.Request.Context(), c.Param("projectId"), identity); err != nil {
		h.writeCollabError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h HandlerSet) OccupancyLeave(c *gin.Context) {
	identity, ok := middleware.CurrentIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing_identity"})
		return
	}

	if err := h.occupancy.Leave(c.Request.Context(), c.Param("projectId"), identity.UserID); err != nil {
		h.writeCollabError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h HandlerSet) OccupancyList(c *gin.Context) {
	occupants, err := h.occupancy.Active(c.Request.Context(), c.Param("projectId"))
	if err != nil {
		h.writeCollabError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count": len(occupants),
		"users": occupants,
	})
}
