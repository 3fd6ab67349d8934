package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type imageRefView struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

func (h HandlerSet) ListImages(c *gin.Context) {
	images, err := h.catalog.ListImages(c.Request.Context(), c.Param("projectId"))
	if err != nil {
		h.log.Error().Err(err).Msg("list images failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_server_error"})
		return
	}

	views := make([]imageRefView, 0, len(images))
	for _, image := range images {
		views = append(views, imageRefView{
			ID:        image.ID,
			Name:      image.Name,
			CreatedAt: image.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"images": views})
}
