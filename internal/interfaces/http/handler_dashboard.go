package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetStats returns dashboard counters for the authenticated user
func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.dashboard.Stats(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
