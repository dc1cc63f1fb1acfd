package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cast"

	"wa_automation/internal/usecases"
)

func (h *Handler) ListTriggers(c *gin.Context) {
	triggers, err := h.triggers.List(c.Request.Context(), currentUserID(c), c.Query("connection_id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, triggers)
}

func (h *Handler) CreateTrigger(c *gin.Context) {
	var in usecases.TriggerInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	in.Name = SanitizeString(in.Name)
	t, err := h.triggers.Create(c.Request.Context(), currentUserID(c), in)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

func (h *Handler) GetTrigger(c *gin.Context) {
	t, err := h.triggers.Get(c.Request.Context(), currentUserID(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *Handler) UpdateTrigger(c *gin.Context) {
	var in usecases.TriggerInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	in.Name = SanitizeString(in.Name)
	t, err := h.triggers.Update(c.Request.Context(), currentUserID(c), c.Param("id"), in)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *Handler) DeleteTrigger(c *gin.Context) {
	if err := h.triggers.Delete(c.Request.Context(), currentUserID(c), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) SetTriggerActive(c *gin.Context) {
	var req struct {
		IsActive *bool `json:"is_active"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.IsActive == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "is_active is required"})
		return
	}
	id := c.Param("id")
	if err := h.triggers.SetActive(c.Request.Context(), currentUserID(c), id, *req.IsActive); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "is_active": *req.IsActive})
}

func (h *Handler) ListOutcomes(c *gin.Context) {
	limit := cast.ToInt(c.Query("limit"))
	outcomes, err := h.triggers.Outcomes(c.Request.Context(), currentUserID(c), c.Param("id"), limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, outcomes)
}
