package http

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cast"

	"wa_automation/internal/entities"
)

type sendMessageRequest struct {
	ConnectionID string               `json:"connection_id"`
	ToNumber     string               `json:"to_number"`
	Kind         entities.MessageKind `json:"message_type"`
	Content      string               `json:"content"`
	MediaURL     string               `json:"media_url"`
	Metadata     json.RawMessage      `json:"metadata"`
}

func (h *Handler) ListMessages(c *gin.Context) {
	limit := cast.ToInt(c.Query("limit"))
	msgs, err := h.messages.List(c.Request.Context(), currentUserID(c), c.Query("connection_id"), limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}

// SendMessage stores and delivers a user-initiated message.
func (h *Handler) SendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if req.ToNumber != "" && !ValidPhone(req.ToNumber) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "to_number: invalid phone number"})
		return
	}
	if !ValidateLength(req.Content, 0, MaxContentLength) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content: too long"})
		return
	}

	msg := &entities.Message{
		ConnectionID: req.ConnectionID,
		ToNumber:     req.ToNumber,
		Kind:         req.Kind,
		Content:      SanitizeString(req.Content),
		MediaURL:     req.MediaURL,
		Metadata:     req.Metadata,
	}
	if len(msg.Metadata) > 0 && !json.Valid(msg.Metadata) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "metadata: invalid JSON"})
		return
	}
	stored, err := h.messages.Send(c.Request.Context(), currentUserID(c), msg)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, stored)
}

func (h *Handler) GetMessage(c *gin.Context) {
	msg, err := h.messages.Get(c.Request.Context(), currentUserID(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (h *Handler) DeleteMessage(c *gin.Context) {
	if err := h.messages.Delete(c.Request.Context(), currentUserID(c), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
