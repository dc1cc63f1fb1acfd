package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"

	"wa_automation/internal/entities"
	"wa_automation/internal/usecases"
)

func (h *Handler) ListConnections(c *gin.Context) {
	conns, err := h.connections.List(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, conns)
}

func (h *Handler) CreateConnection(c *gin.Context) {
	var in usecases.ConnectionInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	in.Name = SanitizeString(in.Name)
	conn, err := h.connections.Create(c.Request.Context(), currentUserID(c), in)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, conn)
}

func (h *Handler) GetConnection(c *gin.Context) {
	conn, err := h.connections.Get(c.Request.Context(), currentUserID(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, conn)
}

func (h *Handler) UpdateConnection(c *gin.Context) {
	var in usecases.ConnectionInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	in.Name = SanitizeString(in.Name)
	conn, err := h.connections.Update(c.Request.Context(), currentUserID(c), c.Param("id"), in)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, conn)
}

func (h *Handler) DeleteConnection(c *gin.Context) {
	if err := h.connections.Delete(c.Request.Context(), currentUserID(c), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ConnectWhatsApp starts linking; the QR code becomes available shortly after.
func (h *Handler) ConnectWhatsApp(c *gin.Context) {
	conn, err := h.connections.Connect(c.Request.Context(), currentUserID(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, conn)
}

// GetQRCode returns the pairing QR code as PNG, or as text with ?format=text.
func (h *Handler) GetQRCode(c *gin.Context) {
	code, err := h.connections.QRCode(c.Request.Context(), currentUserID(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if code == "" {
		c.JSON(http.StatusAccepted, gin.H{"status": "pending", "message": "QR code not yet available"})
		return
	}
	if c.Query("format") == "text" {
		c.JSON(http.StatusOK, gin.H{"qr_code": code})
		return
	}

	png, err := qrcode.Encode(code, qrcode.Medium, 256)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

func (h *Handler) LogoutWhatsApp(c *gin.Context) {
	if err := h.connections.Logout(c.Request.Context(), currentUserID(c), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": entities.StatusDisconnected})
}

type dispatchResultResponse struct {
	TriggerID  string                 `json:"trigger_id"`
	Status     entities.OutcomeStatus `json:"status,omitempty"`
	Skipped    bool                   `json:"skipped,omitempty"`
	BestEffort bool                   `json:"best_effort,omitempty"`
	Error      string                 `json:"error,omitempty"`
}

type inboundResponse struct {
	MessageID string                   `json:"message_id"`
	Sequence  uint64                   `json:"sequence"`
	Matched   int                      `json:"matched"`
	Results   []dispatchResultResponse `json:"results"`
}

// InjectInbound runs an inbound event through the trigger engine as if it
// had arrived on the connection, and returns the pass report.
func (h *Handler) InjectInbound(c *gin.Context) {
	ctx := c.Request.Context()
	conn, err := h.connections.Get(ctx, currentUserID(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	var evt entities.InboundEvent
	if err := c.ShouldBindJSON(&evt); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	evt.ConnectionID = conn.ID
	evt.Body = SanitizeString(evt.Body)
	if evt.ReceivedAt.IsZero() {
		evt.ReceivedAt = time.Now()
	}

	report, err := h.engine.HandleInbound(ctx, evt)
	if err != nil {
		h.writeError(c, err)
		return
	}

	resp := inboundResponse{
		MessageID: report.MessageID,
		Sequence:  report.Sequence,
		Matched:   report.Matched,
		Results:   make([]dispatchResultResponse, 0, len(report.Results)),
	}
	for _, r := range report.Results {
		item := dispatchResultResponse{TriggerID: r.TriggerID, Status: r.Status, Skipped: r.Skipped, BestEffort: r.BestEffort}
		if r.Err != nil {
			item.Error = r.Err.Error()
		}
		resp.Results = append(resp.Results, item)
	}
	c.JSON(http.StatusAccepted, resp)
}
