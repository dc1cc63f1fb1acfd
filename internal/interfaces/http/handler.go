package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"wa_automation/internal/entities"
	"wa_automation/internal/usecases"
)

type Handler struct {
	auth        *usecases.AuthUsecase
	connections *usecases.ConnectionUsecase
	messages    *usecases.MessageService
	triggers    *usecases.TriggerUsecase
	dashboard   *usecases.DashboardUsecase
	engine      usecases.InboundHandler
	logger      zerolog.Logger

	// Stats, when set, adds runtime counters to /health.
	Stats func() map[string]any
}

func NewHandler(auth *usecases.AuthUsecase, connections *usecases.ConnectionUsecase, messages *usecases.MessageService,
	triggers *usecases.TriggerUsecase, dashboard *usecases.DashboardUsecase, engine usecases.InboundHandler, logger zerolog.Logger) *Handler {
	return &Handler{
		auth:        auth,
		connections: connections,
		messages:    messages,
		triggers:    triggers,
		dashboard:   dashboard,
		engine:      engine,
		logger:      logger,
	}
}

func SetupRoutes(r *gin.Engine, h *Handler, middleware *Middleware) {
	r.Use(SecurityHeaders())
	r.Use(RequestSizeLimiter(10 << 20)) // 10MB max request size
	r.Use(middleware.CORSMiddleware())

	r.GET("/health", h.Health)

	authGroup := r.Group("/api/auth")
	{
		authGroup.POST("/login", h.Login)
		authGroup.POST("/register", h.Register)
	}

	api := r.Group("/api")
	api.Use(middleware.AuthRequired())
	api.Use(middleware.RateLimitPerUser(rate.Limit(10), 20))
	{
		api.GET("/dashboard/stats", h.GetStats)

		api.GET("/connections", h.ListConnections)
		api.POST("/connections", h.CreateConnection)
		api.GET("/connections/:id", h.GetConnection)
		api.PUT("/connections/:id", h.UpdateConnection)
		api.DELETE("/connections/:id", h.DeleteConnection)
		api.POST("/connections/:id/connect", h.ConnectWhatsApp)
		api.GET("/connections/:id/qr", h.GetQRCode)
		api.POST("/connections/:id/logout", h.LogoutWhatsApp)
		api.POST("/connections/:id/inbound", h.InjectInbound)

		api.GET("/messages", h.ListMessages)
		api.POST("/messages", h.SendMessage)
		api.GET("/messages/:id", h.GetMessage)
		api.DELETE("/messages/:id", h.DeleteMessage)

		api.GET("/triggers", h.ListTriggers)
		api.POST("/triggers", h.CreateTrigger)
		api.GET("/triggers/:id", h.GetTrigger)
		api.PUT("/triggers/:id", h.UpdateTrigger)
		api.DELETE("/triggers/:id", h.DeleteTrigger)
		api.PATCH("/triggers/:id/active", h.SetTriggerActive)
		api.GET("/triggers/:id/outcomes", h.ListOutcomes)
	}
}

func (h *Handler) Health(c *gin.Context) {
	body := gin.H{"status": "ok"}
	if h.Stats != nil {
		for k, v := range h.Stats() {
			body[k] = v
		}
	}
	c.JSON(http.StatusOK, body)
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) Login(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	token, err := h.auth.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

func (h *Handler) Register(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if !ValidUsername(req.Username) || len(req.Password) < MinPasswordLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid username or password (min 6 chars)"})
		return
	}
	if err := h.auth.Register(c.Request.Context(), req.Username, req.Password); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "registered"})
}

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, entities.ErrValidation), errors.Is(err, entities.ErrInvalidEvent):
		return http.StatusBadRequest
	case errors.Is(err, usecases.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, entities.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, entities.ErrUnavailable):
		return http.StatusConflict
	case errors.Is(err, entities.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, entities.ErrDispatch):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeError answers with {"error": msg}. Internal failures are logged and
// not echoed to the client.
func (h *Handler) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
		msg = "internal error"
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
