package usecases

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"wa_automation/internal/entities"
	"wa_automation/internal/infrastructure"
	"wa_automation/internal/repository"
)

// ConnectionUsecase manages connection records and their WhatsApp sessions.
type ConnectionUsecase struct {
	repo    *repository.ConnectionRepository
	manager *infrastructure.WhatsAppManager
	logger  zerolog.Logger
}

func NewConnectionUsecase(repo *repository.ConnectionRepository, manager *infrastructure.WhatsAppManager, logger zerolog.Logger) *ConnectionUsecase {
	return &ConnectionUsecase{repo: repo, manager: manager, logger: logger}
}

// ConnectionInput is the user-editable part of a connection.
type ConnectionInput struct {
	Name          string `json:"name"`
	WebhookURL    string `json:"webhook_url"`
	N8NWebhookURL string `json:"n8n_webhook_url"`
}

func (in ConnectionInput) apply(c *entities.Connection) error {
	c.Name = strings.TrimSpace(in.Name)
	c.WebhookURL = strings.TrimSpace(in.WebhookURL)
	c.N8NWebhookURL = strings.TrimSpace(in.N8NWebhookURL)
	if c.WebhookURL != "" && !entities.ValidWebhookURL(c.WebhookURL) {
		return entities.NewValidationError("webhook_url", "must be an http(s) URL")
	}
	if c.N8NWebhookURL != "" && !entities.ValidWebhookURL(c.N8NWebhookURL) {
		return entities.NewValidationError("n8n_webhook_url", "must be an http(s) URL")
	}
	return c.Validate()
}

// Create stores a new connection in the disconnected state.
func (u *ConnectionUsecase) Create(ctx context.Context, userID int, in ConnectionInput) (*entities.Connection, error) {
	c := &entities.Connection{UserID: userID, Status: entities.StatusDisconnected}
	if err := in.apply(c); err != nil {
		return nil, err
	}
	if err := u.repo.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (u *ConnectionUsecase) List(ctx context.Context, userID int) ([]entities.Connection, error) {
	return u.repo.ListByUser(ctx, userID)
}

func (u *ConnectionUsecase) Get(ctx context.Context, userID int, id string) (*entities.Connection, error) {
	return u.repo.GetForUser(ctx, userID, id)
}

func (u *ConnectionUsecase) Update(ctx context.Context, userID int, id string, in ConnectionInput) (*entities.Connection, error) {
	c, err := u.repo.GetForUser(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if err := in.apply(c); err != nil {
		return nil, err
	}
	if err := u.repo.Update(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Delete removes the connection with its messages and triggers, and drops
// the WhatsApp session.
func (u *ConnectionUsecase) Delete(ctx context.Context, userID int, id string) error {
	if err := u.repo.Delete(ctx, userID, id); err != nil {
		return err
	}
	if err := u.manager.RemoveClient(ctx, id); err != nil {
		u.logger.Warn().Err(err).Str("connection_id", id).Msg("Failed to remove WhatsApp session")
	}
	return nil
}

// Connect starts the WhatsApp session. An unlinked device moves the
// connection to connecting and publishes QR codes.
func (u *ConnectionUsecase) Connect(ctx context.Context, userID int, id string) (*entities.Connection, error) {
	c, err := u.repo.GetForUser(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if err := u.repo.UpdateLink(ctx, id, entities.StatusConnecting, "", ""); err != nil {
		return nil, err
	}
	// the session outlives the request
	if _, err := u.manager.ConnectClient(context.WithoutCancel(ctx), id); err != nil {
		return nil, err
	}
	c.Status = entities.StatusConnecting
	return c, nil
}

// QRCode returns the current pairing code, or "" when none is pending.
func (u *ConnectionUsecase) QRCode(ctx context.Context, userID int, id string) (string, error) {
	c, err := u.repo.GetForUser(ctx, userID, id)
	if err != nil {
		return "", err
	}
	if client := u.manager.GetClient(id); client != nil {
		if code := client.GetQR(); code != "" {
			return code, nil
		}
	}
	return c.QRCode, nil
}

// Logout unlinks the device and marks the connection disconnected.
func (u *ConnectionUsecase) Logout(ctx context.Context, userID int, id string) error {
	if _, err := u.repo.GetForUser(ctx, userID, id); err != nil {
		return err
	}
	if err := u.manager.LogoutClient(ctx, id); err != nil {
		u.logger.Warn().Err(err).Str("connection_id", id).Msg("WhatsApp logout failed")
	}
	return u.repo.UpdateLink(ctx, id, entities.StatusDisconnected, "", "")
}

// ApplyLinkEvent persists a session status change reported by the manager.
func (u *ConnectionUsecase) ApplyLinkEvent(ctx context.Context, connectionID string, evt infrastructure.LinkEvent) {
	err := u.repo.UpdateLink(ctx, connectionID, evt.Status, evt.PhoneNumber, evt.QRCode)
	if err != nil {
		u.logger.Warn().Err(err).Str("connection_id", connectionID).Str("status", string(evt.Status)).Msg("Failed to store connection status")
		return
	}
	u.logger.Info().Str("connection_id", connectionID).Str("status", string(evt.Status)).Msg("Connection status changed")
}

// ReconnectLinked restores sessions of previously linked connections.
func (u *ConnectionUsecase) ReconnectLinked(ctx context.Context) {
	conns, err := u.repo.ListLinked(ctx)
	if err != nil {
		u.logger.Error().Err(err).Msg("Failed to list linked connections")
		return
	}
	for _, c := range conns {
		if _, err := u.manager.ConnectClient(ctx, c.ID); err != nil {
			u.logger.Warn().Err(err).Str("connection_id", c.ID).Msg("Reconnect failed")
		}
	}
}
