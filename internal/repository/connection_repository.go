package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"wa_automation/internal/entities"
)

const connectionColumns = `id, user_id, name, COALESCE(phone_number, ''), status,
	COALESCE(webhook_url, ''), COALESCE(n8n_webhook_url, ''), COALESCE(qr_code, ''),
	last_connected_at, created_at, updated_at`

type ConnectionRepository struct {
	db *pgxpool.Pool
}

func NewConnectionRepository(db *pgxpool.Pool) *ConnectionRepository {
	return &ConnectionRepository{db: db}
}

func scanConnection(row pgx.Row) (*entities.Connection, error) {
	var c entities.Connection
	err := row.Scan(&c.ID, &c.UserID, &c.Name, &c.PhoneNumber, &c.Status,
		&c.WebhookURL, &c.N8NWebhookURL, &c.QRCode,
		&c.LastConnectedAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Create inserts a new connection and fills its ID and timestamps.
func (r *ConnectionRepository) Create(ctx context.Context, c *entities.Connection) error {
	c.ID = uuid.NewString()
	err := r.db.QueryRow(ctx, `
		INSERT INTO whatsapp_connections (id, user_id, name, status, webhook_url, n8n_webhook_url)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`, c.ID, c.UserID, c.Name, string(c.Status), nullable(c.WebhookURL), nullable(c.N8NWebhookURL)).Scan(&c.CreatedAt, &c.UpdatedAt)
	return mapErr("create connection", "connection", err)
}

// ListByUser returns the user's connections, newest first.
func (r *ConnectionRepository) ListByUser(ctx context.Context, userID int) ([]entities.Connection, error) {
	rows, err := r.db.Query(ctx, "SELECT "+connectionColumns+`
		FROM whatsapp_connections WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, mapErr("list connections", "connection", err)
	}
	defer rows.Close()

	conns := []entities.Connection{}
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, mapErr("list connections", "connection", err)
		}
		conns = append(conns, *c)
	}
	return conns, mapErr("list connections", "connection", rows.Err())
}

// GetForUser returns a connection only if it belongs to userID.
func (r *ConnectionRepository) GetForUser(ctx context.Context, userID int, id string) (*entities.Connection, error) {
	c, err := scanConnection(r.db.QueryRow(ctx, "SELECT "+connectionColumns+`
		FROM whatsapp_connections WHERE id = $1 AND user_id = $2`, id, userID))
	if err != nil {
		return nil, mapErr("get connection", "connection", err)
	}
	return c, nil
}

// GetByID is the unscoped lookup used by the trigger engine.
func (r *ConnectionRepository) GetByID(ctx context.Context, id string) (*entities.Connection, error) {
	c, err := scanConnection(r.db.QueryRow(ctx, "SELECT "+connectionColumns+`
		FROM whatsapp_connections WHERE id = $1`, id))
	if err != nil {
		return nil, mapErr("get connection", "connection", err)
	}
	return c, nil
}

// Update saves the user-editable fields.
func (r *ConnectionRepository) Update(ctx context.Context, c *entities.Connection) error {
	err := r.db.QueryRow(ctx, `
		UPDATE whatsapp_connections
		SET name = $1, webhook_url = $2, n8n_webhook_url = $3, updated_at = NOW()
		WHERE id = $4 AND user_id = $5
		RETURNING updated_at
	`, c.Name, nullable(c.WebhookURL), nullable(c.N8NWebhookURL), c.ID, c.UserID).Scan(&c.UpdatedAt)
	return mapErr("update connection", "connection", err)
}

// UpdateLink records a lifecycle transition. An empty phone keeps the
// stored number; connected stamps last_connected_at and clears the QR code.
func (r *ConnectionRepository) UpdateLink(ctx context.Context, id string, status entities.ConnectionStatus, phone, qrCode string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE whatsapp_connections
		SET status = $1,
			phone_number = COALESCE($2, phone_number),
			qr_code = CASE WHEN $1 = 'connecting' THEN COALESCE($3, qr_code) ELSE NULL END,
			last_connected_at = CASE WHEN $1 = 'connected' THEN NOW() ELSE last_connected_at END,
			updated_at = NOW()
		WHERE id = $4
	`, string(status), nullable(phone), nullable(qrCode), id)
	if err != nil {
		return mapErr("update connection status", "connection", err)
	}
	if tag.RowsAffected() == 0 {
		return entities.NotFound("connection")
	}
	return nil
}

// Delete removes a connection; messages, triggers and outcomes cascade.
func (r *ConnectionRepository) Delete(ctx context.Context, userID int, id string) error {
	tag, err := r.db.Exec(ctx, "DELETE FROM whatsapp_connections WHERE id = $1 AND user_id = $2", id, userID)
	if err != nil {
		return mapErr("delete connection", "connection", err)
	}
	if tag.RowsAffected() == 0 {
		return entities.NotFound("connection")
	}
	return nil
}

// CountByUser returns the number of connections and how many are connected.
func (r *ConnectionRepository) CountByUser(ctx context.Context, userID int) (total, connected int, err error) {
	err = r.db.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE status = 'connected')
		FROM whatsapp_connections WHERE user_id = $1
	`, userID).Scan(&total, &connected)
	return total, connected, mapErr("count connections", "connection", err)
}

// ListLinked returns connections that have a linked phone, for reconnect on startup.
func (r *ConnectionRepository) ListLinked(ctx context.Context) ([]entities.Connection, error) {
	rows, err := r.db.Query(ctx, "SELECT "+connectionColumns+`
		FROM whatsapp_connections WHERE phone_number IS NOT NULL ORDER BY created_at DESC`)
	if err != nil {
		return nil, mapErr("list linked connections", "connection", err)
	}
	defer rows.Close()

	conns := []entities.Connection{}
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, mapErr("list linked connections", "connection", err)
		}
		conns = append(conns, *c)
	}
	return conns, mapErr("list linked connections", "connection", rows.Err())
}
