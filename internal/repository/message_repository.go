package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"wa_automation/internal/entities"
)

const messageColumns = `m.id, m.connection_id, m.from_number, m.to_number, m.message_type,
	COALESCE(m.content, ''), COALESCE(m.media_url, ''), m.metadata, m.status, m.created_at, COALESCE(m.external_id, '')`

type MessageRepository struct {
	db *pgxpool.Pool
}

func NewMessageRepository(db *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{db: db}
}

func scanMessage(row pgx.Row) (*entities.Message, error) {
	var m entities.Message
	var metadata []byte
	err := row.Scan(&m.ID, &m.ConnectionID, &m.FromNumber, &m.ToNumber, &m.Kind,
		&m.Content, &m.MediaURL, &metadata, &m.Status, &m.CreatedAt, &m.ExternalID)
	if err != nil {
		return nil, err
	}
	m.Metadata = metadata
	return &m, nil
}

// Create stores a message and fills its ID and creation time.
func (r *MessageRepository) Create(ctx context.Context, m *entities.Message) error {
	m.ID = uuid.NewString()
	err := r.db.QueryRow(ctx, `
		INSERT INTO whatsapp_messages
			(id, connection_id, from_number, to_number, message_type, content, media_url, metadata, status, external_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at
	`, m.ID, m.ConnectionID, m.FromNumber, m.ToNumber, string(m.Kind),
		nullable(m.Content), nullable(m.MediaURL), jsonb(m.Metadata), m.Status,
		nullable(m.ExternalID)).Scan(&m.CreatedAt)
	return mapErr("create message", "connection", err)
}

// CreateInbound stores an inbound message once per (connection, external id).
// On a redelivery m is replaced by the stored row and created is false.
func (r *MessageRepository) CreateInbound(ctx context.Context, m *entities.Message) (bool, error) {
	if m.ExternalID == "" {
		return true, r.Create(ctx, m)
	}
	id := uuid.NewString()
	err := r.db.QueryRow(ctx, `
		INSERT INTO whatsapp_messages
			(id, connection_id, from_number, to_number, message_type, content, media_url, metadata, status, external_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (connection_id, external_id) DO NOTHING
		RETURNING created_at
	`, id, m.ConnectionID, m.FromNumber, m.ToNumber, string(m.Kind),
		nullable(m.Content), nullable(m.MediaURL), jsonb(m.Metadata), m.Status,
		m.ExternalID).Scan(&m.CreatedAt)
	if err == nil {
		m.ID = id
		return true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, mapErr("create inbound message", "connection", err)
	}

	existing, err := scanMessage(r.db.QueryRow(ctx, "SELECT "+messageColumns+`
		FROM whatsapp_messages m
		WHERE m.connection_id = $1 AND m.external_id = $2`, m.ConnectionID, m.ExternalID))
	if err != nil {
		return false, mapErr("get inbound message", "message", err)
	}
	*m = *existing
	return false, nil
}

// UpdateStatus is the only mutation allowed on a stored message.
func (r *MessageRepository) UpdateStatus(ctx context.Context, id, status string) error {
	tag, err := r.db.Exec(ctx, "UPDATE whatsapp_messages SET status = $1 WHERE id = $2", status, id)
	if err != nil {
		return mapErr("update message status", "message", err)
	}
	if tag.RowsAffected() == 0 {
		return entities.NotFound("message")
	}
	return nil
}

// ListForUser returns messages of the user's connections, newest first.
// An empty connectionID lists across all of them.
func (r *MessageRepository) ListForUser(ctx context.Context, userID int, connectionID string, limit int) ([]entities.Message, error) {
	rows, err := r.db.Query(ctx, "SELECT "+messageColumns+`
		FROM whatsapp_messages m
		JOIN whatsapp_connections c ON c.id = m.connection_id
		WHERE c.user_id = $1 AND ($2 = '' OR m.connection_id = $2)
		ORDER BY m.created_at DESC
		LIMIT $3`, userID, connectionID, limit)
	if err != nil {
		return nil, mapErr("list messages", "message", err)
	}
	defer rows.Close()

	msgs := []entities.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, mapErr("list messages", "message", err)
		}
		msgs = append(msgs, *m)
	}
	return msgs, mapErr("list messages", "message", rows.Err())
}

func (r *MessageRepository) GetForUser(ctx context.Context, userID int, id string) (*entities.Message, error) {
	m, err := scanMessage(r.db.QueryRow(ctx, "SELECT "+messageColumns+`
		FROM whatsapp_messages m
		JOIN whatsapp_connections c ON c.id = m.connection_id
		WHERE m.id = $1 AND c.user_id = $2`, id, userID))
	if err != nil {
		return nil, mapErr("get message", "message", err)
	}
	return m, nil
}

func (r *MessageRepository) DeleteForUser(ctx context.Context, userID int, id string) error {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM whatsapp_messages m
		USING whatsapp_connections c
		WHERE c.id = m.connection_id AND m.id = $1 AND c.user_id = $2
	`, id, userID)
	if err != nil {
		return mapErr("delete message", "message", err)
	}
	if tag.RowsAffected() == 0 {
		return entities.NotFound("message")
	}
	return nil
}
