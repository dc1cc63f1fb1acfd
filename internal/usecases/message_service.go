package usecases

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"wa_automation/internal/entities"
	"wa_automation/internal/interfaces"
)

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 500
)

// MessageRepository is the message persistence used by MessageService.
type MessageRepository interface {
	interfaces.MessageStore
	ListForUser(ctx context.Context, userID int, connectionID string, limit int) ([]entities.Message, error)
	GetForUser(ctx context.Context, userID int, id string) (*entities.Message, error)
	DeleteForUser(ctx context.Context, userID int, id string) error
}

// ConnectionReader resolves a connection within its owner's scope.
type ConnectionReader interface {
	GetForUser(ctx context.Context, userID int, id string) (*entities.Connection, error)
}

// UsageCounter keeps the per-day message counters.
type UsageCounter interface {
	IncrementSent(ctx context.Context, userID int) error
	IncrementReceived(ctx context.Context, userID int) error
}

// SendLimiter is a per-key token bucket.
type SendLimiter interface {
	Allow(key string) bool
	WaitTime(key string) time.Duration
}

// MessageService is the single outbound path: user sends and trigger
// replies are both persisted, rate limited and delivered here.
type MessageService struct {
	messages   MessageRepository
	conns      ConnectionReader
	usage      UsageCounter
	messengers interfaces.MessengerResolver
	limiter    SendLimiter
	logger     zerolog.Logger
}

func NewMessageService(messages MessageRepository, conns ConnectionReader, usage UsageCounter,
	messengers interfaces.MessengerResolver, limiter SendLimiter, logger zerolog.Logger) *MessageService {
	return &MessageService{
		messages:   messages,
		conns:      conns,
		usage:      usage,
		messengers: messengers,
		limiter:    limiter,
		logger:     logger,
	}
}

// Send stores a user-initiated message as pending and delivers it when the
// connection has a live session. Without one the message stays pending.
func (s *MessageService) Send(ctx context.Context, userID int, msg *entities.Message) (*entities.Message, error) {
	msg.ToNumber = NormalizeNumber(msg.ToNumber)
	msg.Content = strings.TrimSpace(msg.Content)
	msg.MediaURL = strings.TrimSpace(msg.MediaURL)
	if msg.Kind == "" {
		msg.Kind = entities.KindText
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	conn, err := s.conns.GetForUser(ctx, userID, msg.ConnectionID)
	if err != nil {
		return nil, err
	}

	msg.FromNumber = entities.SystemSender
	err = s.send(ctx, conn, msg)
	if errors.Is(err, entities.ErrUnavailable) {
		s.logger.Info().Str("connection_id", conn.ID).Str("message_id", msg.ID).Msg("Connection offline, message left pending")
		return msg, nil
	}
	if errors.Is(err, entities.ErrRateLimited) || msg.ID == "" {
		return nil, err
	}
	// delivery failures are reflected in the stored status
	return msg, nil
}

// SendOutbound delivers a message produced by a trigger action on conn.
// Any failure to deliver is returned.
func (s *MessageService) SendOutbound(ctx context.Context, conn *entities.Connection, msg *entities.Message) error {
	if msg.Kind == "" {
		msg.Kind = entities.KindText
	}
	msg.ConnectionID = conn.ID
	if err := msg.Validate(); err != nil {
		return err
	}
	return s.send(ctx, conn, msg)
}

func (s *MessageService) send(ctx context.Context, conn *entities.Connection, msg *entities.Message) error {
	if s.limiter != nil && !s.limiter.Allow(conn.ID) {
		return entities.RateLimited(s.limiter.WaitTime(conn.ID))
	}

	msg.Status = entities.MessagePending
	if err := s.messages.Create(ctx, msg); err != nil {
		msg.ID = ""
		return err
	}

	messenger := s.messengers.Messenger(conn.ID)
	if messenger == nil {
		return entities.ErrUnavailable
	}

	sendErr := messenger.SendMessage(ctx, msg.ToNumber, deliveryText(msg))
	msg.Status = entities.MessageSent
	if sendErr != nil {
		msg.Status = entities.MessageFailed
	}
	if err := s.messages.UpdateStatus(ctx, msg.ID, msg.Status); err != nil {
		s.logger.Error().Err(err).Str("message_id", msg.ID).Msg("Failed to update message status")
	}
	if sendErr != nil {
		s.logger.Warn().Err(sendErr).Str("connection_id", conn.ID).Str("to", msg.ToNumber).Msg("Message delivery failed")
		return sendErr
	}

	if err := s.usage.IncrementSent(ctx, conn.UserID); err != nil {
		s.logger.Warn().Err(err).Int("user_id", conn.UserID).Msg("Failed to count sent message")
	}
	return nil
}

// deliveryText is the text sent for msg; media is delivered as its URL.
func deliveryText(msg *entities.Message) string {
	if msg.MediaURL == "" {
		return msg.Content
	}
	if msg.Content == "" {
		return msg.MediaURL
	}
	return msg.Content + "\n" + msg.MediaURL
}

func (s *MessageService) List(ctx context.Context, userID int, connectionID string, limit int) ([]entities.Message, error) {
	if limit <= 0 {
		limit = defaultMessageLimit
	}
	if limit > maxMessageLimit {
		limit = maxMessageLimit
	}
	return s.messages.ListForUser(ctx, userID, connectionID, limit)
}

func (s *MessageService) Get(ctx context.Context, userID int, id string) (*entities.Message, error) {
	return s.messages.GetForUser(ctx, userID, id)
}

func (s *MessageService) Delete(ctx context.Context, userID int, id string) error {
	return s.messages.DeleteForUser(ctx, userID, id)
}
