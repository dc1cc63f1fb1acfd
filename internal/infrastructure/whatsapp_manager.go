package infrastructure

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow/types/events"

	"wa_automation/internal/entities"
	"wa_automation/internal/interfaces"
)

// LinkEvent is a connection lifecycle change observed on a WhatsApp session.
type LinkEvent struct {
	Status      entities.ConnectionStatus
	PhoneNumber string
	QRCode      string
}

// WhatsAppManager manages one WhatsApp client per connection
type WhatsAppManager struct {
	clients map[string]*WhatsAppClient
	mu      sync.RWMutex
	baseDir string
	logger  zerolog.Logger

	// OnInbound receives every parsed inbound message (must not block).
	OnInbound func(evt entities.InboundEvent)
	// OnLink receives status transitions of a connection.
	OnLink func(connectionID string, evt LinkEvent)
}

// NewWhatsAppManager creates a manager storing device sessions under baseDir
func NewWhatsAppManager(baseDir string, logger zerolog.Logger) (*WhatsAppManager, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create devices directory: %w", err)
	}
	return &WhatsAppManager{
		clients: make(map[string]*WhatsAppClient),
		baseDir: baseDir,
		logger:  logger,
	}, nil
}

func (m *WhatsAppManager) devicePath(connectionID string) string {
	return filepath.Join(m.baseDir, "conn_"+connectionID+".db")
}

// GetClient returns the existing client of a connection (nil if none)
func (m *WhatsAppManager) GetClient(connectionID string) *WhatsAppClient {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.clients[connectionID]
}

// Messenger returns the client when it can deliver messages right now.
func (m *WhatsAppManager) Messenger(connectionID string) interfaces.Messenger {
	client := m.GetClient(connectionID)
	if client == nil || !client.IsConnected() {
		return nil
	}
	return client
}

// GetOrCreateClient gets the existing client or opens the device store for a new one
func (m *WhatsAppManager) GetOrCreateClient(ctx context.Context, connectionID string) (*WhatsAppClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if client, exists := m.clients[connectionID]; exists {
		return client, nil
	}

	client, err := NewWhatsAppClient(ctx, m.devicePath(connectionID), connectionID, m.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create WhatsApp client for connection %s: %w", connectionID, err)
	}
	client.OnQR = func(code string) {
		m.emitLink(connectionID, LinkEvent{Status: entities.StatusConnecting, QRCode: code})
	}
	client.AddHandler(m.eventHandler(client))

	m.clients[connectionID] = client
	return client, nil
}

// ConnectClient connects the client of a connection (creates if needed)
func (m *WhatsAppManager) ConnectClient(ctx context.Context, connectionID string) (*WhatsAppClient, error) {
	client, err := m.GetOrCreateClient(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if client.Client.IsConnected() {
		return client, nil
	}
	if err := client.Connect(ctx); err != nil {
		m.emitLink(connectionID, LinkEvent{Status: entities.StatusError})
		return nil, fmt.Errorf("failed to connect WhatsApp for connection %s: %w", connectionID, err)
	}
	return client, nil
}

// LogoutClient unlinks the device and forgets the client.
// Returns nil if the client doesn't exist.
func (m *WhatsAppManager) LogoutClient(ctx context.Context, connectionID string) error {
	m.mu.Lock()
	client, exists := m.clients[connectionID]
	delete(m.clients, connectionID)
	m.mu.Unlock()

	if !exists {
		return nil
	}
	err := client.Logout(ctx)
	client.Disconnect()
	m.emitLink(connectionID, LinkEvent{Status: entities.StatusDisconnected})
	return err
}

// RemoveClient logs out and deletes the device store of a deleted connection.
func (m *WhatsAppManager) RemoveClient(ctx context.Context, connectionID string) error {
	err := m.LogoutClient(ctx, connectionID)
	if rmErr := os.Remove(m.devicePath(connectionID)); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
		err = rmErr
	}
	return err
}

// ConnectedIDs returns the connections with a live, logged-in session
func (m *WhatsAppManager) ConnectedIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id, client := range m.clients {
		if client.IsConnected() {
			ids = append(ids, id)
		}
	}
	return ids
}

// DisconnectAll disconnects all clients (for graceful shutdown)
func (m *WhatsAppManager) DisconnectAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, client := range m.clients {
		client.Disconnect()
	}
	m.clients = make(map[string]*WhatsAppClient)
}

func (m *WhatsAppManager) emitLink(connectionID string, evt LinkEvent) {
	if m.OnLink != nil {
		m.OnLink(connectionID, evt)
	}
}

func (m *WhatsAppManager) eventHandler(client *WhatsAppClient) func(interface{}) {
	return func(evt interface{}) {
		switch v := evt.(type) {
		case *events.Message:
			if v.Info.IsGroup || v.Info.IsFromMe {
				return
			}
			in, ok := client.ParseMessage(v)
			if !ok || m.OnInbound == nil {
				return
			}
			m.OnInbound(in)
		case *events.Connected:
			client.clearQR()
			m.emitLink(client.ConnectionID, LinkEvent{
				Status:      entities.StatusConnected,
				PhoneNumber: client.GetPhoneNumber(),
			})
		case *events.PairSuccess:
			m.emitLink(client.ConnectionID, LinkEvent{
				Status:      entities.StatusConnecting,
				PhoneNumber: v.ID.User,
			})
		case *events.LoggedOut:
			m.emitLink(client.ConnectionID, LinkEvent{Status: entities.StatusDisconnected})
		case *events.Disconnected:
			m.emitLink(client.ConnectionID, LinkEvent{Status: entities.StatusDisconnected})
		case *events.ConnectFailure, *events.TemporaryBan, *events.StreamReplaced:
			m.logger.Warn().Str("connection_id", client.ConnectionID).Str("event", fmt.Sprintf("%T", v)).Msg("WhatsApp session failure")
			m.emitLink(client.ConnectionID, LinkEvent{Status: entities.StatusError})
		}
	}
}
