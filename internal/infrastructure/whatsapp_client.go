package infrastructure

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"

	"wa_automation/internal/entities"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// WhatsAppClient is the whatsmeow session of one connection.
type WhatsAppClient struct {
	Client       *whatsmeow.Client
	ConnectionID string

	logger zerolog.Logger
	qrCode string
	qrLock sync.RWMutex

	// OnQR is called for each new pairing code.
	OnQR func(code string)
}

func NewWhatsAppClient(ctx context.Context, dbPath, connectionID string, logger zerolog.Logger) (*WhatsAppClient, error) {
	logger = logger.With().Str("connection_id", connectionID).Logger()

	container, err := sqlstore.New(ctx, "sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)", waLog.Zerolog(logger.With().Str("module", "store").Logger()))
	if err != nil {
		return nil, fmt.Errorf("failed to open device store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}

	client := whatsmeow.NewClient(deviceStore, waLog.Zerolog(logger.With().Str("module", "client").Logger()))

	return &WhatsAppClient{
		Client:       client,
		ConnectionID: connectionID,
		logger:       logger,
	}, nil
}

// Connect opens the session. A device without a stored ID starts pairing
// and publishes QR codes through GetQR and OnQR.
func (w *WhatsAppClient) Connect(ctx context.Context) error {
	if w.Client.Store.ID != nil {
		if err := w.Client.Connect(); err != nil {
			return err
		}
		w.logger.Info().Msg("WhatsApp client connected (existing session)")
		return nil
	}

	qrChan, err := w.Client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("qr channel: %w", err)
	}
	if err := w.Client.Connect(); err != nil {
		return err
	}
	go w.watchQR(qrChan)
	return nil
}

func (w *WhatsAppClient) watchQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for evt := range qrChan {
		if evt.Event != "code" {
			w.logger.Info().Str("event", evt.Event).Msg("Login event")
			continue
		}
		w.qrLock.Lock()
		w.qrCode = evt.Code
		w.qrLock.Unlock()
		if w.OnQR != nil {
			w.OnQR(evt.Code)
		}
	}
}

func (w *WhatsAppClient) GetQR() string {
	w.qrLock.RLock()
	defer w.qrLock.RUnlock()
	return w.qrCode
}

func (w *WhatsAppClient) clearQR() {
	w.qrLock.Lock()
	w.qrCode = ""
	w.qrLock.Unlock()
}

// IsLoggedIn reports whether the device store holds a paired session.
func (w *WhatsAppClient) IsLoggedIn() bool {
	return w.Client.Store.ID != nil
}

// IsConnected returns true if client is connected and logged in
func (w *WhatsAppClient) IsConnected() bool {
	return w.Client.IsConnected() && w.IsLoggedIn()
}

// GetPhoneNumber returns the linked phone number
func (w *WhatsAppClient) GetPhoneNumber() string {
	if !w.IsLoggedIn() {
		return ""
	}
	return w.Client.Store.ID.User
}

func (w *WhatsAppClient) Logout(ctx context.Context) error {
	w.clearQR()
	if w.Client.Store.ID == nil {
		w.Client.Disconnect()
		return nil
	}
	return w.Client.Logout(ctx)
}

func (w *WhatsAppClient) Disconnect() {
	w.Client.Disconnect()
}

func (w *WhatsAppClient) AddHandler(handler func(interface{})) {
	w.Client.AddEventHandler(handler)
}

// SendMessage sends a text message to a bare phone number.
func (w *WhatsAppClient) SendMessage(ctx context.Context, to string, content string) error {
	jid, err := types.ParseJID(to + "@" + types.DefaultUserServer)
	if err != nil {
		return fmt.Errorf("invalid number format: %w", err)
	}

	_, err = w.Client.SendMessage(ctx, jid, &waProto.Message{
		Conversation: &content,
	})
	return err
}

// ParseMessage converts a whatsmeow message event into an inbound event.
// Reactions, receipts and other protocol messages report false.
func (w *WhatsAppClient) ParseMessage(evt *events.Message) (entities.InboundEvent, bool) {
	in := entities.InboundEvent{
		ConnectionID: w.ConnectionID,
		ExternalID:   evt.Info.ID,
		From:         evt.Info.Sender.User,
		To:           w.GetPhoneNumber(),
		ReceivedAt:   evt.Info.Timestamp,
		Metadata: map[string]any{
			"push_name": evt.Info.PushName,
			"chat":      evt.Info.Chat.String(),
		},
	}

	msg := evt.Message
	switch {
	case msg.GetConversation() != "":
		in.Kind = entities.KindText
		in.Body = msg.GetConversation()
	case msg.GetExtendedTextMessage() != nil:
		in.Kind = entities.KindText
		in.Body = msg.GetExtendedTextMessage().GetText()
	case msg.GetImageMessage() != nil:
		in.Kind = entities.KindImage
		in.Body = msg.GetImageMessage().GetCaption()
		in.MediaURL = msg.GetImageMessage().GetURL()
	case msg.GetVideoMessage() != nil:
		in.Kind = entities.KindVideo
		in.Body = msg.GetVideoMessage().GetCaption()
		in.MediaURL = msg.GetVideoMessage().GetURL()
	case msg.GetAudioMessage() != nil:
		in.Kind = entities.KindAudio
		in.MediaURL = msg.GetAudioMessage().GetURL()
	case msg.GetDocumentMessage() != nil:
		in.Kind = entities.KindDocument
		in.Body = msg.GetDocumentMessage().GetCaption()
		in.MediaURL = msg.GetDocumentMessage().GetURL()
		in.Metadata["file_name"] = msg.GetDocumentMessage().GetFileName()
	case msg.GetLocationMessage() != nil:
		loc := msg.GetLocationMessage()
		in.Kind = entities.KindLocation
		in.Body = loc.GetName()
		in.Metadata["latitude"] = strconv.FormatFloat(loc.GetDegreesLatitude(), 'f', -1, 64)
		in.Metadata["longitude"] = strconv.FormatFloat(loc.GetDegreesLongitude(), 'f', -1, 64)
	case msg.GetContactMessage() != nil:
		in.Kind = entities.KindContact
		in.Body = msg.GetContactMessage().GetDisplayName()
		in.Metadata["vcard"] = msg.GetContactMessage().GetVcard()
	default:
		return in, false
	}
	return in, true
}
