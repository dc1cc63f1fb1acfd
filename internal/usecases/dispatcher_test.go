package usecases

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wa_automation/internal/entities"
	"wa_automation/internal/infrastructure"
)

type dispatchFixture struct {
	dispatcher *Dispatcher
	messages   *memMessageStore
	messenger  *fakeMessenger
	conn       *entities.Connection
}

func newDispatchFixture(t *testing.T, timeout time.Duration) *dispatchFixture {
	t.Helper()
	conn := &entities.Connection{ID: "conn-1", UserID: 7, PhoneNumber: "628999"}
	messages := newMemMessageStore()
	messenger := &fakeMessenger{}
	svc := NewMessageService(messages, memConnections{conn.ID: conn}, &countingUsage{}, liveOn(conn.ID, messenger), nil, testLogger())
	return &dispatchFixture{
		dispatcher: NewDispatcher(infrastructure.NewWebhookClient(time.Minute), svc, timeout),
		messages:   messages,
		messenger:  messenger,
		conn:       conn,
	}
}

func decoded(t *testing.T, tr entities.Trigger) entities.Trigger {
	t.Helper()
	spec, err := entities.DecodeAction(tr.ActionKind, tr.ActionData)
	require.NoError(t, err)
	tr.Action = spec
	return tr
}

func TestDispatchWebhookPostsMessageAndAction(t *testing.T) {
	var got WebhookPayload
	var contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		assert.Empty(t, r.Header.Get("Authorization"))
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := newDispatchFixture(t, time.Second)
	tr := decoded(t, trigger("t1", "conn-1", entities.ConditionMessageReceived, "", entities.ActionN8NWebhook,
		`{"webhook_url":"`+srv.URL+`","workflow":"orders"}`))
	msg := normalized(t, "conn-1", "628111", "new order")
	msg.ID = "m1"

	outboundID, err := f.dispatcher.Dispatch(context.Background(), f.conn, tr, msg)
	require.NoError(t, err)
	assert.Empty(t, outboundID)
	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, "m1", got.Message.ID)
	assert.Equal(t, "new order", got.Message.Body)
	assert.JSONEq(t, `{"webhook_url":"`+srv.URL+`","workflow":"orders"}`, string(got.Action))
}

func TestDispatchWebhookFallsBackToConnectionURL(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	f := newDispatchFixture(t, time.Second)
	f.conn.N8NWebhookURL = srv.URL
	tr := decoded(t, trigger("t1", "conn-1", entities.ConditionMessageReceived, "", entities.ActionN8NWebhook, `{}`))

	_, err := f.dispatcher.Dispatch(context.Background(), f.conn, tr, normalized(t, "conn-1", "1", "x"))
	require.NoError(t, err)
	assert.Equal(t, 1, hits)
}

func TestDispatchWebhookWithoutAnyURL(t *testing.T) {
	f := newDispatchFixture(t, time.Second)
	tr := decoded(t, trigger("t1", "conn-1", entities.ConditionMessageReceived, "", entities.ActionN8NWebhook, `{}`))

	_, err := f.dispatcher.Dispatch(context.Background(), f.conn, tr, normalized(t, "conn-1", "1", "x"))
	assert.ErrorIs(t, err, entities.ErrDispatch)
}

func TestDispatchWebhookNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := newDispatchFixture(t, time.Second)
	tr := decoded(t, trigger("t1", "conn-1", entities.ConditionMessageReceived, "", entities.ActionN8NWebhook,
		`{"webhook_url":"`+srv.URL+`"}`))

	_, err := f.dispatcher.Dispatch(context.Background(), f.conn, tr, normalized(t, "conn-1", "1", "x"))
	var dErr *entities.DispatchError
	require.True(t, errors.As(err, &dErr))
	assert.Equal(t, "t1", dErr.TriggerID)
	assert.Equal(t, http.StatusInternalServerError, dErr.StatusCode)
}

func TestDispatchWebhookTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	f := newDispatchFixture(t, 50*time.Millisecond)
	tr := decoded(t, trigger("t1", "conn-1", entities.ConditionMessageReceived, "", entities.ActionN8NWebhook,
		`{"webhook_url":"`+srv.URL+`"}`))

	start := time.Now()
	_, err := f.dispatcher.Dispatch(context.Background(), f.conn, tr, normalized(t, "conn-1", "1", "x"))
	assert.ErrorIs(t, err, entities.ErrDispatch)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDispatchAutoReplyAnswersSender(t *testing.T) {
	f := newDispatchFixture(t, time.Second)
	tr := decoded(t, trigger("t1", "conn-1", entities.ConditionKeyword, "hi", entities.ActionAutoReply, `{"text":"Hello!"}`))

	outboundID, err := f.dispatcher.Dispatch(context.Background(), f.conn, tr, normalized(t, "conn-1", "+62 811-1", "hi"))
	require.NoError(t, err)
	require.NotEmpty(t, outboundID)

	assert.Equal(t, []sentText{{"628111", "Hello!"}}, f.messenger.texts())
	stored := f.messages.get(outboundID)
	assert.Equal(t, entities.MessageSent, stored.Status)
	assert.Equal(t, "628999", stored.FromNumber)
	assert.Equal(t, "628111", stored.ToNumber)
}

func TestDispatchForwardCopiesMessage(t *testing.T) {
	f := newDispatchFixture(t, time.Second)
	tr := decoded(t, trigger("t1", "conn-1", entities.ConditionMessageReceived, "", entities.ActionForward, `{"to":"+62 877"}`))
	msg, err := NewNormalizer().Normalize(entities.InboundEvent{
		ConnectionID: "conn-1", From: "628111", Body: "invoice", MediaURL: "https://cdn/inv.pdf", Kind: entities.KindDocument,
	})
	require.NoError(t, err)

	outboundID, err := f.dispatcher.Dispatch(context.Background(), f.conn, tr, msg)
	require.NoError(t, err)

	stored := f.messages.get(outboundID)
	assert.Equal(t, "62877", stored.ToNumber)
	assert.Equal(t, entities.KindDocument, stored.Kind)
	assert.Equal(t, "invoice", stored.Content)
	assert.Equal(t, "https://cdn/inv.pdf", stored.MediaURL)
	assert.Equal(t, []sentText{{"62877", "invoice\nhttps://cdn/inv.pdf"}}, f.messenger.texts())
}

func TestDispatchForwardLocationAndContact(t *testing.T) {
	tests := []struct {
		name string
		evt  entities.InboundEvent
		want string
	}{
		{
			name: "unnamed location",
			evt: entities.InboundEvent{Kind: entities.KindLocation,
				Metadata: map[string]any{"latitude": "-6.2", "longitude": "106.8"}},
			want: "-6.2,106.8",
		},
		{
			name: "named location with numeric coordinates",
			evt: entities.InboundEvent{Kind: entities.KindLocation, Body: "Monas",
				Metadata: map[string]any{"latitude": -6.1754, "longitude": 106.8272}},
			want: "Monas\n-6.1754,106.8272",
		},
		{
			name: "contact without display name",
			evt: entities.InboundEvent{Kind: entities.KindContact,
				Metadata: map[string]any{"vcard": "BEGIN:VCARD\nTEL:+62811\nEND:VCARD"}},
			want: "BEGIN:VCARD\nTEL:+62811\nEND:VCARD",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newDispatchFixture(t, time.Second)
			tr := decoded(t, trigger("fwd", "conn-1", entities.ConditionMessageReceived, "", entities.ActionForward, `{"to":"62877"}`))
			tt.evt.ConnectionID, tt.evt.From = "conn-1", "628111"
			msg, err := NewNormalizer().Normalize(tt.evt)
			require.NoError(t, err)

			outboundID, err := f.dispatcher.Dispatch(context.Background(), f.conn, tr, msg)
			require.NoError(t, err)

			stored := f.messages.get(outboundID)
			assert.Equal(t, tt.evt.Kind, stored.Kind)
			assert.Equal(t, tt.want, stored.Content)
			assert.Equal(t, entities.MessageSent, stored.Status)
			assert.Equal(t, []sentText{{"62877", tt.want}}, f.messenger.texts())
		})
	}
}

func TestDispatchSendFailureIsDispatchError(t *testing.T) {
	f := newDispatchFixture(t, time.Second)
	f.messenger.err = errors.New("socket closed")
	tr := decoded(t, trigger("t1", "conn-1", entities.ConditionMessageReceived, "", entities.ActionAutoReply, `{"text":"x"}`))

	outboundID, err := f.dispatcher.Dispatch(context.Background(), f.conn, tr, normalized(t, "conn-1", "1", "x"))
	assert.ErrorIs(t, err, entities.ErrDispatch)
	require.NotEmpty(t, outboundID)
	assert.Equal(t, entities.MessageFailed, f.messages.get(outboundID).Status)
}

func TestDispatchUndecodedAction(t *testing.T) {
	f := newDispatchFixture(t, time.Second)
	tr := trigger("t1", "conn-1", entities.ConditionMessageReceived, "", entities.ActionAutoReply, `{}`)

	_, err := f.dispatcher.Dispatch(context.Background(), f.conn, tr, normalized(t, "conn-1", "1", "x"))
	assert.ErrorIs(t, err, entities.ErrDispatch)
	assert.ErrorIs(t, err, entities.ErrValidation)
}
