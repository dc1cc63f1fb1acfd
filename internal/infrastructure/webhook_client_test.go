package infrastructure

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
)

func TestPostJSON(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	err := NewWebhookClient(time.Second).PostJSON(context.Background(), srv.URL, map[string]string{"from": "628111"})
	require.NoError(t, err)
	assert.Equal(t, "628111", got["from"])
}

func TestPostJSONNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := NewWebhookClient(time.Second).PostJSON(context.Background(), srv.URL, struct{}{})
	var statusErr *entities.HTTPStatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
	assert.Equal(t, srv.URL, statusErr.URL)
}

func TestPostJSONHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := NewWebhookClient(time.Minute).PostJSON(ctx, srv.URL, struct{}{})
	assert.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestPostJSONUnencodableBody(t *testing.T) {
	err := NewWebhookClient(time.Second).PostJSON(context.Background(), "http://127.0.0.1:1", map[string]any{"ch": make(chan int)})
	assert.ErrorContains(t, err, "encode webhook body")
}
