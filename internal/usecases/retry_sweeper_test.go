package usecases

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wa_automation/internal/entities"
)

// memRetryStore layers the retry queries over memTriggerStore.
type memRetryStore struct {
	*memTriggerStore
	mu         sync.Mutex
	candidates []entities.RetryCandidate
}

func retryable(o entities.Outcome, staleBefore time.Time) bool {
	return o.Status == entities.OutcomeFailed ||
		(o.Status == entities.OutcomePending && o.UpdatedAt.Before(staleBefore))
}

func (s *memRetryStore) ListRetryable(_ context.Context, maxAttempts, limit int, staleBefore time.Time) ([]entities.RetryCandidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []entities.RetryCandidate
	for _, c := range s.candidates {
		o, ok := s.outcome(c.Outcome.TriggerID, c.Outcome.MessageID)
		if ok && retryable(o, staleBefore) && o.Attempts < maxAttempts && len(out) < limit {
			c.Outcome = o
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *memRetryStore) ClaimRetry(_ context.Context, triggerID, messageID string, staleBefore time.Time) (int, bool, error) {
	s.memTriggerStore.mu.Lock()
	defer s.memTriggerStore.mu.Unlock()
	key := outcomeKey{triggerID, messageID}
	o, ok := s.outcomes[key]
	if !ok || !retryable(o, staleBefore) {
		return 0, false, nil
	}
	o.Status = entities.OutcomePending
	o.Attempts++
	o.UpdatedAt = time.Now()
	s.outcomes[key] = o
	return o.Attempts, true, nil
}

func TestSweepRetriesFailedWebhooks(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	hook := trigger("hook", "conn-1", entities.ConditionMessageReceived, "", entities.ActionN8NWebhook, `{"webhook_url":"`+srv.URL+`"}`)
	f := newEngineFixture(t, hook)
	report := f.inbound(t, "628111", "hello")
	require.Len(t, report.Failed(), 1)

	store := &memRetryStore{memTriggerStore: f.store}
	store.candidates = []entities.RetryCandidate{{
		Trigger: f.store.triggers[0],
		Message: f.messages.get(report.MessageID),
		Outcome: entities.Outcome{TriggerID: "hook", MessageID: report.MessageID},
	}}
	f.engine.store = store

	sweeper, err := NewRetrySweeper(f.engine, store, "@every 1h", 3, testLogger())
	require.NoError(t, err)

	succeeded, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, succeeded)
	o, _ := f.store.outcome("hook", report.MessageID)
	assert.Equal(t, entities.OutcomeFailed, o.Status)
	assert.Equal(t, 2, o.Attempts)

	failing.Store(false)
	succeeded, err = sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, succeeded)
	o, _ = f.store.outcome("hook", report.MessageID)
	assert.Equal(t, entities.OutcomeSucceeded, o.Status)
	assert.Equal(t, 3, o.Attempts)
	assert.Empty(t, o.Error)

	succeeded, err = sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, succeeded, "nothing left to retry")
}

func TestSweepStopsAtMaxAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := newEngineFixture(t, trigger("hook", "conn-1", entities.ConditionMessageReceived, "", entities.ActionN8NWebhook, `{"webhook_url":"`+srv.URL+`"}`))
	report := f.inbound(t, "628111", "hello")

	store := &memRetryStore{memTriggerStore: f.store}
	store.candidates = []entities.RetryCandidate{{
		Trigger: f.store.triggers[0],
		Message: f.messages.get(report.MessageID),
		Outcome: entities.Outcome{TriggerID: "hook", MessageID: report.MessageID},
	}}
	f.engine.store = store

	sweeper, err := NewRetrySweeper(f.engine, store, "*/5 * * * *", 2, testLogger())
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := sweeper.Sweep(context.Background())
		require.NoError(t, err)
	}

	o, _ := f.store.outcome("hook", report.MessageID)
	assert.Equal(t, entities.OutcomeFailed, o.Status)
	assert.Equal(t, 2, o.Attempts)
}

func TestSweepRecoversAbandonedPendingOutcome(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := newEngineFixture(t, trigger("hook", "conn-1", entities.ConditionMessageReceived, "", entities.ActionN8NWebhook, `{"webhook_url":"`+srv.URL+`"}`))
	f.store.recordErr = entities.StoreFailure("record outcome", errors.New("conn reset"))
	report := f.inbound(t, "628111", "hello")
	require.Len(t, report.RecordErrors, 1)
	f.store.recordErr = nil

	o, _ := f.store.outcome("hook", report.MessageID)
	require.Equal(t, entities.OutcomePending, o.Status)

	store := &memRetryStore{memTriggerStore: f.store}
	store.candidates = []entities.RetryCandidate{{
		Trigger: f.store.triggers[0],
		Message: f.messages.get(report.MessageID),
		Outcome: entities.Outcome{TriggerID: "hook", MessageID: report.MessageID},
	}}
	sweeper, err := NewRetrySweeper(f.engine, store, "@every 1h", 3, testLogger())
	require.NoError(t, err)

	succeeded, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, succeeded, "recent pending outcome may still be in flight")
	assert.EqualValues(t, 1, hits.Load())

	f.store.backdate("hook", report.MessageID, DefaultStalePending+time.Minute)
	succeeded, err = sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, succeeded)
	assert.EqualValues(t, 2, hits.Load())

	o, _ = f.store.outcome("hook", report.MessageID)
	assert.Equal(t, entities.OutcomeSucceeded, o.Status)
	assert.Equal(t, 2, o.Attempts)
}

func TestRetryReplaysStoredMetadata(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)
	var mu sync.Mutex
	var bodies []WebhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p WebhookPayload
		_ = json.NewDecoder(r.Body).Decode(&p)
		mu.Lock()
		bodies = append(bodies, p)
		mu.Unlock()
		if failing.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := newEngineFixture(t, trigger("hook", "conn-1", entities.ConditionMessageReceived, "", entities.ActionN8NWebhook, `{"webhook_url":"`+srv.URL+`"}`))
	report, err := f.engine.HandleInbound(context.Background(), entities.InboundEvent{
		ConnectionID: "conn-1",
		ExternalID:   "WAMID-9",
		From:         "628111",
		Body:         "hello",
		Metadata:     map[string]any{"push_name": "Budi"},
	})
	require.NoError(t, err)
	require.Len(t, report.Failed(), 1)

	store := &memRetryStore{memTriggerStore: f.store}
	store.candidates = []entities.RetryCandidate{{
		Trigger: f.store.triggers[0],
		Message: f.messages.get(report.MessageID),
		Outcome: entities.Outcome{TriggerID: "hook", MessageID: report.MessageID},
	}}
	sweeper, err := NewRetrySweeper(f.engine, store, "@every 1h", 3, testLogger())
	require.NoError(t, err)

	failing.Store(false)
	succeeded, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, succeeded)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, bodies, 2)
	for _, p := range bodies {
		assert.Equal(t, report.MessageID, p.Message.ID)
		assert.Equal(t, "WAMID-9", p.Message.ExternalID)
		assert.Equal(t, map[string]any{"push_name": "Budi"}, p.Message.Metadata)
	}
}

func TestNewRetrySweeperRejectsBadSchedule(t *testing.T) {
	_, err := NewRetrySweeper(nil, &memRetryStore{}, "every now and then", 3, testLogger())
	assert.Error(t, err)
}

func TestRetrySweeperStartStop(t *testing.T) {
	sweeper, err := NewRetrySweeper(nil, &memRetryStore{memTriggerStore: newMemTriggerStore()}, "0 */30 * * * *", 3, testLogger())
	require.NoError(t, err)
	sweeper.Start()
	sweeper.Stop(context.Background())
}
