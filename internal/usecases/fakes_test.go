package usecases

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"wa_automation/internal/entities"
	"wa_automation/internal/interfaces"
)

type outcomeKey struct{ trigger, message string }

// memTriggerStore enforces the (trigger, message) uniqueness of outcomes.
// It returns every trigger of a connection, active or not, so that tests
// exercise the matcher's own filtering.
type memTriggerStore struct {
	mu        sync.Mutex
	triggers  []entities.Trigger
	outcomes  map[outcomeKey]entities.Outcome
	claims    int
	recordErr error
	listErr   error
}

func newMemTriggerStore(triggers ...entities.Trigger) *memTriggerStore {
	for i := range triggers {
		if triggers[i].Action == nil {
			spec, err := entities.DecodeAction(triggers[i].ActionKind, triggers[i].ActionData)
			if err == nil {
				triggers[i].Action = spec
			}
		}
	}
	return &memTriggerStore{triggers: triggers, outcomes: map[outcomeKey]entities.Outcome{}}
}

func (s *memTriggerStore) ListActiveTriggers(_ context.Context, connectionID string) ([]entities.Trigger, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []entities.Trigger
	for _, t := range s.triggers {
		if t.ConnectionID == connectionID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *memTriggerStore) ClaimDispatch(_ context.Context, triggerID, messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := outcomeKey{triggerID, messageID}
	if _, exists := s.outcomes[key]; exists {
		return false, nil
	}
	s.claims++
	s.outcomes[key] = entities.Outcome{TriggerID: triggerID, MessageID: messageID, Status: entities.OutcomePending, Attempts: 1, UpdatedAt: time.Now()}
	return true, nil
}

func (s *memTriggerStore) RecordOutcome(_ context.Context, o entities.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recordErr != nil {
		return s.recordErr
	}
	key := outcomeKey{o.TriggerID, o.MessageID}
	if prev, ok := s.outcomes[key]; ok && prev.Attempts > o.Attempts {
		o.Attempts = prev.Attempts
	}
	o.UpdatedAt = time.Now()
	s.outcomes[key] = o
	return nil
}

func (s *memTriggerStore) outcome(triggerID, messageID string) (entities.Outcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.outcomes[outcomeKey{triggerID, messageID}]
	return o, ok
}

// backdate moves the last update of an outcome into the past.
func (s *memTriggerStore) backdate(triggerID, messageID string, by time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := outcomeKey{triggerID, messageID}
	o := s.outcomes[key]
	o.UpdatedAt = o.UpdatedAt.Add(-by)
	s.outcomes[key] = o
}

type memMessageStore struct {
	mu        sync.Mutex
	seq       int
	messages  map[string]*entities.Message
	order     []string
	createErr error
}

func newMemMessageStore() *memMessageStore {
	return &memMessageStore{messages: map[string]*entities.Message{}}
}

func (s *memMessageStore) Create(_ context.Context, m *entities.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	s.seq++
	m.ID = fmt.Sprintf("msg-%d", s.seq)
	m.CreatedAt = time.Now()
	cp := *m
	s.messages[m.ID] = &cp
	s.order = append(s.order, m.ID)
	return nil
}

func (s *memMessageStore) CreateInbound(ctx context.Context, m *entities.Message) (bool, error) {
	if m.ExternalID != "" {
		s.mu.Lock()
		for _, existing := range s.messages {
			if existing.ConnectionID == m.ConnectionID && existing.ExternalID == m.ExternalID {
				*m = *existing
				s.mu.Unlock()
				return false, nil
			}
		}
		s.mu.Unlock()
	}
	return true, s.Create(ctx, m)
}

func (s *memMessageStore) UpdateStatus(_ context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return entities.NotFound("message")
	}
	m.Status = status
	return nil
}

func (s *memMessageStore) ListForUser(_ context.Context, _ int, connectionID string, limit int) ([]entities.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []entities.Message
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		m := s.messages[s.order[i]]
		if connectionID == "" || m.ConnectionID == connectionID {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (s *memMessageStore) GetForUser(_ context.Context, _ int, id string) (*entities.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, entities.NotFound("message")
	}
	cp := *m
	return &cp, nil
}

func (s *memMessageStore) DeleteForUser(_ context.Context, _ int, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[id]; !ok {
		return entities.NotFound("message")
	}
	delete(s.messages, id)
	return nil
}

func (s *memMessageStore) get(id string) entities.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.messages[id]
}

func (s *memMessageStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

type memConnections map[string]*entities.Connection

func (m memConnections) GetByID(_ context.Context, id string) (*entities.Connection, error) {
	c, ok := m[id]
	if !ok {
		return nil, entities.NotFound("connection")
	}
	cp := *c
	return &cp, nil
}

func (m memConnections) GetForUser(ctx context.Context, userID int, id string) (*entities.Connection, error) {
	c, err := m.GetByID(ctx, id)
	if err != nil || c.UserID != userID {
		return nil, entities.NotFound("connection")
	}
	return c, nil
}

type countingUsage struct {
	sent, received atomic.Int64
}

func (u *countingUsage) IncrementSent(context.Context, int) error {
	u.sent.Add(1)
	return nil
}

func (u *countingUsage) IncrementReceived(context.Context, int) error {
	u.received.Add(1)
	return nil
}

type sentText struct{ to, content string }

type fakeMessenger struct {
	mu   sync.Mutex
	sent []sentText
	err  error
}

func (m *fakeMessenger) SendMessage(_ context.Context, to, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentText{to, content})
	return nil
}

func (m *fakeMessenger) texts() []sentText {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentText(nil), m.sent...)
}

// resolverFunc adapts a func to interfaces.MessengerResolver.
type resolverFunc func(connectionID string) interfaces.Messenger

func (f resolverFunc) Messenger(connectionID string) interfaces.Messenger { return f(connectionID) }

func liveOn(id string, m *fakeMessenger) resolverFunc {
	return func(connectionID string) interfaces.Messenger {
		if connectionID == id {
			return m
		}
		return nil
	}
}

type denyLimiter struct{}

func (denyLimiter) Allow(string) bool             { return false }
func (denyLimiter) WaitTime(string) time.Duration { return 2 * time.Second }

func trigger(id, connID string, cond entities.ConditionKind, value string, action entities.ActionKind, data string) entities.Trigger {
	return entities.Trigger{
		ID:             id,
		ConnectionID:   connID,
		Name:           id,
		ConditionKind:  cond,
		ConditionValue: value,
		ActionKind:     action,
		ActionData:     json.RawMessage(data),
		IsActive:       true,
	}
}

func testLogger() zerolog.Logger { return zerolog.Nop() }
