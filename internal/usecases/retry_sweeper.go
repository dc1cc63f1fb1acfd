package usecases

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"wa_automation/internal/entities"
)

const retryBatchSize = 100

// DefaultStalePending is how long a claimed outcome may stay pending before
// the sweep treats it as abandoned. It must exceed the dispatch timeout.
const DefaultStalePending = 10 * time.Minute

// RetryStore is the outcome persistence used by the retry sweep. Failed
// outcomes and outcomes left pending since before staleBefore are retryable.
type RetryStore interface {
	ListRetryable(ctx context.Context, maxAttempts, limit int, staleBefore time.Time) ([]entities.RetryCandidate, error)
	ClaimRetry(ctx context.Context, triggerID, messageID string, staleBefore time.Time) (attempt int, ok bool, err error)
}

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// RetrySweeper periodically replays failed webhook outcomes until they
// succeed or run out of attempts. Outcomes whose dispatch was claimed but
// never recorded are replayed too. Sweeps never overlap.
type RetrySweeper struct {
	engine      *TriggerEngine
	store       RetryStore
	maxAttempts int
	staleAfter  time.Duration
	timeout     time.Duration
	sched       *cron.Cron
	logger      zerolog.Logger
}

func NewRetrySweeper(engine *TriggerEngine, store RetryStore, schedule string, maxAttempts int, logger zerolog.Logger) (*RetrySweeper, error) {
	cl := cronLogger{logger}
	s := &RetrySweeper{
		engine:      engine,
		store:       store,
		maxAttempts: maxAttempts,
		staleAfter:  DefaultStalePending,
		timeout:     time.Minute,
		sched:       cron.New(cron.WithParser(cronParser), cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		logger:      logger,
	}
	if _, err := s.sched.AddFunc(schedule, s.run); err != nil {
		return nil, fmt.Errorf("invalid retry schedule %q: %w", schedule, err)
	}
	return s, nil
}

func (s *RetrySweeper) Start() { s.sched.Start() }

// Stop waits for a running sweep to finish or ctx to expire.
func (s *RetrySweeper) Stop(ctx context.Context) {
	select {
	case <-s.sched.Stop().Done():
	case <-ctx.Done():
	}
}

func (s *RetrySweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.Sweep(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Retry sweep failed")
	}
}

// Sweep retries one batch of failed or abandoned outcomes and returns how
// many succeeded.
func (s *RetrySweeper) Sweep(ctx context.Context) (int, error) {
	staleBefore := time.Now().Add(-s.staleAfter)
	candidates, err := s.store.ListRetryable(ctx, s.maxAttempts, retryBatchSize, staleBefore)
	if err != nil {
		return 0, err
	}
	succeeded := 0
	for _, c := range candidates {
		attempt, ok, err := s.store.ClaimRetry(ctx, c.Outcome.TriggerID, c.Outcome.MessageID, staleBefore)
		if err != nil {
			s.logger.Warn().Err(err).Str("trigger_id", c.Outcome.TriggerID).Msg("Failed to claim retry")
			continue
		}
		if !ok {
			continue
		}
		res, err := s.engine.Retry(ctx, c, attempt)
		if err != nil {
			s.logger.Warn().Err(err).Str("trigger_id", c.Outcome.TriggerID).Msg("Retry not recorded")
			continue
		}
		if res.Status == entities.OutcomeSucceeded {
			succeeded++
		}
	}
	if len(candidates) > 0 {
		s.logger.Info().Int("candidates", len(candidates)).Int("succeeded", succeeded).Msg("Retry sweep complete")
	}
	return succeeded, nil
}

// Retry dispatches a claimed failed outcome again as attempt number attempt.
func (e *TriggerEngine) Retry(ctx context.Context, c entities.RetryCandidate, attempt int) (DispatchResult, error) {
	conn, err := e.conns.GetByID(ctx, c.Message.ConnectionID)
	if err != nil {
		return DispatchResult{TriggerID: c.Trigger.ID, Err: err}, err
	}
	msg := normalizedFromStored(c.Message)
	if len(c.Message.Metadata) > 0 {
		if err := json.Unmarshal(c.Message.Metadata, &msg.Metadata); err != nil {
			e.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("Stored metadata does not decode")
		}
	}
	log := e.logger.With().Str("trigger_id", c.Trigger.ID).Str("message_id", msg.ID).Int("attempt", attempt).Logger()

	res := DispatchResult{TriggerID: c.Trigger.ID, Status: entities.OutcomeSucceeded}
	outcome := entities.Outcome{
		TriggerID: c.Trigger.ID,
		MessageID: c.Message.ID,
		Status:    entities.OutcomeSucceeded,
		Attempts:  attempt,
	}
	outboundID, dispatchErr := e.dispatcher.Dispatch(context.WithoutCancel(ctx), conn, c.Trigger, msg)
	outcome.OutboundMessageID = outboundID
	if dispatchErr != nil {
		outcome.Status, res.Status = entities.OutcomeFailed, entities.OutcomeFailed
		outcome.Error = dispatchErr.Error()
		res.Err = dispatchErr
		log.Warn().Err(dispatchErr).Msg("Trigger retry failed")
	}
	return res, e.record(ctx, &res, outcome, log)
}

// normalizedFromStored rebuilds the matching record of a stored inbound
// message. Metadata is decoded by the caller.
func normalizedFromStored(m entities.Message) NormalizedMessage {
	return NormalizedMessage{
		ID:           m.ID,
		ConnectionID: m.ConnectionID,
		Sender:       m.FromNumber,
		Recipient:    m.ToNumber,
		Body:         m.Content,
		MatchText:    strings.ToLower(m.Content),
		Kind:         m.Kind,
		MediaURL:     m.MediaURL,
		Timestamp:    m.CreatedAt.UTC(),
		ExternalID:   m.ExternalID,
	}
}

// cronLogger routes scheduler logs to zerolog.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
