package usecases

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"wa_automation/internal/entities"
	"wa_automation/internal/interfaces"
)

// DispatchResult is what happened to one matched trigger during a pass.
type DispatchResult struct {
	TriggerID string
	Status    entities.OutcomeStatus
	// Skipped is set when the (trigger, message) pair was already claimed.
	Skipped    bool
	BestEffort bool
	Err        error
}

// Report summarizes one pass of the engine over a message.
type Report struct {
	MessageID string
	Sequence  uint64
	// Duplicate is set when the event redelivered an already stored message.
	Duplicate    bool
	Matched      int
	Results      []DispatchResult
	RecordErrors []error
}

// Failed returns the results whose action did not succeed.
func (r *Report) Failed() []DispatchResult {
	var failed []DispatchResult
	for _, res := range r.Results {
		if res.Status == entities.OutcomeFailed {
			failed = append(failed, res)
		}
	}
	return failed
}

// TriggerEngine turns inbound messages into trigger outcomes:
// normalize, persist, match, then dispatch every match in parallel.
type TriggerEngine struct {
	normalizer  *Normalizer
	dispatcher  *Dispatcher
	store       interfaces.TriggerStore
	messages    interfaces.InboundStore
	conns       interfaces.ConnectionLookup
	usage       UsageCounter
	concurrency int
	logger      zerolog.Logger
}

func NewTriggerEngine(normalizer *Normalizer, dispatcher *Dispatcher, store interfaces.TriggerStore,
	messages interfaces.InboundStore, conns interfaces.ConnectionLookup, usage UsageCounter,
	concurrency int, logger zerolog.Logger) *TriggerEngine {
	if concurrency < 1 {
		concurrency = 1
	}
	return &TriggerEngine{
		normalizer:  normalizer,
		dispatcher:  dispatcher,
		store:       store,
		messages:    messages,
		conns:       conns,
		usage:       usage,
		concurrency: concurrency,
		logger:      logger,
	}
}

// HandleInbound normalizes and stores an inbound event, then runs the
// connection's triggers against it. A redelivered event reuses the stored
// message, so triggers that already fired for it are skipped.
func (e *TriggerEngine) HandleInbound(ctx context.Context, evt entities.InboundEvent) (*Report, error) {
	msg, err := e.normalizer.Normalize(evt)
	if err != nil {
		return nil, err
	}
	conn, err := e.conns.GetByID(ctx, msg.ConnectionID)
	if err != nil {
		return nil, err
	}

	stored := &entities.Message{
		ConnectionID: msg.ConnectionID,
		FromNumber:   msg.Sender,
		ToNumber:     msg.Recipient,
		Kind:         msg.Kind,
		Content:      msg.Body,
		MediaURL:     msg.MediaURL,
		ExternalID:   msg.ExternalID,
		Status:       entities.MessageReceived,
	}
	if stored.ToNumber == "" {
		stored.ToNumber = NormalizeNumber(conn.PhoneNumber)
	}
	if len(msg.Metadata) > 0 {
		if stored.Metadata, err = json.Marshal(msg.Metadata); err != nil {
			return nil, entities.InvalidEvent("metadata: " + err.Error())
		}
	}
	created, err := e.messages.CreateInbound(ctx, stored)
	if err != nil {
		return nil, err
	}
	msg.ID = stored.ID

	if !created {
		e.logger.Info().Str("message_id", msg.ID).Str("external_id", msg.ExternalID).Msg("Inbound message redelivered")
		report, err := e.Process(ctx, conn, msg)
		if report != nil {
			report.Duplicate = true
		}
		return report, err
	}

	if e.usage != nil {
		if err := e.usage.IncrementReceived(ctx, conn.UserID); err != nil {
			e.logger.Warn().Err(err).Int("user_id", conn.UserID).Msg("Failed to count received message")
		}
	}

	return e.Process(ctx, conn, msg)
}

// Process matches and dispatches an already stored message. Running it
// again for the same message fires nothing new.
func (e *TriggerEngine) Process(ctx context.Context, conn *entities.Connection, msg NormalizedMessage) (*Report, error) {
	triggers, err := e.store.ListActiveTriggers(ctx, msg.ConnectionID)
	if err != nil {
		return nil, err
	}
	matched := MatchAll(triggers, msg)
	report := &Report{
		MessageID: msg.ID,
		Sequence:  msg.Sequence,
		Matched:   len(matched),
		Results:   make([]DispatchResult, len(matched)),
	}
	if len(matched) == 0 {
		return report, nil
	}

	// actions finish even if the caller goes away
	dctx := context.WithoutCancel(ctx)
	recordErrs := make([]error, len(matched))

	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i, t := range matched {
		g.Go(func() error {
			report.Results[i], recordErrs[i] = e.fire(dctx, conn, t, msg)
			return nil
		})
	}
	_ = g.Wait()

	for _, err := range recordErrs {
		if err != nil {
			report.RecordErrors = append(report.RecordErrors, err)
		}
	}
	e.logger.Debug().
		Str("message_id", msg.ID).
		Uint64("sequence", msg.Sequence).
		Int("matched", report.Matched).
		Int("failed", len(report.Failed())).
		Msg("Trigger pass complete")
	return report, nil
}

func (e *TriggerEngine) fire(ctx context.Context, conn *entities.Connection, t entities.Trigger, msg NormalizedMessage) (DispatchResult, error) {
	res := DispatchResult{TriggerID: t.ID}
	log := e.logger.With().Str("trigger_id", t.ID).Str("message_id", msg.ID).Logger()

	claimed, err := e.store.ClaimDispatch(ctx, t.ID, msg.ID)
	if errors.Is(err, entities.ErrNotFound) {
		log.Info().Msg("Trigger or message removed before dispatch")
		res.Skipped, res.BestEffort = true, true
		return res, nil
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to claim dispatch")
		res.Err = err
		return res, err
	}
	if !claimed {
		res.Skipped = true
		return res, nil
	}

	outboundID, dispatchErr := e.dispatcher.Dispatch(ctx, conn, t, msg)
	outcome := entities.Outcome{
		TriggerID:         t.ID,
		MessageID:         msg.ID,
		Status:            entities.OutcomeSucceeded,
		OutboundMessageID: outboundID,
		Attempts:          1,
	}
	if dispatchErr != nil {
		outcome.Status = entities.OutcomeFailed
		outcome.Error = dispatchErr.Error()
		res.Err = dispatchErr
		log.Warn().Err(dispatchErr).Str("action", string(t.ActionKind)).Msg("Trigger action failed")
	}
	res.Status = outcome.Status

	return res, e.record(ctx, &res, outcome, log)
}

// record stores an outcome. A trigger or message deleted mid-flight makes
// the outcome best-effort rather than an error.
func (e *TriggerEngine) record(ctx context.Context, res *DispatchResult, outcome entities.Outcome, log zerolog.Logger) error {
	err := e.store.RecordOutcome(ctx, outcome)
	if errors.Is(err, entities.ErrNotFound) {
		res.BestEffort = true
		log.Info().Str("status", string(outcome.Status)).Msg("Outcome dropped, trigger or message no longer exists")
		return nil
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to record trigger outcome")
	}
	return err
}
