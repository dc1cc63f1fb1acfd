package usecases

import (
	"context"
	"errors"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"

	"wa_automation/internal/entities"
)

// InboundHandler runs one inbound event through the trigger engine.
type InboundHandler interface {
	HandleInbound(ctx context.Context, evt entities.InboundEvent) (*Report, error)
}

// InboundRouter hands inbound events to a bounded worker pool so that
// transport event loops return immediately.
type InboundRouter struct {
	pool    *ants.Pool
	handler InboundHandler
	timeout time.Duration
	logger  zerolog.Logger
}

func NewInboundRouter(handler InboundHandler, workers int, timeout time.Duration, logger zerolog.Logger) (*InboundRouter, error) {
	pool, err := ants.NewPool(workers,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(p interface{}) {
			logger.Error().Interface("panic", p).Msg("Inbound worker panicked")
		}),
	)
	if err != nil {
		return nil, err
	}
	return &InboundRouter{pool: pool, handler: handler, timeout: timeout, logger: logger}, nil
}

// Submit queues evt. It fails fast with ants.ErrPoolOverload when every
// worker is busy.
func (r *InboundRouter) Submit(evt entities.InboundEvent) error {
	err := r.pool.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		report, err := r.handler.HandleInbound(ctx, evt)
		log := r.logger.With().Str("connection_id", evt.ConnectionID).Str("external_id", evt.ExternalID).Logger()
		if err != nil {
			if errors.Is(err, entities.ErrInvalidEvent) {
				log.Debug().Err(err).Msg("Inbound event ignored")
				return
			}
			log.Error().Err(err).Msg("Failed to handle inbound message")
			return
		}
		log.Info().Str("message_id", report.MessageID).Int("matched", report.Matched).Int("failed", len(report.Failed())).Msg("Inbound message processed")
	})
	if err != nil {
		r.logger.Error().Err(err).Str("connection_id", evt.ConnectionID).Msg("Inbound message dropped")
	}
	return err
}

// Running is the number of events currently being handled.
func (r *InboundRouter) Running() int { return r.pool.Running() }

// Close waits up to timeout for queued events, then releases the pool.
func (r *InboundRouter) Close(timeout time.Duration) error {
	return r.pool.ReleaseTimeout(timeout)
}
