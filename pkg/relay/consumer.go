// ABOUTME: Database-side change consumer
// ABOUTME: Applies change envelopes from the bus to the schedule database

package relay

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/fleetmesh/scheddb/pkg/schedule"
)

// Consumer subscribes to the changes channel and feeds every envelope into
// the database's submission path. Gap detection, buffering and rectification
// all happen inside the database; the consumer is a dumb pipe.
type Consumer struct {
	bus           *Bus
	db            *schedule.Database
	log           zerolog.Logger
	observe       func(mode string)
	observeReject func()
	ready         chan struct{}
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithChangeObserver installs a callback invoked with the mode of every
// submitted change.
func WithChangeObserver(observe func(mode string)) ConsumerOption {
	return func(c *Consumer) { c.observe = observe }
}

// WithRejectionObserver installs a callback invoked once for every envelope
// the database rejects, malformed payloads included.
func WithRejectionObserver(observe func()) ConsumerOption {
	return func(c *Consumer) { c.observeReject = observe }
}

// NewConsumer creates a consumer applying envelopes from bus to db.
func NewConsumer(bus *Bus, db *schedule.Database, log zerolog.Logger, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		bus:   bus,
		db:    db,
		log:   log.With().Str("component", "change_consumer").Logger(),
		ready: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Ready is closed once Run has established its subscription; envelopes
// published after that point will not be missed.
func (c *Consumer) Ready() <-chan struct{} {
	return c.ready
}

// Run consumes until the context is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	pubsub := c.bus.rdb.Subscribe(ctx, c.bus.ChangesChannel())
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	close(c.ready)
	c.log.Info().Str("channel", c.bus.ChangesChannel()).Msg("consuming change submissions")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			c.handle(ctx, msg.Payload)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, payload string) {
	var env ChangeEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		c.log.Error().Err(err).Msg("malformed change envelope")
		if c.observeReject != nil {
			c.observeReject()
		}
		return
	}
	if err := c.db.Submit(ctx, env.Change, env.Version); err != nil {
		c.log.Error().
			Err(err).
			Str("envelope_id", env.ID).
			Uint64("participant", uint64(env.Change.Participant)).
			Uint64("version", uint64(env.Version)).
			Msg("change submission rejected")
		if c.observeReject != nil {
			c.observeReject()
		}
		return
	}
	if c.observe != nil {
		c.observe(env.Change.Mode.String())
	}
}
