// ABOUTME: Redis-backed RectificationRequester and its factory
// ABOUTME: Subscribes to the participant's rectify channel and relays requests

package relay

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/fleetmesh/scheddb/pkg/schedule"
)

// RequesterFactory creates Redis-backed rectification requesters. It
// implements schedule.RectificationRequesterFactory: one requester is made
// per participant registration, subscribed to that participant's rectify
// channel.
type RequesterFactory struct {
	bus *Bus
	log zerolog.Logger
}

// NewRequesterFactory returns a factory publishing and subscribing through
// the given bus.
func NewRequesterFactory(bus *Bus, log zerolog.Logger) *RequesterFactory {
	return &RequesterFactory{bus: bus, log: log}
}

// Make subscribes to the participant's rectify channel and starts a pump
// that turns each incoming request into a Rectifier.Retransmit call. The
// returned requester's Close unsubscribes and waits for the pump to drain.
func (f *RequesterFactory) Make(rectifier schedule.Rectifier, participant schedule.ParticipantID) (schedule.RectificationRequester, error) {
	pubsub := f.bus.rdb.Subscribe(context.Background(), f.bus.RectifyChannel(participant))

	// Confirm the subscription before returning so no request published
	// after Make is missed.
	if _, err := pubsub.Receive(context.Background()); err != nil {
		pubsub.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &busRequester{
		pubsub: pubsub,
		ctx:    ctx,
		cancel: cancel,
		log: f.log.With().
			Str("component", "rectification").
			Uint64("participant", uint64(participant)).
			Logger(),
	}
	r.wg.Add(1)
	go r.pump(rectifier)
	return r, nil
}

// busRequester is the transport side of one participant's rectification
// binding. Its whole behavior is the pump goroutine; per the protocol it
// exposes nothing beyond guaranteed release on Close. The lifetime context
// bounds every Retransmit call: Close cancels it so a re-send stuck on a
// hung transport cannot keep the pump alive.
type busRequester struct {
	pubsub   *redis.PubSub
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	log      zerolog.Logger
	once     sync.Once
	closeErr error
}

func (r *busRequester) pump(rectifier schedule.Rectifier) {
	defer r.wg.Done()
	for msg := range r.pubsub.Channel() {
		var req RectifyRequest
		if err := json.Unmarshal([]byte(msg.Payload), &req); err != nil {
			r.log.Error().Err(err).Msg("malformed rectify request")
			continue
		}
		r.log.Debug().
			Str("request_id", req.ID).
			Uint64("from", uint64(req.From)).
			Uint64("to", uint64(req.To)).
			Msg("relaying retransmit request")
		if err := rectifier.Retransmit(r.ctx, req.From, req.To); err != nil {
			r.log.Error().Err(err).Str("request_id", req.ID).Msg("retransmit failed")
		}
	}
}

// Close releases the subscription and waits for the pump goroutine, so no
// retransmit call is in flight once it returns. Close is idempotent.
func (r *busRequester) Close() error {
	r.once.Do(func() {
		r.cancel()
		r.closeErr = r.pubsub.Close()
		r.wg.Wait()
	})
	return r.closeErr
}
