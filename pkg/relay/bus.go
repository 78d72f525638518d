// ABOUTME: Namespaced Redis bus for the rectification protocol
// ABOUTME: Channels for change submissions and retransmit requests

package relay

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/fleetmesh/scheddb/pkg/schedule"
)

// ChangeEnvelope is the wire shape of one itinerary change submission.
type ChangeEnvelope struct {
	ID      string                    `json:"id"`
	Change  schedule.Change           `json:"change"`
	Version schedule.ItineraryVersion `json:"version"`
}

// RectifyRequest is the wire shape of one retransmit request. From and To
// are inclusive.
type RectifyRequest struct {
	ID          string                    `json:"id"`
	Participant schedule.ParticipantID    `json:"participant"`
	From        schedule.ItineraryVersion `json:"from"`
	To          schedule.ItineraryVersion `json:"to"`
}

// Bus provides namespace-scoped Redis pub/sub for the schedule transport.
// All channels are prefixed with the namespace so multiple deployments can
// share one Redis. The bus is safe for concurrent use.
type Bus struct {
	rdb       *redis.Client
	namespace string
	log       zerolog.Logger
}

// NewBus creates a bus for the given namespace.
func NewBus(opts *redis.Options, namespace string, log zerolog.Logger) (*Bus, error) {
	if namespace == "" {
		return nil, fmt.Errorf("namespace cannot be empty")
	}
	return &Bus{
		rdb:       redis.NewClient(opts),
		namespace: namespace,
		log:       log,
	}, nil
}

// Close closes the Redis connection. Implements io.Closer.
func (b *Bus) Close() error {
	return b.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
func (b *Bus) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

// ChangesChannel is the channel that carries every change submission for
// this namespace.
func (b *Bus) ChangesChannel() string {
	return fmt.Sprintf("sched:%s:changes", b.namespace)
}

// RectifyChannel is the per-participant channel that carries retransmit
// requests to that participant.
func (b *Bus) RectifyChannel(id schedule.ParticipantID) string {
	return fmt.Sprintf("sched:%s:rectify:%d", b.namespace, id)
}

// PublishChange publishes one change submission to the changes channel.
// Publishing the same change twice is safe: application is idempotent per
// version on the database side.
func (b *Bus) PublishChange(ctx context.Context, change schedule.Change, version schedule.ItineraryVersion) error {
	env := ChangeEnvelope{
		ID:      uuid.New().String(),
		Change:  change,
		Version: version,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal change envelope: %w", err)
	}
	if err := b.rdb.Publish(ctx, b.ChangesChannel(), payload).Err(); err != nil {
		return fmt.Errorf("publish change: %w", err)
	}
	return nil
}

// PublishRectifyRequest publishes one retransmit request to the
// participant's rectify channel.
func (b *Bus) PublishRectifyRequest(ctx context.Context, participant schedule.ParticipantID, from, to schedule.ItineraryVersion) error {
	req := RectifyRequest{
		ID:          uuid.New().String(),
		Participant: participant,
		From:        from,
		To:          to,
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal rectify request: %w", err)
	}
	if err := b.rdb.Publish(ctx, b.RectifyChannel(participant), payload).Err(); err != nil {
		return fmt.Errorf("publish rectify request: %w", err)
	}
	return nil
}
