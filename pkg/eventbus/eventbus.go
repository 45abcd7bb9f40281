// Package eventbus implements the status event bus on Redis pub/sub.
//
// Delivery contract: at-least-once toward any connected subscriber,
// best-effort ordering within one requestId channel, no ordering across
// channels. Consumers are expected to merge idempotently (see EventSet).
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/EducloudHQ/video-agent-nova-embeddings/pkg/types"
)

const (
	statusChannelPrefix = "videoagent:status:"
	// CatchAllChannel receives every status event, for diagnostics and for
	// subscribers without a requestId filter.
	CatchAllChannel = "videoagent:status:all"
	// IngestChannel carries embedding-job termination events.
	IngestChannel = "videoagent:ingest"
)

// EventBusI publishes and subscribes to status events keyed by requestId.
type EventBusI interface {
	Publish(ctx context.Context, event types.StatusEvent) error
	PublishIngest(ctx context.Context, event types.IngestEvent) error
	// Subscribe returns a stream of status events for one requestId, or for
	// all requests when requestID is empty. The returned cancel function
	// closes the subscription and the channel.
	Subscribe(ctx context.Context, requestID string) (<-chan types.StatusEvent, func(), error)
}

type eventBus struct {
	client *goredis.Client
	log    *zap.Logger
}

// NewEventBus returns the Redis-backed bus.
func NewEventBus(client *goredis.Client, log *zap.Logger) EventBusI {
	return &eventBus{client: client, log: log}
}

func statusChannel(requestID string) string {
	return statusChannelPrefix + requestID
}

// Publish validates the event at the bus boundary and fans it out to the
// request channel and the catch-all channel.
func (b *eventBus) Publish(ctx context.Context, event types.StatusEvent) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("rejecting status event: %w", err)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling status event: %w", err)
	}

	if err := b.client.Publish(ctx, statusChannel(event.RequestID), payload).Err(); err != nil {
		return fmt.Errorf("publishing status event: %w", err)
	}
	// Catch-all delivery is best effort; the per-request channel is the
	// consumer contract.
	if err := b.client.Publish(ctx, CatchAllChannel, payload).Err(); err != nil {
		b.log.Warn("failed to publish to catch-all channel", zap.Error(err))
	}

	b.log.Info("status event published",
		zap.String("requestId", event.RequestID),
		zap.String("status", string(event.Status)))
	return nil
}

// PublishIngest reports an embedding-job termination on the ingest channel.
func (b *eventBus) PublishIngest(ctx context.Context, event types.IngestEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling ingest event: %w", err)
	}
	if err := b.client.Publish(ctx, IngestChannel, payload).Err(); err != nil {
		return fmt.Errorf("publishing ingest event: %w", err)
	}
	return nil
}

func (b *eventBus) Subscribe(ctx context.Context, requestID string) (<-chan types.StatusEvent, func(), error) {
	channel := CatchAllChannel
	if requestID != "" {
		channel = statusChannel(requestID)
	}

	sub := b.client.Subscribe(ctx, channel)
	// Force the subscription to be established before returning, so events
	// published right after Subscribe are not lost.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("subscribing to %s: %w", channel, err)
	}

	out := make(chan types.StatusEvent)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			var event types.StatusEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				b.log.Warn("dropping malformed status event", zap.Error(err))
				continue
			}
			if err := event.Validate(); err != nil {
				b.log.Warn("dropping invalid status event", zap.Error(err))
				continue
			}
			select {
			case out <- event:
			case <-ctx.Done():
				return
			}
		}
	}()

	cancel := func() { _ = sub.Close() }
	return out, cancel, nil
}
