package movement

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/XavierBriggs/fortuna/services/odds-tracker/pkg/models"
)

// StreamKey is the Redis stream downstream consumers subscribe to for
// movement events.
const StreamKey = "odds.movements"

// StreamPublisher publishes movement events to Redis Streams so
// downstream consumers can react without polling Postgres.
type StreamPublisher struct {
	redis *redis.Client
}

// NewStreamPublisher creates a new stream publisher.
func NewStreamPublisher(redisClient *redis.Client) *StreamPublisher {
	return &StreamPublisher{redis: redisClient}
}

// PublishBatch publishes events for one refresh cycle in a single
// pipeline, tagged with the cycle id for correlation.
func (p *StreamPublisher) PublishBatch(ctx context.Context, cycleID string, events []models.MovementEvent) error {
	if len(events) == 0 {
		return nil
	}

	pipe := p.redis.Pipeline()

	for _, event := range events {
		data, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("marshaling movement event: %w", err)
		}

		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: StreamKey,
			Values: map[string]interface{}{
				"cycle_id": cycleID,
				"data":     string(data),
			},
		})
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publishing to stream %s: %w", StreamKey, err)
	}
	return nil
}
