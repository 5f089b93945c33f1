package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/princekumarofficial/transcode-service/internal/types"
)

// Channel is the Redis pub/sub channel job events are published on
const Channel = "transcode:events"

// Publisher interface for publishing events
type Publisher interface {
	Publish(ctx context.Context, eventType types.EventType, data *types.JobEvent) error
}

// RedisPublisher publishes JSON events on a Redis channel
type RedisPublisher struct {
	redis *redis.Client
}

// NewRedisPublisher creates a new event publisher
func NewRedisPublisher(redisClient *redis.Client) *RedisPublisher {
	return &RedisPublisher{redis: redisClient}
}

func (p *RedisPublisher) Publish(ctx context.Context, eventType types.EventType, data *types.JobEvent) error {
	payload, err := json.Marshal(types.NewEvent(eventType, data))
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return p.redis.Publish(ctx, Channel, payload).Err()
}

// Nop drops every event
type Nop struct{}

func (Nop) Publish(context.Context, types.EventType, *types.JobEvent) error {
	return nil
}

var (
	_ Publisher = (*RedisPublisher)(nil)
	_ Publisher = Nop{}
)
