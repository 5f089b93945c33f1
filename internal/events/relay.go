package events

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// Relay subscribes to Channel and passes every payload to sink until ctx
// ends. It lets one process watch the events of the whole worker fleet.
func Relay(ctx context.Context, redisClient *redis.Client, sink func([]byte)) error {
	sub := redisClient.Subscribe(ctx, Channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", Channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			sink([]byte(msg.Payload))
		}
	}
}
