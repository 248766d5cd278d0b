package notify

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisChannel is the channel UI clients subscribe to.
const DefaultRedisChannel = "simworks:notifications"

// Redis publishes events on a pub/sub channel.
type Redis struct {
	client  redis.UniversalClient
	channel string
}

// NewRedis creates a publisher. An empty channel uses DefaultRedisChannel.
func NewRedis(client redis.UniversalClient, channel string) *Redis {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &Redis{client: client, channel: channel}
}

// Channel returns the pub/sub channel events go to.
func (r *Redis) Channel() string { return r.channel }

func (r *Redis) Notify(ctx context.Context, ev Event) error {
	msg, err := Encode(ev)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel, msg).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", ev.Kind, err)
	}
	return nil
}
