// Package relay provides the pub/sub channel that delivers newly inserted
// rows to subscribed clients. Two backends exist: a Redis channel per user
// and a websocket connection to the backend's realtime gateway.
package relay

import (
	"context"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/santerog80-rgb/Talkio/internal/domain"
)

// Redis is a relay over Redis pub/sub. It implements both the subscribing
// and the publishing side, so clients sharing a Redis deployment deliver
// rows to each other without server-side fan-out.
type Redis struct {
	client *redis.Client
}

// NewRedis connects and verifies the server is reachable.
func NewRedis(ctx context.Context, addr, password string, db int) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &Redis{client: client}, nil
}

// Subscribe opens a subscription on channel and invokes handler for every
// published payload until the subscription is closed.
func (r *Redis) Subscribe(ctx context.Context, channel string, handler func(payload []byte)) (domain.Subscription, error) {
	ps := r.client.Subscribe(ctx, channel)
	// Confirm the subscription before reporting success.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	go func() {
		for msg := range ps.Channel() {
			handler([]byte(msg.Payload))
		}
		log.Printf("[relay] redis subscription %s closed", channel)
	}()

	return &redisSub{ps: ps}, nil
}

// Publish sends payload to every subscriber of channel.
func (r *Redis) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := r.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

// Close releases the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}

type redisSub struct {
	ps *redis.PubSub
}

func (s *redisSub) Close() error {
	return s.ps.Close()
}
