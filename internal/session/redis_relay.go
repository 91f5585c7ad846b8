package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/lib/sl"
)

const DefaultChannel = "session:states"

// RedisRelay shares states between instances over Redis pub/sub. Every
// instance, including the publisher, delivers received states to its local
// presenter.
type RedisRelay struct {
	client  *redis.Client
	channel string
	local   *Presenter
	log     *slog.Logger
}

func NewRedisRelay(client *redis.Client, channel string, local *Presenter, log *slog.Logger) *RedisRelay {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisRelay{client: client, channel: channel, local: local, log: log}
}

// Publish falls back to local delivery when Redis is unreachable.
func (r *RedisRelay) Publish(ctx context.Context, s State) error {
	const op = "session.RedisRelay.Publish"

	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		_ = r.local.Publish(ctx, s)
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Run relays states from Redis until ctx ends.
func (r *RedisRelay) Run(ctx context.Context) error {
	const op = "session.RedisRelay.Run"

	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("%s: subscribe %s: %w", op, r.channel, err)
	}

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("%s: subscription closed", op)
			}
			var s State
			if err := json.Unmarshal([]byte(msg.Payload), &s); err != nil {
				r.log.Error("dropping malformed session state", sl.Err(err))
				continue
			}
			_ = r.local.Publish(ctx, s)
		}
	}
}
