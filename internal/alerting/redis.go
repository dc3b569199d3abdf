package alerting

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"tradeguard/internal/notify"
)

// ErrRedisNotReady is returned when the Redis server does not answer PING.
var ErrRedisNotReady = errors.New("alerting: redis not ready")

type publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	Close() error
}

// RedisNotifier publishes notifications on a Redis pub/sub channel.
type RedisNotifier struct {
	client  publisher
	channel string
	logger  zerolog.Logger
}

// NewRedisNotifier parses url, connects and verifies the server with PING.
func NewRedisNotifier(ctx context.Context, url, channel string, logger zerolog.Logger) (*RedisNotifier, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Join(ErrRedisNotReady, err)
	}

	return newRedisNotifier(client, channel, logger), nil
}

func newRedisNotifier(client publisher, channel string, logger zerolog.Logger) *RedisNotifier {
	return &RedisNotifier{
		client:  client,
		channel: channel,
		logger:  logger.With().Str("component", "alert_redis").Logger(),
	}
}

// Notify publishes the JSON payload of note.
func (n *RedisNotifier) Notify(ctx context.Context, note notify.Notification) error {
	data, err := EncodePayload(note)
	if err != nil {
		return err
	}

	receivers, err := n.client.Publish(ctx, n.channel, data).Result()
	if err != nil {
		return fmt.Errorf("publish redis notification: %w", err)
	}

	n.logger.Info().
		Str("notification_id", note.ID).
		Str("channel", n.channel).
		Int64("receivers", receivers).
		Msg("notification delivered (redis)")
	return nil
}

// Close releases the Redis client.
func (n *RedisNotifier) Close() error {
	return n.client.Close()
}

var _ Notifier = (*RedisNotifier)(nil)
