package alerting

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"tradeguard/internal/config"
)

// FromConfig builds the configured channels. Disabled alerting yields an empty Multi.
func FromConfig(ctx context.Context, cfg config.AlertingConfig, logger zerolog.Logger) (*Multi, error) {
	if !cfg.Enabled {
		return NewMulti(), nil
	}

	var notifiers []Notifier
	cleanup := func() { _ = NewMulti(notifiers...).Close() }

	for _, name := range cfg.Channels {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "telegram":
			notifiers = append(notifiers, NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.APIBase, cfg.Timeout, logger))
		case "redis":
			n, err := NewRedisNotifier(ctx, cfg.Redis.URL, cfg.Redis.Channel, logger)
			if err != nil {
				cleanup()
				return nil, fmt.Errorf("init redis channel: %w", err)
			}
			notifiers = append(notifiers, n)
		case "kafka":
			notifiers = append(notifiers, NewKafkaNotifier(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Timeout, logger))
		default:
			cleanup()
			return nil, fmt.Errorf("unknown alerting channel %q", name)
		}
	}

	return NewMulti(notifiers...), nil
}
