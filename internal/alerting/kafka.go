package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"

	"tradeguard/internal/notify"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// KafkaNotifier produces notifications to a Kafka topic.
type KafkaNotifier struct {
	writer messageWriter
	logger zerolog.Logger
}

// NewKafkaNotifier creates a producer for topic.
func NewKafkaNotifier(brokers []string, topic string, timeout time.Duration, logger zerolog.Logger) *KafkaNotifier {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
		WriteTimeout: timeout,
	}
	return newKafkaNotifier(w, logger)
}

func newKafkaNotifier(w messageWriter, logger zerolog.Logger) *KafkaNotifier {
	return &KafkaNotifier{
		writer: w,
		logger: logger.With().Str("component", "alert_kafka").Logger(),
	}
}

// Notify writes note as a single message keyed by notification id.
func (n *KafkaNotifier) Notify(ctx context.Context, note notify.Notification) error {
	msg, err := toMessage(note)
	if err != nil {
		return err
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write kafka notification: %w", err)
	}

	n.logger.Info().Str("notification_id", note.ID).Msg("notification delivered (kafka)")
	return nil
}

// Close flushes and closes the producer.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

func toMessage(note notify.Notification) (kafkago.Message, error) {
	data, err := EncodePayload(note)
	if err != nil {
		return kafkago.Message{}, err
	}
	return kafkago.Message{
		Key:   []byte(note.ID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "severity", Value: []byte(note.Severity.String())},
			{Key: "admitted_at", Value: []byte(note.AdmittedAt.UTC().Format(time.RFC3339))},
		},
	}, nil
}

var _ Notifier = (*KafkaNotifier)(nil)
