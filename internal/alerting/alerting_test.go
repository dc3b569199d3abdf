package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeguard/internal/config"
	"tradeguard/internal/notify"
)

func sampleNotification() notify.Notification {
	return notify.Notification{
		ID:         "1717243200000",
		EventID:    42,
		Title:      "Strike at Port of Rotterdam",
		Summary:    "Container handling suspended for 48 hours",
		Severity:   decimal.RequireFromString("0.85"),
		Port:       "Rotterdam",
		Commodity:  "Containers",
		EventTime:  "2024-06-01T11:58:00Z",
		AdmittedAt: time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/bottoken/sendMessage"), "path %s", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	require.NoError(t, notifier.Notify(context.Background(), sampleNotification()))

	assert.Equal(t, "chat", received["chat_id"])
	assert.Contains(t, received["text"], "Strike at Port of Rotterdam")
	assert.Contains(t, received["text"], "Severity: 85%")
	assert.Contains(t, received["text"], "Port: Rotterdam")
}

func TestTelegramNotifierError(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{name: "ok false", handler: func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
		}},
		{name: "server error", handler: func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
			assert.Error(t, notifier.Notify(context.Background(), sampleNotification()))
		})
	}
}

func TestTelegramNotifierErrorHidesBotToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	base := srv.URL
	srv.Close()

	notifier := NewTelegramNotifier("123456:SECRET-TOKEN", "chat", base, time.Second, testLogger())
	err := notifier.Notify(context.Background(), sampleNotification())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "send telegram request")
	assert.NotContains(t, err.Error(), "SECRET-TOKEN")
}

func TestRenderMessageOmitsEmptyFields(t *testing.T) {
	note := notify.Notification{Title: "Canal closure", Severity: decimal.RequireFromString("0.9")}
	msg := renderMessage(note)

	assert.Equal(t, "[TradeGuard Alert]\nCanal closure\nSeverity: 90%\n", msg)
}

func TestEncodePayload(t *testing.T) {
	data, err := EncodePayload(sampleNotification())
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "1717243200000", got["id"])
	assert.Equal(t, "85%", got["severity_percent"])
	assert.Equal(t, "0.85", got["severity"])
	assert.Equal(t, "Rotterdam", got["port"])
}

type fakePublisher struct {
	channel string
	message any
	err     error
	closed  bool
}

func (p *fakePublisher) Publish(_ context.Context, channel string, message any) *redis.IntCmd {
	p.channel = channel
	p.message = message
	return redis.NewIntResult(1, p.err)
}

func (p *fakePublisher) Close() error {
	p.closed = true
	return nil
}

func TestRedisNotifierPublishes(t *testing.T) {
	pub := &fakePublisher{}
	notifier := newRedisNotifier(pub, "tradeguard:notifications", testLogger())

	require.NoError(t, notifier.Notify(context.Background(), sampleNotification()))
	assert.Equal(t, "tradeguard:notifications", pub.channel)
	assert.Contains(t, string(pub.message.([]byte)), `"severity_percent":"85%"`)

	require.NoError(t, notifier.Close())
	assert.True(t, pub.closed)
}

func TestRedisNotifierPublishError(t *testing.T) {
	pub := &fakePublisher{err: errors.New("connection refused")}
	notifier := newRedisNotifier(pub, "ch", testLogger())

	err := notifier.Notify(context.Background(), sampleNotification())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish redis notification")
}

func TestNewRedisNotifierRejectsBadURL(t *testing.T) {
	_, err := NewRedisNotifier(context.Background(), "http://localhost:6379", "ch", testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse redis url")
}

type fakeWriter struct {
	msgs   []kafkago.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaNotifierWritesKeyedMessage(t *testing.T) {
	w := &fakeWriter{}
	notifier := newKafkaNotifier(w, testLogger())

	require.NoError(t, notifier.Notify(context.Background(), sampleNotification()))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, []byte("1717243200000"), msg.Key)
	assert.Contains(t, string(msg.Value), `"title":"Strike at Port of Rotterdam"`)
	require.Len(t, msg.Headers, 2)
	assert.Equal(t, "severity", msg.Headers[0].Key)
	assert.Equal(t, []byte("0.85"), msg.Headers[0].Value)
	assert.Equal(t, []byte("2024-06-01T12:00:00Z"), msg.Headers[1].Value)
}

func TestKafkaNotifierWrapsWriteError(t *testing.T) {
	notifier := newKafkaNotifier(&fakeWriter{err: kafkago.LeaderNotAvailable}, testLogger())
	err := notifier.Notify(context.Background(), sampleNotification())
	assert.ErrorIs(t, err, kafkago.LeaderNotAvailable)
}

type stubNotifier struct {
	calls int
	err   error
}

func (s *stubNotifier) Notify(context.Context, notify.Notification) error {
	s.calls++
	return s.err
}

func TestMultiAttemptsEveryChannel(t *testing.T) {
	errA := errors.New("channel a down")
	a := &stubNotifier{err: errA}
	b := &stubNotifier{}
	w := &fakeWriter{}
	m := NewMulti(a, b, newKafkaNotifier(w, testLogger()))

	err := m.Notify(context.Background(), sampleNotification())
	assert.ErrorIs(t, err, errA)
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
	assert.Len(t, w.msgs, 1)

	require.NoError(t, m.Close())
	assert.True(t, w.closed)
}

func TestFromConfig(t *testing.T) {
	m, err := FromConfig(context.Background(), config.AlertingConfig{}, testLogger())
	require.NoError(t, err)
	assert.Equal(t, 0, m.Len())

	m, err = FromConfig(context.Background(), config.AlertingConfig{
		Enabled:  true,
		Channels: []string{"telegram", " Kafka "},
		Telegram: config.TelegramConfig{BotToken: "t", ChatID: "c"},
		Kafka:    config.KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "tradeguard.notifications"},
	}, testLogger())
	require.NoError(t, err)
	assert.Equal(t, 2, m.Len())
	require.NoError(t, m.Close())

	_, err = FromConfig(context.Background(), config.AlertingConfig{Enabled: true, Channels: []string{"pager"}}, testLogger())
	assert.Error(t, err)
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
