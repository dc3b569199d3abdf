package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeguard/internal/config"
	"tradeguard/internal/notify"
)

func testApp(cfg *config.Config) (*App, *bytes.Buffer) {
	out := &bytes.Buffer{}
	a := NewApp(cfg, zerolog.Nop())
	a.Out = out
	return a, out
}

func baseConfig() *config.Config {
	return &config.Config{
		API:           config.APIConfig{BaseURL: "http://localhost:8000"},
		Notifications: config.NotificationsConfig{Threshold: 0.7, Capacity: 5},
	}
}

func TestSimulateEventDeliversAdmittedNotification(t *testing.T) {
	texts := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		_ = json.NewDecoder(r.Body).Decode(&payload)
		texts <- payload["text"]
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	cfg := baseConfig()
	cfg.Alerting = config.AlertingConfig{
		Enabled:  true,
		Channels: []string{"telegram"},
		Timeout:  time.Second,
		Telegram: config.TelegramConfig{BotToken: "token", ChatID: "chat", APIBase: srv.URL},
	}
	a, out := testApp(cfg)

	res, err := a.SimulateEvent(context.Background(), SimulateOptions{
		EventID:  1,
		Title:    "Suez Canal blockage",
		Severity: decimal.RequireFromString("0.88"),
		Port:     "Suez",
	})
	require.NoError(t, err)
	assert.Equal(t, notify.Admitted, res.Outcome)
	assert.Contains(t, out.String(), "admitted notification "+res.Notification.ID+" (88%)")
	assert.Contains(t, <-texts, "Suez Canal blockage")
}

func TestSimulateEventBelowThreshold(t *testing.T) {
	a, out := testApp(baseConfig())

	res, err := a.SimulateEvent(context.Background(), SimulateOptions{
		EventID:  2,
		Title:    "Minor delay",
		Severity: decimal.RequireFromString("0.7"),
	})
	require.NoError(t, err)
	assert.Equal(t, notify.BelowThreshold, res.Outcome)
	assert.Equal(t, "not admitted: below_threshold (severity 0.7, threshold 0.7)\n", out.String())
}

func TestShowRequiresDatabase(t *testing.T) {
	a, _ := testApp(baseConfig())
	err := a.Show(context.Background(), ShowOptions{Limit: 5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database not configured")
}

func TestSanitizeInline(t *testing.T) {
	assert.Equal(t, "a b c d", sanitizeInline("a\nb\rc\td"))
}
