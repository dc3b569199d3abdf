package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"tradeguard/internal/notify"
)

// TelegramNotifier pushes notifications through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram channel.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify calls sendMessage with the rendered notification.
func (n *TelegramNotifier) Notify(ctx context.Context, note notify.Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", redactURL(err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", redactURL(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && !result.OK {
		return errors.New("telegram returned ok=false")
	}

	n.logger.Info().
		Str("notification_id", note.ID).
		Int64("event_id", note.EventID).
		Msg("notification delivered (telegram)")
	return nil
}

// redactURL strips the request URL, which embeds the bot token, from transport errors.
func redactURL(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%s telegram api: %w", strings.ToLower(urlErr.Op), urlErr.Err)
	}
	return err
}

func renderMessage(note notify.Notification) string {
	builder := strings.Builder{}
	builder.WriteString("[TradeGuard Alert]\n")
	builder.WriteString(note.Title)
	builder.WriteString("\n")
	builder.WriteString(fmt.Sprintf("Severity: %s\n", note.SeverityPercent()))
	if note.Port != "" {
		builder.WriteString(fmt.Sprintf("Port: %s\n", note.Port))
	}
	if note.Commodity != "" {
		builder.WriteString(fmt.Sprintf("Commodity: %s\n", note.Commodity))
	}
	if note.EventTime != "" {
		builder.WriteString(fmt.Sprintf("Time: %s\n", note.EventTime))
	}
	if note.Summary != "" {
		builder.WriteString(note.Summary)
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
