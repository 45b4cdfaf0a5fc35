package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Summary describes one finished run for operator-facing alerts.
type Summary struct {
	StartedAt  time.Time
	Duration   time.Duration
	Relays     int
	Welcome    int
	Reward     int
	Skipped    int
	MarkedDown int64
	Pruned     int64
	Err        error
}

// SummaryNotifier reports run summaries to the service operators.
type SummaryNotifier interface {
	NotifySummary(ctx context.Context, summary Summary) error
}

// TelegramNotifier pushes run summaries through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram summary notifier.
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
		logger:   logger.With().Str("component", "notify_telegram").Logger(),
	}
}

// NotifySummary calls sendMessage with a rendered summary.
func (n *TelegramNotifier) NotifySummary(ctx context.Context, summary Summary) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderSummary(summary),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram responded with status %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().Time("started_at", summary.StartedAt).
		Bool("failed", summary.Err != nil).
		Msg("run summary sent (Telegram)")
	return nil
}

func renderSummary(s Summary) string {
	builder := strings.Builder{}
	if s.Err != nil {
		builder.WriteString("[Relay Weather] run FAILED\n")
	} else {
		builder.WriteString("[Relay Weather] run finished\n")
	}
	builder.WriteString(fmt.Sprintf("Started: %s UTC\n", s.StartedAt.UTC().Format(time.RFC3339)))
	builder.WriteString(fmt.Sprintf("Duration: %s\n", s.Duration.Round(time.Millisecond)))
	builder.WriteString(fmt.Sprintf("Relays: %d\n", s.Relays))
	builder.WriteString(fmt.Sprintf("Welcome: %d  Reward: %d  Skipped: %d\n", s.Welcome, s.Reward, s.Skipped))
	builder.WriteString(fmt.Sprintf("Marked down: %d  Pruned: %d\n", s.MarkedDown, s.Pruned))
	if s.Err != nil {
		builder.WriteString(fmt.Sprintf("Error: %s\n", s.Err))
	}
	return builder.String()
}

var _ SummaryNotifier = (*TelegramNotifier)(nil)
