package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay-weather/internal/config"
	"relay-weather/internal/history"
	"relay-weather/internal/notify"
	"relay-weather/internal/storage"
)

func testApp(mutate func(*config.Config)) *App {
	cfg := &config.Config{
		Mail:  config.MailConfig{Transport: config.TransportLog},
		Links: config.LinksConfig{BaseURL: "https://weather.test"},
	}
	if mutate != nil {
		mutate(cfg)
	}
	return NewApp(cfg, zerolog.Nop())
}

func TestNewDispatcherSelectsTransport(t *testing.T) {
	d, err := testApp(nil).newDispatcher()
	require.NoError(t, err)
	assert.IsType(t, &notify.LogDispatcher{}, d)

	d, err = testApp(func(c *config.Config) {
		c.Mail.Transport = config.TransportWebhook
		c.Mail.Webhook.URL = "http://127.0.0.1/hook"
	}).newDispatcher()
	require.NoError(t, err)
	assert.IsType(t, &notify.WebhookDispatcher{}, d)

	d, err = testApp(func(c *config.Config) {
		c.Mail.Transport = config.TransportSMTP
		c.Mail.SMTP.Host = "smtp.example.org"
	}).newDispatcher()
	require.NoError(t, err)
	assert.IsType(t, &notify.SMTPDispatcher{}, d)

	_, err = testApp(func(c *config.Config) { c.Mail.Transport = "pigeon" }).newDispatcher()
	assert.Error(t, err)
}

func TestNewSummaryNotifierDisabledIsNil(t *testing.T) {
	assert.Nil(t, testApp(nil).newSummaryNotifier())
	assert.NotNil(t, testApp(func(c *config.Config) {
		c.Alerting.Telegram = config.TelegramConfig{Enabled: true, BotToken: "t", ChatID: "c"}
	}).newSummaryNotifier())
}

func TestRequireStoreWithoutDSN(t *testing.T) {
	_, _, err := testApp(nil).requireStore(context.Background(), "show tracked relays")
	assert.ErrorContains(t, err, "database.dsn not configured")
}

func TestSimulatedNotification(t *testing.T) {
	a := testApp(nil)
	note, err := a.simulatedNotification(SimulateOptions{Kind: notify.KindReward, To: "op@example.org", Name: "r", Bandwidth: decimal.NewFromInt(500)})
	require.NoError(t, err)
	assert.Equal(t, "https://weather.test/unsubscribe/simulated", note.UnsubscribeURL)

	_, err = a.simulatedNotification(SimulateOptions{Kind: "digest"})
	assert.Error(t, err)

	assert.NoError(t, a.Simulate(context.Background(), SimulateOptions{Kind: notify.KindWelcome, To: "op@example.org"}))
}

func TestFilterRelays(t *testing.T) {
	relays := []storage.TrackedRelay{
		{Fingerprint: "A", Up: true},
		{Fingerprint: "B"},
		{Fingerprint: "C"},
	}
	assert.Len(t, filterRelays(relays, ShowOptions{}), 3)
	assert.Len(t, filterRelays(relays, ShowOptions{Limit: 2}), 2)

	down := filterRelays(relays, ShowOptions{DownOnly: true})
	require.Len(t, down, 2)
	assert.Equal(t, "B", down[0].Fingerprint)
}

func TestWriteRelayTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeRelayTable(&buf, nil))
	assert.Equal(t, "no tracked relays found\n", buf.String())

	buf.Reset()
	require.NoError(t, writeRelayTable(&buf, []storage.TrackedRelay{{Fingerprint: "AAAA", Name: "multi\nline", Up: true}}))
	assert.Contains(t, buf.String(), "AAAA")
	assert.Contains(t, buf.String(), "multi line")
}

func TestWriteRelaysCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "relays.csv")
	seen := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, writeRelaysCSV(path, []storage.TrackedRelay{{Fingerprint: "AAAA", Name: "one", LastSeen: seen, Up: true}}))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "fingerprint", rows[0][0])
	assert.Equal(t, []string{"AAAA", "one", "false", "2024-06-01T00:00:00Z", "true", "false", "0001-01-01T00:00:00Z"}, rows[1])
}

func TestSeriesPointsSkipsAbsent(t *testing.T) {
	one, two := 1.0, 2.0
	s := &history.Series{
		First:    time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		Interval: time.Hour,
		Factor:   0.5,
		Count:    3,
		Values:   []*float64{&one, nil, &two},
	}
	xs, ys := seriesPoints(s, 100)
	require.Len(t, xs, 2)
	assert.Equal(t, s.First.Add(2*time.Hour), xs[1])
	assert.Equal(t, []float64{50, 100}, ys)

	xs, ys = seriesPoints(nil, 1)
	assert.Nil(t, xs)
	assert.Nil(t, ys)
}

func TestWriteHistoryPNG(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	values := make([]*float64, 10)
	for i := range values {
		v := float64(900 + i)
		values[i] = &v
	}
	s := &history.Series{First: now.Add(-9 * 24 * time.Hour), Last: now, Interval: 24 * time.Hour, Factor: 0.001, Count: 10, Values: values}

	path := filepath.Join(t.TempDir(), "history.png")
	require.NoError(t, writeHistoryPNG(path, "AAAA", s, nil, now))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(content, []byte("\x89PNG")))

	assert.Error(t, writeHistoryPNG(path, "AAAA", nil, nil, now))
}
