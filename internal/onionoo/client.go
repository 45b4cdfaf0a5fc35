package onionoo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"relay-weather/internal/history"
)

const (
	defaultBaseURL   = "https://onionoo.torproject.org"
	defaultUserAgent = "relayweather/1.0"

	docDetails   = "details"
	docUptime    = "uptime"
	docBandwidth = "bandwidth"
)

// Fetcher retrieves the three per-relay documents for all running relays.
// The three calls must describe the same relay population in the same order.
type Fetcher interface {
	FetchDetails(ctx context.Context) ([]RelayDetail, error)
	FetchUptime(ctx context.Context) ([]RelayUptime, error)
	FetchBandwidth(ctx context.Context) ([]RelayBandwidth, error)
}

// HistoryLookup retrieves the history graphs of a single relay.
type HistoryLookup interface {
	LookupHistory(ctx context.Context, fingerprint string) (uptime, bandwidth *history.Series, err error)
}

// Options parameterise the Onionoo client.
type Options struct {
	BaseURL       string
	Timeout       time.Duration
	UserAgent     string
	// HistoryGraphs defaults to DefaultHistoryGraphs.
	HistoryGraphs []string
}

// Client fetches documents from an Onionoo instance.
type Client struct {
	opts    Options
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
	graphs  []string
}

// NewClient constructs an Onionoo client.
func NewClient(opts Options, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	graphs := opts.HistoryGraphs
	if len(graphs) == 0 {
		graphs = DefaultHistoryGraphs
	}

	return &Client{
		opts:    opts,
		logger:  logger.With().Str("component", "onionoo").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		graphs:  graphs,
	}
}

func runningRelays() url.Values {
	return url.Values{
		"type":    []string{"relay"},
		"running": []string{"true"},
	}
}

// FetchDetails retrieves the details document.
func (c *Client) FetchDetails(ctx context.Context) ([]RelayDetail, error) {
	var doc detailsDocument
	if err := c.getDocument(ctx, docDetails, runningRelays(), &doc); err != nil {
		return nil, err
	}

	relays := make([]RelayDetail, 0, len(doc.Relays))
	for _, raw := range doc.Relays {
		detail, err := raw.toDetail()
		if err != nil {
			return nil, fmt.Errorf("decode details: %w", err)
		}
		relays = append(relays, detail)
	}
	c.logger.Debug().Int("relays", len(relays)).Str("published", doc.RelaysPublished).Msg("details fetched")
	return relays, nil
}

// FetchUptime retrieves the uptime document.
func (c *Client) FetchUptime(ctx context.Context) ([]RelayUptime, error) {
	var doc uptimeDocument
	if err := c.getDocument(ctx, docUptime, runningRelays(), &doc); err != nil {
		return nil, err
	}

	relays := make([]RelayUptime, 0, len(doc.Relays))
	for _, raw := range doc.Relays {
		series, err := pickSeries(raw.Uptime, c.graphs)
		if err != nil {
			return nil, fmt.Errorf("decode uptime of %s: %w", raw.Fingerprint, err)
		}
		relays = append(relays, RelayUptime{Fingerprint: strings.ToUpper(raw.Fingerprint), Uptime: series})
	}
	c.logger.Debug().Int("relays", len(relays)).Msg("uptime fetched")
	return relays, nil
}

// FetchBandwidth retrieves the bandwidth document.
func (c *Client) FetchBandwidth(ctx context.Context) ([]RelayBandwidth, error) {
	var doc bandwidthDocument
	if err := c.getDocument(ctx, docBandwidth, runningRelays(), &doc); err != nil {
		return nil, err
	}

	relays := make([]RelayBandwidth, 0, len(doc.Relays))
	for _, raw := range doc.Relays {
		series, err := pickSeries(raw.WriteHistory, c.graphs)
		if err != nil {
			return nil, fmt.Errorf("decode bandwidth of %s: %w", raw.Fingerprint, err)
		}
		relays = append(relays, RelayBandwidth{Fingerprint: strings.ToUpper(raw.Fingerprint), WriteHistory: series})
	}
	c.logger.Debug().Int("relays", len(relays)).Msg("bandwidth fetched")
	return relays, nil
}

// LookupHistory retrieves the uptime and write-bandwidth graphs of one relay.
func (c *Client) LookupHistory(ctx context.Context, fingerprint string) (*history.Series, *history.Series, error) {
	if fingerprint == "" {
		return nil, nil, errors.New("fingerprint required")
	}
	params := url.Values{"lookup": []string{fingerprint}}

	var up uptimeDocument
	if err := c.getDocument(ctx, docUptime, params, &up); err != nil {
		return nil, nil, err
	}
	var bw bandwidthDocument
	if err := c.getDocument(ctx, docBandwidth, params, &bw); err != nil {
		return nil, nil, err
	}
	if len(up.Relays) == 0 || len(bw.Relays) == 0 {
		return nil, nil, fmt.Errorf("relay %s not found", fingerprint)
	}

	uptime, err := pickSeries(up.Relays[0].Uptime, c.graphs)
	if err != nil {
		return nil, nil, fmt.Errorf("decode uptime: %w", err)
	}
	bandwidth, err := pickSeries(bw.Relays[0].WriteHistory, c.graphs)
	if err != nil {
		return nil, nil, fmt.Errorf("decode bandwidth: %w", err)
	}
	return uptime, bandwidth, nil
}

func (c *Client) getDocument(ctx context.Context, docType string, params url.Values, out any) error {
	endpoint := c.baseURL + "/" + docType
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create %s request: %w", docType, err)
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", defaultUserAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", docType, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return parseHTTPError(docType, resp.StatusCode, payload)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s document: %w", docType, err)
	}
	return nil
}

func parseHTTPError(docType string, status int, payload []byte) error {
	if msg := strings.TrimSpace(string(payload)); msg != "" {
		return fmt.Errorf("onionoo %s error (%d): %s", docType, status, msg)
	}
	return fmt.Errorf("onionoo %s error (%d)", docType, status)
}

var _ Fetcher = (*Client)(nil)
var _ HistoryLookup = (*Client)(nil)
