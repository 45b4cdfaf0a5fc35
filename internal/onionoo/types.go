package onionoo

import (
	"fmt"
	"strings"
	"time"

	"relay-weather/internal/history"
)

// TimeLayout is the timestamp format used throughout Onionoo documents (UTC).
const TimeLayout = "2006-01-02 15:04:05"

// DefaultHistoryGraphs lists the graph periods tried, in order, for windowed
// averages. Current Onionoo instances stopped publishing "3_months"; the
// six-month graph still covers the 60-day window at a coarser interval.
var DefaultHistoryGraphs = []string{"3_months", "6_months"}

// RelayDetail is the identity snapshot of a running relay.
type RelayDetail struct {
	Fingerprint       string
	Nickname          string
	FirstSeen         time.Time
	LastSeen          time.Time
	Flags             []string
	Contact           string
	ExitPolicySummary ExitPolicySummary
	Running           bool
}

// HasFlag reports whether the directory assigned the given flag.
func (r RelayDetail) HasFlag(flag string) bool {
	for _, f := range r.Flags {
		if strings.EqualFold(f, flag) {
			return true
		}
	}
	return false
}

// ExitPolicySummary lists either accepted or rejected port ranges ("80", "6660-6669").
type ExitPolicySummary struct {
	Accept []string `json:"accept,omitempty"`
	Reject []string `json:"reject,omitempty"`
}

// RelayUptime carries the uptime history of one relay.
type RelayUptime struct {
	Fingerprint string
	Uptime      *history.Series
}

// RelayBandwidth carries the write-bandwidth history of one relay.
type RelayBandwidth struct {
	Fingerprint  string
	WriteHistory *history.Series
}

// RelayRecord joins the three per-relay documents of a single run.
type RelayRecord struct {
	Detail    RelayDetail
	Uptime    *history.Series
	Bandwidth *history.Series
}

type detailsDocument struct {
	RelaysPublished string            `json:"relays_published"`
	Relays          []relayDetailJSON `json:"relays"`
}

type relayDetailJSON struct {
	Nickname          string             `json:"nickname"`
	Fingerprint       string             `json:"fingerprint"`
	FirstSeen         string             `json:"first_seen"`
	LastSeen          string             `json:"last_seen"`
	Flags             []string           `json:"flags"`
	Contact           *string            `json:"contact"`
	ExitPolicySummary *ExitPolicySummary `json:"exit_policy_summary"`
	Running           bool               `json:"running"`
}

type uptimeDocument struct {
	Relays []struct {
		Fingerprint string               `json:"fingerprint"`
		Uptime      map[string]graphJSON `json:"uptime"`
	} `json:"relays"`
}

type bandwidthDocument struct {
	Relays []struct {
		Fingerprint  string               `json:"fingerprint"`
		WriteHistory map[string]graphJSON `json:"write_history"`
	} `json:"relays"`
}

type graphJSON struct {
	First    string     `json:"first"`
	Last     string     `json:"last"`
	Interval int64      `json:"interval"`
	Factor   float64    `json:"factor"`
	Count    int        `json:"count"`
	Values   []*float64 `json:"values"`
}

func parseTime(value string) (time.Time, error) {
	return time.ParseInLocation(TimeLayout, value, time.UTC)
}

func (r relayDetailJSON) toDetail() (RelayDetail, error) {
	if r.Fingerprint == "" {
		return RelayDetail{}, fmt.Errorf("relay %q: missing fingerprint", r.Nickname)
	}
	firstSeen, err := parseTime(r.FirstSeen)
	if err != nil {
		return RelayDetail{}, fmt.Errorf("relay %s: parse first_seen: %w", r.Fingerprint, err)
	}
	lastSeen, err := parseTime(r.LastSeen)
	if err != nil {
		return RelayDetail{}, fmt.Errorf("relay %s: parse last_seen: %w", r.Fingerprint, err)
	}

	detail := RelayDetail{
		Fingerprint: strings.ToUpper(r.Fingerprint),
		Nickname:    r.Nickname,
		FirstSeen:   firstSeen,
		LastSeen:    lastSeen,
		Flags:       r.Flags,
		Running:     r.Running,
	}
	if r.Contact != nil {
		detail.Contact = *r.Contact
	}
	if r.ExitPolicySummary != nil {
		detail.ExitPolicySummary = *r.ExitPolicySummary
	}
	return detail, nil
}

// pickSeries decodes the first graph present among keys and returns nil when
// none is reported at all.
func pickSeries(graphs map[string]graphJSON, keys []string) (*history.Series, error) {
	for _, key := range keys {
		if g, ok := graphs[key]; ok {
			return g.toSeries()
		}
	}
	return nil, nil
}

func (g graphJSON) toSeries() (*history.Series, error) {
	first, err := parseTime(g.First)
	if err != nil {
		return nil, fmt.Errorf("parse first: %w", err)
	}
	last, err := parseTime(g.Last)
	if err != nil {
		return nil, fmt.Errorf("parse last: %w", err)
	}
	if g.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %d", g.Interval)
	}
	if g.Count != len(g.Values) {
		return nil, fmt.Errorf("count %d does not match %d values", g.Count, len(g.Values))
	}
	return &history.Series{
		First:    first,
		Last:     last,
		Interval: time.Duration(g.Interval) * time.Second,
		Factor:   g.Factor,
		Count:    g.Count,
		Values:   g.Values,
	}, nil
}
