package onionoo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const detailsJSON = `{
  "relays_published": "2024-06-01 11:00:00",
  "relays": [
    {
      "nickname": "moria1",
      "fingerprint": "9695dfc35ffeb861329b9f1ab04c46397020ce31",
      "first_seen": "2024-05-20 10:00:00",
      "last_seen": "2024-06-01 11:00:00",
      "flags": ["Fast", "Running", "Stable", "Valid"],
      "contact": "Jane <jane AT example DOT org>",
      "exit_policy_summary": {"accept": ["80", "443"]},
      "running": true
    },
    {
      "nickname": "quiet",
      "fingerprint": "A000000000000000000000000000000000000001",
      "first_seen": "2023-01-01 00:00:00",
      "last_seen": "2024-06-01 11:00:00",
      "flags": ["Running"],
      "running": true
    }
  ]
}`

const uptimeJSON = `{
  "relays": [
    {
      "fingerprint": "9695DFC35FFEB861329B9F1AB04C46397020CE31",
      "uptime": {
        "3_months": {"first": "2024-05-31 00:00:00", "last": "2024-05-31 08:00:00", "interval": 14400, "factor": 0.001001001001001001, "count": 3, "values": [999, null, 500]}
      }
    },
    {
      "fingerprint": "A000000000000000000000000000000000000001"
    }
  ]
}`

func newTestServer(t *testing.T, docs map[string]string, seen map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if seen != nil {
			seen[r.URL.Path] = r.URL.RawQuery
		}
		body, ok := docs[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte("no such document"))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
}

func TestFetchDetails(t *testing.T) {
	seen := map[string]string{}
	srv := newTestServer(t, map[string]string{"/details": detailsJSON}, seen)
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL, Timeout: time.Second}, zerolog.Nop())
	relays, err := c.FetchDetails(context.Background())
	if err != nil {
		t.Fatalf("details should decode: %v", err)
	}
	if len(relays) != 2 {
		t.Fatalf("expected 2 relays, got %d", len(relays))
	}
	if seen["/details"] != "running=true&type=relay" {
		t.Fatalf("unexpected query %q", seen["/details"])
	}

	first := relays[0]
	if first.Fingerprint != "9695DFC35FFEB861329B9F1AB04C46397020CE31" {
		t.Fatalf("fingerprint should be upper-cased, got %s", first.Fingerprint)
	}
	if !first.HasFlag("stable") {
		t.Fatal("Stable flag should be detected case-insensitively")
	}
	if want := time.Date(2024, 5, 20, 10, 0, 0, 0, time.UTC); !first.FirstSeen.Equal(want) {
		t.Fatalf("first_seen = %s, want %s", first.FirstSeen, want)
	}
	if len(first.ExitPolicySummary.Accept) != 2 {
		t.Fatalf("exit policy not decoded: %#v", first.ExitPolicySummary)
	}
	if relays[1].Contact != "" {
		t.Fatalf("missing contact should decode to empty string")
	}
}

func TestFetchDetailsRejectsBadTimestamp(t *testing.T) {
	srv := newTestServer(t, map[string]string{"/details": `{"relays":[{"fingerprint":"AA","first_seen":"yesterday","last_seen":"2024-06-01 11:00:00"}]}`}, nil)
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL}, zerolog.Nop())
	if _, err := c.FetchDetails(context.Background()); err == nil {
		t.Fatal("malformed first_seen should fail at the boundary")
	}
}

func TestFetchUptime(t *testing.T) {
	srv := newTestServer(t, map[string]string{"/uptime": uptimeJSON}, nil)
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL}, zerolog.Nop())
	relays, err := c.FetchUptime(context.Background())
	if err != nil {
		t.Fatalf("uptime should decode: %v", err)
	}
	if len(relays) != 2 {
		t.Fatalf("expected 2 relays, got %d", len(relays))
	}

	series := relays[0].Uptime
	if series == nil {
		t.Fatal("3_months graph should be present")
	}
	if series.Interval != 4*time.Hour || series.Count != 3 {
		t.Fatalf("unexpected series shape: %+v", series)
	}
	if series.Values[1] != nil {
		t.Fatal("null sample should decode as absent")
	}
	if relays[1].Uptime != nil {
		t.Fatal("relay without uptime graph should have nil series")
	}
}

func TestFetchUptimeFallsBackToSixMonths(t *testing.T) {
	body := `{"relays":[{"fingerprint":"AA","uptime":{"1_month":{"first":"2024-05-01 00:00:00","last":"2024-05-31 00:00:00","interval":14400,"factor":1,"count":1,"values":[1]},"6_months":{"first":"2024-01-01 00:00:00","last":"2024-05-31 12:00:00","interval":43200,"factor":0.001,"count":2,"values":[999,998]}}}]}`
	srv := newTestServer(t, map[string]string{"/uptime": body}, nil)
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL}, zerolog.Nop())
	relays, err := c.FetchUptime(context.Background())
	if err != nil {
		t.Fatalf("uptime should decode: %v", err)
	}
	series := relays[0].Uptime
	if series == nil {
		t.Fatal("6_months graph should be used when 3_months is absent")
	}
	if series.Interval != 12*time.Hour || series.Count != 2 {
		t.Fatalf("unexpected series shape: %+v", series)
	}

	c = NewClient(Options{BaseURL: srv.URL, HistoryGraphs: []string{"1_month"}}, zerolog.Nop())
	relays, err = c.FetchUptime(context.Background())
	if err != nil {
		t.Fatalf("uptime should decode: %v", err)
	}
	if relays[0].Uptime == nil || relays[0].Uptime.Interval != 4*time.Hour {
		t.Fatalf("configured graph period ignored: %+v", relays[0].Uptime)
	}
}

func TestFetchUptimeRejectsCountMismatch(t *testing.T) {
	body := `{"relays":[{"fingerprint":"AA","uptime":{"3_months":{"first":"2024-05-31 00:00:00","last":"2024-05-31 00:00:00","interval":3600,"factor":1,"count":2,"values":[1]}}}]}`
	srv := newTestServer(t, map[string]string{"/uptime": body}, nil)
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL}, zerolog.Nop())
	if _, err := c.FetchUptime(context.Background()); err == nil {
		t.Fatal("count/values mismatch should be rejected")
	}
}

func TestFetchBandwidthHTTPError(t *testing.T) {
	srv := newTestServer(t, map[string]string{}, nil)
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL}, zerolog.Nop())
	if _, err := c.FetchBandwidth(context.Background()); err == nil {
		t.Fatal("HTTP 404 should surface as error")
	}
}

func TestLookupHistory(t *testing.T) {
	bandwidth := `{"relays":[{"fingerprint":"AA","write_history":{"3_months":{"first":"2024-05-31 00:00:00","last":"2024-05-31 01:00:00","interval":3600,"factor":10,"count":2,"values":[5,7]}}}]}`
	uptime := `{"relays":[{"fingerprint":"AA","uptime":{"3_months":{"first":"2024-05-31 00:00:00","last":"2024-05-31 00:00:00","interval":3600,"factor":1,"count":1,"values":[1]}}}]}`
	seen := map[string]string{}
	srv := newTestServer(t, map[string]string{"/uptime": uptime, "/bandwidth": bandwidth}, seen)
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL}, zerolog.Nop())
	up, bw, err := c.LookupHistory(context.Background(), "AA")
	if err != nil {
		t.Fatalf("lookup should succeed: %v", err)
	}
	if up == nil || bw == nil {
		t.Fatal("both graphs expected")
	}
	if bw.Factor != 10 {
		t.Fatalf("factor = %v", bw.Factor)
	}
	if seen["/bandwidth"] != "lookup=AA" {
		t.Fatalf("unexpected query %q", seen["/bandwidth"])
	}
}
