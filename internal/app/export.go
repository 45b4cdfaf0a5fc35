package app

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"relay-weather/internal/history"
	"relay-weather/internal/onionoo"
	"relay-weather/internal/storage"
)

// Export writes the tracked relays as CSV and/or charts one relay's uptime
// and bandwidth history as PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.PNGPath != "" && opts.Fingerprint == "" {
		return errors.New("--fingerprint is required with --png")
	}

	if opts.CSVPath != "" {
		store, closeStore, err := a.requireStore(ctx, "export tracked relays")
		if err != nil {
			return err
		}
		defer closeStore()

		relays, err := store.ListRelays(ctx)
		if err != nil {
			return err
		}
		if err := writeRelaysCSV(opts.CSVPath, relays); err != nil {
			return err
		}
		a.Logger.Info().Int("relays", len(relays)).Str("path", opts.CSVPath).Msg("tracked relays exported")
	}

	if opts.PNGPath != "" {
		if err := a.exportHistoryPNG(ctx, a.newFetcher(), opts.Fingerprint, opts.PNGPath); err != nil {
			return err
		}
		a.Logger.Info().Str("fingerprint", opts.Fingerprint).Str("path", opts.PNGPath).Msg("history chart exported")
	}

	return nil
}

func (a *App) exportHistoryPNG(ctx context.Context, lookup onionoo.HistoryLookup, fingerprint, path string) error {
	uptime, bandwidth, err := lookup.LookupHistory(ctx, fingerprint)
	if err != nil {
		return err
	}
	if uptime == nil && bandwidth == nil {
		return errors.New("relay has no uptime or bandwidth history")
	}
	return writeHistoryPNG(path, fingerprint, uptime, bandwidth, time.Now().UTC())
}

func writeRelaysCSV(path string, relays []storage.TrackedRelay) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"fingerprint", "name", "welcomed", "last_seen", "up", "exit", "created_at"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, relay := range relays {
		record := []string{
			relay.Fingerprint,
			relay.Name,
			strconv.FormatBool(relay.Welcomed),
			relay.LastSeen.UTC().Format(time.RFC3339),
			strconv.FormatBool(relay.Up),
			strconv.FormatBool(relay.Exit),
			relay.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// seriesPoints converts the present samples of s into chart coordinates,
// scaled by factor and then by scale.
func seriesPoints(s *history.Series, scale float64) ([]time.Time, []float64) {
	if s == nil {
		return nil, nil
	}
	var xs []time.Time
	var ys []float64
	for i := 0; i < s.Count && i < len(s.Values); i++ {
		v := s.Values[i]
		if v == nil {
			continue
		}
		xs = append(xs, s.First.Add(time.Duration(i)*s.Interval))
		ys = append(ys, *v*s.Factor*scale)
	}
	return xs, ys
}

func writeHistoryPNG(path, fingerprint string, uptime, bandwidth *history.Series, now time.Time) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	var series []chart.Series
	if xs, ys := seriesPoints(uptime, 100); len(xs) > 0 {
		series = append(series, chart.TimeSeries{
			Name:    "Uptime %",
			XValues: xs,
			YValues: ys,
		})
	}
	if xs, ys := seriesPoints(bandwidth, 1.0/1000); len(xs) > 0 {
		series = append(series, chart.TimeSeries{
			Name:    "Write kB/s",
			XValues: xs,
			YValues: ys,
			YAxis:   chart.YAxisSecondary,
		})
	}
	if len(series) == 0 {
		return errors.New("relay history has no samples to chart")
	}

	formatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Title:  fingerprint,
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Uptime (%)",
			ValueFormatter: formatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Bandwidth (kB/s)",
			ValueFormatter: formatter,
		},
		Series: series,
	}

	m := history.Compute(uptime, bandwidth, now)
	if m.UptimePercent.Valid && m.AverageBandwidth.Valid {
		graph.Title = fingerprint + " (60d: " + m.UptimePercent.Decimal.StringFixed(2) + "% / " + m.AverageBandwidth.Decimal.StringFixed(2) + " kB/s)"
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
