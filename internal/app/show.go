package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"relay-weather/internal/storage"
)

// Show prints the tracked relays, most recently seen first.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.requireStore(ctx, "show tracked relays")
	if err != nil {
		return err
	}
	defer closeStore()

	relays, err := store.ListRelays(ctx)
	if err != nil {
		return err
	}
	return writeRelayTable(os.Stdout, filterRelays(relays, opts))
}

func filterRelays(relays []storage.TrackedRelay, opts ShowOptions) []storage.TrackedRelay {
	out := make([]storage.TrackedRelay, 0, len(relays))
	for _, relay := range relays {
		if opts.DownOnly && relay.Up {
			continue
		}
		out = append(out, relay)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out
}

func writeRelayTable(w io.Writer, relays []storage.TrackedRelay) error {
	if len(relays) == 0 {
		_, err := fmt.Fprintln(w, "no tracked relays found")
		return err
	}

	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Fingerprint\tName\tLast seen (UTC)\tUp\tExit\tWelcomed")
	for _, relay := range relays {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\n",
			relay.Fingerprint,
			sanitizeInline(relay.Name),
			relay.LastSeen.UTC().Format(time.RFC3339),
			yesNo(relay.Up),
			yesNo(relay.Exit),
			yesNo(relay.Welcomed),
		)
	}
	return writer.Flush()
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	cleaned = strings.ReplaceAll(cleaned, "\t", " ")
	return cleaned
}
