package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// LogDispatcher writes notifications to the log instead of delivering them.
type LogDispatcher struct {
	logger zerolog.Logger
}

// NewLogDispatcher constructs a log-only dispatcher.
func NewLogDispatcher(logger zerolog.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger.With().Str("component", "notify_log").Logger()}
}

func (d *LogDispatcher) Dispatch(ctx context.Context, batch []Notification) error {
	for _, n := range batch {
		d.logger.Info().
			Str("kind", string(n.Kind)).
			Str("contact", n.Contact).
			Str("fingerprint", n.Fingerprint).
			Str("name", n.Name).
			Bool("exit", n.Exit).
			Msg("notification (not delivered)")
	}
	return nil
}

var _ Dispatcher = (*LogDispatcher)(nil)
