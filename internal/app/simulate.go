package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"relay-weather/internal/notify"
)

// SimulateOptions describe a synthetic notification pushed through the configured transport.
type SimulateOptions struct {
	Kind        notify.Kind
	To          string
	Fingerprint string
	Name        string
	Exit        bool
	Bandwidth   decimal.Decimal
	Summary     bool
}

// Simulate sends one synthetic notification, and optionally a run summary,
// so the transport configuration can be checked without touching any state.
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) error {
	if opts.To == "" {
		return errors.New("--to is required")
	}

	dispatcher, err := a.newDispatcher()
	if err != nil {
		return err
	}

	note, err := a.simulatedNotification(opts)
	if err != nil {
		return err
	}
	if err := dispatcher.Dispatch(ctx, []notify.Notification{note}); err != nil {
		return fmt.Errorf("dispatch simulated %s: %w", opts.Kind, err)
	}

	if opts.Summary {
		summary := a.newSummaryNotifier()
		if summary == nil {
			return errors.New("alerting.telegram is not enabled")
		}
		if err := summary.NotifySummary(ctx, notify.Summary{StartedAt: time.Now().UTC(), Relays: 1}); err != nil {
			return err
		}
	}

	a.Logger.Info().Str("kind", string(opts.Kind)).Str("to", opts.To).Msg("simulated notification sent")
	return nil
}

func (a *App) simulatedNotification(opts SimulateOptions) (notify.Notification, error) {
	switch opts.Kind {
	case notify.KindWelcome:
		return notify.Welcome(opts.To, opts.Fingerprint, opts.Name, opts.Exit), nil
	case notify.KindReward:
		base := a.Config.Links.BaseURL
		return notify.Reward(opts.To, opts.Fingerprint, opts.Name, opts.Bandwidth, 24*60, opts.Exit,
			base+"/unsubscribe/simulated", base+"/preferences/simulated"), nil
	default:
		return notify.Notification{}, fmt.Errorf("unknown notification kind %q", opts.Kind)
	}
}
