// Package tracker owns the durable notification state: which relays have been
// welcomed, which subscriptions have been notified, and when state expires.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"relay-weather/internal/onionoo"
	"relay-weather/internal/storage"
)

// Store is the persistence surface the tracker needs.
type Store interface {
	storage.RelayStore
	storage.SubscriptionStore
	storage.DeploymentStore
}

// Tracker enforces at-most-once delivery per relay and subscriber.
type Tracker struct {
	store    Store
	logger   zerolog.Logger
	now      func() time.Time
	newToken func() string
}

// Option customises a Tracker.
type Option func(*Tracker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithTokenGenerator overrides how unsubscribe and preferences tokens are minted.
func WithTokenGenerator(gen func() string) Option {
	return func(t *Tracker) {
		if gen != nil {
			t.newToken = gen
		}
	}
}

// New constructs a Tracker over store.
func New(store Store, logger zerolog.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		store:    store,
		logger:   logger.With().Str("component", "tracker").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
		newToken: func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// DeploymentTime returns the deployment marker, recording it on the very first run.
func (t *Tracker) DeploymentTime(ctx context.Context) (time.Time, error) {
	deployed, err := t.store.EnsureDeployment(ctx, t.now())
	if err != nil {
		return time.Time{}, fmt.Errorf("ensure deployment marker: %w", err)
	}
	return deployed, nil
}

// FindExisting returns the tracked relay for fingerprint, or nil when it is not tracked.
func (t *Tracker) FindExisting(ctx context.Context, fingerprint string) (*storage.TrackedRelay, error) {
	relay, err := t.store.FindRelay(ctx, fingerprint)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find relay %s: %w", fingerprint, err)
	}
	return &relay, nil
}

// RegisterNewRelay persists a welcomed relay. The caller must have checked
// with FindExisting that the fingerprint is not tracked yet.
func (t *Tracker) RegisterNewRelay(ctx context.Context, detail onionoo.RelayDetail, exit bool) (storage.TrackedRelay, error) {
	return t.insertRelay(ctx, detail, detail.LastSeen, exit)
}

func (t *Tracker) insertRelay(ctx context.Context, detail onionoo.RelayDetail, lastSeen time.Time, exit bool) (storage.TrackedRelay, error) {
	if lastSeen.IsZero() {
		lastSeen = t.now()
	}
	relay := storage.TrackedRelay{
		Fingerprint: detail.Fingerprint,
		Name:        detail.Nickname,
		Welcomed:    true,
		LastSeen:    lastSeen,
		Up:          true,
		Exit:        exit,
		CreatedAt:   t.now(),
	}
	if err := t.store.InsertRelay(ctx, relay); err != nil {
		return storage.TrackedRelay{}, fmt.Errorf("insert relay %s: %w", detail.Fingerprint, err)
	}
	t.logger.Debug().Str("fingerprint", relay.Fingerprint).Bool("exit", exit).Msg("relay registered")
	return relay, nil
}

// Touch refreshes a re-encountered tracked relay from the current snapshot.
func (t *Tracker) Touch(ctx context.Context, relay storage.TrackedRelay, detail onionoo.RelayDetail, exit bool) error {
	relay.Name = detail.Nickname
	if !detail.LastSeen.IsZero() {
		relay.LastSeen = detail.LastSeen
	}
	relay.Up = true
	relay.Exit = exit
	if err := t.store.UpdateRelay(ctx, relay); err != nil {
		return fmt.Errorf("update relay %s: %w", relay.Fingerprint, err)
	}
	return nil
}

// CollectRewardSubscribers lists confirmed subscriptions for fingerprint that
// have not been notified yet.
func (t *Tracker) CollectRewardSubscribers(ctx context.Context, fingerprint string) ([]storage.Subscription, error) {
	subs, err := t.store.ListPendingSubscriptions(ctx, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("list pending subscriptions for %s: %w", fingerprint, err)
	}
	return subs, nil
}

// RecordOperatorSoleSubscription records the relay operator as the single,
// already-notified subscriber of a reward-eligible relay. It reports
// suppressed=true, creating nothing, when the contact is empty or the
// operator was notified before.
func (t *Tracker) RecordOperatorSoleSubscription(ctx context.Context, detail onionoo.RelayDetail, contact string, exit bool, bandwidth decimal.Decimal) (storage.Subscription, bool, error) {
	if contact == "" {
		return storage.Subscription{}, true, nil
	}

	_, err := t.store.FindNotifiedSubscription(ctx, detail.Fingerprint, contact)
	switch {
	case err == nil:
		return storage.Subscription{}, true, nil
	case !errors.Is(err, storage.ErrNotFound):
		return storage.Subscription{}, false, fmt.Errorf("find operator subscription for %s: %w", detail.Fingerprint, err)
	}

	existing, err := t.FindExisting(ctx, detail.Fingerprint)
	if err != nil {
		return storage.Subscription{}, false, err
	}
	if existing == nil {
		if _, err := t.insertRelay(ctx, detail, t.now(), exit); err != nil {
			return storage.Subscription{}, false, err
		}
	}

	sub, err := t.store.InsertSubscription(ctx, storage.Subscription{
		Fingerprint:      detail.Fingerprint,
		Email:            contact,
		Confirmed:        true,
		Notified:         true,
		Triggered:        true,
		AvgBandwidth:     bandwidth,
		LastChanged:      detail.FirstSeen,
		UnsubscribeToken: t.newToken(),
		PreferencesToken: t.newToken(),
		CreatedAt:        t.now(),
	})
	if err != nil {
		return storage.Subscription{}, false, fmt.Errorf("insert operator subscription for %s: %w", detail.Fingerprint, err)
	}
	return sub, false, nil
}

// MarkNotified flags sub as notified for the current threshold.
func (t *Tracker) MarkNotified(ctx context.Context, sub storage.Subscription, bandwidth decimal.Decimal) error {
	sub.Notified = true
	sub.AvgBandwidth = bandwidth
	sub.LastChanged = t.now()
	if err := t.store.UpdateSubscription(ctx, sub); err != nil {
		return fmt.Errorf("mark subscription %d notified: %w", sub.ID, err)
	}
	return nil
}

// MarkAbsentDown flags tracked relays missing from the running population as down.
func (t *Tracker) MarkAbsentDown(ctx context.Context, running []string) (int64, error) {
	n, err := t.store.MarkRelaysDown(ctx, running)
	if err != nil {
		return 0, fmt.Errorf("mark absent relays down: %w", err)
	}
	return n, nil
}

// PruneStale deletes tracked relays last seen before the later of deployment
// and cutoff. Subscriptions of deleted relays go with them.
func (t *Tracker) PruneStale(ctx context.Context, deployment, cutoff time.Time) (int64, error) {
	floor := cutoff
	if deployment.After(floor) {
		floor = deployment
	}
	n, err := t.store.DeleteRelaysSeenBefore(ctx, floor)
	if err != nil {
		return 0, fmt.Errorf("prune stale relays: %w", err)
	}
	if n > 0 {
		t.logger.Info().Int64("deleted", n).Time("floor", floor).Msg("stale relays pruned")
	}
	return n, nil
}
