package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process store used for dry runs and tests.
type Memory struct {
	mu         sync.Mutex
	relays     map[string]TrackedRelay
	subs       []Subscription
	nextID     int64
	deployment *time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{relays: make(map[string]TrackedRelay)}
}

// FindRelay returns the tracked relay with the given fingerprint or ErrNotFound.
func (m *Memory) FindRelay(ctx context.Context, fingerprint string) (TrackedRelay, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	relay, ok := m.relays[fingerprint]
	if !ok {
		return TrackedRelay{}, ErrNotFound
	}
	return relay, nil
}

// InsertRelay stores a new tracked relay, replacing any with the same fingerprint.
func (m *Memory) InsertRelay(ctx context.Context, relay TrackedRelay) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if relay.CreatedAt.IsZero() {
		relay.CreatedAt = time.Now().UTC()
	}
	m.relays[relay.Fingerprint] = relay
	return nil
}

// UpdateRelay overwrites a tracked relay, keeping its creation time.
func (m *Memory) UpdateRelay(ctx context.Context, relay TrackedRelay) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.relays[relay.Fingerprint]
	if !ok {
		return ErrNotFound
	}
	relay.CreatedAt = existing.CreatedAt
	m.relays[relay.Fingerprint] = relay
	return nil
}

// MarkRelaysDown flags every tracked relay missing from seen as down.
func (m *Memory) MarkRelaysDown(ctx context.Context, seen []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	present := make(map[string]struct{}, len(seen))
	for _, fp := range seen {
		present[fp] = struct{}{}
	}
	var marked int64
	for fp, relay := range m.relays {
		if _, ok := present[fp]; ok || !relay.Up {
			continue
		}
		relay.Up = false
		m.relays[fp] = relay
		marked++
	}
	return marked, nil
}

// ListRelays lists every tracked relay, most recently seen first.
func (m *Memory) ListRelays(ctx context.Context) ([]TrackedRelay, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	relays := make([]TrackedRelay, 0, len(m.relays))
	for _, relay := range m.relays {
		relays = append(relays, relay)
	}
	sort.Slice(relays, func(i, j int) bool {
		return relays[i].LastSeen.After(relays[j].LastSeen)
	})
	return relays, nil
}

// DeleteRelaysSeenBefore removes relays last seen before cutoff along with their subscriptions.
func (m *Memory) DeleteRelaysSeenBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted int64
	for fp, relay := range m.relays {
		if relay.LastSeen.Before(cutoff) {
			delete(m.relays, fp)
			deleted++
		}
	}
	kept := m.subs[:0]
	for _, sub := range m.subs {
		if _, ok := m.relays[sub.Fingerprint]; ok {
			kept = append(kept, sub)
		}
	}
	m.subs = kept
	return deleted, nil
}

// ListPendingSubscriptions lists confirmed subscriptions not yet notified.
func (m *Memory) ListPendingSubscriptions(ctx context.Context, fingerprint string) ([]Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := make([]Subscription, 0)
	for _, sub := range m.subs {
		if sub.Fingerprint == fingerprint && sub.Confirmed && !sub.Notified {
			subs = append(subs, sub)
		}
	}
	return subs, nil
}

// FindNotifiedSubscription returns an already-notified subscription or ErrNotFound.
func (m *Memory) FindNotifiedSubscription(ctx context.Context, fingerprint, email string) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sub := range m.subs {
		if sub.Fingerprint == fingerprint && sub.Email == email && sub.Notified {
			return sub, nil
		}
	}
	return Subscription{}, ErrNotFound
}

// InsertSubscription mirrors the foreign key of the SQL schema: the relay must be tracked.
func (m *Memory) InsertSubscription(ctx context.Context, sub Subscription) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.relays[sub.Fingerprint]; !ok {
		return Subscription{}, ErrNotFound
	}
	m.nextID++
	sub.ID = m.nextID
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	m.subs = append(m.subs, sub)
	return sub, nil
}

// UpdateSubscription overwrites the state flags of a subscription.
func (m *Memory) UpdateSubscription(ctx context.Context, sub Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.subs {
		if m.subs[i].ID != sub.ID {
			continue
		}
		m.subs[i].Confirmed = sub.Confirmed
		m.subs[i].Notified = sub.Notified
		m.subs[i].Triggered = sub.Triggered
		m.subs[i].AvgBandwidth = sub.AvgBandwidth
		m.subs[i].LastChanged = sub.LastChanged
		return nil
	}
	return ErrNotFound
}

// EnsureDeployment records the deployment marker on first use and returns it.
func (m *Memory) EnsureDeployment(ctx context.Context, now time.Time) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deployment == nil {
		t := now.UTC()
		m.deployment = &t
	}
	return *m.deployment, nil
}

// Subscriptions returns a copy of every stored subscription.
func (m *Memory) Subscriptions() []Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Subscription, len(m.subs))
	copy(out, m.subs)
	return out
}

var (
	_ RelayStore        = (*Memory)(nil)
	_ SubscriptionStore = (*Memory)(nil)
	_ DeploymentStore   = (*Memory)(nil)
)
