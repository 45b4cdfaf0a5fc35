package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("storage: not found")
)

const (
	relayColumns = `fingerprint, name, welcomed, last_seen, is_up, is_exit, created_at`

	findRelaySQL = `SELECT ` + relayColumns + `
    FROM tracked_relays
    WHERE fingerprint = $1;`

	insertRelaySQL = `INSERT INTO tracked_relays (
        fingerprint,
        name,
        welcomed,
        last_seen,
        is_up,
        is_exit
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    );`

	updateRelaySQL = `UPDATE tracked_relays
    SET name      = $2,
        welcomed  = $3,
        last_seen = $4,
        is_up     = $5,
        is_exit   = $6
    WHERE fingerprint = $1;`

	markRelaysDownSQL = `UPDATE tracked_relays
    SET is_up = FALSE
    WHERE is_up
      AND NOT (fingerprint = ANY($1));`

	listRelaysSQL = `SELECT ` + relayColumns + `
    FROM tracked_relays
    ORDER BY last_seen DESC;`

	deleteRelaysSeenBeforeSQL = `DELETE FROM tracked_relays WHERE last_seen < $1;`

	subscriptionColumns = `id, fingerprint, email, confirmed, notified, triggered, avg_bandwidth::text,
        last_changed, unsubscribe_token, preferences_token, created_at`

	listPendingSubscriptionsSQL = `SELECT ` + subscriptionColumns + `
    FROM subscriptions
    WHERE fingerprint = $1
      AND confirmed
      AND NOT notified
    ORDER BY id;`

	findNotifiedSubscriptionSQL = `SELECT ` + subscriptionColumns + `
    FROM subscriptions
    WHERE fingerprint = $1
      AND email = $2
      AND notified
    ORDER BY id
    LIMIT 1;`

	insertSubscriptionSQL = `INSERT INTO subscriptions (
        fingerprint,
        email,
        confirmed,
        notified,
        triggered,
        avg_bandwidth,
        last_changed,
        unsubscribe_token,
        preferences_token
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9
    )
    RETURNING ` + subscriptionColumns + `;`

	updateSubscriptionSQL = `UPDATE subscriptions
    SET confirmed     = $2,
        notified      = $3,
        triggered     = $4,
        avg_bandwidth = $5,
        last_changed  = $6
    WHERE id = $1;`

	insertDeploymentSQL = `INSERT INTO deployment (id, deployed_at)
    VALUES (1, $1)
    ON CONFLICT (id) DO NOTHING;`

	selectDeploymentSQL = `SELECT deployed_at FROM deployment WHERE id = 1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// RelayStore persists tracked relays.
type RelayStore interface {
	FindRelay(ctx context.Context, fingerprint string) (TrackedRelay, error)
	InsertRelay(ctx context.Context, relay TrackedRelay) error
	UpdateRelay(ctx context.Context, relay TrackedRelay) error
	MarkRelaysDown(ctx context.Context, seen []string) (int64, error)
	ListRelays(ctx context.Context) ([]TrackedRelay, error)
	DeleteRelaysSeenBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SubscriptionStore persists reward subscriptions.
type SubscriptionStore interface {
	ListPendingSubscriptions(ctx context.Context, fingerprint string) ([]Subscription, error)
	FindNotifiedSubscription(ctx context.Context, fingerprint, email string) (Subscription, error)
	InsertSubscription(ctx context.Context, sub Subscription) (Subscription, error)
	UpdateSubscription(ctx context.Context, sub Subscription) error
}

// DeploymentStore keeps the first-run marker.
type DeploymentStore interface {
	// EnsureDeployment records now as the deployment time unless a marker
	// already exists, and returns the stored marker.
	EnsureDeployment(ctx context.Context, now time.Time) (time.Time, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to tracked relays, subscriptions and the deployment marker.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// best effort; the lock is released with the session anyway
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// FindRelay returns the tracked relay with the given fingerprint or ErrNotFound.
func (s *Store) FindRelay(ctx context.Context, fingerprint string) (TrackedRelay, error) {
	pool, err := s.getPool()
	if err != nil {
		return TrackedRelay{}, err
	}

	relay, err := scanRelay(pool.QueryRow(ctx, findRelaySQL, fingerprint))
	if errors.Is(err, pgx.ErrNoRows) {
		return TrackedRelay{}, ErrNotFound
	}
	if err != nil {
		return TrackedRelay{}, fmt.Errorf("find relay: %w", err)
	}
	return relay, nil
}

// InsertRelay persists a new tracked relay.
func (s *Store) InsertRelay(ctx context.Context, relay TrackedRelay) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, insertRelaySQL,
		relay.Fingerprint,
		relay.Name,
		relay.Welcomed,
		relay.LastSeen,
		relay.Up,
		relay.Exit,
	)
	if execErr != nil {
		return fmt.Errorf("insert relay: %w", execErr)
	}
	return nil
}

// UpdateRelay overwrites the mutable fields of a tracked relay.
func (s *Store) UpdateRelay(ctx context.Context, relay TrackedRelay) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	cmdTag, execErr := pool.Exec(ctx, updateRelaySQL,
		relay.Fingerprint,
		relay.Name,
		relay.Welcomed,
		relay.LastSeen,
		relay.Up,
		relay.Exit,
	)
	if execErr != nil {
		return fmt.Errorf("update relay: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkRelaysDown flags every tracked relay missing from seen as down.
func (s *Store) MarkRelaysDown(ctx context.Context, seen []string) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	if seen == nil {
		seen = []string{}
	}

	cmdTag, execErr := pool.Exec(ctx, markRelaysDownSQL, seen)
	if execErr != nil {
		return 0, fmt.Errorf("mark relays down: %w", execErr)
	}
	return cmdTag.RowsAffected(), nil
}

// ListRelays lists every tracked relay, most recently seen first.
func (s *Store) ListRelays(ctx context.Context) ([]TrackedRelay, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRelaysSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list relays: %w", queryErr)
	}
	defer rows.Close()

	relays := make([]TrackedRelay, 0)
	for rows.Next() {
		relay, scanErr := scanRelay(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		relays = append(relays, relay)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return relays, nil
}

// DeleteRelaysSeenBefore removes tracked relays (and their subscriptions) last seen before cutoff.
func (s *Store) DeleteRelaysSeenBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	cmdTag, execErr := pool.Exec(ctx, deleteRelaysSeenBeforeSQL, cutoff)
	if execErr != nil {
		return 0, fmt.Errorf("delete relays seen before: %w", execErr)
	}
	return cmdTag.RowsAffected(), nil
}

// ListPendingSubscriptions lists confirmed subscriptions not yet notified.
func (s *Store) ListPendingSubscriptions(ctx context.Context, fingerprint string) ([]Subscription, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listPendingSubscriptionsSQL, fingerprint)
	if queryErr != nil {
		return nil, fmt.Errorf("list pending subscriptions: %w", queryErr)
	}
	defer rows.Close()

	subs := make([]Subscription, 0)
	for rows.Next() {
		sub, scanErr := scanSubscription(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		subs = append(subs, sub)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return subs, nil
}

// FindNotifiedSubscription returns an already-notified subscription for the
// fingerprint and email, or ErrNotFound.
func (s *Store) FindNotifiedSubscription(ctx context.Context, fingerprint, email string) (Subscription, error) {
	pool, err := s.getPool()
	if err != nil {
		return Subscription{}, err
	}

	sub, err := scanSubscription(pool.QueryRow(ctx, findNotifiedSubscriptionSQL, fingerprint, email))
	if errors.Is(err, pgx.ErrNoRows) {
		return Subscription{}, ErrNotFound
	}
	if err != nil {
		return Subscription{}, fmt.Errorf("find notified subscription: %w", err)
	}
	return sub, nil
}

// InsertSubscription persists a subscription and returns it with generated fields.
func (s *Store) InsertSubscription(ctx context.Context, sub Subscription) (Subscription, error) {
	pool, err := s.getPool()
	if err != nil {
		return Subscription{}, err
	}

	row := pool.QueryRow(ctx, insertSubscriptionSQL,
		sub.Fingerprint,
		sub.Email,
		sub.Confirmed,
		sub.Notified,
		sub.Triggered,
		sub.AvgBandwidth.String(),
		sub.LastChanged,
		sub.UnsubscribeToken,
		sub.PreferencesToken,
	)

	rec, scanErr := scanSubscription(row)
	if scanErr != nil {
		return Subscription{}, fmt.Errorf("insert subscription: %w", scanErr)
	}
	return rec, nil
}

// UpdateSubscription overwrites the state flags of a subscription.
func (s *Store) UpdateSubscription(ctx context.Context, sub Subscription) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	cmdTag, execErr := pool.Exec(ctx, updateSubscriptionSQL,
		sub.ID,
		sub.Confirmed,
		sub.Notified,
		sub.Triggered,
		sub.AvgBandwidth.String(),
		sub.LastChanged,
	)
	if execErr != nil {
		return fmt.Errorf("update subscription: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// EnsureDeployment records the deployment marker on first use and returns it.
func (s *Store) EnsureDeployment(ctx context.Context, now time.Time) (time.Time, error) {
	pool, err := s.getPool()
	if err != nil {
		return time.Time{}, err
	}

	if _, execErr := pool.Exec(ctx, insertDeploymentSQL, now); execErr != nil {
		return time.Time{}, fmt.Errorf("insert deployment marker: %w", execErr)
	}

	var deployed time.Time
	if scanErr := pool.QueryRow(ctx, selectDeploymentSQL).Scan(&deployed); scanErr != nil {
		return time.Time{}, fmt.Errorf("select deployment marker: %w", scanErr)
	}
	return deployed.UTC(), nil
}

func scanRelay(row pgx.Row) (TrackedRelay, error) {
	var relay TrackedRelay
	if err := row.Scan(
		&relay.Fingerprint,
		&relay.Name,
		&relay.Welcomed,
		&relay.LastSeen,
		&relay.Up,
		&relay.Exit,
		&relay.CreatedAt,
	); err != nil {
		return TrackedRelay{}, err
	}
	relay.LastSeen = relay.LastSeen.UTC()
	relay.CreatedAt = relay.CreatedAt.UTC()
	return relay, nil
}

func scanSubscription(row pgx.Row) (Subscription, error) {
	var (
		sub          Subscription
		bandwidthStr string
	)
	if err := row.Scan(
		&sub.ID,
		&sub.Fingerprint,
		&sub.Email,
		&sub.Confirmed,
		&sub.Notified,
		&sub.Triggered,
		&bandwidthStr,
		&sub.LastChanged,
		&sub.UnsubscribeToken,
		&sub.PreferencesToken,
		&sub.CreatedAt,
	); err != nil {
		return Subscription{}, err
	}

	bandwidth, err := decimal.NewFromString(bandwidthStr)
	if err != nil {
		return Subscription{}, fmt.Errorf("parse avg bandwidth: %w", err)
	}
	sub.AvgBandwidth = bandwidth
	sub.LastChanged = sub.LastChanged.UTC()
	sub.CreatedAt = sub.CreatedAt.UTC()
	return sub, nil
}

var (
	_ RelayStore        = (*Store)(nil)
	_ SubscriptionStore = (*Store)(nil)
	_ DeploymentStore   = (*Store)(nil)
	_ AdvisoryLocker    = (*Store)(nil)
)
