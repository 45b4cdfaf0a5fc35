package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// TrackedRelay is the durable record of a relay this system has seen and welcomed.
type TrackedRelay struct {
	Fingerprint string
	Name        string
	Welcomed    bool
	LastSeen    time.Time
	Up          bool
	Exit        bool
	CreatedAt   time.Time
}

// Subscription links a contact address to a tracked relay for reward notifications.
type Subscription struct {
	ID               int64
	Fingerprint      string
	Email            string
	Confirmed        bool
	Notified         bool
	Triggered        bool
	AvgBandwidth     decimal.Decimal
	LastChanged      time.Time
	UnsubscribeToken string
	PreferencesToken string
	CreatedAt        time.Time
}
