package notify

import (
	"context"

	"github.com/shopspring/decimal"
)

// Kind distinguishes the notification templates.
type Kind string

const (
	KindWelcome Kind = "welcome"
	KindReward  Kind = "reward"
)

// Notification is one outgoing message to a relay operator or subscriber.
// Reward-only fields are left unset for welcome notifications.
type Notification struct {
	Kind                Kind             `json:"kind"`
	Contact             string           `json:"contact"`
	Fingerprint         string           `json:"fingerprint"`
	Name                string           `json:"name"`
	Exit                bool             `json:"exit"`
	Bandwidth           *decimal.Decimal `json:"bandwidth_kbs,omitempty"`
	HoursSinceFirstSeen int64            `json:"hours_since_first_seen,omitempty"`
	UnsubscribeURL      string           `json:"unsubscribe_url,omitempty"`
	PreferencesURL      string           `json:"preferences_url,omitempty"`
}

// Welcome builds the notification sent to the operator of a new stable relay.
func Welcome(contact, fingerprint, name string, exit bool) Notification {
	return Notification{
		Kind:        KindWelcome,
		Contact:     contact,
		Fingerprint: fingerprint,
		Name:        name,
		Exit:        exit,
	}
}

// Reward builds the t-shirt notification.
func Reward(contact, fingerprint, name string, bandwidth decimal.Decimal, hours int64, exit bool, unsubscribeURL, preferencesURL string) Notification {
	return Notification{
		Kind:                KindReward,
		Contact:             contact,
		Fingerprint:         fingerprint,
		Name:                name,
		Exit:                exit,
		Bandwidth:           &bandwidth,
		HoursSinceFirstSeen: hours,
		UnsubscribeURL:      unsubscribeURL,
		PreferencesURL:      preferencesURL,
	}
}

// Dispatcher delivers a batch of notifications. Implementations must return
// an error rather than drop messages silently.
type Dispatcher interface {
	Dispatch(ctx context.Context, batch []Notification) error
}
