// Package eligibility holds the pure decision rules for welcome and reward
// notifications. Nothing here performs I/O.
package eligibility

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"relay-weather/internal/onionoo"
)

const (
	// MaturityAge is the minimum relay age before a reward can be earned.
	MaturityAge = 60 * 24 * time.Hour
	// RecencyWindow bounds how far back first_seen may lie for a relay to be new.
	RecencyWindow = 180 * 24 * time.Hour

	// StableFlag is the directory flag required for a welcome.
	StableFlag = "Stable"
)

var (
	MinUptimePercent = decimal.NewFromInt(95)
	MinBandwidth     = decimal.NewFromInt(500)
	MinExitBandwidth = decimal.NewFromInt(100)
)

// DefaultExitPorts are the ports an exit must allow to count as exit-capable.
var DefaultExitPorts = []int{80, 443}

// RollingCutoff returns now minus RecencyWindow.
func RollingCutoff(now time.Time) time.Time {
	return now.Add(-RecencyWindow)
}

// IsRecent reports whether firstSeen is later than the rolling cutoff and,
// when checkDeployment is set, later than the deployment time as well.
func IsRecent(firstSeen, now, deployment time.Time, checkDeployment bool) bool {
	floor := RollingCutoff(now)
	if checkDeployment && deployment.After(floor) {
		floor = deployment
	}
	return firstSeen.After(floor)
}

// IsMature reports whether the relay has been known for at least MaturityAge.
func IsMature(firstSeen, now time.Time) bool {
	return now.Sub(firstSeen) >= MaturityAge
}

// IsStable reports whether the relay carries the Stable flag.
func IsStable(relay onionoo.RelayDetail) bool {
	return relay.HasFlag(StableFlag)
}

// IsExit reports whether the exit policy summary allows any of ports.
// An accept list allows exactly the listed ranges; a reject list allows
// everything else. A summary with neither is treated as reject-all.
func IsExit(policy onionoo.ExitPolicySummary, ports []int) bool {
	switch {
	case len(policy.Accept) > 0:
		for _, p := range ports {
			if portListed(policy.Accept, p) {
				return true
			}
		}
		return false
	case len(policy.Reject) > 0:
		for _, p := range ports {
			if !portListed(policy.Reject, p) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func portListed(entries []string, port int) bool {
	for _, entry := range entries {
		lo, hi, ok := parsePortRange(entry)
		if ok && port >= lo && port <= hi {
			return true
		}
	}
	return false
}

func parsePortRange(entry string) (int, int, bool) {
	entry = strings.TrimSpace(entry)
	if from, to, found := strings.Cut(entry, "-"); found {
		lo, err := strconv.Atoi(from)
		if err != nil {
			return 0, 0, false
		}
		hi, err := strconv.Atoi(to)
		if err != nil || hi < lo {
			return 0, 0, false
		}
		return lo, hi, true
	}
	p, err := strconv.Atoi(entry)
	if err != nil {
		return 0, 0, false
	}
	return p, p, true
}

// CheckReward applies the t-shirt thresholds. Missing uptime or bandwidth
// data is an error rather than a negative decision.
func CheckReward(mature, exit bool, uptime, bandwidth decimal.NullDecimal) (bool, error) {
	if !uptime.Valid || !bandwidth.Valid {
		return false, &DataError{Reason: missingMetric(uptime, bandwidth), Err: ErrInsufficientData}
	}
	if !mature || uptime.Decimal.LessThan(MinUptimePercent) {
		return false, nil
	}
	if !exit {
		return bandwidth.Decimal.GreaterThanOrEqual(MinBandwidth), nil
	}
	return bandwidth.Decimal.GreaterThanOrEqual(MinExitBandwidth), nil
}

func missingMetric(uptime, bandwidth decimal.NullDecimal) string {
	switch {
	case !uptime.Valid && !bandwidth.Valid:
		return "no uptime or bandwidth history"
	case !uptime.Valid:
		return "no uptime history"
	default:
		return "no bandwidth history"
	}
}

// WelcomeEligible reports whether a welcome should be sent: the relay is
// stable, recently first seen, and not yet tracked.
func WelcomeEligible(stable, recent, tracked bool) bool {
	return stable && recent && !tracked
}

// HoursSince returns the whole hours elapsed between firstSeen and now.
func HoursSince(firstSeen, now time.Time) int64 {
	if now.Before(firstSeen) {
		return 0
	}
	return int64(now.Sub(firstSeen) / time.Hour)
}
