package eligibility

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay-weather/internal/onionoo"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func known(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

func TestCheckRewardThresholds(t *testing.T) {
	cases := []struct {
		name      string
		mature    bool
		exit      bool
		uptime    string
		bandwidth string
		want      bool
	}{
		{"non-exit at threshold", true, false, "99", "500", true},
		{"non-exit just below", true, false, "99", "499.99", false},
		{"exit at threshold", true, true, "99", "100", true},
		{"exit just below", true, true, "99", "99.99", false},
		{"exit needs less than non-exit", true, true, "99", "250", true},
		{"uptime at threshold", true, false, "95", "800", true},
		{"uptime just below", true, false, "94.99", "800", false},
		{"immature", false, false, "100", "10000", false},
		{"zero bandwidth", true, false, "100", "0", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := CheckReward(tc.mature, tc.exit, known(tc.uptime), known(tc.bandwidth))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCheckRewardInsufficientData(t *testing.T) {
	missing := decimal.NullDecimal{}

	for _, pair := range [][2]decimal.NullDecimal{
		{missing, known("500")},
		{known("99"), missing},
		{missing, missing},
	} {
		ok, err := CheckReward(true, false, pair[0], pair[1])
		require.Error(t, err)
		assert.False(t, ok)
		assert.True(t, errors.Is(err, ErrInsufficientData))

		var dataErr *DataError
		assert.True(t, errors.As(err, &dataErr))
	}
}

func TestCheckRewardZeroIsNotMissing(t *testing.T) {
	ok, err := CheckReward(true, false, known("0"), known("0"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIsMatureBoundary(t *testing.T) {
	assert.True(t, IsMature(now.Add(-60*24*time.Hour), now))
	assert.False(t, IsMature(now.Add(-(59*24+23)*time.Hour), now))
	assert.True(t, IsMature(now.Add(-365*24*time.Hour), now))
}

func TestIsRecent(t *testing.T) {
	cutoff := RollingCutoff(now)
	deployment := now.Add(-30 * 24 * time.Hour)

	assert.True(t, IsRecent(now.Add(-24*time.Hour), now, deployment, true))
	assert.False(t, IsRecent(cutoff, now, deployment, false), "first_seen equal to cutoff is not recent")
	assert.True(t, IsRecent(cutoff.Add(time.Second), now, deployment, false))

	// Seen 90 days ago: recent by the rolling cutoff, but older than the deployment.
	firstSeen := now.Add(-90 * 24 * time.Hour)
	assert.True(t, IsRecent(firstSeen, now, deployment, false))
	assert.False(t, IsRecent(firstSeen, now, deployment, true))

	// A deployment older than the cutoff does not relax it.
	old := now.Add(-400 * 24 * time.Hour)
	assert.False(t, IsRecent(now.Add(-200*24*time.Hour), now, old, true))
}

func TestIsExit(t *testing.T) {
	ports := DefaultExitPorts
	cases := []struct {
		name   string
		policy onionoo.ExitPolicySummary
		want   bool
	}{
		{"accept web", onionoo.ExitPolicySummary{Accept: []string{"80", "443"}}, true},
		{"accept range", onionoo.ExitPolicySummary{Accept: []string{"20-23", "400-500"}}, true},
		{"accept other ports", onionoo.ExitPolicySummary{Accept: []string{"22", "6660-6669"}}, false},
		{"reject all", onionoo.ExitPolicySummary{Reject: []string{"1-65535"}}, false},
		{"reject some", onionoo.ExitPolicySummary{Reject: []string{"25", "80"}}, true},
		{"empty", onionoo.ExitPolicySummary{}, false},
		{"garbage entries", onionoo.ExitPolicySummary{Accept: []string{"http", "90-10"}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsExit(tc.policy, ports))
		})
	}
}

func TestIsStable(t *testing.T) {
	assert.True(t, IsStable(onionoo.RelayDetail{Flags: []string{"Running", "Stable"}}))
	assert.False(t, IsStable(onionoo.RelayDetail{Flags: []string{"Running", "Fast"}}))
}

func TestWelcomeEligible(t *testing.T) {
	assert.True(t, WelcomeEligible(true, true, false))
	assert.False(t, WelcomeEligible(true, true, true))
	assert.False(t, WelcomeEligible(false, true, false))
	assert.False(t, WelcomeEligible(true, false, false))
}

func TestHoursSince(t *testing.T) {
	assert.Equal(t, int64(49), HoursSince(now.Add(-49*time.Hour-30*time.Minute), now))
	assert.Equal(t, int64(0), HoursSince(now.Add(time.Hour), now))
}
