package proration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProrate_MonthlyMidPeriod(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)

	// 15 full days remain out of the fixed 30-day denominator.
	now := time.Date(2026, 1, 16, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, int64(5000), Prorate(start, end, now, 10000, CycleMonthly))
}

func TestProrate_PartialDayRoundsUp(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)

	// 14 days and 12 hours remain; counts as 15 days.
	now := time.Date(2026, 1, 16, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, int64(5000), Prorate(start, end, now, 10000, CycleMonthly))
}

func TestProrate_Bounds(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, int64(10000), Prorate(start, end, start, 10000, CycleMonthly), "before period start the full amount remains")
	assert.Equal(t, int64(10000), Prorate(start, end, start.Add(-time.Hour), 10000, CycleMonthly))
	assert.Zero(t, Prorate(start, end, end, 10000, CycleMonthly), "at period end nothing remains")
	assert.Zero(t, Prorate(start, end, end.Add(time.Hour), 10000, CycleMonthly))
}

func TestProrate_NeverExceedsPeriodAmount(t *testing.T) {
	// A 31-day period against the 30-day denominator would overshoot
	// without the clamp.
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	now := start.Add(time.Minute)

	credit := Prorate(start, end, now, 9999, CycleMonthly)
	require.LessOrEqual(t, credit, int64(9999))
	require.GreaterOrEqual(t, credit, int64(0))
}

func TestProrate_MonotoneNonIncreasing(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)

	prev := int64(1<<62 - 1)
	for now := start; now.Before(end); now = now.Add(37 * time.Hour) {
		credit := Prorate(start, end, now, 120000, CycleYearly)
		require.LessOrEqual(t, credit, prev, "credit must not grow as time passes (at %s)", now)
		require.GreaterOrEqual(t, credit, int64(0))
		prev = credit
	}
}

func TestProrate_YearlyDenominator(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(1, 0, 0)

	// exactly 100 days remaining
	now := end.Add(-100 * 24 * time.Hour)
	assert.Equal(t, int64(100*36500/365), Prorate(start, end, now, 36500, CycleYearly))
}

func TestProrate_DegenerateInputs(t *testing.T) {
	now := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	assert.Zero(t, Prorate(now, now, now, 1000, CycleMonthly), "empty period")
	assert.Zero(t, Prorate(now.Add(time.Hour), now, now, 1000, CycleMonthly), "inverted period")
	assert.Zero(t, Prorate(now.Add(-time.Hour), now.Add(time.Hour), now, 0, CycleMonthly), "zero amount")
	assert.Zero(t, Prorate(now.Add(-time.Hour), now.Add(time.Hour), now, -5, CycleMonthly), "negative amount")
}
