// Package proration computes the unused share of an already paid billing
// period. Pure functions over the authoritative period bounds; callers
// supply the reference time.
package proration

import "time"

// Cycle is the billing interval the period amount paid for.
type Cycle string

const (
	CycleMonthly Cycle = "monthly"
	CycleYearly  Cycle = "yearly"
)

// totalDays returns the fixed denominator for a cycle. Fixed denominators
// keep the credit independent of which calendar month the period spans.
func totalDays(cycle Cycle) int64 {
	if cycle == CycleYearly {
		return 365
	}
	return 30
}

// Prorate returns the credit for the unused remainder of a paid period.
// Days are counted with ceiling so a partially elapsed day still counts as
// remaining. The result is clamped to [0, periodAmount]: zero once the
// period has ended, the full amount before it starts.
func Prorate(periodStart, periodEnd, now time.Time, periodAmount int64, cycle Cycle) int64 {
	if periodAmount <= 0 || !periodEnd.After(periodStart) {
		return 0
	}
	if !now.Before(periodEnd) {
		return 0
	}
	if !now.After(periodStart) {
		return periodAmount
	}

	remaining := periodEnd.Sub(now)
	daysRemaining := int64(remaining / (24 * time.Hour))
	if remaining%(24*time.Hour) != 0 {
		daysRemaining++
	}

	credit := periodAmount * daysRemaining / totalDays(cycle)
	if credit < 0 {
		credit = 0
	}
	if credit > periodAmount {
		credit = periodAmount
	}
	return credit
}
