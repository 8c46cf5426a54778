package coupon

import (
	"time"

	"ms-coupons/internal/models"
	"ms-coupons/internal/utils"
)

// IsEligible reports whether a claim against def is permitted at now.
// Weekday and time-of-day are read in now's location, so callers convert now
// into the campaign timezone before calling. It performs no I/O.
func IsEligible(def *models.CouponDefinition, now time.Time) bool {
	if def == nil || !def.IsActive {
		return false
	}

	if def.StartsAt != nil && now.Before(*def.StartsAt) {
		return false
	}
	// expires_at itself is still claimable
	if def.ExpiresAt != nil && now.After(*def.ExpiresAt) {
		return false
	}

	if len(def.DaysOfWeek) > 0 && !containsDay(def.DaysOfWeek, utils.ISOWeekday(now)) {
		return false
	}

	if len(def.TimeWindows) > 0 && !withinAnyWindow(def.TimeWindows, utils.ClockString(now)) {
		return false
	}

	return true
}

func containsDay(days []int, day int) bool {
	for _, d := range days {
		if d == day {
			return true
		}
	}
	return false
}

// withinAnyWindow compares zero-padded "HH:MM" strings lexicographically.
// A window ending before it starts, such as 22:00-02:00, runs overnight. Its
// after-midnight part is checked against the day-of-week rule like any other time.
func withinAnyWindow(windows []models.TimeWindow, clock string) bool {
	for _, w := range windows {
		if w.End < w.Start {
			if clock >= w.Start || clock <= w.End {
				return true
			}
			continue
		}
		if clock >= w.Start && clock <= w.End {
			return true
		}
	}
	return false
}
