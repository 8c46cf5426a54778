package coupon

import (
	"testing"
	"time"

	"ms-coupons/internal/models"

	"github.com/stretchr/testify/assert"
)

func ptrTime(t time.Time) *time.Time { return &t }

func TestIsEligible_ActiveFlag(t *testing.T) {
	now := time.Date(2025, 6, 4, 12, 0, 0, 0, time.UTC)

	assert.True(t, IsEligible(&models.CouponDefinition{IsActive: true}, now))
	assert.False(t, IsEligible(&models.CouponDefinition{IsActive: false}, now))
	assert.False(t, IsEligible(nil, now))
}

func TestIsEligible_ValidityWindow(t *testing.T) {
	starts := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	expires := time.Date(2025, 6, 30, 23, 59, 59, 0, time.UTC)
	def := &models.CouponDefinition{
		IsActive:  true,
		StartsAt:  ptrTime(starts),
		ExpiresAt: ptrTime(expires),
	}

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"before start", starts.Add(-time.Second), false},
		{"at start", starts, true},
		{"mid window", starts.Add(72 * time.Hour), true},
		{"at expiry", expires, true},
		{"one second after expiry", expires.Add(time.Second), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsEligible(def, tt.now))
		})
	}
}

func TestIsEligible_OpenEndedWindow(t *testing.T) {
	def := &models.CouponDefinition{
		IsActive: true,
		StartsAt: ptrTime(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)),
	}
	assert.True(t, IsEligible(def, time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestIsEligible_DaysOfWeek(t *testing.T) {
	weekend := &models.CouponDefinition{IsActive: true, DaysOfWeek: []int{6, 7}}

	saturday := time.Date(2025, 6, 7, 10, 0, 0, 0, time.UTC)
	sunday := time.Date(2025, 6, 8, 10, 0, 0, 0, time.UTC)
	wednesday := time.Date(2025, 6, 4, 10, 0, 0, 0, time.UTC)

	assert.True(t, IsEligible(weekend, saturday))
	assert.True(t, IsEligible(weekend, sunday))
	assert.False(t, IsEligible(weekend, wednesday))

	monday := &models.CouponDefinition{IsActive: true, DaysOfWeek: []int{1}}
	assert.True(t, IsEligible(monday, time.Date(2025, 6, 9, 0, 0, 0, 0, time.UTC)))
	assert.False(t, IsEligible(monday, sunday), "Sunday is 7, not 0")
}

func TestIsEligible_TimeWindows(t *testing.T) {
	def := &models.CouponDefinition{
		IsActive: true,
		TimeWindows: []models.TimeWindow{
			{Start: "08:00", End: "10:30"},
			{Start: "17:00", End: "19:00"},
		},
	}
	at := func(h, m int) time.Time { return time.Date(2025, 6, 4, h, m, 0, 0, time.UTC) }

	assert.False(t, IsEligible(def, at(7, 59)))
	assert.True(t, IsEligible(def, at(8, 0)))
	assert.True(t, IsEligible(def, at(10, 30)), "end is inclusive")
	assert.False(t, IsEligible(def, at(10, 31)))
	assert.False(t, IsEligible(def, at(12, 0)))
	assert.True(t, IsEligible(def, at(18, 15)))
	assert.True(t, IsEligible(def, at(19, 0)))
}

func TestIsEligible_UsesLocationOfNow(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*60*60)
	def := &models.CouponDefinition{
		IsActive:    true,
		DaysOfWeek:  []int{6},
		TimeWindows: []models.TimeWindow{{Start: "08:00", End: "09:00"}},
	}

	// Friday 23:30 UTC is Saturday 08:30 at UTC+9
	now := time.Date(2025, 6, 6, 23, 30, 0, 0, time.UTC)
	assert.False(t, IsEligible(def, now))
	assert.True(t, IsEligible(def, now.In(loc)))
}

func TestIsEligible_AllRulesCombined(t *testing.T) {
	def := &models.CouponDefinition{
		IsActive:    true,
		StartsAt:    ptrTime(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)),
		ExpiresAt:   ptrTime(time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)),
		DaysOfWeek:  []int{3},
		TimeWindows: []models.TimeWindow{{Start: "12:00", End: "14:00"}},
	}

	assert.True(t, IsEligible(def, time.Date(2025, 6, 4, 13, 0, 0, 0, time.UTC)))
	// right weekday and hour, outside validity
	assert.False(t, IsEligible(def, time.Date(2025, 7, 2, 13, 0, 0, 0, time.UTC)))
	// right weekday, wrong hour
	assert.False(t, IsEligible(def, time.Date(2025, 6, 4, 15, 0, 0, 0, time.UTC)))
}

func TestIsEligible_OvernightWindow(t *testing.T) {
	def := &models.CouponDefinition{
		IsActive:    true,
		TimeWindows: []models.TimeWindow{{Start: "22:00", End: "02:00"}},
	}
	at := func(h, m int) time.Time { return time.Date(2025, 6, 4, h, m, 0, 0, time.UTC) }

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"before opening", at(21, 59), false},
		{"at opening", at(22, 0), true},
		{"before midnight", at(23, 30), true},
		{"at midnight", at(0, 0), true},
		{"at closing", at(2, 0), true},
		{"after closing", at(2, 1), false},
		{"midday", at(12, 0), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsEligible(def, tt.now))
		})
	}

	// the after-midnight hours belong to the next calendar day
	fridayNights := &models.CouponDefinition{
		IsActive:    true,
		DaysOfWeek:  []int{5},
		TimeWindows: []models.TimeWindow{{Start: "22:00", End: "02:00"}},
	}
	assert.True(t, IsEligible(fridayNights, time.Date(2025, 6, 6, 23, 0, 0, 0, time.UTC)))
	assert.False(t, IsEligible(fridayNights, time.Date(2025, 6, 7, 1, 0, 0, 0, time.UTC)))
}
