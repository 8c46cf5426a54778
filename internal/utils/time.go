package utils

import (
	"time"
)

// ISOWeekday numbers t's weekday Monday=1 .. Sunday=7.
func ISOWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

// ClockString formats t's wall clock as zero-padded "HH:MM" in t's own location.
func ClockString(t time.Time) string {
	return t.Format("15:04")
}
