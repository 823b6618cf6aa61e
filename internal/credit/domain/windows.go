package domain

import "time"

// Window is a fixed wall-clock limit period. Limits reset at the boundary,
// they do not decay continuously.
type Window string

const (
	WindowDaily   Window = "daily"
	WindowWeekly  Window = "weekly"
	WindowMonthly Window = "monthly"
)

// Windows lists the supported periods in evaluation order.
var Windows = []Window{WindowDaily, WindowWeekly, WindowMonthly}

// WindowStart returns the start of the current window in now's location.
// Daily starts at midnight, weekly at the most recent Monday 00:00, monthly
// at the first of the month 00:00.
func WindowStart(w Window, now time.Time) time.Time {
	year, month, day := now.Date()
	midnight := time.Date(year, month, day, 0, 0, 0, 0, now.Location())
	switch w {
	case WindowDaily:
		return midnight
	case WindowWeekly:
		offset := (int(now.Weekday()) + 6) % 7 // Monday=0 ... Sunday=6
		return midnight.AddDate(0, 0, -offset)
	case WindowMonthly:
		return time.Date(year, month, 1, 0, 0, 0, 0, now.Location())
	default:
		return midnight
	}
}

// WindowReset returns the instant the current window's limit clears.
func WindowReset(w Window, now time.Time) time.Time {
	start := WindowStart(w, now)
	switch w {
	case WindowDaily:
		return start.AddDate(0, 0, 1)
	case WindowWeekly:
		return start.AddDate(0, 0, 7)
	case WindowMonthly:
		return start.AddDate(0, 1, 0)
	default:
		return start.AddDate(0, 0, 1)
	}
}
