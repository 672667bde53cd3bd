package dates

import "time"

const day = 24 * time.Hour

// StartOfMonth returns midnight UTC on the first day of t's month.
func StartOfMonth(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// EndOfMonth returns midnight UTC on the last day of t's month.
func EndOfMonth(t time.Time) time.Time {
	return StartOfMonth(t).AddDate(0, 1, -1)
}

// DaysInMonth returns the number of calendar days in t's month.
func DaysInMonth(t time.Time) int {
	return EndOfMonth(t).Day()
}

// WholeDaysBetween returns floor((to - from) / 1 day). Negative when to
// precedes from.
func WholeDaysBetween(from, to time.Time) int {
	return int(to.Sub(from) / day)
}

// InclusiveDays counts days from from through to, both endpoints included.
func InclusiveDays(from, to time.Time) int {
	return WholeDaysBetween(from, to) + 1
}

// GracePeriodEnd returns the instant after which an obligation due at due
// starts accruing late fees.
func GracePeriodEnd(due time.Time, graceDays int) time.Time {
	return due.Add(time.Duration(graceDays) * day)
}

// MidnightUTC truncates t to midnight UTC.
func MidnightUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
