package scheduling

import "time"

// Representable timestamp range. Arithmetic that would leave it saturates at
// the boundary in the direction of the duration's sign.
var (
	MinTime = time.Date(1, time.January, 1, 0, 0, 0, 0, time.UTC)
	MaxTime = time.Date(9999, time.December, 31, 23, 59, 59, 999999999, time.UTC)
)

// SaturatingAdd returns t+d clamped to [MinTime, MaxTime].
// time.Time.Sub already saturates at the Duration limits, so comparing d
// against the remaining headroom never overflows.
func SaturatingAdd(t time.Time, d time.Duration) time.Time {
	t = ClampTime(t, MinTime, MaxTime)
	switch {
	case d > 0 && d > MaxTime.Sub(t):
		return MaxTime.In(t.Location())
	case d < 0 && d < MinTime.Sub(t):
		return MinTime.In(t.Location())
	}
	return t.Add(d)
}

// ClampTime bounds t to [lo, hi].
func ClampTime(t, lo, hi time.Time) time.Time {
	if t.Before(lo) {
		return lo.In(t.Location())
	}
	if t.After(hi) {
		return hi.In(t.Location())
	}
	return t
}

// StartOfDay is local midnight of t's calendar day.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// NextDay is local midnight of the following calendar day. Using time.Date
// keeps DST transition days whole.
func NextDay(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day()+1, 0, 0, 0, 0, day.Location())
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
