package scheduling

import "time"

// GenerateSlots returns the free slot start times of dept between from and to.
//
// Each calendar day's window [day+StartAt, day+EndAt) is clamped to [from, to]
// and walked in steps of PeriodPerAppointment. A candidate [cursor, cursor+P)
// is dropped if it overlaps any booking; slots starting before now are removed
// at the end. Calendar days are taken in the department's location, so the
// same instants give the same slots whatever offset from and to carry.
func GenerateSlots(dept Department, bookings []BookingInterval, from, to, now time.Time) ([]time.Time, error) {
	if err := dept.Validate(); err != nil {
		return nil, err
	}

	loc := dept.Loc()
	from = ClampTime(from, MinTime, MaxTime).In(loc)
	to = ClampTime(to, MinTime, MaxTime).In(loc)
	if from.After(to) || !dept.HasOpenWindow() {
		return []time.Time{}, nil
	}

	period := dept.PeriodPerAppointment
	slots := make([]time.Time, 0)
	lastDay := StartOfDay(to)

	for day := StartOfDay(from); !day.After(lastDay); day = NextDay(day) {
		dailyStart := ClampTime(dept.StartAt.On(day), from, to)
		dailyEnd := ClampTime(dept.EndAt.On(day), from, to)

		for cursor := dailyStart; dailyEnd.Sub(cursor) >= period; {
			slotEnd := SaturatingAdd(cursor, period)
			if !overlapsAny(cursor, slotEnd, bookings) {
				slots = append(slots, cursor)
			}

			next := SaturatingAdd(cursor, period)
			if !next.After(cursor) {
				break
			}
			cursor = next
		}
	}

	return dropPast(slots, now), nil
}

// GenerateSlotsForDate is GenerateSlots bounded by the department's own window
// on date's calendar day.
func GenerateSlotsForDate(dept Department, bookings []BookingInterval, date, now time.Time) ([]time.Time, error) {
	from, to := DayWindow(dept, date)
	return GenerateSlots(dept, bookings, from, to, now)
}

// DayWindow returns the department's open and close instants on the calendar
// day written in date. Only date's year, month and day are read; the day is
// placed in the department's location.
func DayWindow(dept Department, date time.Time) (openAt, closeAt time.Time) {
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, dept.Loc())
	return dept.StartAt.On(day), dept.EndAt.On(day)
}

// Overlaps uses half-open intervals: touching ends do not overlap.
func Overlaps(start, end time.Time, b BookingInterval) bool {
	return !(!end.After(b.Start) || !start.Before(b.End()))
}

func overlapsAny(start, end time.Time, bookings []BookingInterval) bool {
	for _, b := range bookings {
		if Overlaps(start, end, b) {
			return true
		}
	}
	return false
}

func dropPast(slots []time.Time, now time.Time) []time.Time {
	out := slots[:0]
	for _, s := range slots {
		if s.Before(now) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// CountDailySlots is floor((EndAt-StartAt)/P) for a day without bookings.
func CountDailySlots(dept Department) (int, error) {
	if err := dept.Validate(); err != nil {
		return 0, err
	}
	if !dept.HasOpenWindow() {
		return 0, nil
	}
	window := dept.EndAt.Duration() - dept.StartAt.Duration()
	return int(window / dept.PeriodPerAppointment), nil
}
