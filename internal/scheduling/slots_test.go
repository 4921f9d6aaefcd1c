package scheduling

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func clinic(start, end TimeOfDay, period time.Duration) Department {
	return Department{
		ID:                   uuid.New(),
		Kind:                 KindClinic,
		Name:                 "General Practice",
		StartAt:              start,
		EndAt:                end,
		PeriodPerAppointment: period,
	}
}

func at(day time.Time, hour, minute int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, day.Location())
}

func formatSlots(slots []time.Time) []string {
	out := make([]string, len(slots))
	for i, s := range slots {
		out[i] = s.Format("15:04")
	}
	return out
}

func assertSlots(t *testing.T, got []time.Time, want ...string) {
	t.Helper()
	gotStr := formatSlots(got)
	if len(gotStr) != len(want) {
		t.Fatalf("expected %d slots %v, got %d %v", len(want), want, len(gotStr), gotStr)
	}
	for i := range want {
		if gotStr[i] != want[i] {
			t.Fatalf("slot %d: expected %s, got %s (all: %v)", i, want[i], gotStr[i], gotStr)
		}
	}
}

func TestGenerateSlots_NoBookings(t *testing.T) {
	day := time.Date(2030, 3, 12, 0, 0, 0, 0, time.UTC)
	dept := clinic(NewTimeOfDay(9, 0), NewTimeOfDay(12, 0), 30*time.Minute)
	now := day.AddDate(-1, 0, 0)

	slots, err := GenerateSlotsForDate(dept, nil, day, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertSlots(t, slots, "09:00", "09:30", "10:00", "10:30", "11:00", "11:30")
}

func TestGenerateSlots_SkipsBookedInterval(t *testing.T) {
	day := time.Date(2030, 3, 12, 0, 0, 0, 0, time.UTC)
	dept := clinic(NewTimeOfDay(9, 0), NewTimeOfDay(12, 0), 30*time.Minute)
	now := day.AddDate(-1, 0, 0)
	bookings := []BookingInterval{{Start: at(day, 10, 0), Duration: 30 * time.Minute}}

	slots, err := GenerateSlotsForDate(dept, bookings, day, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertSlots(t, slots, "09:00", "09:30", "10:30", "11:00", "11:30")
}

func TestGenerateSlots_PartialOverlapRejectsBothNeighbours(t *testing.T) {
	day := time.Date(2030, 3, 12, 0, 0, 0, 0, time.UTC)
	dept := clinic(NewTimeOfDay(9, 0), NewTimeOfDay(11, 0), 30*time.Minute)
	bookings := []BookingInterval{{Start: at(day, 9, 45), Duration: 30 * time.Minute}}

	slots, err := GenerateSlotsForDate(dept, bookings, day, time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertSlots(t, slots, "09:00", "10:30")
}

func TestGenerateSlots_InvertedWindowIsEmpty(t *testing.T) {
	day := time.Date(2030, 3, 12, 0, 0, 0, 0, time.UTC)
	dept := clinic(NewTimeOfDay(10, 0), NewTimeOfDay(9, 0), 30*time.Minute)

	for i := 0; i < 7; i++ {
		d := day.AddDate(0, 0, i)
		slots, err := GenerateSlotsForDate(dept, nil, d, time.Time{})
		if err != nil {
			t.Fatalf("day %d: unexpected error: %v", i, err)
		}
		if len(slots) != 0 {
			t.Fatalf("day %d: expected no slots, got %v", i, formatSlots(slots))
		}
	}

	slots, err := GenerateSlots(dept, nil, day, day.AddDate(0, 0, 7), time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots) != 0 {
		t.Fatalf("expected no slots over range, got %d", len(slots))
	}
}

func TestGenerateSlots_EqualStartEndIsEmpty(t *testing.T) {
	day := time.Date(2030, 3, 12, 0, 0, 0, 0, time.UTC)
	dept := clinic(NewTimeOfDay(9, 0), NewTimeOfDay(9, 0), 30*time.Minute)

	slots, err := GenerateSlots(dept, nil, day, day.AddDate(0, 0, 1), time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots) != 0 {
		t.Fatalf("expected no slots, got %v", formatSlots(slots))
	}
}

func TestGenerateSlots_InvalidPeriod(t *testing.T) {
	day := time.Date(2030, 3, 12, 0, 0, 0, 0, time.UTC)
	for _, period := range []time.Duration{0, -time.Minute} {
		dept := clinic(NewTimeOfDay(9, 0), NewTimeOfDay(12, 0), period)
		_, err := GenerateSlots(dept, nil, day, day.AddDate(0, 0, 1), time.Time{})
		if !errors.Is(err, ErrInvalidConfiguration) {
			t.Fatalf("period %s: expected ErrInvalidConfiguration, got %v", period, err)
		}
		if KindOf(err) != KindInvalidConfiguration {
			t.Fatalf("period %s: expected kind %s, got %s", period, KindInvalidConfiguration, KindOf(err))
		}
	}
}

func TestGenerateSlots_UnknownKind(t *testing.T) {
	day := time.Date(2030, 3, 12, 0, 0, 0, 0, time.UTC)
	dept := clinic(NewTimeOfDay(9, 0), NewTimeOfDay(12, 0), 30*time.Minute)
	dept.Kind = "pharmacy"

	_, err := GenerateSlots(dept, nil, day, day.AddDate(0, 0, 1), time.Time{})
	if !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatalf("expected ErrInvalidConfiguration, got %v", err)
	}
}

func TestGenerateSlots_FiltersPast(t *testing.T) {
	day := time.Date(2030, 3, 12, 0, 0, 0, 0, time.UTC)
	dept := clinic(NewTimeOfDay(9, 0), NewTimeOfDay(12, 0), 30*time.Minute)
	now := at(day, 10, 10)

	slots, err := GenerateSlotsForDate(dept, nil, day, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertSlots(t, slots, "10:30", "11:00", "11:30")
}

func TestGenerateSlots_SlotStartingExactlyNowIsKept(t *testing.T) {
	day := time.Date(2030, 3, 12, 0, 0, 0, 0, time.UTC)
	dept := clinic(NewTimeOfDay(9, 0), NewTimeOfDay(10, 0), 30*time.Minute)

	slots, err := GenerateSlotsForDate(dept, nil, day, at(day, 9, 30))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertSlots(t, slots, "09:30")
}

func TestGenerateSlots_DailyCountMatchesFloor(t *testing.T) {
	day := time.Date(2030, 3, 12, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		start, end TimeOfDay
		period     time.Duration
	}{
		{NewTimeOfDay(8, 0), NewTimeOfDay(17, 0), 20 * time.Minute},
		{NewTimeOfDay(9, 0), NewTimeOfDay(12, 10), 30 * time.Minute},
		{NewTimeOfDay(7, 15), NewTimeOfDay(7, 44), 30 * time.Minute},
		{NewTimeOfDay(0, 0), NewTimeOfDay(23, 59), 7 * time.Minute},
		{NewTimeOfDay(13, 0), NewTimeOfDay(14, 0), time.Hour},
	}

	for _, tc := range cases {
		dept := clinic(tc.start, tc.end, tc.period)
		want, err := CountDailySlots(dept)
		if err != nil {
			t.Fatalf("count: %v", err)
		}
		if want != int((tc.end.Duration()-tc.start.Duration())/tc.period) {
			t.Fatalf("CountDailySlots disagrees with floor for %s-%s/%s", tc.start, tc.end, tc.period)
		}
		slots, err := GenerateSlotsForDate(dept, nil, day, time.Time{})
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if len(slots) != want {
			t.Errorf("%s-%s every %s: expected %d slots, got %d", tc.start, tc.end, tc.period, want, len(slots))
		}
	}
}

func TestGenerateSlots_NeverOverlapsBookings(t *testing.T) {
	day := time.Date(2030, 3, 12, 0, 0, 0, 0, time.UTC)
	dept := clinic(NewTimeOfDay(8, 0), NewTimeOfDay(18, 0), 25*time.Minute)
	bookings := []BookingInterval{
		{Start: at(day, 8, 10), Duration: 15 * time.Minute},
		{Start: at(day, 9, 0), Duration: time.Hour},
		{Start: at(day, 12, 59), Duration: 2 * time.Minute},
		{Start: at(day.AddDate(0, 0, 1), 8, 0), Duration: 90 * time.Minute},
	}

	slots, err := GenerateSlots(dept, bookings, day, day.AddDate(0, 0, 2), time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots) == 0 {
		t.Fatal("expected some slots")
	}
	for _, s := range slots {
		end := s.Add(dept.PeriodPerAppointment)
		for _, b := range bookings {
			if !(!end.After(b.Start) || !s.Before(b.End())) {
				t.Fatalf("slot %s overlaps booking %s+%s", s, b.Start, b.Duration)
			}
		}
	}
	for i := 1; i < len(slots); i++ {
		if !slots[i-1].Before(slots[i]) {
			t.Fatalf("slots not ascending at %d: %s >= %s", i, slots[i-1], slots[i])
		}
	}
}

func TestGenerateSlots_RangeSpansDays(t *testing.T) {
	day := time.Date(2030, 3, 12, 0, 0, 0, 0, time.UTC)
	dept := clinic(NewTimeOfDay(9, 0), NewTimeOfDay(10, 0), 30*time.Minute)

	slots, err := GenerateSlots(dept, nil, day, day.AddDate(0, 0, 2).Add(23*time.Hour), time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots) != 6 {
		t.Fatalf("expected 6 slots over three days, got %d", len(slots))
	}
	if !slots[2].Equal(at(day.AddDate(0, 0, 1), 9, 0)) {
		t.Fatalf("expected third slot on the second day at 09:00, got %s", slots[2])
	}
}

func TestGenerateSlots_WindowClampedToRange(t *testing.T) {
	day := time.Date(2030, 3, 12, 0, 0, 0, 0, time.UTC)
	dept := clinic(NewTimeOfDay(9, 0), NewTimeOfDay(12, 0), 30*time.Minute)

	slots, err := GenerateSlots(dept, nil, at(day, 9, 40), at(day, 11, 0), time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertSlots(t, slots, "09:40", "10:10")
}

func TestGenerateSlots_FromAfterToIsEmpty(t *testing.T) {
	day := time.Date(2030, 3, 12, 0, 0, 0, 0, time.UTC)
	dept := clinic(NewTimeOfDay(9, 0), NewTimeOfDay(12, 0), 30*time.Minute)

	slots, err := GenerateSlots(dept, nil, day.AddDate(0, 0, 1), day, time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots) != 0 {
		t.Fatalf("expected empty, got %v", formatSlots(slots))
	}
}

func TestGenerateSlotsForDate_MatchesRangeForm(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	dept := clinic(NewTimeOfDay(8, 30), NewTimeOfDay(16, 45), 35*time.Minute)
	dept.Location = loc
	day := time.Date(2030, 3, 31, 0, 0, 0, 0, loc) // DST starts in Europe
	bookings := []BookingInterval{{Start: at(day, 10, 0), Duration: 50 * time.Minute}}
	now := at(day, 9, 0)

	single, err := GenerateSlotsForDate(dept, bookings, day, now)
	if err != nil {
		t.Fatalf("single: %v", err)
	}
	from, to := DayWindow(dept, day)
	ranged, err := GenerateSlots(dept, bookings, from, to, now)
	if err != nil {
		t.Fatalf("range: %v", err)
	}

	if len(single) != len(ranged) {
		t.Fatalf("single-date form returned %d slots, range form %d", len(single), len(ranged))
	}
	for i := range single {
		if !single[i].Equal(ranged[i]) {
			t.Fatalf("slot %d differs: %s vs %s", i, single[i], ranged[i])
		}
	}
	if got := single[0].Format("15:04"); got != "09:05" {
		t.Fatalf("expected wall-clock grid on DST day to start at 09:05 after now, got %s", got)
	}
}

func TestGenerateSlots_SameInstantsAnyOffset(t *testing.T) {
	plus3 := time.FixedZone("+03", 3*60*60)
	dept := clinic(NewTimeOfDay(9, 0), NewTimeOfDay(12, 0), 30*time.Minute)
	from := time.Date(2030, 5, 20, 0, 0, 0, 0, time.UTC)
	to := time.Date(2030, 5, 20, 23, 0, 0, 0, time.UTC)
	now := from.Add(-time.Hour)

	inUTC, err := GenerateSlots(dept, nil, from, to, now)
	if err != nil {
		t.Fatalf("utc: %v", err)
	}
	inPlus3, err := GenerateSlots(dept, nil, from.In(plus3), to.In(plus3), now.In(plus3))
	if err != nil {
		t.Fatalf("+03: %v", err)
	}

	if len(inUTC) != len(inPlus3) {
		t.Fatalf("utc query returned %d slots, +03 query %d", len(inUTC), len(inPlus3))
	}
	for i := range inUTC {
		if !inUTC[i].Equal(inPlus3[i]) {
			t.Fatalf("slot %d differs: %s vs %s", i, inUTC[i], inPlus3[i])
		}
	}
	assertSlots(t, inPlus3, "09:00", "09:30", "10:00", "10:30", "11:00", "11:30")
	if want := time.Date(2030, 5, 20, 9, 0, 0, 0, time.UTC); !inPlus3[0].Equal(want) {
		t.Fatalf("expected first slot at %s, got %s", want, inPlus3[0])
	}
}

func TestGenerateSlots_WindowInDepartmentLocation(t *testing.T) {
	plus3 := time.FixedZone("+03", 3*60*60)
	dept := clinic(NewTimeOfDay(9, 0), NewTimeOfDay(11, 0), time.Hour)
	dept.Location = plus3
	from := time.Date(2030, 5, 20, 0, 0, 0, 0, time.UTC)
	to := time.Date(2030, 5, 20, 12, 0, 0, 0, time.UTC)

	slots, err := GenerateSlots(dept, nil, from, to, from)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots) != 2 {
		t.Fatalf("expected 2 slots, got %v", formatSlots(slots))
	}
	if want := time.Date(2030, 5, 20, 6, 0, 0, 0, time.UTC); !slots[0].Equal(want) {
		t.Fatalf("expected 09:00+03 (%s), got %s", want, slots[0])
	}

	// a UTC midnight date label still names the department's calendar day
	openAt, closeAt := DayWindow(dept, time.Date(2030, 5, 20, 0, 0, 0, 0, time.UTC))
	if !openAt.Equal(slots[0]) || !closeAt.Equal(time.Date(2030, 5, 20, 8, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected day window %s - %s", openAt, closeAt)
	}
}

func TestGenerateSlots_SaturatesAtUpperBound(t *testing.T) {
	dept := clinic(NewTimeOfDay(22, 0), NewTimeOfDay(24, 0), time.Hour)
	from := time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)
	to := from.Add(1000 * 24 * time.Hour) // beyond MaxTime

	slots, err := GenerateSlots(dept, nil, from, to, time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 23:00 slot would end after MaxTime's 23:59:59.999999999
	assertSlots(t, slots, "22:00")
}
