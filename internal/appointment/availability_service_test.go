package appointment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/department-scheduling/internal/scheduling"
)

type availabilityFixture struct {
	repo *MemoryRepository
	svc  *AvailabilityService
	dept scheduling.Department
	day  time.Time
}

func newAvailabilityFixture(t *testing.T) *availabilityFixture {
	t.Helper()

	f := &availabilityFixture{
		repo: NewMemoryRepository(),
		day:  time.Date(2030, 6, 3, 0, 0, 0, 0, time.UTC),
	}
	f.dept = scheduling.Department{
		Kind:                 scheduling.KindClinic,
		Name:                 "Morning Clinic",
		StartAt:              scheduling.NewTimeOfDay(9, 0),
		EndAt:                scheduling.NewTimeOfDay(12, 0),
		PeriodPerAppointment: 30 * time.Minute,
	}
	if err := f.repo.CreateDepartment(context.Background(), &f.dept); err != nil {
		t.Fatalf("create department: %v", err)
	}

	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	f.svc = NewAvailabilityService(f.repo, 31*24*time.Hour, newTestCollector(), zap.NewNop()).
		WithClock(func() time.Time { return now })
	return f
}

func (f *availabilityFixture) book(t *testing.T, start time.Time, d time.Duration, state scheduling.AppointmentState) {
	t.Helper()
	a := &scheduling.AppointmentBooking{
		DepartmentID:     f.dept.ID,
		ScheduledStartAt: start,
		ExpectedDuration: d,
		State:            state,
	}
	if err := f.repo.CreateAppointment(context.Background(), a); err != nil {
		t.Fatalf("create appointment: %v", err)
	}
}

func clock(slots []time.Time) []string {
	out := make([]string, len(slots))
	for i, s := range slots {
		out[i] = s.Format("15:04")
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestGetAvailableSlots_FreeDay(t *testing.T) {
	f := newAvailabilityFixture(t)

	slots, err := f.svc.GetAvailableSlots(context.Background(), "clinic", f.dept.ID,
		f.day.Add(9*time.Hour), f.day.Add(12*time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"09:00", "09:30", "10:00", "10:30", "11:00", "11:30"}
	if got := clock(slots); !equalStrings(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestGetAvailableSlots_SkipsBookingsButNotCancelled(t *testing.T) {
	f := newAvailabilityFixture(t)
	f.book(t, f.day.Add(10*time.Hour), 30*time.Minute, scheduling.StateNotStarted)
	f.book(t, f.day.Add(11*time.Hour), 30*time.Minute, scheduling.StateCancelled)

	slots, err := f.svc.GetAvailableSlots(context.Background(), "clinic", f.dept.ID,
		f.day.Add(9*time.Hour), f.day.Add(12*time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"09:00", "09:30", "10:30", "11:00", "11:30"}
	if got := clock(slots); !equalStrings(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestGetAvailableSlots_Failures(t *testing.T) {
	f := newAvailabilityFixture(t)
	ctx := context.Background()
	from, to := f.day, f.day.Add(24*time.Hour)

	broken := scheduling.Department{
		Kind:                 scheduling.KindRadiologyCenter,
		StartAt:              scheduling.NewTimeOfDay(9, 0),
		EndAt:                scheduling.NewTimeOfDay(10, 0),
		PeriodPerAppointment: 0,
	}
	if err := f.repo.CreateDepartment(ctx, &broken); err != nil {
		t.Fatalf("create department: %v", err)
	}

	cases := []struct {
		name string
		kind string
		id   uuid.UUID
		from time.Time
		to   time.Time
		want scheduling.ErrorKind
	}{
		{"unknown kind", "pharmacy", f.dept.ID, from, to, scheduling.KindUnsupportedType},
		{"missing department", "clinic", uuid.New(), from, to, scheduling.KindNotFound},
		{"kind mismatch", "medical_lab", f.dept.ID, from, to, scheduling.KindNotFound},
		{"inverted range", "clinic", f.dept.ID, to, from, scheduling.KindInvalidArgument},
		{"range too wide", "clinic", f.dept.ID, from, from.Add(90 * 24 * time.Hour), scheduling.KindInvalidArgument},
		{"zero period", "radiology_center", broken.ID, from, to, scheduling.KindInvalidConfiguration},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.GetAvailableSlots(ctx, tc.kind, tc.id, tc.from, tc.to)
			if got := scheduling.KindOf(err); got != tc.want {
				t.Fatalf("expected %s, got %s (%v)", tc.want, got, err)
			}
		})
	}
}

func TestGetAvailableSlots_InvertedWindowIsEmpty(t *testing.T) {
	f := newAvailabilityFixture(t)
	ctx := context.Background()

	inverted := scheduling.Department{
		Kind:                 scheduling.KindClinic,
		StartAt:              scheduling.NewTimeOfDay(10, 0),
		EndAt:                scheduling.NewTimeOfDay(9, 0),
		PeriodPerAppointment: 30 * time.Minute,
	}
	if err := f.repo.CreateDepartment(ctx, &inverted); err != nil {
		t.Fatalf("create department: %v", err)
	}

	slots, err := f.svc.GetAvailableSlots(ctx, "clinic", inverted.ID, f.day, f.day.Add(72*time.Hour))
	if err != nil || len(slots) != 0 {
		t.Fatalf("expected no slots and no error, got %v, %v", slots, err)
	}

	slots, err = f.svc.GetAvailableSlotsForDate(ctx, "clinic", inverted.ID, f.day)
	if err != nil || len(slots) != 0 {
		t.Fatalf("date form: expected no slots and no error, got %v, %v", slots, err)
	}
}

func TestGetAvailableSlotsForDate_MatchesRangeForm(t *testing.T) {
	f := newAvailabilityFixture(t)
	ctx := context.Background()
	f.book(t, f.day.Add(9*time.Hour+45*time.Minute), 20*time.Minute, scheduling.StateInProgress)

	byDate, err := f.svc.ListSlotsForDate(ctx, "Clinic", f.dept.ID, f.day.Add(15*time.Hour))
	if err != nil {
		t.Fatalf("date form: %v", err)
	}
	byRange, err := f.svc.ListSlots(ctx, "clinic", f.dept.ID, f.day.Add(9*time.Hour), f.day.Add(12*time.Hour))
	if err != nil {
		t.Fatalf("range form: %v", err)
	}

	if !equalStrings(clock(byDate.Starts), clock(byRange.Starts)) {
		t.Fatalf("forms diverge: %v vs %v", clock(byDate.Starts), clock(byRange.Starts))
	}
	if want := []string{"09:00", "10:30", "11:00", "11:30"}; !equalStrings(clock(byDate.Starts), want) {
		t.Fatalf("expected %v, got %v", want, clock(byDate.Starts))
	}

	slots := byDate.Slots()
	if !slots[0].End.Equal(slots[0].Start.Add(30 * time.Minute)) {
		t.Fatalf("slot end should be start + period, got %v", slots[0])
	}
}

func TestListSlots_ConfiguredLocation(t *testing.T) {
	f := newAvailabilityFixture(t)
	ctx := context.Background()
	plus3 := time.FixedZone("+03", 3*60*60)
	f.svc.WithLocation(plus3)

	// the department opens 09:00+03, i.e. 06:00 UTC
	opening := time.Date(2030, 6, 3, 6, 0, 0, 0, time.UTC)
	from, to := f.day, f.day.Add(12*time.Hour)

	inUTC, err := f.svc.ListSlots(ctx, "clinic", f.dept.ID, from, to)
	if err != nil {
		t.Fatalf("utc range: %v", err)
	}
	inPlus3, err := f.svc.ListSlots(ctx, "clinic", f.dept.ID, from.In(plus3), to.In(plus3))
	if err != nil {
		t.Fatalf("+03 range: %v", err)
	}
	byDate, err := f.svc.ListSlotsForDate(ctx, "clinic", f.dept.ID, f.day)
	if err != nil {
		t.Fatalf("date form: %v", err)
	}

	for name, got := range map[string][]time.Time{"utc": inUTC.Starts, "+03": inPlus3.Starts, "date": byDate.Starts} {
		if len(got) != 6 {
			t.Fatalf("%s: expected 6 slots, got %v", name, clock(got))
		}
		if !got[0].Equal(opening) {
			t.Fatalf("%s: expected first slot at %s, got %s", name, opening, got[0])
		}
		for i := range got {
			if !got[i].Equal(inUTC.Starts[i]) {
				t.Fatalf("%s: slot %d differs from utc query: %s vs %s", name, i, got[i], inUTC.Starts[i])
			}
		}
	}
}

func TestGetAvailableSlots_RepositoryFaultIsInternal(t *testing.T) {
	f := newAvailabilityFixture(t)
	svc := NewAvailabilityService(brokenReader{f.repo}, time.Hour*24, newTestCollector(), zap.NewNop())

	_, err := svc.GetAvailableSlots(context.Background(), "clinic", f.dept.ID, f.day, f.day.Add(time.Hour))
	if scheduling.KindOf(err) != scheduling.KindInternal {
		t.Fatalf("expected internal error, got %v", err)
	}
}

type brokenReader struct {
	*MemoryRepository
}

func (brokenReader) FindBookingIntervalsInRange(context.Context, uuid.UUID, time.Time, time.Time) ([]scheduling.BookingInterval, error) {
	return nil, errors.New("read tcp: i/o timeout")
}
