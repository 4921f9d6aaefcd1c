package scheduling

import (
	"cmp"
	"fmt"
	"slices"
	"time"
)

// Lead is the gap between "now" and the earliest assignable start.
const Lead = time.Minute

// Policy names a queue ordering strategy.
type Policy string

const (
	PolicyArrivalOrder          Policy = "arrival_order"
	PolicyDepartmentWindowOrder Policy = "department_window_order"
)

// Reorderer recomputes ActualStartAt for every member of a queue in place.
// Implementations must be idempotent for an unchanged now and membership.
type Reorderer interface {
	Policy() Policy
	Reorder(q *Queue, now time.Time)
}

// NewReorderer selects a policy by name.
func NewReorderer(p Policy) (Reorderer, error) {
	switch p {
	case PolicyArrivalOrder, "":
		return ArrivalOrder{}, nil
	case PolicyDepartmentWindowOrder:
		return DepartmentWindowOrder{}, nil
	}
	return nil, fmt.Errorf("%w: unknown reorder policy %q", ErrInvalidConfiguration, p)
}

// ArrivalOrder keeps members in the order they reached the queue and packs
// them back to back starting one minute from now.
type ArrivalOrder struct{}

func (ArrivalOrder) Policy() Policy { return PolicyArrivalOrder }

func (ArrivalOrder) Reorder(q *Queue, now time.Time) {
	sortMembers(q.Members, func(a *AppointmentBooking) time.Time {
		return a.EffectiveStart()
	})

	cursor := SaturatingAdd(now, Lead)
	for _, m := range q.Members {
		if cursor.Before(now) {
			cursor = SaturatingAdd(now, Lead)
		}
		at := cursor
		m.ActualStartAt = &at
		cursor = SaturatingAdd(cursor, q.PeriodPerAppointment)
	}
}

// DepartmentWindowOrder lays members on today's department window grid, where
// "today" is now's calendar day in the queue's location. Members that do not
// fit before closing are left unscheduled (nil).
type DepartmentWindowOrder struct{}

func (DepartmentWindowOrder) Policy() Policy { return PolicyDepartmentWindowOrder }

func (DepartmentWindowOrder) Reorder(q *Queue, now time.Time) {
	sortMembers(q.Members, func(a *AppointmentBooking) time.Time {
		return minTime(now, a.ScheduledStartAt)
	})

	today := now.In(q.Loc())
	openAt := q.DepartmentStartAt.On(today)
	closeAt := q.DepartmentEndAt.On(today)
	base := firstGridPointNotBefore(openAt, now, q.PeriodPerAppointment)

	// proposed_i = base + i*period, accumulated with saturating steps
	proposed := base
	for _, m := range q.Members {
		if proposed.After(closeAt) {
			m.ActualStartAt = nil
		} else {
			at := proposed
			m.ActualStartAt = &at
		}
		proposed = SaturatingAdd(proposed, q.PeriodPerAppointment)
	}
}

// firstGridPointNotBefore returns openAt when it is not in the past, otherwise
// the first openAt+k*period at or after now.
func firstGridPointNotBefore(openAt, now time.Time, period time.Duration) time.Time {
	if !openAt.Before(now) || period <= 0 {
		return openAt
	}
	elapsed := now.Sub(openAt)
	steps := elapsed / period
	if elapsed%period != 0 {
		steps++
	}
	return SaturatingAdd(openAt, steps*period)
}

// sortMembers orders by key, then ScheduledStartAt, then ID so the order is
// total and repeated runs agree.
func sortMembers(members []*AppointmentBooking, key func(*AppointmentBooking) time.Time) {
	slices.SortStableFunc(members, func(a, b *AppointmentBooking) int {
		if c := key(a).Compare(key(b)); c != 0 {
			return c
		}
		if c := a.ScheduledStartAt.Compare(b.ScheduledStartAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
}

// NextAvailableHint is the latest future ActualStartAt plus one period, or
// now+Lead when no member is scheduled in the future.
func NextAvailableHint(q *Queue, now time.Time) time.Time {
	var latest *time.Time
	for _, m := range q.Members {
		if m.ActualStartAt == nil || !m.ActualStartAt.After(now) {
			continue
		}
		if latest == nil || m.ActualStartAt.After(*latest) {
			t := *m.ActualStartAt
			latest = &t
		}
	}
	if latest == nil {
		return SaturatingAdd(now, Lead)
	}
	return SaturatingAdd(*latest, q.PeriodPerAppointment)
}

// CheckQueue verifies that assigned members do not overlap and none starts
// before now.
func CheckQueue(q *Queue, now time.Time) error {
	assigned := make([]time.Time, 0, len(q.Members))
	for _, m := range q.Members {
		if m.ActualStartAt == nil {
			continue
		}
		if m.ActualStartAt.Before(now) {
			return fmt.Errorf("%w: appointment %s starts at %s, before %s",
				ErrOverlappingSchedule, m.ID, m.ActualStartAt.Format(time.RFC3339), now.Format(time.RFC3339))
		}
		assigned = append(assigned, *m.ActualStartAt)
	}
	slices.SortFunc(assigned, func(a, b time.Time) int { return a.Compare(b) })

	for i := 1; i < len(assigned); i++ {
		if SaturatingAdd(assigned[i-1], q.PeriodPerAppointment).After(assigned[i]) {
			return fmt.Errorf("%w: %s and %s are closer than %s",
				ErrOverlappingSchedule, assigned[i-1].Format(time.RFC3339),
				assigned[i].Format(time.RFC3339), q.PeriodPerAppointment)
		}
	}
	return nil
}
