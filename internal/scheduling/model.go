package scheduling

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind discriminates the three department variants.
type Kind string

const (
	KindClinic          Kind = "clinic"
	KindMedicalLab      Kind = "medical_lab"
	KindRadiologyCenter Kind = "radiology_center"
)

// Kinds lists every recognized department kind.
var Kinds = []Kind{KindClinic, KindMedicalLab, KindRadiologyCenter}

// IsValid reports whether k is one of Kinds.
func (k Kind) IsValid() bool {
	switch k {
	case KindClinic, KindMedicalLab, KindRadiologyCenter:
		return true
	}
	return false
}

// ParseKind accepts the canonical value plus a few spellings used by callers
// (e.g. "MedicalLab", "radiology-center").
func ParseKind(raw string) (Kind, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = strings.NewReplacer("-", "_", " ", "_").Replace(normalized)

	switch normalized {
	case "clinic":
		return KindClinic, nil
	case "medical_lab", "medicallab", "lab":
		return KindMedicalLab, nil
	case "radiology_center", "radiologycenter", "radiology":
		return KindRadiologyCenter, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedType, raw)
}

// TimeOfDay is an offset from local midnight.
type TimeOfDay time.Duration

func NewTimeOfDay(hour, minute int) TimeOfDay {
	return TimeOfDay(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

// ParseTimeOfDay parses "HH:MM" or "HH:MM:SS".
func ParseTimeOfDay(raw string) (TimeOfDay, error) {
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return TimeOfDay(time.Duration(t.Hour())*time.Hour +
				time.Duration(t.Minute())*time.Minute +
				time.Duration(t.Second())*time.Second), nil
		}
	}
	return 0, fmt.Errorf("%w: time of day %q", ErrInvalidArgument, raw)
}

func (t TimeOfDay) Duration() time.Duration { return time.Duration(t) }

func (t TimeOfDay) String() string {
	d := time.Duration(t)
	return fmt.Sprintf("%02d:%02d", int(d/time.Hour), int(d%time.Hour/time.Minute))
}

// On returns the wall-clock instant at this offset on day's calendar day,
// clamped to the representable range. time.Date normalizes the nanosecond
// field, so 09:00 stays 09:00 on DST transition days.
func (t TimeOfDay) On(day time.Time) time.Time {
	at := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, int(t), day.Location())
	return ClampTime(at, MinTime, MaxTime)
}

type Department struct {
	ID                   uuid.UUID
	Kind                 Kind
	Name                 string
	StartAt              TimeOfDay
	EndAt                TimeOfDay
	PeriodPerAppointment time.Duration
	// Location anchors StartAt and EndAt to wall clock. Nil means UTC.
	Location  *time.Location
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Loc returns the department's time zone.
func (d *Department) Loc() *time.Location {
	return locOrUTC(d.Location)
}

func locOrUTC(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}

// Validate reports configuration that makes slot generation impossible.
// An inverted window is not an error; it simply produces no slots.
func (d *Department) Validate() error {
	if !d.Kind.IsValid() {
		return fmt.Errorf("%w: department %s kind %q", ErrInvalidConfiguration, d.ID, d.Kind)
	}
	if d.PeriodPerAppointment <= 0 {
		return fmt.Errorf("%w: department %s period_per_appointment=%s",
			ErrInvalidConfiguration, d.ID, d.PeriodPerAppointment)
	}
	return nil
}

// HasOpenWindow is false when StartAt >= EndAt.
func (d *Department) HasOpenWindow() bool {
	return d.StartAt < d.EndAt
}

// BookingInterval is the read-only projection of an appointment used for
// overlap testing.
type BookingInterval struct {
	Start    time.Time
	Duration time.Duration
}

func (b BookingInterval) End() time.Time {
	return SaturatingAdd(b.Start, b.Duration)
}

type AppointmentState string

const (
	StateNotStarted AppointmentState = "not_started"
	StateInProgress AppointmentState = "in_progress"
	StateCompleted  AppointmentState = "completed"
	StateCancelled  AppointmentState = "cancelled"
)

func (s AppointmentState) IsValid() bool {
	switch s {
	case StateNotStarted, StateInProgress, StateCompleted, StateCancelled:
		return true
	}
	return false
}

// IsClosed is true for bookings that can no longer join a queue.
func (s AppointmentState) IsClosed() bool {
	return s == StateCompleted || s == StateCancelled
}

type AppointmentBooking struct {
	ID               uuid.UUID
	DepartmentID     uuid.UUID
	Kind             Kind
	ScheduledStartAt time.Time
	ActualStartAt    *time.Time
	ExpectedDuration time.Duration
	State            AppointmentState
	QueueID          *uuid.UUID
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// EffectiveStart is ActualStartAt when assigned, ScheduledStartAt otherwise.
func (a *AppointmentBooking) EffectiveStart() time.Time {
	if a.ActualStartAt != nil {
		return *a.ActualStartAt
	}
	return a.ScheduledStartAt
}

func (a *AppointmentBooking) InQueue(queueID uuid.UUID) bool {
	return a.QueueID != nil && *a.QueueID == queueID
}

// Interval projects the booking for overlap checks.
func (a *AppointmentBooking) Interval() BookingInterval {
	return BookingInterval{Start: a.EffectiveStart(), Duration: a.ExpectedDuration}
}

// Clone returns a deep copy so callers can mutate without aliasing.
func (a *AppointmentBooking) Clone() *AppointmentBooking {
	c := *a
	if a.ActualStartAt != nil {
		t := *a.ActualStartAt
		c.ActualStartAt = &t
	}
	if a.QueueID != nil {
		id := *a.QueueID
		c.QueueID = &id
	}
	return &c
}

type Queue struct {
	ID                   uuid.UUID
	DepartmentID         uuid.UUID
	Kind                 Kind
	DepartmentStartAt    TimeOfDay
	DepartmentEndAt      TimeOfDay
	PeriodPerAppointment time.Duration
	// Location is the department's zone; DepartmentWindowOrder reads the
	// window in it. Nil means UTC.
	Location  *time.Location
	Version   int64
	Members   []*AppointmentBooking
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (q *Queue) Loc() *time.Location {
	return locOrUTC(q.Location)
}

func (q *Queue) Validate() error {
	if q.PeriodPerAppointment <= 0 {
		return fmt.Errorf("%w: queue %s period_per_appointment=%s",
			ErrInvalidConfiguration, q.ID, q.PeriodPerAppointment)
	}
	return nil
}

func (q *Queue) HasMember(appointmentID uuid.UUID) bool {
	for _, m := range q.Members {
		if m.ID == appointmentID {
			return true
		}
	}
	return false
}

// Attach links the booking to the queue and appends it to Members.
func (q *Queue) Attach(a *AppointmentBooking) {
	id := q.ID
	a.QueueID = &id
	q.Members = append(q.Members, a)
}

type Slot struct {
	Start time.Time
	End   time.Time
}

// SlotsFromStarts expands generator output into [start, start+period) values.
func SlotsFromStarts(starts []time.Time, period time.Duration) []Slot {
	out := make([]Slot, 0, len(starts))
	for _, s := range starts {
		out = append(out, Slot{Start: s, End: SaturatingAdd(s, period)})
	}
	return out
}
