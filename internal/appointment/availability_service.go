package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/department-scheduling/internal/metrics"
	"github.com/hackgods/department-scheduling/internal/scheduling"
)

// AvailabilityService answers free-slot queries. It never writes and takes no
// locks; a returned slot may be claimed concurrently.
type AvailabilityService struct {
	repo     Repository
	maxRange time.Duration
	loc      *time.Location
	metrics  *metrics.Collector
	log      *zap.Logger
	now      func() time.Time
}

func NewAvailabilityService(repo Repository, maxRange time.Duration, collector *metrics.Collector, log *zap.Logger) *AvailabilityService {
	return &AvailabilityService{
		repo:     repo,
		maxRange: maxRange,
		loc:      time.UTC,
		metrics:  collector,
		log:      log,
		now:      time.Now,
	}
}

// WithClock replaces the time source. Tests pin it to a fixed instant.
func (s *AvailabilityService) WithClock(now func() time.Time) *AvailabilityService {
	s.now = now
	return s
}

// WithLocation sets the zone department windows are read in.
func (s *AvailabilityService) WithLocation(loc *time.Location) *AvailabilityService {
	if loc != nil {
		s.loc = loc
	}
	return s
}

// GetAvailableSlots returns free slot start times of the department in
// [from, to], ascending, none earlier than the current time.
func (s *AvailabilityService) GetAvailableSlots(ctx context.Context, kind string, departmentID uuid.UUID, from, to time.Time) ([]time.Time, error) {
	av, err := s.ListSlots(ctx, kind, departmentID, from, to)
	if err != nil {
		return nil, err
	}
	return av.Starts, nil
}

// ListSlots is GetAvailableSlots plus the department, for callers that render
// slot ends.
func (s *AvailabilityService) ListSlots(ctx context.Context, kind string, departmentID uuid.UUID, from, to time.Time) (*Availability, error) {
	now := s.now()

	k, err := scheduling.ParseKind(kind)
	if err != nil {
		return nil, err
	}
	if err := s.validateRange(from, to); err != nil {
		return nil, err
	}

	return s.generate(ctx, k, departmentID, now, func(*scheduling.Department) (time.Time, time.Time) {
		return from, to
	})
}

// ListSlotsForDate bounds the query by the department's own window on the
// calendar day written in date, taken in the configured location.
func (s *AvailabilityService) ListSlotsForDate(ctx context.Context, kind string, departmentID uuid.UUID, date time.Time) (*Availability, error) {
	now := s.now()

	k, err := scheduling.ParseKind(kind)
	if err != nil {
		return nil, err
	}

	return s.generate(ctx, k, departmentID, now, func(dept *scheduling.Department) (time.Time, time.Time) {
		return scheduling.DayWindow(*dept, date)
	})
}

func (s *AvailabilityService) GetAvailableSlotsForDate(ctx context.Context, kind string, departmentID uuid.UUID, date time.Time) ([]time.Time, error) {
	av, err := s.ListSlotsForDate(ctx, kind, departmentID, date)
	if err != nil {
		return nil, err
	}
	return av.Starts, nil
}

// generate loads the department, resolves the query bounds for it and runs the
// slot generator. The single-date form goes through the same path so both
// forms agree on boundaries.
func (s *AvailabilityService) generate(ctx context.Context, kind scheduling.Kind, departmentID uuid.UUID, now time.Time, bounds func(*scheduling.Department) (time.Time, time.Time)) (*Availability, error) {
	started := time.Now()
	defer func() {
		s.metrics.SlotQueryDuration.WithLabelValues(string(kind)).Observe(time.Since(started).Seconds())
	}()

	dept, err := s.repo.FindDepartment(ctx, kind, departmentID)
	if err != nil {
		return nil, scheduling.Wrap("load department", err)
	}
	dept.Location = s.loc
	if err := dept.Validate(); err != nil {
		return nil, err
	}

	from, to := bounds(dept)
	if to.Before(from) {
		// inverted department window: no slots, and nothing to load
		return &Availability{Department: *dept, Starts: []time.Time{}}, nil
	}

	bookings, err := s.repo.FindBookingIntervalsInRange(ctx, dept.ID, from, to)
	if err != nil {
		return nil, scheduling.Wrap("load booking intervals", err)
	}

	starts, err := scheduling.GenerateSlots(*dept, bookings, from, to, now)
	if err != nil {
		return nil, err
	}

	s.metrics.SlotsReturned.Observe(float64(len(starts)))
	s.log.Debug("slots generated",
		zap.String("department_id", dept.ID.String()),
		zap.String("kind", string(kind)),
		zap.Time("from", from),
		zap.Time("to", to),
		zap.Time("now", now),
		zap.Int("bookings", len(bookings)),
		zap.Int("slots", len(starts)),
	)

	return &Availability{Department: *dept, Starts: starts}, nil
}

func (s *AvailabilityService) validateRange(from, to time.Time) error {
	if from.IsZero() || to.IsZero() {
		return fmt.Errorf("%w: from and to are required", scheduling.ErrInvalidArgument)
	}
	if to.Before(from) {
		return fmt.Errorf("%w: from %s is after to %s", scheduling.ErrInvalidArgument,
			from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	if to.Sub(from) > s.maxRange {
		return fmt.Errorf("%w: range %s exceeds maximum %s", scheduling.ErrInvalidArgument,
			to.Sub(from), s.maxRange)
	}
	return nil
}
