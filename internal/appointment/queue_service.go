package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/department-scheduling/internal/events"
	"github.com/hackgods/department-scheduling/internal/metrics"
	redisclient "github.com/hackgods/department-scheduling/internal/redis"
	"github.com/hackgods/department-scheduling/internal/scheduling"
)

// QueueService is the only component that mutates queues and bookings.
//
// Every write reads the clock once, validates, takes the per-queue lock and
// runs inside one repository transaction in which the queue row is re-read for
// update and its version bumped. Events are published only after commit.
type QueueService struct {
	repo      Repository
	locker    redisclient.Locker
	reorderer scheduling.Reorderer
	publisher events.Publisher
	metrics   *metrics.Collector
	log       *zap.Logger
	now       func() time.Time
	loc       *time.Location
}

func NewQueueService(
	repo Repository,
	locker redisclient.Locker,
	reorderer scheduling.Reorderer,
	publisher events.Publisher,
	collector *metrics.Collector,
	log *zap.Logger,
) *QueueService {
	return &QueueService{
		repo:      repo,
		locker:    locker,
		reorderer: reorderer,
		publisher: publisher,
		metrics:   collector,
		log:       log,
		now:       time.Now,
		loc:       time.UTC,
	}
}

// WithClock replaces the time source. Tests pin it to a fixed instant.
func (s *QueueService) WithClock(now func() time.Time) *QueueService {
	s.now = now
	return s
}

// WithLocation sets the zone department windows are read in when queues are
// reordered.
func (s *QueueService) WithLocation(loc *time.Location) *QueueService {
	if loc != nil {
		s.loc = loc
	}
	return s
}

// Policy reports the reordering strategy in use.
func (s *QueueService) Policy() scheduling.Policy {
	return s.reorderer.Policy()
}

// AddAppointmentToQueue attaches the booking to the queue and re-normalizes
// every member. The returned queue reflects the committed state.
func (s *QueueService) AddAppointmentToQueue(ctx context.Context, appointmentID, queueID uuid.UUID) (*scheduling.Queue, error) {
	const op = "add_appointment"
	now := s.now()
	started := time.Now()

	var result *scheduling.Queue
	var pending []events.Event

	err := s.withQueue(ctx, queueID, func(ctx context.Context, tx Repository) error {
		q, err := tx.FindQueue(ctx, queueID)
		if err != nil {
			return err
		}
		appt, err := tx.FindAppointment(ctx, appointmentID)
		if err != nil {
			return err
		}

		switch {
		case q.HasMember(appt.ID) || appt.InQueue(q.ID):
			return scheduling.ErrAlreadyInQueue
		case appt.QueueID != nil:
			return scheduling.ErrInAnotherQueue
		case appt.State.IsClosed():
			return scheduling.ErrAppointmentClosed
		case appt.DepartmentID != q.DepartmentID:
			return scheduling.ErrDepartmentMismatch
		}

		// the hint only places the newcomer behind current members;
		// Reorder decides the final times
		hint := scheduling.NextAvailableHint(q, now)
		appt.ActualStartAt = &hint
		q.Attach(appt)

		if err := s.reorderAndSave(ctx, tx, q, now); err != nil {
			return err
		}

		ev := s.event(EventQueueAppointmentAdded, &q.ID, &appt.ID, now, map[string]any{
			"policy":          s.reorderer.Policy(),
			"members":         len(q.Members),
			"actual_start_at": appt.ActualStartAt,
			"queue_version":   q.Version,
		})
		if err := s.record(ctx, tx, ev); err != nil {
			return err
		}

		result = q
		pending = append(pending, ev)
		return nil
	})

	s.finish(ctx, op, started, err, pending)
	if err != nil {
		return nil, scheduling.Wrap("add appointment to queue", err)
	}

	s.log.Info("appointment added to queue",
		zap.String("queue_id", queueID.String()),
		zap.String("appointment_id", appointmentID.String()),
		zap.Int("members", len(result.Members)),
	)
	return result, nil
}

// RemoveAppointmentFromQueue clears the booking's queue reference and
// re-normalizes what remains of its former queue. A booking that is in no
// queue is left as is. ActualStartAt of the removed booking is not touched.
func (s *QueueService) RemoveAppointmentFromQueue(ctx context.Context, appointmentID uuid.UUID) (*scheduling.AppointmentBooking, error) {
	const op = "remove_appointment"
	now := s.now()
	started := time.Now()

	appt, err := s.repo.FindAppointment(ctx, appointmentID)
	if err != nil {
		s.finish(ctx, op, started, err, nil)
		return nil, scheduling.Wrap("remove appointment from queue", err)
	}
	if appt.QueueID == nil {
		s.finish(ctx, op, started, nil, nil)
		return appt, nil
	}
	queueID := *appt.QueueID

	var result *scheduling.AppointmentBooking
	var pending []events.Event

	err = s.withQueue(ctx, queueID, func(ctx context.Context, tx Repository) error {
		current, err := tx.FindAppointment(ctx, appointmentID)
		if err != nil {
			return err
		}
		if current.QueueID == nil {
			result = current
			return nil
		}
		if *current.QueueID != queueID {
			// moved between our read and taking the lock
			return scheduling.ErrConcurrentUpdate
		}

		current.QueueID = nil
		if err := tx.SaveAppointment(ctx, current); err != nil {
			return err
		}

		payload := map[string]any{"policy": s.reorderer.Policy()}
		q, err := tx.FindQueue(ctx, queueID)
		switch {
		case errors.Is(err, scheduling.ErrQueueNotFound):
		case err != nil:
			return err
		default:
			if err := s.reorderAndSave(ctx, tx, q, now); err != nil {
				return err
			}
			payload["members"] = len(q.Members)
			payload["queue_version"] = q.Version
		}

		ev := s.event(EventQueueAppointmentRemoved, &queueID, &current.ID, now, payload)
		if err := s.record(ctx, tx, ev); err != nil {
			return err
		}

		result = current
		pending = append(pending, ev)
		return nil
	})

	s.finish(ctx, op, started, err, pending)
	if err != nil {
		return nil, scheduling.Wrap("remove appointment from queue", err)
	}
	return result, nil
}

// SwapAppointments exchanges ScheduledStartAt of two bookings of the given
// department kind. Queue membership and ActualStartAt are left unchanged. If
// either lookup fails nothing is written.
func (s *QueueService) SwapAppointments(ctx context.Context, firstID, secondID uuid.UUID, kind string) (*SwapResult, error) {
	const op = "swap_appointments"
	now := s.now()
	started := time.Now()

	k, err := scheduling.ParseKind(kind)
	if err != nil {
		s.finish(ctx, op, started, err, nil)
		return nil, err
	}
	if firstID == secondID {
		err := fmt.Errorf("%w: cannot swap an appointment with itself", scheduling.ErrInvalidArgument)
		s.finish(ctx, op, started, err, nil)
		return nil, err
	}

	// queue ids are only used to pick locks; membership is re-read in the tx
	var lockIDs []uuid.UUID
	for _, id := range []uuid.UUID{firstID, secondID} {
		a, err := s.repo.FindAppointmentOfKind(ctx, id, k)
		if err != nil {
			s.finish(ctx, op, started, err, nil)
			return nil, scheduling.Wrap("swap appointments", err)
		}
		if a.QueueID != nil {
			lockIDs = append(lockIDs, *a.QueueID)
		}
	}

	var result *SwapResult
	var pending []events.Event

	err = s.withQueues(ctx, lockIDs, func(ctx context.Context, tx Repository) error {
		first, err := tx.FindAppointmentOfKind(ctx, firstID, k)
		if err != nil {
			return err
		}
		second, err := tx.FindAppointmentOfKind(ctx, secondID, k)
		if err != nil {
			return err
		}

		first.ScheduledStartAt, second.ScheduledStartAt = second.ScheduledStartAt, first.ScheduledStartAt

		if err := tx.SaveAppointment(ctx, first); err != nil {
			return err
		}
		if err := tx.SaveAppointment(ctx, second); err != nil {
			return err
		}

		ev := s.event(EventAppointmentsSwapped, first.QueueID, &first.ID, now, map[string]any{
			"kind":                   k,
			"other_appointment_id":   second.ID,
			"other_queue_id":         second.QueueID,
			"first_scheduled_start":  first.ScheduledStartAt,
			"second_scheduled_start": second.ScheduledStartAt,
		})
		if err := s.record(ctx, tx, ev); err != nil {
			return err
		}

		result = &SwapResult{First: first, Second: second}
		pending = append(pending, ev)
		return nil
	})

	s.finish(ctx, op, started, err, pending)
	if err != nil {
		return nil, scheduling.Wrap("swap appointments", err)
	}
	return result, nil
}

// CreateQueue opens the single queue of a department. period 0 inherits the
// department's period; a negative period is rejected.
func (s *QueueService) CreateQueue(ctx context.Context, departmentID uuid.UUID, kind string, period time.Duration) (*scheduling.Queue, error) {
	const op = "create_queue"
	now := s.now()
	started := time.Now()

	k, err := scheduling.ParseKind(kind)
	if err != nil {
		s.finish(ctx, op, started, err, nil)
		return nil, err
	}
	if period < 0 {
		err := fmt.Errorf("%w: period_per_appointment=%s", scheduling.ErrInvalidConfiguration, period)
		s.finish(ctx, op, started, err, nil)
		return nil, err
	}

	var result *scheduling.Queue
	var pending []events.Event

	err = s.repo.WithinTx(ctx, func(ctx context.Context, tx Repository) error {
		dept, err := tx.FindDepartment(ctx, k, departmentID)
		if err != nil {
			return err
		}

		_, err = tx.FindQueueByDepartment(ctx, departmentID)
		switch {
		case err == nil:
			return scheduling.ErrQueueExists
		case !errors.Is(err, scheduling.ErrQueueNotFound):
			return err
		}

		q := &scheduling.Queue{
			ID:                   uuid.New(),
			DepartmentID:         dept.ID,
			Kind:                 dept.Kind,
			DepartmentStartAt:    dept.StartAt,
			DepartmentEndAt:      dept.EndAt,
			PeriodPerAppointment: period,
			Location:             s.loc,
		}
		if q.PeriodPerAppointment == 0 {
			q.PeriodPerAppointment = dept.PeriodPerAppointment
		}
		if err := q.Validate(); err != nil {
			return err
		}

		if err := tx.CreateQueue(ctx, q); err != nil {
			return err
		}

		ev := s.event(EventQueueCreated, &q.ID, nil, now, map[string]any{
			"department_id":          dept.ID,
			"kind":                   dept.Kind,
			"period_per_appointment": q.PeriodPerAppointment.String(),
		})
		if err := s.record(ctx, tx, ev); err != nil {
			return err
		}

		result = q
		pending = append(pending, ev)
		return nil
	})

	s.finish(ctx, op, started, err, pending)
	if err != nil {
		return nil, scheduling.Wrap("create queue", err)
	}

	s.log.Info("queue created",
		zap.String("queue_id", result.ID.String()),
		zap.String("department_id", departmentID.String()),
		zap.Duration("period", result.PeriodPerAppointment),
	)
	return result, nil
}

// DeleteQueue removes an empty queue.
func (s *QueueService) DeleteQueue(ctx context.Context, queueID uuid.UUID) error {
	const op = "delete_queue"
	now := s.now()
	started := time.Now()

	var pending []events.Event

	err := s.withQueue(ctx, queueID, func(ctx context.Context, tx Repository) error {
		q, err := tx.FindQueue(ctx, queueID)
		if err != nil {
			return err
		}
		if len(q.Members) > 0 {
			return fmt.Errorf("%w (%d members)", scheduling.ErrQueueNotEmpty, len(q.Members))
		}
		if err := tx.DeleteQueue(ctx, queueID); err != nil {
			return err
		}

		ev := s.event(EventQueueDeleted, &q.ID, nil, now, map[string]any{
			"department_id": q.DepartmentID,
		})
		if err := s.record(ctx, tx, ev); err != nil {
			return err
		}
		pending = append(pending, ev)
		return nil
	})

	s.finish(ctx, op, started, err, pending)
	if err != nil {
		return scheduling.Wrap("delete queue", err)
	}
	return nil
}

// ReorderQueue re-normalizes a queue against the current time without
// changing its membership.
func (s *QueueService) ReorderQueue(ctx context.Context, queueID uuid.UUID) (*scheduling.Queue, error) {
	const op = "reorder_queue"
	now := s.now()
	started := time.Now()

	var result *scheduling.Queue
	var pending []events.Event

	err := s.withQueue(ctx, queueID, func(ctx context.Context, tx Repository) error {
		q, err := tx.FindQueue(ctx, queueID)
		if err != nil {
			return err
		}
		if err := s.reorderAndSave(ctx, tx, q, now); err != nil {
			return err
		}

		ev := s.event(EventQueueReordered, &q.ID, nil, now, map[string]any{
			"policy":        s.reorderer.Policy(),
			"members":       len(q.Members),
			"queue_version": q.Version,
		})
		if err := s.record(ctx, tx, ev); err != nil {
			return err
		}

		result = q
		pending = append(pending, ev)
		return nil
	})

	s.finish(ctx, op, started, err, pending)
	if err != nil {
		return nil, scheduling.Wrap("reorder queue", err)
	}
	return result, nil
}

// DeleteAppointment is the hook for external deletion of a booking. The
// former queue, if any, is re-normalized in the same transaction.
func (s *QueueService) DeleteAppointment(ctx context.Context, appointmentID uuid.UUID) error {
	const op = "delete_appointment"
	now := s.now()
	started := time.Now()

	appt, err := s.repo.FindAppointment(ctx, appointmentID)
	if err != nil {
		s.finish(ctx, op, started, err, nil)
		return scheduling.Wrap("delete appointment", err)
	}

	var lockIDs []uuid.UUID
	if appt.QueueID != nil {
		lockIDs = append(lockIDs, *appt.QueueID)
	}

	var pending []events.Event

	err = s.withQueues(ctx, lockIDs, func(ctx context.Context, tx Repository) error {
		current, err := tx.FindAppointment(ctx, appointmentID)
		if err != nil {
			return err
		}
		if !sameQueue(current.QueueID, appt.QueueID) {
			return scheduling.ErrConcurrentUpdate
		}

		if err := tx.DeleteAppointment(ctx, appointmentID); err != nil {
			return err
		}

		payload := map[string]any{"department_id": current.DepartmentID}
		if current.QueueID != nil {
			q, err := tx.FindQueue(ctx, *current.QueueID)
			switch {
			case errors.Is(err, scheduling.ErrQueueNotFound):
			case err != nil:
				return err
			default:
				if err := s.reorderAndSave(ctx, tx, q, now); err != nil {
					return err
				}
				payload["members"] = len(q.Members)
			}
		}

		ev := s.event(EventAppointmentDeleted, current.QueueID, &current.ID, now, payload)
		if err := s.record(ctx, tx, ev); err != nil {
			return err
		}
		pending = append(pending, ev)
		return nil
	})

	s.finish(ctx, op, started, err, pending)
	if err != nil {
		return scheduling.Wrap("delete appointment", err)
	}
	return nil
}

func (s *QueueService) GetQueue(ctx context.Context, queueID uuid.UUID) (*scheduling.Queue, error) {
	q, err := s.repo.FindQueue(ctx, queueID)
	if err != nil {
		return nil, scheduling.Wrap("get queue", err)
	}
	return q, nil
}

// RenormalizeAll reorders every queue so assigned start times do not drift
// into the past between writes. A failing queue is logged and skipped; the
// count of reordered queues is returned.
func (s *QueueService) RenormalizeAll(ctx context.Context) (int, error) {
	ids, err := s.repo.ListQueueIDs(ctx)
	if err != nil {
		return 0, scheduling.Wrap("list queues", err)
	}

	done := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		if _, err := s.ReorderQueue(ctx, id); err != nil {
			s.metrics.RenormalizeRunsTotal.WithLabelValues("failed").Inc()
			s.log.Warn("renormalize queue failed",
				zap.String("queue_id", id.String()),
				zap.Error(err),
			)
			continue
		}
		s.metrics.RenormalizeRunsTotal.WithLabelValues("ok").Inc()
		done++
	}

	return done, nil
}

// reorderAndSave runs the policy, verifies the queue invariants and persists
// the queue row and every member.
func (s *QueueService) reorderAndSave(ctx context.Context, tx Repository, q *scheduling.Queue, now time.Time) error {
	if err := q.Validate(); err != nil {
		return err
	}

	q.Location = s.loc
	s.reorderer.Reorder(q, now)
	if err := scheduling.CheckQueue(q, now); err != nil {
		return err
	}

	if err := tx.SaveQueue(ctx, q); err != nil {
		return err
	}
	for _, m := range q.Members {
		if err := tx.SaveAppointment(ctx, m); err != nil {
			return fmt.Errorf("save member %s: %w", m.ID, err)
		}
	}

	s.metrics.QueueMembers.Observe(float64(len(q.Members)))
	return nil
}

func (s *QueueService) withQueue(ctx context.Context, queueID uuid.UUID, fn func(ctx context.Context, tx Repository) error) error {
	return s.withQueues(ctx, []uuid.UUID{queueID}, fn)
}

// withQueues holds the locks of all given queues around one transaction.
func (s *QueueService) withQueues(ctx context.Context, queueIDs []uuid.UUID, fn func(ctx context.Context, tx Repository) error) error {
	err := redisclient.WithQueueLocks(ctx, s.locker, queueIDs, func(ctx context.Context) error {
		return s.repo.WithinTx(ctx, fn)
	})
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return scheduling.ErrQueueBusy
	}
	return err
}

func (s *QueueService) event(eventType string, queueID, appointmentID *uuid.UUID, now time.Time, payload map[string]any) events.Event {
	return events.Event{
		Type:          eventType,
		QueueID:       copyID(queueID),
		AppointmentID: copyID(appointmentID),
		Payload:       payload,
		OccurredAt:    now,
	}
}

// record appends the event to the queue_events audit log inside the current
// transaction.
func (s *QueueService) record(ctx context.Context, tx Repository, ev events.Event) error {
	data, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", ev.Type, err)
	}

	return tx.InsertEvent(ctx, EventLog{
		EventType:     ev.Type,
		QueueID:       ev.QueueID,
		AppointmentID: ev.AppointmentID,
		Payload:       data,
		CreatedAt:     ev.OccurredAt,
	})
}

// finish records metrics and publishes committed events. Publishing is best
// effort: the audit log row is already durable.
func (s *QueueService) finish(ctx context.Context, op string, started time.Time, err error, pending []events.Event) {
	s.metrics.QueueOperationDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())

	outcome := "ok"
	if err != nil {
		outcome = string(scheduling.KindOf(err))
	}
	s.metrics.QueueOperationsTotal.WithLabelValues(op, outcome).Inc()

	if err != nil || len(pending) == 0 {
		return
	}
	if pubErr := s.publisher.Publish(ctx, pending...); pubErr != nil {
		s.metrics.EventPublishFailures.Add(float64(len(pending)))
		s.log.Warn("failed to publish queue events",
			zap.String("operation", op),
			zap.Int("events", len(pending)),
			zap.Error(pubErr),
		)
	}
}

func sameQueue(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func copyID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	c := *id
	return &c
}
