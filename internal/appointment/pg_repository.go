package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/department-scheduling/internal/scheduling"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ Repository = (*PgRepository)(nil)

type PgRepository struct {
	pool *pgxpool.Pool
	db   querier
	inTx bool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool, db: pool}
}

const departmentColumns = `id, kind, name, start_at, end_at, period_per_appointment, created_at, updated_at`

const queueSelect = `
	SELECT q.id, q.department_id, d.kind, d.start_at, d.end_at,
	       q.period_per_appointment, q.version, q.created_at, q.updated_at
	FROM queues q
	JOIN departments d ON d.id = q.department_id`

const appointmentSelect = `
	SELECT a.id, a.department_id, d.kind, a.scheduled_start_at, a.actual_start_at,
	       a.expected_duration, a.state, a.queue_id, a.created_at, a.updated_at
	FROM appointments a
	JOIN departments d ON d.id = a.department_id`

// Helpers

func durationFromInterval(iv pgtype.Interval) time.Duration {
	d := time.Duration(iv.Microseconds) * time.Microsecond
	d += time.Duration(iv.Days) * 24 * time.Hour
	d += time.Duration(iv.Months) * 30 * 24 * time.Hour
	return d
}

func intervalFromDuration(d time.Duration) pgtype.Interval {
	return pgtype.Interval{Microseconds: d.Microseconds(), Valid: true}
}

func timeOfDayFromPg(t pgtype.Time) scheduling.TimeOfDay {
	return scheduling.TimeOfDay(time.Duration(t.Microseconds) * time.Microsecond)
}

func pgTimeFromTimeOfDay(t scheduling.TimeOfDay) pgtype.Time {
	return pgtype.Time{Microseconds: t.Duration().Microseconds(), Valid: true}
}

func scanDepartment(row pgx.Row) (*scheduling.Department, error) {
	var d scheduling.Department
	var startAt, endAt pgtype.Time
	var period pgtype.Interval

	err := row.Scan(
		&d.ID,
		&d.Kind,
		&d.Name,
		&startAt,
		&endAt,
		&period,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, scheduling.ErrDepartmentNotFound
		}
		return nil, err
	}

	d.StartAt = timeOfDayFromPg(startAt)
	d.EndAt = timeOfDayFromPg(endAt)
	d.PeriodPerAppointment = durationFromInterval(period)
	return &d, nil
}

func scanQueue(row pgx.Row) (*scheduling.Queue, error) {
	var q scheduling.Queue
	var startAt, endAt pgtype.Time
	var period pgtype.Interval

	err := row.Scan(
		&q.ID,
		&q.DepartmentID,
		&q.Kind,
		&startAt,
		&endAt,
		&period,
		&q.Version,
		&q.CreatedAt,
		&q.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, scheduling.ErrQueueNotFound
		}
		return nil, err
	}

	q.DepartmentStartAt = timeOfDayFromPg(startAt)
	q.DepartmentEndAt = timeOfDayFromPg(endAt)
	q.PeriodPerAppointment = durationFromInterval(period)
	return &q, nil
}

func scanAppointment(row pgx.Row) (*scheduling.AppointmentBooking, error) {
	var a scheduling.AppointmentBooking
	var actualStartAt *time.Time
	var queueID *uuid.UUID
	var expected pgtype.Interval

	err := row.Scan(
		&a.ID,
		&a.DepartmentID,
		&a.Kind,
		&a.ScheduledStartAt,
		&actualStartAt,
		&expected,
		&a.State,
		&queueID,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, scheduling.ErrAppointmentNotFound
		}
		return nil, err
	}

	a.ActualStartAt = actualStartAt
	a.QueueID = queueID
	a.ExpectedDuration = durationFromInterval(expected)
	return &a, nil
}

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func (r *PgRepository) lockClause(tables string) string {
	if r.inTx {
		return " FOR UPDATE OF " + tables
	}
	return ""
}

// Interface methods

func (r *PgRepository) FindDepartment(ctx context.Context, kind scheduling.Kind, id uuid.UUID) (*scheduling.Department, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+departmentColumns+`
		FROM departments
		WHERE id = $1 AND kind = $2
	`, id, kind)
	return scanDepartment(row)
}

func (r *PgRepository) FindBookingIntervalsInRange(ctx context.Context, departmentID uuid.UUID, from, to time.Time) ([]scheduling.BookingInterval, error) {
	rows, err := r.db.Query(ctx, `
		SELECT COALESCE(actual_start_at, scheduled_start_at) AS start_at, expected_duration
		FROM appointments
		WHERE department_id = $1
		  AND state <> 'cancelled'
		  AND COALESCE(actual_start_at, scheduled_start_at) <= $3
		  AND COALESCE(actual_start_at, scheduled_start_at) + expected_duration >= $2
		ORDER BY start_at
	`, departmentID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query booking intervals: %w", err)
	}
	defer rows.Close()

	var result []scheduling.BookingInterval
	for rows.Next() {
		var b scheduling.BookingInterval
		var expected pgtype.Interval
		if err := rows.Scan(&b.Start, &expected); err != nil {
			return nil, fmt.Errorf("scan booking interval: %w", err)
		}
		b.Duration = durationFromInterval(expected)
		result = append(result, b)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) FindQueue(ctx context.Context, id uuid.UUID) (*scheduling.Queue, error) {
	row := r.db.QueryRow(ctx, queueSelect+`
		WHERE q.id = $1`+r.lockClause("q"), id)
	q, err := scanQueue(row)
	if err != nil {
		return nil, err
	}
	return q, r.loadMembers(ctx, q)
}

func (r *PgRepository) FindQueueByDepartment(ctx context.Context, departmentID uuid.UUID) (*scheduling.Queue, error) {
	row := r.db.QueryRow(ctx, queueSelect+`
		WHERE q.department_id = $1`+r.lockClause("q"), departmentID)
	q, err := scanQueue(row)
	if err != nil {
		return nil, err
	}
	return q, r.loadMembers(ctx, q)
}

func (r *PgRepository) loadMembers(ctx context.Context, q *scheduling.Queue) error {
	rows, err := r.db.Query(ctx, appointmentSelect+`
		WHERE a.queue_id = $1
		ORDER BY COALESCE(a.actual_start_at, a.scheduled_start_at), a.id`+r.lockClause("a"), q.ID)
	if err != nil {
		return fmt.Errorf("query queue members: %w", err)
	}
	defer rows.Close()

	q.Members = q.Members[:0]
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return fmt.Errorf("scan queue member: %w", err)
		}
		q.Members = append(q.Members, a)
	}

	return rows.Err()
}

func (r *PgRepository) FindAppointment(ctx context.Context, id uuid.UUID) (*scheduling.AppointmentBooking, error) {
	row := r.db.QueryRow(ctx, appointmentSelect+`
		WHERE a.id = $1`+r.lockClause("a"), id)
	return scanAppointment(row)
}

func (r *PgRepository) FindAppointmentOfKind(ctx context.Context, id uuid.UUID, kind scheduling.Kind) (*scheduling.AppointmentBooking, error) {
	row := r.db.QueryRow(ctx, appointmentSelect+`
		WHERE a.id = $1 AND d.kind = $2`+r.lockClause("a"), id, kind)
	return scanAppointment(row)
}

func (r *PgRepository) SaveQueue(ctx context.Context, q *scheduling.Queue) error {
	err := r.db.QueryRow(ctx, `
		UPDATE queues
		SET period_per_appointment = $2,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1
		  AND version = $3
		RETURNING version, updated_at
	`, q.ID, intervalFromDuration(q.PeriodPerAppointment), q.Version).Scan(&q.Version, &q.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("save queue %s: %w", q.ID, scheduling.ErrConcurrentUpdate)
		}
		return fmt.Errorf("save queue: %w", err)
	}
	return nil
}

func (r *PgRepository) SaveAppointment(ctx context.Context, a *scheduling.AppointmentBooking) error {
	if !a.State.IsValid() {
		return invalidState(a)
	}
	err := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET scheduled_start_at = $2,
		    actual_start_at = $3,
		    state = $4,
		    queue_id = $5,
		    updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`, a.ID, a.ScheduledStartAt, a.ActualStartAt, a.State, a.QueueID).Scan(&a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return scheduling.ErrAppointmentNotFound
		}
		return fmt.Errorf("save appointment: %w", err)
	}
	return nil
}

func (r *PgRepository) CreateQueue(ctx context.Context, q *scheduling.Queue) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO queues (id, department_id, period_per_appointment, version, created_at, updated_at)
		VALUES ($1, $2, $3, 1, now(), now())
		RETURNING version, created_at, updated_at
	`, q.ID, q.DepartmentID, intervalFromDuration(q.PeriodPerAppointment)).Scan(&q.Version, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		switch pgErrorCode(err) {
		case pgUniqueViolation:
			return scheduling.ErrQueueExists
		case pgForeignKeyViolation:
			return scheduling.ErrDepartmentNotFound
		}
		return fmt.Errorf("insert queue: %w", err)
	}
	return nil
}

func (r *PgRepository) DeleteQueue(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM queues WHERE id = $1`, id)
	if err != nil {
		if pgErrorCode(err) == pgForeignKeyViolation {
			return scheduling.ErrQueueNotEmpty
		}
		return fmt.Errorf("delete queue: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return scheduling.ErrQueueNotFound
	}
	return nil
}

func (r *PgRepository) DeleteAppointment(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return scheduling.ErrAppointmentNotFound
	}
	return nil
}

func (r *PgRepository) ListQueueIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM queues ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list queues: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

// InsertEvent appends to the queue_events audit log. Nothing reads the table
// back; consumers take events from Kafka.
func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO queue_events (event_type, queue_id, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()))
	`, ev.EventType, ev.QueueID, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert queue event: %w", err)
	}

	return nil
}

func (r *PgRepository) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error {
	if r.inTx {
		return fn(ctx, r)
	}
	return pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, &PgRepository{pool: r.pool, db: tx, inTx: true})
	})
}

// Seeding and simulation helpers, not part of Repository.

func (r *PgRepository) CreateDepartment(ctx context.Context, d *scheduling.Department) error {
	if !d.Kind.IsValid() {
		return fmt.Errorf("%w: department kind %q", scheduling.ErrInvalidArgument, d.Kind)
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO departments (id, kind, name, start_at, end_at, period_per_appointment, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		RETURNING created_at, updated_at
	`, d.ID, d.Kind, d.Name, pgTimeFromTimeOfDay(d.StartAt), pgTimeFromTimeOfDay(d.EndAt),
		intervalFromDuration(d.PeriodPerAppointment)).Scan(&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert department: %w", err)
	}
	return nil
}

func (r *PgRepository) CreateAppointment(ctx context.Context, a *scheduling.AppointmentBooking) error {
	if a.State == "" {
		a.State = scheduling.StateNotStarted
	}
	if !a.State.IsValid() {
		return invalidState(a)
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO appointments (id, department_id, scheduled_start_at, actual_start_at, expected_duration, state, queue_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		RETURNING created_at, updated_at
	`, a.ID, a.DepartmentID, a.ScheduledStartAt, a.ActualStartAt,
		intervalFromDuration(a.ExpectedDuration), a.State, a.QueueID).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if pgErrorCode(err) == pgForeignKeyViolation {
			return scheduling.ErrDepartmentNotFound
		}
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

// ListAppointmentIDs returns up to limit ids of open appointments of the
// department, regardless of queue membership.
func (r *PgRepository) ListAppointmentIDs(ctx context.Context, departmentID uuid.UUID, limit int) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id FROM appointments
		WHERE department_id = $1
		  AND state IN ('not_started', 'in_progress')
		ORDER BY scheduled_start_at, id
		LIMIT $2
	`, departmentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
