package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/department-scheduling/internal/scheduling"
)

// Repository contains all DB interactions needed by the services.
// Lookups that miss return the matching scheduling.Err*NotFound sentinel.
type Repository interface {
	FindDepartment(ctx context.Context, kind scheduling.Kind, id uuid.UUID) (*scheduling.Department, error)

	// Non-cancelled appointments of the department whose effective interval
	// intersects [from, to].
	FindBookingIntervalsInRange(ctx context.Context, departmentID uuid.UUID, from, to time.Time) ([]scheduling.BookingInterval, error)

	// Queue lookups load members through the queue_id reference. Inside
	// WithinTx the queue row and its members are locked for update.
	FindQueue(ctx context.Context, id uuid.UUID) (*scheduling.Queue, error)
	FindQueueByDepartment(ctx context.Context, departmentID uuid.UUID) (*scheduling.Queue, error)

	FindAppointment(ctx context.Context, id uuid.UUID) (*scheduling.AppointmentBooking, error)
	FindAppointmentOfKind(ctx context.Context, id uuid.UUID, kind scheduling.Kind) (*scheduling.AppointmentBooking, error)

	// SaveQueue persists queue-level fields and bumps Version. A stale
	// Version yields scheduling.ErrConcurrentUpdate.
	SaveQueue(ctx context.Context, q *scheduling.Queue) error
	SaveAppointment(ctx context.Context, a *scheduling.AppointmentBooking) error

	CreateQueue(ctx context.Context, q *scheduling.Queue) error
	DeleteQueue(ctx context.Context, id uuid.UUID) error
	DeleteAppointment(ctx context.Context, id uuid.UUID) error
	ListQueueIDs(ctx context.Context) ([]uuid.UUID, error)

	// Outbox
	InsertEvent(ctx context.Context, ev EventLog) error

	// WithinTx runs fn in one transaction. fn must use tx for every call; any
	// returned error rolls the whole unit back.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error
}
