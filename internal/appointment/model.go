package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/department-scheduling/internal/scheduling"
)

const (
	EventQueueAppointmentAdded   = "QUEUE_APPOINTMENT_ADDED"
	EventQueueAppointmentRemoved = "QUEUE_APPOINTMENT_REMOVED"
	EventAppointmentsSwapped     = "APPOINTMENTS_SWAPPED"
	EventQueueReordered          = "QUEUE_REORDERED"
	EventQueueCreated            = "QUEUE_CREATED"
	EventQueueDeleted            = "QUEUE_DELETED"
	EventAppointmentDeleted      = "APPOINTMENT_DELETED"
)

// EventLog is one row of the queue_events audit log, written in the same
// transaction as the change it describes. Rows are never relayed; the Kafka
// publish after commit is separate and best effort.
type EventLog struct {
	ID            int64
	EventType     string
	QueueID       *uuid.UUID
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// Availability is the generator output together with the department it was
// computed for, so callers can render slot ends.
type Availability struct {
	Department scheduling.Department
	Starts     []time.Time
}

func (a Availability) Slots() []scheduling.Slot {
	return scheduling.SlotsFromStarts(a.Starts, a.Department.PeriodPerAppointment)
}

// SwapResult holds both bookings after their scheduled times were exchanged.
type SwapResult struct {
	First  *scheduling.AppointmentBooking
	Second *scheduling.AppointmentBooking
}
