package scheduling

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflict")
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrUnsupportedType      = errors.New("unsupported type")
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrInternal             = errors.New("internal error")
)

var (
	ErrDepartmentNotFound  = fmt.Errorf("department %w", ErrNotFound)
	ErrQueueNotFound       = fmt.Errorf("queue %w", ErrNotFound)
	ErrAppointmentNotFound = fmt.Errorf("appointment %w", ErrNotFound)

	ErrAlreadyInQueue      = fmt.Errorf("%w: appointment is already a member of the queue", ErrConflict)
	ErrInAnotherQueue      = fmt.Errorf("%w: appointment belongs to another queue", ErrConflict)
	ErrAppointmentClosed   = fmt.Errorf("%w: appointment is completed or cancelled", ErrConflict)
	ErrDepartmentMismatch  = fmt.Errorf("%w: appointment belongs to a different department", ErrConflict)
	ErrQueueNotEmpty       = fmt.Errorf("%w: queue still has members", ErrConflict)
	ErrQueueExists         = fmt.Errorf("%w: department already has a queue", ErrConflict)
	ErrQueueBusy           = fmt.Errorf("%w: queue is being modified, retry shortly", ErrConflict)
	ErrConcurrentUpdate    = fmt.Errorf("%w: record changed concurrently", ErrConflict)
	ErrOverlappingSchedule = fmt.Errorf("%w: queue members overlap", ErrConflict)
)

// ErrorKind is the caller-facing classification of a failure.
type ErrorKind string

const (
	KindNone                 ErrorKind = ""
	KindNotFound             ErrorKind = "not_found"
	KindConflict             ErrorKind = "conflict"
	KindInvalidConfiguration ErrorKind = "invalid_configuration"
	KindUnsupportedType      ErrorKind = "unsupported_type"
	KindInvalidArgument      ErrorKind = "invalid_argument"
	KindInternal             ErrorKind = "internal"
)

// KindOf classifies err. Anything not wrapping a known sentinel is internal.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrInternal):
		return KindInternal
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrInvalidConfiguration):
		return KindInvalidConfiguration
	case errors.Is(err, ErrUnsupportedType):
		return KindUnsupportedType
	case errors.Is(err, ErrInvalidArgument):
		return KindInvalidArgument
	}
	return KindInternal
}

// Wrap annotates err with op. Errors that already carry a domain kind keep it;
// anything else (driver faults, network errors) is marked ErrInternal while the
// cause stays inspectable with errors.Is/As.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsDomain(err) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrInternal, err)
}

// IsDomain reports whether err wraps one of the expected-condition sentinels.
func IsDomain(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrInvalidConfiguration) ||
		errors.Is(err, ErrUnsupportedType) ||
		errors.Is(err, ErrInvalidArgument)
}
