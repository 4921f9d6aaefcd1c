package appointment

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/department-scheduling/internal/scheduling"
)

var _ Repository = (*MemoryRepository)(nil)

// MemoryRepository is an in-process Repository. Transactions are serialized
// and roll back by restoring a snapshot, which gives the same all-or-nothing
// behaviour as the Postgres adapter for single-process use and tests.
type MemoryRepository struct {
	txMu sync.Mutex

	mu           sync.RWMutex
	departments  map[uuid.UUID]scheduling.Department
	queues       map[uuid.UUID]scheduling.Queue
	appointments map[uuid.UUID]*scheduling.AppointmentBooking
	events       []EventLog
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		departments:  make(map[uuid.UUID]scheduling.Department),
		queues:       make(map[uuid.UUID]scheduling.Queue),
		appointments: make(map[uuid.UUID]*scheduling.AppointmentBooking),
	}
}

func (r *MemoryRepository) CreateDepartment(_ context.Context, d *scheduling.Department) error {
	if !d.Kind.IsValid() {
		return fmt.Errorf("%w: department kind %q", scheduling.ErrInvalidArgument, d.Kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	now := time.Now()
	d.CreatedAt, d.UpdatedAt = now, now
	r.departments[d.ID] = *d
	return nil
}

func (r *MemoryRepository) CreateAppointment(_ context.Context, a *scheduling.AppointmentBooking) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	dept, ok := r.departments[a.DepartmentID]
	if !ok {
		return scheduling.ErrDepartmentNotFound
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.State == "" {
		a.State = scheduling.StateNotStarted
	}
	if !a.State.IsValid() {
		return invalidState(a)
	}
	a.Kind = dept.Kind
	now := time.Now()
	a.CreatedAt, a.UpdatedAt = now, now
	r.appointments[a.ID] = a.Clone()
	return nil
}

// Events returns a copy of the audit log.
func (r *MemoryRepository) Events() []EventLog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.events)
}

func (r *MemoryRepository) FindDepartment(_ context.Context, kind scheduling.Kind, id uuid.UUID) (*scheduling.Department, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.departments[id]
	if !ok || d.Kind != kind {
		return nil, scheduling.ErrDepartmentNotFound
	}
	return &d, nil
}

func (r *MemoryRepository) FindBookingIntervalsInRange(_ context.Context, departmentID uuid.UUID, from, to time.Time) ([]scheduling.BookingInterval, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []scheduling.BookingInterval
	for _, a := range r.appointments {
		if a.DepartmentID != departmentID || a.State == scheduling.StateCancelled {
			continue
		}
		iv := a.Interval()
		if iv.Start.After(to) || iv.End().Before(from) {
			continue
		}
		out = append(out, iv)
	}
	slices.SortFunc(out, func(a, b scheduling.BookingInterval) int { return a.Start.Compare(b.Start) })
	return out, nil
}

func (r *MemoryRepository) FindQueue(_ context.Context, id uuid.UUID) (*scheduling.Queue, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	q, ok := r.queues[id]
	if !ok {
		return nil, scheduling.ErrQueueNotFound
	}
	return r.hydrate(q), nil
}

func (r *MemoryRepository) FindQueueByDepartment(_ context.Context, departmentID uuid.UUID) (*scheduling.Queue, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, q := range r.queues {
		if q.DepartmentID == departmentID {
			return r.hydrate(q), nil
		}
	}
	return nil, scheduling.ErrQueueNotFound
}

// hydrate copies the stored queue and loads its members in the same order the
// Postgres adapter uses. Callers hold r.mu.
func (r *MemoryRepository) hydrate(stored scheduling.Queue) *scheduling.Queue {
	q := stored
	if d, ok := r.departments[q.DepartmentID]; ok {
		q.Kind = d.Kind
		q.DepartmentStartAt = d.StartAt
		q.DepartmentEndAt = d.EndAt
	}

	q.Members = nil
	for _, a := range r.appointments {
		if a.InQueue(q.ID) {
			q.Members = append(q.Members, a.Clone())
		}
	}
	slices.SortFunc(q.Members, func(a, b *scheduling.AppointmentBooking) int {
		if c := a.EffectiveStart().Compare(b.EffectiveStart()); c != 0 {
			return c
		}
		return bytes.Compare(a.ID[:], b.ID[:])
	})
	return &q
}

func (r *MemoryRepository) FindAppointment(_ context.Context, id uuid.UUID) (*scheduling.AppointmentBooking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.appointments[id]
	if !ok {
		return nil, scheduling.ErrAppointmentNotFound
	}
	return a.Clone(), nil
}

func (r *MemoryRepository) FindAppointmentOfKind(ctx context.Context, id uuid.UUID, kind scheduling.Kind) (*scheduling.AppointmentBooking, error) {
	a, err := r.FindAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Kind != kind {
		return nil, scheduling.ErrAppointmentNotFound
	}
	return a, nil
}

func (r *MemoryRepository) SaveQueue(_ context.Context, q *scheduling.Queue) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.queues[q.ID]
	if !ok || stored.Version != q.Version {
		return scheduling.ErrConcurrentUpdate
	}
	stored.PeriodPerAppointment = q.PeriodPerAppointment
	stored.Version++
	stored.UpdatedAt = time.Now()
	r.queues[q.ID] = stored

	q.Version = stored.Version
	q.UpdatedAt = stored.UpdatedAt
	return nil
}

func (r *MemoryRepository) SaveAppointment(_ context.Context, a *scheduling.AppointmentBooking) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.appointments[a.ID]; !ok {
		return scheduling.ErrAppointmentNotFound
	}
	if !a.State.IsValid() {
		return invalidState(a)
	}
	a.UpdatedAt = time.Now()
	r.appointments[a.ID] = a.Clone()
	return nil
}

func (r *MemoryRepository) CreateQueue(_ context.Context, q *scheduling.Queue) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.departments[q.DepartmentID]; !ok {
		return scheduling.ErrDepartmentNotFound
	}
	for _, existing := range r.queues {
		if existing.DepartmentID == q.DepartmentID {
			return scheduling.ErrQueueExists
		}
	}

	now := time.Now()
	q.Version = 1
	q.CreatedAt, q.UpdatedAt = now, now
	stored := *q
	stored.Members = nil
	r.queues[q.ID] = stored
	return nil
}

func (r *MemoryRepository) DeleteQueue(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.queues[id]; !ok {
		return scheduling.ErrQueueNotFound
	}
	for _, a := range r.appointments {
		if a.InQueue(id) {
			return scheduling.ErrQueueNotEmpty
		}
	}
	delete(r.queues, id)
	return nil
}

func (r *MemoryRepository) DeleteAppointment(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.appointments[id]; !ok {
		return scheduling.ErrAppointmentNotFound
	}
	delete(r.appointments, id)
	return nil
}

func (r *MemoryRepository) ListQueueIDs(_ context.Context) ([]uuid.UUID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]uuid.UUID, 0, len(r.queues))
	for id := range r.queues {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) })
	return ids, nil
}

func (r *MemoryRepository) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ev.ID = int64(len(r.events) + 1)
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *MemoryRepository) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()

	snap := r.snapshot()
	if err := fn(ctx, memoryTx{r}); err != nil {
		r.restore(snap)
		return err
	}
	return nil
}

// memoryTx is the handle passed to WithinTx callbacks; nested WithinTx calls
// join the enclosing transaction.
type memoryTx struct {
	*MemoryRepository
}

func (t memoryTx) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error {
	return fn(ctx, t)
}

type memorySnapshot struct {
	queues       map[uuid.UUID]scheduling.Queue
	appointments map[uuid.UUID]*scheduling.AppointmentBooking
	events       []EventLog
}

func (r *MemoryRepository) snapshot() memorySnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := memorySnapshot{
		queues:       make(map[uuid.UUID]scheduling.Queue, len(r.queues)),
		appointments: make(map[uuid.UUID]*scheduling.AppointmentBooking, len(r.appointments)),
		events:       slices.Clone(r.events),
	}
	for id, q := range r.queues {
		snap.queues[id] = q
	}
	for id, a := range r.appointments {
		snap.appointments[id] = a.Clone()
	}
	return snap
}

func (r *MemoryRepository) restore(snap memorySnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.queues = snap.queues
	r.appointments = snap.appointments
	r.events = snap.events
}

func invalidState(a *scheduling.AppointmentBooking) error {
	return fmt.Errorf("%w: appointment %s state %q", scheduling.ErrInvalidArgument, a.ID, a.State)
}
