package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/department-scheduling/internal/appointment"
	"github.com/hackgods/department-scheduling/internal/scheduling"
)

// AvailabilityService is the read side used by the slots endpoint.
type AvailabilityService interface {
	ListSlots(ctx context.Context, kind string, departmentID uuid.UUID, from, to time.Time) (*appointment.Availability, error)
	ListSlotsForDate(ctx context.Context, kind string, departmentID uuid.UUID, date time.Time) (*appointment.Availability, error)
}

// QueueService is the write side used by the queue and appointment endpoints.
type QueueService interface {
	CreateQueue(ctx context.Context, departmentID uuid.UUID, kind string, period time.Duration) (*scheduling.Queue, error)
	GetQueue(ctx context.Context, queueID uuid.UUID) (*scheduling.Queue, error)
	DeleteQueue(ctx context.Context, queueID uuid.UUID) error
	ReorderQueue(ctx context.Context, queueID uuid.UUID) (*scheduling.Queue, error)
	AddAppointmentToQueue(ctx context.Context, appointmentID, queueID uuid.UUID) (*scheduling.Queue, error)
	RemoveAppointmentFromQueue(ctx context.Context, appointmentID uuid.UUID) (*scheduling.AppointmentBooking, error)
	SwapAppointments(ctx context.Context, firstID, secondID uuid.UUID, kind string) (*appointment.SwapResult, error)
	DeleteAppointment(ctx context.Context, appointmentID uuid.UUID) error
}

const dateLayout = "2006-01-02"

type handlers struct {
	slots  AvailabilityService
	queues QueueService
	log    *zap.Logger
}

func (h *handlers) listSlots(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	id, ok := parseID(w, r, "id", "invalid_department_id")
	if !ok {
		return
	}

	q := r.URL.Query()
	var (
		avail *appointment.Availability
		err   error
	)

	switch {
	case q.Get("date") != "":
		// only the calendar day is used; the service places it in the
		// scheduling location
		date, perr := time.Parse(dateLayout, q.Get("date"))
		if perr != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}
		avail, err = h.slots.ListSlotsForDate(r.Context(), kind, id, date)

	case q.Get("from") != "" && q.Get("to") != "":
		from, ferr := time.Parse(time.RFC3339, q.Get("from"))
		to, terr := time.Parse(time.RFC3339, q.Get("to"))
		if ferr != nil || terr != nil {
			writeError(w, http.StatusBadRequest, "invalid_range", "from and to must be RFC3339 timestamps")
			return
		}
		avail, err = h.slots.ListSlots(r.Context(), kind, id, from, to)

	default:
		writeError(w, http.StatusBadRequest, "invalid_range", "either date or both from and to are required")
		return
	}

	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toSlotsResponse(avail))
}

func (h *handlers) createQueue(w http.ResponseWriter, r *http.Request) {
	var req CreateQueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	deptID, err := uuid.Parse(req.DepartmentID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_department_id", "department_id must be a valid UUID")
		return
	}

	period := time.Duration(req.PeriodMinutes) * time.Minute
	q, err := h.queues.CreateQueue(r.Context(), deptID, req.Kind, period)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, toQueueResponse(q))
}

func (h *handlers) getQueue(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id", "invalid_queue_id")
	if !ok {
		return
	}

	q, err := h.queues.GetQueue(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toQueueResponse(q))
}

func (h *handlers) deleteQueue(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id", "invalid_queue_id")
	if !ok {
		return
	}

	if err := h.queues.DeleteQueue(r.Context(), id); err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) reorderQueue(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id", "invalid_queue_id")
	if !ok {
		return
	}

	q, err := h.queues.ReorderQueue(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toQueueResponse(q))
}

func (h *handlers) addToQueue(w http.ResponseWriter, r *http.Request) {
	queueID, ok := parseID(w, r, "id", "invalid_queue_id")
	if !ok {
		return
	}

	var req AddToQueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	apptID, err := uuid.Parse(req.AppointmentID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "appointment_id must be a valid UUID")
		return
	}

	q, err := h.queues.AddAppointmentToQueue(r.Context(), apptID, queueID)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toQueueResponse(q))
}

func (h *handlers) removeFromQueue(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id", "invalid_appointment_id")
	if !ok {
		return
	}

	appt, err := h.queues.RemoveAppointmentFromQueue(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *handlers) deleteAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id", "invalid_appointment_id")
	if !ok {
		return
	}

	if err := h.queues.DeleteAppointment(r.Context(), id); err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) swapAppointments(w http.ResponseWriter, r *http.Request) {
	var req SwapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	first, err1 := uuid.Parse(req.AppointmentID1)
	second, err2 := uuid.Parse(req.AppointmentID2)
	if err1 != nil || err2 != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "appointment ids must be valid UUIDs")
		return
	}

	res, err := h.queues.SwapAppointments(r.Context(), first, second, req.Kind)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, SwapResponse{
		First:  toAppointmentResponse(res.First),
		Second: toAppointmentResponse(res.Second),
	})
}

func parseID(w http.ResponseWriter, r *http.Request, param, code string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		writeError(w, http.StatusBadRequest, code, param+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}
