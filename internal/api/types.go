package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/department-scheduling/internal/appointment"
	"github.com/hackgods/department-scheduling/internal/scheduling"
)

type CreateQueueRequest struct {
	DepartmentID  string `json:"department_id"`
	Kind          string `json:"kind"`
	PeriodMinutes int    `json:"period_minutes"`
}

type AddToQueueRequest struct {
	AppointmentID string `json:"appointment_id"`
}

type SwapRequest struct {
	AppointmentID1 string `json:"appointment_id_1"`
	AppointmentID2 string `json:"appointment_id_2"`
	Kind           string `json:"kind"`
}

type SlotResponse struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type SlotsResponse struct {
	DepartmentID uuid.UUID      `json:"department_id"`
	Kind         string         `json:"kind"`
	Slots        []SlotResponse `json:"slots"`
}

type AppointmentResponse struct {
	ID                     uuid.UUID  `json:"id"`
	DepartmentID           uuid.UUID  `json:"department_id"`
	Kind                   string     `json:"kind"`
	ScheduledStartAt       time.Time  `json:"scheduled_start_at"`
	ActualStartAt          *time.Time `json:"actual_start_at,omitempty"`
	ExpectedDurationMinute float64    `json:"expected_duration_minutes"`
	State                  string     `json:"state"`
	QueueID                *uuid.UUID `json:"queue_id,omitempty"`
}

type QueueResponse struct {
	ID            uuid.UUID             `json:"id"`
	DepartmentID  uuid.UUID             `json:"department_id"`
	Kind          string                `json:"kind"`
	PeriodMinutes float64               `json:"period_minutes"`
	Version       int64                 `json:"version"`
	Members       []AppointmentResponse `json:"members"`
}

type SwapResponse struct {
	First  AppointmentResponse `json:"first"`
	Second AppointmentResponse `json:"second"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toAppointmentResponse(a *scheduling.AppointmentBooking) AppointmentResponse {
	return AppointmentResponse{
		ID:                     a.ID,
		DepartmentID:           a.DepartmentID,
		Kind:                   string(a.Kind),
		ScheduledStartAt:       a.ScheduledStartAt,
		ActualStartAt:          a.ActualStartAt,
		ExpectedDurationMinute: a.ExpectedDuration.Minutes(),
		State:                  string(a.State),
		QueueID:                a.QueueID,
	}
}

func toQueueResponse(q *scheduling.Queue) QueueResponse {
	members := make([]AppointmentResponse, 0, len(q.Members))
	for _, m := range q.Members {
		members = append(members, toAppointmentResponse(m))
	}
	return QueueResponse{
		ID:            q.ID,
		DepartmentID:  q.DepartmentID,
		Kind:          string(q.Kind),
		PeriodMinutes: q.PeriodPerAppointment.Minutes(),
		Version:       q.Version,
		Members:       members,
	}
}

func toSlotsResponse(a *appointment.Availability) SlotsResponse {
	slots := a.Slots()
	out := make([]SlotResponse, 0, len(slots))
	for _, s := range slots {
		out = append(out, SlotResponse{Start: s.Start, End: s.End})
	}
	return SlotsResponse{
		DepartmentID: a.Department.ID,
		Kind:         string(a.Department.Kind),
		Slots:        out,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
