package appointment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hackgods/department-scheduling/internal/scheduling"
)

func TestMemoryRepository_RejectsUnknownValues(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	bogus := &scheduling.Department{Kind: "pharmacy", PeriodPerAppointment: time.Minute}
	if err := repo.CreateDepartment(ctx, bogus); !errors.Is(err, scheduling.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for unknown kind, got %v", err)
	}

	dept := &scheduling.Department{
		Kind:                 scheduling.KindMedicalLab,
		StartAt:              scheduling.NewTimeOfDay(8, 0),
		EndAt:                scheduling.NewTimeOfDay(10, 0),
		PeriodPerAppointment: 10 * time.Minute,
	}
	if err := repo.CreateDepartment(ctx, dept); err != nil {
		t.Fatalf("create department: %v", err)
	}

	a := &scheduling.AppointmentBooking{
		DepartmentID:     dept.ID,
		ScheduledStartAt: time.Date(2030, 7, 1, 8, 0, 0, 0, time.UTC),
		ExpectedDuration: 10 * time.Minute,
		State:            "no_show",
	}
	if err := repo.CreateAppointment(ctx, a); !errors.Is(err, scheduling.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for unknown state on create, got %v", err)
	}

	a.State = ""
	if err := repo.CreateAppointment(ctx, a); err != nil {
		t.Fatalf("create appointment: %v", err)
	}
	if a.State != scheduling.StateNotStarted {
		t.Fatalf("expected default state %s, got %s", scheduling.StateNotStarted, a.State)
	}

	a.State = "no_show"
	if err := repo.SaveAppointment(ctx, a); !errors.Is(err, scheduling.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for unknown state on save, got %v", err)
	}
	stored, err := repo.FindAppointment(ctx, a.ID)
	if err != nil {
		t.Fatalf("find appointment: %v", err)
	}
	if stored.State != scheduling.StateNotStarted {
		t.Fatalf("rejected save changed the stored state to %s", stored.State)
	}
}
