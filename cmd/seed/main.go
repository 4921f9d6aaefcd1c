package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/hackgods/department-scheduling/internal/appointment"
	"github.com/hackgods/department-scheduling/internal/config"
	"github.com/hackgods/department-scheduling/internal/db"
	"github.com/hackgods/department-scheduling/internal/events"
	"github.com/hackgods/department-scheduling/internal/logger"
	"github.com/hackgods/department-scheduling/internal/metrics"
	redisclient "github.com/hackgods/department-scheduling/internal/redis"
	"github.com/hackgods/department-scheduling/internal/scheduling"
)

var departmentNames = map[scheduling.Kind][]string{
	scheduling.KindClinic:          {"General Practice", "Dermatology", "Cardiology", "Pediatrics", "ENT"},
	scheduling.KindMedicalLab:      {"Blood Work", "Microbiology", "Pathology", "Urinalysis"},
	scheduling.KindRadiologyCenter: {"X-Ray", "MRI", "CT", "Ultrasound", "Mammography"},
}

var periods = []time.Duration{10 * time.Minute, 15 * time.Minute, 20 * time.Minute, 30 * time.Minute}

func main() {
	perKind := flag.Int("departments", 3, "departments per kind")
	bookings := flag.Int("bookings", 40, "bookings per department")
	queued := flag.Int("queued", 10, "bookings added to each department queue")
	days := flag.Int("days", 7, "spread bookings over this many days from today")
	flag.Parse()

	if err := run(*perKind, *bookings, *queued, *days); err != nil {
		fmt.Fprintf(os.Stderr, "seed: %v\n", err)
		os.Exit(1)
	}
}

func run(perKind, bookings, queued, days int) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{})
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	if _, err := db.NewMigrator(pool, log).Up(ctx); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	repo := appointment.NewPgRepository(pool)

	// seeding runs alone, so a process-local lock is enough
	reorderer, err := scheduling.NewReorderer(scheduling.Policy(cfg.ReorderPolicy))
	if err != nil {
		return err
	}
	queues := appointment.NewQueueService(repo, redisclient.NewLocalLocker(cfg.LockWait), reorderer,
		events.NopPublisher{}, metrics.NewCollector("seed", prometheus.NewRegistry()), log.Named("queue")).
		WithLocation(cfg.Location)

	faker := gofakeit.New(uint64(time.Now().UnixNano()))
	today := scheduling.StartOfDay(time.Now().In(cfg.Location))

	for _, kind := range scheduling.Kinds {
		for i := 0; i < perKind; i++ {
			dept, err := seedDepartment(ctx, repo, faker, kind)
			if err != nil {
				return fmt.Errorf("seed %s department: %w", kind, err)
			}
			dept.Location = cfg.Location

			q, err := queues.CreateQueue(ctx, dept.ID, string(kind), 0)
			if err != nil {
				return fmt.Errorf("create queue: %w", err)
			}

			ids, err := seedBookings(ctx, repo, faker, dept, today, days, bookings)
			if err != nil {
				return fmt.Errorf("seed bookings: %w", err)
			}

			added := 0
			for _, id := range ids {
				if added >= queued {
					break
				}
				if _, err := queues.AddAppointmentToQueue(ctx, id, q.ID); err != nil {
					log.Warn("skip queueing booking", zap.String("appointment_id", id.String()), zap.Error(err))
					continue
				}
				added++
			}

			log.Info("department seeded",
				zap.String("kind", string(kind)),
				zap.String("name", dept.Name),
				zap.String("department_id", dept.ID.String()),
				zap.String("queue_id", q.ID.String()),
				zap.Int("bookings", len(ids)),
				zap.Int("queued", added),
			)
		}
	}

	log.Info("seed complete")
	return nil
}

func seedDepartment(ctx context.Context, repo *appointment.PgRepository, faker *gofakeit.Faker, kind scheduling.Kind) (*scheduling.Department, error) {
	names := departmentNames[kind]
	open := faker.Number(7, 10)
	startAt, err := scheduling.ParseTimeOfDay(fmt.Sprintf("%02d:%02d", open, []int{0, 30}[faker.Number(0, 1)]))
	if err != nil {
		return nil, err
	}
	endAt, err := scheduling.ParseTimeOfDay(fmt.Sprintf("%02d:00", open+faker.Number(6, 10)))
	if err != nil {
		return nil, err
	}

	dept := &scheduling.Department{
		ID:                   uuid.New(),
		Kind:                 kind,
		Name:                 fmt.Sprintf("%s %s", faker.City(), names[faker.Number(0, len(names)-1)]),
		StartAt:              startAt,
		EndAt:                endAt,
		PeriodPerAppointment: periods[faker.Number(0, len(periods)-1)],
	}
	if err := repo.CreateDepartment(ctx, dept); err != nil {
		return nil, err
	}
	return dept, nil
}

// seedBookings places bookings on the department grid of random days. Some
// are cancelled or completed so slot queries and queue rejections have data.
func seedBookings(ctx context.Context, repo *appointment.PgRepository, faker *gofakeit.Faker, dept *scheduling.Department, today time.Time, days, count int) ([]uuid.UUID, error) {
	perDay, err := scheduling.CountDailySlots(*dept)
	if err != nil || perDay == 0 {
		return nil, err
	}

	states := []scheduling.AppointmentState{
		scheduling.StateNotStarted, scheduling.StateNotStarted, scheduling.StateNotStarted,
		scheduling.StateInProgress, scheduling.StateCompleted, scheduling.StateCancelled,
	}

	ids := make([]uuid.UUID, 0, count)
	err = repo.WithinTx(ctx, func(ctx context.Context, tx appointment.Repository) error {
		pg := tx.(*appointment.PgRepository)
		for i := 0; i < count; i++ {
			day := today.AddDate(0, 0, faker.Number(0, max(days-1, 0)))
			openAt, _ := scheduling.DayWindow(*dept, day)
			start := openAt.Add(time.Duration(faker.Number(0, perDay-1)) * dept.PeriodPerAppointment)

			a := &scheduling.AppointmentBooking{
				ID:               uuid.New(),
				DepartmentID:     dept.ID,
				Kind:             dept.Kind,
				ScheduledStartAt: start,
				ExpectedDuration: dept.PeriodPerAppointment,
				State:            states[faker.Number(0, len(states)-1)],
			}
			if err := pg.CreateAppointment(ctx, a); err != nil {
				return err
			}
			ids = append(ids, a.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}
