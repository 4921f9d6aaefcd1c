package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/department-scheduling/internal/appointment"
	"github.com/hackgods/department-scheduling/internal/config"
	"github.com/hackgods/department-scheduling/internal/db"
	"github.com/hackgods/department-scheduling/internal/logger"
	"github.com/hackgods/department-scheduling/internal/scheduling"
)

type SimConfig struct {
	APIBaseURL       string
	Duration         time.Duration
	Workers          int
	AddRatio         float64
	RemoveRatio      float64
	SwapRatio        float64
	SlotsRatio       float64
	AppointmentLimit int
	PostgresDSN      string
}

// target is one seeded department with its queue and candidate bookings.
type target struct {
	DepartmentID uuid.UUID
	QueueID      uuid.UUID
	Kind         scheduling.Kind
	Appointments []uuid.UUID
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, status int, err error) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case err == nil && status < 300:
		atomic.AddInt64(&om.Success, 1)
	case err == nil && (status == http.StatusConflict || status == http.StatusNotFound):
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95, max time.Duration) {
	om.mu.Lock()
	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	avg = sum / time.Duration(len(latencies))
	p50 = latencies[min(len(latencies)*50/100, len(latencies)-1)]
	p95 = latencies[min(len(latencies)*95/100, len(latencies)-1)]
	max = latencies[len(latencies)-1]
	return avg, p50, p95, max
}

type Metrics struct {
	Add    OperationMetrics
	Remove OperationMetrics
	Swap   OperationMetrics
	Slots  OperationMetrics
}

type Simulator struct {
	config  SimConfig
	targets []target
	client  *http.Client
	metrics Metrics
	log     *zap.Logger
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "simulate: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	base, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}
	log, err := logger.New(base.LogLevel, base.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	cfg := loadConfig(base)
	if err := validateConfig(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{})
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	repo := appointment.NewPgRepository(pool)
	targets, err := loadTargets(ctx, pool, repo, cfg.AppointmentLimit)
	if err != nil {
		return fmt.Errorf("load targets: %w", err)
	}
	log.Info("simulator starting",
		zap.Duration("duration", cfg.Duration),
		zap.Int("workers", cfg.Workers),
		zap.Int("queues", len(targets)),
	)

	sim := &Simulator{
		config:  cfg,
		targets: targets,
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     log,
	}

	started := time.Now()
	if err := sim.Run(); err != nil {
		return err
	}
	sim.PrintReport()

	return verifyQueues(context.Background(), repo, targets, started, log)
}

func loadConfig(base config.Config) SimConfig {
	cfg := SimConfig{
		APIBaseURL:       getEnv("SIM_API_BASE_URL", "http://localhost:"+base.HTTPPort),
		Duration:         getDuration("SIM_DURATION", 30*time.Second),
		Workers:          getInt("SIM_WORKERS", 10),
		AddRatio:         getFloat("SIM_ADD_RATIO", 0.4),
		RemoveRatio:      getFloat("SIM_REMOVE_RATIO", 0.2),
		SwapRatio:        getFloat("SIM_SWAP_RATIO", 0.1),
		SlotsRatio:       getFloat("SIM_SLOTS_RATIO", 0.3),
		AppointmentLimit: getInt("SIM_APPOINTMENT_LIMIT", 200),
		PostgresDSN:      base.PostgresDSN,
	}

	total := cfg.AddRatio + cfg.RemoveRatio + cfg.SwapRatio + cfg.SlotsRatio
	if total > 0 {
		cfg.AddRatio /= total
		cfg.RemoveRatio /= total
		cfg.SwapRatio /= total
		cfg.SlotsRatio /= total
	}
	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return errors.New("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return errors.New("SIM_DURATION must be > 0")
	}
	return nil
}

func loadTargets(ctx context.Context, pool *pgxpool.Pool, repo *appointment.PgRepository, limit int) ([]target, error) {
	rows, err := pool.Query(ctx, `
		SELECT q.department_id, q.id, d.kind
		FROM queues q
		JOIN departments d ON d.id = q.department_id
	`)
	if err != nil {
		return nil, fmt.Errorf("load queues: %w", err)
	}
	targets, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (target, error) {
		var t target
		err := row.Scan(&t.DepartmentID, &t.QueueID, &t.Kind)
		return t, err
	})
	if err != nil {
		return nil, err
	}

	for i := range targets {
		ids, err := repo.ListAppointmentIDs(ctx, targets[i].DepartmentID, limit)
		if err != nil {
			return nil, err
		}
		targets[i].Appointments = ids
	}

	if len(targets) == 0 {
		return nil, errors.New("no queues found, run cmd/seed first")
	}
	return targets, nil
}

func (s *Simulator) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < s.config.Workers; i++ {
		workerID := i
		g.Go(func() error {
			s.worker(ctx, workerID)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	s.log.Info("simulation complete")
	return nil
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for ctx.Err() == nil {
		t := s.targets[rng.Intn(len(s.targets))]
		if len(t.Appointments) == 0 {
			continue
		}

		r := rng.Float64()
		switch {
		case r < s.config.AddRatio:
			s.doAdd(ctx, rng, t)
		case r < s.config.AddRatio+s.config.RemoveRatio:
			s.doRemove(ctx, rng, t)
		case r < s.config.AddRatio+s.config.RemoveRatio+s.config.SwapRatio:
			s.doSwap(ctx, rng, t)
		default:
			s.doSlots(ctx, t)
		}
	}
}

func (s *Simulator) doAdd(ctx context.Context, rng *rand.Rand, t target) {
	id := t.Appointments[rng.Intn(len(t.Appointments))]
	s.send(ctx, &s.metrics.Add, http.MethodPost,
		fmt.Sprintf("/queues/%s/appointments", t.QueueID),
		map[string]string{"appointment_id": id.String()})
}

func (s *Simulator) doRemove(ctx context.Context, rng *rand.Rand, t target) {
	id := t.Appointments[rng.Intn(len(t.Appointments))]
	s.send(ctx, &s.metrics.Remove, http.MethodDelete, fmt.Sprintf("/appointments/%s/queue", id), nil)
}

func (s *Simulator) doSwap(ctx context.Context, rng *rand.Rand, t target) {
	if len(t.Appointments) < 2 {
		return
	}
	i := rng.Intn(len(t.Appointments))
	j := (i + 1 + rng.Intn(len(t.Appointments)-1)) % len(t.Appointments)
	s.send(ctx, &s.metrics.Swap, http.MethodPost, "/appointments/swap", map[string]string{
		"appointment_id_1": t.Appointments[i].String(),
		"appointment_id_2": t.Appointments[j].String(),
		"kind":             string(t.Kind),
	})
}

func (s *Simulator) doSlots(ctx context.Context, t target) {
	date := time.Now().Format("2006-01-02")
	s.send(ctx, &s.metrics.Slots, http.MethodGet,
		fmt.Sprintf("/departments/%s/%s/slots?date=%s", t.Kind, t.DepartmentID, date), nil)
}

func (s *Simulator) send(ctx context.Context, om *OperationMetrics, method, path string, body any) {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, &buf)
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)

	if ctx.Err() != nil {
		// the run ended mid-request; not a server failure
		return
	}
	status := 0
	if err == nil {
		status = resp.StatusCode
		resp.Body.Close()
	}
	om.Record(latency, status, err)
}

// verifyQueues re-reads every queue and checks that no two assigned members
// overlap, that nobody was scheduled before the run started and that members
// belong to the queue's department.
func verifyQueues(ctx context.Context, repo *appointment.PgRepository, targets []target, since time.Time, log *zap.Logger) error {
	violations := 0
	for _, t := range targets {
		q, err := repo.FindQueue(ctx, t.QueueID)
		if err != nil {
			return fmt.Errorf("load queue %s: %w", t.QueueID, err)
		}

		// members assigned before the run are not held to the start bound
		fresh := *q
		fresh.Members = nil
		for _, m := range q.Members {
			if m.DepartmentID != q.DepartmentID {
				violations++
				log.Error("member of foreign department", zap.String("queue_id", q.ID.String()), zap.String("appointment_id", m.ID.String()))
			}
			if m.UpdatedAt.After(since) {
				fresh.Members = append(fresh.Members, m)
			}
		}

		if err := scheduling.CheckQueue(&fresh, since); err != nil {
			violations++
			log.Error("queue invariant violated", zap.String("queue_id", q.ID.String()), zap.Error(err))
		}
	}

	if violations > 0 {
		return fmt.Errorf("%d invariant violations", violations)
	}
	log.Info("all queues consistent", zap.Int("queues", len(targets)))
	return nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Queues: %d\n\n", len(s.targets))

	printOperationReport("Add to queue", &s.metrics.Add)
	printOperationReport("Remove from queue", &s.metrics.Remove)
	printOperationReport("Swap", &s.metrics.Swap)
	printOperationReport("Available slots", &s.metrics.Slots)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)
	avg, p50, p95, max := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Rejected (409/404): %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s p50=%s p95=%s max=%s\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond),
		p95.Round(time.Millisecond), max.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
