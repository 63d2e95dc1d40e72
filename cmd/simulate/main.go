package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/appointment-booking-engine/internal/api"
	"github.com/hackgods/appointment-booking-engine/internal/config"
	"github.com/hackgods/appointment-booking-engine/internal/db"
	"github.com/hackgods/appointment-booking-engine/internal/logging"
	"github.com/hackgods/appointment-booking-engine/internal/schedule"
)

type SimConfig struct {
	APIBaseURL  string
	Rounds      int
	Concurrency int
	DaysAhead   int
	PostgresDSN string
	DefaultLoc  *time.Location
}

// target is one staff member and service that a round races bookings for.
type target struct {
	BusinessID uuid.UUID
	StaffID    uuid.UUID
	ServiceID  uuid.UUID
	Duration   time.Duration
	Loc        *time.Location
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Rejected  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, status int, err error) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case err != nil:
		atomic.AddInt64(&om.Error, 1)
	case status == http.StatusCreated || status == http.StatusOK:
		atomic.AddInt64(&om.Success, 1)
	case status == http.StatusConflict:
		atomic.AddInt64(&om.Conflict, 1)
	case status >= 400 && status < 500:
		atomic.AddInt64(&om.Rejected, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95, max time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0
	}
	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	pick := func(pct int) time.Duration {
		idx := len(latencies) * pct / 100
		if idx >= len(latencies) {
			idx = len(latencies) - 1
		}
		return latencies[idx]
	}
	return sum / time.Duration(len(latencies)), pick(50), pick(95), latencies[len(latencies)-1]
}

type Simulator struct {
	config SimConfig
	client *http.Client
	logger *logging.Logger

	availability OperationMetrics
	booking      OperationMetrics
	// roundsWithWinners counts rounds where exactly one racer got the slot.
	roundsWithWinners int64
	roundsOverbooked  int64
}

func main() {
	logger := logging.Default().With("service", "simulate")

	cfg, err := loadConfig()
	if err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	targets, err := loadTargets(ctx, pgPool, cfg)
	if err != nil {
		logger.Error("load targets", "error", err)
		os.Exit(1)
	}
	logger.Info("simulation starting", "targets", len(targets), "concurrency", cfg.Concurrency)

	sim := &Simulator{
		config: cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}

	runCtx, cancelRun := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancelRun()
	for _, t := range targets {
		if err := sim.raceTarget(runCtx, t); err != nil {
			logger.Warn("round skipped", "staff_id", t.StaffID, "error", err)
		}
	}

	overlaps, err := countOverlaps(context.Background(), pgPool)
	if err != nil {
		logger.Error("verify overlaps", "error", err)
		os.Exit(1)
	}

	sim.PrintReport(overlaps)
	if overlaps > 0 || sim.roundsOverbooked > 0 {
		os.Exit(1)
	}
}

func loadConfig() (SimConfig, error) {
	base, err := config.Load()
	if err != nil {
		return SimConfig{}, err
	}
	cfg := SimConfig{
		APIBaseURL:  strings.TrimRight(getEnv("SIM_API_BASE_URL", "http://localhost:8080"), "/"),
		Rounds:      getInt("SIM_ROUNDS", 20),
		Concurrency: getInt("SIM_CONCURRENCY", 20),
		DaysAhead:   getInt("SIM_DAYS_AHEAD", 14),
		PostgresDSN: base.PostgresDSN,
		DefaultLoc:  base.Location(),
	}
	if cfg.Rounds <= 0 {
		return cfg, fmt.Errorf("SIM_ROUNDS must be > 0")
	}
	if cfg.Concurrency < 2 {
		return cfg, fmt.Errorf("SIM_CONCURRENCY must be >= 2 to race")
	}
	return cfg, nil
}

func loadTargets(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) ([]target, error) {
	rows, err := pool.Query(ctx, `
		SELECT s.business_id, s.id, sv.id, sv.duration_minutes, b.timezone
		FROM staff s
		JOIN businesses b ON b.id = s.business_id
		JOIN LATERAL (
			SELECT id, duration_minutes FROM services
			WHERE business_id = s.business_id AND is_active
			ORDER BY random() LIMIT 1
		) sv ON TRUE
		WHERE s.is_active
		ORDER BY random()
		LIMIT $1
	`, cfg.Rounds)
	if err != nil {
		return nil, fmt.Errorf("query targets: %w", err)
	}
	defer rows.Close()

	var targets []target
	for rows.Next() {
		var (
			t       target
			minutes int
			tz      string
		)
		if err := rows.Scan(&t.BusinessID, &t.StaffID, &t.ServiceID, &minutes, &tz); err != nil {
			return nil, err
		}
		t.Duration = time.Duration(minutes) * time.Minute
		t.Loc = cfg.DefaultLoc
		if tz != "" {
			if loc, err := time.LoadLocation(tz); err == nil {
				t.Loc = loc
			}
		}
		targets = append(targets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("no active staff with services, run cmd/seed first")
	}
	return targets, nil
}

// raceTarget finds the first open slot for t and fires Concurrency bookings at
// it at once. Half the racers ask for the exact slot, the other half for a
// window shifted by half the duration, so every request overlaps the others.
func (s *Simulator) raceTarget(ctx context.Context, t target) error {
	date, slot, err := s.firstSlot(ctx, t)
	if err != nil {
		return err
	}

	clock, err := schedule.ParseClockTime(slot)
	if err != nil {
		return err
	}
	day, err := schedule.ParseDate(date, t.Loc)
	if err != nil {
		return err
	}
	start := clock.On(day)

	var created int64
	g, gctx := errgroup.WithContext(ctx)
	ready := make(chan struct{})
	for i := 0; i < s.config.Concurrency; i++ {
		racerStart := start
		if i%2 == 1 {
			racerStart = start.Add(t.Duration / 2)
		}
		g.Go(func() error {
			<-ready
			if s.book(gctx, t, racerStart, i) == http.StatusCreated {
				atomic.AddInt64(&created, 1)
			}
			return nil
		})
	}
	close(ready)
	if err := g.Wait(); err != nil {
		return err
	}

	switch {
	case created == 1:
		atomic.AddInt64(&s.roundsWithWinners, 1)
	case created > 1:
		atomic.AddInt64(&s.roundsOverbooked, 1)
		s.logger.Error("slot overbooked", "staff_id", t.StaffID, "start", start, "created", created)
	}
	return nil
}

func (s *Simulator) firstSlot(ctx context.Context, t target) (string, string, error) {
	today := time.Now().In(t.Loc)
	for d := 1; d <= s.config.DaysAhead; d++ {
		date := today.AddDate(0, 0, d).Format(schedule.DateLayout)
		q := url.Values{}
		q.Set("staff_id", t.StaffID.String())
		q.Set("service_id", t.ServiceID.String())
		q.Set("date", date)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.APIBaseURL+"/availability?"+q.Encode(), nil)
		if err != nil {
			return "", "", err
		}
		req.Header.Set(api.BusinessIDHeader, t.BusinessID.String())

		began := time.Now()
		resp, err := s.client.Do(req)
		if err != nil {
			s.availability.Record(time.Since(began), 0, err)
			return "", "", err
		}
		var slots []string
		decodeErr := json.NewDecoder(resp.Body).Decode(&slots)
		resp.Body.Close()
		s.availability.Record(time.Since(began), resp.StatusCode, nil)

		if resp.StatusCode != http.StatusOK {
			continue
		}
		if decodeErr == nil && len(slots) > 0 {
			return date, slots[0], nil
		}
	}
	return "", "", fmt.Errorf("no open slot in the next %d days", s.config.DaysAhead)
}

func (s *Simulator) book(ctx context.Context, t target, start time.Time, racer int) int {
	body, _ := json.Marshal(map[string]string{
		"staff_id":    t.StaffID.String(),
		"service_id":  t.ServiceID.String(),
		"start_time":  start.Format(time.RFC3339),
		"end_time":    start.Add(t.Duration).Format(time.RFC3339),
		"client_name": "Racer " + strconv.Itoa(racer),
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+"/appointments", bytes.NewReader(body))
	if err != nil {
		return 0
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(api.BusinessIDHeader, t.BusinessID.String())

	began := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		s.booking.Record(time.Since(began), 0, err)
		return 0
	}
	resp.Body.Close()
	s.booking.Record(time.Since(began), resp.StatusCode, nil)
	return resp.StatusCode
}

// countOverlaps returns the number of pairs of live appointments that share
// time on the same staff member. Anything above zero is a double booking.
func countOverlaps(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	var n int
	err := pool.QueryRow(ctx, `
		SELECT COUNT(*)::int
		FROM appointments a
		JOIN appointments b
		  ON a.staff_id = b.staff_id
		 AND a.id < b.id
		 AND a.start_time < b.end_time
		 AND b.start_time < a.end_time
		WHERE a.status <> 'cancelled'
		  AND b.status <> 'cancelled'
	`).Scan(&n)
	return n, err
}

func (s *Simulator) PrintReport(overlaps int) {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Concurrency per round: %d\n", s.config.Concurrency)
	fmt.Printf("Rounds with a single winner: %d\n", atomic.LoadInt64(&s.roundsWithWinners))
	fmt.Printf("Rounds overbooked: %d\n", atomic.LoadInt64(&s.roundsOverbooked))
	fmt.Printf("Overlapping live appointments in Postgres: %d\n", overlaps)
	fmt.Println()

	printOperationReport("Availability", &s.availability)
	printOperationReport("Booking", &s.booking)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}
	pct := func(n int64) float64 { return float64(n) / float64(total) * 100 }

	avg, p50, p95, max := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", om.Success, pct(om.Success))
	if om.Conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", om.Conflict, pct(om.Conflict))
	}
	if om.Rejected > 0 {
		fmt.Printf("  Rejected: %d (%.1f%%)\n", om.Rejected, pct(om.Rejected))
	}
	if om.Error > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", om.Error, pct(om.Error))
	}
	fmt.Printf("  Latency: avg=%s p50=%s p95=%s max=%s\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond), p95.Round(time.Millisecond), max.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
