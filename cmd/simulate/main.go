// Command simulate races doctors and patients through the video-call
// admission flow against a running API and reports how often each step won,
// lost a race, or failed.
package main

import (
	"context"
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
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/telehealth-consult/internal/api"
	"github.com/hackgods/telehealth-consult/internal/config"
	"github.com/hackgods/telehealth-consult/internal/db"
	"github.com/hackgods/telehealth-consult/internal/logging"
)

type SimConfig struct {
	APIBaseURL  string
	Workers     int
	Admitters   int
	CallLimit   int
	PostgresDSN string
	JWTSecret   []byte
}

type simCall struct {
	ID        uuid.UUID
	PatientID uuid.UUID
	DoctorID  uuid.UUID
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
	case err == nil && status == http.StatusOK:
		atomic.AddInt64(&om.Success, 1)
	case err == nil && status == http.StatusConflict:
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
	latencies := append([]time.Duration(nil), om.Latencies...)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0
	}
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

type Metrics struct {
	Join  OperationMetrics
	Admit OperationMetrics
	End   OperationMetrics
}

type Simulator struct {
	config  SimConfig
	client  *http.Client
	logger  zerolog.Logger
	metrics Metrics

	// calls where more than one admit returned 200
	doubleAdmits int64
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logging.New("info", "dev")
		boot.Fatal().Err(err).Msg("load config")
	}
	logger := logging.New(cfg.LogLevel, cfg.Env)

	sc := SimConfig{
		APIBaseURL:  getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Workers:     getInt("SIM_WORKERS", 8),
		Admitters:   getInt("SIM_ADMITTERS", 4),
		CallLimit:   getInt("SIM_CALL_LIMIT", 200),
		PostgresDSN: cfg.PostgresDSN,
		JWTSecret:   []byte(cfg.JWTSecret),
	}
	if err := validateConfig(sc); err != nil {
		logger.Fatal().Err(err).Msg("invalid simulator config")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, sc.PostgresDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	calls, err := loadCalls(ctx, pool, sc.CallLimit)
	pool.Close()
	if err != nil {
		logger.Fatal().Err(err).Msg("load calls")
	}

	logger.Info().Int("calls", len(calls)).Int("workers", sc.Workers).Int("admitters", sc.Admitters).Msg("simulator starting")

	sim := &Simulator{
		config: sc,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
	sim.Run(context.Background(), calls)
	sim.PrintReport(len(calls))
}

func validateConfig(sc SimConfig) error {
	if len(sc.JWTSecret) == 0 {
		return fmt.Errorf("JWT_SECRET is required to mint simulator tokens")
	}
	if sc.Workers <= 0 || sc.Admitters <= 0 {
		return fmt.Errorf("SIM_WORKERS and SIM_ADMITTERS must be > 0")
	}
	return nil
}

func loadCalls(ctx context.Context, pool *pgxpool.Pool, limit int) ([]simCall, error) {
	rows, err := pool.Query(ctx, `
		SELECT id, patient_id, doctor_id
		FROM video_calls
		WHERE status = 'scheduled'
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query video_calls: %w", err)
	}
	defer rows.Close()

	var calls []simCall
	for rows.Next() {
		var c simCall
		if err := rows.Scan(&c.ID, &c.PatientID, &c.DoctorID); err != nil {
			return nil, err
		}
		calls = append(calls, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(calls) == 0 {
		return nil, fmt.Errorf("no scheduled calls; confirm some video appointments first")
	}
	return calls, nil
}

func (s *Simulator) Run(ctx context.Context, calls []simCall) {
	work := make(chan simCall)

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
			for c := range work {
				s.runCall(ctx, rng, c)
			}
		}(i)
	}

	for _, c := range calls {
		work <- c
	}
	close(work)
	wg.Wait()
}

// runCall joins as the patient, then fires several admits from the doctor's
// screens at once. Exactly one admit may succeed.
func (s *Simulator) runCall(ctx context.Context, rng *rand.Rand, c simCall) {
	patientToken, err := api.IssueToken(s.config.JWTSecret, c.PatientID, api.RolePatient, time.Hour)
	if err != nil {
		s.logger.Error().Err(err).Msg("issue patient token")
		return
	}
	doctorToken, err := api.IssueToken(s.config.JWTSecret, c.DoctorID, api.RoleDoctor, time.Hour)
	if err != nil {
		s.logger.Error().Err(err).Msg("issue doctor token")
		return
	}

	status, latency, err := s.post(ctx, c.ID, "join", patientToken)
	s.metrics.Join.Record(latency, status, err)
	if err != nil || status != http.StatusOK {
		s.logger.Debug().Str("call_id", c.ID.String()).Int("status", status).Msg("join did not succeed")
		return
	}

	// let the doctor's screens observe the waiting state
	time.Sleep(time.Duration(rng.Intn(50)) * time.Millisecond)

	var (
		admitted int64
		wg       sync.WaitGroup
	)
	for i := 0; i < s.config.Admitters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status, latency, err := s.post(ctx, c.ID, "admit", doctorToken)
			s.metrics.Admit.Record(latency, status, err)
			if err == nil && status == http.StatusOK {
				atomic.AddInt64(&admitted, 1)
			}
		}()
	}
	wg.Wait()

	if admitted > 1 {
		atomic.AddInt64(&s.doubleAdmits, 1)
		s.logger.Error().Str("call_id", c.ID.String()).Int64("admits", admitted).Msg("call admitted more than once")
	}

	status, latency, err = s.post(ctx, c.ID, "end", doctorToken)
	s.metrics.End.Record(latency, status, err)
}

func (s *Simulator) post(ctx context.Context, callID uuid.UUID, action, token string) (int, time.Duration, error) {
	url := fmt.Sprintf("%s/calls/%s/%s", s.config.APIBaseURL, callID, action)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return 0, latency, err
	}
	resp.Body.Close()
	return resp.StatusCode, latency, nil
}

func (s *Simulator) PrintReport(calls int) {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("ADMISSION SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Calls: %d  Workers: %d  Admitters per call: %d\n\n", calls, s.config.Workers, s.config.Admitters)

	printOperationReport("Join", &s.metrics.Join)
	printOperationReport("Admit", &s.metrics.Admit)
	printOperationReport("End", &s.metrics.End)

	fmt.Printf("Double admissions: %d\n", atomic.LoadInt64(&s.doubleAdmits))
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
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s p50=%s p95=%s max=%s\n\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond), p95.Round(time.Millisecond), max.Round(time.Millisecond))
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
