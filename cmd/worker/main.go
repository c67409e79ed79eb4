package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/hackgods/telehealth-consult/internal/appointment"
	"github.com/hackgods/telehealth-consult/internal/config"
	"github.com/hackgods/telehealth-consult/internal/db"
	"github.com/hackgods/telehealth-consult/internal/logging"
	"github.com/hackgods/telehealth-consult/internal/metrics"
	"github.com/hackgods/telehealth-consult/internal/realtime"
	redisclient "github.com/hackgods/telehealth-consult/internal/redis"
	"github.com/hackgods/telehealth-consult/internal/rooms"
	"github.com/hackgods/telehealth-consult/internal/videocall"
)

// staleGrace is how long after a slot ends an unstarted call is kept.
const staleGrace = 15 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logging.New("info", "dev")
		boot.Fatal().Err(err).Msg("config load error")
	}

	logger := logging.New(cfg.LogLevel, cfg.Env).With().Str("service", "worker").Logger()
	logger.Info().Str("env", cfg.Env).Dur("interval", cfg.WorkerInterval).Msg("worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn().Err(err).Msg("error closing redis")
		}
	}()
	logger.Info().Msg("connected to Redis")

	m := metrics.New(prometheus.NewRegistry())
	locker := redisclient.NewRedisLocker(rdb, cfg.LockTTL)

	appts := appointment.NewService(appointment.NewPgRepository(pgPool), locker, cfg, appointment.WithLogger(logger))
	calls := videocall.NewService(videocall.Deps{
		Repo:      videocall.NewPgRepository(pgPool),
		Locker:    locker,
		Publisher: realtime.NewRedisFeed(rdb, logger),
		Rooms:     rooms.NewClient(cfg.DailyAPIKey, cfg.DailyAPIURL, rooms.WithMetrics(m)),
		Metrics:   m,
		Logger:    logger,
		RoomTTL:   cfg.RoomTTL,
	})

	// Run once at startup
	runOnce(rootCtx, logger, appts, calls)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info().Msg("shutdown signal received, stopping worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, logger, appts, calls)
		}
	}
}

func runOnce(ctx context.Context, logger zerolog.Logger, appts *appointment.Service, calls *videocall.Service) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()

	expired, err := appts.ExpirePendingAppointments(runCtx)
	if err != nil {
		logger.Error().Err(err).Msg("expiry run error")
	}

	reaped, err := calls.ReapStale(runCtx, start.Add(-staleGrace))
	if err != nil {
		logger.Error().Err(err).Msg("stale call reaping error")
	}

	logger.Info().
		Int("expired_appointments", expired).
		Int("reaped_calls", reaped).
		Dur("took", time.Since(start)).
		Msg("worker run complete")
}
