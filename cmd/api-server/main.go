package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/hackgods/telehealth-consult/internal/api"
	"github.com/hackgods/telehealth-consult/internal/appointment"
	"github.com/hackgods/telehealth-consult/internal/chat"
	"github.com/hackgods/telehealth-consult/internal/config"
	"github.com/hackgods/telehealth-consult/internal/db"
	"github.com/hackgods/telehealth-consult/internal/logging"
	"github.com/hackgods/telehealth-consult/internal/metrics"
	"github.com/hackgods/telehealth-consult/internal/notify"
	"github.com/hackgods/telehealth-consult/internal/payments"
	"github.com/hackgods/telehealth-consult/internal/prescription"
	"github.com/hackgods/telehealth-consult/internal/profile"
	"github.com/hackgods/telehealth-consult/internal/realtime"
	redisclient "github.com/hackgods/telehealth-consult/internal/redis"
	"github.com/hackgods/telehealth-consult/internal/rooms"
	"github.com/hackgods/telehealth-consult/internal/videocall"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logging.New("info", "dev")
		boot.Fatal().Err(err).Msg("config load error")
	}

	logger := logging.New(cfg.LogLevel, cfg.Env).With().Str("service", "api-server").Logger()
	logger.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Str("version", version).Msg("api-server starting up")

	if cfg.JWTSecret == "" {
		logger.Fatal().Msg("JWT_SECRET is required")
	}

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

	// Connect Redis
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

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	var feed realtime.Feed
	switch cfg.RealtimeBackend {
	case "memory":
		feed = realtime.NewHub(m)
		logger.Warn().Msg("in-memory change feed: changes do not cross instances")
	default:
		feed = realtime.NewRedisFeed(rdb, logger)
	}

	locker := redisclient.NewRedisLocker(rdb, cfg.LockTTL)

	sender, err := newEmailSender(rootCtx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("email sender setup error")
	}
	dispatcher := notify.NewDispatcher(notify.NewService(sender, m, logger), cfg.NotifyTimeout, logger)

	roomClient := rooms.NewClient(cfg.DailyAPIKey, cfg.DailyAPIURL, rooms.WithMetrics(m))
	if !roomClient.Configured() {
		logger.Warn().Msg("DAILY_API_KEY not set: video room requests will fail")
	}

	calls := videocall.NewService(videocall.Deps{
		Repo:      videocall.NewPgRepository(pgPool),
		Locker:    locker,
		Publisher: feed,
		Rooms:     roomClient,
		Metrics:   m,
		Logger:    logger,
		RoomTTL:   cfg.RoomTTL,
	})
	observer := videocall.NewObserver(feed, calls.Snapshot, logger)

	appts := appointment.NewService(appointment.NewPgRepository(pgPool), locker, cfg,
		appointment.WithCallScheduler(calls),
		appointment.WithNotifier(dispatcher),
		appointment.WithLogger(logger),
	)

	gateway := payments.NewRazorpayGateway(cfg.RazorpayKeyID, cfg.RazorpayKeySecret, m)
	pay := payments.NewService(payments.NewPgRepository(pgPool), gateway, appts, m, logger)

	chatSvc := chat.NewService(chat.NewPgRepository(pgPool), feed, logger)
	go func() {
		if err := chatSvc.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("chat reconciler stopped")
		}
	}()

	rx := prescription.NewService(prescription.NewPgRepository(pgPool), appts, dispatcher, logger)
	profiles := profile.NewService(profile.NewPgRepository(pgPool), cfg.ProfileUpsertAttempts, cfg.ProfileUpsertDelay, logger)

	router := api.NewRouter(api.RouterConfig{
		Appointments:  appts,
		Calls:         calls,
		CallWatcher:   observer,
		Payments:      pay,
		Chat:          chatSvc,
		Prescriptions: rx,
		Profiles:      profiles,
		Notifier:      dispatcher,
		Feed:          feed,
		JWTSecret:     []byte(cfg.JWTSecret),
		Gatherer:      registry,
		Postgres:      pgPool.Ping,
		Redis:         func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		Logger:        logger,
		Env:           cfg.Env,
		Version:       version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-rootCtx.Done()
	logger.Info().Msg("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown error")
	}
	dispatcher.Wait()
}

func newEmailSender(ctx context.Context, cfg config.Config, logger zerolog.Logger) (notify.EmailSender, error) {
	switch cfg.EmailProvider {
	case "sendgrid":
		if s := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.EmailFrom,
			FromName:  cfg.EmailFromName,
		}, logger); s != nil {
			return s, nil
		}
		logger.Warn().Msg("SENDGRID_API_KEY not set, falling back to stub email sender")
	case "ses":
		return notify.NewSESSenderFromEnv(ctx, notify.SESConfig{
			Region:    cfg.AWSRegion,
			FromEmail: cfg.EmailFrom,
			FromName:  cfg.EmailFromName,
		}, logger)
	case "smtp":
		return notify.NewSMTPSender(notify.SMTPConfig{
			Host:      cfg.SMTPHost,
			Port:      cfg.SMTPPort,
			Username:  cfg.SMTPUsername,
			Password:  cfg.SMTPPassword,
			FromEmail: cfg.EmailFrom,
			FromName:  cfg.EmailFromName,
		}, logger), nil
	}
	return notify.NewStubEmailSender(logger), nil
}
