package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/telehealth-realtime/internal/api"
	"github.com/hackgods/telehealth-realtime/internal/call"
	"github.com/hackgods/telehealth-realtime/internal/config"
	"github.com/hackgods/telehealth-realtime/internal/db"
	"github.com/hackgods/telehealth-realtime/internal/intent"
	"github.com/hackgods/telehealth-realtime/internal/logging"
	"github.com/hackgods/telehealth-realtime/internal/notification"
	"github.com/hackgods/telehealth-realtime/internal/participant"
	"github.com/hackgods/telehealth-realtime/internal/presence"
	"github.com/hackgods/telehealth-realtime/internal/realtime"
	redisclient "github.com/hackgods/telehealth-realtime/internal/redis"
	"github.com/hackgods/telehealth-realtime/internal/registry"
	"github.com/hackgods/telehealth-realtime/internal/reminder"
	"github.com/hackgods/telehealth-realtime/internal/room"
	"github.com/hackgods/telehealth-realtime/internal/scheduler"
)

const version = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("api-server starting up", zap.String("env", cfg.Env), zap.String("http_port", cfg.HTTPPort))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		dir    participant.Directory
		store  scheduler.Store  = scheduler.NewMemoryStore()
		locker scheduler.Locker = scheduler.NewKeyedLocker()
		pgPool *pgxpool.Pool
		rdb    *redis.Client
	)

	if cfg.PostgresDSN != "" {
		pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
		pgPool, err = db.ConnectPostgres(pgCtx, cfg.PostgresDSN, int32(cfg.PostgresConns))
		if err == nil {
			err = db.EnsureSchema(pgCtx, pgPool)
		}
		cancelPg()
		if err != nil {
			logger.Fatal("postgres connection error", zap.Error(err))
		}
		defer pgPool.Close()
		logger.Info("connected to Postgres")

		dir = participant.NewPgDirectory(pgPool)
		store = scheduler.NewPgStore(pgPool)
	} else {
		demo, err := participant.NewDemoDirectory()
		if err != nil {
			logger.Fatal("demo directory error", zap.Error(err))
		}
		dir = demo
		logger.Info("POSTGRES_DSN not set, using in-memory sessions and demo accounts")
	}

	if cfg.RedisAddr != "" {
		rdb, err = redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
		if err != nil {
			logger.Fatal("redis connection error", zap.Error(err))
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Warn("error closing redis", zap.Error(err))
			}
		}()
		locker = redisclient.NewDoctorLocker(rdb, cfg.LockTTL)
		logger.Info("connected to Redis, doctor locks are shared across instances")
	}

	reg := registry.New(dir)
	router := room.NewRouter(reg, logger.Named("router"))
	tracker := presence.NewTracker(router, reg)
	inbox := notification.NewInbox(router)

	rule := scheduler.SlotRule{
		DaysAhead: cfg.SlotDaysAhead,
		DayStart:  cfg.SlotDayStart,
		DayEnd:    cfg.SlotDayEnd,
		Minutes:   cfg.SlotMinutes,
	}
	sched := scheduler.NewService(store, locker, router, dir, rule, logger.Named("scheduler"))
	sched.SetNotifier(inbox)

	relay := call.NewRelay(dir, router, tracker, reg, cfg.CallRingTimeout, logger.Named("call"))
	relay.SetNotifier(inbox)

	gateway := realtime.NewGateway(reg, router, tracker, sched, relay, inbox, realtime.Options{
		SendBuffer:      cfg.WSSendBuffer,
		EventsPerSecond: cfg.WSEventsPerSecond,
		EventBurst:      cfg.WSEventBurst,
		AllowedOrigins:  cfg.CORSOrigins,
	}, logger.Named("ws"))

	var detector intent.Detector = intent.StaticResponder{}
	if cfg.IntentServiceURL != "" {
		detector = intent.NewClient(cfg.IntentServiceURL)
	}

	go relay.Run(rootCtx, cfg.SweepInterval)
	go reminder.NewWorker(sched, inbox, logger.Named("reminder")).Run(rootCtx, cfg.ReminderEvery)

	handler := api.NewRouter(api.RouterConfig{
		Scheduler:   sched,
		Presence:    tracker,
		Inbox:       inbox,
		Intent:      detector,
		Directory:   dir,
		WebSocket:   gateway.ServeWS,
		PgPool:      pgPool,
		Redis:       rdb,
		Env:         cfg.Env,
		Version:     version,
		CORSOrigins: cfg.CORSOrigins,
		Logger:      logger.Named("http"),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-rootCtx.Done()
	logger.Info("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", zap.Error(err))
	}
	if err := gateway.Shutdown(shutdownCtx); err != nil {
		logger.Warn("websocket shutdown error", zap.Error(err))
	}

	logger.Info("api-server stopped")
}
