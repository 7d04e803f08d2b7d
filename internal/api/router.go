package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/telehealth-realtime/internal/intent"
	"github.com/hackgods/telehealth-realtime/internal/notification"
	"github.com/hackgods/telehealth-realtime/internal/participant"
	"github.com/hackgods/telehealth-realtime/internal/presence"
	"github.com/hackgods/telehealth-realtime/internal/scheduler"
)

type RouterConfig struct {
	Scheduler   *scheduler.Service
	Presence    *presence.Tracker
	Inbox       *notification.Inbox
	Intent      intent.Detector
	Directory   participant.Directory
	WebSocket   http.HandlerFunc
	PgPool      *pgxpool.Pool
	Redis       *redis.Client
	Env         string
	Version     string
	CORSOrigins []string
	Logger      *zap.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: !(len(origins) == 1 && origins[0] == "*"),
		MaxAge:           300,
	})

	// Apply middleware
	r.Use(middleware.Recoverer)
	r.Use(c.Handler)
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/", health.Root)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Route("/api", func(r chi.Router) {
		r.Post("/login", loginHandler(cfg.Directory))
		r.Post("/message", messageHandler(cfg.Intent))

		r.Get("/sessions", listSessionsHandler(cfg.Scheduler))
		r.Post("/sessions", scheduleSessionHandler(cfg.Scheduler))
		r.Get("/sessions/{id}", getSessionHandler(cfg.Scheduler))
		r.Get("/doctor/{id}/slots", doctorSlotsHandler(cfg.Scheduler))

		r.Get("/presence", presenceHandler(cfg.Presence))
		r.Get("/notifications/{userId}", notificationsHandler(cfg.Inbox))
	})

	if cfg.WebSocket != nil {
		r.Get("/ws", cfg.WebSocket)
	}

	return r
}
