package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	apppkg "github.com/mark3748/helpdesk-sla/cmd/api/app"
	authpkg "github.com/mark3748/helpdesk-sla/cmd/api/auth"
	slaspkg "github.com/mark3748/helpdesk-sla/cmd/api/slas"
	"github.com/mark3748/helpdesk-sla/internal/events"
	"github.com/mark3748/helpdesk-sla/internal/lock"
	"github.com/mark3748/helpdesk-sla/internal/queue"
	"github.com/mark3748/helpdesk-sla/internal/sla"
	"github.com/mark3748/helpdesk-sla/internal/telemetry"
	"github.com/mark3748/helpdesk-sla/migrations"
)

func main() {
	_ = godotenv.Load()
	cfg := apppkg.GetConfig()
	if cfg.Env == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing := telemetry.Setup(ctx, "helpdesk-sla-api")
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	loc, err := cfg.Location()
	if err != nil {
		log.Fatal().Err(err).Str("timezone", cfg.SLATimezone).Msg("load sla timezone")
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	defer pool.Close()

	if err := migrations.Up(ctx, cfg.DatabaseURL); err != nil {
		log.Fatal().Err(err).Msg("migrate up")
	}

	var keyf jwt.Keyfunc
	if cfg.JWKSURL != "" && cfg.AuthMode != "local" {
		jwks, err := authpkg.FetchJWKS(ctx, cfg.JWKSURL)
		if err != nil {
			log.Fatal().Err(err).Str("jwks_url", cfg.JWKSURL).Msg("fetch jwks")
		}
		go jwks.RefreshEvery(ctx, 10*time.Minute)
		keyf = jwks.Keyfunc
	}

	// Redis (optional): cross-process ticket locks and breach jobs.
	var rdb *redis.Client
	var locker lock.Locker = lock.NewLocal()
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Error().Err(err).Msg("redis ping")
		}
		defer rdb.Close()
		locker = lock.NewRedis(rdb, 10*time.Second, "sla")
	}

	engine := sla.NewEngine(
		&sla.PGStore{DB: pool},
		sla.DBPolicies{DB: pool},
		&sla.CalendarLoader{DB: pool, Location: loc, TTL: cfg.CalendarTTL},
		locker,
	)
	engine.Events = events.Recorder{DB: pool}
	if rdb != nil {
		engine.Notifier = queue.NewPublisher(rdb)
	}

	a := apppkg.NewApp(cfg, pool, keyf, rdb, engine)
	routes(a)

	srv := &http.Server{
		Addr:           cfg.Addr,
		Handler:        a.R,
		ReadTimeout:    15 * time.Second,
		MaxHeaderBytes: 1 << 20,
		// no WriteTimeout: /sla/events holds its response open
	}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()
	log.Info().Str("addr", cfg.Addr).Str("timezone", loc.String()).Msg("api listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("listen")
	}
}

func routes(a *apppkg.App) {
	a.R.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })
	a.R.GET("/metrics", gin.WrapH(promhttp.Handler()))

	auth := a.R.Group("/")
	auth.Use(authpkg.Middleware(a))
	auth.GET("/me", authpkg.Me)

	agent := auth.Group("/", authpkg.RequireRole("agent"))
	agent.POST("/tickets/:id/sla", slaspkg.Create(a))
	agent.GET("/tickets/:id/sla", slaspkg.Get(a))
	agent.POST("/tickets/:id/sla/first-response", slaspkg.FirstResponse(a))
	agent.POST("/tickets/:id/sla/pause", slaspkg.Pause(a))
	agent.POST("/tickets/:id/sla/resume", slaspkg.Resume(a))
	agent.POST("/tickets/:id/sla/resolve", slaspkg.Resolve(a))
	agent.POST("/tickets/:id/sla/priority", slaspkg.Reprioritize(a))
	agent.GET("/sla/policies", slaspkg.List(a))
	agent.GET("/sla/calendar", slaspkg.Calendar(a))
	agent.GET("/sla/events", slaspkg.Stream(a))

	admin := auth.Group("/sla", authpkg.RequireRole("sla_admin"))
	admin.PUT("/policies", slaspkg.Upsert(a))
	admin.POST("/policies/:id/deactivate", slaspkg.Deactivate(a))
	admin.PUT("/calendar/hours", slaspkg.ReplaceHours(a))
	admin.POST("/calendar/holidays", slaspkg.AddHoliday(a))
	admin.DELETE("/calendar/holidays/:date", slaspkg.DeleteHoliday(a))
}
