package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/fare"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/httpapi"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/match"
	"github.com/example/ride-dispatch/internal/notify"
	"github.com/example/ride-dispatch/internal/payments"
	"github.com/example/ride-dispatch/internal/reaper"
	"github.com/example/ride-dispatch/internal/ride"
	"github.com/example/ride-dispatch/internal/storage"
	"github.com/example/ride-dispatch/internal/stream"
)

func main() {
	// .env is a local-dev convenience; absence is not an error
	_ = godotenv.Load()

	cfg, err := config.LoadServerConfig()
	if err != nil {
		logging.NewLogger("error").Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.PGDSN != "" && cfg.RunMigrations {
		migrate(cfg.PGDSN, logger)
	}

	// stores: postgres when configured, in-memory for local runs
	var (
		rides   storage.RideStore
		avail   storage.AvailabilityStore
		tokens  storage.TokenStore
		ratings storage.RatingStore
	)
	if cfg.PGDSN != "" {
		pg, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres unavailable", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		rides, avail, tokens, ratings = pg, pg, pg, pg
	} else {
		mem := storage.NewMemoryStore()
		rides, avail, tokens, ratings = mem, mem, mem, mem
		logger.Warn("PG_DSN not set, rides are held in memory only")
	}

	hub := notify.NewHub(logging.Component(logger, "hub"))

	var (
		rc     *redis.Client
		geoSrc geo.Source
		dedup  notify.Deduper
		bcast  notify.Broadcaster = hub
	)
	if cfg.RedisAddr != "" {
		rc = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rc.Close()
		geoSrc = geo.NewRedisGeo(rc, cfg.RedisGeoKey)
		dedup = &notify.RedisDeduper{Client: rc}
		bridge := notify.NewRedisBridge(rc, cfg.BridgeChannel, hub, logging.Component(logger, "bridge"))
		go bridge.Run(ctx)
		bcast = bridge
	} else {
		geoSrc = geo.NewIndex()
		dedup = notify.NewMemoryDeduper()
		logger.Warn("REDIS_ADDR not set, geo index and push dedup are process-local")
	}

	var provider notify.Provider
	if cfg.PushEndpoint != "" {
		provider = notify.NewFCMProvider(cfg.PushEndpoint, cfg.PushKey)
	}
	fanout := notify.NewFanout(bcast, provider, tokens, dedup, logging.Component(logger, "fanout"))
	fanout.DedupTTL = cfg.DedupTTL
	fanout.Start(ctx, cfg.PushWorkers)

	var router fare.Router
	if cfg.OSRMEndpoint != "" {
		router = fare.NewOSRMRouter(cfg.OSRMEndpoint)
	}
	calc := &fare.Calculator{
		Base:        cfg.BaseFare,
		PerKm:       cfg.PricePerKm,
		PerMinute:   cfg.PricePerMin,
		MinimumFare: cfg.MinimumFare,
		Router:      router,
		Logger:      logging.Component(logger, "fare"),
	}

	matcher := match.New(geoSrc)

	svc := ride.NewService(rides, avail, ratings, geoSrc, matcher, calc, fanout, logging.Component(logger, "rides"))
	svc.Tokens = tokens

	var locProd *stream.LocationProducer
	if len(cfg.KafkaBrokers) > 0 {
		locProd = stream.NewLocationProducer(cfg.KafkaBrokers, cfg.LocationsTopic)
		defer locProd.Close()
		evProd := stream.NewRideEventProducer(cfg.KafkaBrokers, cfg.RideEventsTopic)
		defer evProd.Close()
		svc.Stream = evProd
	}
	if os.Getenv("STRIPE_API_KEY") != "" {
		svc.Charger = payments.NewStripeClient()
	}

	rp := reaper.New(rides, svc, cfg.RequestTTL, cfg.ReaperInterval, logging.Component(logger, "reaper"))
	go rp.Run(ctx)

	api := httpapi.New(svc, matcher, hub, avail, locProd, logging.Component(logger, "http"))
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		logger.Info("ride-dispatch listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

// migrate applies the schema file directly; heavyweight migration tooling is
// overkill for a single idempotent script.
func migrate(dsn string, logger *slog.Logger) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		logger.Error("migration db open failed", "error", err)
		return
	}
	defer db.Close()
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_schema.sql"))
	if err != nil {
		logger.Error("migration file read failed", "error", err)
		return
	}
	if _, err := db.Exec(string(b)); err != nil {
		logger.Error("migration exec failed", "error", err)
		return
	}
	logger.Info("migration applied", "file", "001_create_schema.sql")
}
