package main

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/glowslot/libs/config"
	"github.com/md-rashed-zaman/glowslot/libs/db"
	"github.com/md-rashed-zaman/glowslot/libs/grpcx"
	"github.com/md-rashed-zaman/glowslot/libs/httpx"
	"github.com/md-rashed-zaman/glowslot/libs/kafkax"
	otelx "github.com/md-rashed-zaman/glowslot/libs/otel"
	"github.com/md-rashed-zaman/glowslot/libs/runtime"
	"github.com/md-rashed-zaman/glowslot/services/availability-service/internal/availability"
	"github.com/md-rashed-zaman/glowslot/services/availability-service/internal/cache"
	"github.com/md-rashed-zaman/glowslot/services/availability-service/internal/consumer"
	"github.com/md-rashed-zaman/glowslot/services/availability-service/internal/handlers"
	"github.com/md-rashed-zaman/glowslot/services/availability-service/internal/loader"
	"github.com/md-rashed-zaman/glowslot/services/availability-service/internal/storage"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		panic(err)
	}
	service := config.String("SERVICE_NAME", "availability-service")
	port, err := config.Port("PORT", "8085")
	if err != nil {
		panic(err)
	}
	grpcPort, err := config.Port("GRPC_PORT", "9095")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
		otelShutdown = nil
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL, db.Options{
		MaxConns: int32(config.Int("DB_MAX_CONNS", 10)),
	})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	checks := []runtime.ReadyCheck{{Name: "db", Check: db.ReadyCheck(pool)}}

	var rdb *redis.Client
	var scheduleCache loader.ScheduleCache
	var invalidator consumer.Invalidator
	if addr := strings.TrimSpace(config.String("REDIS_ADDR", "")); addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       config.Int("REDIS_DB", 0),
		})
		defer func() { _ = rdb.Close() }()

		sc := cache.NewScheduleCache(rdb,
			config.Seconds("SCHEDULE_CACHE_TTL_SECONDS", 5*time.Minute),
			config.String("SCHEDULE_CACHE_PREFIX", "avail:schedule"),
		)
		scheduleCache = sc
		invalidator = sc
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: cache.ReadyCheck(rdb)})
		logger.Info("schedule cache enabled", "redis_addr", addr)
	}

	brokers := config.String("KAFKA_BROKERS", "")
	if invalidator != nil && strings.TrimSpace(brokers) != "" {
		topics := config.List("KAFKA_SCHEDULE_TOPICS", "provider.schedule.changed.v1,provider.blackout.changed.v1")
		scheduleConsumer := consumer.New(logger, consumer.Config{
			Brokers: brokers,
			GroupID: config.String("KAFKA_GROUP_ID", service),
			Topics:  topics,
		}, invalidator)
		go scheduleConsumer.Run(ctx)
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers, topics...)})
	}

	repo := storage.NewConstraintRepository(pool)
	constraintLoader := loader.New(repo, scheduleCache, logger,
		time.Duration(config.Int("MAX_BOOKING_MINUTES", 480))*time.Minute,
	)
	engine := availability.NewEngine(availability.DefaultBufferPolicy)

	portalSecret := config.String("PORTAL_TOKEN_SECRET", "")
	if portalSecret == "" {
		logger.Warn("PORTAL_TOKEN_SECRET not set; portal availability rejects every token")
	}
	availabilityHandler := handlers.NewAvailabilityHandler(constraintLoader, engine, logger, handlers.Options{
		DefaultSlotIntervalMinutes: config.Int("DEFAULT_SLOT_INTERVAL_MINUTES", 15),
		PortalTokenSecret:          portalSecret,
	})

	mux := runtime.NewBaseMuxWithReady(checks...)
	availabilityHandler.Register(mux)

	var counter httpx.Counter = httpx.NewMemoryCounter(time.Minute)
	if rdb != nil {
		counter = httpx.NewRedisCounter(rdb, time.Minute, config.String("RATE_LIMIT_PREFIX", "rl:availability"))
	}
	trustedProxies, err := httpx.ParseTrustedProxies(config.List("RATE_LIMIT_TRUSTED_PROXIES", ""))
	if err != nil {
		panic(err)
	}
	rateLimit := httpx.RateLimit(counter, httpx.RateLimitPolicy{
		Limit:          config.Int("RATE_LIMIT_PER_MINUTE", 120),
		Exempt:         []string{"/healthz", "/readyz"},
		FailOpen:       config.Bool("RATE_LIMIT_FAIL_OPEN", true),
		TrustedProxies: trustedProxies,
		Logger:         logger,
	})

	httpHandler := httpx.Chain(mux,
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: config.List("CORS_ALLOWED_ORIGINS", ""),
			AllowedMethods: []string{http.MethodGet, http.MethodOptions},
			AllowedHeaders: config.List("CORS_ALLOWED_HEADERS", "Authorization,Content-Type,X-Request-Id"),
			MaxAge:         config.Seconds("CORS_MAX_AGE_SECONDS", 10*time.Minute),
		}),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithTimeout(config.Seconds("REQUEST_TIMEOUT_SECONDS", 10*time.Second)),
		rateLimit,
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "availability")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer, healthServer := grpcx.NewServer(logger)
	go grpcx.WatchReadiness(ctx, healthServer, service, config.Seconds("READINESS_INTERVAL_SECONDS", 10*time.Second), logger, checks...)

	lis, err := net.Listen("tcp", ":"+grpcPort)
	if err != nil {
		logger.Error("grpc listen failed", "err", err)
		panic(err)
	}
	go func() {
		logger.Info("grpc server starting", "addr", lis.Addr().String())
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	_ = runtime.Shutdown(10*time.Second, logger,
		runtime.ShutdownStep{Name: "http", Fn: srv.Shutdown},
		runtime.ShutdownStep{Name: "grpc", Fn: func(ctx context.Context) error {
			done := make(chan struct{})
			go func() {
				grpcServer.GracefulStop()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				grpcServer.Stop()
				return ctx.Err()
			}
		}},
		runtime.ShutdownStep{Name: "otel", Fn: otelShutdown},
	)
}
