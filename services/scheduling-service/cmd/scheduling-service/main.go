package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/md-rashed-zaman/studiobook/libs/config"
	"github.com/md-rashed-zaman/studiobook/libs/db"
	"github.com/md-rashed-zaman/studiobook/libs/httpx"
	"github.com/md-rashed-zaman/studiobook/libs/kafkax"
	otelx "github.com/md-rashed-zaman/studiobook/libs/otel"
	"github.com/md-rashed-zaman/studiobook/libs/runtime"
	"github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/booking"
	"github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/consumer"
	"github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/grpcserver"
	"github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/handlers"
	"github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/inbox"
	"github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/outbox"
	"github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/storage"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	service := config.String("SERVICE_NAME", "scheduling-service")
	port, err := config.Port("PORT", "8085")
	if err != nil {
		panic(err)
	}
	grpcPort, err := config.Port("GRPC_PORT", "9095")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext(context.Background(), logger)
	defer stop()

	otelCfg := otelx.ConfigFromEnv(service)
	otelShutdown, err := otelx.Setup(ctx, otelCfg)
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}
	metricsHandler, metricsShutdown, err := otelx.SetupMetrics(ctx, otelCfg)
	if err != nil {
		logger.Error("metrics setup failed", "err", err)
		metricsHandler = http.NotFoundHandler()
	} else {
		defer func() { _ = metricsShutdown(context.Background()) }()
	}

	var (
		store    storage.Store
		source   outbox.Source
		recorder inbox.Recorder
		checks   []runtime.ReadyCheck
	)
	if dbURL := config.String("DATABASE_URL", ""); dbURL != "" {
		maxConns, err := config.Int("DB_MAX_CONNS", 10)
		if err != nil {
			panic(err)
		}
		pool, err := db.Open(ctx, dbURL, db.Options{MaxConns: int32(maxConns)})
		if err != nil {
			logger.Error("db connection failed", "err", err)
			panic(err)
		}
		defer pool.Close()
		if config.Bool("DB_AUTO_MIGRATE", false) {
			if err := storage.Migrate(ctx, pool); err != nil {
				logger.Error("db migration failed", "err", err)
				panic(err)
			}
			logger.Info("db migrations applied")
		}
		pg := storage.NewPostgres(pool)
		store, source, recorder = pg, pg.Outbox(), inbox.NewRepository(pool)
	} else {
		logger.Warn("DATABASE_URL not set; using in-memory store")
		mem := storage.NewMemory()
		store, source, recorder = mem, mem, inbox.NewMemory()
	}

	defaults, err := defaultsFromEnv()
	if err != nil {
		panic(err)
	}
	engine := booking.New(store, logger, booking.WithDefaults(defaults))
	checks = append(checks, runtime.ReadyCheck{Name: "store", Check: engine.Ping})

	brokers := config.String("KAFKA_BROKERS", "")
	if brokers != "" {
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	}
	rateLimitMW, rateLimitCheck, closeRedis := rateLimiter(logger)
	defer closeRedis()
	if rateLimitCheck.Check != nil {
		checks = append(checks, rateLimitCheck)
	}

	mux := runtime.NewBaseMuxWithReady(checks...)
	mux.Handle("/metrics", metricsHandler)
	handlers.New(engine, logger).Register(mux)

	requestTimeout, err := config.Millis("REQUEST_TIMEOUT_MS", 10*time.Second)
	if err != nil {
		panic(err)
	}
	bodyLimit, err := config.Int("REQUEST_BODY_LIMIT_BYTES", 1<<20)
	if err != nil {
		panic(err)
	}
	handler := httpx.Chain(mux,
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: config.List("CORS_ALLOWED_ORIGINS"),
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", httpx.RequestIDHeader, httpx.UserIDHeader, handlers.ProviderIDHeader},
			ExposedHeaders: []string{httpx.RequestIDHeader, "Retry-After"},
			MaxAge:         10 * time.Minute,
		}),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(int64(bodyLimit)),
		httpx.WithTimeout(requestTimeout),
		httpx.ForMethods(rateLimitMW, http.MethodPost),
	)
	handler = otelhttp.NewHandler(handler, "scheduling")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	pollEvery, err := config.Millis("OUTBOX_POLL_MS", 2*time.Second)
	if err != nil {
		panic(err)
	}
	batchSize, err := config.Int("OUTBOX_BATCH_SIZE", 50)
	if err != nil {
		panic(err)
	}
	publisher := outbox.NewPublisher(source, logger, outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: pollEvery,
		BatchSize: batchSize,
	})

	grpcSrv := grpcserver.New(logger, 10*time.Second, checks...)
	lis, err := net.Listen("tcp", ":"+grpcPort)
	if err != nil {
		logger.Error("grpc listen failed", "err", err)
		panic(err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "err", err)
		}
		logger.Info("http server stopped")
		return nil
	})
	g.Go(func() error { return grpcSrv.Serve(gctx, lis) })
	g.Go(func() error {
		publisher.Run(gctx)
		return nil
	})
	if brokers != "" {
		completions := consumer.New(logger, recorder, consumer.Config{
			Brokers: brokers,
			GroupID: config.String("KAFKA_GROUP_ID", service),
			Topic:   config.String("KAFKA_COMPLETION_TOPIC", "booking.completion.due.v1"),
		}, consumer.CompletionHandler(engine, logger))
		g.Go(func() error {
			completions.Run(gctx)
			return nil
		})
	} else {
		logger.Warn("completion consumer disabled (no kafka brokers configured)")
	}

	if err := g.Wait(); err != nil {
		logger.Error("scheduling service exited", "err", err)
	}
}

func defaultsFromEnv() (booking.Defaults, error) {
	before, err := config.Int("DEFAULT_BUFFER_BEFORE_MINUTES", 0)
	if err != nil {
		return booking.Defaults{}, err
	}
	after, err := config.Int("DEFAULT_BUFFER_AFTER_MINUTES", 0)
	if err != nil {
		return booking.Defaults{}, err
	}
	return booking.Defaults{
		Timezone:     config.String("DEFAULT_TIMEZONE", "UTC"),
		BufferBefore: before,
		BufferAfter:  after,
	}, nil
}

// rateLimiter prefers a shared Redis window and falls back to a per-process
// limiter when REDIS_ADDR is unset.
func rateLimiter(logger *slog.Logger) (httpx.Middleware, runtime.ReadyCheck, func()) {
	limit, err := config.Int("RATE_LIMIT_PER_MINUTE", 60)
	if err != nil || limit <= 0 {
		limit = 60
	}
	addr := config.String("REDIS_ADDR", "")
	if addr == "" {
		logger.Info("rate limiting enabled (in-memory)", "per_minute", limit)
		return httpx.NewRateLimiter(limit, time.Minute).Middleware(), runtime.ReadyCheck{}, func() {}
	}

	redisDB, err := config.Int("REDIS_DB", 0)
	if err != nil || redisDB < 0 {
		redisDB = 0
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: config.String("REDIS_PASSWORD", ""),
		DB:       redisDB,
	})
	rl := httpx.NewRedisRateLimiter(rdb, limit, time.Minute, config.String("RATE_LIMIT_PREFIX", "sched-rl"))
	logger.Info("rate limiting enabled (redis)", "per_minute", limit, "redis_addr", addr)
	check := runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}}
	return rl.Middleware(logger, config.Bool("RATE_LIMIT_FAIL_OPEN", true)), check, func() { _ = rdb.Close() }
}
