package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rishith2903/medreserve/libs/config"
	"github.com/rishith2903/medreserve/libs/db"
	"github.com/rishith2903/medreserve/libs/httpx"
	"github.com/rishith2903/medreserve/libs/kafkax"
	otelx "github.com/rishith2903/medreserve/libs/otel"
	"github.com/rishith2903/medreserve/libs/redisx"
	"github.com/rishith2903/medreserve/libs/runtime"
	"github.com/rishith2903/medreserve/services/booking-service/internal/booking"
	"github.com/rishith2903/medreserve/services/booking-service/internal/consumer"
	"github.com/rishith2903/medreserve/services/booking-service/internal/handlers"
	"github.com/rishith2903/medreserve/services/booking-service/internal/inbox"
	"github.com/rishith2903/medreserve/services/booking-service/internal/outbox"
	"github.com/rishith2903/medreserve/services/booking-service/internal/storage"
	"github.com/rishith2903/medreserve/services/booking-service/internal/sweep"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	if err := run(); err != nil {
		slog.Error("booking-service failed", "err", err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8083")
	if err != nil {
		return err
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		return err
	}
	txAttempts, err := config.Int("DB_TX_MAX_ATTEMPTS", 3, 1, 10)
	if err != nil {
		return err
	}
	pool, err := db.Open(ctx, dbURL, db.Options{TxAttempts: txAttempts})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		return err
	}
	defer pool.Close()

	checks := []runtime.ReadyCheck{{Name: "db", Check: db.ReadyCheck(pool)}}

	var rdb *redis.Client
	if redisURL := config.String("REDIS_URL", ""); redisURL != "" {
		rdb, err = redisx.Open(ctx, redisURL)
		if err != nil {
			// The directory still works uncached.
			logger.Error("redis unavailable; schedule cache disabled", "err", err)
			rdb = nil
		} else {
			defer func() { _ = rdb.Close() }()
			checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: redisx.ReadyCheck(rdb)})
		}
	}

	dir, cache, closeDir, err := newDirectory(logger, pool, rdb)
	if err != nil {
		return err
	}
	defer closeDir()

	if grpcPort := config.String("DIRECTORY_GRPC_PORT", ""); grpcPort != "" {
		if err := startDirectoryServer(ctx, logger, grpcPort, dir); err != nil {
			return err
		}
	}

	outboxRepo := outbox.NewRepository()
	store := storage.NewPostgres(pool, outboxRepo)
	svc := booking.NewService(store, dir, logger)

	brokers := config.String("KAFKA_BROKERS", "")
	checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(kafkax.SplitBrokers(brokers))})

	publisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   kafkax.SplitBrokers(brokers),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go publisher.Run(ctx)

	if cache != nil {
		scheduleConsumer := consumer.New(logger, inbox.NewRepository(pool), consumer.Config{
			Brokers: brokers,
			GroupID: config.String("KAFKA_GROUP_ID", "booking-service"),
			Topic:   config.String("KAFKA_DOCTOR_TOPIC", consumer.TopicDoctorScheduleUpdated),
		}, consumer.ScheduleUpdatedHandler(cache, logger))
		go scheduleConsumer.Run(ctx)
	}

	worker, err := newSweepWorker(store, svc, logger)
	if err != nil {
		return err
	}
	go worker.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(checks...)
	handlers.NewBookingHandler(svc, logger).Register(mux)

	requestTimeout, err := config.Duration("REQUEST_TIMEOUT_SECONDS", 10, time.Second)
	if err != nil {
		return err
	}
	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithRecover(logger),
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(requestTimeout),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	runtime.Serve(ctx, logger, srv, 10*time.Second)
	return nil
}

func newSweepWorker(store *storage.Postgres, svc *booking.Service, logger *slog.Logger) (*sweep.Worker, error) {
	interval, err := config.Duration("SWEEP_INTERVAL_SECONDS", 60, time.Second)
	if err != nil {
		return nil, err
	}
	lead, err := config.Duration("REMINDER_LEAD_MINUTES", 1440, time.Minute)
	if err != nil {
		return nil, err
	}
	grace, err := config.Duration("NO_SHOW_GRACE_MINUTES", 30, time.Minute)
	if err != nil {
		return nil, err
	}
	return sweep.NewWorker(store, svc, logger, sweep.WorkerConfig{
		Interval:     interval,
		ReminderLead: lead,
		NoShowGrace:  grace,
	}), nil
}
