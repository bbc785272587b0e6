package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/example/alpescab/internal/auth"
	"github.com/example/alpescab/internal/config"
	"github.com/example/alpescab/internal/dispatch/availability"
	"github.com/example/alpescab/internal/dispatch/handler"
	"github.com/example/alpescab/internal/dispatch/ledger"
	"github.com/example/alpescab/internal/dispatch/pool"
	"github.com/example/alpescab/internal/dispatch/registry"
	dispatchsvc "github.com/example/alpescab/internal/dispatch/service"
	"github.com/example/alpescab/internal/events"
	appmiddleware "github.com/example/alpescab/internal/http/middleware"
	"github.com/example/alpescab/internal/telemetry"
	"github.com/example/alpescab/pkg/observability"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to YAML config")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := observability.SetupLogger("dispatch-service")
	defer logger.Sync() //nolint:errcheck

	shutdown, err := observability.SetupTracer(ctx, "dispatch-service")
	if err != nil {
		logger.Warn("tracer setup failed", zap.Error(err))
	} else {
		defer shutdown(context.Background())
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("redis ping", zap.Error(err))
		}
		defer redisClient.Close()
	}

	var natsConn *nats.Conn
	if cfg.NATS.URL != "" {
		if conn, err := nats.Connect(cfg.NATS.URL, nats.Name("dispatchservice")); err == nil {
			natsConn = conn
			defer conn.Drain()
		} else {
			logger.Warn("nats connection failed", zap.Error(err))
		}
	}

	reg := registry.NewMemory()
	store := availability.NewStore(logger.Named("availability"))
	led := ledger.New(logger.Named("ledger"))
	journal := events.NewJournal()

	poolOpts := []pool.Option{}
	if redisClient != nil {
		poolOpts = append(poolOpts, pool.WithFence(pool.NewRedisFence(redisClient, ""), cfg.Dispatch.FenceTTL))
	}
	drivers := pool.New(logger.Named("pool"), poolOpts...)

	observer := telemetry.NewObserver()
	ranker := telemetry.NewProximityRanker(observer, cfg.Telemetry.MaxPositionAge)

	svc := dispatchsvc.New(dispatchsvc.Deps{
		Registry: reg,
		Pool:     drivers,
		Ledger:   led,
		Events:   journal,
		Ranker:   ranker,
		Logger:   logger.Named("dispatch"),
		Pause:    cfg.History.Pause,
	})

	api := handler.NewHTTP(svc, store, reg, drivers).Router()
	if cfg.Auth.JWTSecret != "" {
		api = auth.Middleware(cfg.Auth.JWTSecret)(api)
	}
	limiter := appmiddleware.NewRateLimiter(redisClient,
		appmiddleware.RateConfig{Rate: float64(cfg.HTTP.ReadRPS), Burst: float64(cfg.HTTP.ReadRPS) * 2},
		appmiddleware.RateConfig{Rate: float64(cfg.HTTP.WriteRPS), Burst: float64(cfg.HTTP.WriteRPS) * 2},
	)

	r := chi.NewRouter()
	r.Mount("/", limiter.Middleware(api))
	r.Mount("/observability", observability.MetricsRouter(readyChecks(redisClient, natsConn)...))

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if natsConn != nil {
		publisher := events.NewNATSPublisher(natsConn, cfg.NATS.Subject)
		worker := events.NewWorker(journal, publisher, logger.Named("events"), events.WorkerConfig{
			PollInterval: cfg.Events.PollInterval,
			BatchSize:    cfg.Events.BatchSize,
			RetryMax:     cfg.Events.RetryMax,
		})
		go func() {
			if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("event worker stopped", zap.Error(err))
			}
		}()
	} else {
		logger.Warn("event publishing disabled, journal only")
	}

	go runGRPC(logger, cfg.GRPC.Addr, observer)

	go func() {
		logger.Info("dispatch service listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func runGRPC(logger *zap.Logger, addr string, observer *telemetry.Observer) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Fatal("listen grpc", zap.Error(err))
	}

	srv := grpc.NewServer()
	telemetry.RegisterTelemetryServer(srv, telemetry.NewServer(observer))
	logger.Info("telemetry grpc listening", zap.String("addr", lis.Addr().String()))
	if err := srv.Serve(lis); err != nil {
		logger.Fatal("grpc serve", zap.Error(err))
	}
}

func readyChecks(redisClient *redis.Client, natsConn *nats.Conn) []observability.ReadyCheck {
	var checks []observability.ReadyCheck
	if redisClient != nil {
		checks = append(checks, observability.ReadyCheck{
			Name:  "redis",
			Probe: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
	}
	if natsConn != nil {
		checks = append(checks, observability.ReadyCheck{
			Name: "nats",
			Probe: func(context.Context) error {
				if !natsConn.IsConnected() {
					return errors.New("disconnected")
				}
				return nil
			},
		})
	}
	return checks
}
