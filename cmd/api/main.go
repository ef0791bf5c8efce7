package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"sneaky-linq/internal/channels"
	"sneaky-linq/internal/config"
	apihttp "sneaky-linq/internal/http"
	"sneaky-linq/internal/metrics"
	"sneaky-linq/internal/repository"
	"sneaky-linq/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger := newLogger(cfg)
	defer logger.Sync()

	if !cfg.Development() {
		gin.SetMode(gin.ReleaseMode)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.New(reg)

	g, gctx := errgroup.WithContext(ctx)

	var (
		registry repository.Registry
		limiter  service.ClaimLimiter
	)
	switch cfg.RegistryBackend {
	case config.BackendRedis:
		if cfg.RedisAddr == "" {
			logger.Fatal("REDIS_ADDR is required for the redis registry")
		}
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := redisClient.Ping(ctxPing).Err(); err != nil {
			logger.Fatal("redis ping failed", zap.Error(err))
		}
		cancel()
		registry = repository.NewRedisRegistry(redisClient, cfg.SessionTTL)
		limiter = service.NewRedisClaimLimiter(redisClient, cfg.ClaimRateWindow, cfg.ClaimRateMax)
	default:
		memory := repository.NewMemoryRegistry(cfg.SessionTTL)
		g.Go(func() error {
			return memory.RunSweeper(gctx, cfg.SweepInterval, func(removed int) {
				collector.ObserveSwept(removed)
				logger.Debug("expired sessions swept", zap.Int("removed", removed))
			})
		})
		registry = memory
		limiter = service.NewMemoryClaimLimiter(cfg.ClaimRateWindow, cfg.ClaimRateMax)
	}

	layer := channels.NewInstrumentedLayer(channels.NewHub(logger, cfg.WSWriteTimeout), collector)
	registrySvc := service.NewRegistryService(logger, registry, collector, limiter)
	relay := service.NewRelayRouter(logger, registrySvc, layer)

	wsHandler := apihttp.NewWSHandler(logger, registrySvc, relay, layer, collector, cfg.AllowedOrigins)
	healthHandler := apihttp.NewHealthHandler(logger, registrySvc)
	router := apihttp.NewRouter(logger, wsHandler, healthHandler, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		logger.Info("starting server",
			zap.String("port", cfg.HTTPPort),
			zap.String("registry", cfg.RegistryBackend),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		logger.Info("shutting down server")
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

func newLogger(cfg *config.Config) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Development() {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	return logger
}
