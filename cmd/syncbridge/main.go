// Command syncbridge launches the change-event relay.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sourcegraph/conc"

	"github.com/coachpo/syncbridge/config"
	"github.com/coachpo/syncbridge/internal/backpressure"
	"github.com/coachpo/syncbridge/internal/deadletter"
	"github.com/coachpo/syncbridge/internal/dispatch"
	"github.com/coachpo/syncbridge/internal/domain/outboxstore"
	"github.com/coachpo/syncbridge/internal/domain/recordstore"
	"github.com/coachpo/syncbridge/internal/infra/bus/streambus"
	memorystore "github.com/coachpo/syncbridge/internal/infra/persistence/memory"
	"github.com/coachpo/syncbridge/internal/infra/persistence/migrations"
	"github.com/coachpo/syncbridge/internal/infra/persistence/postgres"
	"github.com/coachpo/syncbridge/internal/intake"
	"github.com/coachpo/syncbridge/internal/observability"
	"github.com/coachpo/syncbridge/internal/retention"
	"github.com/coachpo/syncbridge/internal/retry"
	"github.com/coachpo/syncbridge/lib/telemetry"
	"github.com/coachpo/syncbridge/pkg/circuitbreaker"
)

const (
	defaultConfigPath        = "config/syncbridge.yaml"
	relayLoggerPrefix        = "syncbridge "
	shutdownTimeout          = 30 * time.Second
	lifecycleShutdownTimeout = 10 * time.Second
	telemetryShutdownTimeout = 5 * time.Second
)

func main() {
	cfgPath := parseFlags()
	ctx, cancel := newSignalContext()
	defer cancel()

	logger := log.New(os.Stdout, relayLoggerPrefix, log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.Load(resolveConfigPath(cfgPath))
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	installLogger(cfg.Environment)
	logger.Printf("configuration initialised: env=%s, topic=%s", cfg.Environment, cfg.Stream.Topic)

	telemetryShutdown, err := initTelemetry(ctx, logger, cfg.Telemetry)
	if err != nil {
		logger.Fatalf("initialize telemetry: %v", err)
	}
	metrics := observability.NewRelayMetrics()

	store, pool, err := buildOutboxStore(ctx, logger, cfg.Database)
	if err != nil {
		logger.Fatalf("initialise outbox store: %v", err)
	}

	broker := streambus.NewMemoryBroker(streambus.MemoryConfig{BufferSize: cfg.Stream.BufferSize})
	registry := streambus.NewRegistry()
	controller := backpressure.New(registry, cfg.Stream.GroupID)

	dispatcher, err := buildDispatcher(cfg, controller, metrics)
	if err != nil {
		logger.Fatalf("initialise dispatcher: %v", err)
	}

	deadLetters := deadletter.New(broker, cfg.Stream.DeadLetterSuffix, deadletter.WithMetrics(metrics))
	pipeline := intake.New(store, recordstore.NewMemory(), dispatcher, controller, deadLetters,
		intake.WithMetrics(metrics))
	runner := intake.NewRunner(broker, registry, cfg.Stream.Topic, cfg.Stream.GroupID, pipeline.Handle)

	scheduler := retry.New(retry.Config{
		Period:       cfg.Scheduler.Period,
		InitialDelay: cfg.Retry.InitialDelay,
		MaxAttempts:  cfg.Retry.MaxAttempts,
	}, store, dispatcher, controller, retry.WithMetrics(metrics))

	sweeper := retention.New(retention.Config{
		MaxAge:   cfg.Retention.MaxAge,
		Schedule: cfg.Retention.Schedule,
	}, store)

	var lifecycle conc.WaitGroup
	lifecycle.Go(func() {
		if err := runner.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Printf("stream runner stopped: %v", err)
		}
	})
	scheduler.Start()
	if err := sweeper.Start(); err != nil {
		logger.Fatalf("start retention sweep: %v", err)
	}

	logger.Print("relay started; awaiting shutdown signal")
	<-ctx.Done()
	logger.Print("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	shutdownStart := time.Now()
	performGracefulShutdown(shutdownCtx, logger, gracefulShutdownConfig{
		mainCancel: cancel,
		lifecycle:  &lifecycle,
		scheduler:  scheduler,
		sweeper:    sweeper,
		broker:     broker,
		pool:       pool,
		telemetry:  telemetryShutdown,
	})

	logger.Printf("shutdown completed in %v", time.Since(shutdownStart))
}

func parseFlags() string {
	cfgPath := flag.String("config", "", fmt.Sprintf("Path to configuration file (default: %s)", defaultConfigPath))
	flag.Parse()
	return *cfgPath
}

func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return filepath.Clean(defaultConfigPath)
}

func installLogger(env config.Environment) {
	level := "info"
	if env == config.EnvDev {
		level = "debug"
	}
	observability.SetLogger(observability.NewZerologLogger(os.Stdout, level))
}

func initTelemetry(ctx context.Context, logger *log.Logger, cfg config.TelemetryConfig) (func(context.Context) error, error) {
	_, shutdown, err := telemetry.Init(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.OTLPEndpoint != "" {
		logger.Printf("telemetry initialized: endpoint=%s, service=%s", cfg.OTLPEndpoint, cfg.ServiceName)
	} else {
		logger.Print("telemetry disabled")
	}
	return shutdown, nil
}

// buildOutboxStore connects Postgres when a DSN is configured and falls back
// to the in-memory store otherwise. Migrations run before the pool opens so
// the relay never observes a half-migrated schema.
func buildOutboxStore(ctx context.Context, logger *log.Logger, cfg config.DatabaseConfig) (outboxstore.Store, *pgxpool.Pool, error) {
	if cfg.DSN == "" {
		logger.Print("no database configured; using in-memory outbox store")
		return memorystore.NewOutboxStore(), nil, nil
	}

	if err := migrations.Apply(ctx, cfg.DSN, logger); err != nil {
		return nil, nil, fmt.Errorf("apply migrations: %w", err)
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}
	logger.Print("outbox store backed by postgres")
	return postgres.NewOutboxStore(pool), pool, nil
}

func buildDispatcher(cfg config.Settings, controller *backpressure.Controller, metrics *observability.RelayMetrics) (*dispatch.Dispatcher, error) {
	dispatcher, err := dispatch.New(dispatch.Config{
		BaseURL:      cfg.Vendor.BaseURL,
		HTTPTimeout:  cfg.Vendor.HTTPTimeout,
		RateRequests: cfg.RateLimit.Requests,
		RatePeriod:   cfg.RateLimit.Period,
		RateMaxWait:  cfg.RateLimit.MaxWait,
		Breaker: circuitbreaker.Config{
			Window:           cfg.Breaker.Window,
			FailureThreshold: cfg.Breaker.FailureThreshold,
			Cooldown:         cfg.Breaker.Cooldown,
		},
	}, dispatch.WithMetrics(metrics))
	if err != nil {
		return nil, err
	}
	dispatcher.OnBreakerTransition(controller.HandleBreakerTransition)
	return dispatcher, nil
}

type gracefulShutdownConfig struct {
	mainCancel context.CancelFunc
	lifecycle  *conc.WaitGroup
	scheduler  *retry.Scheduler
	sweeper    *retention.Sweeper
	broker     *streambus.MemoryBroker
	pool       *pgxpool.Pool
	telemetry  func(context.Context) error
}

func performGracefulShutdown(ctx context.Context, logger *log.Logger, cfg gracefulShutdownConfig) {
	shutdownStep := func(name string, timeout time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		logger.Printf("shutdown: %s...", name)
		if err := fn(stepCtx); err != nil {
			logger.Printf("shutdown: %s failed: %v", name, err)
		} else {
			logger.Printf("shutdown: %s completed", name)
		}
	}

	if cfg.scheduler != nil {
		cfg.scheduler.Stop()
	}
	if cfg.sweeper != nil {
		cfg.sweeper.Stop()
	}

	logger.Print("shutdown: cancelling main context")
	if cfg.mainCancel != nil {
		cfg.mainCancel()
	}

	if cfg.lifecycle != nil {
		shutdownStep("waiting for lifecycle goroutines", lifecycleShutdownTimeout, func(stepCtx context.Context) error {
			done := make(chan struct{})
			go func() {
				cfg.lifecycle.Wait()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-stepCtx.Done():
				return fmt.Errorf("timeout waiting for goroutines: %w", stepCtx.Err())
			}
		})
	}

	if cfg.broker != nil {
		cfg.broker.Close()
	}
	if cfg.pool != nil {
		cfg.pool.Close()
	}

	if cfg.telemetry != nil {
		shutdownStep("shutting down telemetry", telemetryShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.telemetry(stepCtx)
		})
	}
}
