package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-telegram/bot"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/example/taxi-dispatch/internal/config"
	"github.com/example/taxi-dispatch/internal/dispatch"
	"github.com/example/taxi-dispatch/internal/eta"
	"github.com/example/taxi-dispatch/internal/fleet"
	httpapi "github.com/example/taxi-dispatch/internal/http"
	"github.com/example/taxi-dispatch/internal/ingest"
	"github.com/example/taxi-dispatch/internal/jobs"
	"github.com/example/taxi-dispatch/internal/lock"
	"github.com/example/taxi-dispatch/internal/logging"
	"github.com/example/taxi-dispatch/internal/models"
	"github.com/example/taxi-dispatch/internal/notify"
	"github.com/example/taxi-dispatch/internal/ordering"
	"github.com/example/taxi-dispatch/internal/pricing"
	"github.com/example/taxi-dispatch/internal/ratelimit"
	"github.com/example/taxi-dispatch/internal/storage"
	"github.com/example/taxi-dispatch/internal/trip"
)

// store is everything the services need from persistence.
type store interface {
	storage.OrderStore
	storage.DriverStore
}

// eventSink publishes order events and location reports.
type eventSink interface {
	Publish(ctx context.Context, ev models.OrderEvent) error
	Close() error
}

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg, err := config.LoadServerConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	logger := logging.NewLogger("taxi-api", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) error {
	var readiness []func(context.Context) error

	var st store
	if cfg.PGDSN != "" {
		if cfg.RunMigrations {
			if err := storage.Migrate(cfg.PGDSN); err != nil {
				return err
			}
			logger.Info("migrations applied")
		}
		pg, err := storage.NewPostgresStore(ctx, cfg.PGDSN)
		if err != nil {
			return err
		}
		defer pg.Close()
		readiness = append(readiness, pg.Ping)
		st = pg
	} else {
		logger.Warn("PG_DSN not set, using in-memory store")
		st = storage.NewMemoryStore()
	}

	limitCfg := ratelimit.DefaultConfig()
	limitCfg.PerMinute = cfg.MaxRequestsPerMinute
	limitCfg.PerHour = cfg.MaxRequestsPerHour

	var (
		locker  lock.Locker
		limiter ratelimit.Limiter
		jobList []jobs.Job
	)
	if cfg.RedisAddr != "" {
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rc.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rc.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
		}
		readiness = append(readiness, func(ctx context.Context) error { return rc.Ping(ctx).Err() })
		locker = lock.NewRedisLocker(rc, cfg.RedisPrefix)
		limiter = ratelimit.NewRedis(rc, limitCfg, cfg.RedisPrefix)
	} else {
		logger.Warn("REDIS_ADDR not set, locks and rate limits are process local")
		mem := ratelimit.NewMemory(limitCfg)
		locker = lock.NewLocal()
		limiter = mem
		jobList = append(jobList, jobs.NewRateLimiterCleanupJob(mem, cfg.RateLimitCleanup, logger))
	}

	var (
		events    eventSink = ingest.Nop{}
		locations fleet.LocationPublisher
	)
	if len(cfg.KafkaBrokers) > 0 {
		producer := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaLocationTopic, cfg.KafkaOrderTopic)
		events = producer
		locations = producer
		logger.Info("kafka producer configured", "brokers", cfg.KafkaBrokers, "location_topic", cfg.KafkaLocationTopic, "order_topic", cfg.KafkaOrderTopic)
	}
	defer events.Close()

	hub := notify.NewHub()
	wsRegistry := notify.NewWSRegistry(hub, logger)
	transports := []notify.Transport{wsRegistry}

	var tgBot *bot.Bot
	if cfg.BotToken != "" {
		tg := notify.NewTelegramTransport(nil, hub, logger)
		b, err := bot.New(cfg.BotToken, tg.Options()...)
		if err != nil {
			return fmt.Errorf("telegram bot: %w", err)
		}
		tg.Bind(b)
		tgBot = b
		transports = append(transports, tg)
	}

	gateway := notify.NewGateway(hub, notify.GatewayConfig{
		SendTimeout:  cfg.NotificationSendTimeout,
		SendAttempts: cfg.NotificationSendAttempts,
		RetryDelay:   notify.DefaultGatewayConfig().RetryDelay,
	}, logger, transports...)

	dcfg := dispatch.DefaultConfig()
	dcfg.OfferTimeout = cfg.NotificationTimeout
	dcfg.SearchTimeout = cfg.DriverSearchTimeout
	dcfg.LockTTL = cfg.DispatchLockTTL
	dcfg.MaxCandidates = cfg.DispatchMaxCandidates
	coordinator := dispatch.NewCoordinator(dispatch.Deps{
		Orders:   st,
		Drivers:  st,
		Notifier: gateway,
		Locker:   locker,
		Events:   events,
		Logger:   logger,
	}, dcfg)

	tariffs := pricing.DefaultTariffs()
	tariffs.Ride = pricing.Tariff{BaseFare: cfg.BaseFare, PerKmRate: cfg.PerKmRate, MinimumFare: cfg.MinimumFare}
	tariffs.Delivery.BaseFare = cfg.DeliveryBaseFare
	tariffs.Delivery.PerKmRate = cfg.PerKmRate
	tariffs.Delivery.MinimumFare = cfg.MinimumFare

	orders := ordering.NewService(ordering.Deps{
		Orders:     st,
		Drivers:    st,
		Pricing:    pricing.NewEngine(tariffs),
		Limiter:    limiter,
		Dispatcher: coordinator,
		Events:     events,
		Logger:     logger,
	}, eta.ParseTraffic(cfg.Traffic))
	drivers := fleet.NewService(fleet.Deps{
		Drivers:   st,
		Orders:    st,
		Limiter:   limiter,
		Locations: locations,
		Logger:    logger,
	})
	trips := trip.NewService(trip.Deps{
		Orders:   st,
		Drivers:  st,
		Events:   events,
		Notifier: gateway,
		Logger:   logger,
	})

	jobList = append(jobList, jobs.NewStaleSearchJob(st, coordinator, events, cfg.DriverSearchTimeout, cfg.StaleSearchGrace, cfg.SweepSchedule, logger))
	jm := jobs.NewJobManager(jobList...)
	if err := jm.StartAll(); err != nil {
		return fmt.Errorf("start jobs: %w", err)
	}
	defer jm.StopAll()

	api := httpapi.NewServer(httpapi.Deps{
		Orders:   orders,
		Fleet:    drivers,
		Trips:    trips,
		Dispatch: coordinator,
		Hub:      hub,
		WS:       wsRegistry,
		Limiter:  limiter,
		Ready: func(ctx context.Context) error {
			for _, check := range readiness {
				if err := check(ctx); err != nil {
					return err
				}
			}
			return nil
		},
		Logger: logger,
	})
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if tgBot != nil {
		g.Go(func() error {
			logger.Info("telegram bot polling")
			tgBot.Start(gctx)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		var errList []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errList = append(errList, fmt.Errorf("http shutdown: %w", err))
		}
		if err := coordinator.Close(shutdownCtx); err != nil {
			errList = append(errList, fmt.Errorf("dispatch shutdown: %w", err))
		}
		return errors.Join(errList...)
	})
	return g.Wait()
}
