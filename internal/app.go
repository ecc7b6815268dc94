package internal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/broker"
	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/cache"
	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/config"
	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/domain"
	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/engine"
	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/kafka"
	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/metrics"
	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/relay"
	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/rest"
	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/scheduler"
	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/store"
	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const (
	credentialCooldown = 30 * time.Minute
	passLockPrefix     = "licensing:sweep:"
	cacheMaxEntries    = 10_000
)

// App centralizes dependency wiring for the licensing service.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	db        *gorm.DB
	redis     *redis.Client
	registry  *prometheus.Registry
	publisher *kafka.EventPublisher
	consumer  *kafka.ExecutionReportConsumer
	feed      *broker.HyperliquidFeed

	engine        *engine.Engine
	scheduler     *scheduler.Scheduler
	relay         *relay.Relay
	notifications *store.NotificationStore
	health        rest.ProviderHealth

	httpServer *http.Server
}

// NewApp builds an App with all required dependencies.
func NewApp(cfg config.Config, logger *zap.Logger) (*App, error) {
	db, err := store.Open(cfg)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(db); err != nil {
		_ = store.Close(db)
		return nil, err
	}

	clock := quartz.NewReal()
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	a := &App{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		redis:     redisClient,
		registry:  registry,
		publisher: kafka.NewEventPublisher(cfg, logger.Named("kafka")),
		consumer:  kafka.NewExecutionReportConsumer(cfg, logger.Named("kafka")),
		health:    rest.ProviderHealth{Mode: cfg.ProviderMode},
	}

	var activityCache cache.ActivityCache
	switch cfg.CacheBackend {
	case config.CacheBackendRedis:
		activityCache = cache.NewRedisCache(redisClient, cfg.CacheTTL, logger.Named("cache"))
	default:
		activityCache = cache.NewMemoryCache(clock, cfg.CacheTTL, cacheMaxEntries)
	}
	activity := broker.NewService(a.providers(clock), activityCache, cfg.ProviderTimeout, m, logger.Named("broker"))

	sinks := []engine.EventSink{a.publisher}
	if a.feed != nil {
		sinks = append(sinks, a.feed)
	}
	a.notifications = store.NewNotificationStore(db, clock)
	a.engine = engine.New(engine.Deps{
		Licenses:      store.NewLicenseStore(db, clock),
		Users:         store.NewUserStore(db),
		Ledger:        store.NewActivityStore(db),
		Notifications: a.notifications,
		Activity:      activity,
		Sinks:         sinks,
		Clock:         clock,
		Metrics:       m,
		Logger:        logger.Named("engine"),
	}, engine.Thresholds{
		InactivityDays: cfg.Licensing.InactivityThresholdDays,
		WarningDays:    cfg.Licensing.WarningThresholdDays,
		LookbackDays:   cfg.Licensing.LookbackDays,
	})

	a.scheduler = scheduler.New(a.engine,
		store.NewPurger(db),
		store.NewPassLock(redisClient, passLockPrefix, cfg.Licensing.SweepLockTTL),
		clock,
		scheduler.Config{
			Specs: scheduler.Specs{
				ActivitySweep: cfg.Schedule.ActivitySweep,
				WarningSweep:  cfg.Schedule.WarningSweep,
				AutoRevoke:    cfg.Schedule.AutoRevoke,
				Retention:     cfg.Schedule.Retention,
			},
			UserDelay: cfg.Licensing.SweepUserDelay,
			Retention: store.RetentionPolicy{
				ActivityRecords:   days(cfg.Retention.ActivityDays),
				ReadNotifications: days(cfg.Retention.NotificationDays),
				AuditEntries:      days(cfg.Retention.AuditDays),
			},
		},
		m, logger.Named("scheduler"))

	a.relay = relay.New(a.engine, store.NewOrderStore(db), a.publisher, clock, m, logger.Named("relay"))
	return a, nil
}

// providers builds the broker registry for the configured mode. Live mode
// also prepares the Hyperliquid fill feed.
func (a *App) providers(clock quartz.Clock) broker.Registry {
	cfg := a.cfg
	if cfg.ProviderMode == config.ProviderModeFake {
		a.logger.Warn("using deterministic fake broker providers", zap.Int64("seed", cfg.FakeProviderSeed))
		fakes := make([]broker.Provider, 0, len(domain.Brokers))
		for _, b := range domain.Brokers {
			fakes = append(fakes, broker.NewFakeProvider(b, cfg.FakeProviderSeed))
		}
		return broker.NewRegistry(fakes...)
	}

	client := &http.Client{Timeout: cfg.ProviderTimeout}
	creds := broker.NewCredentialPool(cfg.ExnessTokens, clock, credentialCooldown)
	if len(cfg.ExnessTokens) == 0 {
		a.logger.Warn("no Exness tokens configured, Exness checks will fail")
	}
	a.feed = broker.NewHyperliquidFeed(
		store.NewWatchlistStore(a.redis, cfg.HyperWatchlistKey),
		broker.WebsocketSubscriber(cfg.HyperWSURL, a.logger.Named("hyperliquid")),
		clock, a.logger.Named("hyperliquid"))
	a.health.Credentials = creds
	a.health.Feed = a.feed

	return broker.NewRegistry(
		broker.NewExnessProvider(cfg.ExnessBaseURL, client, creds, a.logger.Named("exness")),
		broker.NewPUPrimeProvider(cfg.PUPrimeBaseURL, cfg.PUPrimeAPIKey, cfg.PUPrimeAPISecret, client, clock, a.logger.Named("puprime")),
		broker.NewHyperliquidProvider(a.feed, broker.InfoFillFetcher(cfg.HyperAPIURL, client)),
	)
}

func days(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }

// Run starts background services and blocks until ctx cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer a.cleanup()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.runHTTPServer(gctx)
	})

	g.Go(func() error {
		if err := a.scheduler.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("run scheduler: %w", err)
		}
		return nil
	})

	if a.feed != nil {
		g.Go(func() error {
			if err := a.feed.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("start hyperliquid feed: %w", err)
			}
			return nil
		})
	}

	if a.consumer != nil {
		g.Go(func() error {
			err := a.consumer.Consume(gctx, a.relay.RecordExecution)
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("consume execution reports: %w", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return ctx.Err()
}

func (a *App) runHTTPServer(ctx context.Context) error {
	r, srv := rest.NewServer(a.cfg, a.logger.Named("http"), a.registry)
	a.httpServer = srv
	rest.RegisterRoutes(r,
		rest.NewAuthenticator(a.cfg.JWTSecret),
		rest.NewWebhookController(a.relay, a.logger.Named("webhook")),
		rest.NewUserController(a.engine, a.relay, a.notifications, a.logger.Named("http")),
		rest.NewAdminController(a.engine, a.scheduler, a.notifications, a.health, a.logger.Named("admin")),
	)

	serverErr := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server started", zap.String("addr", srv.Addr))
		serverErr <- srv.ListenAndServe()
	}()

	select {
	// App context shutdown:
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		err := <-serverErr
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return ctx.Err()
	// HTTP server error:
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (a *App) cleanup() {
	if a.consumer != nil {
		if err := a.consumer.Close(); err != nil {
			a.logger.Warn("error closing Kafka consumer", zap.Error(err))
		}
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("error closing Kafka publisher", zap.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("error closing Redis client", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := store.Close(a.db); err != nil {
			a.logger.Warn("error closing database", zap.Error(err))
		}
	}
}
