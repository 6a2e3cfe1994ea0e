// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/reportflow/notifier/internal/config"
	"github.com/reportflow/notifier/internal/dedupe"
	"github.com/reportflow/notifier/internal/delivery"
	"github.com/reportflow/notifier/internal/delivery/email"
	"github.com/reportflow/notifier/internal/delivery/push"
	"github.com/reportflow/notifier/internal/delivery/slack"
	"github.com/reportflow/notifier/internal/delivery/sms"
	"github.com/reportflow/notifier/internal/delivery/teams"
	"github.com/reportflow/notifier/internal/delivery/webhook"
	historypostgres "github.com/reportflow/notifier/internal/history/postgres"
	"github.com/reportflow/notifier/internal/pkg/httputil"
	"github.com/reportflow/notifier/internal/pkg/metrics"
	"github.com/reportflow/notifier/internal/pkg/postgres"
	redisutil "github.com/reportflow/notifier/internal/pkg/redis"
	"github.com/reportflow/notifier/internal/preferences"
	preferencespostgres "github.com/reportflow/notifier/internal/preferences/postgres"
	"github.com/reportflow/notifier/internal/render"
	"github.com/reportflow/notifier/internal/retry"
	"github.com/reportflow/notifier/migrations"
)

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	db            *pgxpool.Pool
	server        *http.Server
	metricsServer *http.Server
	bgCancel      context.CancelFunc
	scheduler     *retry.Scheduler
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)

	connectCtx, connectCancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout)
	defer connectCancel()

	db, err := postgres.Connect(connectCtx, postgres.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectAttempts: cfg.Database.ConnectAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if cfg.Database.Migrate {
		if err := postgres.Migrate(migrations.FS, ".", cfg.Database.URL); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())

	app := &App{
		config:   cfg,
		logger:   logger,
		db:       db,
		bgCancel: bgCancel,
	}

	router, scheduler, err := app.setup(bgCtx)
	if err != nil {
		db.Close()
		bgCancel()
		return nil, fmt.Errorf("setup application: %w", err)
	}
	app.scheduler = scheduler

	go app.collectDBMetrics(bgCtx)

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

// Run starts the HTTP servers and the retry scheduler.
func (a *App) Run() error {
	a.scheduler.Start(context.Background())

	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
	)

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	a.bgCancel()

	// Stop the scheduler first so no new sends start during drain
	a.scheduler.Stop()

	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := a.server.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
			mu.Unlock()
		}
	}()

	go func() {
		defer wg.Done()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
			mu.Unlock()
		}
	}()

	wg.Wait()

	a.db.Close()

	return errors.Join(errs...)
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// Scheduler returns the retry scheduler instance, for tests.
func (a *App) Scheduler() *retry.Scheduler {
	return a.scheduler
}

func (a *App) setup(bgCtx context.Context) (*chi.Mux, *retry.Scheduler, error) {
	renderer, err := render.NewRenderer()
	if err != nil {
		return nil, nil, fmt.Errorf("create renderer: %w", err)
	}

	prefsRepo := preferencespostgres.NewRepository(a.db)
	resolver := preferences.NewResolver(prefsRepo)
	store := historypostgres.NewStore(a.db)

	registry, err := a.buildRegistry()
	if err != nil {
		return nil, nil, err
	}
	a.logger.Info("dispatchers configured", "channels", registry.Channels())

	var deduper delivery.Deduper
	if a.config.Redis.Enabled {
		client, err := redisutil.Connect(bgCtx, redisutil.Config{
			URL:             a.config.Redis.URL,
			ConnectTimeout:  a.config.Redis.ConnectTimeout,
			ConnectAttempts: a.config.Redis.ConnectAttempts,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connect to redis: %w", err)
		}
		deduper = dedupe.New(client, a.config.Redis.DedupeTTL)
	} else {
		a.logger.Warn("redis disabled: duplicate event deliveries will not be suppressed")
	}

	scheduler := retry.NewScheduler(retry.Config{
		PollInterval: a.config.Retry.PollInterval,
		ClaimLease:   a.config.Retry.ClaimLease,
		BatchSize:    a.config.Retry.BatchSize,
		NumWorkers:   a.config.Retry.NumWorkers,
		Backoff: retry.Backoff{
			Initial:    a.config.Retry.InitialBackoff,
			Max:        a.config.Retry.MaxBackoff,
			Multiplier: a.config.Retry.BackoffMultiplier,
			Jitter:     a.config.Retry.JitterFactor,
		},
	}, store, registry, renderer, prefsRepo)

	coordinator := delivery.NewCoordinator(delivery.Config{
		MaxConcurrent:     a.config.Delivery.MaxConcurrent,
		DefaultMaxRetries: a.config.Delivery.DefaultMaxRetries,
		ProviderRate:      a.config.Delivery.ProviderRate,
		ProviderBurst:     a.config.Delivery.ProviderBurst,
	}, registry, resolver, renderer, store, scheduler, deduper)

	handler := delivery.NewHandler(coordinator, store)

	go a.collectQueueMetrics(bgCtx, store)

	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)

	r.Route("/api/v1", func(r chi.Router) {
		handler.RegisterRoutes(r)
	})

	return r, scheduler, nil
}

// buildRegistry constructs the dispatcher set from configuration. Webhook
// style channels are always available since their endpoints come from user
// configured targets; personal channels need provider credentials.
func (a *App) buildRegistry() (*delivery.Registry, error) {
	dispatchers := []delivery.Dispatcher{
		slack.NewSender(slack.Config{}),
		teams.NewSender(teams.Config{}),
		webhook.NewSender(webhook.Config{}),
	}

	if a.config.Email.Enabled {
		sender, err := email.NewSender(email.Config{
			Provider:             a.config.Email.Provider,
			FromAddress:          a.config.Email.FromAddress,
			SMTPHost:             a.config.Email.SMTPHost,
			SMTPPort:             a.config.Email.SMTPPort,
			SMTPUser:             a.config.Email.SMTPUser,
			SMTPPassword:         a.config.Email.SMTPPassword,
			PostmarkServerToken:  a.config.Email.PostmarkServerToken,
			PostmarkAccountToken: a.config.Email.PostmarkAccountToken,
		})
		if err != nil {
			return nil, fmt.Errorf("create email sender: %w", err)
		}
		dispatchers = append(dispatchers, sender)
	} else {
		a.logger.Warn("email sender is disabled: email notifications will not be sent")
	}

	if a.config.SMS.Enabled {
		sender, err := sms.NewSender(sms.Config{
			APIURL:  a.config.SMS.APIURL,
			APIKey:  a.config.SMS.APIKey,
			From:    a.config.SMS.From,
			Timeout: a.config.SMS.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("create sms sender: %w", err)
		}
		dispatchers = append(dispatchers, sender)
	} else {
		a.logger.Warn("sms sender is disabled: sms notifications will not be sent")
	}

	if a.config.Push.Enabled {
		sender, err := push.NewSender(push.Config{
			APIURL:  a.config.Push.APIURL,
			APIKey:  a.config.Push.APIKey,
			Timeout: a.config.Push.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("create push sender: %w", err)
		}
		dispatchers = append(dispatchers, sender)
	} else {
		a.logger.Warn("push sender is disabled: push notifications will not be sent")
	}

	return delivery.NewRegistry(dispatchers...), nil
}

func (a *App) collectDBMetrics(ctx context.Context) {
	metrics.RecordDBPoolMetrics(a.db)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			metrics.RecordDBPoolMetrics(a.db)
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) collectQueueMetrics(ctx context.Context, store *historypostgres.Store) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			counts, err := store.CountByStatus(ctx)
			if err != nil {
				a.logger.Error("failed to get queue stats", "error", err)
				continue
			}
			delivery.RecordQueueStats(counts)
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "ok")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.db.Ping(ctx); err != nil {
		httputil.Text(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	httputil.Text(w, http.StatusOK, "ok")
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
