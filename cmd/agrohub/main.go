package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/agrohub/agrohub/internal/access"
	"github.com/agrohub/agrohub/internal/app"
	"github.com/agrohub/agrohub/internal/auth"
	"github.com/agrohub/agrohub/internal/hostguard"
	"github.com/agrohub/agrohub/internal/observability"
	"github.com/agrohub/agrohub/internal/platform/cache"
	"github.com/agrohub/agrohub/internal/platform/db"
	"github.com/agrohub/agrohub/internal/platform/httpx"
	"github.com/agrohub/agrohub/internal/realtime"
	"github.com/agrohub/agrohub/internal/shared"
	"github.com/agrohub/agrohub/internal/users"
	"github.com/agrohub/agrohub/internal/view"
	"github.com/agrohub/agrohub/internal/weather"
	"github.com/agrohub/agrohub/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	slog.SetDefault(logger)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("agrohub stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	if cfg.TracingEnabled {
		shutdown, err := observability.InitTracer("agrohub", os.Stdout, logger)
		if err != nil {
			return err
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(flushCtx); err != nil {
				logger.Warn("tracer shutdown", slog.Any("error", err))
			}
		}()
	}

	dbpool, err := db.New(ctx, db.Options{DSN: cfg.PGDSN, MaxConns: cfg.PGMaxConns})
	if err != nil {
		return err
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	templates, err := view.NewEngine()
	if err != nil {
		return err
	}
	templates.SetAdminPrefix(cfg.AdminPrefix)

	errs := &httpx.Responder{Pages: templates, Logger: logger, APIPrefix: cfg.APIPrefix, Debug: cfg.Debug}
	sessionManager := shared.NewSessionManager(redisClient, "agrohub_session", cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)
	metrics := observability.NewMetrics()
	hosts := hostguard.NewStore(cfg.HostConfig())

	auditLogger := shared.NewAuditLogger(dbpool)
	usersService := users.NewService(users.NewRepository(dbpool))
	usersHandler := users.NewHandler(logger, usersService, templates, csrfManager, errs)
	authService := auth.NewService(usersService, auth.NewRepository(dbpool), auditLogger, logger)
	authHandler := auth.NewHandler(logger, authService, templates, sessionManager, csrfManager, errs)
	gate := access.Middleware{Loader: usersService, Logger: logger, Errors: errs}

	jobClient, err := jobs.NewClient(cfg.RedisOptions())
	if err != nil {
		return err
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(cfg.RedisOptions())
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	weatherClient := &weather.Client{
		BaseURL: cfg.WeatherAPIURL,
		HTTP:    &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		Timeout: 3 * time.Second,
		Logger:  logger,
		Cache:   cache.NewJSON(redisClient, "agrohub:weather:"),
	}

	httpRouter := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		Templates:      templates,
		SessionManager: sessionManager,
		CSRFManager:    csrfManager,
		Metrics:        metrics,
		Hosts:          hosts,
		Errors:         errs,
		Access:         gate,
		AuthHandler:    authHandler,
		UsersHandler:   usersHandler,
		JobHandler:     jobs.NewHandler(inspector, logger),
		Stats:          usersService,
		Queues:         inspector,
		Announcer:      jobClient,
		Audit:          auditLogger,
		DB:             dbpool,
		Weather:        weatherClient,
	})

	hub := realtime.NewHub(realtime.NewRedisLayer(redisClient, logger), logger)
	wsRouter := app.NewWebSocketRouter(app.WebSocketParams{
		Logger:         logger,
		Hosts:          hosts,
		SessionManager: sessionManager,
		Errors:         errs,
		Access:         gate,
		Server:         realtime.NewServer(hub, errs, metrics, logger),
	})

	var handler http.Handler = app.ProtocolRouter{HTTP: httpRouter, WebSocket: wsRouter}
	if cfg.TracingEnabled {
		handler = otelhttp.NewHandler(handler, "agrohub")
	}

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      handler,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return hub.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("env", cfg.AppEnv))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
