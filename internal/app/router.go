package app

import (
	"context"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/hibiken/asynq"

	"github.com/agrohub/agrohub/internal/access"
	"github.com/agrohub/agrohub/internal/auth"
	"github.com/agrohub/agrohub/internal/hostguard"
	"github.com/agrohub/agrohub/internal/observability"
	"github.com/agrohub/agrohub/internal/platform/db"
	"github.com/agrohub/agrohub/internal/platform/httpx"
	"github.com/agrohub/agrohub/internal/realtime"
	"github.com/agrohub/agrohub/internal/shared"
	"github.com/agrohub/agrohub/internal/users"
	"github.com/agrohub/agrohub/internal/view"
	"github.com/agrohub/agrohub/internal/weather"
	"github.com/agrohub/agrohub/jobs"
	"github.com/agrohub/agrohub/web"
)

// StatsSource provides the admin dashboard counters.
type StatsSource interface {
	Stats(ctx context.Context) (users.Stats, error)
}

// Announcer queues broadcast messages for the worker.
type Announcer interface {
	EnqueueBroadcast(ctx context.Context, payload jobs.BroadcastPayload) (*asynq.TaskInfo, error)
}

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	Templates      *view.Engine
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager
	Metrics        *observability.Metrics
	Hosts          *hostguard.Store
	Errors         *httpx.Responder
	Access         access.Middleware

	AuthHandler  *auth.Handler
	UsersHandler *users.Handler
	JobHandler   *jobs.Handler
	Stats        StatsSource
	Queues       jobs.QueueInspector
	Announcer    Announcer
	Audit        shared.AuditRecorder
	DB           db.Pinger
	Weather      *weather.Client
}

// NewRouter constructs the chi.Router with Agrohub defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
		Hosts:          params.Hosts,
		Errors:         params.Errors,
		Access:         params.Access,
	}) {
		r.Use(mw)
	}

	// Set before any Route call so sub-routers inherit them.
	r.NotFound(params.Errors.NotFoundHandler())
	r.MethodNotAllowed(params.Errors.MethodNotAllowedHandler())

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	pages := &pageHandler{params: params}
	r.Get("/welcome", pages.landing)
	r.Get("/", pages.root)
	r.Get("/home", pages.home)

	if params.AuthHandler != nil {
		r.Route("/auth", func(r chi.Router) {
			r.Use(httprate.Limit(20, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))
			params.AuthHandler.MountRoutes(r)
		})
	}

	admin := &adminHandler{params: params}
	r.Route(params.Config.AdminPrefix, func(r chi.Router) {
		r.Get("/", admin.index)
		r.With(params.Access.RequirePrivileged).Post("/announcements", admin.announce)
		if params.UsersHandler != nil {
			params.UsersHandler.MountAdminRoutes(r)
		}
		if params.JobHandler != nil {
			r.Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	api := &apiHandler{params: params}
	r.Route(params.Config.APIPrefix, func(r chi.Router) {
		r.Use(RequireAPIKey(params.Config.APIKey, params.Errors))
		r.Get("/health", api.health)
		r.Get("/weather", api.weather)
		if params.UsersHandler != nil {
			params.UsersHandler.MountAPIRoutes(r)
		}
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	staticFS, err := fs.Sub(web.Static, "static")
	if err != nil {
		params.Logger.Error("create static sub filesystem", slog.Any("error", err))
	} else {
		fileServer := http.StripPrefix("/static/", http.FileServer(http.FS(staticFS)))
		r.Handle("/static/*", staticCacheHandler(fileServer))
	}

	return r
}

// WebSocketParams groups dependencies for the WebSocket chain.
type WebSocketParams struct {
	Logger         *slog.Logger
	Hosts          *hostguard.Store
	SessionManager *shared.SessionManager
	Errors         *httpx.Responder
	Access         access.Middleware
	Server         *realtime.Server
}

// NewWebSocketRouter validates the handshake origin, loads the session and
// principal, then dispatches by URL.
func NewWebSocketRouter(params WebSocketParams) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.RequestID)
	r.Use(realtime.OriginValidator(params.Hosts, params.Errors, params.Logger))
	r.Use(realtime.Sessions(params.SessionManager, params.Logger))
	r.Use(params.Access.Authenticate)
	r.NotFound(params.Errors.NotFoundHandler())
	r.MethodNotAllowed(params.Errors.MethodNotAllowedHandler())
	params.Server.MountRoutes(r)
	return r
}

// staticCacheHandler wraps a file server with Cache-Control headers.
// Static assets are cached for one hour.
func staticCacheHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=3600")
		next.ServeHTTP(w, r)
	})
}
