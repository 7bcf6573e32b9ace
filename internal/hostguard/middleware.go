package hostguard

import (
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-chi/cors"
)

// BadRequester writes 400 responses in the caller's error format.
type BadRequester interface {
	BadRequest(w http.ResponseWriter, r *http.Request, message string)
}

// TunnelHosts adds the request host to the store when it matches pattern.
// onNew, when set, runs once per newly registered host.
func TunnelHosts(store *Store, pattern *regexp.Regexp, logger *slog.Logger, onNew func(host string)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host := SplitHost(r.Host)
			if host != "" && pattern != nil && pattern.MatchString(host) && store.AddTunnelHost(host) {
				if logger != nil {
					logger.Info("tunnel host registered", slog.String("host", host))
				}
				if onNew != nil {
					onNew(host)
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AllowedHosts rejects requests whose Host header is not in the store.
func AllowedHosts(store *Store, errs BadRequester, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host := SplitHost(r.Host)
			if store.HostAllowed(host) {
				next.ServeHTTP(w, r)
				return
			}
			if logger != nil {
				logger.Warn("disallowed host", slog.String("host", r.Host), slog.String("path", r.URL.Path))
			}
			if errs != nil {
				errs.BadRequest(w, r, "Invalid HTTP_HOST header.")
				return
			}
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		})
	}
}

// CORS answers cross-origin requests for origins present in the store.
func CORS(store *Store) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowOriginFunc: func(r *http.Request, origin string) bool {
			return store.CORSOriginAllowed(origin)
		},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-CSRF-Token"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	})
}

// TrustedOrigin reports whether an unsafe request may proceed to token
// verification. Requests without an Origin header are left to the token check.
func TrustedOrigin(store *Store, r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	if origin == "null" {
		return false
	}
	if normalizeOrigin(origin) == requestOrigin(r) {
		return true
	}
	return store.CSRFOriginTrusted(origin)
}

func requestOrigin(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		scheme = "https"
	}
	return scheme + "://" + strings.ToLower(r.Host)
}
