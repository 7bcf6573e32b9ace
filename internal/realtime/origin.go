package realtime

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/agrohub/agrohub/internal/hostguard"
)

// Forbidder writes 403 responses.
type Forbidder interface {
	Forbidden(w http.ResponseWriter, r *http.Request, message string)
}

// OriginValidator rejects handshakes whose Origin host is not an allowed
// host. A missing Origin passes only when every host is allowed.
func OriginValidator(store *hostguard.Store, errs Forbidder, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if originAllowed(store, r.Header.Get("Origin")) {
				next.ServeHTTP(w, r)
				return
			}
			if logger != nil {
				logger.Warn("websocket origin rejected", slog.String("origin", r.Header.Get("Origin")), slog.String("path", r.URL.Path))
			}
			if errs != nil {
				errs.Forbidden(w, r, "Origin not allowed.")
				return
			}
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		})
	}
}

func originAllowed(store *hostguard.Store, origin string) bool {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return store.HostAllowed("*")
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	return store.HostAllowed(hostguard.SplitHost(u.Host))
}
