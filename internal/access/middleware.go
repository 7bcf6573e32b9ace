package access

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/agrohub/agrohub/internal/shared"
)

// Default routes used by the admin gate.
const (
	LoginPath = "/auth/login"
	HomePath  = "/"
)

// ErrorResponder writes 403 responses in the caller's error format.
type ErrorResponder interface {
	Forbidden(w http.ResponseWriter, r *http.Request, message string)
}

// Middleware wires principal loading and admin gating for HTTP handlers.
type Middleware struct {
	Loader PrincipalLoader
	Logger *slog.Logger
	Errors ErrorResponder
}

// Authenticate loads the principal for the session user and stores it in the
// request context. Missing, unknown or inactive users stay anonymous.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := shared.SessionFromContext(r.Context()).UserID()
		if !ok || m.Loader == nil {
			next.ServeHTTP(w, r)
			return
		}
		p, err := m.Loader.LoadPrincipal(r.Context(), userID)
		if err != nil {
			if !errors.Is(err, ErrUnknownPrincipal) && m.Logger != nil {
				m.Logger.Error("access load principal", slog.Int64("user_id", userID), slog.Any("error", err))
			}
			next.ServeHTTP(w, r)
			return
		}
		if !p.IsActive {
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), p)))
	})
}

// AdminGate guards every path below prefix except the prefix root. Anonymous
// visitors go to the login route, signed-in users without staff or superuser
// rights go to the home route.
func (m Middleware) AdminGate(prefix string) func(http.Handler) http.Handler {
	prefix = strings.TrimRight(prefix, "/")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path
			if !UnderPrefix(prefix, path) || path == prefix || path == prefix+"/" {
				next.ServeHTTP(w, r)
				return
			}
			p := PrincipalFromContext(r.Context())
			if !p.Authenticated() {
				http.Redirect(w, r, LoginURL(r.URL.RequestURI()), http.StatusFound)
				return
			}
			if !p.Privileged() {
				if m.Logger != nil {
					m.Logger.Warn("admin gate denied", slog.String("user", p.Username), slog.String("path", path))
				}
				http.Redirect(w, r, HomePath, http.StatusFound)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequirePrivileged rejects non-privileged principals with 403.
func (m Middleware) RequirePrivileged(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !PrincipalFromContext(r.Context()).Privileged() {
			if m.Errors != nil {
				m.Errors.Forbidden(w, r, "")
				return
			}
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// UnderPrefix reports whether path equals prefix or lies below it.
func UnderPrefix(prefix, path string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// LoginURL builds the login route with a next parameter.
func LoginURL(next string) string {
	if next == "" || next == HomePath {
		return LoginPath
	}
	return LoginPath + "?next=" + url.QueryEscape(next)
}

// SafeNext returns target when it is a local absolute path, otherwise fallback.
func SafeNext(target, fallback string) string {
	if target == "" || !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		return fallback
	}
	return target
}
