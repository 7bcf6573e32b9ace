package httpx

import (
	"log/slog"
	"net/http"
	"runtime/debug"
)

// HandlerFunc is an HTTP handler that reports failure through its return value.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// Wrap adapts fn into an http.HandlerFunc. Returned errors and panics are
// logged under name and replaced by the generic payload for their status.
func (rs *Responder) Wrap(name string, fn HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			if v == http.ErrAbortHandler {
				panic(v)
			}
			rs.logger().Error("view panic",
				slog.String("view", name),
				slog.String("path", r.URL.Path),
				slog.Any("panic", v),
				slog.String("stack", string(debug.Stack())),
			)
			rs.ServerError(w, r, "")
		}()
		if err := fn(w, r); err != nil {
			status := StatusFor(err)
			level := slog.LevelWarn
			if status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			rs.logger().Log(r.Context(), level, "view error",
				slog.String("view", name),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Any("error", err),
			)
			rs.Error(w, r, status, "")
		}
	}
}

func (rs *Responder) logger() *slog.Logger {
	if rs != nil && rs.Logger != nil {
		return rs.Logger
	}
	return slog.Default()
}
