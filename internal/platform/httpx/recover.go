package httpx

import (
	"log/slog"
	"net/http"
	"runtime/debug"
)

type statusRecorder struct {
	http.ResponseWriter
	status        int
	headerWritten bool
}

func (w *statusRecorder) WriteHeader(code int) {
	if w.headerWritten {
		return
	}
	w.status = code
	w.headerWritten = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if !w.headerWritten {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// Unwrap exposes the wrapped writer to http.ResponseController.
func (w *statusRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Flush forwards to the underlying writer when supported.
func (w *statusRecorder) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Recoverer catches panics from downstream handlers, logs them with the full
// stack and answers with a generic 500. In debug mode the panic is re-raised
// so the developer sees the original failure.
func (rs *Responder) Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			if v == http.ErrAbortHandler {
				panic(v)
			}
			rs.logPanic(r, v, debug.Stack())
			if rs != nil && rs.Debug {
				panic(v)
			}
			if rec.headerWritten {
				return
			}
			rs.ServerError(rec, r, "")
		}()
		next.ServeHTTP(rec, r)
	})
}

func (rs *Responder) logPanic(r *http.Request, v any, stack []byte) {
	logger := slog.Default()
	if rs != nil && rs.Logger != nil {
		logger = rs.Logger
	}
	logger.Error("unhandled panic",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Any("panic", v),
		slog.String("stack", string(stack)),
	)
}
