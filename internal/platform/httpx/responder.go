package httpx

import (
	"log/slog"
	"net/http"
	"strings"
)

// ErrorPages renders HTML error pages for non-API requests.
type ErrorPages interface {
	RenderError(w http.ResponseWriter, r *http.Request, status int, message string) error
}

// Responder writes 400/403/404/500 responses, choosing JSON for API paths and
// templated pages for everything else.
type Responder struct {
	Pages     ErrorPages
	Logger    *slog.Logger
	APIPrefix string
	Debug     bool
}

// IsAPIPath reports whether path lies under the API prefix.
func IsAPIPath(prefix, path string) bool {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		return false
	}
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// IsAPIRequest reports whether r targets the API.
func (rs *Responder) IsAPIRequest(r *http.Request) bool {
	return rs != nil && IsAPIPath(rs.APIPrefix, r.URL.Path)
}

// BadRequest writes a 400 response.
func (rs *Responder) BadRequest(w http.ResponseWriter, r *http.Request, message string) {
	rs.Error(w, r, http.StatusBadRequest, message)
}

// Forbidden writes a 403 response.
func (rs *Responder) Forbidden(w http.ResponseWriter, r *http.Request, message string) {
	rs.Error(w, r, http.StatusForbidden, message)
}

// NotFound writes a 404 response.
func (rs *Responder) NotFound(w http.ResponseWriter, r *http.Request, message string) {
	rs.Error(w, r, http.StatusNotFound, message)
}

// ServerError writes a 500 response.
func (rs *Responder) ServerError(w http.ResponseWriter, r *http.Request, message string) {
	rs.Error(w, r, http.StatusInternalServerError, message)
}

// Error writes an error response for status. An empty message uses the
// default text for the status.
func (rs *Responder) Error(w http.ResponseWriter, r *http.Request, status int, message string) {
	body := NewErrorBody(status, message)
	if rs == nil || rs.IsAPIRequest(r) {
		JSON(w, status, body)
		return
	}
	if rs.Pages != nil {
		if err := rs.Pages.RenderError(w, r, status, body.Message); err == nil {
			return
		} else if rs.Logger != nil {
			rs.Logger.Error("render error page", slog.Int("status", status), slog.Any("error", err))
		}
	}
	http.Error(w, body.Message, status)
}

// RespondError maps err to a status and writes the matching response.
func (rs *Responder) RespondError(w http.ResponseWriter, r *http.Request, err error) {
	rs.Error(w, r, StatusFor(err), "")
}

// NotFoundHandler adapts NotFound for router fallbacks.
func (rs *Responder) NotFoundHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rs.NotFound(w, r, "")
	}
}

// MethodNotAllowedHandler adapts 405 responses for router fallbacks.
func (rs *Responder) MethodNotAllowedHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rs.Error(w, r, http.StatusMethodNotAllowed, "")
	}
}
