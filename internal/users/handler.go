package users

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agrohub/agrohub/internal/platform/httpx"
	"github.com/agrohub/agrohub/internal/shared"
	"github.com/agrohub/agrohub/internal/view"
)

// Handler serves the admin user list and its API counterpart.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	templates *view.Engine
	csrf      *shared.CSRFManager
	errors    *httpx.Responder
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, templates *view.Engine, csrf *shared.CSRFManager, errs *httpx.Responder) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, templates: templates, csrf: csrf, errors: errs}
}

// MountAdminRoutes registers the HTML user pages under the admin router.
func (h *Handler) MountAdminRoutes(r chi.Router) {
	r.Get("/users", h.listUsersPage)
}

// MountAPIRoutes registers JSON user endpoints under the API router.
func (h *Handler) MountAPIRoutes(r chi.Router) {
	r.Get("/users", h.errors.Wrap("users.list", h.listUsersJSON))
}

func (h *Handler) listUsersPage(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListUsers(r.Context())
	if err != nil {
		h.logger.Error("list users failed", slog.Any("error", err))
		h.errors.ServerError(w, r, "")
		return
	}
	data := view.PageData(r, "Users", list)
	data.CSRFToken, _ = h.csrf.EnsureToken(r.Context(), shared.SessionFromContext(r.Context()))
	if err := h.templates.Render(w, "pages/admin/users.html", data); err != nil {
		h.logger.Error("render template", slog.Any("error", err))
		h.errors.ServerError(w, r, "")
	}
}

func (h *Handler) listUsersJSON(w http.ResponseWriter, r *http.Request) error {
	list, err := h.service.ListUsers(r.Context())
	if err != nil {
		return err
	}
	if list == nil {
		list = []User{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"users": list, "count": len(list)})
	return nil
}
