package app

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/agrohub/agrohub/internal/access"
	"github.com/agrohub/agrohub/internal/hostguard"
	"github.com/agrohub/agrohub/internal/platform/db"
	"github.com/agrohub/agrohub/internal/platform/httpx"
	"github.com/agrohub/agrohub/internal/realtime"
	"github.com/agrohub/agrohub/internal/shared"
	"github.com/agrohub/agrohub/internal/users"
	"github.com/agrohub/agrohub/internal/view"
	"github.com/agrohub/agrohub/internal/weather"
	"github.com/agrohub/agrohub/jobs"
)

const maxAnnouncementLength = 500

type pageHandler struct {
	params RouterParams
}

type homePageData struct {
	Weather *weather.Snapshot
}

func (h *pageHandler) landing(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "pages/landing.html", view.PageData(r, "Agrohub", nil))
}

func (h *pageHandler) root(w http.ResponseWriter, r *http.Request) {
	if !access.PrincipalFromContext(r.Context()).Authenticated() {
		http.Redirect(w, r, "/welcome", http.StatusSeeOther)
		return
	}
	h.dashboard(w, r)
}

func (h *pageHandler) home(w http.ResponseWriter, r *http.Request) {
	if !access.PrincipalFromContext(r.Context()).Authenticated() {
		http.Redirect(w, r, access.LoginURL(r.URL.RequestURI()), http.StatusFound)
		return
	}
	h.dashboard(w, r)
}

func (h *pageHandler) dashboard(w http.ResponseWriter, r *http.Request) {
	data := homePageData{Weather: h.params.Weather.Current(r.Context(), h.params.Config.WeatherLocation)}
	h.render(w, r, "pages/home.html", view.PageData(r, "Dashboard", data))
}

func (h *pageHandler) render(w http.ResponseWriter, r *http.Request, name string, data view.TemplateData) {
	data.CSRFToken, _ = h.params.CSRFManager.EnsureToken(r.Context(), shared.SessionFromContext(r.Context()))
	if err := h.params.Templates.Render(w, name, data); err != nil {
		h.params.Logger.Error("render page", slog.String("template", name), slog.Any("error", err))
		h.params.Errors.ServerError(w, r, "")
	}
}

type adminHandler struct {
	params RouterParams
}

type adminIndexData struct {
	Stats  users.Stats
	Hosts  hostguard.Snapshot
	Queues []jobs.QueueHealth
}

// index renders the dashboard for privileged users and a sign-in prompt for
// everyone else; the admin gate leaves the prefix root open.
func (h *adminHandler) index(w http.ResponseWriter, r *http.Request) {
	principal := access.PrincipalFromContext(r.Context())
	tpl := view.PageData(r, "Administration", nil)
	if principal.Privileged() {
		data := adminIndexData{Hosts: h.params.Hosts.Snapshot()}
		if h.params.Stats != nil {
			data.Stats = httpx.SafeQuery(r.Context(), h.params.Logger, "users.stats", h.params.Stats.Stats)
		}
		if h.params.Queues != nil {
			data.Queues = httpx.SafeQuery(r.Context(), h.params.Logger, "jobs.queues", func(context.Context) ([]jobs.QueueHealth, error) {
				return jobs.InspectQueues(h.params.Queues)
			})
		}
		tpl.Data = data
	}
	tpl.CSRFToken, _ = h.params.CSRFManager.EnsureToken(r.Context(), shared.SessionFromContext(r.Context()))
	if err := h.params.Templates.Render(w, "pages/admin/index.html", tpl); err != nil {
		h.params.Logger.Error("render admin index", slog.Any("error", err))
		h.params.Errors.ServerError(w, r, "")
	}
}

func (h *adminHandler) announce(w http.ResponseWriter, r *http.Request) {
	back := h.params.Config.AdminPrefix + "/"
	if err := r.ParseForm(); err != nil {
		h.params.Errors.BadRequest(w, r, "Invalid form submission.")
		return
	}
	message := strings.TrimSpace(r.PostFormValue("message"))
	switch {
	case message == "":
		shared.RedirectWithFlash(w, r, back, "error", "Announcement message is required.")
		return
	case utf8.RuneCountInString(message) > maxAnnouncementLength:
		shared.RedirectWithFlash(w, r, back, "error", "Announcement message is too long.")
		return
	}
	if h.params.Announcer == nil {
		shared.RedirectWithFlash(w, r, back, "error", "Announcements are not available right now.")
		return
	}
	principal := access.PrincipalFromContext(r.Context())
	info, err := h.params.Announcer.EnqueueBroadcast(r.Context(), jobs.BroadcastPayload{
		Group:   realtime.GroupAnnouncements,
		Type:    realtime.TypeAnnouncement,
		Message: message,
		Sender:  principal.Username,
	})
	if err != nil {
		h.params.Logger.Error("enqueue announcement", slog.Any("error", err))
		shared.RedirectWithFlash(w, r, back, "error", "Announcement could not be queued.")
		return
	}
	taskID := ""
	if info != nil {
		taskID = info.ID
	}
	h.params.Logger.Info("announcement queued", slog.String("user", principal.Username), slog.String("task", taskID))
	if h.params.Audit != nil && taskID != "" {
		meta := shared.RequestMeta(r)
		meta["length"] = utf8.RuneCountInString(message)
		httpx.SafeQuery(r.Context(), h.params.Logger, "audit.announcement", func(ctx context.Context) (struct{}, error) {
			return struct{}{}, h.params.Audit.Record(ctx, shared.AuditLog{
				ActorID:  principal.ID,
				Action:   shared.AuditAnnouncement,
				Entity:   "task",
				EntityID: taskID,
				Meta:     meta,
			})
		})
	}
	shared.RedirectWithFlash(w, r, back, "success", "Announcement queued for delivery.")
}

type apiHandler struct {
	params RouterParams
}

func (h *apiHandler) health(w http.ResponseWriter, r *http.Request) {
	if h.params.DB != nil {
		if err := db.Ping(r.Context(), h.params.DB); err != nil {
			h.params.Logger.Warn("api health", slog.Any("error", err))
			httpx.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// weatherQuery is the accepted query string of /api/weather.
type weatherQuery struct {
	Location string `validate:"max=80,excludesall=/?#&"`
}

var queryValidator = validator.New(validator.WithRequiredStructEnabled())

func (h *apiHandler) weather(w http.ResponseWriter, r *http.Request) {
	q := weatherQuery{Location: strings.TrimSpace(r.URL.Query().Get("location"))}
	if err := queryValidator.Struct(q); err != nil {
		httpx.RespondValidation(w, err)
		return
	}
	if q.Location == "" {
		q.Location = h.params.Config.WeatherLocation
	}
	httpx.JSON(w, http.StatusOK, h.params.Weather.Current(r.Context(), q.Location))
}
