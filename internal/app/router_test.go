package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrohub/agrohub/internal/access"
	"github.com/agrohub/agrohub/internal/hostguard"
	"github.com/agrohub/agrohub/internal/observability"
	"github.com/agrohub/agrohub/internal/platform/httpx"
	"github.com/agrohub/agrohub/internal/shared"
	"github.com/agrohub/agrohub/internal/users"
	"github.com/agrohub/agrohub/internal/view"
	"github.com/agrohub/agrohub/jobs"
	_ "github.com/agrohub/agrohub/testing"
)

const testAPIKey = "test-api-key"

type stubLoader map[int64]access.Principal

func (s stubLoader) LoadPrincipal(_ context.Context, id int64) (access.Principal, error) {
	p, ok := s[id]
	if !ok {
		return access.Principal{}, access.ErrUnknownPrincipal
	}
	return p, nil
}

type stubStats struct{}

func (stubStats) Stats(context.Context) (users.Stats, error) {
	return users.Stats{Total: 3, Active: 2, Staff: 1, Superusers: 1}, nil
}

type stubQueues struct{}

func (stubQueues) Queues() ([]string, error) {
	return []string{jobs.QueueRealtime}, nil
}

func (stubQueues) GetQueueInfo(name string) (*asynq.QueueInfo, error) {
	return &asynq.QueueInfo{Queue: name, Pending: 7}, nil
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []shared.AuditLog
}

func (a *recordingAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, log)
	return nil
}

type recordingAnnouncer struct {
	mu       sync.Mutex
	payloads []jobs.BroadcastPayload
}

func (a *recordingAnnouncer) EnqueueBroadcast(_ context.Context, p jobs.BroadcastPayload) (*asynq.TaskInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.payloads = append(a.payloads, p)
	return &asynq.TaskInfo{ID: "task-1", Queue: jobs.QueueRealtime}, nil
}

type routerFixture struct {
	handler   http.Handler
	sessions  *shared.SessionManager
	hosts     *hostguard.Store
	metrics   *observability.Metrics
	announcer *recordingAnnouncer
	audit     *recordingAudit
	errs      *httpx.Responder
	access    access.Middleware
	logger    *slog.Logger
}

const (
	adminID  int64 = 1
	farmerID int64 = 2
)

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	engine, err := view.NewEngine()
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &Config{
		AppEnv:            "development",
		AppRequestTimeout: 5 * time.Second,
		TunnelHostPattern: DefaultTunnelHostPattern,
		AdminPrefix:       "/admin",
		APIPrefix:         "/api",
		APIKey:            testAPIKey,
		WeatherLocation:   "Bogor",
	}
	sessions := shared.NewSessionManager(client, "agrohub_session", time.Hour, false)
	hosts := hostguard.NewStore(hostguard.Config{
		AllowedHosts:       []string{"example.com"},
		CSRFTrustedOrigins: []string{"https://trusted.example.org"},
	})
	errs := &httpx.Responder{Pages: engine, Logger: logger, APIPrefix: cfg.APIPrefix}
	metrics := observability.NewMetrics()
	announcer := &recordingAnnouncer{}
	audit := &recordingAudit{}
	loader := stubLoader{
		adminID:  {ID: adminID, Username: "root", IsStaff: true, IsSuperuser: true, IsActive: true},
		farmerID: {ID: farmerID, Username: "farmer", IsActive: true},
	}

	gate := access.Middleware{Loader: loader, Logger: logger, Errors: errs}
	handler := NewRouter(RouterParams{
		Logger:         logger,
		Config:         cfg,
		Templates:      engine,
		SessionManager: sessions,
		CSRFManager:    shared.NewCSRFManager("csrf-secret"),
		Metrics:        metrics,
		Hosts:          hosts,
		Errors:         errs,
		Access:         gate,
		JobHandler:     jobs.NewHandler(stubQueues{}, logger),
		Stats:          stubStats{},
		Queues:         stubQueues{},
		Announcer:      announcer,
		Audit:          audit,
	})
	return &routerFixture{
		handler:   handler,
		sessions:  sessions,
		hosts:     hosts,
		metrics:   metrics,
		announcer: announcer,
		audit:     audit,
		errs:      errs,
		access:    gate,
		logger:    logger,
	}
}

// sessionCookie stores a session for userID (0 for anonymous) with the given
// values and returns its cookie.
func (f *routerFixture) sessionCookie(t *testing.T, userID int64, values map[string]string) *http.Cookie {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, err := f.sessions.Load(req.Context(), req)
	require.NoError(t, err)
	if userID > 0 {
		sess.SetUser(userID)
	}
	for k, v := range values {
		sess.Set(k, v)
	}
	rec := httptest.NewRecorder()
	require.NoError(t, f.sessions.Commit(req.Context(), rec, req, sess))
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	return cookies[0]
}

func (f *routerFixture) do(req *http.Request, cookie *http.Cookie) *httptest.ResponseRecorder {
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeErrorBody(t *testing.T, rec *httptest.ResponseRecorder) httpx.ErrorBody {
	t.Helper()
	var body httpx.ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealthz(t *testing.T) {
	f := newRouterFixture(t)
	rec := f.do(httptest.NewRequest(http.MethodGet, "/healthz", nil), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestDisallowedHostGetsBadRequest(t *testing.T) {
	f := newRouterFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/welcome", nil)
	req.Host = "attacker.test"
	rec := f.do(req, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "Invalid HTTP_HOST header.")
	assert.Empty(t, rec.Result().Cookies())

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Host = "attacker.test"
	rec = f.do(req, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeErrorBody(t, rec)
	assert.Equal(t, "Bad Request", body.Error)
	assert.Equal(t, "Invalid HTTP_HOST header.", body.Message)
	assert.Equal(t, http.StatusBadRequest, body.Status)
}

func TestTunnelHostIsRegisteredAndServed(t *testing.T) {
	f := newRouterFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Host = "green-field.ngrok-free.app"
	rec := f.do(req, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	snap := f.hosts.Snapshot()
	assert.Contains(t, snap.AllowedHosts, "green-field.ngrok-free.app")
	assert.Contains(t, snap.CORSAllowedOrigins, "https://green-field.ngrok-free.app")
	assert.Contains(t, snap.CSRFTrustedOrigins, "https://green-field.ngrok-free.app")

	// A second request leaves the lists unchanged.
	rec = f.do(req.Clone(req.Context()), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, snap, f.hosts.Snapshot())

	metrics := httptest.NewRecorder()
	f.metrics.Handler().ServeHTTP(metrics, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, metrics.Body.String(), "agrohub_tunnel_hosts_total 1")
}

func TestRootRedirectsAnonymousToLanding(t *testing.T) {
	f := newRouterFixture(t)
	rec := f.do(httptest.NewRequest(http.MethodGet, "/", nil), nil)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/welcome", rec.Header().Get("Location"))

	rec = f.do(httptest.NewRequest(http.MethodGet, "/welcome", nil), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Sign in")
}

func TestHomeRendersForSignedInUser(t *testing.T) {
	f := newRouterFixture(t)
	cookie := f.sessionCookie(t, farmerID, nil)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/home", nil), cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Weather data is currently unavailable.")
	assert.Contains(t, rec.Body.String(), `data-socket="/ws/notifications/"`)

	rec = f.do(httptest.NewRequest(http.MethodGet, "/home", nil), nil)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/auth/login?next=%2Fhome", rec.Header().Get("Location"))
}

func TestAdminGate(t *testing.T) {
	f := newRouterFixture(t)

	t.Run("anonymous is sent to login", func(t *testing.T) {
		rec := f.do(httptest.NewRequest(http.MethodGet, "/admin/users", nil), nil)
		assert.Equal(t, http.StatusFound, rec.Code)
		assert.Equal(t, "/auth/login?next=%2Fadmin%2Fusers", rec.Header().Get("Location"))
	})

	t.Run("unprivileged user is sent home", func(t *testing.T) {
		rec := f.do(httptest.NewRequest(http.MethodGet, "/admin/jobs/health", nil), f.sessionCookie(t, farmerID, nil))
		assert.Equal(t, http.StatusFound, rec.Code)
		assert.Equal(t, "/", rec.Header().Get("Location"))
	})

	t.Run("unknown session user is anonymous", func(t *testing.T) {
		rec := f.do(httptest.NewRequest(http.MethodGet, "/admin/jobs/health", nil), f.sessionCookie(t, 99, nil))
		assert.Equal(t, http.StatusFound, rec.Code)
		assert.True(t, strings.HasPrefix(rec.Header().Get("Location"), "/auth/login"))
	})

	t.Run("privileged user passes", func(t *testing.T) {
		rec := f.do(httptest.NewRequest(http.MethodGet, "/admin/jobs/health", nil), f.sessionCookie(t, adminID, nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `{"queue":"realtime","pending":7`)
	})

	t.Run("root page stays open", func(t *testing.T) {
		for _, path := range []string{"/admin", "/admin/"} {
			rec := f.do(httptest.NewRequest(http.MethodGet, path, nil), nil)
			assert.Equal(t, http.StatusOK, rec.Code, path)
			assert.Contains(t, rec.Body.String(), "sign in", path)
		}
	})

	t.Run("dashboard for privileged user", func(t *testing.T) {
		rec := f.do(httptest.NewRequest(http.MethodGet, "/admin/", nil), f.sessionCookie(t, adminID, nil))
		require.Equal(t, http.StatusOK, rec.Code)
		body := rec.Body.String()
		assert.Contains(t, body, "Broadcast announcement")
		assert.Contains(t, body, "<code>example.com</code>")
		assert.Contains(t, body, "<span>3</span>users")
		assert.Contains(t, body, "<td>realtime</td><td>7</td>")
	})
}

func TestNotFoundPages(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/no/such/page", nil), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), `data-status="Not Found"`)

	req := httptest.NewRequest(http.MethodGet, "/api/no-such-endpoint", nil)
	req.Header.Set(APIKeyHeader, testAPIKey)
	rec = f.do(req, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	body := decodeErrorBody(t, rec)
	assert.Equal(t, "Not Found", body.Error)
	assert.Equal(t, http.StatusNotFound, body.Status)
}

func TestMethodNotAllowed(t *testing.T) {
	f := newRouterFixture(t)
	req := httptest.NewRequest(http.MethodDelete, "/api/health", nil)
	req.Header.Set(APIKeyHeader, testAPIKey)
	rec := f.do(req, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, http.StatusMethodNotAllowed, decodeErrorBody(t, rec).Status)
}

func TestAPIKey(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/health", nil), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	body := decodeErrorBody(t, rec)
	assert.Equal(t, "Forbidden", body.Error)
	assert.Equal(t, "Invalid API key.", body.Message)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set(APIKeyHeader, "wrong")
	assert.Equal(t, http.StatusForbidden, f.do(req, nil).Code)

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set(APIKeyHeader, testAPIKey)
	rec = f.do(req, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/api/weather", nil)
	req.Header.Set(APIKeyHeader, testAPIKey)
	rec = f.do(req, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "null", strings.TrimSpace(rec.Body.String()))

	req = httptest.NewRequest(http.MethodGet, "/api/weather?location="+strings.Repeat("x", 81), nil)
	req.Header.Set(APIKeyHeader, testAPIKey)
	rec = f.do(req, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var invalid httpx.ValidationBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &invalid))
	assert.Equal(t, http.StatusBadRequest, invalid.Status)
	assert.Equal(t, "Bad Request", invalid.Error)
	assert.NotEmpty(t, invalid.Fields["location"])
}

func TestRequireAPIKeyDisabledWhenEmpty(t *testing.T) {
	h := RequireAPIKey("", &httpx.Responder{APIPrefix: "/api"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func announcementRequest(token, origin string) *http.Request {
	form := url.Values{"message": {"Frost expected tonight"}}
	if token != "" {
		form.Set(shared.CSRFFormField, token)
	}
	req := httptest.NewRequest(http.MethodPost, "/admin/announcements", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	return req
}

func TestAnnouncementCSRF(t *testing.T) {
	f := newRouterFixture(t)
	cookie := f.sessionCookie(t, adminID, map[string]string{shared.CSRFSessionKey: "tok-123"})

	t.Run("missing token", func(t *testing.T) {
		rec := f.do(announcementRequest("", ""), cookie)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Contains(t, rec.Body.String(), "CSRF verification failed.")
	})

	t.Run("untrusted origin", func(t *testing.T) {
		rec := f.do(announcementRequest("tok-123", "https://evil.test"), cookie)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("trusted origin and token", func(t *testing.T) {
		rec := f.do(announcementRequest("tok-123", "https://trusted.example.org"), cookie)
		assert.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, "/admin/", rec.Header().Get("Location"))
	})

	t.Run("same origin and token", func(t *testing.T) {
		rec := f.do(announcementRequest("tok-123", "http://example.com"), cookie)
		assert.Equal(t, http.StatusSeeOther, rec.Code)
	})

	f.announcer.mu.Lock()
	defer f.announcer.mu.Unlock()
	require.Len(t, f.announcer.payloads, 2)
	assert.Equal(t, jobs.BroadcastPayload{
		Group:   "announcements",
		Type:    "announcement",
		Message: "Frost expected tonight",
		Sender:  "root",
	}, f.announcer.payloads[0])

	f.audit.mu.Lock()
	defer f.audit.mu.Unlock()
	require.Len(t, f.audit.entries, 2)
	entry := f.audit.entries[0]
	assert.Equal(t, shared.AuditAnnouncement, entry.Action)
	assert.Equal(t, adminID, entry.ActorID)
	assert.Equal(t, "task-1", entry.EntityID)
	assert.Equal(t, len("Frost expected tonight"), entry.Meta["length"])
}

var csrfField = regexp.MustCompile(`name="csrf_token" value="([^"]+)"`)

func TestAnnouncementAcceptsRenderedToken(t *testing.T) {
	f := newRouterFixture(t)
	cookie := f.sessionCookie(t, adminID, nil)

	page := f.do(httptest.NewRequest(http.MethodGet, "/admin/", nil), cookie)
	require.Equal(t, http.StatusOK, page.Code)
	match := csrfField.FindStringSubmatch(page.Body.String())
	require.Len(t, match, 2)

	rec := f.do(announcementRequest(match[1], "http://example.com"), cookie)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Len(t, f.announcer.payloads, 1)

	second := f.do(httptest.NewRequest(http.MethodGet, "/admin/", nil), cookie)
	other := csrfField.FindStringSubmatch(second.Body.String())
	require.Len(t, other, 2)
	assert.NotEqual(t, match[1], other[1], "each render masks the token afresh")
}

func TestAnnouncementRequiresPrivilege(t *testing.T) {
	f := newRouterFixture(t)
	cookie := f.sessionCookie(t, farmerID, map[string]string{shared.CSRFSessionKey: "tok"})
	rec := f.do(announcementRequest("tok", ""), cookie)
	// The gate redirects before the handler guard is reached.
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
	assert.Empty(t, f.announcer.payloads)
}

func TestAnnouncementEmptyMessageFlashes(t *testing.T) {
	f := newRouterFixture(t)
	cookie := f.sessionCookie(t, adminID, map[string]string{shared.CSRFSessionKey: "tok"})

	form := url.Values{"message": {"   "}, shared.CSRFFormField: {"tok"}}
	req := httptest.NewRequest(http.MethodPost, "/admin/announcements", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := f.do(req, cookie)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Empty(t, f.announcer.payloads)

	rec = f.do(httptest.NewRequest(http.MethodGet, "/admin/", nil), cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Announcement message is required.")
}

func TestAPIRequestsSkipCSRF(t *testing.T) {
	f := newRouterFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/api/health", nil)
	req.Header.Set(APIKeyHeader, testAPIKey)
	rec := f.do(req, nil)
	// Routed past CSRF to the method check.
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestStaticAssets(t *testing.T) {
	f := newRouterFixture(t)
	rec := f.do(httptest.NewRequest(http.MethodGet, "/static/css/app.css", nil), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "public, max-age=3600", rec.Header().Get("Cache-Control"))
}

func TestMetricsEndpoint(t *testing.T) {
	f := newRouterFixture(t)
	f.do(httptest.NewRequest(http.MethodGet, "/healthz", nil), nil)
	rec := f.do(httptest.NewRequest(http.MethodGet, "/metrics", nil), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `agrohub_http_requests_total{code="200",method="GET",route="/healthz"} 1`)
}
