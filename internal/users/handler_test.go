package users

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrohub/agrohub/internal/platform/httpx"
	"github.com/agrohub/agrohub/internal/shared"
	"github.com/agrohub/agrohub/internal/view"
)

func TestAPIListOmitsPasswordHash(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	_, err := svc.CreateSuperuser(context.Background(), validInput())
	require.NoError(t, err)

	h := NewHandler(nil, svc, nil, nil, &httpx.Responder{APIPrefix: "/api"})
	r := chi.NewRouter()
	r.Route("/api", h.MountAPIRoutes)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/users", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotContains(t, rr.Body.String(), "password")
	var body struct {
		Users []map[string]any `json:"users"`
		Count int              `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, "admin", body.Users[0]["username"])
}

func TestAdminUsersPage(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	_, err := svc.CreateSuperuser(context.Background(), validInput())
	require.NoError(t, err)

	templates, err := view.NewEngine()
	require.NoError(t, err)
	h := NewHandler(nil, svc, templates, shared.NewCSRFManager("secret"), nil)
	r := chi.NewRouter()
	r.Route("/admin", h.MountAdminRoutes)

	req := httptest.NewRequest(http.MethodGet, "/admin/users", nil)
	req = req.WithContext(shared.ContextWithSession(req.Context(), &shared.Session{ID: "s"}))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Dewi Lestari")
	assert.Contains(t, rr.Body.String(), "superuser")
}
