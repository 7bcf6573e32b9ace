package view

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrohub/agrohub/internal/access"
	"github.com/agrohub/agrohub/internal/shared"
)

func TestNewEngine(t *testing.T) {
	engine, err := NewEngine()
	assert.NoError(t, err, "Templates should parse without error")
	assert.NotNil(t, engine)
}

func TestRenderErrorUsesStatusTemplate(t *testing.T) {
	engine, err := NewEngine()
	require.NoError(t, err)

	for _, status := range []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusInternalServerError} {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/fields/7", nil)
		require.NoError(t, engine.RenderError(rr, req, status, "custom message"))
		assert.Equal(t, status, rr.Code)
		assert.Contains(t, rr.Body.String(), "custom message")
		assert.Contains(t, rr.Body.String(), `data-status="`+http.StatusText(status)+`"`)
	}
}

func TestRenderErrorFallsBackToGenericTemplate(t *testing.T) {
	engine, err := NewEngine()
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/fields", nil)
	require.NoError(t, engine.RenderError(rr, req, http.StatusMethodNotAllowed, "nope"))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	assert.Contains(t, rr.Body.String(), "405")
}

func TestPageDataPopsFlash(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/home", nil)
	sess := &shared.Session{ID: "s1"}
	sess.AddFlash(shared.FlashMessage{Kind: "success", Message: "Saved"})
	req = req.WithContext(shared.ContextWithSession(req.Context(), sess))

	data := PageData(req, "Home", nil)
	require.NotNil(t, data.Flash)
	assert.Equal(t, "Saved", data.Flash.Message)
	assert.Equal(t, "/home", data.CurrentPath)
	assert.False(t, data.Principal.Authenticated())

	assert.Nil(t, PageData(req, "Home", nil).Flash)
}

func TestRenderStatusWritesNothingOnFailure(t *testing.T) {
	engine, err := NewEngine()
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/admin/", nil)
	rr := httptest.NewRecorder()
	data := TemplateData{
		Title:     "Administration",
		Principal: access.Principal{ID: 1, IsStaff: true, IsActive: true},
		Data:      "not dashboard data",
	}
	require.Error(t, engine.Render(rr, "pages/admin/index.html", data))
	assert.Empty(t, rr.Body.String())
	assert.Empty(t, rr.Header().Get("Content-Type"))

	require.NoError(t, engine.RenderError(rr, req, http.StatusInternalServerError, ""))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotContains(t, rr.Body.String(), "<h1>Administration</h1>")
}

func TestRenderStatusUsesStatus(t *testing.T) {
	engine, err := NewEngine()
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	require.NoError(t, engine.RenderStatus(rr, http.StatusBadRequest, "pages/admin/index.html", TemplateData{Title: "Administration"}))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "text/html; charset=utf-8", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Body.String(), "<h1>Administration</h1>")
}
