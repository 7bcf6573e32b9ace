package view

import (
	"bytes"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"github.com/agrohub/agrohub/internal/access"
	"github.com/agrohub/agrohub/internal/shared"
	"github.com/agrohub/agrohub/web"
)

// Engine renders HTML templates.
type Engine struct {
	templates   *template.Template
	adminPrefix string
}

// TemplateData contains values shared across templates.
type TemplateData struct {
	Title       string
	CSRFToken   string
	Flash       *shared.FlashMessage
	CurrentPath string
	Principal   access.Principal
	AdminPrefix string
	Data        any
}

// ErrorPageData is passed to errors/*.html templates.
type ErrorPageData struct {
	Status  int
	Text    string
	Message string
}

// NewEngine parses templates at build-time.
func NewEngine() (*Engine, error) {
	funcMap := template.FuncMap{
		"formatDate": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Format("02 Jan 2006 15:04")
		},
		"formatDatePtr": func(t *time.Time) string {
			if t == nil || t.IsZero() {
				return "never"
			}
			return t.Format("02 Jan 2006 15:04")
		},
	}
	tpl, err := template.New("root").Funcs(funcMap).ParseFS(web.Templates,
		"templates/layouts/*.html",
		"templates/partials/*.html",
		"templates/pages/*.html",
		"templates/pages/admin/*.html",
		"templates/errors/*.html",
	)
	if err != nil {
		return nil, err
	}
	return &Engine{templates: tpl, adminPrefix: "/admin"}, nil
}

// SetAdminPrefix changes the admin mount point used in navigation links.
func (e *Engine) SetAdminPrefix(prefix string) {
	if e != nil && prefix != "" {
		e.adminPrefix = prefix
	}
}

// Render executes a named template with TemplateData and a 200 status.
func (e *Engine) Render(w http.ResponseWriter, name string, data TemplateData) error {
	return e.RenderStatus(w, http.StatusOK, name, data)
}

// RenderStatus executes a named template and writes it with status. Output
// is buffered: on error nothing has been written and the caller may still
// send an error response.
func (e *Engine) RenderStatus(w http.ResponseWriter, status int, name string, data TemplateData) error {
	if e == nil {
		return fmt.Errorf("template engine not initialised")
	}
	if data.AdminPrefix == "" {
		data.AdminPrefix = e.adminPrefix
	}
	var buf bytes.Buffer
	if err := e.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return fmt.Errorf("view: render %s: %w", name, err)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err := buf.WriteTo(w)
	return err
}

// RenderError renders errors/<status>.html, falling back to errors/error.html.
// Output is buffered so a template failure leaves the response untouched.
func (e *Engine) RenderError(w http.ResponseWriter, r *http.Request, status int, message string) error {
	if e == nil {
		return fmt.Errorf("template engine not initialised")
	}
	name := "errors/" + strconv.Itoa(status) + ".html"
	if e.templates.Lookup(name) == nil {
		name = "errors/error.html"
	}
	data := TemplateData{
		Title:       http.StatusText(status),
		CurrentPath: r.URL.Path,
		Principal:   access.PrincipalFromContext(r.Context()),
		AdminPrefix: e.adminPrefix,
		Data:        ErrorPageData{Status: status, Text: http.StatusText(status), Message: message},
	}
	var buf bytes.Buffer
	if err := e.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err := buf.WriteTo(w)
	return err
}

// PageData fills the request-derived fields of TemplateData: current path,
// principal and the pending flash message.
func PageData(r *http.Request, title string, data any) TemplateData {
	return TemplateData{
		Title:       title,
		Flash:       shared.SessionFromContext(r.Context()).PopFlash(),
		CurrentPath: r.URL.Path,
		Principal:   access.PrincipalFromContext(r.Context()),
		Data:        data,
	}
}
