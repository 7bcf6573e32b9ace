package auth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/agrohub/agrohub/internal/access"
	"github.com/agrohub/agrohub/internal/auth"
	"github.com/agrohub/agrohub/internal/shared"
	"github.com/agrohub/agrohub/internal/users"
	"github.com/agrohub/agrohub/internal/view"
	_ "github.com/agrohub/agrohub/testing"
)

type stubUsers struct {
	user    *users.User
	touched []int64
}

func (s *stubUsers) FindByUsername(ctx context.Context, username string) (users.User, error) {
	if s.user == nil || s.user.Username != username {
		return users.User{}, users.ErrNotFound
	}
	return *s.user, nil
}

func (s *stubUsers) TouchLastLogin(ctx context.Context, id int64) error {
	s.touched = append(s.touched, id)
	return nil
}

type stubRepo struct {
	created []auth.SessionRecord
	deleted []string
}

func (s *stubRepo) CreateSession(ctx context.Context, rec auth.SessionRecord) error {
	s.created = append(s.created, rec)
	return nil
}

func (s *stubRepo) DeleteSession(ctx context.Context, id string) error {
	s.deleted = append(s.deleted, id)
	return nil
}

type fixture struct {
	handler  *auth.Handler
	sessions *shared.SessionManager
	users    *stubUsers
	repo     *stubRepo
}

func newFixture(t *testing.T, user *users.User) fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sessionManager := shared.NewSessionManager(redisClient, "test_session", time.Hour, false)
	csrfManager := shared.NewCSRFManager("csrfsecret")
	templates, err := view.NewEngine()
	require.NoError(t, err)

	lookup := &stubUsers{user: user}
	repo := &stubRepo{}
	service := auth.NewService(lookup, repo, nil, nil)
	handler := auth.NewHandler(nil, service, templates, sessionManager, csrfManager, nil)
	return fixture{handler: handler, sessions: sessionManager, users: lookup, repo: repo}
}

func activeUser(t *testing.T, password string) *users.User {
	t.Helper()
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return &users.User{ID: 7, Username: "sari", FirstName: "Sari", PasswordHash: string(hashed), IsActive: true}
}

// committingRecorder persists the session right before the status line is
// written, the way the session middleware does, so Set-Cookie is not lost
// behind an already-sent header.
type committingRecorder struct {
	*httptest.ResponseRecorder
	t        *testing.T
	sessions *shared.SessionManager
	req      *http.Request
	sess     *shared.Session
	written  bool
}

func (w *committingRecorder) WriteHeader(code int) {
	if !w.written {
		w.written = true
		require.NoError(w.t, w.sessions.Commit(w.req.Context(), w.ResponseRecorder, w.req, w.sess))
	}
	w.ResponseRecorder.WriteHeader(code)
}

func (w *committingRecorder) Write(data []byte) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseRecorder.Write(data)
}

// serve runs h with a loaded session and returns the recorded response.
func (f fixture) serve(t *testing.T, req *http.Request, h http.HandlerFunc) (*httptest.ResponseRecorder, *shared.Session) {
	t.Helper()
	sess, err := f.sessions.Load(context.Background(), req)
	require.NoError(t, err)
	req = req.WithContext(shared.ContextWithSession(req.Context(), sess))

	res := &committingRecorder{ResponseRecorder: httptest.NewRecorder(), t: t, sessions: f.sessions, req: req, sess: sess}
	h(res, req)
	if !res.written {
		res.WriteHeader(http.StatusOK)
	}
	return res.ResponseRecorder, sess
}

func (f fixture) post(t *testing.T, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	res, _ := f.serve(t, req, f.handler.HandleLoginForTest)
	return res
}

func TestLoginPage(t *testing.T) {
	f := newFixture(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/auth/login?next=/admin/users", nil)
	res, sess := f.serve(t, req, f.handler.ShowLoginForTest)

	assert.Equal(t, http.StatusOK, res.Code)
	body := res.Body.String()
	assert.Contains(t, body, "<form")
	assert.Contains(t, body, `value="/admin/users"`)
	assert.NotEmpty(t, sess.Get(shared.CSRFSessionKey))
	assert.NotEmpty(t, res.Result().Cookies(), "session holding the csrf secret must be sent")
}

func TestLoginPageRedirectsAuthenticatedUser(t *testing.T) {
	f := newFixture(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/auth/login?next=//evil.example.com", nil)
	req = req.WithContext(access.ContextWithPrincipal(req.Context(), access.Principal{ID: 1, IsActive: true}))
	res := httptest.NewRecorder()
	f.handler.ShowLoginForTest(res, req)

	assert.Equal(t, http.StatusFound, res.Code)
	assert.Equal(t, "/home", res.Header().Get("Location"))
}

func TestLoginInvalidCredentials(t *testing.T) {
	f := newFixture(t, activeUser(t, "correctpass"))

	res := f.post(t, url.Values{"username": {"sari"}, "password": {"wrongpass"}})

	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Contains(t, res.Body.String(), "Invalid username or password.")
	assert.Empty(t, f.repo.created)
}

func TestLoginValidationErrors(t *testing.T) {
	f := newFixture(t, nil)

	res := f.post(t, url.Values{"username": {""}, "password": {""}})

	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Contains(t, res.Body.String(), `class="error"`)
}

func TestLoginInactiveUser(t *testing.T) {
	user := activeUser(t, "correctpass")
	user.IsActive = false
	f := newFixture(t, user)

	res := f.post(t, url.Values{"username": {"sari"}, "password": {"correctpass"}})
	assert.Equal(t, http.StatusBadRequest, res.Code)
}

func TestLoginSuccessRotatesSession(t *testing.T) {
	f := newFixture(t, activeUser(t, "correctpass"))

	res := f.post(t, url.Values{
		"username": {"sari"},
		"password": {"correctpass"},
		"next":     {"/admin/"},
	})

	require.Equal(t, http.StatusSeeOther, res.Code)
	assert.Equal(t, "/admin/", res.Header().Get("Location"))
	require.Len(t, f.repo.created, 1)
	assert.Equal(t, int64(7), f.repo.created[0].UserID)
	assert.Equal(t, []int64{7}, f.users.touched)

	var cookie *http.Cookie
	for _, c := range res.Result().Cookies() {
		if c.Name == f.sessions.CookieName() {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.Equal(t, f.repo.created[0].ID, cookie.Value)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	sess, err := f.sessions.Load(context.Background(), req)
	require.NoError(t, err)
	id, ok := sess.UserID()
	assert.True(t, ok)
	assert.Equal(t, int64(7), id)
}

func TestLoginIgnoresExternalNext(t *testing.T) {
	f := newFixture(t, activeUser(t, "correctpass"))

	res := f.post(t, url.Values{
		"username": {"sari"},
		"password": {"correctpass"},
		"next":     {"https://evil.example.com/"},
	})

	require.Equal(t, http.StatusSeeOther, res.Code)
	assert.Equal(t, "/home", res.Header().Get("Location"))
}
