package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oauthstarter/internal/auth"
	"oauthstarter/internal/logger"
	"oauthstarter/internal/metrics"
	"oauthstarter/internal/session"
	"oauthstarter/internal/user"
)

type fakeProjects struct {
	projects map[string][]user.Project
	err      error
}

func (f *fakeProjects) ListProjects(_ context.Context, workspaceID string) ([]user.Project, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.projects[workspaceID], nil
}

type fakeAvatars struct {
	uploadKey   string
	contentType string
}

func (f *fakeAvatars) GeneratePresignedUploadURL(_ context.Context, key, contentType string, _ time.Duration) (string, error) {
	f.uploadKey = key
	f.contentType = contentType
	return "https://storage.example.com/put/" + key, nil
}

func (f *fakeAvatars) GeneratePresignedDownloadURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://storage.example.com/get/" + key, nil
}

var adaUser = &user.User{
	ID:              "user-1",
	Email:           "ada@example.com",
	Name:            "Ada",
	OwnedWorkspaces: []user.Workspace{{ID: "ws-1", OwnerID: "user-1", Name: "Personal"}},
}

// signedInRouter builds the full router with an adapter stub that reports
// ada as signed in.
func signedInRouter(t *testing.T, hc HandlerConfig) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	if hc.Logger == nil {
		hc.Logger = logger.Discard()
	}
	a := &mockAuth{handleFunc: sessionOK(&auth.SessionUser{ID: adaUser.ID, Email: adaUser.Email, Name: adaUser.Name})}
	users := &mockUsers{getByEmailFunc: func(context.Context, string) (*user.User, error) {
		cp := *adaUser
		return &cp, nil
	}}
	return SetupRouter(RouterConfig{
		Auth:        a,
		Users:       users,
		Handler:     NewHandler(hc),
		Metrics:     metrics.New(),
		Logger:      logger.Discard(),
		ServiceName: "test",
	})
}

func TestHandler_Pages(t *testing.T) {
	r := signedInRouter(t, HandlerConfig{SignInPage: "/auth/signin", SignOutPage: "/auth/signout"})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Signed in as <strong>Ada</strong>")
	assert.Contains(t, w.Body.String(), `href="/auth/signout"`)
	assert.NotEmpty(t, w.Header().Get("Content-Security-Policy"))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/protected", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Personal")
}

func TestHandler_Profile(t *testing.T) {
	r := signedInRouter(t, HandlerConfig{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/user/profile", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		User    user.User       `json:"user"`
		Session session.Session `json:"session"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "user-1", body.User.ID)
	assert.Equal(t, "user-1", body.Session.UserID)
}

func TestHandler_Workspaces(t *testing.T) {
	projects := &fakeProjects{projects: map[string][]user.Project{
		"ws-1": {{ID: "p-1", WorkspaceID: "ws-1", Name: "Default Project"}},
	}}
	r := signedInRouter(t, HandlerConfig{Projects: projects})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/user/workspaces", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Workspaces []WorkspaceView `json:"workspaces"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Workspaces, 1)
	assert.Equal(t, "Personal", body.Workspaces[0].Name)
	require.Len(t, body.Workspaces[0].Projects, 1)
	assert.Equal(t, "Default Project", body.Workspaces[0].Projects[0].Name)

	projects.err = errors.New("db down")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/user/workspaces", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHandler_AvatarUploadURL(t *testing.T) {
	avatars := &fakeAvatars{}
	r := signedInRouter(t, HandlerConfig{Avatars: avatars})

	post := func(body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/user/avatar/upload-url", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)
		return w
	}

	w := post(`{"filename":"Me.PNG","content_type":"image/png"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp AvatarUploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, strings.HasPrefix(resp.FileKey, "avatars/user-1/"))
	assert.True(t, strings.HasSuffix(resp.FileKey, ".png"))
	assert.Equal(t, avatars.uploadKey, resp.FileKey)
	assert.Equal(t, "image/png", avatars.contentType)
	assert.Contains(t, resp.DownloadURL, resp.FileKey)

	assert.Equal(t, http.StatusBadRequest, post(`{"filename":"x.pdf","content_type":"application/pdf"}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(`{"filename":"../x.png","content_type":"image/png"}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(`{"filename":"noext","content_type":"image/png"}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(`{}`).Code)
}

func TestHandler_AvatarUploadURL_StorageDisabled(t *testing.T) {
	r := signedInRouter(t, HandlerConfig{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/user/avatar/upload-url",
		strings.NewReader(`{"filename":"me.png","content_type":"image/png"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHandler_Health(t *testing.T) {
	up := ErrorCheck(func(context.Context) error { return nil })
	down := ErrorCheck(func(context.Context) error { return errors.New("dial tcp: refused") })

	r := signedInRouter(t, HandlerConfig{Checks: map[string]HealthCheck{"database": up, "redis": up}})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	r = signedInRouter(t, HandlerConfig{Checks: map[string]HealthCheck{"database": up, "redis": down}})
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "dial tcp: refused")
}

// mapStore is an in-process session.Store
type mapStore struct {
	mu   sync.Mutex
	data map[string]string
}

func (s *mapStore) Set(_ context.Context, key, value string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *mapStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return "", session.ErrKeyNotFound
	}
	return v, nil
}

func (s *mapStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *mapStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[key]
	return ok, nil
}

type noUsers struct{ *mockUsers }

func (noUsers) GetByAccount(context.Context, string, string) (*user.User, error) {
	return nil, user.ErrUserNotFound
}
func (noUsers) Create(context.Context, user.NewUser) (*user.User, error) {
	return nil, errors.New("not supported")
}
func (noUsers) LinkAccount(context.Context, string, string, string) error { return nil }

func TestRouter_WithAdapter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	adapter, err := auth.New(auth.Options{
		AppURL:        "http://localhost:8080",
		Secret:        "router-test-secret-with-enough-length",
		SessionMaxAge: time.Hour,
	}, noUsers{&mockUsers{}}, session.NewManager(&mapStore{data: map[string]string{}}), logger.Discard())
	require.NoError(t, err)

	m := metrics.New()
	r := SetupRouter(RouterConfig{
		Auth:        adapter,
		Users:       &mockUsers{},
		Handler:     NewHandler(HandlerConfig{SignInPage: adapter.SignInPage(), Logger: logger.Discard()}),
		Metrics:     m,
		Logger:      logger.Discard(),
		CORSOrigins: []string{"http://localhost:5173"},
		ServiceName: "test",
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/protected", nil))
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/auth/signin?callbackUrl=%2Fprotected", w.Header().Get("Location"))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/signin", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Equal(t, ContentSecurityPolicy, w.Header().Get("Content-Security-Policy"))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/session", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `oauthstarter_auth_middleware_outcomes_total{outcome="redirected"} 1`)
	assert.Contains(t, w.Body.String(), `oauthstarter_http_requests_total{method="GET",route="/protected",status="302"} 1`)
}
