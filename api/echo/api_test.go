package echo_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	echoapi "github.com/pmb2/Social-Genius-sub006/api/echo"
	"github.com/pmb2/Social-Genius-sub006/cache"
	"github.com/pmb2/Social-Genius-sub006/domain"
	"github.com/pmb2/Social-Genius-sub006/internal/browser"
	"github.com/pmb2/Social-Genius-sub006/internal/federation"
	"github.com/pmb2/Social-Genius-sub006/internal/statetoken"
	"github.com/pmb2/Social-Genius-sub006/internal/taskstore"
	"github.com/pmb2/Social-Genius-sub006/internal/userstore"
	applog "github.com/pmb2/Social-Genius-sub006/log"
	"github.com/pmb2/Social-Genius-sub006/services"
)

type parkedRunner struct{ mu sync.Mutex }

func (r *parkedRunner) Run(ctx context.Context, _ browser.Request) (domain.TaskResult, error) {
	<-ctx.Done()
	return domain.TaskResult{Success: false, ErrorCode: browser.CodeTerminated}, ctx.Err()
}

type fixture struct {
	e     *echo.Echo
	tasks *services.TaskService
	users *userstore.InMemoryUserRepository
	store *cache.MemorySessionStore
}

func newFixture(t *testing.T, health map[string]echoapi.HealthProbe) *fixture {
	t.Helper()

	provider, err := federation.NewGoogleProvider(federation.GoogleConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "http://localhost/auth/google/callback",
		Endpoint: &oauth2.Endpoint{
			AuthURL:  "http://localhost/provider/auth",
			TokenURL: "http://localhost/provider/token",
		},
	})
	require.NoError(t, err)

	store := cache.NewMemorySessionStore(30 * time.Minute)
	t.Cleanup(store.Stop)
	users := userstore.NewInMemoryUserRepository()
	repo := taskstore.NewInMemoryTaskRepository()
	tasks := services.NewTaskService(repo, &parkedRunner{}, time.Minute)
	t.Cleanup(tasks.Shutdown)

	state := statetoken.NewCodec([]byte("secret"), 15*time.Minute)
	auth := services.NewAuthService(provider, store, users, state, tasks, nil)

	api := echoapi.NewAPI(auth, tasks, store, users, health,
		applog.NewZerologAdapter(zerolog.ErrorLevel, false))
	e := echo.New()
	api.RegisterRoutes(e)
	return &fixture{e: e, tasks: tasks, users: users, store: store}
}

// login creates a user with a live session and returns their session cookie.
func (f *fixture) login(t *testing.T, userID, businessID string) *http.Cookie {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.users.CreateUser(ctx, &domain.User{
		ID: userID, BusinessID: businessID, Email: userID + "@example.com",
	}))
	sessionID := "sess-" + userID
	require.NoError(t, f.store.Put(ctx, sessionID, "user_id", userID))
	return &http.Cookie{Name: echoapi.SessionCookieName, Value: sessionID}
}

func doRequest(t *testing.T, e *echo.Echo, method, target string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestBeginGoogleAuthRedirects(t *testing.T) {
	fx := newFixture(t, nil)

	rec := doRequest(t, fx.e, http.MethodGet, "/auth/google?flow=register")
	require.Equal(t, http.StatusFound, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	q := loc.Query()
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.NotEmpty(t, q.Get("code_challenge"))
	assert.NotEmpty(t, q.Get("state"))

	// First contact mints the opaque session cookie.
	found := false
	for _, c := range rec.Result().Cookies() {
		if c.Name == echoapi.SessionCookieName {
			found = true
			assert.True(t, c.HttpOnly)
			assert.NotEmpty(t, c.Value)
		}
	}
	assert.True(t, found, "session cookie not set")
}

func TestBeginGoogleAuthValidation(t *testing.T) {
	fx := newFixture(t, nil)

	rec := doRequest(t, fx.e, http.MethodGet, "/auth/google?flow=bogus")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, fx.e, http.MethodGet, "/auth/google?flow=link")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCallbackFailuresRedirectGenerically(t *testing.T) {
	fx := newFixture(t, nil)

	// Provider-side denial.
	rec := doRequest(t, fx.e, http.MethodGet, "/auth/google/callback?error=access_denied")
	require.Equal(t, http.StatusFound, rec.Code)
	loc := rec.Header().Get("Location")
	assert.Contains(t, loc, services.LoginFailurePath)
	assert.NotContains(t, loc, "access_denied")

	// No cookie, no pending flow.
	rec = doRequest(t, fx.e, http.MethodGet, "/auth/google/callback?code=x&state=y")
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), services.LoginFailurePath)
}

func TestAPIRequiresSession(t *testing.T) {
	fx := newFixture(t, nil)

	rec := doRequest(t, fx.e, http.MethodGet, "/api/tasks/status?taskId=x")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// A cookie with no server-side session is rejected too.
	stale := &http.Cookie{Name: echoapi.SessionCookieName, Value: "gone"}
	rec = doRequest(t, fx.e, http.MethodGet, "/api/tasks/status?taskId=x", stale)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTaskEndpoints(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	cookie := fx.login(t, "user-1", "biz-1")

	taskID, err := fx.tasks.CreateTask(ctx, "biz-1", domain.TaskTypeGoogleAuth, "sealed")
	require.NoError(t, err)
	require.NoError(t, fx.tasks.ReportProgress(ctx, taskID, 30, "email_entered", []byte("img")))

	rec := doRequest(t, fx.e, http.MethodGet, "/api/tasks/status?taskId="+taskID, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	var status services.TaskStatusView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, domain.TaskStatusInProgress, status.Status)
	assert.Equal(t, 30, status.Progress)

	rec = doRequest(t, fx.e, http.MethodGet, "/api/tasks/status?taskId=missing", cookie)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, fx.e, http.MethodGet, "/api/tasks/screenshots?taskId="+taskID, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	var shot map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &shot))
	assert.Equal(t, "email_entered", shot["label"])

	rec = doRequest(t, fx.e, http.MethodGet, fmt.Sprintf("/api/tasks/screenshots?taskId=%s&all=true", taskID), cookie)
	require.Equal(t, http.StatusOK, rec.Code)

	// Another tenant cannot see the screenshots, and the response does not
	// reveal whether the task exists.
	other := fx.login(t, "user-2", "biz-2")
	rec = doRequest(t, fx.e, http.MethodGet, "/api/tasks/screenshots?taskId="+taskID, other)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, fx.e, http.MethodPost, "/api/tasks/terminate?taskId="+taskID, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	var result services.TerminationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Success)
	assert.True(t, result.Terminated)

	rec = doRequest(t, fx.e, http.MethodGet, "/api/tasks/terminate?taskId="+taskID, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Success)
	assert.False(t, result.Terminated)

	rec = doRequest(t, fx.e, http.MethodGet, "/api/tasks/status?taskId=", cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthHandler(t *testing.T) {
	healthy := newFixture(t, map[string]echoapi.HealthProbe{
		"mongodb": func(context.Context) error { return nil },
		"redis":   func(context.Context) error { return nil },
	})
	rec := doRequest(t, healthy.e, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])

	degraded := newFixture(t, map[string]echoapi.HealthProbe{
		"mongodb": func(context.Context) error { return errors.New("down") },
	})
	rec = doRequest(t, degraded.e, http.MethodGet, "/health")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body["status"])
}
