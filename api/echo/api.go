package echo

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/pmb2/Social-Genius-sub006/domain"
	apierrors "github.com/pmb2/Social-Genius-sub006/errors"
	applog "github.com/pmb2/Social-Genius-sub006/log"
	"github.com/pmb2/Social-Genius-sub006/services"
)

// SessionCookieName carries the opaque browser session id. All flow state
// lives server-side keyed by this id; the cookie itself holds nothing else.
const SessionCookieName = "sg_session"

const contextKeyUser = "auth.user"

// API wires the account-linking and task endpoints onto an echo router.
type API struct {
	auth     *services.AuthService
	tasks    *services.TaskService
	sessions domain.SessionStore
	users    domain.UserRepository
	health   map[string]HealthProbe
	logger   applog.Logger
}

// HealthProbe checks one backing dependency.
type HealthProbe func(ctx context.Context) error

// NewAPI initializes the HTTP API. The health map associates a dependency
// name with its reachability probe.
func NewAPI(
	auth *services.AuthService,
	tasks *services.TaskService,
	sessions domain.SessionStore,
	users domain.UserRepository,
	health map[string]HealthProbe,
	logger applog.Logger,
) *API {
	return &API{
		auth:     auth,
		tasks:    tasks,
		sessions: sessions,
		users:    users,
		health:   health,
		logger:   logger,
	}
}

// RegisterRoutes registers the auth, task, and health routes.
func (a *API) RegisterRoutes(e *echo.Echo) {
	e.GET("/auth/google", a.BeginGoogleAuthHandler)
	e.GET("/auth/google/callback", a.GoogleCallbackHandler)
	e.GET("/health", a.HealthHandler)

	api := e.Group("/api", a.requireSession)
	api.GET("/tasks/status", a.TaskStatusHandler)
	api.GET("/tasks/screenshots", a.TaskScreenshotsHandler)
	api.GET("/tasks/terminate", a.TaskTerminateHandler)
	api.POST("/tasks/terminate", a.TaskTerminateHandler)
}

// sessionID returns the browser session id, minting the cookie on first
// contact.
func (a *API) sessionID(c echo.Context) string {
	cookie, err := c.Cookie(SessionCookieName)
	if err == nil && cookie.Value != "" {
		return cookie.Value
	}
	id := uuid.NewString()
	c.SetCookie(&http.Cookie{
		Name:     SessionCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

// requireSession authenticates /api requests from the session cookie. The
// resolved user is stashed on the echo context.
func (a *API) requireSession(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		cookie, err := c.Cookie(SessionCookieName)
		if err != nil || cookie.Value == "" {
			return c.JSON(http.StatusUnauthorized, apierrors.NewAuthentication("no session"))
		}
		ctx := c.Request().Context()
		userID, ok, err := a.sessions.Get(ctx, cookie.Value, "user_id")
		if err != nil {
			return c.JSON(http.StatusInternalServerError, apierrors.NewInfrastructure("session store unavailable"))
		}
		if !ok {
			return c.JSON(http.StatusUnauthorized, apierrors.NewAuthentication("session expired"))
		}
		user, err := a.users.GetUserByID(ctx, userID)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, apierrors.NewAuthentication("unknown session user"))
		}
		c.Set(contextKeyUser, user)
		return next(c)
	}
}

func currentUser(c echo.Context) *domain.User {
	user, _ := c.Get(contextKeyUser).(*domain.User)
	return user
}

// BeginGoogleAuthHandler starts the PKCE flow and redirects the user agent to
// Google. flow selects login, register, or link; userId is required for link.
func (a *API) BeginGoogleAuthHandler(c echo.Context) error {
	flow := domain.AuthFlow(c.QueryParam("flow"))
	if flow == "" {
		flow = domain.FlowLogin
	}
	userID := c.QueryParam("userId")

	authURL, err := a.auth.BeginAuthorization(c.Request().Context(), a.sessionID(c), flow, userID)
	if err != nil {
		return a.writeError(c, err)
	}
	return c.Redirect(http.StatusFound, authURL)
}

// GoogleCallbackHandler completes the flow. All failures collapse onto the
// generic login failure redirect; provider detail stays in the logs.
func (a *API) GoogleCallbackHandler(c echo.Context) error {
	if providerErr := c.QueryParam("error"); providerErr != "" {
		log.Warn().Str("provider_error", providerErr).Msg("authorization denied at provider")
		return a.redirectFailure(c, apierrors.KindUpstream)
	}

	cookie, err := c.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return a.redirectFailure(c, apierrors.KindState)
	}

	outcome, err := a.auth.HandleCallback(c.Request().Context(),
		cookie.Value, c.QueryParam("code"), c.QueryParam("state"))
	if err != nil {
		log.Warn().Err(err).Msg("callback rejected")
		var apiErr *apierrors.APIError
		if errors.As(err, &apiErr) {
			return a.redirectFailure(c, apiErr.Kind)
		}
		return a.redirectFailure(c, apierrors.KindInfrastructure)
	}
	return c.Redirect(http.StatusFound, outcome.RedirectURL)
}

func (a *API) redirectFailure(c echo.Context, kind string) error {
	target := services.LoginFailurePath + "?error=" + url.QueryEscape(kind)
	return c.Redirect(http.StatusFound, target)
}

// HealthHandler reports the reachability of each backing dependency. Any
// failing probe degrades the response to 503.
func (a *API) HealthHandler(c echo.Context) error {
	status := http.StatusOK
	checks := make(map[string]string, len(a.health))
	for name, probe := range a.health {
		if err := probe(c.Request().Context()); err != nil {
			checks[name] = "unreachable"
			status = http.StatusServiceUnavailable
			log.Error().Err(err).Str("dependency", name).Msg("health probe failed")
			continue
		}
		checks[name] = "ok"
	}
	body := map[string]any{"status": "ok", "checks": checks}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	return c.JSON(status, body)
}

// writeError maps service errors onto HTTP statuses.
func (a *API) writeError(c echo.Context, err error) error {
	var apiErr *apierrors.APIError
	if !errors.As(err, &apiErr) {
		switch {
		case errors.Is(err, domain.ErrTaskNotFound):
			apiErr = apierrors.NewAuthorization("task not found")
		case errors.Is(err, domain.ErrDuplicateActiveTask):
			apiErr = apierrors.NewTaskState("an active task already exists")
		case errors.Is(err, domain.ErrTerminalTaskState):
			apiErr = apierrors.NewTaskState("task already completed")
		default:
			log.Error().Err(err).Msg("unhandled service error")
			apiErr = apierrors.NewInfrastructure("internal error")
		}
	}

	switch apiErr.Kind {
	case apierrors.KindValidation, apierrors.KindState:
		return c.JSON(http.StatusBadRequest, apiErr)
	case apierrors.KindAuthentication:
		return c.JSON(http.StatusUnauthorized, apiErr)
	case apierrors.KindAuthorization:
		// Reported as not-found so resource existence never leaks.
		return c.JSON(http.StatusNotFound, apiErr)
	case apierrors.KindTaskState:
		return c.JSON(http.StatusConflict, apiErr)
	case apierrors.KindUpstream:
		return c.JSON(http.StatusBadGateway, apiErr)
	default:
		return c.JSON(http.StatusInternalServerError, apiErr)
	}
}
