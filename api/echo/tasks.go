package echo

import (
	"encoding/base64"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/pmb2/Social-Genius-sub006/domain"
	apierrors "github.com/pmb2/Social-Genius-sub006/errors"
)

type screenshotResponse struct {
	Label      string    `json:"label"`
	Image      string    `json:"image"` // base64 PNG
	CapturedAt time.Time `json:"captured_at"`
}

func toScreenshotResponse(shot domain.Screenshot) screenshotResponse {
	return screenshotResponse{
		Label:      shot.Label,
		Image:      base64.StdEncoding.EncodeToString(shot.Image),
		CapturedAt: shot.CapturedAt,
	}
}

// TaskStatusHandler returns the polled status of a task.
func (a *API) TaskStatusHandler(c echo.Context) error {
	taskID := c.QueryParam("taskId")
	if taskID == "" {
		return a.writeError(c, apierrors.NewValidation("taskId is required"))
	}

	view, err := a.tasks.GetStatus(c.Request().Context(), taskID)
	if err != nil {
		return a.writeError(c, err)
	}
	return c.JSON(http.StatusOK, view)
}

// TaskScreenshotsHandler returns the captures for a task owned by the
// caller's business. all=true returns the whole sequence, otherwise only the
// latest capture.
func (a *API) TaskScreenshotsHandler(c echo.Context) error {
	taskID := c.QueryParam("taskId")
	if taskID == "" {
		return a.writeError(c, apierrors.NewValidation("taskId is required"))
	}
	user := currentUser(c)
	ctx := c.Request().Context()

	if c.QueryParam("all") == "true" {
		shots, err := a.tasks.GetAllScreenshots(ctx, taskID, user.BusinessID)
		if err != nil {
			return a.writeError(c, err)
		}
		out := make([]screenshotResponse, 0, len(shots))
		for _, shot := range shots {
			out = append(out, toScreenshotResponse(shot))
		}
		return c.JSON(http.StatusOK, map[string]any{"screenshots": out})
	}

	shot, err := a.tasks.GetScreenshot(ctx, taskID, user.BusinessID)
	if err != nil {
		return a.writeError(c, err)
	}
	return c.JSON(http.StatusOK, toScreenshotResponse(*shot))
}

// TaskTerminateHandler cancels an active task. Terminating an already
// finished task reports success without a new transition.
func (a *API) TaskTerminateHandler(c echo.Context) error {
	taskID := c.QueryParam("taskId")
	if taskID == "" {
		return a.writeError(c, apierrors.NewValidation("taskId is required"))
	}

	result, err := a.tasks.TerminateTask(c.Request().Context(), taskID)
	if err != nil {
		return a.writeError(c, err)
	}
	a.logger.Info(c.Request().Context(), "task termination requested", map[string]interface{}{
		"task_id":    taskID,
		"terminated": result.Terminated,
	})
	return c.JSON(http.StatusOK, result)
}
