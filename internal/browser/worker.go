package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/pmb2/Social-Genius-sub006/domain"
	ssocrypto "github.com/pmb2/Social-Genius-sub006/internal/crypto"
)

// DefaultLoginURL is where the Google login script starts.
const DefaultLoginURL = "https://accounts.google.com/ServiceLogin"

// Automation outcome codes, surfaced in the task result.
const (
	CodeWrongPassword        = "WRONG_PASSWORD"
	CodeEmailNotFound        = "EMAIL_NOT_FOUND"
	CodeSuspiciousActivity   = "SUSPICIOUS_ACTIVITY"
	CodeVerificationRequired = "VERIFICATION_REQUIRED"
	CodeTwoFactorRequired    = "TWO_FACTOR_REQUIRED"
	CodeAccountDisabled      = "ACCOUNT_DISABLED"
	CodeTooManyAttempts      = "TOO_MANY_ATTEMPTS"
	CodeCaptchaChallenge     = "CAPTCHA_CHALLENGE"
	CodeLoginFailed          = "LOGIN_FAILED"
	CodeTimeout              = "TIMEOUT"
	CodeTerminated           = "TERMINATED"
)

// Checkpoint labels, in script order. Screenshot labels match these.
const (
	CheckpointInitialLoad     = "initial_load"
	CheckpointEmailEntered    = "email_entered"
	CheckpointPasswordPage    = "password_page"
	CheckpointPasswordEntered = "password_entered"
	CheckpointVerification    = "verification_challenge"
	CheckpointCompleted       = "completed"
)

// progressPercent maps a checkpoint index to a coarse progress value, capped
// below 100 until the run is terminal.
func progressPercent(step int) int {
	p := step * 15
	if p > 90 {
		p = 90
	}
	return p
}

// ProgressSink receives checkpoint reports during a run. Implemented by the
// task lifecycle manager.
type ProgressSink interface {
	ReportProgress(ctx context.Context, taskID string, percent int, label string, screenshot []byte) error
}

// Request describes one login automation run.
type Request struct {
	TaskID            string
	BusinessID        string
	SealedCredentials string
	LoginURL          string
}

// Worker executes the provider login script inside a browser session.
type Worker struct {
	drivers DriverFactory
	sealer  *ssocrypto.Sealer
	sink    ProgressSink
}

// NewWorker creates a Worker.
func NewWorker(drivers DriverFactory, sealer *ssocrypto.Sealer, sink ProgressSink) *Worker {
	return &Worker{drivers: drivers, sealer: sealer, sink: sink}
}

// Run performs the login flow and returns the structured outcome. The context
// carries both the wall-clock budget and cooperative cancellation: the script
// checks it at every checkpoint and winds down when it fires. The browser
// session is closed on all exit paths.
func (w *Worker) Run(ctx context.Context, req Request) (domain.TaskResult, error) {
	creds, err := w.sealer.Open(req.SealedCredentials)
	if err != nil {
		return failure(CodeLoginFailed, "credentials could not be unsealed"), err
	}

	driver, err := w.drivers.NewDriver(ctx)
	if err != nil {
		return failure(CodeLoginFailed, "browser session could not be opened"), err
	}
	defer driver.Close(ctx)

	loginURL := req.LoginURL
	if loginURL == "" {
		loginURL = DefaultLoginURL
	}

	step := 0
	checkpoint := func(label string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		step++
		w.capture(ctx, req.TaskID, progressPercent(step), label, driver)
		return nil
	}

	if err := driver.Navigate(ctx, loginURL); err != nil {
		return failure(CodeLoginFailed, "login page did not load"), err
	}
	if err := checkpoint(CheckpointInitialLoad); err != nil {
		return terminated(), err
	}

	if err := driver.Fill(ctx, "#identifierId", creds.Email); err != nil {
		return failure(CodeEmailNotFound, "email field not found"), err
	}
	if err := driver.Click(ctx, "#identifierNext"); err != nil {
		return failure(CodeLoginFailed, "could not submit email"), err
	}
	if err := checkpoint(CheckpointEmailEntered); err != nil {
		return terminated(), err
	}

	// The interstitial between email and password is where Google reports
	// unknown accounts; classify before typing the password.
	text, err := driver.PageText(ctx)
	if err != nil {
		return failure(CodeLoginFailed, "page state unreadable"), err
	}
	if code, msg, failed := classifyFailure(text); failed {
		return failure(code, msg), nil
	}
	if err := checkpoint(CheckpointPasswordPage); err != nil {
		return terminated(), err
	}

	if err := driver.Fill(ctx, "input[type='password']", creds.Password); err != nil {
		return failure(CodeLoginFailed, "password field not found"), err
	}
	if err := driver.Click(ctx, "#passwordNext"); err != nil {
		return failure(CodeLoginFailed, "could not submit password"), err
	}
	if err := checkpoint(CheckpointPasswordEntered); err != nil {
		return terminated(), err
	}

	text, err = driver.PageText(ctx)
	if err != nil {
		return failure(CodeLoginFailed, "page state unreadable"), err
	}
	if code, msg, failed := classifyFailure(text); failed {
		if err := checkpoint(CheckpointVerification); err != nil {
			return terminated(), err
		}
		return failure(code, msg), nil
	}
	if err := checkpoint(CheckpointCompleted); err != nil {
		return terminated(), err
	}

	if !classifySuccess(text) {
		return failureWithDetails(CodeLoginFailed, "login outcome unrecognized", text), nil
	}

	return domain.TaskResult{
		Success: true,
		Message: "Successfully authenticated with Google",
	}, nil
}

func (w *Worker) capture(ctx context.Context, taskID string, percent int, label string, driver Driver) {
	var shot []byte
	if image, err := driver.Screenshot(ctx); err != nil {
		log.Warn().Err(err).Str("task_id", taskID).Str("checkpoint", label).Msg("screenshot capture failed")
	} else {
		shot = image
	}
	if err := w.sink.ReportProgress(ctx, taskID, percent, label, shot); err != nil &&
		!errors.Is(err, context.Canceled) && !errors.Is(err, domain.ErrTerminalTaskState) {
		log.Warn().Err(err).Str("task_id", taskID).Str("checkpoint", label).Msg("progress report failed")
	}
}

func failure(code, message string) domain.TaskResult {
	return domain.TaskResult{
		Success:   false,
		ErrorCode: code,
		Message:   fmt.Sprintf("Authentication failed: %s", message),
	}
}

func failureWithDetails(code, message, details string) domain.TaskResult {
	result := failure(code, message)
	if len(details) > 500 {
		details = details[:500]
	}
	result.Details = details
	return result
}

func terminated() domain.TaskResult {
	return domain.TaskResult{
		Success:   false,
		ErrorCode: CodeTerminated,
		Message:   "Task terminated before completion",
	}
}

var successIndicators = []string{
	"successfully logged in",
	"login successful",
	"logged in successfully",
	"google account",
	"account dashboard",
}

var failureIndicators = []struct {
	code       string
	message    string
	indicators []string
}{
	{CodeWrongPassword, "wrong password", []string{"wrong password", "password was incorrect", "check your password"}},
	{CodeEmailNotFound, "email not found", []string{"couldn't find your google account", "couldn't find account", "no account found"}},
	{CodeSuspiciousActivity, "suspicious activity", []string{"unusual activity", "suspicious activity", "security alert", "security challenge"}},
	{CodeVerificationRequired, "verification required", []string{"verify it's you", "confirm your identity", "additional verification"}},
	{CodeTwoFactorRequired, "two-factor required", []string{"2-step verification", "two-factor", "enter verification code", "enter the code"}},
	{CodeAccountDisabled, "account disabled", []string{"account disabled", "account has been disabled", "account suspended"}},
	{CodeTooManyAttempts, "too many attempts", []string{"too many failed attempts", "try again later", "account is locked"}},
	{CodeCaptchaChallenge, "captcha challenge", []string{"captcha", "prove you're not a robot", "recaptcha"}},
}

func classifyFailure(pageText string) (code, message string, failed bool) {
	lowered := strings.ToLower(pageText)
	for _, group := range failureIndicators {
		for _, indicator := range group.indicators {
			if strings.Contains(lowered, indicator) {
				return group.code, group.message, true
			}
		}
	}
	return "", "", false
}

func classifySuccess(pageText string) bool {
	lowered := strings.ToLower(pageText)
	for _, indicator := range successIndicators {
		if strings.Contains(lowered, indicator) {
			return true
		}
	}
	return false
}
