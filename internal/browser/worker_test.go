package browser_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmb2/Social-Genius-sub006/internal/browser"
	ssocrypto "github.com/pmb2/Social-Genius-sub006/internal/crypto"
)

// scriptedDriver plays back canned page text per step and records actions.
type scriptedDriver struct {
	mu        sync.Mutex
	pageTexts []string // consumed front to back by PageText
	actions   []string
	closed    int
	failFill  map[string]bool
}

func (d *scriptedDriver) record(action string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.actions = append(d.actions, action)
}

func (d *scriptedDriver) Navigate(_ context.Context, url string) error {
	d.record("navigate:" + url)
	return nil
}

func (d *scriptedDriver) Fill(_ context.Context, selector, _ string) error {
	d.record("fill:" + selector)
	if d.failFill[selector] {
		return assert.AnError
	}
	return nil
}

func (d *scriptedDriver) Click(_ context.Context, selector string) error {
	d.record("click:" + selector)
	return nil
}

func (d *scriptedDriver) Screenshot(context.Context) ([]byte, error) {
	return []byte{0x89, 'P', 'N', 'G'}, nil
}

func (d *scriptedDriver) PageText(context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.pageTexts) == 0 {
		return "", nil
	}
	text := d.pageTexts[0]
	if len(d.pageTexts) > 1 {
		d.pageTexts = d.pageTexts[1:]
	}
	return text, nil
}

func (d *scriptedDriver) Close(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed++
	return nil
}

type fakeFactory struct{ driver *scriptedDriver }

func (f *fakeFactory) NewDriver(context.Context) (browser.Driver, error) {
	return f.driver, nil
}

type recordingSink struct {
	mu      sync.Mutex
	reports []struct {
		Percent int
		Label   string
		Shot    []byte
	}
}

func (s *recordingSink) ReportProgress(_ context.Context, _ string, percent int, label string, shot []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, struct {
		Percent int
		Label   string
		Shot    []byte
	}{percent, label, shot})
	return nil
}

func sealedCreds(t *testing.T) (*ssocrypto.Sealer, string) {
	t.Helper()
	key, err := ssocrypto.GenerateKey()
	require.NoError(t, err)
	sealer, err := ssocrypto.NewSealer(key)
	require.NoError(t, err)
	blob, err := sealer.Seal(ssocrypto.Credentials{Email: "owner@example.com", Password: "pw"})
	require.NoError(t, err)
	return sealer, blob
}

func TestWorkerRun_Success(t *testing.T) {
	driver := &scriptedDriver{pageTexts: []string{
		"Enter your password",          // after email submit
		"Welcome to your Google Account", // after password submit
	}}
	sink := &recordingSink{}
	sealer, blob := sealedCreds(t)
	worker := browser.NewWorker(&fakeFactory{driver}, sealer, sink)

	result, err := worker.Run(context.Background(), browser.Request{
		TaskID:            "task-1",
		BusinessID:        "biz-1",
		SealedCredentials: blob,
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Empty(t, result.ErrorCode)

	require.NotEmpty(t, sink.reports)
	labels := make([]string, 0, len(sink.reports))
	for _, r := range sink.reports {
		labels = append(labels, r.Label)
		assert.LessOrEqual(t, r.Percent, 90, "progress must stay below 100 until terminal")
		assert.NotEmpty(t, r.Shot)
	}
	assert.Equal(t, []string{
		browser.CheckpointInitialLoad,
		browser.CheckpointEmailEntered,
		browser.CheckpointPasswordPage,
		browser.CheckpointPasswordEntered,
		browser.CheckpointCompleted,
	}, labels)

	assert.Equal(t, 1, driver.closed, "browser session must be released")
}

func TestWorkerRun_WrongPassword(t *testing.T) {
	driver := &scriptedDriver{pageTexts: []string{
		"Enter your password",
		"Wrong password. Try again or click Forgot password",
	}}
	sink := &recordingSink{}
	sealer, blob := sealedCreds(t)
	worker := browser.NewWorker(&fakeFactory{driver}, sealer, sink)

	result, err := worker.Run(context.Background(), browser.Request{TaskID: "task-1", SealedCredentials: blob})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, browser.CodeWrongPassword, result.ErrorCode)
	assert.Equal(t, 1, driver.closed)
}

func TestWorkerRun_EmailNotFound(t *testing.T) {
	driver := &scriptedDriver{pageTexts: []string{
		"Couldn't find your Google Account",
	}}
	sink := &recordingSink{}
	sealer, blob := sealedCreds(t)
	worker := browser.NewWorker(&fakeFactory{driver}, sealer, sink)

	result, err := worker.Run(context.Background(), browser.Request{TaskID: "task-1", SealedCredentials: blob})
	require.NoError(t, err)
	assert.Equal(t, browser.CodeEmailNotFound, result.ErrorCode)
}

func TestWorkerRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	driver := &scriptedDriver{}
	sink := &recordingSink{}
	sealer, blob := sealedCreds(t)
	worker := browser.NewWorker(&fakeFactory{driver}, sealer, sink)

	result, err := worker.Run(ctx, browser.Request{TaskID: "task-1", SealedCredentials: blob})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, browser.CodeTerminated, result.ErrorCode)
	assert.Equal(t, 1, driver.closed, "browser session must be released on cancellation")
}

func TestWorkerRun_UnsealableCredentials(t *testing.T) {
	sealer, _ := sealedCreds(t)
	worker := browser.NewWorker(&fakeFactory{&scriptedDriver{}}, sealer, &recordingSink{})

	result, err := worker.Run(context.Background(), browser.Request{TaskID: "task-1", SealedCredentials: "garbage"})
	assert.Error(t, err)
	assert.Equal(t, browser.CodeLoginFailed, result.ErrorCode)
}
