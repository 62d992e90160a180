package browser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// RemoteDriverFactory opens sessions against the browser-automation sidecar's
// HTTP API.
type RemoteDriverFactory struct {
	baseURL string
	client  *http.Client
}

// NewRemoteDriverFactory creates a factory for the sidecar at baseURL, e.g.
// "http://browser-api:5055".
func NewRemoteDriverFactory(baseURL string, timeout time.Duration) *RemoteDriverFactory {
	return &RemoteDriverFactory{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// NewDriver opens a new browser session in the sidecar.
func (f *RemoteDriverFactory) NewDriver(ctx context.Context) (Driver, error) {
	var resp struct {
		SessionID string `json:"session_id"`
	}
	if err := f.do(ctx, http.MethodPost, "/v1/sessions", nil, &resp); err != nil {
		return nil, fmt.Errorf("opening browser session: %w", err)
	}
	return &remoteDriver{factory: f, sessionID: resp.SessionID}, nil
}

func (f *RemoteDriverFactory) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, f.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sidecar returned %d: %s", resp.StatusCode, string(raw))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// remoteDriver is one sidecar browser session.
type remoteDriver struct {
	factory   *RemoteDriverFactory
	sessionID string

	closeOnce sync.Once
	closeErr  error
}

type actionRequest struct {
	URL      string `json:"url,omitempty"`
	Selector string `json:"selector,omitempty"`
	Value    string `json:"value,omitempty"`
}

func (d *remoteDriver) path(action string) string {
	return fmt.Sprintf("/v1/sessions/%s/%s", d.sessionID, action)
}

func (d *remoteDriver) Navigate(ctx context.Context, url string) error {
	return d.factory.do(ctx, http.MethodPost, d.path("navigate"), actionRequest{URL: url}, nil)
}

func (d *remoteDriver) Fill(ctx context.Context, selector, value string) error {
	return d.factory.do(ctx, http.MethodPost, d.path("fill"), actionRequest{Selector: selector, Value: value}, nil)
}

func (d *remoteDriver) Click(ctx context.Context, selector string) error {
	return d.factory.do(ctx, http.MethodPost, d.path("click"), actionRequest{Selector: selector}, nil)
}

func (d *remoteDriver) Screenshot(ctx context.Context) ([]byte, error) {
	var resp struct {
		Image []byte `json:"image"` // base64 in JSON, decoded by encoding/json
	}
	if err := d.factory.do(ctx, http.MethodGet, d.path("screenshot"), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Image, nil
}

func (d *remoteDriver) PageText(ctx context.Context) (string, error) {
	var resp struct {
		Text string `json:"text"`
	}
	if err := d.factory.do(ctx, http.MethodGet, d.path("text"), nil, &resp); err != nil {
		return "", err
	}
	return resp.Text, nil
}

// Close tears down the sidecar session. It must succeed logically even when
// the run's context is already cancelled, so it uses a detached timeout.
func (d *remoteDriver) Close(context.Context) error {
	d.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		d.closeErr = d.factory.do(ctx, http.MethodDelete, "/v1/sessions/"+d.sessionID, nil, nil)
		if d.closeErr != nil {
			log.Warn().Err(d.closeErr).Str("session_id", d.sessionID).Msg("failed to close browser session")
		}
	})
	return d.closeErr
}
