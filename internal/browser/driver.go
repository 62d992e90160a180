// Package browser drives a headless browser through an external provider's
// login UI on behalf of a business account. The browser itself runs in a
// separate automation sidecar; this package holds the login script, the
// checkpoint/screenshot protocol, and the sidecar client.
package browser

import "context"

// Driver abstracts one live browser session. Implementations must be safe to
// Close more than once; Close releases the underlying browser resource and is
// called on every exit path of a run.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	Fill(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string) error
	// Screenshot captures the current viewport as PNG bytes.
	Screenshot(ctx context.Context) ([]byte, error)
	// PageText returns the visible text of the current page, used to
	// classify the login outcome.
	PageText(ctx context.Context) (string, error)
	Close(ctx context.Context) error
}

// DriverFactory opens a fresh browser session per task.
type DriverFactory interface {
	NewDriver(ctx context.Context) (Driver, error)
}
