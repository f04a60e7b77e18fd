package models

import (
	"net/http"
)

// EnsureOption configures an EnsureAll run.
type EnsureOption func(*ensureConfig)

// ensureConfig holds configuration for an EnsureAll run.
type ensureConfig struct {
	// policy decides whether an already verified artifact is downloaded again.
	policy RedownloadPolicy

	// progressFn is called with progress updates during download.
	progressFn func(DownloadProgress)

	// eventFn is called when an artifact changes phase.
	eventFn func(Event)
}

// newEnsureConfig returns an ensureConfig with default values.
// The default policy never re-downloads a verified artifact.
func newEnsureConfig() *ensureConfig {
	return &ensureConfig{
		policy: AlwaysSkip,
	}
}

// WithRedownloadPolicy sets the policy consulted for artifacts that are already verified.
func WithRedownloadPolicy(p RedownloadPolicy) EnsureOption {
	return func(c *ensureConfig) {
		if p != nil {
			c.policy = p
		}
	}
}

// WithProgress sets a callback for transfer progress.
// The callback runs on the goroutine calling EnsureAll.
func WithProgress(fn func(DownloadProgress)) EnsureOption {
	return func(c *ensureConfig) {
		c.progressFn = fn
	}
}

// WithEvents sets a callback notified as each artifact is skipped, downloaded and verified.
func WithEvents(fn func(Event)) EnsureOption {
	return func(c *ensureConfig) {
		c.eventFn = fn
	}
}

// ManagerOption configures a Manager.
type ManagerOption func(*managerConfig)

// managerConfig holds configuration for Manager construction.
type managerConfig struct {
	// httpClient is used for all artifact downloads.
	httpClient HTTPClient

	// logger receives diagnostic log messages.
	logger Logger

	// manifest, when set, replaces loading models.json from the install root.
	manifest *Manifest
}

// newManagerConfig returns a managerConfig with default values.
func newManagerConfig() *managerConfig {
	return &managerConfig{
		httpClient: http.DefaultClient,
	}
}

// WithHTTPClient sets a custom HTTP client for downloads.
// Useful for testing with mock servers or customizing timeouts.
// If not set, http.DefaultClient is used.
func WithHTTPClient(client HTTPClient) ManagerOption {
	return func(c *managerConfig) {
		c.httpClient = client
	}
}

// WithLogger sets a logger for diagnostic output.
// If not set, logging is disabled.
func WithLogger(logger Logger) ManagerOption {
	return func(c *managerConfig) {
		c.logger = logger
	}
}

// WithManifest uses m instead of reading models.json from the install root.
func WithManifest(m *Manifest) ManagerOption {
	return func(c *managerConfig) {
		c.manifest = m
	}
}

// HTTPClient is the interface for HTTP operations.
// *http.Client satisfies this interface.
type HTTPClient interface {
	// Do sends an HTTP request and returns an HTTP response.
	Do(req *http.Request) (*http.Response, error)
}

// Logger is the interface for diagnostic logging.
// NewZapLogger returns an implementation backed by zap.
type Logger interface {
	// Debug logs a debug-level message with optional key-value pairs.
	Debug(msg string, keysAndValues ...any)

	// Info logs an info-level message with optional key-value pairs.
	Info(msg string, keysAndValues ...any)

	// Warn logs a warning-level message with optional key-value pairs.
	Warn(msg string, keysAndValues ...any)

	// Error logs an error-level message with optional key-value pairs.
	Error(msg string, keysAndValues ...any)
}
