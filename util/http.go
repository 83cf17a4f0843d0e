package util

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Adapts slog to the retryablehttp logger interface.
type retryLogger struct {
	inner *slog.Logger
}

// retries are expected, so ERROR is logged as WARN
func (l retryLogger) Error(msg string, keysAndValues ...any) {
	l.inner.Warn(msg, keysAndValues...)
}

func (l retryLogger) Warn(msg string, keysAndValues ...any) {
	l.inner.Warn(msg, keysAndValues...)
}

func (l retryLogger) Info(msg string, keysAndValues ...any) {
	l.inner.Info(msg, keysAndValues...)
}

// retry attempts are logged at DEBUG; bump them to INFO
func (l retryLogger) Debug(msg string, keysAndValues ...any) {
	l.inner.Info(msg, keysAndValues...)
}

// Generates an HTTP client which retries on connection errors, 5xx status (except 501),
// and 429 responses (respecting 'Retry-After'). The result has the stdlib http.Client
// interface, so it can be passed to the Tent protocol client.
//
// The auth flow itself never retries. Hosts which want retries against flaky Tent servers
// layer them in here. If `transport` is nil, a pooled default transport is used.
func RobustHTTPClient(logger *slog.Logger, transport http.RoundTripper) *http.Client {
	if logger == nil {
		logger = slog.Default()
	}
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 10 * time.Second
	retryClient.Logger = retryablehttp.LeveledLogger(retryLogger{logger.With("component", "http-retry")})
	if transport != nil {
		retryClient.HTTPClient.Transport = transport
	}
	client := retryClient.StandardClient()
	client.Timeout = 20 * time.Second
	return client
}
