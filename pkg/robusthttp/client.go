package robusthttp

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// adapts slog to the retryablehttp.LeveledLogger interface
type leveledSlog struct {
	inner *slog.Logger
}

// intermediate failures are retried, so they are only warnings
func (l leveledSlog) Error(msg string, keysAndValues ...any) {
	l.inner.Warn(msg, keysAndValues...)
}

func (l leveledSlog) Warn(msg string, keysAndValues ...any) {
	l.inner.Warn(msg, keysAndValues...)
}

func (l leveledSlog) Info(msg string, keysAndValues ...any) {
	l.inner.Info(msg, keysAndValues...)
}

func (l leveledSlog) Debug(msg string, keysAndValues ...any) {
	l.inner.Debug(msg, keysAndValues...)
}

type options struct {
	maxRetries   int
	waitMin      time.Duration
	waitMax      time.Duration
	timeout      time.Duration
	logger       *slog.Logger
	transport    http.RoundTripper
	policy       retryablehttp.CheckRetry
	instrumented bool
}

type Option func(*options)

func WithMaxRetries(n int) Option {
	return func(o *options) {
		o.maxRetries = n
	}
}

func WithRetryWait(waitMin, waitMax time.Duration) Option {
	return func(o *options) {
		o.waitMin = waitMin
		o.waitMax = waitMax
	}
}

// Overall timeout for a single logical request, including all retries.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func WithTransport(transport http.RoundTripper) Option {
	return func(o *options) {
		o.transport = transport
	}
}

func WithRetryPolicy(policy retryablehttp.CheckRetry) Option {
	return func(o *options) {
		o.policy = policy
	}
}

// Disables the otelhttp transport wrapper (eg, for tests against httptest servers).
func WithoutTracing() Option {
	return func(o *options) {
		o.instrumented = false
	}
}

// Creates an HTTP client with general-purpose defaults around timeouts and retries. The returned client has the stdlib http.Client interface, but has Hashicorp retryablehttp logic internally.
//
// The client retries connection errors and 5xx responses (except 501), but not 429: rate-limiting is left to the caller. Intermediate failures are logged at WARN.
func NewClient(opts ...Option) *http.Client {
	o := options{
		maxRetries:   3,
		waitMin:      500 * time.Millisecond,
		waitMax:      5 * time.Second,
		timeout:      30 * time.Second,
		logger:       slog.Default(),
		policy:       DefaultRetryPolicy,
		instrumented: true,
	}
	for _, opt := range opts {
		opt(&o)
	}

	transport := o.transport
	if transport == nil {
		transport = cleanhttp.DefaultPooledTransport()
	}
	if o.instrumented {
		transport = otelhttp.NewTransport(transport)
	}

	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient.Transport = transport
	retryClient.RetryMax = o.maxRetries
	retryClient.RetryWaitMin = o.waitMin
	retryClient.RetryWaitMax = o.waitMax
	retryClient.Logger = retryablehttp.LeveledLogger(leveledSlog{inner: o.logger.With("subsystem", "robusthttp")})
	retryClient.CheckRetry = o.policy

	client := retryClient.StandardClient()
	client.Timeout = o.timeout
	return client
}

// Wraps retryablehttp.DefaultRetryPolicy, treating `429 Too Many Requests` as non-retryable.
func DefaultRetryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if err == nil && resp.StatusCode == http.StatusTooManyRequests {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}
