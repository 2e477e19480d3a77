// Package forward performs the real outbound call for a cache miss, retrying
// failed attempts, and converts the upstream response into a canonical one
// ready to be recorded.
package forward

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/NikZak/pact-proxy/internal/domain"
	"github.com/NikZak/pact-proxy/internal/pact"
)

const (
	// DefaultAttempts is the total number of sends before giving up.
	DefaultAttempts = 5

	// DefaultBackoff is the wait after each failed attempt.
	DefaultBackoff = time.Second
)

// Observer is notified of each send attempt. It is satisfied by the
// proxy's metrics collector.
type Observer interface {
	ForwardAttempt(provider string, status int, err error)
}

// Forwarder sends canonical requests to their real destination.
type Forwarder struct {
	client   *http.Client
	attempts int
	backoff  time.Duration
	observer Observer
	logger   *slog.Logger
}

// Option configures a Forwarder.
type Option func(*Forwarder)

// WithHTTPClient sets the client used for outbound calls.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Forwarder) {
		f.client = c
	}
}

// WithRetry sets the total attempts and the wait between them.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(f *Forwarder) {
		if attempts > 0 {
			f.attempts = attempts
		}
		if backoff >= 0 {
			f.backoff = backoff
		}
	}
}

// WithObserver registers an attempt observer.
func WithObserver(o Observer) Option {
	return func(f *Forwarder) {
		f.observer = o
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Forwarder) {
		f.logger = l
	}
}

// New creates a Forwarder. The default client instruments outbound calls
// with OpenTelemetry and has no timeout beyond the transport's defaults.
func New(opts ...Option) *Forwarder {
	f := &Forwarder{
		attempts: DefaultAttempts,
		backoff:  DefaultBackoff,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.client == nil {
		f.client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return f
}

// Result is a forwarded response together with the number of sends it took.
type Result struct {
	Response *pact.Response
	Attempts int
}

// Forward sends req up to the configured number of times, waiting the
// backoff after every failed attempt (send error or non-2xx status). The
// first 2xx response is converted, normalized and returned. When every
// attempt fails the error is a ForwardingExhausted error.
func (f *Forwarder) Forward(ctx context.Context, req *pact.Request) (*Result, error) {
	var lastErr error
	var lastStatus int

	for attempt := 1; attempt <= f.attempts; attempt++ {
		out, err := BuildRequest(ctx, req)
		if err != nil {
			return nil, err
		}

		resp, err := f.client.Do(out)
		switch {
		case err != nil:
			lastErr, lastStatus = err, 0
		case resp.StatusCode < 200 || resp.StatusCode > 299:
			lastErr, lastStatus = nil, resp.StatusCode
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		default:
			f.observe(req, resp.StatusCode, nil)
			out, err := ResponseFromHTTP(resp)
			if err != nil {
				return nil, err
			}
			if err := Normalize(out); err != nil {
				return nil, err
			}
			return &Result{Response: out, Attempts: attempt}, nil
		}

		f.observe(req, lastStatus, lastErr)
		f.logger.DebugContext(ctx, "forward attempt failed",
			slog.String("url", req.Path),
			slog.Int("attempt", attempt),
			slog.Int("status", lastStatus),
			slog.Any("error", lastErr))

		if attempt == f.attempts {
			break
		}
		if err := f.wait(ctx); err != nil {
			lastErr = err
			break
		}
	}

	msg := fmt.Sprintf("%s: no successful response after %d attempts", req.Path, f.attempts)
	if lastStatus != 0 {
		msg = fmt.Sprintf("%s (last status %d)", msg, lastStatus)
	}
	return nil, domain.NewError(domain.ErrorKindForwardingExhausted, "forward", msg, lastErr)
}

func (f *Forwarder) wait(ctx context.Context) error {
	if f.backoff <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(f.backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (f *Forwarder) observe(req *pact.Request, status int, err error) {
	if f.observer == nil {
		return
	}
	provider := ""
	if u, perr := url.Parse(req.Path); perr == nil {
		provider = u.Hostname()
	}
	f.observer.ForwardAttempt(provider, status, err)
}

// BuildRequest copies req's method, URL and headers onto an outbound request.
// Host is applied through http.Request.Host since net/http ignores it in
// the header map. Accept-Encoding is left to the transport so compressed
// responses are decoded before they are recorded.
func BuildRequest(ctx context.Context, req *pact.Request) (*http.Request, error) {
	out, err := http.NewRequestWithContext(ctx, req.Method, req.Path, nil)
	if err != nil {
		return nil, domain.NewError(domain.ErrorKindTranslation, "forward", "build request", err)
	}
	for key, values := range req.Headers {
		switch strings.ToLower(key) {
		case "host":
			if len(values) > 0 {
				out.Host = values[0]
			}
			continue
		case "accept-encoding":
			continue
		}
		for _, v := range values {
			out.Header.Add(key, v)
		}
	}
	return out, nil
}

// ResponseFromHTTP reads resp fully and converts it. Header names are
// lower-cased; every other component must use lower-case names when looking
// headers up in a recorded response.
func ResponseFromHTTP(resp *http.Response) (*pact.Response, error) {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	headers := LowerHeaders(resp.Header)
	return &pact.Response{
		Status:  resp.StatusCode,
		Headers: headers,
		Body:    pact.NewBody(body, headers.Get("content-type")),
	}, nil
}

// LowerHeaders converts h to a multi-value map keyed by lower-case names.
func LowerHeaders(h http.Header) pact.MultiValues {
	if len(h) == 0 {
		return nil
	}
	out := make(pact.MultiValues, len(h))
	for k, v := range h {
		lk := strings.ToLower(k)
		out[lk] = append(out[lk], v...)
	}
	return out
}
