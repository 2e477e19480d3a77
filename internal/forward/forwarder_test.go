package forward

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gopkg.in/dnaeon/go-vcr.v2/recorder"

	"github.com/NikZak/pact-proxy/internal/domain"
	"github.com/NikZak/pact-proxy/internal/pact"
	"github.com/NikZak/pact-proxy/internal/testutil"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newForwarder(opts ...Option) *Forwarder {
	opts = append([]Option{WithLogger(discardLogger()), WithHTTPClient(&http.Client{})}, opts...)
	return New(opts...)
}

func getRequest(url string) *pact.Request {
	return &pact.Request{Method: http.MethodGet, Path: url}
}

type recordingObserver struct {
	mu       sync.Mutex
	statuses []int
	errs     int
}

func (o *recordingObserver) ForwardAttempt(provider string, status int, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.statuses = append(o.statuses, status)
	if err != nil {
		o.errs++
	}
}

func TestForward_NormalizesJSONAndContentLength(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := "{ \"id\" : 7,\n  \"tags\": [ \"a\" ] }"
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Length", fmt.Sprint(len(body)))
		w.Header().Set("X-Upstream", "yes")
		io.WriteString(w, body)
	}))
	defer upstream.Close()

	res, err := newForwarder().Forward(context.Background(), getRequest(upstream.URL+"/widgets?id=7"))
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}

	resp := res.Response
	if resp.Status != http.StatusOK {
		t.Errorf("Status = %d", resp.Status)
	}
	if got := string(resp.Body.Content); got != `{"id":7,"tags":["a"]}` {
		t.Errorf("Body = %q", got)
	}
	if got := resp.Headers.Get("content-length"); got != "21" {
		t.Errorf("content-length = %q, want 21", got)
	}
	if resp.Headers.Get("x-upstream") != "yes" {
		t.Errorf("headers not lower-cased: %v", resp.Headers)
	}
	if _, ok := resp.Headers["Content-Type"]; ok {
		t.Error("mixed-case header key kept")
	}
	if res.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", res.Attempts)
	}
}

func TestForward_LeavesHeadersWithoutContentLength(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		io.WriteString(w, `{ "a": 1 }`)
		// Flushing before the handler returns forces a chunked response.
		w.(http.Flusher).Flush()
	}))
	defer upstream.Close()

	res, err := newForwarder().Forward(context.Background(), getRequest(upstream.URL+"/"))
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	if _, ok := res.Response.Headers["content-length"]; ok {
		t.Errorf("content-length added: %v", res.Response.Headers)
	}
	if string(res.Response.Body.Content) != `{"a":1}` {
		t.Errorf("Body = %q", res.Response.Body.Content)
	}
}

func TestForward_NonJSONBodyUntouched(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		io.WriteString(w, "  spaced  out  ")
	}))
	defer upstream.Close()

	res, err := newForwarder().Forward(context.Background(), getRequest(upstream.URL+"/text"))
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	if string(res.Response.Body.Content) != "  spaced  out  " {
		t.Errorf("Body = %q", res.Response.Body.Content)
	}
	if res.Response.Body.ContentType != "text/plain" {
		t.Errorf("ContentType = %q", res.Response.Body.ContentType)
	}
}

func TestForward_InvalidJSONFails(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, "{not json")
	}))
	defer upstream.Close()

	_, err := newForwarder().Forward(context.Background(), getRequest(upstream.URL+"/bad"))
	if !errors.Is(err, domain.ErrSerialization) {
		t.Errorf("Forward() error = %v, want SerializationError", err)
	}
}

func TestForward_RetryBound(t *testing.T) {
	var calls atomic.Int32
	var mu sync.Mutex
	var times []time.Time
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		mu.Lock()
		times = append(times, time.Now())
		mu.Unlock()
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer upstream.Close()

	backoff := 30 * time.Millisecond
	obs := &recordingObserver{}
	f := newForwarder(WithRetry(5, backoff), WithObserver(obs))

	_, err := f.Forward(context.Background(), getRequest(upstream.URL+"/down"))
	if !errors.Is(err, domain.ErrForwardingExhausted) {
		t.Fatalf("Forward() error = %v, want ForwardingExhausted", err)
	}
	if got := calls.Load(); got != 5 {
		t.Errorf("upstream calls = %d, want 5", got)
	}
	for i := 1; i < len(times); i++ {
		if gap := times[i].Sub(times[i-1]); gap < backoff {
			t.Errorf("gap between attempt %d and %d = %v, want >= %v", i, i+1, gap, backoff)
		}
	}
	if len(obs.statuses) != 5 || obs.statuses[0] != http.StatusServiceUnavailable {
		t.Errorf("observer saw %v", obs.statuses)
	}
}

func TestForward_DefaultRetryPolicy(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the full default backoff")
	}

	var calls atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer upstream.Close()

	start := time.Now()
	_, err := newForwarder().Forward(context.Background(), getRequest(upstream.URL+"/"))
	elapsed := time.Since(start)

	if !errors.Is(err, domain.ErrForwardingExhausted) {
		t.Fatalf("Forward() error = %v, want ForwardingExhausted", err)
	}
	if got := calls.Load(); got != DefaultAttempts {
		t.Errorf("upstream calls = %d, want %d", got, DefaultAttempts)
	}
	if min := time.Duration(DefaultAttempts-1) * DefaultBackoff; elapsed < min {
		t.Errorf("elapsed = %v, want >= %v", elapsed, min)
	}
}

func TestForward_SucceedsAfterFailures(t *testing.T) {
	var calls atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"ok":true}`)
	}))
	defer upstream.Close()

	res, err := newForwarder(WithRetry(5, time.Millisecond)).Forward(context.Background(), getRequest(upstream.URL+"/flaky"))
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	if res.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", res.Attempts)
	}
}

func TestForward_SendErrorsAreRetried(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	url := upstream.URL
	upstream.Close()

	obs := &recordingObserver{}
	_, err := newForwarder(WithRetry(3, 0), WithObserver(obs)).Forward(context.Background(), getRequest(url+"/gone"))
	if !errors.Is(err, domain.ErrForwardingExhausted) {
		t.Fatalf("Forward() error = %v, want ForwardingExhausted", err)
	}
	if obs.errs != 3 {
		t.Errorf("send errors observed = %d, want 3", obs.errs)
	}
}

func TestForward_ContextCancelStopsBackoff(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer upstream.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := newForwarder(WithRetry(5, time.Hour)).Forward(ctx, getRequest(upstream.URL+"/"))
	if !errors.Is(err, domain.ErrForwardingExhausted) {
		t.Fatalf("Forward() error = %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want to wrap context.DeadlineExceeded", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("backoff ignored context cancellation")
	}
}

func TestForward_CopiesHeaders(t *testing.T) {
	var got *http.Request
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		w.WriteHeader(http.StatusNoContent)
	}))
	defer upstream.Close()

	req := getRequest(upstream.URL + "/h")
	req.Headers = pact.MultiValues{
		"Host":            {"upstream.test"},
		"X-Multi":         {"one", "two"},
		"Accept-Encoding": {"br"},
	}

	res, err := newForwarder().Forward(context.Background(), req)
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	if res.Response.Body != nil {
		t.Errorf("204 body = %v, want absent", res.Response.Body)
	}
	if got.Host != "upstream.test" {
		t.Errorf("Host = %q, want upstream.test", got.Host)
	}
	if v := got.Header.Values("X-Multi"); len(v) != 2 || v[1] != "two" {
		t.Errorf("X-Multi = %v", v)
	}
	if ae := got.Header.Get("Accept-Encoding"); ae == "br" {
		t.Error("client Accept-Encoding forwarded")
	}
}

func TestForward_ThroughRecordedTransport(t *testing.T) {
	var calls atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{ "recorded": true }`)
	}))
	defer upstream.Close()

	cassette := filepath.Join(t.TempDir(), "forward")
	target := upstream.URL + "/vcr?n=1"

	rec, stop := testutil.NewVCRRecorder(t, cassette, recorder.ModeRecording)
	f := newForwarder(WithHTTPClient(testutil.VCRHTTPClient(rec)))
	first, err := f.Forward(context.Background(), getRequest(target))
	if err != nil {
		t.Fatalf("recording Forward() error = %v", err)
	}
	stop()

	rep, stopReplay := testutil.NewVCRRecorder(t, cassette, recorder.ModeReplaying)
	defer stopReplay()
	f = newForwarder(WithHTTPClient(testutil.VCRHTTPClient(rep)))
	second, err := f.Forward(context.Background(), getRequest(target))
	if err != nil {
		t.Fatalf("replaying Forward() error = %v", err)
	}

	if calls.Load() != 1 {
		t.Errorf("upstream calls = %d, want 1", calls.Load())
	}
	if string(first.Response.Body.Content) != string(second.Response.Body.Content) {
		t.Errorf("replayed body %q != recorded %q", second.Response.Body.Content, first.Response.Body.Content)
	}
	if string(second.Response.Body.Content) != `{"recorded":true}` {
		t.Errorf("Body = %q", second.Response.Body.Content)
	}
}

func TestNormalize_NoBody(t *testing.T) {
	resp := &pact.Response{Status: 200, Headers: pact.MultiValues{"content-type": {"application/json"}}}
	if err := Normalize(resp); err != nil {
		t.Errorf("Normalize() error = %v", err)
	}
}

func TestLowerHeaders(t *testing.T) {
	h := http.Header{"Content-Type": {"a"}, "X-Foo": {"1", "2"}}
	got := LowerHeaders(h)
	if got.Get("content-type") != "a" || len(got["x-foo"]) != 2 {
		t.Errorf("LowerHeaders() = %v", got)
	}
	if LowerHeaders(nil) != nil {
		t.Error("LowerHeaders(nil) should be nil")
	}
}
