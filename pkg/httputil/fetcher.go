package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/charmbracelet/log"

	vpmerrors "github.com/matzehuels/vpmlisting/pkg/errors"
	"github.com/matzehuels/vpmlisting/pkg/observability"
)

// DefaultMaxBodySize bounds how much of a response body is read.
const DefaultMaxBodySize int64 = 1 << 30

// DefaultUserAgent is sent when no User-Agent header is configured.
const DefaultUserAgent = "vpmlisting"

// ErrBodyTooLarge is returned when a response exceeds the configured size.
var ErrBodyTooLarge = errors.New("response body exceeds size limit")

// StatusError reports a response with a non-2xx status.
type StatusError struct {
	Status int
	Body   string // leading bytes of the body, for diagnostics
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.Status)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Status, e.Body)
}

// Response is a fully read HTTP response.
type Response struct {
	URL      string // final URL after redirects
	Status   int
	Header   http.Header
	Body     []byte
	Attempts int
}

// Fetcher performs HTTP requests with retries. It is safe for concurrent use.
type Fetcher struct {
	client      *http.Client
	policy      RetryPolicy
	maxAttempts int
	headers     http.Header
	maxBody     int64
	breakers    *breakerSet
	logger      *log.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) {
		if c != nil {
			f.client = c
		}
	}
}

// WithRetryPolicy replaces [DefaultPolicy].
func WithRetryPolicy(p RetryPolicy) Option {
	return func(f *Fetcher) {
		if p != nil {
			f.policy = p
		}
	}
}

// WithMaxAttempts sets the total number of attempts, including the first.
func WithMaxAttempts(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxAttempts = n
		}
	}
}

// WithHeader adds a header sent with every request.
func WithHeader(key, value string) Option {
	return func(f *Fetcher) {
		f.headers.Set(key, value)
	}
}

// WithMaxBodySize caps the bytes read from a response body.
func WithMaxBodySize(n int64) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxBody = n
		}
	}
}

// WithCircuitBreaker enables a per-host breaker that opens after threshold
// consecutive failed requests. A threshold below 1 disables it.
func WithCircuitBreaker(threshold int) Option {
	return func(f *Fetcher) {
		if threshold > 0 {
			f.breakers = newBreakerSet(threshold)
		} else {
			f.breakers = nil
		}
	}
}

// WithLogger sets the logger for retry diagnostics.
func WithLogger(l *log.Logger) Option {
	return func(f *Fetcher) {
		if l != nil {
			f.logger = l
		}
	}
}

// NewFetcher creates a Fetcher. Without options it uses a DNS-caching
// transport, [DefaultPolicy] and [DefaultMaxAttempts].
func NewFetcher(opts ...Option) *Fetcher {
	f := &Fetcher{
		client: &http.Client{
			Timeout:   5 * time.Minute,
			Transport: NewTransport(),
		},
		policy:      DefaultPolicy(),
		maxAttempts: DefaultMaxAttempts,
		headers:     http.Header{"User-Agent": {DefaultUserAgent}},
		maxBody:     DefaultMaxBodySize,
		logger:      log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// BreakerState reports "open" or "closed" for every host seen so far.
// It returns nil when no circuit breaker is configured.
func (f *Fetcher) BreakerState() map[string]string {
	if f.breakers == nil {
		return nil
	}
	return f.breakers.state()
}

// Get fetches rawURL, following redirects.
func (f *Fetcher) Get(ctx context.Context, rawURL string) (*Response, error) {
	return f.Do(ctx, http.MethodGet, rawURL, nil, nil)
}

// PostJSON sends body as JSON to rawURL and decodes the response into out.
// Headers in hdr are added to the request; a body that does not decode is
// reported as INVALID_INPUT.
func (f *Fetcher) PostJSON(ctx context.Context, rawURL string, body, out any, hdr http.Header) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return vpmerrors.Wrap(vpmerrors.ErrCodeInternal, err, "encode request for %s", rawURL)
	}
	h := http.Header{
		"Content-Type": {"application/json"},
		"Accept":       {"application/json"},
	}
	for k, vs := range hdr {
		h[http.CanonicalHeaderKey(k)] = vs
	}
	resp, err := f.Do(ctx, http.MethodPost, rawURL, payload, h)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return vpmerrors.Wrap(vpmerrors.ErrCodeInvalidInput, err, "decode %s", rawURL)
	}
	return nil
}

// Do sends a request, retrying per the configured policy. Failures are
// returned as FETCH_ERROR values wrapping an [vpmerrors.FetchError].
func (f *Fetcher) Do(ctx context.Context, method, rawURL string, body []byte, hdr http.Header) (*Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, vpmerrors.NewFetchError(rawURL, 0, 0, err)
	}

	if f.breakers == nil {
		return f.retry(ctx, method, u, body, hdr)
	}

	b := f.breakers.get(u.Host)
	if !b.Ready() {
		return nil, vpmerrors.NewFetchError(rawURL, 0, 0, fmt.Errorf("%w for %s", ErrCircuitOpen, u.Host))
	}
	var resp *Response
	err = b.Call(func() error {
		var callErr error
		resp, callErr = f.retry(ctx, method, u, body, hdr)
		return callErr
	}, 0)
	if err != nil {
		var fe *vpmerrors.Error
		if !errors.As(err, &fe) {
			err = vpmerrors.NewFetchError(rawURL, 0, 0, err)
		}
		return nil, err
	}
	return resp, nil
}

func (f *Fetcher) retry(ctx context.Context, method string, u *url.URL, body []byte, hdr http.Header) (*Response, error) {
	hooks := observability.HTTP()
	r := Retrier{
		Policy:      f.policy,
		MaxAttempts: f.maxAttempts,
		OnRetry: func(attempt int, delay time.Duration, err error, status int) {
			hooks.OnRetry(ctx, method, u.Host, u.Path, attempt, delay)
			f.logger.Debug("retrying request", "url", u.String(), "attempt", attempt, "status", status, "delay", delay, "err", err)
		},
	}

	var (
		resp   *Response
		status int
	)
	attempts, err := r.Do(ctx, func(int) (int, error) {
		var aerr error
		resp, aerr = f.attempt(ctx, method, u, body, hdr)
		status = 0
		if resp != nil {
			status = resp.Status
		}
		return status, aerr
	})
	if err != nil {
		return nil, vpmerrors.NewFetchError(u.String(), status, attempts, err)
	}
	resp.Attempts = attempts
	return resp, nil
}

// attempt performs one round trip. A non-nil Response is returned whenever
// a status line was received, even if err is set.
func (f *Fetcher) attempt(ctx context.Context, method string, u *url.URL, body []byte, hdr http.Header) (*Response, error) {
	hooks := observability.HTTP()
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	for k, vs := range f.headers {
		req.Header[k] = vs
	}
	for k, vs := range hdr {
		req.Header[k] = vs
	}

	start := time.Now()
	hooks.OnRequest(ctx, method, u.Host, u.Path)
	resp, err := f.client.Do(req)
	if err != nil {
		hooks.OnError(ctx, method, u.Host, u.Path, err)
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
	hooks.OnResponse(ctx, method, u.Host, u.Path, resp.StatusCode, time.Since(start))

	out := &Response{
		URL:    resp.Request.URL.String(),
		Status: resp.StatusCode,
		Header: resp.Header,
	}
	switch {
	case err != nil:
		return out, &RetryableError{Err: fmt.Errorf("reading body: %w", err)}
	case int64(len(data)) > f.maxBody:
		return out, fmt.Errorf("%w (%d bytes)", ErrBodyTooLarge, f.maxBody)
	}
	out.Body = data

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return out, &StatusError{Status: resp.StatusCode, Body: snippet(data)}
	}
	return out, nil
}

func snippet(b []byte) string {
	const n = 256
	if len(b) > n {
		b = b[:n]
	}
	return string(bytes.TrimSpace(b))
}
