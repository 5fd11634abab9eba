// Package httputil provides the HTTP client used to talk to GitHub and to
// download release assets.
//
// # Overview
//
//   - [Fetcher]: GET/POST with retries, default headers and a body size cap
//   - [RetryPolicy]: decides which failures are retried and how long to wait
//   - [NewTransport]: an http.Transport with cached DNS lookups
//
// # Retry
//
// [Fetcher] retries transient failures according to its [RetryPolicy].
// [DefaultPolicy] retries:
//
//   - Network errors
//   - 408, 425 and 429 responses
//   - 500, 502, 503 and 504 responses
//
// waiting one second before the first retry and doubling after each one.
// Policies compose from [StatusPolicy] with an [ExponentialDelay] or
// [ConstantDelay] backoff, or from functions with [PolicyFunc]:
//
//	f := httputil.NewFetcher(
//	    httputil.WithRetryPolicy(httputil.StatusPolicy{
//	        Statuses: []int{429, 503},
//	        Backoff:  httputil.ConstantDelay(2 * time.Second),
//	    }),
//	    httputil.WithMaxAttempts(5),
//	)
//	resp, err := f.Get(ctx, url)
//
// When attempts are exhausted, or a status the policy does not retry comes
// back, the error carries FETCH_ERROR and the URL, the last status and the
// number of attempts made.
//
// # Circuit breaking
//
// [WithCircuitBreaker] adds a per-host breaker. After the configured number
// of consecutive failed requests to a host, further requests fail at once
// until the breaker's backoff allows a trial request.
//
// # Configuration
//
// Default settings:
//
//   - Attempts: 4 (one request plus three retries)
//   - Base backoff: 1 second
//   - Client timeout: 5 minutes
//   - Max body size: 1 GiB
package httputil
