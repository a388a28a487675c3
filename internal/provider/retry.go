package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"supportdesk/internal/metrics"
)

const (
	maxRetries = 3
	// maxRetryAfter caps a server-requested wait. Longer waits fail fast so
	// the failover chain can move on.
	maxRetryAfter = 30 * time.Second
	// maxErrorBody bounds how much of an error response is kept.
	maxErrorBody = 4 << 10
)

// retryBaseDelay scales the quadratic backoff between attempts.
var retryBaseDelay = time.Second

// StatusError is a non-2xx reply from a model endpoint.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
	RetryAfter time.Duration // from the Retry-After header, 0 when absent
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned HTTP %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Temporary reports whether the request may succeed if repeated:
// rate limits and server-side failures (including Anthropic's 529).
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

func newStatusError(provider string, resp *http.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
	return &StatusError{
		Provider:   provider,
		StatusCode: resp.StatusCode,
		Body:       string(body),
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
	}
}

// parseRetryAfter accepts both delay-seconds and HTTP-date forms.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}

// backoff is the wait before attempt (1-based retry count). A server hint
// wins over the jittered quadratic schedule.
func backoff(attempt int, last error) time.Duration {
	if se, ok := last.(*StatusError); ok && se.RetryAfter > 0 {
		return se.RetryAfter
	}
	base := time.Duration(attempt*attempt) * retryBaseDelay
	return base + time.Duration(rand.Int64N(int64(base/2+1)))
}

// doWithRetry sends the request built by buildReq to the named provider.
// Network errors, 429 and 5xx are retried; any other non-2xx reply is
// returned at once as a *StatusError. On success the caller owns the body.
func doWithRetry(ctx context.Context, client *http.Client, provider string, buildReq func() (*http.Request, error), logger *slog.Logger) (*http.Response, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			wait := backoff(attempt, lastErr)
			if wait > maxRetryAfter {
				return nil, fmt.Errorf("%s asked to wait %s: %w", provider, wait, lastErr)
			}
			metrics.ProviderRetry(provider)
			logger.Warn("retrying model request", "provider", provider, "attempt", attempt+1, "backoff", wait, "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		req, err := buildReq()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		se := newStatusError(provider, resp)
		if !se.Temporary() {
			return nil, se
		}
		lastErr = se
	}

	return nil, fmt.Errorf("%s: giving up after %d retries: %w", provider, maxRetries, lastErr)
}
