package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"supportdesk/internal/metrics"
)

func fastRetries(t *testing.T) {
	t.Helper()
	prev := retryBaseDelay
	retryBaseDelay = time.Millisecond
	t.Cleanup(func() { retryBaseDelay = prev })
}

func TestDoWithRetry_RecoversFromServerError(t *testing.T) {
	fastRetries(t)
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	resp, err := doWithRetry(context.Background(), srv.Client(), "test", func() (*http.Request, error) {
		return http.NewRequest("GET", srv.URL, nil)
	}, testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDoWithRetry_GivesUpAfterMaxRetries(t *testing.T) {
	fastRetries(t)
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := doWithRetry(context.Background(), srv.Client(), "test", func() (*http.Request, error) {
		return http.NewRequest("GET", srv.URL, nil)
	}, testLogger())
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != maxRetries+1 {
		t.Fatalf("expected %d calls, got %d", maxRetries+1, calls)
	}
}

func TestDoWithRetry_CancelledDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := doWithRetry(ctx, srv.Client(), "test", func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, "GET", srv.URL, nil)
	}, testLogger())
	if err == nil {
		t.Fatal("expected context error")
	}
}

func TestDoWithRetry_ClientErrorIsStatusError(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, `{"error":"invalid x-api-key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := doWithRetry(context.Background(), srv.Client(), "claude", func() (*http.Request, error) {
		return http.NewRequest("POST", srv.URL, nil)
	}, testLogger())
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StatusError, got %v", err)
	}
	if se.Provider != "claude" || se.StatusCode != http.StatusUnauthorized || se.Temporary() {
		t.Fatalf("unexpected status error %+v", se)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDoWithRetry_LongRetryAfterFailsFast(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Retry-After", "600")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	start := time.Now()
	_, err := doWithRetry(context.Background(), srv.Client(), "openai", func() (*http.Request, error) {
		return http.NewRequest("POST", srv.URL, nil)
	}, testLogger())
	var se *StatusError
	if !errors.As(err, &se) || se.RetryAfter != 10*time.Minute {
		t.Fatalf("expected rate-limit error carrying Retry-After, got %v", err)
	}
	if calls != 1 || time.Since(start) > 5*time.Second {
		t.Fatalf("expected a single fast attempt, got %d calls in %s", calls, time.Since(start))
	}
}

func TestDoWithRetry_CountsRetries(t *testing.T) {
	fastRetries(t)
	counter := metrics.Collector.Counter("supportdesk_provider_retries_total", "", `provider="counted"`)
	before := counter.Value()
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(529) // overloaded
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	resp, err := doWithRetry(context.Background(), srv.Client(), "counted", func() (*http.Request, error) {
		return http.NewRequest("POST", srv.URL, nil)
	}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got := counter.Value() - before; got != 1 {
		t.Fatalf("expected 1 counted retry, got %d", got)
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	cases := map[string]time.Duration{
		"":                              0,
		"5":                             5 * time.Second,
		"-3":                            0,
		"soon":                          0,
		"Sat, 01 Mar 2025 12:00:20 GMT": 20 * time.Second,
		"Sat, 01 Mar 2025 11:00:00 GMT": 0,
	}
	for in, want := range cases {
		if got := parseRetryAfter(in, now); got != want {
			t.Errorf("parseRetryAfter(%q) = %s, want %s", in, got, want)
		}
	}
}
