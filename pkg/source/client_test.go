// Copyright 2025 Certen Protocol
//
// Unit tests for the resilient HTTP client: retry behavior, permanent
// failure classification, and the circuit breaker.

package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testClient(srvURL string) *HTTPClient {
	return NewHTTPClient(HTTPClientConfig{
		Source:      "test",
		Timeout:     2 * time.Second,
		MaxAttempts: 3,
		BackoffBase: 10 * time.Millisecond,
	})
}

func TestTransientErrorIsRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "flaky", http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	var out struct {
		OK bool `json:"ok"`
	}
	err := testClient(srv.URL).GetJSON(context.Background(), srv.URL, nil, &out)
	if err != nil {
		t.Fatalf("Expected success after retry: %v", err)
	}
	if !out.OK {
		t.Error("Response not decoded")
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("Expected 2 calls, got %d", calls)
	}
}

func TestPermanentErrorIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	var out map[string]interface{}
	err := testClient(srv.URL).GetJSON(context.Background(), srv.URL, nil, &out)
	if err == nil {
		t.Fatal("Expected error for 404")
	}
	if IsTransient(err) {
		t.Error("404 must be classified permanent")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("Permanent failure must not retry, got %d calls", calls)
	}
}

func TestMalformedBodyIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"truncated`))
	}))
	defer srv.Close()

	var out map[string]interface{}
	err := testClient(srv.URL).GetJSON(context.Background(), srv.URL, nil, &out)
	if err == nil {
		t.Fatal("Expected error for malformed body")
	}
	if IsTransient(err) {
		t.Error("Malformed body must be classified permanent")
	}
}

func TestRateLimitedHonorsRetryAfter(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	start := time.Now()
	var out map[string]interface{}
	err := testClient(srv.URL).GetJSON(context.Background(), srv.URL, nil, &out)
	if err != nil {
		t.Fatalf("Expected success after 429: %v", err)
	}
	if time.Since(start) < time.Second {
		t.Error("Retry-After delay was not honored")
	}
}

func TestCircuitBreakerOpens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewHTTPClient(HTTPClientConfig{
		Source:          "test",
		Timeout:         time.Second,
		MaxAttempts:     2,
		BackoffBase:     time.Millisecond,
		BreakerFailures: 2,
		BreakerCooldown: time.Minute,
	})

	var out map[string]interface{}
	_ = client.GetJSON(context.Background(), srv.URL, nil, &out)

	err := client.GetJSON(context.Background(), srv.URL, nil, &out)
	if err == nil {
		t.Fatal("Expected failure while breaker is open")
	}
	var ue *UpstreamError
	if !asUpstream(err, &ue) {
		t.Fatalf("Expected UpstreamError, got %T", err)
	}
}
