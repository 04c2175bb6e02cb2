package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testClient() *Client {
	c := New(nil)
	c.backoff = time.Millisecond
	c.maxBackoff = 5 * time.Millisecond
	c.maxRetries = 5
	return c
}

func TestGet_SucceedsAfterRetryableStatuses(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := testClient()
	resp, err := c.Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestGet_NonRetryableStatusFailsImmediately(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := testClient()
	_, err := c.Get(context.Background(), srv.URL)
	if err == nil {
		t.Fatalf("expected an error for a 404 response")
	}
	if calls != 1 {
		t.Fatalf("expected exactly one attempt for a non-retryable status, got %d", calls)
	}
}

func TestGet_ExhaustsRetriesAndReturnsError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := testClient()
	_, err := c.Get(context.Background(), srv.URL)
	if err == nil {
		t.Fatalf("expected an error once retries are exhausted")
	}
	if calls != int32(c.maxRetries) {
		t.Fatalf("expected %d attempts, got %d", c.maxRetries, calls)
	}
}

func TestGet_ContextCancellationStopsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := testClient()
	c.backoff = 50 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := c.Get(ctx, srv.URL)
	if err == nil {
		t.Fatalf("expected an error when context is cancelled mid-retry")
	}
}
