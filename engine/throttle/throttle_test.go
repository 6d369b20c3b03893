package throttle

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestNew_Validation(t *testing.T) {
	testCases := []struct {
		name   string
		cfg    Config
		expErr error
	}{
		{
			name:   "Invalid RPS (zero)",
			cfg:    Config{RPS: 0, Burst: 10},
			expErr: ErrMustNotBeZero,
		},
		{
			name:   "Invalid RPS (negative)",
			cfg:    Config{RPS: -5, Burst: 10},
			expErr: ErrMustNotBeZero,
		},
		{
			name:   "Invalid Burst (zero)",
			cfg:    Config{RPS: 10, Burst: 0},
			expErr: ErrMustNotBeZero,
		},
		{
			name: "Valid shared",
			cfg:  Config{RPS: 10, Burst: 20},
		},
		{
			name: "Valid per host",
			cfg:  Config{RPS: 10, Burst: 20, PerHost: true},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rt, err := New(tc.cfg, nil, http.DefaultTransport)

			if tc.expErr != nil {
				if !errors.Is(err, tc.expErr) {
					t.Errorf("exp err %v; got: %v", tc.expErr, err)
				}
				return
			}

			if err != nil {
				t.Errorf("exp nil err, got: %v", err)
			}
			if rt == nil {
				t.Error("exp non-nil RoundTripper")
			}
		})
	}
}

func TestRoundTrip_WaitsPastBurst(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	rt, err := New(Config{RPS: 10, Burst: 2}, func() *slog.Logger { return slog.Default() }, http.DefaultTransport)
	if err != nil {
		t.Fatal(err)
	}
	client := &http.Client{Transport: rt}

	start := time.Now()
	for i := range 4 {
		req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, server.URL, nil)
		if err != nil {
			t.Fatal(err)
		}
		resp, err := client.Do(req)
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		resp.Body.Close()
	}

	// Two requests ride the burst, the other two wait ~100ms each.
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Errorf("expected throttling to slow requests down, took %v", elapsed)
	}
	if got := calls.Load(); got != 4 {
		t.Errorf("expected 4 server calls, got %d", got)
	}
}

func TestRoundTrip_DeadlineWhileWaiting(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	rt, err := New(Config{RPS: 1, Burst: 1}, nil, http.DefaultTransport)
	if err != nil {
		t.Fatal(err)
	}
	client := &http.Client{Transport: rt}

	req, _ := http.NewRequestWithContext(t.Context(), http.MethodGet, server.URL, nil)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("first request: %v", err)
	}
	resp.Body.Close()

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()

	req, _ = http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	_, err = client.Do(req)
	if !errors.Is(err, ErrWaitingFailed) {
		t.Errorf("expected ErrWaitingFailed, got: %v", err)
	}
}

func TestRoundTrip_PreCancelled(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	rt, err := New(Config{RPS: 20, Burst: 10}, nil, http.DefaultTransport)
	if err != nil {
		t.Fatal(err)
	}
	client := &http.Client{Transport: rt}

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	_, err = client.Do(req)
	if !errors.Is(err, ErrContextEnded) {
		t.Errorf("expected ErrContextEnded, got: %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got: %v", err)
	}
	if got := calls.Load(); got != 0 {
		t.Errorf("expected no server calls, got %d", got)
	}
}

func TestRoundTrip_PerHostBuckets(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	serverA := httptest.NewServer(handler)
	defer serverA.Close()
	serverB := httptest.NewServer(handler)
	defer serverB.Close()

	rt, err := New(Config{RPS: 1, Burst: 1, PerHost: true}, nil, http.DefaultTransport)
	if err != nil {
		t.Fatal(err)
	}
	client := &http.Client{Transport: rt}

	start := time.Now()
	for _, u := range []string{serverA.URL, serverB.URL} {
		req, _ := http.NewRequestWithContext(t.Context(), http.MethodGet, u, nil)
		resp, err := client.Do(req)
		if err != nil {
			t.Fatalf("request to %s: %v", u, err)
		}
		resp.Body.Close()
	}

	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("hosts should not share a bucket, took %v", elapsed)
	}
}
