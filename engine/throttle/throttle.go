package throttle

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var (
	ErrMustNotBeZero = errors.New("must be greater than zero")
	ErrWaitingFailed = errors.New("limiter waiting failed")
	ErrContextEnded  = errors.New("throttle context ended")
)

// Config defines the throttler's requests per second and burst capacity.
// With PerHost set every target host gets its own bucket.
type Config struct {
	RPS     int
	Burst   int
	PerHost bool
}

// throttle is an http.RoundTripper, using the time/rate token
// bucket limiter to restrict outbound calls.
type throttle struct {
	cfg   Config
	next  http.RoundTripper
	logFn func() *slog.Logger

	mu      sync.Mutex
	shared  *rate.Limiter
	perHost map[string]*rate.Limiter
}

// New returns a throttling http.RoundTripper for cfg.
func New(cfg Config, logFn func() *slog.Logger, next http.RoundTripper) (http.RoundTripper, error) {
	if cfg.RPS <= 0 || cfg.Burst <= 0 {
		return nil, fmt.Errorf("rps[%d] and burst[%d] %w", cfg.RPS, cfg.Burst, ErrMustNotBeZero)
	}
	if next == nil {
		next = http.DefaultTransport
	}
	if logFn == nil {
		logFn = func() *slog.Logger { return nil }
	}

	t := &throttle{
		cfg:   cfg,
		next:  next,
		logFn: logFn,
	}
	if cfg.PerHost {
		t.perHost = make(map[string]*rate.Limiter)
	} else {
		t.shared = rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst)
	}

	return t, nil
}

func (t *throttle) limiter(host string) *rate.Limiter {
	if t.shared != nil {
		return t.shared
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.perHost[host]
	if !ok {
		l = rate.NewLimiter(rate.Limit(t.cfg.RPS), t.cfg.Burst)
		t.perHost[host] = l
	}

	return l
}

func (t *throttle) RoundTrip(r *http.Request) (*http.Response, error) {
	ctx := r.Context()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w early: %w", ErrContextEnded, err)
	}

	limiter := t.limiter(r.URL.Host)

	var waited time.Duration
	logger := t.logFn()
	if logger != nil && !limiter.Allow() {
		logger.Info("throttle tokens exhausted", "rate", t.cfg.RPS, "burst", t.cfg.Burst, "host", r.URL.Host)

		defer func() {
			logger.Info("throttle wait complete", "waited", waited.String(), "host", r.URL.Host)
		}()
	}

	start := time.Now()
	err := limiter.Wait(ctx)
	waited = time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWaitingFailed, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w post-wait: %w", ErrContextEnded, err)
	}

	return t.next.RoundTrip(r)
}
