package engine

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/adamwoolhether/xfer/engine/throttle"
)

// Option is a functional option for configuring an [HTTP] engine via [NewHTTP].
type Option func(*options) error
type options struct {
	rt            http.RoundTripper
	throttle      *throttle.Config
	logger        *slog.Logger
	tracer        trace.Tracer
	propagator    propagation.TextMapPropagator
	maxConcurrent int
	stdout        io.Writer
}

// WithTransport sets a custom [http.RoundTripper] as the base transport.
// Per-transfer connect timeouts are only honoured by the default transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) error {
		if rt == nil {
			return errors.New("transport must not be nil")
		}
		o.rt = rt
		return nil
	}
}

// WithThrottle enables token-bucket rate limiting shared by every handle of
// the engine.
func WithThrottle(rps, burst int) Option {
	return func(o *options) error {
		if rps <= 0 || burst <= 0 {
			return fmt.Errorf("rps[%d] and burst[%d] %w", rps, burst, throttle.ErrMustNotBeZero)
		}
		o.throttle = &throttle.Config{RPS: rps, Burst: burst}
		return nil
	}
}

// WithHostThrottle is like [WithThrottle] but keeps a separate bucket per
// target host, so transfers to different hosts do not slow each other down.
func WithHostThrottle(rps, burst int) Option {
	return func(o *options) error {
		if rps <= 0 || burst <= 0 {
			return fmt.Errorf("rps[%d] and burst[%d] %w", rps, burst, throttle.ErrMustNotBeZero)
		}
		o.throttle = &throttle.Config{RPS: rps, Burst: burst, PerHost: true}
		return nil
	}
}

// WithLogger injects a custom [slog.Logger] into the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) error {
		o.logger = logger
		return nil
	}
}

// WithTracer sets the tracer used to span every perform.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) error {
		if tracer == nil {
			return errors.New("tracer must not be nil")
		}
		o.tracer = tracer
		return nil
	}
}

// WithPropagator sets the propagator that injects trace context into
// outgoing requests. Without it the global propagator from
// [otel.GetTextMapPropagator] is used, which injects nothing until one is
// registered.
func WithPropagator(p propagation.TextMapPropagator) Option {
	return func(o *options) error {
		if p == nil {
			return errors.New("propagator must not be nil")
		}
		o.propagator = p
		return nil
	}
}

// WithMaxConcurrent caps the number of transfers a multiplexer runs at once.
// If n <= 0, concurrency is unlimited.
func WithMaxConcurrent(n int) Option {
	return func(o *options) error {
		o.maxConcurrent = n
		return nil
	}
}

// WithStdout sets where bodies go when a transfer neither returns its body
// nor names an output. Defaults to [os.Stdout].
func WithStdout(w io.Writer) Option {
	return func(o *options) error {
		if w == nil {
			return errors.New("stdout writer must not be nil")
		}
		o.stdout = w
		return nil
	}
}
