// Package throttle provides an [http.RoundTripper] that rate-limits
// outbound transfers using a token-bucket algorithm from
// [golang.org/x/time/rate].
//
// # Usage
//
// The HTTP engine installs it through engine.WithThrottle. It can also wrap
// any transport directly:
//
//	rt, err := throttle.New(
//		throttle.Config{RPS: 10, Burst: 5, PerHost: true},
//		func() *slog.Logger { return slog.Default() },
//		http.DefaultTransport,
//	)
//	httpClient := &http.Client{Transport: rt}
//
// When the rate limit is exceeded, requests block until a token becomes
// available or the request context ends.
package throttle
