// Package engine defines the boundary between transfers and the machinery
// that moves bytes, and provides an implementation built on [net/http].
//
// # Handles
//
// A [Handle] is one transfer. Options are committed with SetOptions and
// executed synchronously with Perform:
//
//	h := engine.Default().NewHandle()
//	opts := engine.DefaultOptions()
//	opts.URL = "https://example.com"
//	opts.IncludeHeaders = true
//	_ = h.SetOptions(opts)
//	err := h.Perform(ctx)
//	raw, info := h.Content(), h.Info()
//
// A failed Perform returns an [*Error] carrying a native result [Code].
//
// # Multiplexers
//
// A [Multiplexer] drives several handles at once. It is polled:
//
//	running, code := m.Perform(ctx)
//	for running > 0 && code == engine.MultiOK {
//		if m.Wait(ctx, time.Second) == -1 {
//			time.Sleep(100 * time.Microsecond)
//		}
//		running, code = m.Perform(ctx)
//	}
//
// Completed transfers are reported by InfoRead.
//
// # HTTP engine
//
// [NewHTTP] builds the default implementation. Rate limiting, tracing,
// concurrency limits and custom transports are configured with options:
//
//	e, err := engine.NewHTTP(
//		engine.WithThrottle(10, 5),
//		engine.WithMaxConcurrent(4),
//	)
package engine
