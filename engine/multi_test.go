package engine_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/adamwoolhether/xfer/engine"
)

// drive polls m until every attached handle has finished and returns the
// completion messages.
func drive(t *testing.T, ctx context.Context, m engine.Multiplexer) []engine.Message {
	t.Helper()

	running, code := m.Perform(ctx)
	for running > 0 && code == engine.MultiOK {
		if m.Wait(ctx, time.Second) == -1 {
			time.Sleep(100 * time.Microsecond)
		}
		running, code = m.Perform(ctx)
	}
	if code != engine.MultiOK {
		t.Fatalf("expected MultiOK, got %d (%s)", code, code)
	}

	var msgs []engine.Message
	for {
		msg, ok := m.InfoRead()
		if !ok {
			return msgs
		}
		msgs = append(msgs, msg)
	}
}

func slowServer(t *testing.T, delay time.Duration) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	var inFlight, peak atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}

		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
		fmt.Fprint(w, r.URL.Path)
	}))
	t.Cleanup(ts.Close)

	return ts, &peak
}

func attachAll(t *testing.T, e *engine.HTTP, m engine.Multiplexer, urls ...string) []engine.Handle {
	t.Helper()

	handles := make([]engine.Handle, len(urls))
	for i, u := range urls {
		h := newHandle(t, e, func(o *engine.Options) { o.URL = u })
		if err := m.Attach(h); err != nil {
			t.Fatalf("attaching %s: %v", u, err)
		}
		handles[i] = h
	}
	return handles
}

func TestMulti_RunsConcurrently(t *testing.T) {
	const delay = 100 * time.Millisecond
	ts, peak := slowServer(t, delay)

	e := newEngine(t)
	m := e.NewMultiplexer()
	defer m.Close()

	handles := attachAll(t, e, m, ts.URL+"/a", ts.URL+"/b", ts.URL+"/c")

	start := time.Now()
	msgs := drive(t, t.Context(), m)
	elapsed := time.Since(start)

	if len(msgs) != len(handles) {
		t.Fatalf("expected %d messages, got %d", len(handles), len(msgs))
	}
	for _, msg := range msgs {
		if msg.Err != nil {
			t.Errorf("unexpected transfer error: %v", msg.Err)
		}
	}
	if elapsed >= 3*delay {
		t.Errorf("transfers appear to run serially: took %v", elapsed)
	}
	if peak.Load() < 2 {
		t.Errorf("expected overlapping transfers, peak concurrency %d", peak.Load())
	}

	for i, want := range []string{"/a", "/b", "/c"} {
		if got := string(m.Content(handles[i])); got != want {
			t.Errorf("handle %d: expected content %q, got %q", i, want, got)
		}
	}
}

func TestMulti_MaxConcurrent(t *testing.T) {
	ts, peak := slowServer(t, 20*time.Millisecond)

	e := newEngine(t, engine.WithMaxConcurrent(1))
	m := e.NewMultiplexer()
	defer m.Close()

	attachAll(t, e, m, ts.URL+"/1", ts.URL+"/2", ts.URL+"/3")

	msgs := drive(t, t.Context(), m)
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if got := peak.Load(); got != 1 {
		t.Errorf("expected at most 1 transfer in flight, saw %d", got)
	}
}

func TestMulti_QueuedTransferTimesOut(t *testing.T) {
	ts, _ := slowServer(t, 5*time.Second)

	e := newEngine(t, engine.WithMaxConcurrent(1))
	m := e.NewMultiplexer()
	defer m.Close()

	attachAll(t, e, m, ts.URL+"/first", ts.URL+"/queued")

	ctx, cancel := context.WithTimeout(t.Context(), 200*time.Millisecond)
	defer cancel()

	msgs := drive(t, ctx, m)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	for i, msg := range msgs {
		if got := engine.Classify(msg.Err); got != engine.CodeOperationTimedout {
			t.Errorf("message %d: expected code %d, got %d: %v", i, engine.CodeOperationTimedout, got, msg.Err)
		}
	}
}

func TestMulti_ReportsFailures(t *testing.T) {
	ts, _ := slowServer(t, 0)

	e := newEngine(t)
	m := e.NewMultiplexer()
	defer m.Close()

	handles := attachAll(t, e, m, ts.URL+"/ok", "ftp://example.test/nope")

	msgs := drive(t, t.Context(), m)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}

	for _, msg := range msgs {
		switch msg.Handle {
		case handles[0]:
			if msg.Err != nil {
				t.Errorf("expected success, got: %v", msg.Err)
			}
		case handles[1]:
			if got := engine.Classify(msg.Err); got != engine.CodeUnsupportedProtocol {
				t.Errorf("expected unsupported protocol, got %d: %v", got, msg.Err)
			}
		default:
			t.Errorf("message for unknown handle")
		}
	}
}

func TestMulti_Attach(t *testing.T) {
	e := newEngine(t)
	first, second := e.NewMultiplexer(), e.NewMultiplexer()
	defer first.Close()
	defer second.Close()

	h := e.NewHandle()
	defer h.Close()

	if err := first.Attach(h); err != nil {
		t.Fatalf("first attach: %v", err)
	}
	if err := second.Attach(h); !errors.Is(err, engine.ErrAlreadyAttached) {
		t.Errorf("expected ErrAlreadyAttached, got: %v", err)
	}
	if err := first.Attach(h); !errors.Is(err, engine.ErrAlreadyAttached) {
		t.Errorf("expected ErrAlreadyAttached on re-attach, got: %v", err)
	}

	if err := first.Detach(h); err != nil {
		t.Fatalf("detach: %v", err)
	}
	if err := first.Detach(h); !errors.Is(err, engine.ErrNotAttached) {
		t.Errorf("expected ErrNotAttached, got: %v", err)
	}
	if err := second.Attach(h); err != nil {
		t.Errorf("attach after detach: %v", err)
	}

	var foreign foreignHandle
	if err := first.Attach(foreign); !errors.Is(err, engine.ErrForeignHandle) {
		t.Errorf("expected ErrForeignHandle, got: %v", err)
	}
}

func TestMulti_DetachAbortsTransfer(t *testing.T) {
	ts, _ := slowServer(t, 5*time.Second)

	e := newEngine(t)
	m := e.NewMultiplexer()
	defer m.Close()

	handles := attachAll(t, e, m, ts.URL+"/slow")

	if running, code := m.Perform(t.Context()); running != 1 || code != engine.MultiOK {
		t.Fatalf("expected 1 running, got %d (%s)", running, code)
	}

	done := make(chan error, 1)
	go func() { done <- m.Detach(handles[0]) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("detach: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("detach did not abort the in-flight transfer")
	}

	if running, _ := m.Perform(t.Context()); running != 0 {
		t.Errorf("expected nothing running after detach, got %d", running)
	}
	if _, ok := m.InfoRead(); ok {
		t.Error("detached transfer should not report a completion")
	}
	if got := m.Wait(t.Context(), time.Millisecond); got != -1 {
		t.Errorf("expected Wait to report nothing to wait on, got %d", got)
	}
}

func TestMulti_Close(t *testing.T) {
	ts, _ := slowServer(t, 5*time.Second)

	e := newEngine(t)
	m := e.NewMultiplexer()
	handles := attachAll(t, e, m, ts.URL+"/slow")
	m.Perform(t.Context())

	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, code := m.Perform(t.Context()); code != engine.MultiBadHandle {
		t.Errorf("expected MultiBadHandle after close, got %s", code)
	}
	if err := m.Attach(handles[0]); !errors.Is(err, engine.ErrClosed) {
		t.Errorf("expected ErrClosed, got: %v", err)
	}

	other := e.NewMultiplexer()
	defer other.Close()
	if err := other.Attach(handles[0]); err != nil {
		t.Errorf("handle should be free after multiplexer close: %v", err)
	}
}

type foreignHandle struct{}

func (foreignHandle) SetOptions(engine.Options) error { return nil }
func (foreignHandle) Perform(context.Context) error { return nil }
func (foreignHandle) Content() []byte { return nil }
func (foreignHandle) Info() engine.Info { return engine.Info{} }
func (foreignHandle) Reset() {}
func (foreignHandle) Close() error { return nil }
