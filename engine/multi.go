package engine

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"
)

type handleState int

const (
	statePending handleState = iota
	stateRunning
	stateDone
)

// entry tracks one attachment of a handle. A detached and re-attached handle
// gets a fresh entry so completions of the old attachment are ignored.
type entry struct {
	state  handleState
	cancel context.CancelFunc
	done   chan struct{}
}

type completion struct {
	h   *httpHandle
	ent *entry
	err error
}

// httpMulti runs every attached handle on its own goroutine, bounded by an
// optional semaphore. Completions are queued and surfaced through Perform,
// Wait and InfoRead so callers can drive it with a poll loop.
type httpMulti struct {
	logger *slog.Logger
	sem    chan struct{}
	wg     sync.WaitGroup
	notify chan struct{}

	mu       sync.Mutex
	order    []*httpHandle
	entries  map[*httpHandle]*entry
	finished []completion
	msgs     []Message
	closed   bool
}

func newHTTPMulti(maxConcurrent int, logger *slog.Logger) *httpMulti {
	m := &httpMulti{
		logger:  logger,
		notify:  make(chan struct{}, 1),
		entries: make(map[*httpHandle]*entry),
	}
	if maxConcurrent > 0 {
		m.sem = make(chan struct{}, maxConcurrent)
	}
	return m
}

// Attach queues h to start on the next Perform.
func (m *httpMulti) Attach(h Handle) error {
	hh, ok := h.(*httpHandle)
	if !ok {
		return ErrForeignHandle
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.closed, hh.closed:
		return ErrClosed
	case hh.owner != nil:
		return ErrAlreadyAttached
	}

	hh.owner = m
	m.order = append(m.order, hh)
	m.entries[hh] = &entry{state: statePending}

	return nil
}

// Detach removes h, aborting its transfer if one is in flight and waiting
// for it to stop.
func (m *httpMulti) Detach(h Handle) error {
	hh, ok := h.(*httpHandle)
	if !ok {
		return ErrForeignHandle
	}

	m.mu.Lock()
	ent, ok := m.entries[hh]
	if !ok {
		m.mu.Unlock()
		return ErrNotAttached
	}
	delete(m.entries, hh)
	m.order = slices.DeleteFunc(m.order, func(o *httpHandle) bool { return o == hh })
	hh.owner = nil
	cancel, done := ent.cancel, ent.done
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	return nil
}

// Perform starts pending transfers, collects finished ones and reports how
// many are still running.
func (m *httpMulti) Perform(ctx context.Context) (int, MultiCode) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, MultiBadHandle
	}

	for _, hh := range m.order {
		ent := m.entries[hh]
		if ent.state != statePending {
			continue
		}
		ent.state = stateRunning
		m.start(ctx, hh, ent)
	}

	for _, c := range m.finished {
		if m.entries[c.h] != c.ent {
			continue
		}
		c.ent.state = stateDone
		m.msgs = append(m.msgs, Message{Handle: c.h, Err: c.err})
	}
	m.finished = nil

	var running int
	for _, ent := range m.entries {
		if ent.state != stateDone {
			running++
		}
	}

	return running, MultiOK
}

// start launches the transfer of hh. Callers must hold m.mu.
func (m *httpMulti) start(ctx context.Context, hh *httpHandle, ent *entry) {
	ctx, cancel := context.WithCancel(ctx)
	ent.cancel = cancel
	ent.done = make(chan struct{})

	m.wg.Add(1)
	go func() {
		defer func() {
			cancel()
			close(ent.done)
			m.wg.Done()
		}()

		var err error
		if m.sem != nil {
			select {
			case m.sem <- struct{}{}:
				defer func() {
					<-m.sem
				}()
			case <-ctx.Done():
				err = newError(CodeOK, ctx.Err())
			}
		}

		if err == nil {
			err = hh.Perform(ctx)
		}
		if err != nil {
			m.logger.Debug("multi transfer failed", "url", hh.opts.URL, "error", err)
		}

		m.mu.Lock()
		if m.entries[hh] == ent {
			m.finished = append(m.finished, completion{h: hh, ent: ent, err: err})
		}
		m.mu.Unlock()

		select {
		case m.notify <- struct{}{}:
		default:
		}
	}()
}

// Wait blocks until a transfer finishes or timeout elapses. It returns -1
// when nothing is running.
func (m *httpMulti) Wait(ctx context.Context, timeout time.Duration) int {
	m.mu.Lock()
	if n := len(m.finished); n > 0 {
		m.mu.Unlock()
		return n
	}
	var running bool
	for _, ent := range m.entries {
		if ent.state == stateRunning {
			running = true
			break
		}
	}
	m.mu.Unlock()

	if !running {
		return -1
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-m.notify:
	case <-timer.C:
		return 0
	case <-ctx.Done():
		return 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.finished)
}

// InfoRead pops the next completion message.
func (m *httpMulti) InfoRead() (Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.msgs) == 0 {
		return Message{}, false
	}
	msg := m.msgs[0]
	m.msgs = m.msgs[1:]

	return msg, true
}

// Content returns the body captured for h.
func (m *httpMulti) Content(h Handle) []byte {
	return h.Content()
}

// Close aborts in-flight transfers, detaches every handle and waits for
// all goroutines to exit.
func (m *httpMulti) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true

	var pending []*entry
	for hh, ent := range m.entries {
		hh.owner = nil
		pending = append(pending, ent)
	}
	m.entries = make(map[*httpHandle]*entry)
	m.order = nil
	m.mu.Unlock()

	for _, ent := range pending {
		if ent.cancel != nil {
			ent.cancel()
		}
	}
	m.wg.Wait()

	return nil
}
