// Package enginetest provides an in-memory [engine.Engine] for testing code
// that drives transfers, without any network access.
package enginetest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/adamwoolhether/xfer/engine"
)

// Responder produces the outcome of a single perform from the options the
// handle had committed at the time.
type Responder func(opts engine.Options) (content []byte, info engine.Info, err error)

// Reply responds with status and body. When the committed options ask for
// header capture, a status line and the given "Name: value" headers are
// prepended to the content and counted in HeaderSize. NoBody drops the body.
func Reply(status int, body string, headers ...string) Responder {
	return func(opts engine.Options) ([]byte, engine.Info, error) {
		info := engine.Info{URL: opts.URL, StatusCode: status}

		var sb strings.Builder
		if opts.IncludeHeaders {
			sb.WriteString(HeaderBlock(status, headers...))
			info.HeaderSize = sb.Len()
		}
		if !opts.NoBody {
			sb.WriteString(body)
			info.SizeDownload = int64(len(body))
		}

		return []byte(sb.String()), info, nil
	}
}

// Raw responds with exactly content and info, regardless of options.
func Raw(content []byte, info engine.Info) Responder {
	return func(engine.Options) ([]byte, engine.Info, error) {
		return slices.Clone(content), info, nil
	}
}

// Fail responds with an [*engine.Error] carrying code.
func Fail(code engine.Code) Responder {
	return func(opts engine.Options) ([]byte, engine.Info, error) {
		return nil, engine.Info{URL: opts.URL}, &engine.Error{Code: code, Err: errors.New("enginetest: simulated failure")}
	}
}

// HeaderBlock renders an HTTP/1.1 header block terminated by a blank line.
func HeaderBlock(status int, headers ...string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "HTTP/1.1 %d %s\r\n", status, http.StatusText(status))
	for _, h := range headers {
		sb.WriteString(h)
		sb.WriteString("\r\n")
	}
	sb.WriteString("\r\n")
	return sb.String()
}

// /////////////////////////////////////////////////////////////////

// Engine is an in-memory engine. Respond is consulted on every perform;
// Cycles, when set, reports how many multiplexer Perform calls a handle
// stays running before it completes (at least one). A non-zero MultiCode
// is returned by every multiplexer Perform instead of making progress.
type Engine struct {
	Respond   Responder
	Cycles    func(opts engine.Options) int
	MultiCode engine.MultiCode

	handles []*Handle
}

// New returns an Engine answering every transfer with r.
func New(r Responder) *Engine {
	return &Engine{Respond: r}
}

// NewHandle returns a recording [*Handle].
func (e *Engine) NewHandle() engine.Handle {
	h := &Handle{engine: e, opts: engine.DefaultOptions()}
	e.handles = append(e.handles, h)
	return h
}

// NewMultiplexer returns a [*Multi] bound to e.
func (e *Engine) NewMultiplexer() engine.Multiplexer {
	return &Multi{engine: e, state: make(map[*Handle]*progress)}
}

// Handles returns every handle created by e, in creation order.
func (e *Engine) Handles() []*Handle {
	return slices.Clone(e.handles)
}

// /////////////////////////////////////////////////////////////////

// Handle records what it is asked to do.
type Handle struct {
	engine   *Engine
	opts     engine.Options
	commits  int
	performs int
	content  []byte
	info     engine.Info
	closed   bool
	owner    *Multi
}

// SetOptions commits opts and counts the commit.
func (h *Handle) SetOptions(opts engine.Options) error {
	if h.closed {
		return engine.ErrClosed
	}
	opts.Headers = slices.Clone(opts.Headers)
	h.opts = opts
	h.commits++
	return nil
}

// Perform consults the engine's Responder and routes the content to the
// committed output.
func (h *Handle) Perform(ctx context.Context) error {
	if h.closed {
		return engine.ErrClosed
	}
	h.performs++

	if err := ctx.Err(); err != nil {
		h.content, h.info = nil, engine.Info{}
		return &engine.Error{Code: engine.Classify(err), Err: err}
	}

	respond := h.engine.Respond
	if respond == nil {
		respond = Reply(http.StatusOK, "")
	}
	content, info, err := respond(h.opts)
	h.info = info
	h.content = nil

	switch {
	case h.opts.Output != nil:
		if _, werr := h.opts.Output.Write(content); werr != nil && err == nil {
			err = &engine.Error{Code: engine.CodeWriteError, Err: werr}
		}
	case h.opts.ReturnTransfer:
		h.content = content
	}

	return err
}

func (h *Handle) Content() []byte { return h.content }

func (h *Handle) Info() engine.Info { return h.info }

func (h *Handle) Reset() {
	h.opts = engine.DefaultOptions()
	h.content = nil
	h.info = engine.Info{}
}

func (h *Handle) Close() error {
	if h.owner != nil {
		if err := h.owner.Detach(h); err != nil {
			return err
		}
	}
	h.closed = true
	return nil
}

// Options returns the most recently committed options.
func (h *Handle) Options() engine.Options { return h.opts }

// Commits reports how many times SetOptions succeeded.
func (h *Handle) Commits() int { return h.commits }

// Performs reports how many times Perform was called.
func (h *Handle) Performs() int { return h.performs }

// Closed reports whether Close was called.
func (h *Handle) Closed() bool { return h.closed }

// /////////////////////////////////////////////////////////////////

type progress struct {
	remaining int
	done      bool
}

// Multi completes attached handles in attachment order once their cycle
// budget is spent. It is not safe for concurrent use.
type Multi struct {
	engine   *Engine
	order    []*Handle
	state    map[*Handle]*progress
	msgs     []engine.Message
	performs int
	waits    int
	closed   bool
}

func (m *Multi) Attach(h engine.Handle) error {
	hh, ok := h.(*Handle)
	switch {
	case !ok:
		return engine.ErrForeignHandle
	case m.closed, hh.closed:
		return engine.ErrClosed
	case hh.owner != nil:
		return engine.ErrAlreadyAttached
	}

	cycles := 1
	if m.engine.Cycles != nil {
		cycles = max(m.engine.Cycles(hh.opts), 1)
	}

	hh.owner = m
	m.order = append(m.order, hh)
	m.state[hh] = &progress{remaining: cycles}

	return nil
}

func (m *Multi) Detach(h engine.Handle) error {
	hh, ok := h.(*Handle)
	if !ok {
		return engine.ErrForeignHandle
	}
	if _, ok := m.state[hh]; !ok {
		return engine.ErrNotAttached
	}

	delete(m.state, hh)
	m.order = slices.DeleteFunc(m.order, func(o *Handle) bool { return o == hh })
	hh.owner = nil

	return nil
}

// Perform spends one cycle of every unfinished handle and completes those
// whose budget ran out.
func (m *Multi) Perform(ctx context.Context) (int, engine.MultiCode) {
	if m.closed {
		return 0, engine.MultiBadHandle
	}
	if m.engine.MultiCode != engine.MultiOK {
		return 0, m.engine.MultiCode
	}
	m.performs++

	var running int
	for _, hh := range m.order {
		p := m.state[hh]
		if p.done {
			continue
		}

		p.remaining--
		if p.remaining > 0 {
			running++
			continue
		}

		p.done = true
		m.msgs = append(m.msgs, engine.Message{Handle: hh, Err: hh.Perform(ctx)})
	}

	return running, engine.MultiOK
}

// Wait never blocks. It returns 1 while any handle is unfinished, else -1.
func (m *Multi) Wait(context.Context, time.Duration) int {
	m.waits++
	for _, p := range m.state {
		if !p.done {
			return 1
		}
	}
	return -1
}

func (m *Multi) InfoRead() (engine.Message, bool) {
	if len(m.msgs) == 0 {
		return engine.Message{}, false
	}
	msg := m.msgs[0]
	m.msgs = m.msgs[1:]
	return msg, true
}

func (m *Multi) Content(h engine.Handle) []byte {
	return h.Content()
}

func (m *Multi) Close() error {
	for hh := range m.state {
		hh.owner = nil
	}
	m.state = make(map[*Handle]*progress)
	m.order = nil
	m.closed = true
	return nil
}

// Performs reports how many Perform calls made progress.
func (m *Multi) Performs() int { return m.performs }

// Waits reports how many times Wait was called.
func (m *Multi) Waits() int { return m.waits }

// Attached returns the currently attached handles in attachment order.
func (m *Multi) Attached() []*Handle { return slices.Clone(m.order) }
