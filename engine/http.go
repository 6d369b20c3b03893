package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/adamwoolhether/xfer/engine/download"
	"github.com/adamwoolhether/xfer/engine/throttle"
)

// maxDrainSize caps how much of an unused body is read before closing it,
// so keep-alive connections can be reused after a redirect hop.
const maxDrainSize = 64 << 10 // 64KB

type connectTimeoutKey struct{}

// HTTP is an [Engine] backed by [net/http]. Redirects are followed by the
// engine rather than the [http.Client] so every hop's header block can be
// captured.
type HTTP struct {
	client        *http.Client
	logger        *slog.Logger
	tracer        trace.Tracer
	propagator    propagation.TextMapPropagator
	maxConcurrent int
	stdout        io.Writer
}

var defaultHTTP = sync.OnceValue(func() *HTTP {
	e, err := NewHTTP()
	if err != nil {
		panic(fmt.Sprintf("engine: building default engine: %v", err))
	}
	return e
})

// Default returns a process-wide HTTP engine with default options.
func Default() *HTTP {
	return defaultHTTP()
}

// NewHTTP builds an HTTP engine with the provided options.
func NewHTTP(optFns ...Option) (*HTTP, error) {
	var opts options
	for _, opt := range optFns {
		if err := opt(&opts); err != nil {
			return nil, fmt.Errorf("applying engine option: %w", err)
		}
	}

	e := &HTTP{
		logger:        slog.Default(),
		tracer:        noop.NewTracerProvider().Tracer("no-op tracer"),
		propagator:    opts.propagator,
		maxConcurrent: opts.maxConcurrent,
		stdout:        os.Stdout,
	}

	if opts.logger != nil {
		e.logger = opts.logger
	}
	if opts.tracer != nil {
		e.tracer = opts.tracer
	}
	if opts.stdout != nil {
		e.stdout = opts.stdout
	}

	var transport http.RoundTripper
	if opts.rt != nil {
		transport = opts.rt
	} else {
		transport = newTransport()
	}
	if opts.throttle != nil {
		rt, err := throttle.New(*opts.throttle, func() *slog.Logger { return e.logger }, transport)
		if err != nil {
			return nil, fmt.Errorf("configuring throttle: %w", err)
		}
		transport = rt
	}

	e.client = &http.Client{
		Transport: transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return e, nil
}

// NewHandle returns a handle carrying [DefaultOptions].
func (e *HTTP) NewHandle() Handle {
	return &httpHandle{engine: e, opts: DefaultOptions()}
}

// NewMultiplexer returns a multiplexer for handles created by any HTTP engine.
func (e *HTTP) NewMultiplexer() Multiplexer {
	return newHTTPMulti(e.maxConcurrent, e.logger)
}

// newTransport clones the default transport with compression disabled, so
// bodies arrive exactly as sent, and a dialer honouring the per-transfer
// connect timeout carried in the request context.
func newTransport() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.DisableCompression = true

	dialer := &net.Dialer{KeepAlive: 30 * time.Second}
	t.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		if d, ok := ctx.Value(connectTimeoutKey{}).(time.Duration); ok && d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return dialer.DialContext(ctx, network, addr)
	}

	return t
}

// /////////////////////////////////////////////////////////////////

type httpHandle struct {
	engine  *HTTP
	opts    Options
	content []byte
	info    Info
	closed  bool
	owner   *httpMulti
}

// SetOptions commits a copy of opts for the next perform.
func (h *httpHandle) SetOptions(opts Options) error {
	if h.closed {
		return ErrClosed
	}

	opts.Headers = slices.Clone(opts.Headers)
	opts.OutputOptions = slices.Clone(opts.OutputOptions)
	h.opts = opts

	return nil
}

// Perform runs the transfer described by the committed options.
func (h *httpHandle) Perform(ctx context.Context) error {
	if h.closed {
		return ErrClosed
	}

	res, err := h.engine.perform(ctx, h.opts)
	h.content = res.content
	h.info = res.info

	return err
}

// Content returns the body captured by the last perform, if any.
func (h *httpHandle) Content() []byte { return h.content }

// Info returns the metadata of the last perform.
func (h *httpHandle) Info() Info { return h.info }

// Reset restores [DefaultOptions] and drops the last result.
func (h *httpHandle) Reset() {
	h.opts = DefaultOptions()
	h.content = nil
	h.info = Info{}
}

// Close detaches h from its multiplexer and releases its result.
func (h *httpHandle) Close() error {
	if h.closed {
		return nil
	}
	if h.owner != nil {
		if err := h.owner.Detach(h); err != nil {
			return fmt.Errorf("detaching closed handle: %w", err)
		}
	}

	h.closed = true
	h.content = nil

	return nil
}

// /////////////////////////////////////////////////////////////////

type result struct {
	content []byte
	info    Info
}

// perform executes one transfer described by opts, following redirects
// when asked to and delivering the body to the resolved output.
func (e *HTTP) perform(ctx context.Context, opts Options) (res result, err error) {
	start := time.Now()

	target, err := parseTarget(opts.URL)
	if err != nil {
		return res, err
	}
	method := resolveMethod(opts)

	ctx, span := e.tracer.Start(ctx, "engine.perform")
	defer span.End()
	span.SetAttributes(attribute.String("url", target.String()), attribute.String("method", method))

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	if opts.ConnectTimeout > 0 {
		ctx = context.WithValue(ctx, connectTimeoutKey{}, opts.ConnectTimeout)
	}

	var firstByte atomic.Int64
	ctx = httptrace.WithClientTrace(ctx, &httptrace.ClientTrace{
		GotFirstResponseByte: func() {
			firstByte.CompareAndSwap(0, int64(time.Since(start)))
		},
	})

	maxRedirects := opts.MaxRedirects
	if maxRedirects == 0 {
		maxRedirects = defaultMaxRedirects
	}

	defer func() {
		res.info.TotalTime = time.Since(start)
		res.info.StartTransferTime = time.Duration(firstByte.Load())
	}()

	var headers bytes.Buffer
	body := opts.Body
	for {
		req, err := e.newRequest(ctx, method, target, body, opts)
		if err != nil {
			return res, &Error{Code: CodeURLMalformat, Err: err}
		}

		resp, err := e.client.Do(req)
		if err != nil {
			err = newError(CodeOK, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "transfer failed")
			return res, err
		}

		writeHeaderBlock(&headers, resp)
		res.info.URL = target.String()
		res.info.StatusCode = resp.StatusCode
		res.info.HeaderSize = headers.Len()
		span.SetAttributes(attribute.Int("status_code", resp.StatusCode))

		next, redirect := redirectLocation(resp)
		if redirect && opts.FollowRedirects {
			e.discard(resp)

			if maxRedirects >= 0 && res.info.RedirectCount >= maxRedirects {
				err := &Error{Code: CodeTooManyRedirects, Err: fmt.Errorf("maximum (%d) redirects followed", maxRedirects)}
				span.RecordError(err)
				span.SetStatus(codes.Error, "too many redirects")
				return res, err
			}

			res.info.RedirectCount++
			target = next
			if switchToGet(resp.StatusCode, method) {
				method = http.MethodGet
				body = nil
			}
			continue
		}

		if redirect {
			res.info.RedirectURL = next.String()
		}
		res.info.ContentType = resp.Header.Get("Content-Type")
		res.info.ContentLength = resp.ContentLength

		skipBody := opts.NoBody || method == http.MethodHead
		if err := e.deliver(ctx, resp, skipBody, opts, headers.Bytes(), &res); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "delivering body")
			return res, err
		}

		return res, nil
	}
}

// deliver writes the header blocks (when captured) and the body to the
// output selected by opts, then closes the body.
func (e *HTTP) deliver(ctx context.Context, resp *http.Response, skipBody bool, opts Options, headerBlock []byte, res *result) error {
	defer func() {
		if err := resp.Body.Close(); err != nil {
			e.logger.Error("failed to close response body", "error", err)
		}
	}()

	src := &countingReader{r: resp.Body}
	if skipBody {
		src.r = http.NoBody
	}

	if opts.OutputPath != "" {
		if opts.IncludeHeaders {
			res.content = slices.Clone(headerBlock)
		}
		if skipBody {
			return nil
		}

		err := download.Handle(ctx, src, resp.ContentLength, opts.OutputPath, e.logger, opts.OutputOptions...)
		res.info.SizeDownload = src.n
		if err != nil {
			return copyError(src, err)
		}
		return nil
	}

	var (
		w   io.Writer
		buf *bytes.Buffer
	)
	switch {
	case opts.Output != nil:
		w = opts.Output
	case opts.ReturnTransfer:
		buf = &bytes.Buffer{}
		w = buf
	default:
		w = e.stdout
	}

	if opts.IncludeHeaders {
		if _, err := w.Write(headerBlock); err != nil {
			return &Error{Code: CodeWriteError, Err: err}
		}
	}

	_, err := io.Copy(w, src)
	res.info.SizeDownload = src.n
	if buf != nil {
		res.content = buf.Bytes()
	}
	if err != nil {
		return copyError(src, err)
	}

	return nil
}

// discard drains a bounded amount of an unused body and closes it.
func (e *HTTP) discard(resp *http.Response) {
	if _, err := io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainSize)); err != nil {
		e.logger.Error("failed to discard unused body", "error", err)
	}
	if err := resp.Body.Close(); err != nil {
		e.logger.Error("failed to close response body", "error", err)
	}
}

func (e *HTTP) newRequest(ctx context.Context, method string, target *url.URL, body []byte, opts Options) (*http.Request, error) {
	var payload io.Reader
	if body != nil {
		payload = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), payload)
	if err != nil {
		return nil, fmt.Errorf("instantiating request: %w", err)
	}

	for _, line := range opts.Headers {
		name, value, ok := strings.Cut(line, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			continue
		}
		value = strings.TrimSpace(value)

		switch {
		case value == "":
			req.Header.Del(name)
		case strings.EqualFold(name, "Host"):
			req.Host = value
		default:
			req.Header.Add(name, value)
		}
	}

	if opts.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", opts.UserAgent)
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	propagator := e.propagator
	if propagator == nil {
		propagator = otel.GetTextMapPropagator()
	}
	propagator.Inject(ctx, propagation.HeaderCarrier(req.Header))

	return req, nil
}

// parseTarget validates the transfer URL, defaulting to http when the
// scheme is omitted.
func parseTarget(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, &Error{Code: CodeURLMalformat, Err: errors.New("no URL set")}
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, &Error{Code: CodeURLMalformat, Err: err}
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return nil, &Error{Code: CodeUnsupportedProtocol, Err: fmt.Errorf("protocol %q not supported", u.Scheme)}
	}

	if u.Host == "" {
		return nil, &Error{Code: CodeURLMalformat, Err: fmt.Errorf("no host in %q", raw)}
	}

	return u, nil
}

func resolveMethod(opts Options) string {
	switch {
	case opts.Method != "":
		return opts.Method
	case opts.NoBody:
		return http.MethodHead
	case opts.Body != nil:
		return http.MethodPost
	default:
		return http.MethodGet
	}
}

// redirectLocation reports whether resp is a redirect and where it points.
func redirectLocation(resp *http.Response) (*url.URL, bool) {
	switch resp.StatusCode {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
	default:
		return nil, false
	}

	loc, err := resp.Location()
	if err != nil {
		return nil, false
	}

	return loc, true
}

// switchToGet reports whether a redirect turns the request into a GET.
func switchToGet(status int, method string) bool {
	switch status {
	case http.StatusSeeOther:
		return method != http.MethodHead
	case http.StatusMovedPermanently, http.StatusFound:
		return method == http.MethodPost
	default:
		return false
	}
}

func writeHeaderBlock(buf *bytes.Buffer, resp *http.Response) {
	fmt.Fprintf(buf, "%s %s\r\n", resp.Proto, resp.Status)
	_ = resp.Header.Write(buf)
	buf.WriteString("\r\n")
}

// countingReader counts bytes read and remembers the first read error so
// copy failures can be attributed to the network or to the output.
type countingReader struct {
	r   io.Reader
	n   int64
	err error
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	if err != nil && err != io.EOF && c.err == nil {
		c.err = err
	}
	return n, err
}

func copyError(src *countingReader, err error) error {
	if src.err != nil {
		return newError(CodeOK, src.err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return newError(CodeOK, err)
	}
	return &Error{Code: CodeWriteError, Err: err}
}
