package transfer

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/adamwoolhether/xfer/engine"
)

// Transfer is one configured request/response exchange and its captured
// result. It exclusively owns its engine handle; call Close to release it.
// A Transfer is not safe for concurrent use.
type Transfer struct {
	id     uuid.UUID
	handle engine.Handle
	logger *slog.Logger

	opts        engine.Options
	headerNames []string
	headers     map[string]string

	status      int
	response    []byte
	info        engine.Info
	respHeaders map[string]string
	body        []byte
	err         error

	multi *Multi
}

// New creates a Transfer for target, commits method and any initial options
// to a fresh engine handle and returns it ready to execute.
func New(target, method string, optFns ...Option) (*Transfer, error) {
	opts, err := buildOptions(optFns)
	if err != nil {
		return nil, err
	}

	t := &Transfer{
		id:     uuid.New(),
		handle: opts.engine.NewHandle(),
		logger: opts.logger,
	}
	t.logger = t.logger.With("transfer_id", t.id)

	t.Reset()
	if target != "" {
		t.SetURL(target)
	}
	t.SetOption(opts.request...)

	if err := t.PrepareOptions(method, opts.override); err != nil {
		_ = t.handle.Close()
		return nil, fmt.Errorf("preparing transfer: %w", err)
	}

	return t, nil
}

func buildOptions(optFns []Option) (options, error) {
	var opts options
	for _, opt := range optFns {
		if err := opt(&opts); err != nil {
			return options{}, fmt.Errorf("applying transfer option: %w", err)
		}
	}

	if opts.engine == nil {
		opts.engine = engine.Default()
	}
	if opts.logger == nil {
		opts.logger = slog.Default()
	}

	return opts, nil
}

// Get performs a GET against target and returns the body under the
// success policy of [Transfer.CompleteRequest].
func Get(ctx context.Context, target string, optFns ...Option) ([]byte, error) {
	t, err := New(target, http.MethodGet, optFns...)
	if err != nil {
		return nil, err
	}
	defer t.Close()

	return t.Request(ctx, "", nil)
}

// Post sends data form-encoded to target.
func Post(ctx context.Context, target string, data url.Values, optFns ...Option) ([]byte, error) {
	optFns = append(slices.Clip(optFns), WithRequestOptions(WithForm(data)))

	t, err := New(target, http.MethodPost, optFns...)
	if err != nil {
		return nil, err
	}
	defer t.Close()

	return t.Request(ctx, http.MethodPost, nil)
}

// ID returns the identifier used in this transfer's log records.
func (t *Transfer) ID() uuid.UUID {
	return t.id
}

// Reset restores the default options, clears request headers and all
// response state, and resets the engine handle.
func (t *Transfer) Reset() *Transfer {
	t.handle.Reset()

	t.opts = engine.DefaultOptions()
	t.headerNames = nil
	t.headers = make(map[string]string)
	t.clearResponse()
	t.info = engine.Info{}
	t.status = 0
	t.err = nil

	return t
}

// SetURL sets the target URL.
func (t *Transfer) SetURL(u string) *Transfer {
	t.opts.URL = u
	return t
}

// URL returns the requested URL.
func (t *Transfer) URL() string {
	return t.opts.URL
}

// EffectiveURL returns the final URL when the transfer was redirected,
// otherwise the requested one.
func (t *Transfer) EffectiveURL() string {
	if t.Redirects() > 0 {
		return t.info.URL
	}
	return t.opts.URL
}

// SetMethod sets the request method. HEAD skips the response body.
func (t *Transfer) SetMethod(method string) *Transfer {
	t.opts.Method = method
	return t
}

// Method returns the request method, GET when none was set.
func (t *Transfer) Method() string {
	if t.opts.Method == "" {
		return http.MethodGet
	}
	return t.opts.Method
}

// SetOption applies opts to the pending options.
func (t *Transfer) SetOption(opts ...RequestOption) *Transfer {
	for _, fn := range opts {
		fn(&t.opts)
	}
	return t
}

// Options returns a copy of the pending options.
func (t *Transfer) Options() engine.Options {
	opts := t.opts
	opts.Headers = slices.Clone(opts.Headers)
	return opts
}

// AddHeader sets a request header. Names are case sensitive and the last
// value for a name wins.
func (t *Transfer) AddHeader(name, value string) *Transfer {
	if _, ok := t.headers[name]; !ok {
		t.headerNames = append(t.headerNames, name)
	}
	t.headers[name] = value
	return t
}

// SetHeaders replaces every request header. A nil map clears them. Headers
// are sent sorted by name.
func (t *Transfer) SetHeaders(headers map[string]string) *Transfer {
	t.headerNames = slices.Sorted(maps.Keys(headers))
	t.headers = maps.Clone(headers)
	if t.headers == nil {
		t.headers = make(map[string]string)
	}
	return t
}

// WithHeaders toggles capturing response headers ahead of the body.
func (t *Transfer) WithHeaders(include bool) *Transfer {
	t.opts.IncludeHeaders = include
	return t
}

// PrepareOptions merges the method, ov and the request headers into the
// pending options, validates them and commits them to the engine handle.
// An empty method keeps the current one. HEAD forces NoBody and header
// capture. Calling it again without new input commits the same options.
func (t *Transfer) PrepareOptions(method string, ov *Override) error {
	if method != "" {
		t.opts.Method = method
	}

	ov.apply(&t.opts)

	if t.Method() == http.MethodHead {
		t.opts.NoBody = true
		t.opts.IncludeHeaders = true
	}

	t.opts.Headers = serializeHeaders(t.headerNames, t.headers)

	if err := check(t.opts); err != nil {
		return err
	}

	if err := t.handle.SetOptions(t.opts); err != nil {
		return fmt.Errorf("committing options: %w", err)
	}

	return nil
}

// Execute performs the transfer with the committed options and captures
// the response. An engine failure is returned as a [*TransferError]; it is
// never retried.
func (t *Transfer) Execute(ctx context.Context) error {
	start := time.Now()

	err := t.handle.Perform(ctx)
	t.setResult(t.handle.Content(), t.handle.Info())

	if err != nil {
		terr := newTransferError(err)
		t.logger.Error("transfer failed", "url", t.opts.URL, "code", terr.Code, "error", err)
		return terr
	}

	t.logger.Debug("transfer executed",
		"url", t.opts.URL,
		"status", t.status,
		"elapsed", time.Since(start),
	)

	return nil
}

// CompleteRequest applies the success policy: the raw response is returned
// for statuses in [200,300) and for HEAD requests. Any other status yields
// an [*HTTPStatusError] carrying the status and raw response.
func (t *Transfer) CompleteRequest() ([]byte, error) {
	if (t.status >= 200 && t.status < 300) || t.Method() == http.MethodHead {
		return t.response, nil
	}

	return nil, &HTTPStatusError{
		StatusCode: t.status,
		Body:       string(t.response),
		Err:        ErrHTTPStatus,
	}
}

// Request prepares, executes and completes the transfer.
func (t *Transfer) Request(ctx context.Context, method string, ov *Override) ([]byte, error) {
	if err := t.PrepareOptions(method, ov); err != nil {
		return nil, err
	}
	if err := t.Execute(ctx); err != nil {
		return nil, err
	}
	return t.CompleteRequest()
}

// Response returns the raw captured buffer, including any header blocks.
func (t *Transfer) Response() []byte {
	return t.response
}

// Body returns the response body. With header capture on and a method
// other than HEAD, the header blocks are stripped and a gzip, deflate or br
// content coding is decoded; content-encoding is then dropped from the
// parsed headers.
func (t *Transfer) Body() ([]byte, error) {
	if !t.opts.IncludeHeaders || t.Method() == http.MethodHead {
		return t.response, nil
	}
	if t.body != nil {
		return t.body, nil
	}

	size := t.info.HeaderSize
	if size < 0 || size > len(t.response) {
		return nil, &InvalidStateError{
			Op:     "reading body",
			Reason: fmt.Sprintf("header size %d exceeds response length %d", size, len(t.response)),
		}
	}
	body := t.response[size:]

	encoding, err := t.ResponseHeader("Content-Encoding")
	if err != nil {
		return nil, err
	}

	decoded, ok, err := decodeBody(encoding, body)
	if err != nil {
		return nil, &TransferError{
			Code:    int(engine.CodeBadContentEncoding),
			Message: engine.CodeBadContentEncoding.String(),
			Err:     err,
		}
	}
	if ok {
		delete(t.respHeaders, "content-encoding")
	}

	t.body = decoded
	return decoded, nil
}

// ResponseHeaders returns the final hop's response headers keyed by
// lower-cased name. Header capture must be enabled.
func (t *Transfer) ResponseHeaders() (map[string]string, error) {
	if err := t.parseResponseHeaders(); err != nil {
		return nil, err
	}
	return maps.Clone(t.respHeaders), nil
}

// ResponseHeader returns the value of name, matched case-insensitively, or
// "" when absent.
func (t *Transfer) ResponseHeader(name string) (string, error) {
	if err := t.parseResponseHeaders(); err != nil {
		return "", err
	}
	return t.respHeaders[strings.ToLower(name)], nil
}

func (t *Transfer) parseResponseHeaders() error {
	if !t.opts.IncludeHeaders {
		return &InvalidStateError{Op: "reading response headers", Reason: "header capture is not enabled"}
	}
	if t.respHeaders != nil {
		return nil
	}

	headers, err := parseHeaders(t.response, t.info.HeaderSize, t.Redirects() > 0)
	if err != nil {
		return err
	}
	t.respHeaders = headers

	return nil
}

// StatusCode returns the status of the last response, 0 before any.
func (t *Transfer) StatusCode() int {
	return t.status
}

// Info returns the metadata reported for the last response.
func (t *Transfer) Info() engine.Info {
	return t.info
}

// Redirects returns how many redirects were followed.
func (t *Transfer) Redirects() int {
	return t.info.RedirectCount
}

// SetResponse replaces the captured buffer without touching the network.
func (t *Transfer) SetResponse(buf []byte) *Transfer {
	t.clearResponse()
	t.response = buf
	return t
}

// SetResponseInfo replaces the response metadata without touching the
// network. StatusCode is required.
func (t *Transfer) SetResponseInfo(info engine.Info) error {
	if err := check(info); err != nil {
		return err
	}

	t.info = info
	t.status = info.StatusCode
	t.respHeaders = nil
	t.body = nil

	return nil
}

// Err returns the engine error this transfer ended with during the last
// [Multi.Run], if any.
func (t *Transfer) Err() error {
	return t.err
}

// Handle returns the underlying engine handle.
func (t *Transfer) Handle() engine.Handle {
	return t.handle
}

// Close removes the transfer from its [Multi], if any, and releases the
// engine handle.
func (t *Transfer) Close() error {
	if t.multi != nil {
		t.multi.Remove(t)
	}

	if err := t.handle.Close(); err != nil {
		return fmt.Errorf("closing handle: %w", err)
	}

	return nil
}

func (t *Transfer) setResult(content []byte, info engine.Info) {
	t.clearResponse()
	t.response = content
	t.info = info
	t.status = info.StatusCode
}

func (t *Transfer) clearResponse() {
	t.response = nil
	t.respHeaders = nil
	t.body = nil
}

func newTransferError(err error) *TransferError {
	code := engine.Classify(err)
	return &TransferError{
		Code:    int(code),
		Message: code.String(),
		Err:     err,
	}
}
