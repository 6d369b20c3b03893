package transfer

import (
	"errors"
	"io"
	"log/slog"
	"net/url"
	"time"

	"github.com/adamwoolhether/xfer/engine"
	"github.com/adamwoolhether/xfer/engine/download"
)

// Option is a functional option for [New] and [NewMulti].
type Option func(*options) error
type options struct {
	engine   engine.Engine
	logger   *slog.Logger
	request  []RequestOption
	override *Override
}

// WithEngine sets the engine handles are created from.
// Defaults to [engine.Default].
func WithEngine(e engine.Engine) Option {
	return func(o *options) error {
		if e == nil {
			return errors.New("engine must not be nil")
		}
		o.engine = e
		return nil
	}
}

// WithLogger injects a custom [slog.Logger].
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) error {
		o.logger = logger
		return nil
	}
}

// WithRequestOptions applies opts to the new transfer before its options
// are first committed.
func WithRequestOptions(opts ...RequestOption) Option {
	return func(o *options) error {
		o.request = append(o.request, opts...)
		return nil
	}
}

// WithOverride merges ov into the options committed by [New].
func WithOverride(ov *Override) Option {
	return func(o *options) error {
		o.override = ov
		return nil
	}
}

// /////////////////////////////////////////////////////////////////

// RequestOption sets a single transfer option. Last write wins.
type RequestOption func(opts *engine.Options)

// WithTimeout bounds the whole transfer. Zero means no limit.
func WithTimeout(d time.Duration) RequestOption {
	return func(opts *engine.Options) {
		opts.Timeout = d
	}
}

// WithConnectTimeout bounds connection establishment.
func WithConnectTimeout(d time.Duration) RequestOption {
	return func(opts *engine.Options) {
		opts.ConnectTimeout = d
	}
}

// WithFollowRedirects follows up to maxRedirects redirects;
// 0 uses the engine default and -1 removes the limit.
func WithFollowRedirects(maxRedirects int) RequestOption {
	return func(opts *engine.Options) {
		opts.FollowRedirects = true
		opts.MaxRedirects = maxRedirects
	}
}

// WithUserAgent sets the User-Agent request header.
func WithUserAgent(ua string) RequestOption {
	return func(opts *engine.Options) {
		opts.UserAgent = ua
	}
}

// WithBody sets the raw request body.
func WithBody(body []byte) RequestOption {
	return func(opts *engine.Options) {
		opts.Body = body
	}
}

// WithForm sets a form-encoded request body.
func WithForm(data url.Values) RequestOption {
	return func(opts *engine.Options) {
		opts.Body = []byte(data.Encode())
	}
}

// WithNoBody skips the response body.
func WithNoBody() RequestOption {
	return func(opts *engine.Options) {
		opts.NoBody = true
	}
}

// WithReturnTransfer toggles returning the body as a value.
func WithReturnTransfer(ret bool) RequestOption {
	return func(opts *engine.Options) {
		opts.ReturnTransfer = ret
	}
}

// WithOutput streams the body (and captured headers) to w.
func WithOutput(w io.Writer) RequestOption {
	return func(opts *engine.Options) {
		opts.Output = w
	}
}

// WithOutputFile writes the body to path, replacing it atomically on success.
func WithOutputFile(path string, dlOpts ...download.Option) RequestOption {
	return func(opts *engine.Options) {
		opts.OutputPath = path
		opts.OutputOptions = dlOpts
	}
}

// /////////////////////////////////////////////////////////////////

// Override holds per-call option overrides merged by
// [Transfer.PrepareOptions]. Nil fields are left untouched.
//
// ReturnTransfer is always applied before the output destinations.
type Override struct {
	ReturnTransfer  *bool
	IncludeHeaders  *bool
	NoBody          *bool
	Timeout         *time.Duration
	ConnectTimeout  *time.Duration
	FollowRedirects *bool
	MaxRedirects    *int
	UserAgent       *string
	Body            []byte
	Output          io.Writer
	OutputPath      *string
	OutputOptions   []download.Option

	// Options are applied last.
	Options []RequestOption
}

func (ov *Override) apply(opts *engine.Options) {
	if ov == nil {
		return
	}

	if ov.ReturnTransfer != nil {
		opts.ReturnTransfer = *ov.ReturnTransfer
	}
	if ov.IncludeHeaders != nil {
		opts.IncludeHeaders = *ov.IncludeHeaders
	}
	if ov.NoBody != nil {
		opts.NoBody = *ov.NoBody
	}
	if ov.Timeout != nil {
		opts.Timeout = *ov.Timeout
	}
	if ov.ConnectTimeout != nil {
		opts.ConnectTimeout = *ov.ConnectTimeout
	}
	if ov.FollowRedirects != nil {
		opts.FollowRedirects = *ov.FollowRedirects
	}
	if ov.MaxRedirects != nil {
		opts.MaxRedirects = *ov.MaxRedirects
	}
	if ov.UserAgent != nil {
		opts.UserAgent = *ov.UserAgent
	}
	if ov.Body != nil {
		opts.Body = ov.Body
	}

	if ov.Output != nil {
		opts.Output = ov.Output
	}
	if ov.OutputPath != nil {
		opts.OutputPath = *ov.OutputPath
		opts.OutputOptions = ov.OutputOptions
	}

	for _, fn := range ov.Options {
		fn(opts)
	}
}
