package engine

import (
	"context"
	"io"
	"time"

	"github.com/adamwoolhether/xfer/engine/download"
)

// DefaultConnectTimeout is applied to new and reset transfers.
const DefaultConnectTimeout = 10 * time.Second

// defaultMaxRedirects bounds redirect following when Options.MaxRedirects is 0.
const defaultMaxRedirects = 30

// Engine creates transfer handles and multiplexers.
type Engine interface {
	NewHandle() Handle
	NewMultiplexer() Multiplexer
}

// Handle is a single transfer owned by one caller. Options are committed with
// SetOptions and take effect on the next Perform.
type Handle interface {
	SetOptions(opts Options) error
	Perform(ctx context.Context) error
	Content() []byte
	Info() Info
	Reset()
	Close() error
}

// Multiplexer drives several attached handles concurrently. A handle can be
// attached to at most one multiplexer at a time.
//
// Perform advances every attached handle one step without blocking and
// reports how many are still running. Wait blocks until at least one handle
// has new activity or the timeout elapses; it returns -1 when there is
// nothing to wait on. InfoRead pops completion messages one at a time.
type Multiplexer interface {
	Attach(h Handle) error
	Detach(h Handle) error
	Perform(ctx context.Context) (running int, code MultiCode)
	Wait(ctx context.Context, timeout time.Duration) int
	InfoRead() (Message, bool)
	Content(h Handle) []byte
	Close() error
}

// Message reports a completed handle and the error its transfer ended with.
type Message struct {
	Handle Handle
	Err    error
}

// Options is the effective configuration of a transfer.
//
// Output selection is resolved in a fixed order so that returning the body
// as a value never shadows a file destination: OutputPath, then Output, then
// the returned buffer when ReturnTransfer is set, otherwise the engine's
// stdout.
type Options struct {
	URL             string
	Method          string
	ConnectTimeout  time.Duration `validate:"min=0"`
	Timeout         time.Duration `validate:"min=0"`
	IncludeHeaders  bool
	NoBody          bool
	Headers         []string
	Body            []byte
	FollowRedirects bool
	MaxRedirects    int `validate:"min=-1"`
	UserAgent       string
	ReturnTransfer  bool
	Output          io.Writer `validate:"-"`
	OutputPath      string
	OutputOptions   []download.Option `validate:"-"`
}

// DefaultOptions returns the options a fresh transfer starts with.
func DefaultOptions() Options {
	return Options{
		ConnectTimeout: DefaultConnectTimeout,
		ReturnTransfer: true,
	}
}

// Info is the post-transfer metadata reported by a handle.
type Info struct {
	URL               string        `json:"url"`
	StatusCode        int           `json:"http_code" validate:"required"`
	HeaderSize        int           `json:"header_size" validate:"min=0"`
	RedirectCount     int           `json:"redirect_count" validate:"min=0"`
	RedirectURL       string        `json:"redirect_url"`
	ContentType       string        `json:"content_type"`
	ContentLength     int64         `json:"download_content_length"`
	SizeDownload      int64         `json:"size_download"`
	TotalTime         time.Duration `json:"total_time"`
	StartTransferTime time.Duration `json:"starttransfer_time"`
}
